package transformer

import (
	"fmt"
	"regexp"
	"strings"

	"listingload/internal/coerce"
	"listingload/internal/extract"
	"listingload/internal/schema"
)

// fieldPlan is a schema field with its paths, pattern and coercer resolved
// once so the per-record loop does no parsing or map lookups.
type fieldPlan struct {
	name     string
	runs     []pathRun
	derive   *derivePlan
	members  []memberPlan
	def      any
	required bool
	pattern  *regexp.Regexp
	coerce   func(any) any
}

// pathRun is a stretch of consecutive paths read from the same source.
type pathRun struct {
	source schema.Source
	paths  []extract.Path
}

type derivePlan struct {
	source   schema.Source
	path     extract.Path
	tokens   map[string]any
	keywords []schema.Keyword
}

type memberPlan struct {
	key    string
	derive derivePlan
}

// inputs are the three places a field can be read from.
type inputs struct {
	doc, row, meta map[string]any
}

func (in *inputs) pick(src schema.Source) any {
	switch src {
	case schema.SourceMeta:
		return in.meta
	case schema.SourceRow:
		return in.row
	default:
		return in.doc
	}
}

func compilePlan(s *schema.Schema) ([]fieldPlan, error) {
	plan := make([]fieldPlan, len(s.Fields))
	for i, f := range s.Fields {
		p := fieldPlan{
			name:     f.Name,
			def:      f.Default,
			required: f.Required,
		}
		for _, expr := range f.Paths {
			src, rest := schema.SplitPath(expr, f.Source)
			path, err := extract.ParsePath(rest)
			if err != nil {
				return nil, fmt.Errorf("transformer: field %s: %w", f.Name, err)
			}
			if n := len(p.runs); n > 0 && p.runs[n-1].source == src {
				p.runs[n-1].paths = append(p.runs[n-1].paths, path)
				continue
			}
			p.runs = append(p.runs, pathRun{source: src, paths: []extract.Path{path}})
		}
		if f.Derive != nil {
			d, err := compileDerive(*f.Derive, f.Source)
			if err != nil {
				return nil, fmt.Errorf("transformer: field %s: %w", f.Name, err)
			}
			p.derive = &d
		}
		for _, m := range f.Members {
			d, err := compileDerive(m.Derive, f.Source)
			if err != nil {
				return nil, fmt.Errorf("transformer: field %s: member %s: %w", f.Name, m.Key, err)
			}
			p.members = append(p.members, memberPlan{key: m.Key, derive: d})
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return nil, fmt.Errorf("transformer: field %s: %w", f.Name, err)
			}
			p.pattern = re
		}
		c, err := coercerFor(f)
		if err != nil {
			return nil, err
		}
		p.coerce = c
		plan[i] = p
	}
	return plan, nil
}

func compileDerive(d schema.Derive, def schema.Source) (derivePlan, error) {
	src, rest := schema.SplitPath(d.Path, def)
	path, err := extract.ParsePath(rest)
	if err != nil {
		return derivePlan{}, err
	}
	out := derivePlan{source: src, path: path, tokens: d.Tokens}
	for _, k := range d.Keywords {
		out.keywords = append(out.keywords, schema.Keyword{
			Contains: strings.ToLower(strings.TrimSpace(k.Contains)),
			Value:    k.Value,
		})
	}
	return out, nil
}

// eval extracts and coerces the field. A nil result comes with the reason
// it is null.
func (p *fieldPlan) eval(in *inputs) (any, string) {
	var raw any
	for _, r := range p.runs {
		if raw = extract.FirstOf(in.pick(r.source), r.paths, nil); raw != nil {
			break
		}
	}
	if raw != nil && p.pattern != nil {
		raw = p.applyPattern(raw)
	}
	if raw == nil && p.derive != nil {
		raw = p.derive.eval(in)
	}
	if raw == nil && len(p.members) > 0 {
		obj := make(map[string]any, len(p.members))
		for i := range p.members {
			obj[p.members[i].key] = p.members[i].derive.eval(in)
		}
		raw = obj
	}
	if raw == nil {
		raw = p.def
	}
	if raw == nil {
		return p.coerce(nil), "missing"
	}
	v := p.coerce(raw)
	if v == nil {
		return nil, fmt.Sprintf("cannot coerce %T", raw)
	}
	return v, ""
}

// eval maps the value at the derive path through tokens, then keywords.
func (d *derivePlan) eval(in *inputs) any {
	s, ok := coerce.String(extract.SafeGet(in.pick(d.source), d.path, nil))
	if !ok {
		return nil
	}
	if v, hit := d.tokens[strings.TrimSpace(s)]; hit {
		return v
	}
	if len(d.keywords) == 0 {
		return nil
	}
	text := strings.ToLower(coerce.PlainText(s))
	for _, k := range d.keywords {
		if strings.Contains(text, k.Contains) {
			return k.Value
		}
	}
	return nil
}

func (p *fieldPlan) applyPattern(v any) any {
	s, ok := coerce.String(v)
	if !ok {
		return nil
	}
	m := p.pattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	out := m[0]
	if len(m) > 1 {
		out = m[1]
	}
	if out == "" {
		return nil
	}
	return out
}

func coercerFor(f schema.Field) (func(any) any, error) {
	switch f.Type {
	case schema.TypeID:
		return func(v any) any {
			if s, ok := coerce.ID(v); ok {
				return s
			}
			return nil
		}, nil
	case schema.TypeString:
		strip := f.StripHTML
		return func(v any) any {
			s, ok := coerce.String(v)
			if !ok {
				return nil
			}
			if strip {
				s = coerce.PlainText(s)
			}
			return s
		}, nil
	case schema.TypeFloat:
		return func(v any) any {
			if x, ok := coerce.Float(v); ok {
				return x
			}
			return nil
		}, nil
	case schema.TypeInt:
		return func(v any) any {
			if x, ok := coerce.Int(v); ok {
				return x
			}
			return nil
		}, nil
	case schema.TypeBool:
		return func(v any) any {
			if x, ok := coerce.Bool(v); ok {
				return x
			}
			return nil
		}, nil
	case schema.TypeTimestamp:
		return func(v any) any {
			if x, ok := coerce.Time(v); ok {
				return x
			}
			return nil
		}, nil
	case schema.TypeDate:
		return func(v any) any {
			if x, ok := coerce.Date(v); ok {
				return x
			}
			return nil
		}, nil
	case schema.TypeStringArray:
		return func(v any) any { return coerce.StringArray(v) }, nil
	case schema.TypeJSON:
		omit := make(map[string]struct{}, len(f.Omit))
		for _, k := range f.Omit {
			omit[k] = struct{}{}
		}
		return func(v any) any {
			if v == nil {
				return nil
			}
			return coerce.Strip(v, omit)
		}, nil
	default:
		return nil, fmt.Errorf("transformer: field %s: unsupported type %q", f.Name, f.Type)
	}
}
