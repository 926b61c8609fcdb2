// Package extract provides safe lookups into decoded, arbitrarily shaped JSON
// documents (map[string]any / []any trees).
//
// Paths are written as dotted strings and compiled once:
//
//	location.address.city.name        nested keys
//	images[0]                          list index (negative counts from the end)
//	characteristics[key=price].value   first list element whose "key" is "price"
//	images[*].large                    fan out over a list and collect
//
// Lookups never fail: any shape mismatch yields the caller's default.
package extract

import (
	"fmt"
	"strconv"
	"strings"
)

type segKind uint8

const (
	segKey segKind = iota
	segIndex
	segMatch
	segEach
)

// Segment is one compiled step of a Path.
type Segment struct {
	kind  segKind
	key   string
	index int
	field string
	value string
}

// Key selects a member of a mapping.
func Key(k string) Segment { return Segment{kind: segKey, key: k} }

// Index selects a list element. Negative values count from the end.
func Index(i int) Segment { return Segment{kind: segIndex, index: i} }

// Match selects the first list element that is a mapping whose field equals
// value (compared in string form).
func Match(field, value string) Segment { return Segment{kind: segMatch, field: field, value: value} }

// Each applies the remainder of the path to every list element and collects
// the non-null results.
func Each() Segment { return Segment{kind: segEach} }

func (s Segment) String() string {
	switch s.kind {
	case segIndex:
		return "[" + strconv.Itoa(s.index) + "]"
	case segMatch:
		return "[" + s.field + "=" + s.value + "]"
	case segEach:
		return "[*]"
	default:
		return s.key
	}
}

// Path is an ordered list of segments.
type Path []Segment

// String renders p in the same syntax ParsePath accepts.
func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if s.kind == segKey && i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.String())
	}
	return b.String()
}

// ParsePath compiles a dotted path expression.
func ParsePath(expr string) (Path, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("extract: empty path")
	}
	var out Path
	for _, part := range strings.Split(expr, ".") {
		if part == "" {
			return nil, fmt.Errorf("extract: empty segment in %q", expr)
		}
		name := part
		rest := ""
		if i := strings.IndexByte(part, '['); i >= 0 {
			name, rest = part[:i], part[i:]
		}
		if name != "" {
			out = append(out, Key(name))
		}
		for rest != "" {
			if rest[0] != '[' {
				return nil, fmt.Errorf("extract: unexpected %q in %q", rest, expr)
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("extract: unclosed bracket in %q", expr)
			}
			seg, err := parseBracket(rest[1:end])
			if err != nil {
				return nil, fmt.Errorf("extract: %q: %w", expr, err)
			}
			out = append(out, seg)
			rest = rest[end+1:]
		}
	}
	return out, nil
}

// MustParsePath is ParsePath for static tables; it panics on a malformed path.
func MustParsePath(expr string) Path {
	p, err := ParsePath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func parseBracket(inner string) (Segment, error) {
	inner = strings.TrimSpace(inner)
	switch {
	case inner == "*":
		return Each(), nil
	case strings.Contains(inner, "="):
		k, v, _ := strings.Cut(inner, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			return Segment{}, fmt.Errorf("match segment needs a field name")
		}
		return Match(k, strings.TrimSpace(v)), nil
	default:
		n, err := strconv.Atoi(inner)
		if err != nil {
			return Segment{}, fmt.Errorf("bad index %q", inner)
		}
		return Index(n), nil
	}
}
