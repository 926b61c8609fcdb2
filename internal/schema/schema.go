package schema

import (
	"fmt"
	"regexp"
	"strings"

	"listingload/internal/extract"
)

// Schema is an ordered set of fields plus the idempotency key.
type Schema struct {
	Name      string   `json:"name"`
	Fields    []Field  `json:"fields"`
	KeyFields []string `json:"key_fields"`
}

// Columns returns field names in declaration order.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of name, or -1.
func (s *Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Field returns the field called name.
func (s *Schema) Field(name string) (Field, bool) {
	if i := s.Index(name); i >= 0 {
		return s.Fields[i], true
	}
	return Field{}, false
}

// KeyIndexes resolves the key fields to column positions.
func (s *Schema) KeyIndexes() ([]int, error) {
	if len(s.KeyFields) == 0 {
		return nil, fmt.Errorf("schema %s: no key fields", s.Name)
	}
	out := make([]int, len(s.KeyFields))
	for i, k := range s.KeyFields {
		idx := s.Index(k)
		if idx < 0 {
			return nil, fmt.Errorf("schema %s: key field %q is not declared", s.Name, k)
		}
		out[i] = idx
	}
	return out, nil
}

// WithKey returns a shallow copy of s using keys as the idempotency key.
func (s *Schema) WithKey(keys []string) *Schema {
	cp := *s
	cp.KeyFields = append([]string(nil), keys...)
	return &cp
}

// Validate checks names, types, paths and patterns.
func (s *Schema) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("schema: name must not be empty")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %s: no fields", s.Name)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("schema %s: field[%d] has no name", s.Name, i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema %s: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
		if _, err := ParseFieldType(string(f.Type)); err != nil {
			return fmt.Errorf("schema %s: field %q: %w", s.Name, f.Name, err)
		}
		switch f.Source {
		case "", SourceDocument, SourceMeta, SourceRow:
		default:
			return fmt.Errorf("schema %s: field %q: unknown source %q", s.Name, f.Name, f.Source)
		}
		if len(f.Paths) == 0 && f.Default == nil && f.Derive == nil && len(f.Members) == 0 {
			return fmt.Errorf("schema %s: field %q has neither paths nor default", s.Name, f.Name)
		}
		for _, p := range f.Paths {
			_, expr := SplitPath(p, f.Source)
			if _, err := extract.ParsePath(expr); err != nil {
				return fmt.Errorf("schema %s: field %q: %w", s.Name, f.Name, err)
			}
		}
		if f.Derive != nil {
			if err := f.Derive.validate(f.Source); err != nil {
				return fmt.Errorf("schema %s: field %q: %w", s.Name, f.Name, err)
			}
		}
		if len(f.Members) > 0 {
			if f.Type != TypeJSON {
				return fmt.Errorf("schema %s: field %q: members need type json", s.Name, f.Name)
			}
			keys := make(map[string]struct{}, len(f.Members))
			for _, m := range f.Members {
				if m.Key == "" {
					return fmt.Errorf("schema %s: field %q: member without key", s.Name, f.Name)
				}
				if _, dup := keys[m.Key]; dup {
					return fmt.Errorf("schema %s: field %q: duplicate member %q", s.Name, f.Name, m.Key)
				}
				keys[m.Key] = struct{}{}
				if err := m.Derive.validate(f.Source); err != nil {
					return fmt.Errorf("schema %s: field %q: member %s: %w", s.Name, f.Name, m.Key, err)
				}
			}
		}
		if f.Pattern != "" {
			if _, err := regexp.Compile(f.Pattern); err != nil {
				return fmt.Errorf("schema %s: field %q: bad pattern: %w", s.Name, f.Name, err)
			}
		}
	}
	if _, err := s.KeyIndexes(); err != nil {
		return err
	}
	return nil
}

func (d *Derive) validate(def Source) error {
	_, expr := SplitPath(d.Path, def)
	if _, err := extract.ParsePath(expr); err != nil {
		return fmt.Errorf("derive: %w", err)
	}
	if len(d.Tokens) == 0 && len(d.Keywords) == 0 {
		return fmt.Errorf("derive %s: no tokens or keywords", d.Path)
	}
	for _, k := range d.Keywords {
		if strings.TrimSpace(k.Contains) == "" {
			return fmt.Errorf("derive %s: empty keyword", d.Path)
		}
	}
	return nil
}
