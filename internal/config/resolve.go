package config

import (
	"fmt"

	"listingload/internal/schema"
)

// Resolve builds the canonical schema: a built-in looked up by name, or the
// inline fields. KeyFields overrides the key in both cases.
func Resolve(s SchemaConfig) (*schema.Schema, error) {
	var sc *schema.Schema
	if len(s.Fields) > 0 {
		name := s.Name
		if name == "" {
			name = "custom"
		}
		sc = &schema.Schema{Name: name, Fields: s.Fields, KeyFields: s.KeyFields}
	} else {
		var err error
		sc, err = schema.Lookup(s.Name)
		if err != nil {
			return nil, err
		}
	}
	if len(s.KeyFields) > 0 {
		sc = sc.WithKey(s.KeyFields)
	}
	if len(sc.KeyFields) == 0 {
		return nil, fmt.Errorf("schema %s: key_fields must not be empty", sc.Name)
	}
	return sc, nil
}
