// Package schema declares canonical destination schemas: an ordered list of
// typed fields, each with the document paths it is extracted from, plus the
// idempotency key used to detect rows that were already loaded.
//
// A Schema is data. Built-in schemas live in catalog.go; pipelines may also
// declare their own in JSON.
package schema

import (
	"fmt"
	"strings"
)

// FieldType is the canonical type of a destination column.
type FieldType string

const (
	// TypeID is an identity string (listing id, slug). Empty counts as absent.
	TypeID FieldType = "id"
	// TypeString is free text.
	TypeString FieldType = "string"
	// TypeFloat is a best-effort float64.
	TypeFloat FieldType = "float"
	// TypeInt is a best-effort int64.
	TypeInt FieldType = "int"
	// TypeBool uses an explicit token map; anything else is null.
	TypeBool FieldType = "bool"
	// TypeTimestamp is a point in time normalized to UTC.
	TypeTimestamp FieldType = "timestamp"
	// TypeDate is a calendar date (midnight UTC).
	TypeDate FieldType = "date"
	// TypeStringArray is a list of strings; never null, possibly empty.
	TypeStringArray FieldType = "string_array"
	// TypeJSON is an opaque nested value kept as decoded.
	TypeJSON FieldType = "json"
)

var knownTypes = map[FieldType]struct{}{
	TypeID: {}, TypeString: {}, TypeFloat: {}, TypeInt: {}, TypeBool: {},
	TypeTimestamp: {}, TypeDate: {}, TypeStringArray: {}, TypeJSON: {},
}

// ParseFieldType validates s as a FieldType. Matching is case-insensitive.
func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownTypes[t]; !ok {
		return "", fmt.Errorf("schema: unknown field type %q", s)
	}
	return t, nil
}

// Source says where a field's paths are evaluated.
type Source string

const (
	// SourceDocument reads from the raw record (the default).
	SourceDocument Source = "document"
	// SourceMeta reads from per-run metadata (ingestionDate, sourceObject, runId).
	SourceMeta Source = "meta"
	// SourceRow reads from the outer row a document was unwrapped from. For
	// documents without an envelope the row is the document itself.
	SourceRow Source = "row"
)

// SplitPath separates an optional "document:", "row:" or "meta:" qualifier
// from expr. Unqualified paths are read from def.
func SplitPath(expr string, def Source) (Source, string) {
	if i := strings.IndexByte(expr, ':'); i > 0 {
		switch src := Source(expr[:i]); src {
		case SourceDocument, SourceMeta, SourceRow:
			return src, expr[i+1:]
		}
	}
	if def == "" {
		def = SourceDocument
	}
	return def, expr
}

// Field declares one canonical column.
//
// Paths are tried in order and the first non-null value wins; each may carry
// its own source qualifier (see SplitPath). Derive is tried next, then
// Default. Whatever is found is coerced to Type.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Paths    []string  `json:"paths"`
	Default  any       `json:"default,omitempty"`
	Required bool      `json:"required,omitempty"`
	Source   Source    `json:"source,omitempty"`

	// Pattern, when set, is matched against the string form of the extracted
	// value; the first capture group (or the whole match) replaces it. No
	// match yields null.
	Pattern string `json:"pattern,omitempty"`

	// StripHTML removes markup and collapses whitespace on string values.
	StripHTML bool `json:"strip_html,omitempty"`

	// Omit lists object keys removed recursively from json values.
	Omit []string `json:"omit,omitempty"`

	// Derive computes the value when every path misses.
	Derive *Derive `json:"derive,omitempty"`

	// Members builds a json object with one derived value per key. Keys that
	// match nothing are present with a null value.
	Members []Member `json:"members,omitempty"`
}

// Keyword maps a phrase to the value it implies.
type Keyword struct {
	Contains string `json:"contains"`
	Value    any    `json:"value"`
}

// Derive reads Path and maps what it finds to a value. Tokens match the
// whole string form of the value. Keywords are searched for in its
// lowercased plain text and the first one found wins.
type Derive struct {
	Path     string         `json:"path"`
	Tokens   map[string]any `json:"tokens,omitempty"`
	Keywords []Keyword      `json:"keywords,omitempty"`
}

// Member is one derived key of a json object.
type Member struct {
	Key string `json:"key"`
	Derive
}

// Nullable reports whether the column accepts NULL in the destination.
func (f Field) Nullable() bool {
	return !f.Required && f.Type != TypeStringArray
}
