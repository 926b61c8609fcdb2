package parser

import (
	"encoding/json"
	"strings"

	"listingload/internal/config"
	"listingload/internal/extract"
	"listingload/internal/records"
)

// Envelope locates the document inside each parsed row. Column names a
// field holding the document as a JSON string or as a nested value; Path
// then descends to the document root. Anything that does not resolve to a
// mapping becomes an empty document. Unwrapped documents are returned as
// records.Document so the outer row stays available.
type Envelope struct {
	Column string
	Path   extract.Path
}

// EnvelopeFromOptions reads document_column and record_path.
func EnvelopeFromOptions(o config.Options) (Envelope, error) {
	env := Envelope{Column: strings.TrimSpace(o.String("document_column", ""))}
	if rp := strings.TrimSpace(o.String("record_path", "")); rp != "" {
		p, err := extract.ParsePath(rp)
		if err != nil {
			return Envelope{}, err
		}
		env.Path = p
	}
	return env, nil
}

// IsZero reports whether the envelope is a no-op.
func (e Envelope) IsZero() bool { return e.Column == "" && len(e.Path) == 0 }

// Apply unwraps every document in place and returns docs.
func (e Envelope) Apply(docs []any) []any {
	for i, d := range docs {
		docs[i] = e.unwrap(d)
	}
	return docs
}

func (e Envelope) unwrap(doc any) any {
	row, ok := doc.(map[string]any)
	if !ok {
		return records.Document{Root: map[string]any{}, Row: map[string]any{}}
	}
	var root any = row
	if e.Column != "" {
		root = decodeEmbedded(row[e.Column])
	}
	if len(e.Path) > 0 {
		root = extract.SafeGet(root, e.Path, nil)
	}
	m, ok := root.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	return records.Document{Root: m, Row: row}
}

// decodeEmbedded parses a JSON string column; other values pass through.
func decodeEmbedded(v any) any {
	var raw []byte
	switch s := v.(type) {
	case string:
		raw = []byte(s)
	case []byte:
		raw = s
	default:
		return v
	}
	var out any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}
