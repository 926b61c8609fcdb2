// Package records holds the canonical row and batch types passed between the
// transformer, the deduplicator, the loader and the artifact writer.
package records

import "listingload/internal/schema"

// Row is one canonical record: exactly one value per schema field, in
// declaration order. Null is nil.
type Row []any

// Document is a parsed record that was unwrapped from an outer row. Root is
// where document fields are read; Row keeps the outer row's own columns so
// row-level values such as a per-row ingestion date stay reachable.
type Document struct {
	Root map[string]any
	Row  map[string]any
}

// Batch is an ordered set of rows that share one schema.
type Batch struct {
	Schema *schema.Schema
	Rows   []Row
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Value returns the value of column name in row i, or nil if the column does
// not exist.
func (b *Batch) Value(i int, name string) any {
	idx := b.Schema.Index(name)
	if idx < 0 || i < 0 || i >= len(b.Rows) {
		return nil
	}
	return b.Rows[i][idx]
}

// Values returns rows as [][]any for bulk writers.
func (b *Batch) Values() [][]any {
	out := make([][]any, len(b.Rows))
	for i, r := range b.Rows {
		out[i] = r
	}
	return out
}

// Filter returns a batch with the rows for which keep returns true, preserving
// order.
func (b *Batch) Filter(keep func(Row) bool) *Batch {
	out := &Batch{Schema: b.Schema, Rows: make([]Row, 0, len(b.Rows))}
	for _, r := range b.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}
