package ddl

import (
	"fmt"
	"strings"

	"listingload/internal/schema"
)

// ColumnDef describes one column. Type is the canonical field type; each
// backend maps it to its own SQL type when rendering.
type ColumnDef struct {
	Name       string
	Type       schema.FieldType
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the table name in dotted form ("schema.table" or "table")
// and its ordered columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// ColumnNames returns the column names in order.
func (t TableDef) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// FromSchema builds the destination table for s.
func FromSchema(fqn string, s *schema.Schema) TableDef {
	cols := make([]ColumnDef, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = ColumnDef{Name: f.Name, Type: f.Type, Nullable: f.Nullable()}
	}
	return TableDef{FQN: fqn, Columns: cols}
}

// KeyTable builds a table holding only the key columns of s, typed like the
// destination and NOT NULL.
func KeyTable(fqn string, s *schema.Schema) (TableDef, error) {
	idx, err := s.KeyIndexes()
	if err != nil {
		return TableDef{}, err
	}
	cols := make([]ColumnDef, len(idx))
	for i, j := range idx {
		f := s.Fields[j]
		cols[i] = ColumnDef{Name: f.Name, Type: f.Type}
	}
	return TableDef{FQN: fqn, Columns: cols}, nil
}

// SplitFQN splits "schema.table" into its parts. A bare name has an empty
// schema.
func SplitFQN(fqn string) (schemaName, table string) {
	fqn = strings.TrimSpace(fqn)
	if i := strings.LastIndexByte(fqn, '.'); i >= 0 {
		return fqn[:i], fqn[i+1:]
	}
	return "", fqn
}

// JoinFQN is the inverse of SplitFQN.
func JoinFQN(schemaName, table string) string {
	if schemaName == "" {
		return table
	}
	return fmt.Sprintf("%s.%s", schemaName, table)
}
