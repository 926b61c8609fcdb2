// Package ddl defines a small, backend-agnostic model for SQL DDL and renders
// CREATE TABLE statements through a backend Dialect.
//
// Backends supply identifier quoting and the mapping from canonical field
// types to SQL types; everything else (column order, NOT NULL, primary key
// clause) is rendered here so every backend produces the same shape.
package ddl

import (
	"fmt"
	"strings"

	"listingload/internal/schema"
)

// Dialect is the part of a SQL backend DDL rendering needs.
type Dialect interface {
	QuoteIdent(name string) string
	QuoteTable(fqn string) string
	ColumnType(t schema.FieldType) string
}

// BuildCreateTableSQL renders
//
//	CREATE TABLE [IF NOT EXISTS] <table> (
//	  <col> <type> [NOT NULL] [DEFAULT <expr>],
//	  ...
//	  [PRIMARY KEY (<cols>)]
//	)
//
// Default is emitted as raw SQL.
func BuildCreateTableSQL(t TableDef, d Dialect, ifNotExists bool) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	var pks []string
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := d.ColumnType(c.Type)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s: no SQL type for %q", name, c.Type)
		}

		var sb strings.Builder
		sb.WriteString(d.QuoteIdent(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())
		if c.PrimaryKey {
			pks = append(pks, d.QuoteIdent(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	head := "CREATE TABLE "
	if ifNotExists {
		head += "IF NOT EXISTS "
	}
	return fmt.Sprintf("%s%s (\n  %s\n)", head, d.QuoteTable(fqn), strings.Join(cols, ",\n  ")), nil
}
