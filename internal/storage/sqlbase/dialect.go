// Package sqlbase implements storage.Sink on top of database/sql for every
// SQL backend. Backends describe themselves with a Dialect (quoting, type
// mapping, catalog query, value encoding) and may replace the row-by-row
// insert with their native bulk path.
package sqlbase

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"listingload/internal/coerce"
	"listingload/internal/ddl"
	"listingload/internal/schema"
)

// BulkFn appends rows to def on conn inside a transaction it owns. Values are
// already encoded.
type BulkFn func(ctx context.Context, conn *sql.Conn, d *Dialect, def ddl.TableDef, rows [][]any) (int64, error)

// Dialect describes one SQL backend.
type Dialect struct {
	// Driver is the database/sql driver name. It also selects the sqlx bind
	// style used when rebinding "?" placeholders.
	Driver string

	// Quote quotes a single identifier segment.
	Quote func(name string) string

	// Types maps canonical field types to column types.
	Types map[schema.FieldType]string

	// DefaultSchema is used for catalog lookups of unqualified names. An
	// empty value lets the backend resolve it (for example via a SQL
	// function in ColumnsQuery).
	DefaultSchema string

	// ColumnsQuery returns a statement listing the column name and catalog
	// type of schema.table, one column per row, using "?" placeholders.
	ColumnsQuery func(schemaName, table string) (string, []any)

	// CreateIfMissing wraps a plain CREATE TABLE so it is a no-op when the
	// table exists. Nil means the backend understands IF NOT EXISTS.
	CreateIfMissing func(d *Dialect, fqn, createSQL string) string

	// Encode converts a transformed value for binding. Nil falls back to
	// EncodeText.
	Encode func(t schema.FieldType, v any) any

	// Bulk replaces the default prepared-INSERT path.
	Bulk BulkFn

	// Permanent reports driver errors that retrying cannot fix (syntax,
	// permissions, constraint violations).
	Permanent func(err error) bool
}

// QuoteIdent implements ddl.Dialect.
func (d *Dialect) QuoteIdent(name string) string { return d.Quote(name) }

// QuoteTable quotes each dotted segment of fqn. Empty segments are dropped.
func (d *Dialect) QuoteTable(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, d.Quote(p))
	}
	return strings.Join(out, ".")
}

// ColumnType implements ddl.Dialect.
func (d *Dialect) ColumnType(t schema.FieldType) string { return d.Types[t] }

func (d *Dialect) encode(t schema.FieldType, v any) any {
	if d.Encode != nil {
		return d.Encode(t, v)
	}
	return EncodeText(t, v)
}

// DoubleQuote quotes an identifier ANSI style, doubling embedded quotes.
func DoubleQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EncodeNative passes scalars and times through and renders lists and
// documents as JSON text. It suits drivers with real DATE and TIMESTAMP
// types.
func EncodeNative(t schema.FieldType, v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case schema.TypeStringArray, schema.TypeJSON:
		return coerce.JSONText(v)
	}
	return v
}

// EncodeText is EncodeNative with dates as "2006-01-02" and timestamps as
// RFC 3339 text, for backends that store both as strings.
func EncodeText(t schema.FieldType, v any) any {
	if v == nil {
		return nil
	}
	if tm, ok := v.(time.Time); ok {
		switch t {
		case schema.TypeDate:
			return tm.UTC().Format(time.DateOnly)
		case schema.TypeTimestamp:
			return tm.UTC().Format(time.RFC3339Nano)
		}
	}
	return EncodeNative(t, v)
}
