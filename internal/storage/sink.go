// Package storage defines the warehouse sink contract used by the key
// deduplicator and the incremental loader, plus a factory that backends
// register with at init time.
//
// A Sink only appends. It exposes exactly what idempotent loading needs:
// column discovery for schema checks, table creation for the
// create-if-missing disposition, short-lived staging tables for the key
// semi-join, one read-only query path, and an atomic bulk load.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"listingload/internal/ddl"
	"listingload/internal/schema"
)

// Sink is a warehouse connection. Implementations must make BulkLoad atomic:
// either every row becomes visible or none does.
type Sink interface {
	// Kind is the registered backend name.
	Kind() string

	// Dialect renders identifiers and column types for this backend.
	Dialect() ddl.Dialect

	// TableColumns lists the destination's columns with their catalog types,
	// or ErrTableNotFound.
	TableColumns(ctx context.Context, fqn string) ([]Column, error)

	// CreateTable creates def if it does not exist.
	CreateTable(ctx context.Context, def ddl.TableDef) error

	// StagingTable gives def a fresh staging table name without touching the
	// backend. Every call returns a new name.
	StagingTable(def ddl.TableDef) ddl.TableDef

	// CreateStaging creates the short-lived table def names, as returned by
	// StagingTable. An existing table of that name is not an error, so a
	// retried call reuses what an earlier attempt created.
	CreateStaging(ctx context.Context, def ddl.TableDef) (Staging, error)

	// DropStaging removes a staging table. Dropping a missing table is not an
	// error.
	DropStaging(ctx context.Context, st Staging) error

	// Query runs a read-only statement and materializes its rows.
	Query(ctx context.Context, sql string, args ...any) ([][]any, error)

	// BulkLoad appends rows (aligned to def's columns) in one transaction and
	// returns the number written.
	BulkLoad(ctx context.Context, def ddl.TableDef, rows [][]any) (int64, error)

	Close() error
}

// Staging is a handle to a staging table created by CreateStaging.
type Staging struct {
	Table ddl.TableDef
}

// Name returns the staging table's dotted name.
func (s Staging) Name() string { return s.Table.FQN }

// ErrTableNotFound reports a destination table that does not exist.
var ErrTableNotFound = errors.New("table not found")

// ErrSinkUnavailable wraps failures that persisted through every retry.
var ErrSinkUnavailable = errors.New("sink unavailable")

// Column is a destination column as the backend catalog reports it. Type is
// the catalog's own type name and may be empty when the backend does not
// report one.
type Column struct {
	Name string
	Type string
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// SchemaMismatchError reports destination columns that disagree with the
// canonical schema. It is never retried.
type SchemaMismatchError struct {
	Table   string
	Missing []string // canonical columns absent from the destination
	Extra   []string // destination columns absent from the canonical schema
	Retyped []string // columns whose destination type cannot hold the canonical one
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Extra, ", "))
	}
	if len(e.Retyped) > 0 {
		parts = append(parts, "wrong type "+strings.Join(e.Retyped, ", "))
	}
	return fmt.Sprintf("schema mismatch on %s: %s", e.Table, strings.Join(parts, "; "))
}

// CompareColumns checks that have holds exactly the columns of want, ignoring
// order and case, and that every destination type can hold its canonical
// type. Catalog types the check does not recognise are accepted. It returns
// nil when they agree.
func CompareColumns(table string, want []ddl.ColumnDef, have []Column) error {
	haveByName := make(map[string]Column, len(have))
	for _, c := range have {
		haveByName[strings.ToLower(c.Name)] = c
	}
	wantSet := make(map[string]struct{}, len(want))
	var missing, retyped []string
	for _, c := range want {
		lc := strings.ToLower(c.Name)
		wantSet[lc] = struct{}{}
		h, ok := haveByName[lc]
		if !ok {
			missing = append(missing, c.Name)
			continue
		}
		if !TypeHolds(h.Type, c.Type) {
			retyped = append(retyped, fmt.Sprintf("%s (%s, want %s)", c.Name, h.Type, c.Type))
		}
	}
	var extra []string
	for _, c := range have {
		if _, ok := wantSet[strings.ToLower(c.Name)]; !ok {
			extra = append(extra, c.Name)
		}
	}
	if len(missing) == 0 && len(extra) == 0 && len(retyped) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	sort.Strings(retyped)
	return &SchemaMismatchError{Table: table, Missing: missing, Extra: extra, Retyped: retyped}
}

// typeFamily groups catalog type names across backends.
type typeFamily int

const (
	famUnknown typeFamily = iota
	famText
	famInt
	famFloat
	famNumeric
	famBool
	famDate
	famTimestamp
	famJSON
	famArray
)

// holds lists the catalog families able to store each canonical type.
// Text-backed families cover backends that keep dates, lists and documents
// as strings.
var holds = map[schema.FieldType][]typeFamily{
	schema.TypeID:          {famText},
	schema.TypeString:      {famText},
	schema.TypeFloat:       {famFloat, famNumeric},
	schema.TypeInt:         {famInt, famNumeric},
	schema.TypeBool:        {famBool, famInt},
	schema.TypeTimestamp:   {famTimestamp, famText},
	schema.TypeDate:        {famDate, famTimestamp, famText},
	schema.TypeStringArray: {famArray, famJSON, famText},
	schema.TypeJSON:        {famJSON, famText},
}

// TypeHolds reports whether a column of catalog type catalogType can store
// values of canonical type t.
func TypeHolds(catalogType string, t schema.FieldType) bool {
	fam := familyOf(catalogType)
	if fam == famUnknown {
		return true
	}
	for _, f := range holds[t] {
		if f == fam {
			return true
		}
	}
	return false
}

func familyOf(catalogType string) typeFamily {
	t := strings.ToLower(strings.TrimSpace(catalogType))
	switch {
	case t == "":
		return famUnknown
	case strings.HasSuffix(t, "[]") || strings.HasPrefix(t, "array"):
		return famArray
	case strings.Contains(t, "json") || t == "variant" || t == "object":
		return famJSON
	case strings.Contains(t, "timestamp") || strings.Contains(t, "datetime"):
		return famTimestamp
	case strings.HasPrefix(t, "date"):
		return famDate
	case strings.Contains(t, "char") || strings.Contains(t, "text") ||
		strings.Contains(t, "string") || strings.Contains(t, "clob"):
		return famText
	case strings.HasPrefix(t, "bool") || t == "bit":
		return famBool
	case strings.Contains(t, "int"):
		return famInt
	case strings.Contains(t, "double") || strings.Contains(t, "float") || strings.Contains(t, "real"):
		return famFloat
	case strings.HasPrefix(t, "numeric") || strings.HasPrefix(t, "decimal") || strings.HasPrefix(t, "number"):
		return famNumeric
	}
	return famUnknown
}
