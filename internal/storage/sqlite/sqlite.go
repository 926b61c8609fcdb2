// Package sqlite implements the SQLite sink on modernc.org/sqlite. Dates and
// timestamps are stored as ISO-8601 TEXT; lists and documents as JSON text.
// SQLite has no bulk-load API, so rows go through a prepared INSERT inside one
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"listingload/internal/schema"
	"listingload/internal/storage"
	"listingload/internal/storage/sqlbase"
)

// Dialect describes SQLite to the shared SQL sink.
var Dialect = &sqlbase.Dialect{
	Driver: "sqlite",
	Quote:  sqlbase.DoubleQuote,
	Types: map[schema.FieldType]string{
		schema.TypeID:          "TEXT",
		schema.TypeString:      "TEXT",
		schema.TypeFloat:       "REAL",
		schema.TypeInt:         "INTEGER",
		schema.TypeBool:        "INTEGER",
		schema.TypeTimestamp:   "TEXT",
		schema.TypeDate:        "TEXT",
		schema.TypeStringArray: "TEXT",
		schema.TypeJSON:        "TEXT",
	},
	DefaultSchema: "main",
	ColumnsQuery: func(schemaName, table string) (string, []any) {
		return "SELECT name, type FROM pragma_table_info(?, ?) ORDER BY cid", []any{table, schemaName}
	},
	Encode:    sqlbase.EncodeText,
	Permanent: permanent,
}

// permanent treats SQL, constraint and type errors as final; busy and locked
// databases are retried.
func permanent(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_ERROR, sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH,
		sqlite3.SQLITE_READONLY, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
		return true
	}
	return false
}

// IsMemory reports whether dsn names an in-memory database.
func IsMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Open connects to dsn, for example "listings.db" or
// "file:listings.db?_pragma=busy_timeout(5000)". In-memory databases are
// pinned to one connection so every statement sees the same database.
func Open(ctx context.Context, cfg storage.Config) (*sqlbase.Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open(Dialect.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if IsMemory(cfg.DSN) {
		db.SetMaxOpenConns(1)
	} else {
		sqlbase.ApplyPool(db, cfg)
	}
	if err := sqlbase.PingWithTimeout(ctx, db, defaultPing); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	// Enable foreign keys by default; ignore error if unsupported.
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	return sqlbase.New(db, "sqlite", Dialect, cfg), nil
}
