// Package duckdb implements a DuckDB sink on go-duckdb. Bulk loads go
// through the native Appender inside an explicit transaction on the same
// connection.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/marcboeker/go-duckdb/v2"

	"listingload/internal/ddl"
	"listingload/internal/schema"
	"listingload/internal/storage"
	"listingload/internal/storage/sqlbase"
)

// Dialect describes DuckDB to the shared SQL sink.
var Dialect = &sqlbase.Dialect{
	Driver: "duckdb",
	Quote:  sqlbase.DoubleQuote,
	Types: map[schema.FieldType]string{
		schema.TypeID:          "VARCHAR",
		schema.TypeString:      "VARCHAR",
		schema.TypeFloat:       "DOUBLE",
		schema.TypeInt:         "BIGINT",
		schema.TypeBool:        "BOOLEAN",
		schema.TypeTimestamp:   "TIMESTAMPTZ",
		schema.TypeDate:        "DATE",
		schema.TypeStringArray: "VARCHAR",
		schema.TypeJSON:        "VARCHAR",
	},
	DefaultSchema: "main",
	ColumnsQuery: func(schemaName, table string) (string, []any) {
		return `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`, []any{schemaName, table}
	},
	Encode: sqlbase.EncodeNative,
	Bulk:   appendRows,
}

// appendRows feeds rows to a duckdb.Appender between BEGIN and COMMIT so a
// failed batch leaves nothing behind.
func appendRows(ctx context.Context, conn *sql.Conn, d *sqlbase.Dialect, def ddl.TableDef, rows [][]any) (int64, error) {
	var n int64
	err := conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to *duckdb.Conn: %T", driverConn)
		}
		if _, err := c.ExecContext(ctx, "BEGIN TRANSACTION", nil); err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		committed := false
		defer func() {
			if !committed {
				_, _ = c.ExecContext(context.Background(), "ROLLBACK", nil)
			}
		}()

		schemaName, table := ddl.SplitFQN(def.FQN)
		app, err := duckdb.NewAppenderFromConn(c, schemaName, table)
		if err != nil {
			return fmt.Errorf("appender for %s: %w", def.FQN, err)
		}
		vals := make([]driver.Value, len(def.Columns))
		for i, row := range rows {
			for j, v := range row {
				vals[j] = v
			}
			if err := app.AppendRow(vals...); err != nil {
				_ = app.Close()
				return fmt.Errorf("append row %d: %w", i, err)
			}
		}
		if err := app.Close(); err != nil {
			return fmt.Errorf("flush appender: %w", err)
		}
		if _, err := c.ExecContext(ctx, "COMMIT", nil); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		committed = true
		n = int64(len(rows))
		return nil
	})
	return n, err
}

// Open opens the database file named by cfg.DSN, or an in-memory database
// for "" and ":memory:".
func Open(ctx context.Context, cfg storage.Config) (*sqlbase.Sink, error) {
	dsn := cfg.DSN
	if dsn == ":memory:" {
		dsn = ""
	}
	db, err := sql.Open(Dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}
	sqlbase.ApplyPool(db, cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("duckdb: ping: %w", err)
	}
	return sqlbase.New(db, "duckdb", Dialect, cfg), nil
}
