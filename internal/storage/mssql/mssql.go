// Package mssql implements the SQL Server sink. Bulk loads use the
// go-mssqldb bulk copy API inside a transaction.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"listingload/internal/ddl"
	"listingload/internal/schema"
	"listingload/internal/storage"
	"listingload/internal/storage/sqlbase"
)

// Dialect describes SQL Server to the shared SQL sink.
var Dialect = &sqlbase.Dialect{
	Driver: "sqlserver",
	Quote:  msIdent,
	Types: map[schema.FieldType]string{
		schema.TypeID:          "NVARCHAR(450)",
		schema.TypeString:      "NVARCHAR(MAX)",
		schema.TypeFloat:       "FLOAT",
		schema.TypeInt:         "BIGINT",
		schema.TypeBool:        "BIT",
		schema.TypeTimestamp:   "DATETIME2",
		schema.TypeDate:        "DATE",
		schema.TypeStringArray: "NVARCHAR(MAX)",
		schema.TypeJSON:        "NVARCHAR(MAX)",
	},
	DefaultSchema: "dbo",
	ColumnsQuery: func(schemaName, table string) (string, []any) {
		return `SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`, []any{schemaName, table}
	},
	CreateIfMissing: createIfMissing,
	Encode:          sqlbase.EncodeNative,
	Bulk:            bulkCopy,
	Permanent:       permanent,
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// createIfMissing guards CREATE TABLE with OBJECT_ID, since SQL Server has
// no IF NOT EXISTS form.
func createIfMissing(d *sqlbase.Dialect, fqn, createSQL string) string {
	name := strings.ReplaceAll(d.QuoteTable(fqn), `'`, `''`)
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\n%s", name, createSQL)
}

// permanentNumbers are server error numbers retrying cannot fix.
var permanentNumbers = map[int32]bool{
	102:   true, // syntax error
	207:   true, // invalid column
	208:   true, // invalid object
	229:   true, // permission denied
	245:   true, // conversion failed
	515:   true, // NULL into NOT NULL column
	2601:  true, // duplicate key (index)
	2627:  true, // duplicate key (constraint)
	18456: true, // login failed
}

func permanent(err error) bool {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return permanentNumbers[msErr.Number]
	}
	return false
}

// bulkCopy streams rows through mssql.CopyIn inside a transaction.
func bulkCopy(ctx context.Context, conn *sql.Conn, d *sqlbase.Dialect, def ddl.TableDef, rows [][]any) (int64, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(d.QuoteTable(def.FQN), mssql.BulkOptions{}, def.ColumnNames()...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Open validates the DSN before connecting so obvious mistakes fail fast.
func Open(ctx context.Context, cfg storage.Config) (*sqlbase.Sink, error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	return sqlbase.Open(ctx, "mssql", cfg.DSN, Dialect, cfg)
}
