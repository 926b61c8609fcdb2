// Package mysql implements the MySQL sink on go-sql-driver/mysql. Lists and
// documents are stored in JSON columns.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"listingload/internal/schema"
	"listingload/internal/storage"
	"listingload/internal/storage/sqlbase"
)

// Dialect describes MySQL to the shared SQL sink.
var Dialect = &sqlbase.Dialect{
	Driver: "mysql",
	Quote:  quoteIdent,
	Types: map[schema.FieldType]string{
		schema.TypeID:          "VARCHAR(255)",
		schema.TypeString:      "LONGTEXT",
		schema.TypeFloat:       "DOUBLE",
		schema.TypeInt:         "BIGINT",
		schema.TypeBool:        "BOOLEAN",
		schema.TypeTimestamp:   "DATETIME(6)",
		schema.TypeDate:        "DATE",
		schema.TypeStringArray: "JSON",
		schema.TypeJSON:        "JSON",
	},
	// An empty schema resolves to the connection's database.
	ColumnsQuery: func(schemaName, table string) (string, []any) {
		return `SELECT COLUMN_NAME, DATA_TYPE FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`, []any{schemaName, table}
	},
	Encode:    sqlbase.EncodeNative,
	Permanent: permanent,
}

func quoteIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

var permanentNumbers = map[uint16]bool{
	1044: true, // access denied to database
	1045: true, // access denied for user
	1048: true, // column cannot be null
	1054: true, // unknown column
	1062: true, // duplicate entry
	1064: true, // syntax error
	1142: true, // command denied
	1146: true, // table doesn't exist
	1292: true, // incorrect value
	1406: true, // data too long
}

func permanent(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return permanentNumbers[myErr.Number]
	}
	return false
}

// NormalizeDSN forces parseTime and UTC so DATE and DATETIME columns scan as
// time.Time.
func NormalizeDSN(dsn string) (string, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql dsn: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN(), nil
}

func Open(ctx context.Context, cfg storage.Config) (*sqlbase.Sink, error) {
	dsn, err := NormalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	return sqlbase.Open(ctx, "mysql", dsn, Dialect, cfg)
}
