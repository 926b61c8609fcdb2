// Package snowflake implements the Snowflake sink on gosnowflake. The
// connection is either a raw DSN or built from account options. Lists and
// documents are stored as JSON text in VARCHAR columns.
package snowflake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sf "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"listingload/internal/schema"
	"listingload/internal/storage"
	"listingload/internal/storage/sqlbase"
)

// Dialect describes Snowflake to the shared SQL sink. Identifiers are
// quoted, so their case is preserved.
var Dialect = &sqlbase.Dialect{
	Driver: "snowflake",
	Quote:  sqlbase.DoubleQuote,
	Types: map[schema.FieldType]string{
		schema.TypeID:          "VARCHAR",
		schema.TypeString:      "VARCHAR",
		schema.TypeFloat:       "FLOAT",
		schema.TypeInt:         "NUMBER(38,0)",
		schema.TypeBool:        "BOOLEAN",
		schema.TypeTimestamp:   "TIMESTAMP_TZ",
		schema.TypeDate:        "DATE",
		schema.TypeStringArray: "VARCHAR",
		schema.TypeJSON:        "VARCHAR",
	},
	ColumnsQuery: func(schemaName, table string) (string, []any) {
		return `SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), CURRENT_SCHEMA()) AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`, []any{schemaName, table}
	},
	Encode:    sqlbase.EncodeNative,
	Permanent: permanent,
}

var permanentNumbers = map[int]bool{
	1003:   true, // SQL compilation error: syntax
	2003:   true, // object does not exist or not authorized
	2043:   true, // insufficient privileges
	100038: true, // numeric value not recognized
	390100: true, // incorrect username or password
}

func permanent(err error) bool {
	var sfErr *sf.SnowflakeError
	if errors.As(err, &sfErr) {
		return permanentNumbers[sfErr.Number]
	}
	return false
}

// BuildDSN returns cfg.DSN when set, otherwise a DSN built from the account,
// user, password, database, schema, warehouse and role options.
func BuildDSN(cfg storage.Config) (string, error) {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN, nil
	}
	sfc := &sf.Config{
		Account:   cfg.OptString("account", ""),
		User:      cfg.OptString("user", ""),
		Password:  cfg.OptString("password", ""),
		Database:  cfg.OptString("database", ""),
		Schema:    cfg.OptString("schema", ""),
		Warehouse: cfg.OptString("warehouse", ""),
		Role:      cfg.OptString("role", ""),
	}
	if sfc.Account == "" {
		return "", fmt.Errorf("snowflake: either dsn or options.account is required")
	}
	dsn, err := sf.DSN(sfc)
	if err != nil {
		return "", fmt.Errorf("failed to build Snowflake DSN: %w", err)
	}
	return dsn, nil
}

func Open(ctx context.Context, cfg storage.Config) (*sqlbase.Sink, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Logger != nil {
		// Log connection attempt (without credentials)
		cfg.Logger.Info("connecting to snowflake",
			zap.String("account", cfg.OptString("account", "")),
			zap.String("database", cfg.OptString("database", "")),
			zap.String("warehouse", cfg.OptString("warehouse", "")))
	}
	return sqlbase.Open(ctx, "snowflake", dsn, Dialect, cfg)
}
