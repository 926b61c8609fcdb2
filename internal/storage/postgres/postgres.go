// Package postgres implements the Postgres sink. Connections come from a
// pgxpool exposed through database/sql, and bulk loads use COPY inside a
// transaction so a batch is either fully visible or not at all.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"listingload/internal/ddl"
	"listingload/internal/schema"
	"listingload/internal/storage"
	"listingload/internal/storage/sqlbase"
)

// Dialect describes Postgres to the shared SQL sink.
var Dialect = &sqlbase.Dialect{
	Driver: "pgx",
	Quote:  pq.QuoteIdentifier,
	Types: map[schema.FieldType]string{
		schema.TypeID:          "TEXT",
		schema.TypeString:      "TEXT",
		schema.TypeFloat:       "DOUBLE PRECISION",
		schema.TypeInt:         "BIGINT",
		schema.TypeBool:        "BOOLEAN",
		schema.TypeTimestamp:   "TIMESTAMPTZ",
		schema.TypeDate:        "DATE",
		schema.TypeStringArray: "TEXT[]",
		schema.TypeJSON:        "JSONB",
	},
	DefaultSchema: "public",
	ColumnsQuery: func(schemaName, table string) (string, []any) {
		return `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`, []any{schemaName, table}
	},
	Encode:    encode,
	Bulk:      copyRows,
	Permanent: permanent,
}

// encode keeps string lists as text[] and sends documents as JSON text.
func encode(t schema.FieldType, v any) any {
	if t == schema.TypeStringArray {
		return v
	}
	return sqlbase.EncodeNative(t, v)
}

// permanent treats syntax, data and integrity errors (SQLSTATE classes 22,
// 23, 28, 42) as final.
func permanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.SQLState()) < 2 {
		return false
	}
	switch pgErr.SQLState()[:2] {
	case "22", "23", "28", "42":
		return true
	}
	return false
}

// copyRows runs COPY FROM on the pooled pgx connection inside a transaction.
func copyRows(ctx context.Context, conn *sql.Conn, d *sqlbase.Dialect, def ddl.TableDef, rows [][]any) (int64, error) {
	var n int64
	err := conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		tx, err := c.Conn().Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		n, err = tx.CopyFrom(ctx, splitFQN(def.FQN), def.ColumnNames(), pgx.CopyFromRows(rows))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Detail != "" {
				return fmt.Errorf("copy: %s (%s): %w", pgErr.Detail, pgErr.SQLState(), err)
			}
			return fmt.Errorf("copy: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

// Sink closes the pgx pool along with the database/sql handle.
type Sink struct {
	*sqlbase.Sink
	pool *pgxpool.Pool
}

func (s *Sink) Close() error {
	err := s.Sink.Close()
	s.pool.Close()
	return err
}

// Open creates a pgxpool for cfg.DSN. The max_open_conns option caps the
// pool size.
func Open(ctx context.Context, cfg storage.Config) (*Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if n := cfg.OptInt("max_open_conns", 0); n > 0 {
		pcfg.MaxConns = int32(n)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	if err := sqlbase.PingWithTimeout(ctx, db, defaultPing); err != nil {
		_ = db.Close()
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Sink{Sink: sqlbase.New(db, "postgres", Dialect, cfg), pool: pool}, nil
}
