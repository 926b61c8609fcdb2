package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"listingload/internal/ddl"
	"listingload/internal/retry"
	"listingload/internal/storage"
)

// Sink is a storage.Sink over a database/sql pool.
type Sink struct {
	kind          string
	db            *sqlx.DB
	d             *Dialect
	stagingSchema string
	log           *zap.Logger
}

var _ storage.Sink = (*Sink)(nil)

// Open connects with d.Driver, applies pool options from cfg and pings.
func Open(ctx context.Context, kind, dsn string, d *Dialect, cfg storage.Config) (*Sink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: DSN must not be empty", kind)
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", kind, err)
	}
	ApplyPool(db, cfg)
	if err := PingWithTimeout(ctx, db, time.Duration(cfg.OptInt("connect_timeout_sec", 10))*time.Second); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", kind, err)
	}
	return New(db, kind, d, cfg), nil
}

// New wraps an open pool.
func New(db *sql.DB, kind string, d *Dialect, cfg storage.Config) *Sink {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{
		kind:          kind,
		db:            sqlx.NewDb(db, d.Driver),
		d:             d,
		stagingSchema: cfg.StagingSchema,
		log:           log,
	}
}

// ApplyPool applies the max_open_conns, max_idle_conns and
// conn_max_lifetime_sec options.
func ApplyPool(db *sql.DB, cfg storage.Config) {
	if n := cfg.OptInt("max_open_conns", 0); n > 0 {
		db.SetMaxOpenConns(n)
	}
	if n := cfg.OptInt("max_idle_conns", 0); n > 0 {
		db.SetMaxIdleConns(n)
	}
	if n := cfg.OptInt("conn_max_lifetime_sec", 0); n > 0 {
		db.SetConnMaxLifetime(time.Duration(n) * time.Second)
	}
}

// PingWithTimeout pings db, giving up after timeout.
func PingWithTimeout(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if pingCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("ping timed out after %v: %w", timeout, err)
		}
		return err
	}
	return nil
}

// DB exposes the pool.
func (s *Sink) DB() *sqlx.DB { return s.db }

func (s *Sink) Kind() string         { return s.kind }
func (s *Sink) Dialect() ddl.Dialect { return s.d }

func (s *Sink) fail(op string, err error) error {
	err = fmt.Errorf("%s: %s: %w", s.kind, op, err)
	if s.d.Permanent != nil && s.d.Permanent(err) {
		return retry.Permanent(err)
	}
	return err
}

// TableColumns reads column names and types from the backend catalog.
func (s *Sink) TableColumns(ctx context.Context, fqn string) ([]storage.Column, error) {
	schemaName, table := ddl.SplitFQN(fqn)
	if schemaName == "" {
		schemaName = s.d.DefaultSchema
	}
	q, args := s.d.ColumnsQuery(schemaName, table)
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, s.fail("columns", err)
	}
	defer rows.Close()

	var cols []storage.Column
	for rows.Next() {
		var name string
		var typ sql.NullString
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, s.fail("columns", err)
		}
		cols = append(cols, storage.Column{Name: name, Type: typ.String})
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("columns", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s: %w", fqn, storage.ErrTableNotFound)
	}
	return cols, nil
}

// createSQL renders CREATE TABLE for def that is a no-op when it exists.
func (s *Sink) createSQL(def ddl.TableDef) (string, error) {
	ifNotExists := s.d.CreateIfMissing == nil
	stmt, err := ddl.BuildCreateTableSQL(def, s.d, ifNotExists)
	if err != nil {
		return "", retry.Permanent(err)
	}
	if !ifNotExists {
		stmt = s.d.CreateIfMissing(s.d, def.FQN, stmt)
	}
	return stmt, nil
}

// CreateTable creates def unless it already exists.
func (s *Sink) CreateTable(ctx context.Context, def ddl.TableDef) error {
	stmt, err := s.createSQL(def)
	if err != nil {
		return err
	}
	s.log.Debug("create table", zap.String("table", def.FQN), zap.String("sql", stmt))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return s.fail("create table", err)
	}
	return nil
}

// StagingName derives a unique staging table name for fqn. It lives in
// stagingSchema when set, otherwise next to the destination.
func StagingName(fqn, stagingSchema string) string {
	schemaName, table := ddl.SplitFQN(fqn)
	if stagingSchema != "" {
		schemaName = stagingSchema
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return ddl.JoinFQN(schemaName, table+"_stg_"+suffix)
}

// StagingTable names a staging table for def in the staging schema, or next
// to the destination when none is configured.
func (s *Sink) StagingTable(def ddl.TableDef) ddl.TableDef {
	def.FQN = StagingName(def.FQN, s.stagingSchema)
	return def
}

// CreateStaging creates def as an ordinary table (not a session temporary
// one, so any pooled connection sees it).
func (s *Sink) CreateStaging(ctx context.Context, def ddl.TableDef) (storage.Staging, error) {
	stmt, err := s.createSQL(def)
	if err != nil {
		return storage.Staging{}, err
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return storage.Staging{}, s.fail("create staging", err)
	}
	return storage.Staging{Table: def}, nil
}

// DropStaging drops the staging table if it exists.
func (s *Sink) DropStaging(ctx context.Context, st storage.Staging) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.d.QuoteTable(st.Name())); err != nil {
		return s.fail("drop staging", err)
	}
	return nil
}

// Query runs q (with "?" placeholders) and returns every row. Byte slices
// are returned as strings.
func (s *Sink) Query(ctx context.Context, q string, args ...any) ([][]any, error) {
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, s.fail("query", err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, s.fail("query", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("query", err)
	}
	return out, nil
}

// BulkLoad encodes rows for the backend and appends them in one transaction.
func (s *Sink) BulkLoad(ctx context.Context, def ddl.TableDef, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	encoded := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(def.Columns) {
			return 0, retry.Permanent(fmt.Errorf("%s: row %d has %d values, table %s has %d columns",
				s.kind, i, len(row), def.FQN, len(def.Columns)))
		}
		out := make([]any, len(row))
		for j, v := range row {
			out[j] = s.d.encode(def.Columns[j].Type, v)
		}
		encoded[i] = out
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, s.fail("bulk load", err)
	}
	defer conn.Close()

	bulk := s.d.Bulk
	if bulk == nil {
		bulk = InsertRows
	}
	n, err := bulk(ctx, conn, s.d, def, encoded)
	if err != nil {
		return 0, s.fail("bulk load", err)
	}
	s.log.Debug("bulk load", zap.String("table", def.FQN), zap.Int64("rows", n))
	return n, nil
}

// InsertRows appends rows with a prepared INSERT inside one transaction.
func InsertRows(ctx context.Context, conn *sql.Conn, d *Dialect, def ddl.TableDef, rows [][]any) (int64, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, sqlx.Rebind(sqlx.BindType(d.Driver), InsertSQL(d, def)))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert row %d: %w", i, err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// InsertSQL renders INSERT INTO <table> (<cols>) VALUES (?, ...).
func InsertSQL(d *Dialect, def ddl.TableDef) string {
	cols := make([]string, len(def.Columns))
	marks := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = d.QuoteIdent(c.Name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteTable(def.FQN), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

func (s *Sink) Close() error { return s.db.Close() }
