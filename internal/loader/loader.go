// Package loader appends deduplicated batches to the destination table. It
// never updates or merges: avoiding duplicates is the deduplicator's job.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"listingload/internal/ddl"
	"listingload/internal/records"
	"listingload/internal/schema"
	"listingload/internal/storage"
)

// Disposition says what to do when the destination table is missing.
type Disposition string

const (
	// AppendOnly requires the table to exist.
	AppendOnly Disposition = "append-only"
	// CreateIfMissing creates the table from the canonical schema.
	CreateIfMissing Disposition = "create-if-missing"
	// NeverCreate behaves like AppendOnly; it spells out that schema drift
	// through table creation is forbidden.
	NeverCreate Disposition = "never-create"
)

// ParseDisposition validates s. Empty means AppendOnly.
func ParseDisposition(s string) (Disposition, error) {
	switch d := Disposition(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return AppendOnly, nil
	case AppendOnly, CreateIfMissing, NeverCreate:
		return d, nil
	default:
		return "", fmt.Errorf("loader: unknown disposition %q (want append-only, create-if-missing or never-create)", s)
	}
}

// Loader writes batches of one schema to one table.
type Loader struct {
	sink        storage.Sink
	def         ddl.TableDef
	disposition Disposition
	log         *zap.Logger
}

// New returns a Loader for table using s's columns.
func New(sink storage.Sink, table string, s *schema.Schema, d Disposition, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.L().Named("loader")
	}
	return &Loader{
		sink:        sink,
		def:         ddl.FromSchema(table, s),
		disposition: d,
		log:         log.With(zap.String("table", table)),
	}
}

// Table returns the destination definition.
func (l *Loader) Table() ddl.TableDef { return l.def }

// Prepare checks that the destination exists with exactly the canonical
// columns, each typed to hold its canonical type, creating it first when the
// disposition allows. A mismatch is returned as *storage.SchemaMismatchError
// and is never widened.
func (l *Loader) Prepare(ctx context.Context) error {
	have, err := l.sink.TableColumns(ctx, l.def.FQN)
	switch {
	case errors.Is(err, storage.ErrTableNotFound):
		if l.disposition != CreateIfMissing {
			return fmt.Errorf("loader: %s with disposition %s: %w", l.def.FQN, l.disposition, err)
		}
		if err := l.sink.CreateTable(ctx, l.def); err != nil {
			return fmt.Errorf("loader: create %s: %w", l.def.FQN, err)
		}
		l.log.Info("created destination table", zap.Int("columns", len(l.def.Columns)))
		return nil
	case err != nil:
		return fmt.Errorf("loader: inspect %s: %w", l.def.FQN, err)
	}
	if err := storage.CompareColumns(l.def.FQN, l.def.Columns, have); err != nil {
		return fmt.Errorf("loader: %w", err)
	}
	return nil
}

// Load appends b in one atomic bulk operation and returns the rows written.
// An empty batch returns 0 without touching the sink.
func (l *Loader) Load(ctx context.Context, b *records.Batch) (int64, error) {
	if b.Len() == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	n, err := l.sink.BulkLoad(ctx, l.def, b.Values())
	if err != nil {
		l.log.Error("bulk load failed", zap.Int("rows", b.Len()), zap.Error(err))
		return 0, fmt.Errorf("loader: append to %s: %w", l.def.FQN, err)
	}
	elapsed := time.Since(start)
	rps := float64(0)
	if elapsed > 0 {
		rps = float64(n) / elapsed.Seconds()
	}
	l.log.Info("appended rows",
		zap.Int64("inserted", n),
		zap.Float64("rps", rps),
		zap.Duration("elapsed", elapsed.Truncate(time.Millisecond)))
	return n, nil
}

// Load is the one-call form: an empty batch is a no-op, otherwise the
// destination is prepared per d and b appended.
func Load(ctx context.Context, b *records.Batch, sink storage.Sink, table string, d Disposition) (int64, error) {
	if b.Len() == 0 {
		return 0, nil
	}
	l := New(sink, table, b.Schema, d, nil)
	if err := l.Prepare(ctx); err != nil {
		return 0, err
	}
	return l.Load(ctx, b)
}
