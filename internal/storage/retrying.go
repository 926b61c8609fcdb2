package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"listingload/internal/ddl"
	"listingload/internal/retry"
)

// WithRetry wraps every network-bound Sink call in retry.Do. Missing tables,
// schema mismatches and errors the backend marked permanent fail at once;
// anything else is retried and, once exhausted, reported as
// ErrSinkUnavailable.
func WithRetry(s Sink, p retry.Policy, log *zap.Logger) Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &retryingSink{Sink: s, policy: p, log: log}
}

type retryingSink struct {
	Sink
	policy retry.Policy
	log    *zap.Logger
}

func (r *retryingSink) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, r.policy, r.Kind()+"."+op, r.log, func(ctx context.Context) error {
		err := fn(ctx)
		var mismatch *SchemaMismatchError
		if errors.Is(err, ErrTableNotFound) || errors.As(err, &mismatch) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	return err
}

func (r *retryingSink) TableColumns(ctx context.Context, fqn string) ([]Column, error) {
	var cols []Column
	err := r.do(ctx, "columns", func(ctx context.Context) error {
		var err error
		cols, err = r.Sink.TableColumns(ctx, fqn)
		return err
	})
	return cols, err
}

func (r *retryingSink) CreateTable(ctx context.Context, def ddl.TableDef) error {
	return r.do(ctx, "create_table", func(ctx context.Context) error {
		return r.Sink.CreateTable(ctx, def)
	})
}

func (r *retryingSink) CreateStaging(ctx context.Context, def ddl.TableDef) (Staging, error) {
	var st Staging
	err := r.do(ctx, "create_staging", func(ctx context.Context) error {
		var err error
		st, err = r.Sink.CreateStaging(ctx, def)
		return err
	})
	return st, err
}

func (r *retryingSink) DropStaging(ctx context.Context, st Staging) error {
	return r.do(ctx, "drop_staging", func(ctx context.Context) error {
		return r.Sink.DropStaging(ctx, st)
	})
}

func (r *retryingSink) Query(ctx context.Context, sql string, args ...any) ([][]any, error) {
	var rows [][]any
	err := r.do(ctx, "query", func(ctx context.Context) error {
		var err error
		rows, err = r.Sink.Query(ctx, sql, args...)
		return err
	})
	return rows, err
}

func (r *retryingSink) BulkLoad(ctx context.Context, def ddl.TableDef, rows [][]any) (int64, error) {
	var n int64
	err := r.do(ctx, "bulk_load", func(ctx context.Context) error {
		var err error
		n, err = r.Sink.BulkLoad(ctx, def, rows)
		return err
	})
	return n, err
}
