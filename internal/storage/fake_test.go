package storage

import (
	"context"
	"sync"

	"listingload/internal/ddl"
	"listingload/internal/schema"
)

// fakeDialect quotes with double quotes and maps every type to TEXT.
type fakeDialect struct{}

func (fakeDialect) QuoteIdent(s string) string           { return `"` + s + `"` }
func (fakeDialect) QuoteTable(s string) string           { return `"` + s + `"` }
func (fakeDialect) ColumnType(schema.FieldType) string { return "TEXT" }

// fakeSink is a minimal Sink whose calls fail with the queued errors first.
type fakeSink struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	closed bool
	staged []string
}

func (f *fakeSink) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeSink) Kind() string         { return "fake" }
func (f *fakeSink) Dialect() ddl.Dialect { return fakeDialect{} }
func (f *fakeSink) TableColumns(ctx context.Context, fqn string) ([]Column, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return []Column{{Name: "id", Type: "TEXT"}}, nil
}
func (f *fakeSink) CreateTable(ctx context.Context, def ddl.TableDef) error { return f.next() }
func (f *fakeSink) StagingTable(def ddl.TableDef) ddl.TableDef {
	def.FQN += "_stg"
	return def
}
func (f *fakeSink) CreateStaging(ctx context.Context, def ddl.TableDef) (Staging, error) {
	f.mu.Lock()
	f.staged = append(f.staged, def.FQN)
	f.mu.Unlock()
	return Staging{Table: def}, f.next()
}
func (f *fakeSink) DropStaging(ctx context.Context, st Staging) error { return f.next() }
func (f *fakeSink) Query(ctx context.Context, sql string, args ...any) ([][]any, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return [][]any{{"a"}}, nil
}
func (f *fakeSink) BulkLoad(ctx context.Context, def ddl.TableDef, rows [][]any) (int64, error) {
	if err := f.next(); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}
func (f *fakeSink) Close() error { f.closed = true; return nil }
