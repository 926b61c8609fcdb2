package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	"listingload/internal/ddl"
	"listingload/internal/records"
	"listingload/internal/schema"
	"listingload/internal/storage"
	"listingload/internal/storage/sqlite"
)

func testSchema() *schema.Schema {
	return &schema.Schema{
		Name: "listings",
		Fields: []schema.Field{
			{Name: "slug", Type: schema.TypeID, Paths: []string{"slug"}, Required: true},
			{Name: "price", Type: schema.TypeFloat, Paths: []string{"price"}},
			{Name: "ingestionDate", Type: schema.TypeDate, Paths: []string{"ingestionDate"}, Source: schema.SourceMeta, Required: true},
		},
		KeyFields: []string{"slug", "ingestionDate"},
	}
}

func memSink(tb testing.TB) storage.Sink {
	tb.Helper()
	s, err := sqlite.Open(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

func count(tb testing.TB, sink storage.Sink) int64 {
	tb.Helper()
	rows, err := sink.Query(context.Background(), `SELECT COUNT(*) FROM "listings"`)
	if err != nil {
		tb.Fatal(err)
	}
	return rows[0][0].(int64)
}

var day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestParseDisposition(t *testing.T) {
	t.Parallel()
	cases := map[string]Disposition{
		"":                  AppendOnly,
		"append-only":       AppendOnly,
		"Create-If-Missing": CreateIfMissing,
		"never-create":      NeverCreate,
	}
	for in, want := range cases {
		got, err := ParseDisposition(in)
		if err != nil || got != want {
			t.Errorf("ParseDisposition(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDisposition("upsert"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPrepareDispositions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, d := range []Disposition{AppendOnly, NeverCreate} {
		err := New(memSink(t), "listings", testSchema(), d, nil).Prepare(ctx)
		if !errors.Is(err, storage.ErrTableNotFound) {
			t.Fatalf("%s: err = %v, want ErrTableNotFound", d, err)
		}
	}

	sink := memSink(t)
	l := New(sink, "listings", testSchema(), CreateIfMissing, nil)
	if err := l.Prepare(ctx); err != nil {
		t.Fatalf("create-if-missing: %v", err)
	}
	// existing table with matching columns is accepted by every disposition
	if err := New(sink, "listings", testSchema(), AppendOnly, nil).Prepare(ctx); err != nil {
		t.Fatalf("append-only on existing table: %v", err)
	}
}

func TestPrepareSchemaMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := memSink(t)
	other := ddl.TableDef{FQN: "listings", Columns: []ddl.ColumnDef{
		{Name: "slug", Type: schema.TypeID},
		{Name: "price_eur", Type: schema.TypeFloat, Nullable: true},
		{Name: "ingestionDate", Type: schema.TypeDate},
	}}
	if err := sink.CreateTable(ctx, other); err != nil {
		t.Fatal(err)
	}
	err := New(sink, "listings", testSchema(), CreateIfMissing, nil).Prepare(ctx)
	var mm *storage.SchemaMismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("err = %v, want SchemaMismatchError", err)
	}
	if len(mm.Missing) != 1 || mm.Missing[0] != "price" || len(mm.Extra) != 1 || mm.Extra[0] != "price_eur" {
		t.Fatalf("mismatch = %+v", mm)
	}
}

func TestPrepareColumnTypeMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := memSink(t)
	// Same names, but price is declared as text.
	other := ddl.TableDef{FQN: "listings", Columns: []ddl.ColumnDef{
		{Name: "slug", Type: schema.TypeID},
		{Name: "price", Type: schema.TypeString, Nullable: true},
		{Name: "ingestionDate", Type: schema.TypeDate},
	}}
	if err := sink.CreateTable(ctx, other); err != nil {
		t.Fatal(err)
	}
	err := New(sink, "listings", testSchema(), CreateIfMissing, nil).Prepare(ctx)
	var mm *storage.SchemaMismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("err = %v, want SchemaMismatchError", err)
	}
	if len(mm.Missing) != 0 || len(mm.Extra) != 0 || len(mm.Retyped) != 1 || mm.Retyped[0] != "price (TEXT, want float)" {
		t.Fatalf("mismatch = %+v", mm)
	}
}

func TestLoadAppends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := memSink(t)
	b := &records.Batch{Schema: testSchema(), Rows: []records.Row{
		{"a", 1.0, day},
		{"b", nil, day},
	}}
	n, err := Load(ctx, b, sink, "listings", CreateIfMissing)
	if err != nil || n != 2 {
		t.Fatalf("Load = %d, %v", n, err)
	}
	// pure append: loading again doubles the rows
	if n, err := Load(ctx, b, sink, "listings", AppendOnly); err != nil || n != 2 {
		t.Fatalf("second Load = %d, %v", n, err)
	}
	if got := count(t, sink); got != 4 {
		t.Fatalf("count = %d, want 4", got)
	}
}

// countingSink fails the test on any call.
type countingSink struct {
	storage.Sink
	t *testing.T
}

func (c countingSink) TableColumns(context.Context, string) ([]storage.Column, error) {
	c.t.Fatal("TableColumns called for empty batch")
	return nil, nil
}

func (c countingSink) BulkLoad(context.Context, ddl.TableDef, [][]any) (int64, error) {
	c.t.Fatal("BulkLoad called for empty batch")
	return 0, nil
}

func TestEmptyBatchIsNoOp(t *testing.T) {
	t.Parallel()
	sink := countingSink{t: t}
	empty := &records.Batch{Schema: testSchema()}
	if n, err := Load(context.Background(), empty, sink, "listings", AppendOnly); err != nil || n != 0 {
		t.Fatalf("Load = %d, %v", n, err)
	}
	if n, err := New(sink, "listings", testSchema(), AppendOnly, nil).Load(context.Background(), empty); err != nil || n != 0 {
		t.Fatalf("Loader.Load = %d, %v", n, err)
	}
}

func TestLoadIsAtomic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := memSink(t)
	l := New(sink, "listings", testSchema(), CreateIfMissing, nil)
	if err := l.Prepare(ctx); err != nil {
		t.Fatal(err)
	}
	bad := &records.Batch{Schema: testSchema(), Rows: []records.Row{
		{"a", 1.0, day},
		{"b", 2.0, nil}, // NOT NULL ingestionDate
	}}
	if _, err := l.Load(ctx, bad); err == nil {
		t.Fatal("expected error")
	}
	if got := count(t, sink); got != 0 {
		t.Fatalf("partial load visible: %d rows", got)
	}
}
