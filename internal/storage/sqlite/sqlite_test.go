package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"listingload/internal/ddl"
	"listingload/internal/schema"
	"listingload/internal/storage"
	"listingload/internal/storage/sqlbase"
)

/*
Package-level test helpers
*/

func newMemSink(tb testing.TB) *sqlbase.Sink {
	tb.Helper()
	s, err := Open(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		tb.Fatalf("open sqlite :memory:: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

func listingsDef() ddl.TableDef {
	return ddl.TableDef{
		FQN: "listings",
		Columns: []ddl.ColumnDef{
			{Name: "id", Type: schema.TypeID},
			{Name: "price", Type: schema.TypeFloat, Nullable: true},
			{Name: "tags", Type: schema.TypeStringArray},
			{Name: "seen_at", Type: schema.TypeTimestamp, Nullable: true},
			{Name: "ingestionDate", Type: schema.TypeDate},
		},
	}
}

/*
Unit tests
*/

func TestTableColumns(t *testing.T) {
	t.Parallel()
	s := newMemSink(t)
	ctx := context.Background()

	if _, err := s.TableColumns(ctx, "listings"); !errors.Is(err, storage.ErrTableNotFound) {
		t.Fatalf("missing table: err = %v, want ErrTableNotFound", err)
	}
	if err := s.CreateTable(ctx, listingsDef()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	// second create is a no-op
	if err := s.CreateTable(ctx, listingsDef()); err != nil {
		t.Fatalf("CreateTable again: %v", err)
	}
	for _, fqn := range []string{"listings", "main.listings"} {
		cols, err := s.TableColumns(ctx, fqn)
		if err != nil {
			t.Fatalf("TableColumns(%s): %v", fqn, err)
		}
		if err := storage.CompareColumns(fqn, listingsDef().Columns, cols); err != nil {
			t.Fatalf("columns: %v", err)
		}
		if cols[1] != (storage.Column{Name: "price", Type: "REAL"}) {
			t.Fatalf("cols[1] = %+v, want price REAL", cols[1])
		}
	}
}

func TestBulkLoadAndQuery(t *testing.T) {
	t.Parallel()
	s := newMemSink(t)
	ctx := context.Background()
	def := listingsDef()
	if err := s.CreateTable(ctx, def); err != nil {
		t.Fatal(err)
	}

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	seen := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	n, err := s.BulkLoad(ctx, def, [][]any{
		{"a", 10.5, []string{"x", "y"}, seen, day},
		{"b", nil, []string{}, nil, day},
	})
	if err != nil || n != 2 {
		t.Fatalf("BulkLoad = %d, %v", n, err)
	}

	rows, err := s.Query(ctx, `SELECT "id", "tags", "seen_at", "ingestionDate" FROM "listings" WHERE "price" IS NULL OR "price" > ? ORDER BY "id"`, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[0][1] != `["x", "y"]` || rows[0][2] != "2024-03-01T10:30:00Z" || rows[0][3] != "2024-03-01" {
		t.Fatalf("row 0 = %#v", rows[0])
	}
	if rows[1][0] != "b" || rows[1][2] != nil {
		t.Fatalf("row 1 = %#v", rows[1])
	}
}

func TestBulkLoadIsAtomic(t *testing.T) {
	t.Parallel()
	s := newMemSink(t)
	ctx := context.Background()
	def := listingsDef()
	if err := s.CreateTable(ctx, def); err != nil {
		t.Fatal(err)
	}

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.BulkLoad(ctx, def, [][]any{
		{"a", 1.0, []string{}, nil, day},
		{nil, 2.0, []string{}, nil, day}, // violates NOT NULL
	})
	if err == nil {
		t.Fatal("expected constraint error")
	}
	rows, err := s.Query(ctx, `SELECT COUNT(*) FROM "listings"`)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0][0] != int64(0) {
		t.Fatalf("count = %v, want 0 after rollback", rows[0][0])
	}
}

func TestBulkLoadRejectsShortRows(t *testing.T) {
	t.Parallel()
	s := newMemSink(t)
	if _, err := s.BulkLoad(context.Background(), listingsDef(), [][]any{{"a"}}); err == nil {
		t.Fatal("expected row width error")
	}
}

func TestStagingLifecycle(t *testing.T) {
	t.Parallel()
	s := newMemSink(t)
	ctx := context.Background()

	key := ddl.TableDef{FQN: "listings", Columns: []ddl.ColumnDef{
		{Name: "id", Type: schema.TypeID},
		{Name: "ingestionDate", Type: schema.TypeDate},
	}}
	named := s.StagingTable(key)
	if named.FQN == "listings" || s.StagingTable(key).FQN == named.FQN {
		t.Fatalf("staging names not fresh: %s", named.FQN)
	}
	st, err := s.CreateStaging(ctx, named)
	if err != nil {
		t.Fatalf("CreateStaging: %v", err)
	}
	// a retried create of the same table succeeds
	if _, err := s.CreateStaging(ctx, named); err != nil {
		t.Fatalf("CreateStaging again: %v", err)
	}
	if st.Name() != named.FQN {
		t.Fatalf("staging name = %s, want %s", st.Name(), named.FQN)
	}
	if _, err := s.TableColumns(ctx, st.Name()); err != nil {
		t.Fatalf("staging not created: %v", err)
	}
	if err := s.DropStaging(ctx, st); err != nil {
		t.Fatalf("DropStaging: %v", err)
	}
	if err := s.DropStaging(ctx, st); err != nil {
		t.Fatalf("DropStaging twice: %v", err)
	}
	if _, err := s.TableColumns(ctx, st.Name()); !errors.Is(err, storage.ErrTableNotFound) {
		t.Fatalf("staging still present: %v", err)
	}
}

func TestIsMemory(t *testing.T) {
	t.Parallel()
	for dsn, want := range map[string]bool{
		":memory:":                        true,
		"file:x?mode=memory&cache=shared": true,
		"listings.db":                     false,
	} {
		if IsMemory(dsn) != want {
			t.Errorf("IsMemory(%q) != %v", dsn, want)
		}
	}
}
