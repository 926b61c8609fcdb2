package mssql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"

	"listingload/internal/ddl"
	"listingload/internal/schema"
	"listingload/internal/storage"
)

// TestMsIdent verifies that msIdent brackets identifiers and escapes closing
// brackets.
func TestMsIdent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"simple", "[simple]"},
		{"dbo", "[dbo]"},
		{"brack]et", "[brack]]et]"},
		{`weird]]name`, `[weird]]]]name]`},
	}
	for _, tc := range cases {
		if got := msIdent(tc.in); got != tc.want {
			t.Fatalf("msIdent(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

// TestQuoteTable verifies schema-qualified names are quoted per segment.
func TestQuoteTable(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"table", "[table]"},
		{"dbo.table", "[dbo].[table]"},
		{"sales.q4.table", "[sales].[q4].[table]"},
	}
	for _, tc := range cases {
		if got := Dialect.QuoteTable(tc.in); got != tc.want {
			t.Fatalf("QuoteTable(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestCreateIfMissing(t *testing.T) {
	def := ddl.TableDef{FQN: "dbo.o'brien", Columns: []ddl.ColumnDef{
		{Name: "id", Type: schema.TypeID},
		{Name: "active", Type: schema.TypeBool, Nullable: true},
	}}
	create, err := ddl.BuildCreateTableSQL(def, Dialect, false)
	if err != nil {
		t.Fatal(err)
	}
	got := createIfMissing(Dialect, def.FQN, create)
	if !strings.HasPrefix(got, "IF OBJECT_ID(N'[dbo].[o''brien]', N'U') IS NULL\nCREATE TABLE [dbo].[o'brien] (") {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(got, "[id] NVARCHAR(450) NOT NULL") || !strings.Contains(got, "[active] BIT") {
		t.Fatalf("column types: %q", got)
	}
}

func TestPermanent(t *testing.T) {
	if !permanent(fmt.Errorf("wrapped: %w", mssql.Error{Number: 208})) {
		t.Fatal("invalid object should be permanent")
	}
	if permanent(mssql.Error{Number: 1205}) { // deadlock victim
		t.Fatal("deadlocks should be retried")
	}
	if permanent(errors.New("i/o timeout")) {
		t.Fatal("network errors should be retried")
	}
}

func TestOpenRejectsBadDSN(t *testing.T) {
	if _, err := Open(context.Background(), storage.Config{DSN: "sqlserver://%zz"}); err == nil {
		t.Fatal("expected DSN error")
	}
}

func TestAdapterRegistration(t *testing.T) {
	orig := newSink
	defer func() { newSink = orig }()

	called := false
	newSink = func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		called = true
		return nil, errors.New("stub")
	}
	if _, err := storage.New(context.Background(), storage.Config{Kind: "mssql"}); err == nil || !called {
		t.Fatalf("hook not used: called=%v err=%v", called, err)
	}
}
