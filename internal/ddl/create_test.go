package ddl

import (
	"strings"
	"testing"

	"listingload/internal/schema"
)

// plainDialect quotes with double quotes and maps every type to a fixed name.
type plainDialect struct{}

func (plainDialect) QuoteIdent(s string) string { return `"` + s + `"` }
func (d plainDialect) QuoteTable(fqn string) string {
	s, t := SplitFQN(fqn)
	if s == "" {
		return d.QuoteIdent(t)
	}
	return d.QuoteIdent(s) + "." + d.QuoteIdent(t)
}
func (plainDialect) ColumnType(t schema.FieldType) string {
	switch t {
	case schema.TypeID, schema.TypeString:
		return "TEXT"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeFloat:
		return "DOUBLE"
	default:
		return ""
	}
}

// TestBuildCreateTableSQL verifies rendering and error reporting with
// table-driven subtests.
func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		def         TableDef
		ifNotExists bool
		wantSQL     string
		errContains string
	}{
		{
			name:        "empty FQN returns error",
			def:         TableDef{Columns: []ColumnDef{{Name: "id", Type: schema.TypeID}}},
			errContains: "table FQN must not be empty",
		},
		{
			name:        "no columns returns error",
			def:         TableDef{FQN: "public.t"},
			errContains: "at least one column is required",
		},
		{
			name:        "column with empty name",
			def:         TableDef{FQN: "t", Columns: []ColumnDef{{Name: " ", Type: schema.TypeID}}},
			errContains: "column with empty name",
		},
		{
			name:        "unmapped type",
			def:         TableDef{FQN: "t", Columns: []ColumnDef{{Name: "x", Type: schema.TypeJSON}}},
			errContains: "no SQL type",
		},
		{
			name: "nullable, not null, default and pk",
			def: TableDef{FQN: "stg.listings", Columns: []ColumnDef{
				{Name: "slug", Type: schema.TypeID, PrimaryKey: true},
				{Name: "ingestionDate", Type: schema.TypeDate, PrimaryKey: true},
				{Name: "price", Type: schema.TypeFloat, Nullable: true, Default: "0"},
			}},
			ifNotExists: true,
			wantSQL: "CREATE TABLE IF NOT EXISTS \"stg\".\"listings\" (\n" +
				"  \"slug\" TEXT NOT NULL,\n" +
				"  \"ingestionDate\" DATE NOT NULL,\n" +
				"  \"price\" DOUBLE DEFAULT 0,\n" +
				"  PRIMARY KEY (\"slug\", \"ingestionDate\")\n)",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := BuildCreateTableSQL(tc.def, plainDialect{}, tc.ifNotExists)
			if tc.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tc.errContains) {
					t.Fatalf("err = %v, want containing %q", err, tc.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.wantSQL {
				t.Fatalf("SQL mismatch\n got: %q\nwant: %q", got, tc.wantSQL)
			}
		})
	}
}

func TestFromSchemaAndKeyTable(t *testing.T) {
	t.Parallel()
	s, _ := schema.Lookup(schema.SearchResults)

	def := FromSchema("public.listings", s)
	if len(def.Columns) != len(s.Fields) {
		t.Fatalf("columns = %d", len(def.Columns))
	}
	if def.Columns[0].Nullable {
		t.Fatal("required id should be NOT NULL")
	}

	key, err := KeyTable("tmp.keys", s)
	if err != nil {
		t.Fatal(err)
	}
	names := key.ColumnNames()
	if strings.Join(names, ",") != "slug,ingestionDate" {
		t.Fatalf("key columns = %v", names)
	}
	if key.Columns[1].Type != schema.TypeDate || key.Columns[1].Nullable {
		t.Fatalf("key column = %+v", key.Columns[1])
	}
}

func TestSplitFQN(t *testing.T) {
	t.Parallel()
	for in, want := range map[string][2]string{
		"public.t":   {"public", "t"},
		"t":          {"", "t"},
		"db.dbo.t":   {"db.dbo", "t"},
		" spaced.t ": {"spaced", "t"},
	} {
		s, tb := SplitFQN(in)
		if s != want[0] || tb != want[1] {
			t.Fatalf("SplitFQN(%q) = %q,%q", in, s, tb)
		}
		if in == "t" && JoinFQN(s, tb) != "t" {
			t.Fatal("JoinFQN round trip")
		}
	}
}
