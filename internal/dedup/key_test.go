package dedup

import (
	"encoding/json"
	"testing"
	"time"

	"listingload/internal/records"
	"listingload/internal/schema"
)

/*
Normalization must make a transformed value and the same value read back
from any sink produce identical keys.
*/
func TestNormalizeAcrossRepresentations(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		typ  schema.FieldType
		a, b any
	}{
		{schema.TypeDate, day, "2024-01-01"},
		{schema.TypeDate, day, []byte("2024-01-01")},
		{schema.TypeDate, day, time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("x", -5*3600))},
		{schema.TypeTimestamp, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), "2024-01-01T13:00:00+01:00"},
		{schema.TypeInt, int64(42), "42"},
		{schema.TypeInt, int64(42), float64(42)},
		{schema.TypeFloat, 1200.0, "1200"},
		{schema.TypeBool, true, int64(1)},
		{schema.TypeID, "flat-x", []byte("flat-x")},
		{schema.TypeID, "42", int64(42)},
		{schema.TypeID, json.Number("65123.0"), float64(65123)},
		{schema.TypeID, json.Number("65123.0"), "65123"},
	}
	for _, c := range cases {
		ka, oka := Normalize(c.typ, c.a)
		kb, okb := Normalize(c.typ, c.b)
		if !oka || !okb || ka != kb {
			t.Errorf("%s: %#v -> %q/%v, %#v -> %q/%v", c.typ, c.a, ka, oka, c.b, kb, okb)
		}
	}
}

func TestNormalizeExactMatchOnly(t *testing.T) {
	t.Parallel()
	a, _ := Normalize(schema.TypeID, "flat-x")
	b, _ := Normalize(schema.TypeID, "flat-x ")
	c, _ := Normalize(schema.TypeString, "Flat-X")
	if a != b {
		t.Fatalf("ids are trimmed: %q vs %q", a, b)
	}
	if a == c {
		t.Fatal("keys must be case-sensitive")
	}
	if _, ok := Normalize(schema.TypeDate, "not a date"); ok {
		t.Fatal("unparsable date must not produce a key")
	}
}

func TestKeyer(t *testing.T) {
	t.Parallel()
	s := testSchema()
	k, err := NewKeyer(s)
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	key, ok := k.RowKey(records.Row{"flat-x", 10.0, day})
	if !ok || String(key) != "flat-x|2024-01-01" {
		t.Fatalf("RowKey = %q, %v", String(key), ok)
	}
	back, ok := k.TupleKey([]any{"flat-x", "2024-01-01"})
	if !ok || back != key {
		t.Fatalf("TupleKey = %q, want %q", back, key)
	}
	if key, ok := k.RowKey(records.Row{nil, 1.0, day}); ok || String(key) != "<null>|2024-01-01" {
		t.Fatalf("null component: %q, %v", String(key), ok)
	}
	if _, ok := k.TupleKey([]any{"flat-x"}); ok {
		t.Fatal("short tuple must not key")
	}

	if _, err := NewKeyer(&schema.Schema{Name: "x", Fields: s.Fields}); err == nil {
		t.Fatal("expected error without key fields")
	}
}

func TestKeySet(t *testing.T) {
	t.Parallel()
	s := NewKeySet()
	if !s.Add("a") || !s.Add("b") || s.Add("a") {
		t.Fatal("Add")
	}
	if !s.Has("a") || s.Has("c") || s.Len() != 2 || len(s.Keys()) != 2 {
		t.Fatalf("set = %v", s.Keys())
	}
	var empty *KeySet
	if empty.Has("a") || empty.Len() != 0 {
		t.Fatal("nil set must be empty")
	}
}

func testSchema() *schema.Schema {
	return &schema.Schema{
		Name: "listings",
		Fields: []schema.Field{
			{Name: "slug", Type: schema.TypeID, Paths: []string{"slug"}, Required: true},
			{Name: "price", Type: schema.TypeFloat, Paths: []string{"price"}},
			{Name: "ingestionDate", Type: schema.TypeDate, Paths: []string{"ingestionDate"}, Source: schema.SourceMeta},
		},
		KeyFields: []string{"slug", "ingestionDate"},
	}
}
