package extract

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return v
}

func TestSafeGet(t *testing.T) {
	t.Parallel()

	doc := decode(t, `{
		"id": 7,
		"location": {"address": {"city": {"name": "Lisboa"}, "street": null}},
		"images": [{"large": "a.jpg"}, {"small": "b.jpg"}, {"large": "c.jpg"}],
		"characteristics": [
			{"key": "price", "value": "250000", "currency": "EUR"},
			{"key": "m", "value": "84"}
		],
		"tags": "not-a-list"
	}`)

	tests := []struct {
		name string
		path string
		want any
	}{
		{"nested key", "location.address.city.name", "Lisboa"},
		{"present null", "location.address.street", nil},
		{"absent key", "location.address.zip", "DEF"},
		{"through scalar", "id.value", "DEF"},
		{"index", "images[0].large", "a.jpg"},
		{"negative index", "images[-1].large", "c.jpg"},
		{"index out of range", "images[9].large", "DEF"},
		{"index into non-list", "tags[0]", "DEF"},
		{"match", "characteristics[key=price].currency", "EUR"},
		{"match miss", "characteristics[key=rooms].value", "DEF"},
		{"each", "images[*].large", []any{"a.jpg", "c.jpg"}},
		{"each over non-list", "tags[*].x", "DEF"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := SafeGet(doc, MustParsePath(tc.path), "DEF")
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("SafeGet(%q) = %#v, want %#v", tc.path, got, tc.want)
			}
		})
	}
}

func TestSafeGet_NonMappingDocument(t *testing.T) {
	t.Parallel()
	for _, doc := range []any{nil, "text", 3.5, []any{1, 2}} {
		if got := SafeGet(doc, MustParsePath("a.b"), "fallback"); got != "fallback" {
			t.Fatalf("SafeGet(%#v) = %#v, want fallback", doc, got)
		}
	}
}

func TestFirstOf(t *testing.T) {
	t.Parallel()
	doc := decode(t, `{"adCategory": {"name": "apartment"}, "category": {"name": []}}`)
	paths := []Path{MustParsePath("category.name[0].value"), MustParsePath("adCategory.name")}
	if got := FirstOf(doc, paths, nil); got != "apartment" {
		t.Fatalf("FirstOf = %#v, want apartment", got)
	}
	if got := FirstOf(doc, []Path{MustParsePath("nope")}, "d"); got != "d" {
		t.Fatalf("FirstOf miss = %#v, want d", got)
	}
}

func TestParsePath(t *testing.T) {
	t.Parallel()

	good := []string{
		"a",
		"a.b.c",
		"images[0]",
		"images[*].large",
		"characteristics[key=price].value",
		"[1].x",
	}
	for _, expr := range good {
		p, err := ParsePath(expr)
		if err != nil {
			t.Fatalf("ParsePath(%q): %v", expr, err)
		}
		if p.String() != expr {
			t.Fatalf("round trip %q -> %q", expr, p.String())
		}
	}

	bad := []string{"", "a..b", "a[0", "a[x]", "a[=v]", "a[0]b"}
	for _, expr := range bad {
		if _, err := ParsePath(expr); err == nil {
			t.Fatalf("ParsePath(%q) expected error", expr)
		}
	}
}
