// Package coerce converts loosely typed decoded JSON values into canonical Go
// values. Every function is total: unparsable input reports ok=false (null)
// instead of an error, because malformed scraped data is the normal case.
package coerce

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// String renders scalars as text and nested values as JSON. nil is not ok.
func String(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return CleanText(x), true
	case []byte:
		return CleanText(string(x)), true
	case map[string]any, []any:
		return JSONText(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	default:
		return scalarText(x), true
	}
}

// ID is String with surrounding space trimmed; an empty result is not ok.
// Integral numbers render without a fraction whatever their encoding, so
// 65123, 65123.0 and json.Number("65123.0") share one identity.
func ID(v any) (string, bool) {
	switch v.(type) {
	case map[string]any, []any:
		return "", false
	}
	if s, ok := integralText(v); ok {
		return s, true
	}
	s, ok := String(v)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Float parses numbers and numeric strings. NaN and infinities are not ok.
func Float(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		p, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = p
	case []byte:
		return Float(string(x))
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int parses integers; integral floats such as 42.0 are accepted.
func Int(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i, true
		}
	case []byte:
		return Int(string(x))
	}
	f, ok := Float(v)
	if !ok || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

var (
	truthy = map[string]struct{}{"true": {}, "t": {}, "yes": {}, "y": {}, "1": {}, "on": {}, "::y": {}, "sim": {}}
	falsy  = map[string]struct{}{"false": {}, "f": {}, "no": {}, "n": {}, "0": {}, "off": {}, "::n": {}, "não": {}, "nao": {}}
)

// Bool maps explicit tokens. Anything else, including the empty string, is
// not ok; it never defaults to false.
func Bool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		if _, ok := truthy[s]; ok {
			return true, true
		}
		if _, ok := falsy[s]; ok {
			return false, true
		}
		return false, false
	case nil, map[string]any, []any:
		return false, false
	}
	f, ok := Float(v)
	if !ok {
		return false, false
	}
	switch f {
	case 1:
		return true, true
	case 0:
		return false, true
	}
	return false, false
}

// Layouts tried by Time, most specific first. Values without an offset are
// read as UTC.
var Layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	time.RFC1123Z,
	time.RFC1123,
}

// Time parses timestamps and returns them in UTC. Numbers are Unix epoch
// seconds, or milliseconds when larger than 1e12.
func Time(v any) (time.Time, bool) {
	t, ok := parseTime(v)
	if !ok {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Date returns the calendar date of v (in the zone it was written in) as
// midnight UTC.
func Date(v any) (time.Time, bool) {
	t, ok := parseTime(v)
	if !ok {
		return time.Time{}, false
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
}

func parseTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range Layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	case []byte:
		return parseTime(string(x))
	case bool, nil, map[string]any, []any:
		return time.Time{}, false
	}
	f, ok := Float(v)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// StringArray normalizes v into a list of strings, preserving order:
// strings pass through, objects and nested lists become JSON text, null
// becomes "", other scalars their text form. A non-list object becomes a
// one-item list holding its JSON; a scalar a one-item list; null an empty
// list.
func StringArray(v any) []string {
	switch x := v.(type) {
	case nil:
		return []string{}
	case []string:
		return append([]string{}, x...)
	case []any:
		out := make([]string, len(x))
		for i, item := range x {
			out[i] = arrayItem(item)
		}
		return out
	case map[string]any:
		return []string{JSONText(x)}
	default:
		return []string{arrayItem(x)}
	}
}

func arrayItem(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return CleanText(x)
	case map[string]any, []any:
		return JSONText(x)
	default:
		s, _ := String(x)
		return s
	}
}

// Strip returns a copy of v with the given object keys removed at every
// depth. v itself is not modified.
func Strip(v any, keys map[string]struct{}) any {
	if len(keys) == 0 {
		return v
	}
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			if _, drop := keys[k]; drop {
				continue
			}
			out[k] = Strip(vv, keys)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = Strip(vv, keys)
		}
		return out
	default:
		return v
	}
}

// maxExactFloat is 2^53, the largest magnitude below which every integer
// is exactly representable as a float64.
const maxExactFloat = 1 << 53

// integralText renders numeric v as a base-10 integer when it has no
// fractional part.
func integralText(v any) (string, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		p, err := x.Float64()
		if err != nil {
			return "", false
		}
		f = p
	case float64:
		f = x
	case float32:
		f = float64(x)
	default:
		return "", false
	}
	if f != math.Trunc(f) || f > maxExactFloat || f < -maxExactFloat {
		return "", false
	}
	return strconv.FormatInt(int64(f), 10), true
}

func scalarText(v any) string {
	switch x := v.(type) {
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}
