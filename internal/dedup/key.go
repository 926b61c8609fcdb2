package dedup

import (
	"strconv"
	"strings"
	"time"

	"listingload/internal/coerce"
	"listingload/internal/records"
	"listingload/internal/schema"
)

const (
	keySep  = '\x1f'
	nullKey = '\x00'
)

// Keyer builds idempotency keys for one schema. Values are normalized by
// the key field's type, so a value read back from any sink (time.Time, text
// or bytes) yields the same key as the transformed value.
type Keyer struct {
	names []string
	idx   []int
	types []schema.FieldType
}

// NewKeyer resolves s's key fields.
func NewKeyer(s *schema.Schema) (*Keyer, error) {
	idx, err := s.KeyIndexes()
	if err != nil {
		return nil, err
	}
	k := &Keyer{names: append([]string(nil), s.KeyFields...), idx: idx, types: make([]schema.FieldType, len(idx))}
	for i, j := range idx {
		k.types[i] = s.Fields[j].Type
	}
	return k, nil
}

// Fields returns the key field names in key order.
func (k *Keyer) Fields() []string { return k.names }

// Tuple returns the key values of row in key order.
func (k *Keyer) Tuple(row records.Row) []any {
	out := make([]any, len(k.idx))
	for i, j := range k.idx {
		out[i] = row[j]
	}
	return out
}

// RowKey returns the key of row. ok is false when any component is null.
func (k *Keyer) RowKey(row records.Row) (string, bool) {
	return k.TupleKey(k.Tuple(row))
}

// TupleKey returns the key of values given in key order. ok is false when
// any component is null or cannot be normalized.
func (k *Keyer) TupleKey(values []any) (string, bool) {
	if len(values) != len(k.types) {
		return "", false
	}
	var b strings.Builder
	ok := true
	for i, v := range values {
		if i > 0 {
			b.WriteByte(keySep)
		}
		s, present := Normalize(k.types[i], v)
		if !present {
			b.WriteByte(nullKey)
			ok = false
			continue
		}
		b.WriteString(s)
	}
	return b.String(), ok
}

// Normalize renders v as the text used for key comparison under type t.
// Dates compare by calendar day and timestamps by UTC instant.
func Normalize(t schema.FieldType, v any) (string, bool) {
	if v == nil {
		return "", false
	}
	if b, isBytes := v.([]byte); isBytes {
		v = string(b)
	}
	switch t {
	case schema.TypeDate:
		if tm, isTime := v.(time.Time); isTime {
			return tm.Format(time.DateOnly), true
		}
		tm, ok := coerce.Date(v)
		if !ok {
			return "", false
		}
		return tm.Format(time.DateOnly), true
	case schema.TypeTimestamp:
		tm, ok := coerce.Time(v)
		if !ok {
			return "", false
		}
		return tm.Format(time.RFC3339Nano), true
	case schema.TypeInt:
		n, ok := coerce.Int(v)
		if !ok {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	case schema.TypeFloat:
		f, ok := coerce.Float(v)
		if !ok {
			return "", false
		}
		return strconv.FormatFloat(f, 'g', -1, 64), true
	case schema.TypeBool:
		bv, ok := coerce.Bool(v)
		if !ok {
			return "", false
		}
		return strconv.FormatBool(bv), true
	case schema.TypeID:
		return coerce.ID(v)
	case schema.TypeString:
		return coerce.String(v)
	default:
		if s, isString := v.(string); isString {
			return s, true
		}
		return coerce.JSONText(v), true
	}
}

// String renders a key for logs: components joined by "|", null as "<null>".
func String(key string) string {
	parts := strings.Split(key, string(keySep))
	for i, p := range parts {
		if p == string(nullKey) {
			parts[i] = "<null>"
		}
	}
	return strings.Join(parts, "|")
}
