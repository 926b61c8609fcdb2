package dedup

import (
	"fmt"
	"sort"
	"strings"

	"listingload/internal/records"
)

// In-batch policies choose which of several rows sharing a key survives:
//
//   - "keep-first"   : the earliest occurrence (default)
//   - "keep-last"    : the latest occurrence
//   - "most-complete": the row with the most non-null values; ties keep the
//     earliest
const (
	KeepFirst    = "keep-first"
	KeepLast     = "keep-last"
	MostComplete = "most-complete"
)

// ParsePolicy validates an in-batch policy name. Empty means keep-first.
func ParsePolicy(s string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case "":
		return KeepFirst, nil
	case KeepFirst, KeepLast, MostComplete:
		return p, nil
	default:
		return "", fmt.Errorf("dedup: unknown in-batch policy %q", s)
	}
}

// InBatch collapses rows that share a key within b. Rows with a null key
// component cannot be matched against the destination and are dropped. The
// survivors keep their original relative order.
func InBatch(b *records.Batch, k *Keyer, policy string) (out *records.Batch, duplicates, unkeyed int) {
	type slot struct {
		index int
		score int
	}
	winners := make(map[string]slot, b.Len())
	for i, r := range b.Rows {
		key, ok := k.RowKey(r)
		if !ok {
			unkeyed++
			continue
		}
		prev, exists := winners[key]
		if exists {
			duplicates++
		}
		switch policy {
		case KeepLast:
			winners[key] = slot{index: i}
		case MostComplete:
			s := slot{index: i, score: completeness(r)}
			if !exists || s.score > prev.score {
				winners[key] = s
			}
		default:
			if !exists {
				winners[key] = slot{index: i}
			}
		}
	}

	indexes := make([]int, 0, len(winners))
	for _, s := range winners {
		indexes = append(indexes, s.index)
	}
	sort.Ints(indexes)
	out = &records.Batch{Schema: b.Schema, Rows: make([]records.Row, len(indexes))}
	for i, idx := range indexes {
		out.Rows[i] = b.Rows[idx]
	}
	return out, duplicates, unkeyed
}

// completeness counts non-null values; empty strings and lists do not count.
func completeness(r records.Row) int {
	n := 0
	for _, v := range r {
		switch x := v.(type) {
		case nil:
			continue
		case string:
			if x == "" {
				continue
			}
		case []string:
			if len(x) == 0 {
				continue
			}
		}
		n++
	}
	return n
}
