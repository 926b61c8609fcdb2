package extract

import (
	"encoding/json"
	"fmt"
)

// SafeGet walks doc along path and returns the value found there, or def when
// any step does not fit the document's shape. A present null is returned as
// nil. An empty path returns doc itself.
func SafeGet(doc any, path Path, def any) any {
	cur := doc
	for i, seg := range path {
		switch seg.kind {
		case segKey:
			m, ok := cur.(map[string]any)
			if !ok {
				return def
			}
			v, ok := m[seg.key]
			if !ok {
				return def
			}
			cur = v

		case segIndex:
			l, ok := cur.([]any)
			if !ok {
				return def
			}
			idx := seg.index
			if idx < 0 {
				idx += len(l)
			}
			if idx < 0 || idx >= len(l) {
				return def
			}
			cur = l[idx]

		case segMatch:
			l, ok := cur.([]any)
			if !ok {
				return def
			}
			found := false
			for _, el := range l {
				m, ok := el.(map[string]any)
				if !ok {
					continue
				}
				if v, ok := m[seg.field]; ok && scalarString(v) == seg.value {
					cur, found = m, true
					break
				}
			}
			if !found {
				return def
			}

		case segEach:
			l, ok := cur.([]any)
			if !ok {
				return def
			}
			rest := path[i+1:]
			out := make([]any, 0, len(l))
			for _, el := range l {
				if v := SafeGet(el, rest, nil); v != nil {
					out = append(out, v)
				}
			}
			return out
		}
	}
	return cur
}

// FirstOf evaluates each path in order and returns the first non-null value,
// or def when every path misses.
func FirstOf(doc any, paths []Path, def any) any {
	for _, p := range paths {
		if v := SafeGet(doc, p, nil); v != nil {
			return v
		}
	}
	return def
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
