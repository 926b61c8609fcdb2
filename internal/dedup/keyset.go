package dedup

import "github.com/zeebo/xxh3"

// KeySet is a set of idempotency keys bucketed by their xxh3 hash. Buckets
// hold the full keys, so hash collisions never produce false matches.
type KeySet struct {
	buckets map[uint64][]string
	n       int
}

// NewKeySet returns an empty set.
func NewKeySet() *KeySet {
	return &KeySet{buckets: make(map[uint64][]string)}
}

// Add inserts key and reports whether it was new.
func (s *KeySet) Add(key string) bool {
	h := xxh3.HashString(key)
	for _, k := range s.buckets[h] {
		if k == key {
			return false
		}
	}
	s.buckets[h] = append(s.buckets[h], key)
	s.n++
	return true
}

// Has reports membership. A nil set is empty.
func (s *KeySet) Has(key string) bool {
	if s == nil {
		return false
	}
	for _, k := range s.buckets[xxh3.HashString(key)] {
		if k == key {
			return true
		}
	}
	return false
}

// Len returns the number of keys.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return s.n
}

// Keys returns every key, in no particular order.
func (s *KeySet) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, s.n)
	for _, b := range s.buckets {
		out = append(out, b...)
	}
	return out
}
