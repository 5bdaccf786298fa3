// Package rangemap provides the interval and point-lookup containers a
// Breakpad symbol module is built from: a non-overlapping interval map
// (RangeMap), a greatest-key-below map (AddressMap), and a recursive
// interval tree for nested ranges (ContainedRangeMap).
//
// All three are keyed by a plain uint64 address. Breakpad symbol files
// only ever describe 32- and 64-bit address spaces, both of which fit
// in a uint64, so there is no need for a type-parameterized address --
// only the stored value is generic.
package rangemap

import "sort"

type rangeEntry[V any] struct {
	base  uint64
	size  uint64
	value V
}

// RangeMap stores disjoint, non-empty intervals [base, base+size) and maps
// each to a value of type V. Storing an interval that overlaps an existing
// one, or that has size 0, fails silently -- the caller gets back false and
// nothing is stored.
type RangeMap[V any] struct {
	entries []rangeEntry[V] // sorted by base, pairwise disjoint
}

// New returns an empty RangeMap.
func New[V any]() *RangeMap[V] {
	return &RangeMap[V]{}
}

// StoreRange maps [base, base+size) to value. It fails if size is 0, if
// base+size overflows uint64, or if the interval intersects one already
// stored.
func (m *RangeMap[V]) StoreRange(base, size uint64, value V) bool {
	if size == 0 {
		return false
	}
	end := base + size
	if end <= base {
		return false // overflow
	}

	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].base >= base })
	if i > 0 {
		prev := m.entries[i-1]
		if prev.base+prev.size > base {
			return false
		}
	}
	if i < len(m.entries) {
		next := m.entries[i]
		if end > next.base {
			return false
		}
	}

	m.entries = append(m.entries, rangeEntry[V]{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = rangeEntry[V]{base: base, size: size, value: value}
	return true
}

// floorIndex returns the index of the rightmost entry with base <= addr, or
// -1 if none exists.
func (m *RangeMap[V]) floorIndex(addr uint64) int {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].base > addr })
	return i - 1
}

// RetrieveRange returns the interval containing addr, if any.
func (m *RangeMap[V]) RetrieveRange(addr uint64) (value V, base, size uint64, ok bool) {
	i := m.floorIndex(addr)
	if i < 0 {
		return
	}
	e := m.entries[i]
	if addr >= e.base && addr < e.base+e.size {
		return e.value, e.base, e.size, true
	}
	return
}

// RetrieveNearestRange returns the interval with the greatest base <= addr,
// whether or not addr actually falls inside it.
func (m *RangeMap[V]) RetrieveNearestRange(addr uint64) (value V, base, size uint64, ok bool) {
	i := m.floorIndex(addr)
	if i < 0 {
		return
	}
	e := m.entries[i]
	return e.value, e.base, e.size, true
}

// Len returns the number of stored intervals.
func (m *RangeMap[V]) Len() int {
	return len(m.entries)
}

// Each calls fn for every stored interval in ascending base order.
func (m *RangeMap[V]) Each(fn func(base, size uint64, value V)) {
	for _, e := range m.entries {
		fn(e.base, e.size, e.value)
	}
}

// Equal reports whether m and other contain the same set of (base, size,
// value) triples, using eq to compare values.
func (m *RangeMap[V]) Equal(other *RangeMap[V], eq func(a, b V) bool) bool {
	if other == nil {
		return len(m.entries) == 0
	}
	if len(m.entries) != len(other.entries) {
		return false
	}
	for i, e := range m.entries {
		o := other.entries[i]
		if e.base != o.base || e.size != o.size || !eq(e.value, o.value) {
			return false
		}
	}
	return true
}
