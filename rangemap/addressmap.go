package rangemap

import "sort"

type addrEntry[V any] struct {
	addr  uint64
	value V
}

// AddressMap maps unique addresses to values, and answers "greatest key at
// or below the query" lookups. It carries no size/interval semantics --
// that's what RangeMap is for.
type AddressMap[V any] struct {
	entries []addrEntry[V] // sorted by addr, unique
}

// NewAddressMap returns an empty AddressMap.
func NewAddressMap[V any]() *AddressMap[V] {
	return &AddressMap[V]{}
}

// Store maps addr to value. It fails if addr is already present.
func (m *AddressMap[V]) Store(addr uint64, value V) bool {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].addr >= addr })
	if i < len(m.entries) && m.entries[i].addr == addr {
		return false
	}
	m.entries = append(m.entries, addrEntry[V]{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = addrEntry[V]{addr: addr, value: value}
	return true
}

// Retrieve returns the entry with the greatest key <= addr, if any.
func (m *AddressMap[V]) Retrieve(addr uint64) (value V, storedAddr uint64, ok bool) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].addr > addr }) - 1
	if i < 0 {
		return
	}
	e := m.entries[i]
	return e.value, e.addr, true
}

// Len returns the number of stored entries.
func (m *AddressMap[V]) Len() int {
	return len(m.entries)
}

// Each calls fn for every stored entry in ascending address order.
func (m *AddressMap[V]) Each(fn func(addr uint64, value V)) {
	for _, e := range m.entries {
		fn(e.addr, e.value)
	}
}

// Equal reports whether m and other contain the same set of (addr, value)
// pairs, using eq to compare values.
func (m *AddressMap[V]) Equal(other *AddressMap[V], eq func(a, b V) bool) bool {
	if other == nil {
		return len(m.entries) == 0
	}
	if len(m.entries) != len(other.entries) {
		return false
	}
	for i, e := range m.entries {
		o := other.entries[i]
		if e.addr != o.addr || !eq(e.value, o.value) {
			return false
		}
	}
	return true
}
