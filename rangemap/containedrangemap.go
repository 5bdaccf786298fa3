package rangemap

import "sort"

// ContainedRangeMap is a recursive interval tree: a range that falls
// strictly inside an already-stored range becomes that range's child, so
// that lookup returns the tightest-enclosing entry. The zero value is an
// empty tree (the sentinel root, which carries no entry of its own).
//
// Insertion policy for the ambiguous case -- a new range that would
// strictly contain one or more existing siblings -- is to REJECT the
// insertion rather than re-parent the existing children under the new
// node. This is the simpler of the two policies the format allows and is
// applied consistently by StoreRange.
type ContainedRangeMap[V any] struct {
	base     uint64
	size     uint64
	hasEntry bool
	entry    V
	children []*ContainedRangeMap[V] // sorted by base, pairwise disjoint
}

// NewContainedRangeMap returns an empty tree.
func NewContainedRangeMap[V any]() *ContainedRangeMap[V] {
	return &ContainedRangeMap[V]{}
}

// StoreRange inserts value for [base, base+size) at the deepest level of
// the tree where it fits without conflicting with a non-containing
// sibling. Fails if size is 0, base+size overflows, the range exactly
// duplicates a stored range, the range partially overlaps a sibling
// without containing it, or the range would strictly contain an existing
// sibling.
func (m *ContainedRangeMap[V]) StoreRange(base, size uint64, value V) bool {
	if size == 0 {
		return false
	}
	end := base + size
	if end <= base {
		return false // overflow
	}
	return storeInto(&m.children, base, size, end, value)
}

func storeInto[V any](children *[]*ContainedRangeMap[V], base, size, end uint64, value V) bool {
	for _, c := range *children {
		cEnd := c.base + c.size
		switch {
		case base >= c.base && end <= cEnd:
			if base == c.base && end == cEnd {
				return false // exact duplicate
			}
			return storeInto(&c.children, base, size, end, value)
		case base < cEnd && end > c.base:
			// Partial overlap, or the new range strictly contains c: both
			// are rejected under the chosen containment policy.
			return false
		}
	}

	node := &ContainedRangeMap[V]{base: base, size: size, hasEntry: true, entry: value}
	i := sort.Search(len(*children), func(i int) bool { return (*children)[i].base >= base })
	*children = append(*children, nil)
	copy((*children)[i+1:], (*children)[i:])
	(*children)[i] = node
	return true
}

// RetrieveRange walks down from the root choosing, at each level, the
// child whose interval contains addr, and returns the entry belonging to
// the deepest such node. If the root has no matching child, it returns
// false: the sentinel root carries no entry of its own.
func (m *ContainedRangeMap[V]) RetrieveRange(addr uint64) (value V, ok bool) {
	var found *ContainedRangeMap[V]
	children := m.children
	for {
		var next *ContainedRangeMap[V]
		for _, c := range children {
			if addr >= c.base && addr < c.base+c.size {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		found = next
		children = next.children
	}
	if found == nil {
		var zero V
		return zero, false
	}
	return found.entry, true
}

// Equal reports whether m and other are structurally identical trees,
// using eq to compare entry values.
func (m *ContainedRangeMap[V]) Equal(other *ContainedRangeMap[V], eq func(a, b V) bool) bool {
	if other == nil {
		return len(m.children) == 0
	}
	if len(m.children) != len(other.children) {
		return false
	}
	for i, c := range m.children {
		o := other.children[i]
		if c.base != o.base || c.size != o.size || c.hasEntry != o.hasEntry {
			return false
		}
		if c.hasEntry && !eq(c.entry, o.entry) {
			return false
		}
		if !c.Equal(o, eq) {
			return false
		}
	}
	return true
}

// EachChild calls fn for every direct child of m, in ascending base order.
// Codecs use this together with the Base, Size and Entry accessors to walk the tree
// recursively without exposing the internal slice representation.
func (m *ContainedRangeMap[V]) EachChild(fn func(child *ContainedRangeMap[V])) {
	for _, c := range m.children {
		fn(c)
	}
}

// Base returns the node's interval base address.
func (m *ContainedRangeMap[V]) Base() uint64 { return m.base }

// Size returns the node's interval size.
func (m *ContainedRangeMap[V]) Size() uint64 { return m.size }

// Entry returns the node's entry, and whether it has one at all (the
// sentinel root never does).
func (m *ContainedRangeMap[V]) Entry() (value V, ok bool) {
	return m.entry, m.hasEntry
}

// NewChild constructs a detached node carrying the given base, size and
// entry, ready to have its own children attached. It exists so a codec
// can rebuild a tree bottom-up during decode without reaching into
// unexported fields from another package.
func NewChild[V any](base, size uint64, value V, hasEntry bool) *ContainedRangeMap[V] {
	return &ContainedRangeMap[V]{base: base, size: size, entry: value, hasEntry: hasEntry}
}

// AddChild appends a fully constructed child node. The caller is
// responsible for maintaining sort order and disjointness; this is used
// only by decoders reconstructing a tree that was already validated when
// it was first built by StoreRange.
func (m *ContainedRangeMap[V]) AddChild(child *ContainedRangeMap[V]) {
	m.children = append(m.children, child)
}
