package rangemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainedRangeMapNesting(t *testing.T) {
	m := NewContainedRangeMap[string]()
	require.True(t, m.StoreRange(0x1000, 0x100, "outer"))
	require.True(t, m.StoreRange(0x1010, 0x10, "inner"))

	v, ok := m.RetrieveRange(0x1005)
	require.True(t, ok)
	assert.Equal(t, "outer", v)

	v, ok = m.RetrieveRange(0x1012)
	require.True(t, ok)
	assert.Equal(t, "inner", v, "lookup must return the deepest enclosing node")

	v, ok = m.RetrieveRange(0x1030)
	require.True(t, ok)
	assert.Equal(t, "outer", v)

	_, ok = m.RetrieveRange(0x2000)
	assert.False(t, ok)
}

func TestContainedRangeMapRejectsPartialOverlap(t *testing.T) {
	m := NewContainedRangeMap[int]()
	require.True(t, m.StoreRange(0x100, 0x10, 1))
	assert.False(t, m.StoreRange(0x108, 0x10, 2), "partial overlap must be rejected")
}

func TestContainedRangeMapRejectsContainingSibling(t *testing.T) {
	m := NewContainedRangeMap[int]()
	require.True(t, m.StoreRange(0x100, 0x10, 1))
	// A range that would strictly contain the existing sibling is
	// rejected under the chosen containment policy, not re-parented.
	assert.False(t, m.StoreRange(0x0, 0x1000, 2))
}

func TestContainedRangeMapRejectsZeroSize(t *testing.T) {
	m := NewContainedRangeMap[int]()
	assert.False(t, m.StoreRange(0x100, 0, 1))
}

func TestContainedRangeMapEqual(t *testing.T) {
	a := NewContainedRangeMap[int]()
	b := NewContainedRangeMap[int]()
	require.True(t, a.StoreRange(0x10, 0x10, 1))
	require.True(t, a.StoreRange(0x12, 0x2, 2))
	require.True(t, b.StoreRange(0x10, 0x10, 1))
	require.True(t, b.StoreRange(0x12, 0x2, 2))

	eq := func(x, y int) bool { return x == y }
	assert.True(t, a.Equal(b, eq))

	require.True(t, b.StoreRange(0x30, 0x2, 3))
	assert.False(t, a.Equal(b, eq))
}
