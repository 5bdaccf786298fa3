package breakpad

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingCache wraps a DiskModuleCache and counts calls into it, so tests
// can assert the LRU actually short-circuits repeat reads.
type countingCache struct {
	*DiskModuleCache
	gets int
}

func (c *countingCache) GetModuleData(symPath string) (io.ReadCloser, bool, error) {
	c.gets++
	return c.DiskModuleCache.GetModuleData(symPath)
}

func TestMemoryModuleCacheHitsAvoidBacking(t *testing.T) {
	backing := &countingCache{DiskModuleCache: NewDiskModuleCache(t.TempDir())}
	cache, err := NewMemoryModuleCache(backing, 8)
	require.NoError(t, err)

	symPath := "foo.pdb/ABCDEF0123/foo.sym"
	w, err := cache.BeginSetModuleData(symPath)
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, cache.EndSetModuleData(symPath, w))

	for i := 0; i < 3; i++ {
		r, ok, err := cache.GetModuleData(symPath)
		require.NoError(t, err)
		require.True(t, ok)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
		require.NoError(t, r.Close())
	}
	assert.Equal(t, 0, backing.gets, "all reads should be served from the memory tier after the write populated it")
}

func TestMemoryModuleCacheMissFillsFromBacking(t *testing.T) {
	backing := &countingCache{DiskModuleCache: NewDiskModuleCache(t.TempDir())}
	symPath := "foo.pdb/ABCDEF0123/foo.sym"

	w, err := backing.BeginSetModuleData(symPath)
	require.NoError(t, err)
	_, err = w.Write([]byte("from disk"))
	require.NoError(t, err)
	require.NoError(t, backing.EndSetModuleData(symPath, w))

	cache, err := NewMemoryModuleCache(backing, 8)
	require.NoError(t, err)

	r, ok, err := cache.GetModuleData(symPath)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(data))
	assert.Equal(t, 1, backing.gets)

	r2, ok, err := cache.GetModuleData(symPath)
	require.NoError(t, err)
	require.True(t, ok)
	data2, err := io.ReadAll(r2)
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(data2))
	assert.Equal(t, 1, backing.gets, "second read should be served from the memory tier")
}
