package breakpad

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapToCacheEntry(t *testing.T) {
	cases := []struct {
		symPath string
		want    string
		ok      bool
	}{
		{"/srv/symbols/foo.pdb/ABCDEF/foo.sym", filepath.Join("cache", "foo.pdb", "ABCDEF", "foo.symcache"), true},
		{"foo.pdb/ABCDEF/foo.sym", filepath.Join("cache", "foo.pdb", "ABCDEF", "foo.symcache"), true},
		{"foo.sym", "", false},
		{"a/foo.sym", "", false},
	}
	for _, c := range cases {
		got, ok := mapToCacheEntry("cache", c.symPath)
		assert.Equal(t, c.ok, ok, c.symPath)
		if ok {
			assert.Equal(t, c.want, got, c.symPath)
		}
	}
}

func TestDiskModuleCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache := NewDiskModuleCache(dir)
	symPath := "foo.pdb/ABCDEF0123/foo.sym"

	_, ok, err := cache.GetModuleData(symPath)
	require.NoError(t, err)
	assert.False(t, ok, "nothing cached yet")

	w, err := cache.BeginSetModuleData(symPath)
	require.NoError(t, err)
	payload := []byte("pretend this is an encoded module")
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, cache.EndSetModuleData(symPath, w))

	r, ok, err := cache.GetModuleData(symPath)
	require.NoError(t, err)
	require.True(t, ok)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The committed file must actually be compressed, not a raw copy.
	cacheFile, ok := mapToCacheEntry(dir, symPath)
	require.True(t, ok)
	raw, err := os.ReadFile(cacheFile)
	require.NoError(t, err)
	assert.NotEqual(t, payload, raw)
}

func TestDiskModuleCacheEncodedModuleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache := NewDiskModuleCache(dir)
	symPath := "a/b/module.sym"

	m, _, err := Parse(bytes.NewReader([]byte("FUNC 100 20 4 foo\n100 10 42 1\n")))
	require.NoError(t, err)

	w, err := cache.BeginSetModuleData(symPath)
	require.NoError(t, err)
	require.NoError(t, EncodeModule(w, m))
	require.NoError(t, cache.EndSetModuleData(symPath, w))

	r, ok, err := cache.GetModuleData(symPath)
	require.NoError(t, err)
	require.True(t, ok)
	defer r.Close()

	got, err := DecodeModule(r)
	require.NoError(t, err)
	assert.True(t, m.Equal(got))
}
