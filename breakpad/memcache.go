package breakpad

import (
	"bytes"
	"io"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// MemoryModuleCache is a bounded in-process front for a slower backing
// ModuleCache: reads first check an LRU of previously fetched entries;
// writes populate both the LRU and the backing cache. It generalizes the
// symbol-table MRU cache a crash symbolization frontend keeps in front of
// its slow supplier into a reusable decorator over raw cached bytes.
type MemoryModuleCache struct {
	backing ModuleCache
	entries *lru.Cache[uint64, []byte]
}

// NewMemoryModuleCache wraps backing with an LRU of at most size entries,
// keyed by an xxhash digest of the sym path rather than the path itself.
func NewMemoryModuleCache(backing ModuleCache, size int) (*MemoryModuleCache, error) {
	entries, err := lru.New[uint64, []byte](size)
	if err != nil {
		return nil, errors.Wrap(err, "breakpad: creating memory module cache")
	}
	return &MemoryModuleCache{backing: backing, entries: entries}, nil
}

func cacheKey(symPath string) uint64 {
	return xxhash.Sum64String(symPath)
}

func (c *MemoryModuleCache) GetModuleData(symPath string) (io.ReadCloser, bool, error) {
	if data, ok := c.entries.Get(cacheKey(symPath)); ok {
		return io.NopCloser(bytes.NewReader(data)), true, nil
	}

	r, ok, err := c.backing.GetModuleData(symPath)
	if err != nil || !ok {
		return nil, ok, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, errors.Wrapf(err, "breakpad: reading backing cache entry for %s", symPath)
	}
	c.entries.Add(cacheKey(symPath), data)
	return io.NopCloser(bytes.NewReader(data)), true, nil
}

func (c *MemoryModuleCache) BeginSetModuleData(symPath string) (io.WriteCloser, error) {
	backing, err := c.backing.BeginSetModuleData(symPath)
	if err != nil {
		return nil, err
	}
	return &memCacheWrite{backing: backing, symPath: symPath}, nil
}

func (c *MemoryModuleCache) EndSetModuleData(symPath string, w io.WriteCloser) error {
	mw, ok := w.(*memCacheWrite)
	if !ok {
		return errors.Errorf("breakpad: EndSetModuleData called with a stream not opened by BeginSetModuleData")
	}
	if err := c.backing.EndSetModuleData(symPath, mw.backing); err != nil {
		return err
	}
	c.entries.Add(cacheKey(symPath), mw.buf.Bytes())
	return nil
}

// memCacheWrite tees every write into an in-memory buffer alongside the
// backing cache's own stream, so a successful commit populates the LRU
// without a second round trip through the backing store.
type memCacheWrite struct {
	backing io.WriteCloser
	symPath string
	buf     bytes.Buffer
}

func (w *memCacheWrite) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.backing.Write(p)
}

func (w *memCacheWrite) Close() error {
	return w.backing.Close()
}
