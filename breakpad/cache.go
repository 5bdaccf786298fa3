package breakpad

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// ModuleCache is an opaque byte-stream cache keyed by the source symbol
// file's path. It knows nothing about the Module wire format; Resolver is
// responsible for running bytes read from GetModuleData through
// DecodeModule and bytes written to BeginSetModuleData through
// EncodeModule.
type ModuleCache interface {
	// GetModuleData opens a readable stream of previously cached bytes for
	// symPath, or returns (nil, false) if nothing is cached.
	GetModuleData(symPath string) (io.ReadCloser, bool, error)
	// BeginSetModuleData opens a writable stream for symPath. The caller
	// must pass the returned handle to EndSetModuleData once it has
	// finished writing, whether or not any bytes were written.
	BeginSetModuleData(symPath string) (io.WriteCloser, error)
	// EndSetModuleData commits the stream opened by BeginSetModuleData.
	EndSetModuleData(symPath string, w io.WriteCloser) error
}

// DiskModuleCache stores cache entries under a root directory, mapping a
// symbol file's path to a cache file path by keeping its last three path
// components and swapping a ".sym" suffix for ".symcache" -- mirroring
// the Microsoft Symbol Server layout most sym_path values already have
// (debug_file/IDENTIFIER/debug_file.sym).
type DiskModuleCache struct {
	dir string
}

// NewDiskModuleCache returns a DiskModuleCache rooted at dir. dir is
// created lazily, on first write.
func NewDiskModuleCache(dir string) *DiskModuleCache {
	return &DiskModuleCache{dir: dir}
}

func (c *DiskModuleCache) GetModuleData(symPath string) (io.ReadCloser, bool, error) {
	cacheFile, ok := mapToCacheEntry(c.dir, symPath)
	if !ok {
		return nil, false, nil
	}
	f, err := os.Open(cacheFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(err, "breakpad: opening cache entry for %s", symPath)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, false, errors.Wrapf(err, "breakpad: opening compressed cache entry for %s", symPath)
	}
	return &zstdReadCloser{dec: dec, f: f}, true, nil
}

func (c *DiskModuleCache) BeginSetModuleData(symPath string) (io.WriteCloser, error) {
	cacheFile, ok := mapToCacheEntry(c.dir, symPath)
	if !ok {
		return nil, errors.Errorf("breakpad: %s has too few path components to cache", symPath)
	}
	if err := ensurePathExists(filepath.Dir(cacheFile)); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(cacheFile), ".tmp-*.symcache")
	if err != nil {
		return nil, errors.Wrapf(err, "breakpad: creating temp cache file for %s", symPath)
	}
	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, errors.Wrapf(err, "breakpad: opening compressed cache entry for %s", symPath)
	}
	return &pendingCacheWrite{enc: enc, file: tmp, finalPath: cacheFile}, nil
}

func (c *DiskModuleCache) EndSetModuleData(symPath string, w io.WriteCloser) error {
	pending, ok := w.(*pendingCacheWrite)
	if !ok {
		return errors.Errorf("breakpad: EndSetModuleData called with a stream not opened by BeginSetModuleData")
	}
	if err := pending.enc.Close(); err != nil {
		pending.file.Close()
		os.Remove(pending.file.Name())
		return errors.Wrapf(err, "breakpad: flushing compressed cache entry for %s", symPath)
	}
	if err := pending.file.Close(); err != nil {
		os.Remove(pending.file.Name())
		return errors.Wrapf(err, "breakpad: closing temp cache file for %s", symPath)
	}
	if err := os.Rename(pending.file.Name(), pending.finalPath); err != nil {
		os.Remove(pending.file.Name())
		return errors.Wrapf(err, "breakpad: committing cache entry for %s", symPath)
	}
	return nil
}

// zstdReadCloser adapts a *zstd.Decoder, whose Close takes no error, to
// io.ReadCloser, propagating the underlying file's Close error instead.
type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

// pendingCacheWrite is the write-to-temp-then-rename handle returned by
// BeginSetModuleData; EndSetModuleData is the only thing that renames it
// into place, so a cache reader never observes a partially written entry.
type pendingCacheWrite struct {
	enc       *zstd.Encoder
	file      *os.File
	finalPath string
}

func (p *pendingCacheWrite) Write(b []byte) (int, error) { return p.enc.Write(b) }

// Close flushes and closes the compressor only; the temp file stays open
// and uncommitted until EndSetModuleData closes it and renames it into
// place. io.WriteCloser is satisfied for interface purposes but real
// callers should go through EndSetModuleData.
func (p *pendingCacheWrite) Close() error { return p.enc.Close() }

// mapToCacheEntry keeps the last three components of symPath and joins
// them under dir, replacing a trailing ".sym" with ".symcache".
func mapToCacheEntry(dir, symPath string) (string, bool) {
	clean := filepath.ToSlash(symPath)
	parts := strings.Split(clean, "/")
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) < 3 {
		return "", false
	}
	tail := nonEmpty[len(nonEmpty)-3:]
	last := len(tail) - 1
	if strings.HasSuffix(tail[last], ".sym") {
		tail[last] = strings.TrimSuffix(tail[last], ".sym") + ".symcache"
	}
	return filepath.Join(append([]string{dir}, tail...)...), true
}

func ensurePathExists(dir string) error {
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return nil
	}
	return errors.Wrapf(os.MkdirAll(dir, 0o755), "breakpad: creating cache directory %s", dir)
}
