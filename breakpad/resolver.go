package breakpad

import (
	"os"
	"sync"

	log "github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Resolver holds a set of loaded Modules keyed by module name and routes
// frame lookups to them, optionally reading and writing an encoded copy
// of each through a ModuleCache so a warm process skips re-parsing.
type Resolver struct {
	cache ModuleCache

	mu      sync.RWMutex
	modules map[string]*Module

	group singleflight.Group
}

// NewResolver returns a Resolver with no modules loaded. cache may be nil,
// in which case every LoadModule call parses the sym file directly.
func NewResolver(cache ModuleCache) *Resolver {
	return &Resolver{
		cache:   cache,
		modules: make(map[string]*Module),
	}
}

// HasModule reports whether name is already loaded.
func (r *Resolver) HasModule(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[name]
	return ok
}

// LoadModule loads the module at symPath under key name. It returns
// ErrDuplicateModule if name is already loaded. Concurrent LoadModule
// calls for the same name are coalesced: only one actually parses or
// decodes, and every caller observes the same registered Module.
//
// If a cache is configured and holds an entry for symPath, that entry is
// decoded instead of re-parsing the sym file. Otherwise the sym file is
// parsed and, on success, the encoded result is written back through the
// cache for the next LoadModule to find.
func (r *Resolver) LoadModule(name, symPath string) error {
	if r.HasModule(name) {
		return ErrDuplicateModule
	}

	_, err, _ := r.group.Do(name, func() (any, error) {
		if r.HasModule(name) {
			return nil, ErrDuplicateModule
		}

		m, err := r.loadOrParse(name, symPath)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.modules[name] = m
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

func (r *Resolver) loadOrParse(name, symPath string) (*Module, error) {
	if r.cache != nil {
		if m, ok, err := r.loadFromCache(symPath); err != nil {
			log.Warningf("breakpad: cache read for module %s (%s) failed, falling back to parse: %v", name, symPath, err)
		} else if ok {
			log.V(1).Infof("breakpad: loaded module %s from cache", name)
			return m, nil
		}
	}

	f, err := os.Open(symPath)
	if err != nil {
		return nil, errors.Wrapf(err, "breakpad: opening symbol file %s", symPath)
	}
	defer f.Close()

	m, diags, err := Parse(f)
	if err != nil {
		return nil, err
	}
	if len(diags.Warnings) > 0 {
		log.Infof("breakpad: parsed module %s with %d dropped record(s)", name, len(diags.Warnings))
	}

	if r.cache != nil {
		if err := r.storeToCache(symPath, m); err != nil {
			log.Warningf("breakpad: caching module %s (%s) failed: %v", name, symPath, err)
		}
	}

	log.V(1).Infof("breakpad: loaded module %s from sym file", name)
	return m, nil
}

func (r *Resolver) loadFromCache(symPath string) (*Module, bool, error) {
	stream, ok, err := r.cache.GetModuleData(symPath)
	if err != nil || !ok {
		return nil, ok, err
	}
	defer stream.Close()

	m, err := DecodeModule(stream)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (r *Resolver) storeToCache(symPath string, m *Module) error {
	w, err := r.cache.BeginSetModuleData(symPath)
	if err != nil {
		return err
	}
	if err := EncodeModule(w, m); err != nil {
		return err
	}
	return r.cache.EndSetModuleData(symPath, w)
}

// FillSourceLineInfo delegates to the Module registered for
// frame.Module.CodeFile, if any. It returns nil without error if no such
// module is loaded -- a missing module is not an error condition.
func (r *Resolver) FillSourceLineInfo(frame *StackFrame) *StackFrameInfo {
	if frame == nil || frame.Module == nil {
		return nil
	}
	r.mu.RLock()
	m, ok := r.modules[frame.Module.CodeFile]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return m.LookupAddress(frame)
}
