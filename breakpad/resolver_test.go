package breakpad

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSymFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestResolverLoadAndFillSourceLineInfo(t *testing.T) {
	dir := t.TempDir()
	symPath := writeSymFile(t, dir, "foo.sym", "FUNC 100 20 4 foo\n100 10 42 1\n")

	r := NewResolver(nil)
	require.NoError(t, r.LoadModule("foo", symPath))
	assert.True(t, r.HasModule("foo"))

	frame := &StackFrame{
		Instruction: 0x1108,
		Module:      &ModuleInfo{CodeFile: "foo", BaseAddress: 0x1000},
	}
	info := r.FillSourceLineInfo(frame)
	require.NotNil(t, info)
	assert.Equal(t, "foo", frame.FunctionName)
}

func TestResolverLoadModuleRejectsDuplicate(t *testing.T) {
	dir := t.TempDir()
	symPath := writeSymFile(t, dir, "foo.sym", "FUNC 100 20 0 foo\n")

	r := NewResolver(nil)
	require.NoError(t, r.LoadModule("foo", symPath))
	err := r.LoadModule("foo", symPath)
	assert.ErrorIs(t, err, ErrDuplicateModule)
}

func TestResolverFillSourceLineInfoMissingModule(t *testing.T) {
	r := NewResolver(nil)
	frame := &StackFrame{
		Instruction: 0x1000,
		Module:      &ModuleInfo{CodeFile: "not-loaded", BaseAddress: 0},
	}
	assert.Nil(t, r.FillSourceLineInfo(frame))
}

func TestResolverRoundTripsThroughCache(t *testing.T) {
	dir := t.TempDir()
	symPath := writeSymFile(t, dir, "foo.sym", "FUNC 100 20 4 foo\n100 10 42 1\n")
	cache := NewDiskModuleCache(filepath.Join(dir, "cache"))

	r1 := NewResolver(cache)
	require.NoError(t, r1.LoadModule("foo", symPath))

	// A second resolver sharing the cache should load the module without
	// touching the sym file: remove it and confirm the load still works.
	require.NoError(t, os.Remove(symPath))

	r2 := NewResolver(cache)
	require.NoError(t, r2.LoadModule("foo", symPath))

	frame := &StackFrame{
		Instruction: 0x1108,
		Module:      &ModuleInfo{CodeFile: "foo", BaseAddress: 0x1000},
	}
	info := r2.FillSourceLineInfo(frame)
	require.NotNil(t, info)
	assert.Equal(t, "foo", frame.FunctionName)
}
