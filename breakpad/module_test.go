package breakpad

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// TestLookupAddressPopulatesExpectedFrame diffs the whole mutated
// StackFrame against an expected value with go-cmp, rather than asserting
// field by field, to catch any field the lookup touches that the test
// didn't anticipate.
func TestLookupAddressPopulatesExpectedFrame(t *testing.T) {
	sym := "FILE 7 /src/bar.c\n" +
		"FUNC 100 20 4 bar\n" +
		"100 20 99 7\n"

	m, _, err := Parse(strings.NewReader(sym))
	require.NoError(t, err)

	moduleInfo := &ModuleInfo{CodeFile: "bar-module", BaseAddress: 0x1000}
	frame := &StackFrame{Instruction: 0x1110, Module: moduleInfo}
	m.LookupAddress(frame)

	want := &StackFrame{
		Instruction:    0x1110,
		Module:         moduleInfo,
		FunctionName:   "bar",
		FunctionBase:   0x1100,
		SourceFileName: "/src/bar.c",
		SourceLine:     99,
		SourceLineBase: 0x1100,
	}
	if diff := cmp.Diff(want, frame); diff != "" {
		t.Errorf("LookupAddress produced unexpected StackFrame (-want +got):\n%s", diff)
	}
}

// TestModuleEqualIsReflexive exercises the ModuleRoundTripTest-style
// sanity check from the original processor: a module always equals
// itself, and a structurally distinct module never does.
func TestModuleEqualIsReflexive(t *testing.T) {
	m, _, err := Parse(strings.NewReader("FUNC 100 20 0 f\nPUBLIC 200 4 p\n"))
	require.NoError(t, err)

	require.True(t, m.Equal(m))

	other, _, err := Parse(strings.NewReader("FUNC 100 20 0 f\n"))
	require.NoError(t, err)
	require.False(t, m.Equal(other))
}
