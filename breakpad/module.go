// Package breakpad implements the in-memory core of a Breakpad-style crash
// symbolization engine: parsing a textual .sym file into a Module indexed
// by overlapping range-based maps, answering address lookups against it,
// and (de)serializing a Module to a compact binary cache format.
//
// Stack walking, symbol acquisition/HTTP fetching, and crash-dump parsing
// are external collaborators, not this package's concern: it only ever
// reads a StackFrame that some other component already populated with an
// instruction address and a module identity, and fills in the parts a
// symbol file can answer.
package breakpad

import (
	"bytes"

	"github.com/couchbaselabs/breakpad/rangemap"
)

// File is a source file referenced by FILE and line records.
type File struct {
	ID   uint32
	Path string
}

// Line is a source line owned by exactly one Function, keyed inside that
// Function's Lines map by Address.
type Line struct {
	Address uint64
	Size    uint64
	FileID  uint32
	LineNo  uint32
}

func lineEqual(a, b *Line) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Address == b.Address && a.Size == b.Size &&
		a.FileID == b.FileID && a.LineNo == b.LineNo
}

// Function is a named address range, together with the source lines it
// owns.
type Function struct {
	Name          string
	Address       uint64
	Size          uint64
	ParameterSize uint32
	Lines         *rangemap.RangeMap[*Line]
}

func newFunction(name string, address, size uint64, parameterSize uint32) *Function {
	return &Function{
		Name:          name,
		Address:       address,
		Size:          size,
		ParameterSize: parameterSize,
		Lines:         rangemap.New[*Line](),
	}
}

func functionEqual(a, b *Function) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name == b.Name && a.Address == b.Address && a.Size == b.Size &&
		a.ParameterSize == b.ParameterSize && a.Lines.Equal(b.Lines, lineEqual)
}

// PublicSymbol is a named symbol with no size, used when no Function
// covers the address.
type PublicSymbol struct {
	Name          string
	Address       uint64
	ParameterSize uint32
}

func publicSymbolEqual(a, b *PublicSymbol) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name == b.Name && a.Address == b.Address && a.ParameterSize == b.ParameterSize
}

// StackInfoValid is a bitfield identifying which fields of a
// StackFrameInfo were actually populated by its producer.
type StackInfoValid uint32

// Bits of StackInfoValid. Producers set only the bits for fields they
// populate; a synthesized StackFrameInfo built from a FUNC or PUBLIC
// record alone sets only ValidParameterSize.
const (
	ValidParameterSize StackInfoValid = 1 << iota
	ValidPrologSize
	ValidEpilogSize
	ValidSavedRegisterSize
	ValidLocalSize
	ValidMaxStackSize
	ValidAllocatesBasePointer
	ValidProgramString
)

// StackFrameInfo carries MSVC-style stack unwinding metadata for a code
// region, or the parameter size alone when no STACK record covered the
// address but a FUNC or PUBLIC record did.
type StackFrameInfo struct {
	Valid                StackInfoValid
	PrologSize           uint32
	EpilogSize           uint32
	ParameterSize        uint32
	SavedRegisterSize    uint32
	LocalSize            uint32
	MaxStackSize         uint32
	AllocatesBasePointer bool
	ProgramString        string
}

// Clone returns a freshly allocated copy of s, so that LookupAddress can
// hand a caller an owned value without aliasing module-internal state.
func (s *StackFrameInfo) Clone() *StackFrameInfo {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func stackFrameInfoEqual(a, b *StackFrameInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// stackInfoType indexes Module.stackInfo. The MS DIA StackFrameTypeEnum
// reserves slots 1 (TRAP) and 2 (TSS) for dialects this implementation
// does not produce or consult; they are still valid storage slots.
type stackInfoType int

const (
	stackInfoFPO stackInfoType = iota
	stackInfoTrap
	stackInfoTSS
	stackInfoStandard
	stackInfoFrameData
	numStackInfoTypes
)

// Module holds one symbol module's indexes and answers address lookups
// against them. A Module is built once by Parse or DecodeModule and is
// safe for concurrent LookupAddress calls thereafter -- it is otherwise
// read-only.
type Module struct {
	files         map[uint32]string
	functions     *rangemap.RangeMap[*Function]
	publicSymbols *rangemap.AddressMap[*PublicSymbol]
	stackInfo     [numStackInfoTypes]*rangemap.ContainedRangeMap[*StackFrameInfo]
}

// NewModule returns an empty Module, ready to be populated by a parser or
// codec.
func NewModule() *Module {
	m := &Module{
		files:         make(map[uint32]string),
		functions:     rangemap.New[*Function](),
		publicSymbols: rangemap.NewAddressMap[*PublicSymbol](),
	}
	for i := range m.stackInfo {
		m.stackInfo[i] = rangemap.NewContainedRangeMap[*StackFrameInfo]()
	}
	return m
}

// ModuleInfo identifies the module a StackFrame's instruction belongs to.
type ModuleInfo struct {
	// CodeFile is the debug file name a Resolver keys loaded Modules by.
	CodeFile string
	// BaseAddress is the address at which the module was loaded.
	BaseAddress uint64
}

// StackFrame is populated in place by LookupAddress. The caller retains
// ownership; Instruction, Module.CodeFile and Module.BaseAddress are read,
// the remaining fields are written when information is available.
type StackFrame struct {
	Instruction uint64
	Module      *ModuleInfo

	FunctionName   string
	FunctionBase   uint64
	SourceFileName string
	SourceLine     uint32
	SourceLineBase uint64
}

// LookupAddress resolves frame.Instruction against m's indexes, mutating
// frame in place with whatever function/line information is available,
// and returns a freshly allocated StackFrameInfo describing stack
// unwinding for the address, or nil if none applies.
//
// The returned StackFrameInfo prefers an actual STACK record
// (FRAME_DATA over FPO), and falls back to a synthesized one carrying
// only the parameter size recovered from the matched FUNC or PUBLIC
// record.
func (m *Module) LookupAddress(frame *StackFrame) *StackFrameInfo {
	if frame == nil || frame.Module == nil {
		return nil
	}
	moduleBase := frame.Module.BaseAddress
	a := frame.Instruction - moduleBase

	var frameInfo *StackFrameInfo
	if info, ok := m.stackInfo[stackInfoFrameData].RetrieveRange(a); ok {
		frameInfo = info.Clone()
	} else if info, ok := m.stackInfo[stackInfoFPO].RetrieveRange(a); ok {
		frameInfo = info.Clone()
	}

	var parameterSize uint32
	matched := false

	fn, fbase, fsize, fok := m.functions.RetrieveNearestRange(a)
	if fok && a >= fbase && a < fbase+fsize {
		matched = true
		parameterSize = fn.ParameterSize
		frame.FunctionName = fn.Name
		frame.FunctionBase = moduleBase + fbase

		if line, lbase, _, lok := fn.Lines.RetrieveRange(a); lok {
			if path, ok := m.files[line.FileID]; ok {
				frame.SourceFileName = path
			}
			frame.SourceLine = line.LineNo
			frame.SourceLineBase = moduleBase + lbase
		}
	} else if pub, paddr, pok := m.publicSymbols.Retrieve(a); pok && (!fok || paddr > fbase+fsize) {
		matched = true
		parameterSize = pub.ParameterSize
		frame.FunctionName = pub.Name
		frame.FunctionBase = moduleBase + paddr
	}

	if !matched {
		return frameInfo
	}

	if frameInfo == nil {
		frameInfo = &StackFrameInfo{
			ParameterSize: parameterSize,
			Valid:         ValidParameterSize,
		}
	}
	return frameInfo
}

// Equal reports whether m and other index structurally identical data:
// same files, functions (with their lines), public symbols, and stack
// info in all five dialect slots.
func (m *Module) Equal(other *Module) bool {
	if other == nil {
		return false
	}
	if len(m.files) != len(other.files) {
		return false
	}
	for id, path := range m.files {
		if op, ok := other.files[id]; !ok || op != path {
			return false
		}
	}
	if !m.functions.Equal(other.functions, functionEqual) {
		return false
	}
	if !m.publicSymbols.Equal(other.publicSymbols, publicSymbolEqual) {
		return false
	}
	for i := range m.stackInfo {
		if !m.stackInfo[i].Equal(other.stackInfo[i], stackFrameInfoEqual) {
			return false
		}
	}
	return true
}

// RoundTrip encodes m and decodes the result into a new Module, exercising
// exactly the path a Resolver takes when writing to and reading back from
// a ModuleCache. It mirrors the original Breakpad processor's
// ModuleRoundTripTest self-check.
func RoundTrip(m *Module) (*Module, error) {
	var buf bytes.Buffer
	if err := EncodeModule(&buf, m); err != nil {
		return nil, err
	}
	return DecodeModule(bytes.NewReader(buf.Bytes()))
}
