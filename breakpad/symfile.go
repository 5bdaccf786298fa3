package breakpad

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseDiagnostics accumulates non-fatal drops from a Parse call: records
// that were individually well-formed but rejected by the range map they
// were destined for (an overlapping FUNC, an overlapping source line, a
// STACK record that violates containment against one already stored).
// None of these abort the parse; Warnings carries a human-readable line
// for each, for callers that want to log or surface them.
type ParseDiagnostics struct {
	DroppedFunctions     int
	DroppedLines         int
	DroppedPublicSymbols int
	DroppedStackInfo     int
	Warnings             []string
}

func (d *ParseDiagnostics) drop(counter *int, format string, args ...any) {
	*counter++
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// Parse reads a textual Breakpad symbol file from r and builds a Module
// from its MODULE, FILE, FUNC, PUBLIC, STACK WIN and source-line records.
// A malformed record (header or source line) or a source line with no
// preceding FUNC is fatal and returned as a *ParseError. A record rejected
// by its range map is recorded in the returned ParseDiagnostics and the
// parse continues; a PUBLIC record at address 0 and a source line with
// line number 0 are skipped without a diagnostic.
func Parse(r io.Reader) (*Module, *ParseDiagnostics, error) {
	m := NewModule()
	diags := &ParseDiagnostics{}
	var curFunc *Function

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		kw, rest := firstToken(line)

		switch kw {
		case "MODULE":
			continue

		case "FILE":
			id, path, err := parseFileRecord(rest)
			if err != nil {
				return nil, nil, &ParseError{Line: lineNo, Kind: "FILE", Err: err}
			}
			m.files[id] = path

		case "FUNC":
			fn, err := parseFuncRecord(rest)
			if err != nil {
				return nil, nil, &ParseError{Line: lineNo, Kind: "FUNC", Err: err}
			}
			curFunc = fn
			if !m.functions.StoreRange(fn.Address, fn.Size, fn) {
				diags.drop(&diags.DroppedFunctions, "line %d: function %q rejected by function range map", lineNo, fn.Name)
			}

		case "PUBLIC":
			curFunc = nil
			sym, err := parsePublicRecord(rest)
			if err != nil {
				return nil, nil, &ParseError{Line: lineNo, Kind: "PUBLIC", Err: err}
			}
			if sym == nil {
				continue // address == 0: silently discarded, not a diagnostic-worthy drop
			}
			if !m.publicSymbols.Store(sym.Address, sym) {
				diags.drop(&diags.DroppedPublicSymbols, "line %d: public symbol %q at duplicate address", lineNo, sym.Name)
			}

		case "STACK":
			slot, info, base, size, err := parseStackRecord(rest)
			if err != nil {
				return nil, nil, &ParseError{Line: lineNo, Kind: "STACK", Err: err}
			}
			if !m.stackInfo[slot].StoreRange(base, size, info) {
				diags.drop(&diags.DroppedStackInfo, "line %d: stack info at 0x%x violates containment, dropped", lineNo, base)
			}

		default:
			if curFunc == nil {
				return nil, nil, &ParseError{Line: lineNo, Kind: "line", Err: ErrOrphanLine}
			}
			ln, err := parseLineRecord(line)
			if err != nil {
				return nil, nil, &ParseError{Line: lineNo, Kind: "line", Err: err}
			}
			if ln == nil {
				continue // line_no == 0: silently dropped
			}
			if !curFunc.Lines.StoreRange(ln.Address, ln.Size, ln) {
				diags.drop(&diags.DroppedLines, "line %d: source line at 0x%x rejected by line range map", lineNo, ln.Address)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "breakpad: reading symbol file")
	}
	return m, diags, nil
}

// firstToken splits line at its first run of whitespace, returning the
// leading keyword and the untrimmed remainder (empty if there is none).
func firstToken(line string) (keyword, rest string) {
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return line, ""
	}
	return line[:idx], line[idx+1:]
}

// splitFields splits s into exactly n fields, where the last field is the
// trimmed remainder of s rather than a single whitespace-delimited word --
// this is how a FUNC name, FILE path or STACK program string is allowed to
// contain interior spaces. Returns false if fewer than n fields are present.
func splitFields(s string, n int) ([]string, bool) {
	fields := make([]string, 0, n)
	rest := s
	for i := 0; i < n-1; i++ {
		rest = strings.TrimLeft(rest, " \t")
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return nil, false
		}
		fields = append(fields, rest[:idx])
		rest = rest[idx:]
	}
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" {
		return nil, false
	}
	fields = append(fields, rest)
	return fields, true
}

func parseFileRecord(rest string) (id uint32, path string, err error) {
	fields, ok := splitFields(rest, 2)
	if !ok {
		return 0, "", errors.New("wrong token count")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", errors.Wrap(err, "file id")
	}
	if n < 0 {
		return 0, "", errors.Errorf("negative file id %d", n)
	}
	return uint32(n), fields[1], nil
}

func parseFuncRecord(rest string) (*Function, error) {
	fields, ok := splitFields(rest, 4)
	if !ok {
		return nil, errors.New("wrong token count")
	}
	address, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return nil, errors.Wrap(err, "address")
	}
	size, err := strconv.ParseUint(fields[1], 16, 64)
	if err != nil {
		return nil, errors.Wrap(err, "size")
	}
	paramSize, err := strconv.ParseUint(fields[2], 16, 32)
	if err != nil {
		return nil, errors.Wrap(err, "parameter size")
	}
	return newFunction(fields[3], address, size, uint32(paramSize)), nil
}

// parsePublicRecord returns (nil, nil) for a well-formed record at
// address 0, which is discarded rather than stored.
func parsePublicRecord(rest string) (*PublicSymbol, error) {
	fields, ok := splitFields(rest, 3)
	if !ok {
		return nil, errors.New("wrong token count")
	}
	address, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return nil, errors.Wrap(err, "address")
	}
	paramSize, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return nil, errors.Wrap(err, "parameter size")
	}
	if address == 0 {
		return nil, nil
	}
	return &PublicSymbol{Name: fields[2], Address: address, ParameterSize: uint32(paramSize)}, nil
}

func parseStackRecord(rest string) (slot stackInfoType, info *StackFrameInfo, base, size uint64, err error) {
	fields, ok := splitFields(rest, 12)
	if !ok {
		return 0, nil, 0, 0, errors.New("wrong token count")
	}

	if fields[0] != "WIN" {
		return 0, nil, 0, 0, errors.Errorf("unsupported stack dialect %q", fields[0])
	}

	typeVal, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return 0, nil, 0, 0, errors.Wrap(err, "type")
	}
	if typeVal > uint64(numStackInfoTypes-1) {
		return 0, nil, 0, 0, errors.Errorf("unsupported stack info type %d", typeVal)
	}

	rva, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return 0, nil, 0, 0, errors.Wrap(err, "rva")
	}
	codeSize, err := strconv.ParseUint(fields[3], 16, 64)
	if err != nil {
		return 0, nil, 0, 0, errors.Wrap(err, "code size")
	}
	prolog, err := strconv.ParseUint(fields[4], 16, 32)
	if err != nil {
		return 0, nil, 0, 0, errors.Wrap(err, "prolog size")
	}
	epilog, err := strconv.ParseUint(fields[5], 16, 32)
	if err != nil {
		return 0, nil, 0, 0, errors.Wrap(err, "epilog size")
	}
	paramSize, err := strconv.ParseUint(fields[6], 16, 32)
	if err != nil {
		return 0, nil, 0, 0, errors.Wrap(err, "parameter size")
	}
	savedRegs, err := strconv.ParseUint(fields[7], 16, 32)
	if err != nil {
		return 0, nil, 0, 0, errors.Wrap(err, "saved register size")
	}
	locals, err := strconv.ParseUint(fields[8], 16, 32)
	if err != nil {
		return 0, nil, 0, 0, errors.Wrap(err, "local size")
	}
	maxStack, err := strconv.ParseUint(fields[9], 16, 32)
	if err != nil {
		return 0, nil, 0, 0, errors.Wrap(err, "max stack size")
	}
	hasProgramString, err := strconv.ParseUint(fields[10], 16, 32)
	if err != nil {
		return 0, nil, 0, 0, errors.Wrap(err, "has-program-string flag")
	}
	tail := fields[11]

	stackInfo := &StackFrameInfo{
		PrologSize:        uint32(prolog),
		EpilogSize:        uint32(epilog),
		ParameterSize:     uint32(paramSize),
		SavedRegisterSize: uint32(savedRegs),
		LocalSize:         uint32(locals),
		MaxStackSize:      uint32(maxStack),
		Valid: ValidPrologSize | ValidEpilogSize | ValidParameterSize |
			ValidSavedRegisterSize | ValidLocalSize | ValidMaxStackSize,
	}
	if hasProgramString != 0 {
		stackInfo.ProgramString = tail
		stackInfo.Valid |= ValidProgramString
	} else {
		bp, err := strconv.ParseUint(tail, 16, 32)
		if err != nil {
			return 0, nil, 0, 0, errors.Wrap(err, "allocates-base-pointer flag")
		}
		stackInfo.AllocatesBasePointer = bp != 0
		stackInfo.Valid |= ValidAllocatesBasePointer
	}

	return stackInfoType(typeVal), stackInfo, rva, codeSize, nil
}

// parseLineRecord returns (nil, nil) for a well-formed record whose
// line_no is 0, which is discarded rather than stored.
func parseLineRecord(line string) (*Line, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return nil, errors.New("wrong token count")
	}
	address, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return nil, errors.Wrap(err, "address")
	}
	size, err := strconv.ParseUint(fields[1], 16, 64)
	if err != nil {
		return nil, errors.Wrap(err, "size")
	}
	lineNo, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return nil, errors.Wrap(err, "line number")
	}
	fileID, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return nil, errors.Wrap(err, "file id")
	}
	if lineNo == 0 {
		return nil, nil
	}
	return &Line{Address: address, Size: size, FileID: uint32(fileID), LineNo: uint32(lineNo)}, nil
}
