package breakpad

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/couchbaselabs/breakpad/rangemap"
)

// FormatVersion identifies the wire layout EncodeModule writes and
// DecodeModule requires. Bump it and reject anything else whenever the
// layout below changes incompatibly; there is nothing to migrate from
// today, so it starts at 1.
const FormatVersion uint32 = 1

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// EncodeModule writes m to w in the binary cache format: a versioned
// header, the file table, functions with their owned lines, public
// symbols, the five stack-info dialect trees, and a trailing CRC32C of
// everything written before it. The format is little-endian throughout.
func EncodeModule(w io.Writer, m *Module) error {
	cw := &checksumWriter{w: w, crc: crc32.New(castagnoliTable)}

	if err := writeUint32(cw, FormatVersion); err != nil {
		return err
	}
	if err := encodeFiles(cw, m.files); err != nil {
		return err
	}
	if err := encodeFunctions(cw, m.functions); err != nil {
		return err
	}
	if err := encodePublicSymbols(cw, m.publicSymbols); err != nil {
		return err
	}
	for i := range m.stackInfo {
		if err := encodeContainedRangeMap(cw, m.stackInfo[i], encodeStackFrameInfo); err != nil {
			return err
		}
	}

	return writeUint32(w, cw.crc.Sum32())
}

// DecodeModule reads a Module previously written by EncodeModule from r.
// It returns ErrVersionMismatch if the stream's format version isn't
// FormatVersion, and ErrChecksumMismatch if the trailing CRC32C does not
// match the bytes that precede it.
func DecodeModule(r io.Reader) (*Module, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "breakpad: reading cache entry")
	}
	if len(body) < 4 {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, "breakpad: cache entry too short")
	}

	payload, wantSum := body[:len(body)-4], binary.LittleEndian.Uint32(body[len(body)-4:])
	gotSum := crc32.Checksum(payload, castagnoliTable)
	if gotSum != wantSum {
		return nil, ErrChecksumMismatch
	}

	cr := &limitedReader{b: payload}

	version, err := readUint32(cr)
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, ErrVersionMismatch
	}

	m := NewModule()

	if m.files, err = decodeFiles(cr); err != nil {
		return nil, err
	}
	if m.functions, err = decodeFunctions(cr); err != nil {
		return nil, err
	}
	if m.publicSymbols, err = decodePublicSymbols(cr); err != nil {
		return nil, err
	}
	for i := range m.stackInfo {
		tree, err := decodeContainedRangeMap(cr, decodeStackFrameInfo)
		if err != nil {
			return nil, err
		}
		m.stackInfo[i] = tree
	}

	return m, nil
}

// checksumWriter tees every write into a running CRC32C so EncodeModule
// doesn't have to buffer the whole payload to compute the trailer.
type checksumWriter struct {
	w   io.Writer
	crc hash32
}

type hash32 interface {
	io.Writer
	Sum32() uint32
}

func (c *checksumWriter) Write(p []byte) (int, error) {
	c.crc.Write(p)
	return c.w.Write(p)
}

// limitedReader is a minimal cursor over an in-memory byte slice, used
// so decode helpers can report io.ErrUnexpectedEOF precisely instead of
// relying on a bufio.Reader's own error text.
type limitedReader struct {
	b []byte
}

func (r *limitedReader) next(n int) ([]byte, error) {
	if len(r.b) < n {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, "breakpad: truncated cache entry")
	}
	out := r.b[:n]
	r.b = r.b[n:]
	return out, nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return errors.Wrap(err, "breakpad: writing cache entry")
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return errors.Wrap(err, "breakpad: writing cache entry")
}

func writeBool(w io.Writer, v bool) error {
	var b byte
	if v {
		b = 1
	}
	_, err := w.Write([]byte{b})
	return errors.Wrap(err, "breakpad: writing cache entry")
}

// writeString writes a uint32 byte length followed by the raw bytes. No
// padding or NUL terminator: the length prefix makes one unnecessary.
func writeString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return errors.Wrap(err, "breakpad: writing cache entry")
}

func readUint32(r *limitedReader) (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func readUint64(r *limitedReader) (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func readBool(r *limitedReader) (bool, error) {
	b, err := r.next(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func readString(r *limitedReader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeFiles(w io.Writer, files map[uint32]string) error {
	if err := writeUint32(w, uint32(len(files))); err != nil {
		return err
	}
	ids := make([]uint32, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := writeUint32(w, id); err != nil {
			return err
		}
		if err := writeString(w, files[id]); err != nil {
			return err
		}
	}
	return nil
}

func decodeFiles(r *limitedReader) (map[uint32]string, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	files := make(map[uint32]string, n)
	for i := uint32(0); i < n; i++ {
		id, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		files[id] = path
	}
	return files, nil
}

func encodeLine(w io.Writer, l *Line) error {
	if err := writeUint64(w, l.Address); err != nil {
		return err
	}
	if err := writeUint64(w, l.Size); err != nil {
		return err
	}
	if err := writeUint32(w, l.FileID); err != nil {
		return err
	}
	return writeUint32(w, l.LineNo)
}

func decodeLine(r *limitedReader) (*Line, error) {
	l := &Line{}
	var err error
	if l.Address, err = readUint64(r); err != nil {
		return nil, err
	}
	if l.Size, err = readUint64(r); err != nil {
		return nil, err
	}
	if l.FileID, err = readUint32(r); err != nil {
		return nil, err
	}
	if l.LineNo, err = readUint32(r); err != nil {
		return nil, err
	}
	return l, nil
}

func encodeFunctions(w io.Writer, fns *rangemap.RangeMap[*Function]) error {
	if err := writeUint32(w, uint32(fns.Len())); err != nil {
		return err
	}
	var firstErr error
	fns.Each(func(base, size uint64, fn *Function) {
		if firstErr != nil {
			return
		}
		if err := writeString(w, fn.Name); err != nil {
			firstErr = err
			return
		}
		if err := writeUint64(w, fn.Address); err != nil {
			firstErr = err
			return
		}
		if err := writeUint64(w, fn.Size); err != nil {
			firstErr = err
			return
		}
		if err := writeUint32(w, fn.ParameterSize); err != nil {
			firstErr = err
			return
		}
		if err := writeUint32(w, uint32(fn.Lines.Len())); err != nil {
			firstErr = err
			return
		}
		fn.Lines.Each(func(lbase, lsize uint64, line *Line) {
			if firstErr != nil {
				return
			}
			firstErr = encodeLine(w, line)
		})
	})
	return firstErr
}

func decodeFunctions(r *limitedReader) (*rangemap.RangeMap[*Function], error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	fns := rangemap.New[*Function]()
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		address, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		size, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		paramSize, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		fn := newFunction(name, address, size, paramSize)

		lineCount, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < lineCount; j++ {
			line, err := decodeLine(r)
			if err != nil {
				return nil, err
			}
			if !fn.Lines.StoreRange(line.Address, line.Size, line) {
				return nil, errors.Errorf("breakpad: cache entry has malformed line table for function %q", name)
			}
		}

		if !fns.StoreRange(address, size, fn) {
			return nil, errors.Errorf("breakpad: cache entry has malformed function table at %q", name)
		}
	}
	return fns, nil
}

func encodePublicSymbols(w io.Writer, syms *rangemap.AddressMap[*PublicSymbol]) error {
	if err := writeUint32(w, uint32(syms.Len())); err != nil {
		return err
	}
	var firstErr error
	syms.Each(func(addr uint64, sym *PublicSymbol) {
		if firstErr != nil {
			return
		}
		if err := writeString(w, sym.Name); err != nil {
			firstErr = err
			return
		}
		if err := writeUint64(w, sym.Address); err != nil {
			firstErr = err
			return
		}
		firstErr = writeUint32(w, sym.ParameterSize)
	})
	return firstErr
}

func decodePublicSymbols(r *limitedReader) (*rangemap.AddressMap[*PublicSymbol], error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	syms := rangemap.NewAddressMap[*PublicSymbol]()
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		address, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		paramSize, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		sym := &PublicSymbol{Name: name, Address: address, ParameterSize: paramSize}
		if !syms.Store(address, sym) {
			return nil, errors.Errorf("breakpad: cache entry has duplicate public symbol at 0x%x", address)
		}
	}
	return syms, nil
}

func encodeStackFrameInfo(w io.Writer, info *StackFrameInfo) error {
	if err := writeUint32(w, uint32(info.Valid)); err != nil {
		return err
	}
	if err := writeUint32(w, info.PrologSize); err != nil {
		return err
	}
	if err := writeUint32(w, info.EpilogSize); err != nil {
		return err
	}
	if err := writeUint32(w, info.ParameterSize); err != nil {
		return err
	}
	if err := writeUint32(w, info.SavedRegisterSize); err != nil {
		return err
	}
	if err := writeUint32(w, info.LocalSize); err != nil {
		return err
	}
	if err := writeUint32(w, info.MaxStackSize); err != nil {
		return err
	}
	if err := writeBool(w, info.AllocatesBasePointer); err != nil {
		return err
	}
	return writeString(w, info.ProgramString)
}

func decodeStackFrameInfo(r *limitedReader) (*StackFrameInfo, error) {
	info := &StackFrameInfo{}
	var v uint32
	var err error
	if v, err = readUint32(r); err != nil {
		return nil, err
	}
	info.Valid = StackInfoValid(v)
	if info.PrologSize, err = readUint32(r); err != nil {
		return nil, err
	}
	if info.EpilogSize, err = readUint32(r); err != nil {
		return nil, err
	}
	if info.ParameterSize, err = readUint32(r); err != nil {
		return nil, err
	}
	if info.SavedRegisterSize, err = readUint32(r); err != nil {
		return nil, err
	}
	if info.LocalSize, err = readUint32(r); err != nil {
		return nil, err
	}
	if info.MaxStackSize, err = readUint32(r); err != nil {
		return nil, err
	}
	if info.AllocatesBasePointer, err = readBool(r); err != nil {
		return nil, err
	}
	if info.ProgramString, err = readString(r); err != nil {
		return nil, err
	}
	return info, nil
}

// encodeContainedRangeMap writes a ContainedRangeMap depth-first: each
// node's own fields, then its child count, then the children in order.
func encodeContainedRangeMap[V any](w io.Writer, node *rangemap.ContainedRangeMap[V], encodeEntry func(io.Writer, V) error) error {
	var children []*rangemap.ContainedRangeMap[V]
	node.EachChild(func(c *rangemap.ContainedRangeMap[V]) { children = append(children, c) })

	if err := writeUint32(w, uint32(len(children))); err != nil {
		return err
	}
	for _, c := range children {
		if err := writeUint64(w, c.Base()); err != nil {
			return err
		}
		if err := writeUint64(w, c.Size()); err != nil {
			return err
		}
		entry, hasEntry := c.Entry()
		if err := writeBool(w, hasEntry); err != nil {
			return err
		}
		if hasEntry {
			if err := encodeEntry(w, entry); err != nil {
				return err
			}
		}
		if err := encodeContainedRangeMap(w, c, encodeEntry); err != nil {
			return err
		}
	}
	return nil
}

func decodeContainedRangeMap[V any](r *limitedReader, decodeEntry func(*limitedReader) (V, error)) (*rangemap.ContainedRangeMap[V], error) {
	root := rangemap.NewContainedRangeMap[V]()
	if err := decodeChildrenInto(r, root, decodeEntry); err != nil {
		return nil, err
	}
	return root, nil
}

func decodeChildrenInto[V any](r *limitedReader, parent *rangemap.ContainedRangeMap[V], decodeEntry func(*limitedReader) (V, error)) error {
	n, err := readUint32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		base, err := readUint64(r)
		if err != nil {
			return err
		}
		size, err := readUint64(r)
		if err != nil {
			return err
		}
		hasEntry, err := readBool(r)
		if err != nil {
			return err
		}
		var entry V
		if hasEntry {
			if entry, err = decodeEntry(r); err != nil {
				return err
			}
		}
		child := rangemap.NewChild(base, size, entry, hasEntry)
		if err := decodeChildrenInto(r, child, decodeEntry); err != nil {
			return err
		}
		parent.AddChild(child)
	}
	return nil
}

