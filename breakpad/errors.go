package breakpad

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors. Callers should compare against these with errors.Is,
// which works through the wrapping github.com/pkg/errors performs
// elsewhere in this package.
var (
	// ErrDuplicateModule is returned by Resolver.LoadModule when a module
	// with the given name is already loaded.
	ErrDuplicateModule = errors.New("breakpad: module already loaded")

	// ErrVersionMismatch is returned by DecodeModule when the stream's
	// format version does not match the version this codec understands.
	ErrVersionMismatch = errors.New("breakpad: cache format version mismatch")

	// ErrOrphanLine is the underlying error of a ParseError for a source
	// line record with no preceding FUNC record.
	ErrOrphanLine = errors.New("breakpad: source line record with no preceding FUNC record")

	// ErrChecksumMismatch is returned by DecodeModule when the trailing
	// CRC32C of a cache entry does not match its contents.
	ErrChecksumMismatch = errors.New("breakpad: cache entry checksum mismatch")
)

// ParseError describes a fatal failure to parse a single record of a
// symbol file. It carries the 1-based line number and the record kind
// being parsed, so callers can produce actionable diagnostics.
type ParseError struct {
	Line int
	Kind string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("breakpad: parse error at line %d (%s record): %v", e.Line, e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
