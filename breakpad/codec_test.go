package breakpad

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripEmptyModule(t *testing.T) {
	m := NewModule()
	got, err := RoundTrip(m)
	require.NoError(t, err)
	assert.True(t, m.Equal(got))
}

func TestRoundTripPopulatedModule(t *testing.T) {
	sym := `MODULE Linux x86_64 000000000000000000000000000000000 test
FILE 0 file.cc
FUNC 1000 20 4 main
1000 8 10 0
1008 18 11 0
PUBLIC 2000 4 exported_symbol
STACK WIN 4 1000 20 0 4 0 0 8 0 1 0
`
	m, diags, err := Parse(bytes.NewReader([]byte(sym)))
	require.NoError(t, err)
	require.Empty(t, diags.Warnings)

	got, err := RoundTrip(m)
	require.NoError(t, err)
	assert.True(t, m.Equal(got), "decoded module must equal the original")
}

func TestDecodeModuleRejectsVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeModule(&buf, NewModule()))
	raw := buf.Bytes()
	// Corrupt the version field (first 4 bytes) without touching the
	// trailing checksum, then recompute the checksum so only the version
	// check can catch this.
	corrupted := append([]byte(nil), raw...)
	corrupted[0] ^= 0xFF
	payload := corrupted[:len(corrupted)-4]
	var fixed bytes.Buffer
	fixed.Write(payload)
	require.NoError(t, writeUint32(&fixed, crc32.Checksum(payload, castagnoliTable)))

	_, err := DecodeModule(&fixed)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestDecodeModuleRejectsChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeModule(&buf, NewModule()))
	raw := buf.Bytes()
	raw[0] ^= 0xFF // corrupt payload, leave the stale checksum in place

	_, err := DecodeModule(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

