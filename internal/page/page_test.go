package page

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"pgrman/internal/pglsn"
)

func buildPage(t *testing.T, lower, upper, special uint16, lsn uint64) []byte {
	t.Helper()
	buf := make([]byte, BLCKSZ)
	h := Header{
		LSN:             1, // placeholder, overwritten below
		Flags:           0,
		Lower:           lower,
		Upper:           upper,
		Special:         special,
		PageSizeVersion: BLCKSZ | LayoutVersion,
	}
	h.LSN = pglsn.LSN(lsn)
	writeHeader(buf, h)
	for i := int(lower); i < int(upper); i++ {
		buf[i] = 0
	}
	for i := int(upper); i < len(buf); i++ {
		buf[i] = byte(i)
	}
	return buf
}

func TestParse_ValidPage(t *testing.T) {
	buf := buildPage(t, SizeOfPageHeaderData+10, BLCKSZ-100, BLCKSZ-8, 0x1000)
	p, err := Parse(buf, 0)
	require.NoError(t, err)
	require.EqualValues(t, SizeOfPageHeaderData+10, p.HoleOffset())
	require.EqualValues(t, (BLCKSZ-100)-(SizeOfPageHeaderData+10), p.HoleLength())
}

func TestParse_ZeroLSNRejected(t *testing.T) {
	buf := buildPage(t, SizeOfPageHeaderData, BLCKSZ-8, BLCKSZ-8, 0)
	_, err := Parse(buf, 0)
	require.ErrorIs(t, err, ErrNotDataPage)
}

func TestParse_BadBounds(t *testing.T) {
	// upper < lower is impossible.
	buf := buildPage(t, 100, 50, BLCKSZ-8, 0x10)
	_, err := Parse(buf, 0)
	require.ErrorIs(t, err, ErrNotDataPage)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct{ lower, upper, special uint16 }{
		{SizeOfPageHeaderData, BLCKSZ - 8, BLCKSZ - 8},
		{SizeOfPageHeaderData + 100, BLCKSZ - 500, BLCKSZ - 8},
		{BLCKSZ - 8, BLCKSZ - 8, BLCKSZ - 8}, // zero-length hole
	}
	for _, c := range cases {
		buf := buildPage(t, c.lower, c.upper, c.special, 0xABCDEF)
		p, err := Parse(buf, 1)
		require.NoError(t, err)

		rec := Encode(p)
		var wire bytes.Buffer
		require.NoError(t, Write(&wire, Record{
			Block:      1,
			HoleOffset: rec.HoleOffset,
			HoleLength: rec.HoleLength,
			Body:       rec.Body,
		}))

		got, err := Read(&wire, 0)
		require.NoError(t, err)
		require.False(t, got.Endpoint)

		reassembled := got.Reassemble()
		zeroedOriginal := p.ZeroHole()
		require.True(t, bytes.Equal(reassembled, zeroedOriginal), "round trip mismatch for hole [%d,%d)", c.lower, c.upper)
	}
}

func TestRecord_EndpointMarker(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEndpoint(&buf, 42))

	rec, err := Read(&buf, 10)
	require.NoError(t, err)
	require.True(t, rec.Endpoint)
	require.EqualValues(t, 42, rec.Block)
	require.Empty(t, rec.Body)
}

func TestRead_RejectsBlockRegression(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEndpoint(&buf, 5))

	_, err := Read(&buf, 6)
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestRead_RejectsImpossibleHole(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Record{Block: 1, HoleOffset: BLCKSZ, HoleLength: 10, Body: make([]byte, BLCKSZ-10)}))

	_, err := Read(&buf, 0)
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestChecksum_Deterministic(t *testing.T) {
	buf := buildPage(t, SizeOfPageHeaderData, BLCKSZ-8, BLCKSZ-8, 0x55)
	c1 := Checksum(buf, 7)
	c2 := Checksum(buf, 7)
	require.Equal(t, c1, c2)

	c3 := Checksum(buf, 8)
	require.NotEqual(t, c1, c3, "checksum must be block-number sensitive")
}

