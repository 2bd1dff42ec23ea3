// Package stream wraps a backup artifact's data in the CRC/compression
// sink described by spec §4.3: every artifact on disk is the
// page-record stream (gzip-compressed when compression is on) followed
// by a 4-byte big-endian CRC-32C trailer over those bytes.
package stream

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRCWriter tees writes through a running CRC-32C (Castagnoli) and
// appends the trailer on Close, matching the teacher's MultiWriter
// pattern but against the Castagnoli polynomial Postgres tooling uses
// rather than IEEE.
type CRCWriter struct {
	w    io.Writer
	hash hash.Hash32
}

func NewCRCWriter(w io.Writer) *CRCWriter {
	return &CRCWriter{w: w, hash: crc32.New(castagnoli)}
}

func (cw *CRCWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.hash.Write(p[:n])
	}
	return n, err
}

// Close appends the trailing 4-byte big-endian CRC-32C checksum.
func (cw *CRCWriter) Close() error {
	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], cw.hash.Sum32())
	if _, err := cw.w.Write(trailer[:]); err != nil {
		return fmt.Errorf("stream: write crc trailer: %w", err)
	}
	return nil
}

// Sum32 returns the running checksum of everything written so far,
// without appending the trailer. Used by callers that need to record
// the same value Close() will write (e.g. a manifest entry).
func (cw *CRCWriter) Sum32() uint32 { return cw.hash.Sum32() }

// Checksum computes the CRC-32C (Castagnoli) of body directly, the
// same value a Sink would have appended as a trailer over the same
// bytes. Used by the validator to recompute against a manifest's
// recorded crc32c independently of the trailer VerifyAndStrip already
// checked.
func Checksum(body []byte) uint32 { return crc32.Checksum(body, castagnoli) }

// ErrCRCMismatch is returned by VerifyAndStrip when the trailing
// checksum does not match the body that preceded it.
var ErrCRCMismatch = fmt.Errorf("stream: crc32 mismatch")

// VerifyAndStrip reads all of r, checks its trailing 4-byte CRC-32C
// against the body, and returns the body with the trailer removed.
// Used by the validator (internal/engine's Validate) and by restore
// before decompression.
func VerifyAndStrip(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("stream: read artifact: %w", err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: artifact shorter than a trailer", ErrCRCMismatch)
	}
	body, trailer := raw[:len(raw)-4], raw[len(raw)-4:]
	want := binary.BigEndian.Uint32(trailer)
	got := crc32.Checksum(body, castagnoli)
	if got != want {
		return nil, fmt.Errorf("%w: got %08x, want %08x", ErrCRCMismatch, got, want)
	}
	return body, nil
}
