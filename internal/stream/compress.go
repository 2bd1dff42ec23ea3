package stream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"pgrman/internal/apperrors"
)

// Sink is the write side of an artifact: raw page-record bytes written
// to it are gzip-compressed (when enabled) and the compressed bytes are
// fed through a running CRC-32C, trailer appended on Close (spec §4.3).
type Sink struct {
	gz  *gzip.Writer
	crc *CRCWriter
}

// NewSink wraps dst. When compress is false, the gzip stage is skipped
// and the CRC covers the raw bytes directly (spec §6.1 COMPRESS_DATA=0).
func NewSink(dst io.Writer, compress bool) *Sink {
	crc := NewCRCWriter(dst)
	s := &Sink{crc: crc}
	if compress {
		s.gz = gzip.NewWriter(crc)
	}
	return s
}

func (s *Sink) Write(p []byte) (int, error) {
	if err := apperrors.CheckInterrupted(); err != nil {
		return 0, err
	}
	if s.gz != nil {
		return s.gz.Write(p)
	}
	return s.crc.Write(p)
}

// Sum32 returns the CRC-32C of the compressed output written so far,
// i.e. the value Close() will append as the trailer (spec §4.3, §4.5
// crc32c field).
func (s *Sink) Sum32() uint32 { return s.crc.Sum32() }

// Close flushes any pending compressed output and appends the CRC
// trailer. Callers must call Close exactly once, after the last Write.
func (s *Sink) Close() error {
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return fmt.Errorf("stream: close gzip writer: %w", err)
		}
	}
	return s.crc.Close()
}

// Source is the read side: it verifies and strips the CRC trailer, then
// exposes the remaining body, transparently decompressing when the
// artifact was produced with compress=true.
func Source(r io.Reader, compress bool) (io.Reader, error) {
	body, err := VerifyAndStrip(r)
	if err != nil {
		return nil, err
	}
	if !compress {
		return bytes.NewReader(body), nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stream: open gzip reader: %w", err)
	}
	return gz, nil
}
