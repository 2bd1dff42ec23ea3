package stream

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRCWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewCRCWriter(&buf)
	_, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	body, err := VerifyAndStrip(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

func TestCRCWriter_DetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	w := NewCRCWriter(&buf)
	_, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw := buf.Bytes()
	raw[0] ^= 0xFF

	_, err = VerifyAndStrip(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrCRCMismatch)
}

func TestSink_Uncompressed(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, false)
	payload := []byte("the quick brown fox jumps over the lazy dog")
	_, err := s.Write(payload)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	r, err := Source(bytes.NewReader(buf.Bytes()), false)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestSink_Compressed(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, true)
	payload := bytes.Repeat([]byte("repeatable page bytes"), 500)
	_, err := s.Write(payload)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.Less(t, buf.Len(), len(payload), "compression should shrink a repetitive payload")

	r, err := Source(bytes.NewReader(buf.Bytes()), true)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestSink_CompressedDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf, true)
	_, err := s.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	raw := buf.Bytes()
	raw[len(raw)-5] ^= 0xFF

	_, err = Source(bytes.NewReader(raw), true)
	require.ErrorIs(t, err, ErrCRCMismatch)
}
