package manifest

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleEntries() []Entry {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Entry{
		{RelPath: "PG_VERSION", Type: TypeFile, WrittenBytes: 3, CRC32C: 0xDEADBEEF, Mode: 0644, ModTime: t0},
		{RelPath: "base", Type: TypeDir, WrittenBytes: 0, Mode: 0755 | os.ModeDir, ModTime: t0},
		{RelPath: "base/1/1260", Type: TypeDataFile, WrittenBytes: 8192, CRC32C: 123, Mode: 0600, ModTime: t0},
		{RelPath: "pg_tblspc/1", Type: TypeSymlink, WrittenBytes: 0, Mode: 0777, ModTime: t0, SymlinkTarget: "/mnt/ssd/tbs1"},
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleEntries()))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, "PG_VERSION", got[0].RelPath)
	require.Equal(t, TypeDataFile, got[2].Type)
	require.EqualValues(t, 8192, got[2].WrittenBytes)
	require.Equal(t, "/mnt/ssd/tbs1", got[3].SymlinkTarget)
}

func TestRead_NegativeWrittenBytesMeansNoPagesNew(t *testing.T) {
	var buf bytes.Buffer
	t0 := time.Now().UTC()
	require.NoError(t, Write(&buf, []Entry{
		{RelPath: "base/1/1260", Type: TypeDataFile, WrittenBytes: -1, Mode: 0600, ModTime: t0},
	}))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.EqualValues(t, -1, got[0].WrittenBytes)
}

func TestRead_UnknownTypeCharIsCorrupted(t *testing.T) {
	_, err := Read(bytes.NewBufferString("somefile X 10 1 644 2026-03-01T12:00:00Z\n"))
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestRead_TrailingWhitespaceTolerated(t *testing.T) {
	line := "PG_VERSION f 3 100 644 2026-03-01T12:00:00Z   \n"
	got, err := Read(bytes.NewBufferString(line))
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestRead_TooFewFieldsIsCorrupted(t *testing.T) {
	_, err := Read(bytes.NewBufferString("PG_VERSION f 3\n"))
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestRead_BlankLinesIgnored(t *testing.T) {
	got, err := Read(bytes.NewBufferString("\n\nPG_VERSION f 3 100 644 2026-03-01T12:00:00Z\n\n"))
	require.NoError(t, err)
	require.Len(t, got, 1)
}
