package datafile

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"pgrman/internal/page"
	"pgrman/internal/pglsn"
)

func buildPage(t *testing.T, lsn uint64) []byte {
	t.Helper()
	buf := make([]byte, page.BLCKSZ)
	lower, upper, special := uint16(page.SizeOfPageHeaderData+8), uint16(page.BLCKSZ-8), uint16(page.BLCKSZ-8)
	// page's header writer is unexported, so the fixture pokes the
	// known on-disk layout directly rather than importing page's
	// internals.
	h := rawHeader{lsn: lsn, lower: lower, upper: upper, special: special}
	h.writeTo(buf)
	for i := int(upper); i < len(buf); i++ {
		buf[i] = byte(i)
	}
	return buf
}

// rawHeader mirrors page.Header's on-disk layout (spec §3.1) just
// closely enough to synthesize fixtures from this package, without
// reaching into page's unexported helpers.
type rawHeader struct {
	lsn               uint64
	lower, upper      uint16
	special           uint16
}

func (h rawHeader) writeTo(buf []byte) {
	putU64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}
	putU16 := func(off int, v uint16) {
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
	}
	putU64(0, h.lsn)
	putU16(8, 0) // pd_checksum, recomputed later if needed
	putU16(10, 0) // pd_flags
	putU16(12, h.lower)
	putU16(14, h.upper)
	putU16(16, h.special)
	putU16(18, page.BLCKSZ|page.LayoutVersion) // pd_pagesize_version
	putU16(20, 0)                              // pd_prune_xid low half
	putU16(22, 0)                              // pd_prune_xid high half
}

func writeTempFile(t *testing.T, pages ...[]byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "seg")
	require.NoError(t, err)
	for _, p := range pages {
		_, err := f.Write(p)
		require.NoError(t, err)
	}
	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	return f
}

func TestBackupFile_FullCopiesAllPages(t *testing.T) {
	p0 := buildPage(t, 0x100)
	p1 := buildPage(t, 0x200)
	f := writeTempFile(t, p0, p1)
	defer f.Close()

	var out bytes.Buffer
	result, err := BackupFile(f, &out, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, result.PagesWritten)
	require.Greater(t, result.WrittenBytes, int64(0))
}

func TestBackupFile_SkipsPagesOlderThanParentLSN(t *testing.T) {
	p0 := buildPage(t, 0x100)
	p1 := buildPage(t, 0x500)
	f := writeTempFile(t, p0, p1)
	defer f.Close()

	var out bytes.Buffer
	result, err := BackupFile(f, &out, Options{
		HasParentLSN: true,
		ParentLSN:    pglsn.LSN(0x300),
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.PagesWritten)
}

func TestBackupFile_AllPagesSkippedYieldsSentinel(t *testing.T) {
	p0 := buildPage(t, 0x100)
	f := writeTempFile(t, p0)
	defer f.Close()

	var out bytes.Buffer
	result, err := BackupFile(f, &out, Options{
		HasParentLSN: true,
		ParentLSN:    pglsn.LSN(0xFFFF),
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.PagesWritten)
	require.EqualValues(t, -1, result.WrittenBytes)
}

func TestBackupFile_CorruptBlockZeroFallsBackToOpaque(t *testing.T) {
	garbage := make([]byte, page.BLCKSZ)
	for i := range garbage {
		garbage[i] = 0xAB
	}
	f := writeTempFile(t, garbage)
	defer f.Close()

	var out bytes.Buffer
	_, err := BackupFile(f, &out, Options{})
	require.ErrorIs(t, err, ErrFallbackToOpaque)
}

func TestBackupFile_PartialTailBlockIsZeroPadded(t *testing.T) {
	p0 := buildPage(t, 0x100)
	f := writeTempFile(t, p0)
	defer f.Close()
	_, err := f.Write(make([]byte, 100)) // short second block
	require.NoError(t, err)
	_, err = f.Seek(0, 0)
	require.NoError(t, err)

	var out bytes.Buffer
	result, err := BackupFile(f, &out, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, result.PagesWritten)

	rec1, err := page.Read(&out, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, rec1.Block)
	rec2, err := page.Read(&out, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, rec2.Block)
	reassembled := rec2.Reassemble()
	require.Len(t, reassembled, page.BLCKSZ)
	require.True(t, bytes.Equal(reassembled[100:], make([]byte, page.BLCKSZ-100)))
}

func TestBackupFile_IncrementalAppendsEndpoint(t *testing.T) {
	p0 := buildPage(t, 0x100)
	f := writeTempFile(t, p0)
	defer f.Close()

	var out bytes.Buffer
	_, err := BackupFile(f, &out, Options{Incremental: true})
	require.NoError(t, err)

	_, err = page.Read(&out, 0) // the data record
	require.NoError(t, err)
	endpoint, err := page.Read(&out, 1)
	require.NoError(t, err)
	require.True(t, endpoint.Endpoint)
	require.EqualValues(t, 1, endpoint.Block)
}

func TestRestoreFile_RoundTripsAndTruncatesOnEndpoint(t *testing.T) {
	p0 := buildPage(t, 0x100)
	p1 := buildPage(t, 0x200)
	src := writeTempFile(t, p0, p1)
	defer src.Close()

	var stream bytes.Buffer
	_, err := BackupFile(src, &stream, Options{Incremental: true})
	require.NoError(t, err)

	dst, err := os.CreateTemp(t.TempDir(), "restore")
	require.NoError(t, err)
	defer dst.Close()

	result, err := RestoreFile(&stream, dst)
	require.NoError(t, err)
	require.True(t, result.Truncated)
	require.Equal(t, 2, result.PagesWritten)

	info, err := dst.Stat()
	require.NoError(t, err)
	require.EqualValues(t, 2*page.BLCKSZ, info.Size())
}

func TestRestoreFile_IdempotentReplay(t *testing.T) {
	p0 := buildPage(t, 0x100)
	src := writeTempFile(t, p0)
	defer src.Close()

	var stream bytes.Buffer
	_, err := BackupFile(src, &stream, Options{})
	require.NoError(t, err)
	raw := stream.Bytes()

	dst, err := os.CreateTemp(t.TempDir(), "restore")
	require.NoError(t, err)
	defer dst.Close()

	_, err = RestoreFile(bytes.NewReader(raw), dst)
	require.NoError(t, err)
	firstStat, err := dst.Stat()
	require.NoError(t, err)

	_, err = RestoreFile(bytes.NewReader(raw), dst)
	require.NoError(t, err)
	secondStat, err := dst.Stat()
	require.NoError(t, err)

	require.Equal(t, firstStat.Size(), secondStat.Size())
}
