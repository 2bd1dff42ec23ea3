package timeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pgrman/internal/backuprecord"
	"pgrman/internal/pglsn"
)

func TestParse_AppendsInfiniteEndForTarget(t *testing.T) {
	r := strings.NewReader("1\t0/10000000\tfirst switch\n2\t0/20000000\tsecond switch\n")
	segs, err := Parse(r, 3)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	require.Equal(t, uint32(3), segs[2].TLI)
	require.Equal(t, infiniteEnd, segs[2].End)
}

func TestParse_RejectsOutOfOrderTLI(t *testing.T) {
	r := strings.NewReader("2\t0/10000000\n1\t0/20000000\n")
	_, err := Parse(r, 3)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestParse_IgnoresComments(t *testing.T) {
	r := strings.NewReader("# comment line\n1\t0/10000000\tswitch\n")
	segs, err := Parse(r, 2)
	require.NoError(t, err)
	require.Len(t, segs, 2)
}

func TestReachable(t *testing.T) {
	segs := []Segment{
		{TLI: 1, End: pglsn.LSN(0x100)},
		{TLI: 2, End: infiniteEnd},
	}
	inReach := backuprecord.Backup{TimelineID: 1, StopLSN: pglsn.LSN(0x50)}
	require.True(t, Reachable(inReach, segs))

	tooFar := backuprecord.Backup{TimelineID: 1, StopLSN: pglsn.LSN(0x200)}
	require.False(t, Reachable(tooFar, segs))

	wrongTimeline := backuprecord.Backup{TimelineID: 9, StopLSN: pglsn.LSN(0x1)}
	require.False(t, Reachable(wrongTimeline, segs))
}

func TestNewestOnDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, historyFileName(2)), []byte("1\t0/10000000\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, historyFileName(3)), []byte("1\t0/10000000\n2\t0/20000000\n"), 0644))
	// tli 4 absent: the probe should stop there.

	got := NewestOnDisk(dir, 1)
	require.EqualValues(t, 3, got)
}

func TestLoad_FallsBackToStaging(t *testing.T) {
	archive := t.TempDir()
	staging := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staging, historyFileName(2)), []byte("1\t0/10000000\tpromoted\n"), 0644))

	segs, err := Load(archive, staging, 2)
	require.NoError(t, err)
	require.Len(t, segs, 2)
}

func TestLoad_TimelineOneHasNoFile(t *testing.T) {
	segs, err := Load(t.TempDir(), t.TempDir(), 1)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, uint32(1), segs[0].TLI)
}
