package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pgrman/internal/backuprecord"
	"pgrman/internal/pglsn"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "pg_rman.ini"), []byte("# catalog lock anchor\n"), 0644))
	return New(root)
}

func TestLock_SecondHolderIsBusy(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.Lock())
	defer c.Unlock()

	other := New(c.Root)
	err := other.Lock()
	require.Error(t, err)
}

func TestLock_MissingIniIsSystemError(t *testing.T) {
	c := New(t.TempDir())
	err := c.Lock()
	require.Error(t, err)
}

func TestVerifyIdentity_FirstRunAdopts(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.VerifyIdentity(12345))

	raw, err := os.ReadFile(c.identityPath())
	require.NoError(t, err)
	require.Equal(t, "12345\n", string(raw))
}

func TestVerifyIdentity_MismatchFails(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.VerifyIdentity(111))
	err := c.VerifyIdentity(222)
	require.Error(t, err)
}

func TestWriteRecordGetList(t *testing.T) {
	c := newTestCatalog(t)

	b1 := backuprecord.Backup{
		ID: time.Date(2026, 1, 1, 10, 0, 0, 0, time.Local),
		Mode: backuprecord.ModeFull, Status: backuprecord.StatusOK,
		TimelineID: 1, StartLSN: pglsn.LSN(1), StopLSN: pglsn.LSN(2),
		StartTime: time.Date(2026, 1, 1, 10, 0, 0, 0, time.Local),
	}
	b2 := b1
	b2.ID = time.Date(2026, 1, 2, 10, 0, 0, 0, time.Local)
	b2.StartTime = b2.ID

	require.NoError(t, c.WriteRecord(b1))
	require.NoError(t, c.WriteRecord(b2))

	got, found, err := c.Get(b1.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, backuprecord.ModeFull, got.Mode)

	list, err := c.List(nil, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.True(t, list[0].ID.After(list[1].ID), "expected descending order")
}

func TestList_DropsCorruptedEntries(t *testing.T) {
	c := newTestCatalog(t)
	id := time.Date(2026, 1, 1, 10, 0, 0, 0, time.Local)
	dir := c.BackupDir(id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup.ini"), []byte("garbage=not a valid record"), 0644))

	list, err := c.List(nil, nil)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestPurge_RemovesOnlyDeletedEntries(t *testing.T) {
	c := newTestCatalog(t)
	keep := backuprecord.Backup{
		ID: time.Date(2026, 1, 1, 10, 0, 0, 0, time.Local), Mode: backuprecord.ModeFull,
		Status: backuprecord.StatusOK, StartTime: time.Date(2026, 1, 1, 10, 0, 0, 0, time.Local),
	}
	gone := keep
	gone.ID = time.Date(2026, 1, 2, 10, 0, 0, 0, time.Local)
	gone.Status = backuprecord.StatusDeleted
	gone.StartTime = gone.ID

	require.NoError(t, c.WriteRecord(keep))
	require.NoError(t, c.WriteRecord(gone))

	removed, err := c.Purge()
	require.NoError(t, err)
	require.Equal(t, []time.Time{gone.ID}, removed)

	_, found, err := c.Get(gone.ID)
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = c.Get(keep.ID)
	require.NoError(t, err)
	require.True(t, found)
}
