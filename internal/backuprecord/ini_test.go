package backuprecord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pgrman/internal/pglsn"
)

func sampleBackup() Backup {
	return Backup{
		Mode:            ModeIncremental,
		Status:          StatusDone,
		WithServerlog:   true,
		Compressed:      true,
		TimelineID:      3,
		StartLSN:        pglsn.LSN(0x100000000 | 0x20),
		StopLSN:         pglsn.LSN(0x200000000 | 0x40),
		StartTime:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local),
		EndTime:         time.Date(2026, 3, 1, 10, 5, 0, 0, time.Local),
		RecoveryXid:     4242,
		TotalDataBytes:  100,
		ReadDataBytes:   50,
		ReadArclogBytes: 10,
		ReadSrvlogBytes: 0,
		WriteBytes:      40,
		BlockSize:       8192,
		XlogBlockSize:   8192,
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	b := sampleBackup()
	raw, err := Save(b)
	require.NoError(t, err)

	got, err := Load(raw)
	require.NoError(t, err)
	require.Equal(t, b.Mode, got.Mode)
	require.Equal(t, b.Status, got.Status)
	require.Equal(t, b.TimelineID, got.TimelineID)
	require.Equal(t, b.StartLSN, got.StartLSN)
	require.Equal(t, b.StopLSN, got.StopLSN)
	require.True(t, b.StartTime.Equal(got.StartTime))
	require.EqualValues(t, b.RecoveryXid, got.RecoveryXid)
	require.EqualValues(t, b.TotalDataBytes, got.TotalDataBytes)
}

func TestLoad_MissingRequiredKeyIsCorrupted(t *testing.T) {
	raw := []byte("BACKUP_MODE=FULL\nSTATUS=OK\n")
	_, err := Load(raw)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestLoad_UnknownKeyIsIgnored(t *testing.T) {
	b := sampleBackup()
	raw, err := Save(b)
	require.NoError(t, err)
	raw = append(raw, []byte("SOME_FUTURE_KEY=whatever\n")...)

	got, err := Load(raw)
	require.NoError(t, err)
	require.Equal(t, b.Mode, got.Mode)
}

func TestLoad_BadLSNIsCorrupted(t *testing.T) {
	raw := []byte("BACKUP_MODE=FULL\nTIMELINEID=1\nSTART_TIME=2026-03-01 10:00:00\nSTATUS=OK\nSTART_LSN=not-an-lsn\n")
	_, err := Load(raw)
	require.ErrorIs(t, err, ErrCorrupted)
}
