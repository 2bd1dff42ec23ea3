package pgconn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pgrman/internal/pglsn"
)

func TestControlFile_DataChecksumsEnabled(t *testing.T) {
	require.False(t, ControlFile{DataChecksumVersion: 0}.DataChecksumsEnabled())
	require.True(t, ControlFile{DataChecksumVersion: 1}.DataChecksumsEnabled())
}

func TestFakeConn_ImplementsRoundTrip(t *testing.T) {
	conn := NewFakeConn(pglsn.LSN(0x100), pglsn.LSN(0x500), 1)
	ctx := context.Background()

	start, err := conn.StartBackup(ctx, true)
	require.NoError(t, err)
	require.Equal(t, pglsn.LSN(0x100), start.StartLSN)

	stop, err := conn.StopBackup(ctx)
	require.NoError(t, err)
	require.Equal(t, pglsn.LSN(0x500), stop.StopLSN)
	require.False(t, stop.EndTime.IsZero())
}
