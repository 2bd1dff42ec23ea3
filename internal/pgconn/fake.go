package pgconn

import (
	"context"
	"time"

	"pgrman/internal/pglsn"
)

// FakeConn is an in-memory Conn used by engine tests in place of a
// live cluster connection (spec §1: the connection itself is an
// out-of-scope external collaborator, only its request/response shape
// matters).
type FakeConn struct {
	StartResult StartBackupResult
	StopResult  StopBackupResult
	Control     ControlFile
	Running     bool

	StartBackupErr error
	StopBackupErr  error
}

func (f *FakeConn) StartBackup(ctx context.Context, smoothCheckpoint bool) (StartBackupResult, error) {
	if f.StartBackupErr != nil {
		return StartBackupResult{}, f.StartBackupErr
	}
	return f.StartResult, nil
}

func (f *FakeConn) StopBackup(ctx context.Context) (StopBackupResult, error) {
	if f.StopBackupErr != nil {
		return StopBackupResult{}, f.StopBackupErr
	}
	if f.StopResult.EndTime.IsZero() {
		f.StopResult.EndTime = time.Now()
	}
	return f.StopResult, nil
}

func (f *FakeConn) Checkpoint(ctx context.Context) error { return nil }

func (f *FakeConn) ReadControlFile(ctx context.Context) (ControlFile, error) {
	return f.Control, nil
}

func (f *FakeConn) IsRunning(ctx context.Context) (bool, error) { return f.Running, nil }

func (f *FakeConn) Close(ctx context.Context) error { return nil }

var _ Conn = (*FakeConn)(nil)

// NewFakeConn builds a FakeConn wired for a simple FULL backup scenario.
func NewFakeConn(startLSN, stopLSN pglsn.LSN, tli uint32) *FakeConn {
	return &FakeConn{
		StartResult: StartBackupResult{
			StartLSN: startLSN, TimelineID: tli, BlockSize: 8192, WalBlockSize: 8192,
			BackupLabel: []byte("START WAL LOCATION: " + startLSN.String() + "\n"),
		},
		StopResult: StopBackupResult{StopLSN: stopLSN},
		Control:    ControlFile{SystemIdentifier: 1, BlockSize: 8192, WalBlockSize: 8192},
	}
}
