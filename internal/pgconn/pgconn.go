// Package pgconn is the thin RPC boundary to the live cluster (spec §1
// non-goals: "only the request and returned blobs matter"). Conn is the
// interface the backup orchestrator depends on; PgxConn is the
// pgx/v5-backed implementation used in production.
package pgconn

import (
	"context"
	"fmt"
	"time"

	"pgrman/internal/pglsn"
)

// StartBackupResult is what a "start-backup" RPC returns (spec §4.9
// step 2).
type StartBackupResult struct {
	StartLSN      pglsn.LSN
	TimelineID    uint32
	BlockSize     uint32
	WalBlockSize  uint32
	BackupLabel   []byte // nil when the server didn't return one
	TablespaceMap []byte
}

// StopBackupResult is what a "stop-backup" RPC returns (spec §4.9
// step 7).
type StopBackupResult struct {
	StopLSN      pglsn.LSN
	EndTime      time.Time
	RecoveryXid  uint64
	RecoveryTime time.Time
}

// ControlFile is the subset of pg_control this engine reads.
type ControlFile struct {
	SystemIdentifier    uint64
	DataChecksumVersion uint32
	BlockSize           uint32
	WalBlockSize        uint32
}

// DataChecksumsEnabled resolves solely from the control file's
// data_page_checksum_version (DESIGN.md Open Question 2) — never from
// the current timeline ID.
func (cf ControlFile) DataChecksumsEnabled() bool { return cf.DataChecksumVersion != 0 }

// Conn is the RPC surface the backup/restore orchestrators need from a
// live or offline cluster.
type Conn interface {
	StartBackup(ctx context.Context, smoothCheckpoint bool) (StartBackupResult, error)
	StopBackup(ctx context.Context) (StopBackupResult, error)
	Checkpoint(ctx context.Context) error
	ReadControlFile(ctx context.Context) (ControlFile, error)
	IsRunning(ctx context.Context) (bool, error)
	Close(ctx context.Context) error
}

// ErrNotConnected reports an operation attempted before Dial. Nothing in
// this package returns it: PgxConn's methods other than Close use the
// connection without checking it.
var ErrNotConnected = fmt.Errorf("pgconn: not connected")
