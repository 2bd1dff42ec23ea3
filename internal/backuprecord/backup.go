// Package backuprecord implements the Backup entity (spec §3.1) and its
// persistent backup.ini representation (spec §4.6, §6.5).
package backuprecord

import (
	"time"

	"pgrman/internal/pglsn"
)

// Mode is one of the three backup strategies (spec §3.1).
type Mode string

const (
	ModeFull        Mode = "FULL"
	ModeIncremental Mode = "INCREMENTAL"
	ModeArchive     Mode = "ARCHIVE"
)

// Status is the Backup lifecycle state (spec §3.3).
type Status string

const (
	StatusInvalid  Status = "INVALID"
	StatusRunning  Status = "RUNNING"
	StatusOK       Status = "OK"
	StatusDone     Status = "DONE"
	StatusError    Status = "ERROR"
	StatusDeleting Status = "DELETING"
	StatusDeleted  Status = "DELETED"
	StatusCorrupt  Status = "CORRUPT"
)

// timeLayout is the local-time ISO representation backup.ini stores
// timestamps in (spec §4.6: "the same tz is assumed on write and
// read").
const timeLayout = "2006-01-02 15:04:05"

// Backup is one captured snapshot (spec §3.1).
type Backup struct {
	ID     time.Time // also the catalog key, second precision
	Mode   Mode
	Status Status

	WithServerlog     bool
	Compressed        bool
	FullBackupOnError bool

	TimelineID uint32
	StartLSN   pglsn.LSN
	StopLSN    pglsn.LSN

	StartTime    time.Time
	EndTime      time.Time
	RecoveryTime time.Time
	RecoveryXid  uint64

	TotalDataBytes  int64
	ReadDataBytes   int64
	ReadArclogBytes int64
	ReadSrvlogBytes int64
	WriteBytes      int64

	BlockSize    uint32
	XlogBlockSize uint32
}

func (b Backup) IsIncremental() bool { return b.Mode == ModeIncremental }
