package backuprecord

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/ini.v1"

	"pgrman/internal/pglsn"
)

// requiredKeys are the backup.ini keys whose absence fails the whole
// read with CORRUPTED (spec §4.6); everything else in the full key
// list (spec §6.5) is read best-effort and defaults to its zero value.
var requiredKeys = []string{
	"BACKUP_MODE",
	"TIMELINEID",
	"START_TIME",
	"STATUS",
}

// ErrCorrupted is returned when a required key is missing or a present
// key cannot be parsed in its expected type.
var ErrCorrupted = fmt.Errorf("backuprecord: corrupted backup.ini")

// Load parses a backup.ini file's bytes into a Backup. Unknown keys are
// ignored; Load does not report which keys it skipped, so no warning is
// logged for them.
func Load(raw []byte) (Backup, error) {
	cfg, err := ini.Load(raw)
	if err != nil {
		return Backup{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	section := cfg.Section("")

	for _, key := range requiredKeys {
		if !section.HasKey(key) {
			return Backup{}, fmt.Errorf("%w: missing required key %s", ErrCorrupted, key)
		}
	}

	var b Backup
	b.Mode = Mode(section.Key("BACKUP_MODE").String())
	b.Status = Status(section.Key("STATUS").String())
	b.WithServerlog = section.Key("WITH_SERVERLOG").MustBool(false)
	b.Compressed = section.Key("COMPRESS_DATA").MustBool(false)
	b.FullBackupOnError = section.Key("FULL_BACKUP_ON_ERROR").MustBool(false)

	tli, err := section.Key("TIMELINEID").Uint()
	if err != nil {
		return Backup{}, fmt.Errorf("%w: TIMELINEID: %v", ErrCorrupted, err)
	}
	b.TimelineID = uint32(tli)

	if startTime, err := parseTime(section, "START_TIME"); err == nil {
		b.StartTime = startTime
		b.ID = startTime
	} else {
		return Backup{}, fmt.Errorf("%w: START_TIME: %v", ErrCorrupted, err)
	}
	if endTime, err := parseTime(section, "END_TIME"); err == nil {
		b.EndTime = endTime
	}
	if recoveryTime, err := parseTime(section, "RECOVERY_TIME"); err == nil {
		b.RecoveryTime = recoveryTime
	}

	if section.HasKey("START_LSN") {
		lsn, err := pglsn.Parse(section.Key("START_LSN").String())
		if err != nil {
			return Backup{}, fmt.Errorf("%w: START_LSN: %v", ErrCorrupted, err)
		}
		b.StartLSN = lsn
	}
	if section.HasKey("STOP_LSN") {
		lsn, err := pglsn.Parse(section.Key("STOP_LSN").String())
		if err != nil {
			return Backup{}, fmt.Errorf("%w: STOP_LSN: %v", ErrCorrupted, err)
		}
		b.StopLSN = lsn
	}

	b.RecoveryXid, _ = section.Key("RECOVERY_XID").Uint64()
	b.TotalDataBytes, _ = section.Key("TOTAL_DATA_BYTES").Int64()
	b.ReadDataBytes, _ = section.Key("READ_DATA_BYTES").Int64()
	b.ReadArclogBytes, _ = section.Key("READ_ARCLOG_BYTES").Int64()
	b.ReadSrvlogBytes, _ = section.Key("READ_SRVLOG_BYTES").Int64()
	b.WriteBytes, _ = section.Key("WRITE_BYTES").Int64()
	if bs, err := section.Key("BLOCK_SIZE").Uint(); err == nil {
		b.BlockSize = uint32(bs)
	}
	if xbs, err := section.Key("XLOG_BLOCK_SIZE").Uint(); err == nil {
		b.XlogBlockSize = uint32(xbs)
	}

	return b, nil
}

func parseTime(section *ini.Section, key string) (time.Time, error) {
	if !section.HasKey(key) || section.Key(key).String() == "" {
		return time.Time{}, fmt.Errorf("absent")
	}
	return section.Key(key).TimeFormat(timeLayout)
}

// Save serializes b as KEY=VALUE lines covering the full key list
// (spec §6.5) and returns the bytes of a complete backup.ini.
func Save(b Backup) ([]byte, error) {
	cfg := ini.Empty()
	section := cfg.Section("")

	section.Key("BACKUP_MODE").SetValue(string(b.Mode))
	section.Key("FULL_BACKUP_ON_ERROR").SetValue(strconv.FormatBool(b.FullBackupOnError))
	section.Key("WITH_SERVERLOG").SetValue(strconv.FormatBool(b.WithServerlog))
	section.Key("COMPRESS_DATA").SetValue(strconv.FormatBool(b.Compressed))
	section.Key("TIMELINEID").SetValue(strconv.FormatUint(uint64(b.TimelineID), 10))
	section.Key("START_LSN").SetValue(b.StartLSN.String())
	section.Key("STOP_LSN").SetValue(b.StopLSN.String())
	section.Key("START_TIME").SetValue(b.StartTime.Format(timeLayout))
	if !b.EndTime.IsZero() {
		section.Key("END_TIME").SetValue(b.EndTime.Format(timeLayout))
	}
	section.Key("RECOVERY_XID").SetValue(strconv.FormatUint(b.RecoveryXid, 10))
	if !b.RecoveryTime.IsZero() {
		section.Key("RECOVERY_TIME").SetValue(b.RecoveryTime.Format(timeLayout))
	}
	section.Key("TOTAL_DATA_BYTES").SetValue(strconv.FormatInt(b.TotalDataBytes, 10))
	section.Key("READ_DATA_BYTES").SetValue(strconv.FormatInt(b.ReadDataBytes, 10))
	section.Key("READ_ARCLOG_BYTES").SetValue(strconv.FormatInt(b.ReadArclogBytes, 10))
	section.Key("READ_SRVLOG_BYTES").SetValue(strconv.FormatInt(b.ReadSrvlogBytes, 10))
	section.Key("WRITE_BYTES").SetValue(strconv.FormatInt(b.WriteBytes, 10))
	section.Key("BLOCK_SIZE").SetValue(strconv.FormatUint(uint64(b.BlockSize), 10))
	section.Key("XLOG_BLOCK_SIZE").SetValue(strconv.FormatUint(uint64(b.XlogBlockSize), 10))
	section.Key("STATUS").SetValue(string(b.Status))

	var out bytes.Buffer
	if _, err := cfg.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("backuprecord: serialize backup.ini: %w", err)
	}
	return out.Bytes(), nil
}
