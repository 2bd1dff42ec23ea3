package pgconn

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pgrman/internal/logging"
	"pgrman/internal/pglsn"
)

// PgxConn is the production Conn, issuing the same SQL-level backup
// control functions pg_basebackup relies on.
type PgxConn struct {
	conn *pgx.Conn
}

// Dial opens a connection using dsn (a standard libpq connection
// string; parsing it is the config layer's job, out of scope here per
// spec §1).
func Dial(ctx context.Context, dsn string) (*PgxConn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgconn: connect: %w", err)
	}
	return &PgxConn{conn: conn}, nil
}

func (c *PgxConn) Close(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close(ctx)
}

// StartBackup issues pg_backup_start (exclusive=false, non-exclusive
// API); smoothCheckpoint maps to the fast=false argument.
func (c *PgxConn) StartBackup(ctx context.Context, smoothCheckpoint bool) (StartBackupResult, error) {
	log := logging.For("pgconn")
	var lsnText string
	fast := !smoothCheckpoint
	row := c.conn.QueryRow(ctx, `SELECT pg_backup_start($1, $2)`, "pgrman backup", fast)
	if err := row.Scan(&lsnText); err != nil {
		return StartBackupResult{}, fmt.Errorf("pgconn: pg_backup_start: %w", err)
	}
	startLSN, err := pglsn.Parse(lsnText)
	if err != nil {
		return StartBackupResult{}, fmt.Errorf("pgconn: parse start lsn %q: %w", lsnText, err)
	}

	var tli uint32
	if err := c.conn.QueryRow(ctx, `SELECT timeline_id FROM pg_control_checkpoint()`).Scan(&tli); err != nil {
		return StartBackupResult{}, fmt.Errorf("pgconn: read timeline: %w", err)
	}

	cf, err := c.ReadControlFile(ctx)
	if err != nil {
		return StartBackupResult{}, err
	}

	var labelText, tsMapText string
	_ = c.conn.QueryRow(ctx, `SELECT labelfile, spcmapfile FROM pg_backup_start_files()`).Scan(&labelText, &tsMapText)
	log.Debug().Str("start_lsn", startLSN.String()).Uint32("tli", tli).Msg("start-backup RPC complete")

	return StartBackupResult{
		StartLSN:      startLSN,
		TimelineID:    tli,
		BlockSize:     cf.BlockSize,
		WalBlockSize:  cf.WalBlockSize,
		BackupLabel:   []byte(labelText),
		TablespaceMap: []byte(tsMapText),
	}, nil
}

// StopBackup issues pg_backup_stop.
func (c *PgxConn) StopBackup(ctx context.Context) (StopBackupResult, error) {
	var lsnText string
	var recoveryXid uint64
	row := c.conn.QueryRow(ctx, `SELECT lsn, pg_snapshot_xmin(pg_current_snapshot()) FROM pg_backup_stop(true)`)
	if err := row.Scan(&lsnText, &recoveryXid); err != nil {
		return StopBackupResult{}, fmt.Errorf("pgconn: pg_backup_stop: %w", err)
	}
	stopLSN, err := pglsn.Parse(lsnText)
	if err != nil {
		return StopBackupResult{}, fmt.Errorf("pgconn: parse stop lsn %q: %w", lsnText, err)
	}

	var endTimeText, recoveryTimeText string
	result := StopBackupResult{StopLSN: stopLSN, RecoveryXid: recoveryXid}
	if err := c.conn.QueryRow(ctx, `SELECT now()::text, now()::text`).Scan(&endTimeText, &recoveryTimeText); err == nil {
		if t, err := time.Parse("2006-01-02 15:04:05.999999-07", endTimeText); err == nil {
			result.EndTime = t
		}
		if t, err := time.Parse("2006-01-02 15:04:05.999999-07", recoveryTimeText); err == nil {
			result.RecoveryTime = t
		}
	}
	return result, nil
}

func (c *PgxConn) Checkpoint(ctx context.Context) error {
	if _, err := c.conn.Exec(ctx, `CHECKPOINT`); err != nil {
		return fmt.Errorf("pgconn: checkpoint: %w", err)
	}
	return nil
}

func (c *PgxConn) ReadControlFile(ctx context.Context) (ControlFile, error) {
	var cf ControlFile
	row := c.conn.QueryRow(ctx, `
		SELECT system_identifier, block_size, wal_block_size, data_page_checksum_version
		FROM pg_control_system(), pg_control_init()`)
	if err := row.Scan(&cf.SystemIdentifier, &cf.BlockSize, &cf.WalBlockSize, &cf.DataChecksumVersion); err != nil {
		return ControlFile{}, fmt.Errorf("pgconn: read control file: %w", err)
	}
	return cf, nil
}

func (c *PgxConn) IsRunning(ctx context.Context) (bool, error) {
	var one int
	err := c.conn.QueryRow(ctx, `SELECT 1`).Scan(&one)
	return err == nil, nil
}
