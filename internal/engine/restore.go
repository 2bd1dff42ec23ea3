package engine

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"pgrman/internal/apperrors"
	"pgrman/internal/backuprecord"
	"pgrman/internal/catalog"
	"pgrman/internal/datafile"
	"pgrman/internal/logging"
	"pgrman/internal/manifest"
	"pgrman/internal/pgconn"
	"pgrman/internal/stream"
	"pgrman/internal/timeline"
)

// RestoreTarget is the user-specified recovery target (spec §4.10
// inputs). A nil Time and Xid mean "restore to the newest reachable
// state" — the predicate always satisfied.
//
// The orchestrator only uses this to pick which *backups* belong in
// the chain: it compares each candidate's own recorded end time/xid
// against the target rather than inspecting WAL contents, the same
// coarse selection pg_rman itself performs. The precise stop point
// within that window is Postgres's job once EmitRecoverySignal's
// recovery_target_* directives take effect during crash recovery.
type RestoreTarget struct {
	Time      *time.Time
	Xid       *uint64
	Inclusive bool
	Timeline  uint32 // 0 means "newest on disk"
	Action    string // pause | promote | shutdown, empty if unset
}

// RestoreConfig is the orchestrator's input (spec §4.10).
type RestoreConfig struct {
	DataDir    string
	ConfigDir  string
	ArchiveDir string // long-term WAL archive, read for extraction and history lookup
	PgWalDir   string // live pg_wal under DataDir
	StagingDir string // recovery work directory (online-WAL staging, history fallback)
	HardCopy   bool   // hard-copy archived WAL instead of symlinking (spec §4.10 step 9)
	Version    string
}

// RestoreEngine drives one restore invocation (C10).
type RestoreEngine struct {
	Cat    *catalog.Catalog
	Conn   pgconn.Conn
	Config RestoreConfig
}

func NewRestoreEngine(cat *catalog.Catalog, conn pgconn.Conn, cfg RestoreConfig) *RestoreEngine {
	return &RestoreEngine{Cat: cat, Conn: conn, Config: cfg}
}

// Run executes the full restore algorithm (spec §4.10 steps 1-12).
func (e *RestoreEngine) Run(ctx context.Context, target RestoreTarget) error {
	runID := uuid.New().String()
	log := logging.For("engine.restore").With().Str("run_id", runID).Logger()
	cfg := e.Config

	// Step 1: lock + require server not running.
	if err := e.Cat.Lock(); err != nil {
		return err
	}
	defer e.Cat.Unlock()

	running, err := e.Conn.IsRunning(ctx)
	if err != nil {
		return fmt.Errorf("engine: probe server state: %w", err)
	}
	if running {
		return apperrors.New(apperrors.KindPgRunning, "engine.Run", apperrors.ErrPgRunning)
	}

	// Step 2: timeline history.
	targetTli := target.Timeline
	if targetTli == 0 {
		targetTli = timeline.NewestOnDisk(cfg.ArchiveDir, 1)
	}
	segments, err := timeline.Load(cfg.ArchiveDir, cfg.StagingDir, targetTli)
	if err != nil {
		return fmt.Errorf("engine: load timeline history: %w", err)
	}

	// Step 3: list backups, descending by id.
	backups, err := e.Cat.List(nil, nil)
	if err != nil {
		return err
	}

	// Step 4: choose base.
	base, found := chooseBase(backups, segments, target)
	if !found {
		return apperrors.New(apperrors.KindNoBackup, "engine.Run", apperrors.ErrNoBackup)
	}

	// Chain: base plus every younger, reachable, satisfying INCREMENTAL.
	chain := []backuprecord.Backup{base}
	for _, cand := range backups {
		if cand.Mode != backuprecord.ModeIncremental {
			continue
		}
		if !cand.ID.After(base.ID) {
			continue
		}
		if !timeline.Reachable(cand, segments) || !satisfiesTarget(cand, target) {
			continue
		}
		chain = append(chain, cand)
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].ID.Before(chain[j].ID) })

	// Step 5: stage online WAL before the data directory is cleared.
	if err := stageOnlineWAL(cfg.PgWalDir, cfg.StagingDir); err != nil {
		return err
	}

	// Step 6: clear the destination data directory, one top-level entry at a time.
	if err := clearDataDir(cfg.DataDir); err != nil {
		return err
	}

	// Steps 7-8: restore base, then each incremental on top.
	for _, b := range chain {
		if err := apperrors.CheckInterrupted(); err != nil {
			return err
		}
		dir := e.Cat.BackupDir(b.ID)
		if err := restoreSingleBackup(dir, b, cfg.DataDir); err != nil {
			return fmt.Errorf("engine: restore backup %s: %w", b.ID.Format(time.RFC3339), err)
		}
		log.Info().Time("id", b.ID).Str("mode", string(b.Mode)).Msg("restored backup layer")
	}

	// Step 9: extract archived WAL for the chain into the archive dir.
	if err := extractArchivedWAL(e.Cat, chain, cfg.ArchiveDir, cfg.HardCopy); err != nil {
		return err
	}

	// Step 10: copy staged online WAL back into the live pg_wal.
	if err := unstageOnlineWAL(cfg.StagingDir, cfg.PgWalDir); err != nil {
		return err
	}

	// Step 11: recovery-signal artifacts.
	rt := RecoveryTarget{ArclogPath: cfg.ArchiveDir, Timeline: timelineSpec(target.Timeline), Action: target.Action}
	if target.Time != nil {
		rt.Time = target.Time.Format("2006-01-02 15:04:05")
	}
	if target.Xid != nil {
		rt.Xid = fmt.Sprintf("%d", *target.Xid)
		inclusive := target.Inclusive
		rt.Inclusive = &inclusive
	}
	if err := EmitRecoverySignal(cfg.ConfigDir, cfg.DataDir, rt, cfg.Version); err != nil {
		return err
	}

	log.Info().Int("layers", len(chain)).Msg("restore complete")
	return nil
}

func timelineSpec(tli uint32) string {
	if tli == 0 {
		return "latest"
	}
	return fmt.Sprintf("%d", tli)
}

// chooseBase picks the newest FULL, status-OK, reachable backup
// satisfying target (spec §4.10 step 4). backups is already sorted
// descending by id.
func chooseBase(backups []backuprecord.Backup, segments []timeline.Segment, target RestoreTarget) (backuprecord.Backup, bool) {
	for _, b := range backups {
		if b.Mode != backuprecord.ModeFull || b.Status != backuprecord.StatusOK {
			continue
		}
		if !timeline.Reachable(b, segments) {
			continue
		}
		if !satisfiesTarget(b, target) {
			continue
		}
		return b, true
	}
	return backuprecord.Backup{}, false
}

// satisfiesTarget reports whether b's own recorded end time/xid falls
// at or before the user's recovery target.
func satisfiesTarget(b backuprecord.Backup, target RestoreTarget) bool {
	if target.Time != nil && b.EndTime.After(*target.Time) {
		return false
	}
	if target.Xid != nil {
		bound := *target.Xid
		if !target.Inclusive && bound > 0 {
			bound--
		}
		if b.RecoveryXid > bound {
			return false
		}
	}
	return true
}

// restoreSingleBackup lays down one backup's manifest entries into
// dataDir (spec §4.11), then deletes any destination file not present
// in this manifest (relations dropped since the base backup). The
// deletion pass collects its candidates into a slice before removing
// anything, rather than mutating the tree mid-walk.
func restoreSingleBackup(backupDir string, b backuprecord.Backup, dataDir string) error {
	mf, err := os.Open(filepath.Join(backupDir, "database", "file_database.txt"))
	if err != nil {
		return apperrors.New(apperrors.KindCorrupted, "restoreSingleBackup", err)
	}
	defer mf.Close()

	entries, err := manifest.Read(mf)
	if err != nil {
		return apperrors.New(apperrors.KindCorrupted, "restoreSingleBackup", err)
	}

	keep := make(map[string]bool, len(entries))
	for _, me := range entries {
		keep[me.RelPath] = true
		for p := filepath.Dir(me.RelPath); p != "." && p != "/"; p = filepath.Dir(p) {
			keep[p] = true
		}

		if err := apperrors.CheckInterrupted(); err != nil {
			return err
		}

		dstPath := filepath.Join(dataDir, me.RelPath)
		switch me.Type {
		case manifest.TypeDir:
			if err := os.MkdirAll(dstPath, 0700); err != nil {
				return apperrors.New(apperrors.KindSystem, "restoreSingleBackup", err)
			}
		case manifest.TypeSymlink:
			os.Remove(dstPath)
			if err := os.MkdirAll(filepath.Dir(dstPath), 0700); err != nil {
				return apperrors.New(apperrors.KindSystem, "restoreSingleBackup", err)
			}
			if err := os.Symlink(me.SymlinkTarget, dstPath); err != nil {
				return apperrors.New(apperrors.KindSystem, "restoreSingleBackup", err)
			}
		case manifest.TypeSocket:
			continue
		case manifest.TypeFile:
			if err := restoreOpaqueEntry(backupDir, me, dstPath, b.Compressed); err != nil {
				return err
			}
		case manifest.TypeDataFile:
			if me.WrittenBytes == -1 {
				continue // unchanged relative to an earlier layer, already on disk
			}
			if err := restoreDataFileEntry(backupDir, me, dstPath, b.Compressed); err != nil {
				return err
			}
		}
		if err := os.Chmod(dstPath, me.Mode); err != nil && !os.IsNotExist(err) {
			return apperrors.New(apperrors.KindSystem, "restoreSingleBackup", err)
		}
	}

	return pruneUnlisted(dataDir, keep)
}

func restoreOpaqueEntry(backupDir string, me manifest.Entry, dstPath string, compressed bool) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0700); err != nil {
		return apperrors.New(apperrors.KindSystem, "restoreOpaqueEntry", err)
	}
	artifact, err := os.Open(filepath.Join(backupDir, "database", me.RelPath))
	if err != nil {
		return apperrors.New(apperrors.KindCorrupted, "restoreOpaqueEntry", err)
	}
	defer artifact.Close()

	body, err := stream.Source(artifact, compressed)
	if err != nil {
		return apperrors.New(apperrors.KindCorrupted, "restoreOpaqueEntry", err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return apperrors.New(apperrors.KindSystem, "restoreOpaqueEntry", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, body); err != nil {
		return apperrors.New(apperrors.KindSystem, "restoreOpaqueEntry", err)
	}
	return nil
}

func restoreDataFileEntry(backupDir string, me manifest.Entry, dstPath string, compressed bool) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0700); err != nil {
		return apperrors.New(apperrors.KindSystem, "restoreDataFileEntry", err)
	}
	artifact, err := os.Open(filepath.Join(backupDir, "database", me.RelPath))
	if err != nil {
		return apperrors.New(apperrors.KindCorrupted, "restoreDataFileEntry", err)
	}
	defer artifact.Close()

	body, err := stream.Source(artifact, compressed)
	if err != nil {
		return apperrors.New(apperrors.KindCorrupted, "restoreDataFileEntry", err)
	}

	dst, err := os.OpenFile(dstPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return apperrors.New(apperrors.KindSystem, "restoreDataFileEntry", err)
	}
	defer dst.Close()

	if _, err := datafile.RestoreFile(body, dst); err != nil {
		return apperrors.New(apperrors.KindCorrupted, "restoreDataFileEntry", err)
	}
	return nil
}

// pruneUnlisted deletes every path under dataDir absent from keep. It
// builds the full removal list via one WalkDir pass before deleting
// anything, so the deletion loop never re-derives its targets from a
// tree it is concurrently shrinking (see DESIGN.md's note on the
// stale-loop-index bug this avoids).
func pruneUnlisted(dataDir string, keep map[string]bool) error {
	var toRemove []string
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == dataDir {
			return nil
		}
		rel, rerr := filepath.Rel(dataDir, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !keep[rel] {
			toRemove = append(toRemove, path)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.New(apperrors.KindSystem, "pruneUnlisted", err)
	}

	for _, p := range toRemove {
		if err := os.RemoveAll(p); err != nil {
			return apperrors.New(apperrors.KindSystem, "pruneUnlisted", err)
		}
	}
	return nil
}

// clearDataDir removes every top-level entry of dataDir (files,
// symlinks, and subdirectories alike) without removing dataDir itself
// (spec §4.10 step 6).
func clearDataDir(dataDir string) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return apperrors.New(apperrors.KindSystem, "clearDataDir", err)
	}
	for _, ent := range entries {
		if err := os.RemoveAll(filepath.Join(dataDir, ent.Name())); err != nil {
			return apperrors.New(apperrors.KindSystem, "clearDataDir", err)
		}
	}
	return nil
}

// stageOnlineWAL copies the currently-active WAL segments out of
// pgWalDir before the data directory is cleared (spec §4.10 step 5).
func stageOnlineWAL(pgWalDir, stagingDir string) error {
	if pgWalDir == "" {
		return nil
	}
	entries, err := os.ReadDir(pgWalDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.New(apperrors.KindSystem, "stageOnlineWAL", err)
	}
	dest := filepath.Join(stagingDir, "pg_wal")
	if err := os.MkdirAll(dest, 0700); err != nil {
		return apperrors.New(apperrors.KindSystem, "stageOnlineWAL", err)
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if _, err := copyFile(filepath.Join(pgWalDir, ent.Name()), filepath.Join(dest, ent.Name())); err != nil {
			return apperrors.New(apperrors.KindSystem, "stageOnlineWAL", err)
		}
	}
	return nil
}

// unstageOnlineWAL copies the staged online WAL back into the
// restored data directory's pg_wal (spec §4.10 step 10).
func unstageOnlineWAL(stagingDir, pgWalDir string) error {
	staged := filepath.Join(stagingDir, "pg_wal")
	entries, err := os.ReadDir(staged)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.New(apperrors.KindSystem, "unstageOnlineWAL", err)
	}
	if err := os.MkdirAll(pgWalDir, 0700); err != nil {
		return apperrors.New(apperrors.KindSystem, "unstageOnlineWAL", err)
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if _, err := copyFile(filepath.Join(staged, ent.Name()), filepath.Join(pgWalDir, ent.Name())); err != nil {
			return apperrors.New(apperrors.KindSystem, "unstageOnlineWAL", err)
		}
	}
	return nil
}

// extractArchivedWAL populates archiveDir with every WAL segment
// carried by the chain's backups' own arclog/ directories, as
// symlinks by default or hard copies when hardCopy is set (spec §4.10
// step 9). Earlier (older) backups in the chain win on name collision,
// since WAL segment names are globally unique by construction.
func extractArchivedWAL(cat *catalog.Catalog, chain []backuprecord.Backup, archiveDir string, hardCopy bool) error {
	if archiveDir == "" {
		return nil
	}
	if err := os.MkdirAll(archiveDir, 0700); err != nil {
		return apperrors.New(apperrors.KindSystem, "extractArchivedWAL", err)
	}
	for _, b := range chain {
		arclogDir := filepath.Join(cat.BackupDir(b.ID), "arclog")
		entries, err := os.ReadDir(arclogDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return apperrors.New(apperrors.KindSystem, "extractArchivedWAL", err)
		}
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			src := filepath.Join(arclogDir, ent.Name())
			dst := filepath.Join(archiveDir, ent.Name())
			if _, err := os.Lstat(dst); err == nil {
				continue // already extracted by an earlier (older) backup
			}
			if hardCopy {
				if _, err := copyFile(src, dst); err != nil {
					return apperrors.New(apperrors.KindSystem, "extractArchivedWAL", err)
				}
			} else if err := os.Symlink(src, dst); err != nil {
				return apperrors.New(apperrors.KindSystem, "extractArchivedWAL", err)
			}
		}
	}
	return nil
}
