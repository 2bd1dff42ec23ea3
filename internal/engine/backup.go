// Package engine implements the backup and restore orchestrators (C9,
// C10, spec §4.9-§4.11), wiring together every lower component: the
// directory walker (C4), file differ (C2), CRC/compression stream
// (C3), manifest (C5), backup record (C6), catalog (C7), and timeline
// history (C8).
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"pgrman/internal/apperrors"
	"pgrman/internal/backuprecord"
	"pgrman/internal/catalog"
	"pgrman/internal/datafile"
	"pgrman/internal/logging"
	"pgrman/internal/manifest"
	"pgrman/internal/page"
	"pgrman/internal/pgconn"
	"pgrman/internal/pglsn"
	"pgrman/internal/stream"
	"pgrman/internal/walk"
)

// relSegSize is RELSEG_SIZE under the default 8KiB BLCKSZ: a relation
// segment file holds at most this many blocks before Postgres starts a
// new numbered segment (spec §3.1 DataFile).
const relSegSize = 131072

// BackupConfig is the orchestrator's input (spec §4.9 "Inputs").
type BackupConfig struct {
	Mode              backuprecord.Mode
	Compress          bool
	SmoothCheckpoint  bool
	WithServerlog     bool
	FullBackupOnError bool
	OmitSymlinks      bool

	DataDir       string
	ServerlogDir  string
	ArchiveDir    string // live WAL archive, read during the WAL-copy step
	BlacklistFile string
}

// BackupEngine drives one backup invocation (C9).
type BackupEngine struct {
	Cat    *catalog.Catalog
	Conn   pgconn.Conn
	Config BackupConfig
}

func NewBackupEngine(cat *catalog.Catalog, conn pgconn.Conn, cfg BackupConfig) *BackupEngine {
	return &BackupEngine{Cat: cat, Conn: conn, Config: cfg}
}

type parentLSN struct {
	lsn     pglsn.LSN
	present bool
}

// Run executes the full backup algorithm (spec §4.9 steps 1-9),
// returning the persisted Backup record.
func (e *BackupEngine) Run(ctx context.Context) (backuprecord.Backup, error) {
	runID := uuid.New().String()
	log := logging.For("engine.backup").With().Str("run_id", runID).Logger()
	cfg := e.Config

	// Step 1: identity + lock.
	cf, err := e.Conn.ReadControlFile(ctx)
	if err != nil {
		return backuprecord.Backup{}, fmt.Errorf("engine: read control file: %w", err)
	}
	if err := e.Cat.VerifyIdentity(cf.SystemIdentifier); err != nil {
		return backuprecord.Backup{}, err
	}
	if err := e.Cat.Lock(); err != nil {
		return backuprecord.Backup{}, err
	}
	defer e.Cat.Unlock()

	// Step 2: start-backup RPC.
	started, err := e.Conn.StartBackup(ctx, cfg.SmoothCheckpoint)
	if err != nil {
		return backuprecord.Backup{}, fmt.Errorf("engine: start-backup: %w", err)
	}

	now := time.Now().Truncate(time.Second)
	b := backuprecord.Backup{
		ID:            now,
		Mode:          cfg.Mode,
		Status:        backuprecord.StatusRunning,
		WithServerlog: cfg.WithServerlog,
		Compressed:    cfg.Compress,
		TimelineID:    started.TimelineID,
		StartLSN:      started.StartLSN,
		StartTime:     now,
		BlockSize:     started.BlockSize,
		XlogBlockSize: started.WalBlockSize,
	}

	if started.BlockSize != 0 && started.BlockSize != page.BLCKSZ {
		return e.abort(b, apperrors.New(apperrors.KindPgIncompatible, "engine.Run", apperrors.ErrPgIncompatible))
	}

	// Step 3: select parent LSN / upgrade mode.
	var parent parentLSN
	if cfg.Mode == backuprecord.ModeIncremental || cfg.Mode == backuprecord.ModeArchive {
		p, found, perr := e.latestFullOK(b.TimelineID)
		if perr != nil {
			return e.abort(b, perr)
		}
		if !found {
			if cfg.Mode == backuprecord.ModeIncremental && cfg.FullBackupOnError {
				log.Warn().Msg("no FULL backup present, upgrading to FULL (full_backup_on_error)")
				b.Mode = backuprecord.ModeFull
				cfg.Mode = backuprecord.ModeFull
			} else {
				return e.abort(b, apperrors.New(apperrors.KindNoBackup, "engine.Run", apperrors.ErrNoBackup))
			}
		} else {
			parent = parentLSN{lsn: p.StopLSN, present: true}
		}
	}

	// Step 4: create directory tree, persist RUNNING.
	dir := e.Cat.BackupDir(b.ID)
	for _, sub := range []string{"database", "arclog"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return e.abort(b, apperrors.New(apperrors.KindSystem, "engine.Run", err))
		}
	}
	if cfg.WithServerlog {
		if err := os.MkdirAll(filepath.Join(dir, "srvlog"), 0700); err != nil {
			return e.abort(b, apperrors.New(apperrors.KindSystem, "engine.Run", err))
		}
	}
	if err := e.Cat.WriteRecord(b); err != nil {
		return backuprecord.Backup{}, err
	}

	// Step 5: enumerate and copy files (skipped entirely in ARCHIVE mode).
	var dataEntries []manifest.Entry
	var mkdirsScript strings.Builder
	var writtenBytes int64

	if cfg.Mode != backuprecord.ModeArchive {
		entries, werr := walk.Walk(walk.Options{Root: cfg.DataDir, BlacklistPath: cfg.BlacklistFile, OmitSymlinks: cfg.OmitSymlinks})
		if werr != nil {
			return e.abort(b, apperrors.New(apperrors.KindSystem, "engine.Run", werr))
		}

		for _, ent := range entries {
			if err := apperrors.CheckInterrupted(); err != nil {
				return e.abort(b, err)
			}

			me, merr := e.copyOneFile(ent, dir, cfg, parent, cf)
			if merr != nil {
				return e.abort(b, merr)
			}
			if me == nil {
				continue // unrecognized walk entry type
			}
			dataEntries = append(dataEntries, *me)
			if me.WrittenBytes > 0 {
				writtenBytes += me.WrittenBytes
			}
		}

		recordMkdirs(&mkdirsScript, entries)
	}

	// Step 6: manifest + backup_label/tablespace_map through the CRC sink.
	manifestPath := filepath.Join(dir, "database", "file_database.txt")
	if err := writeManifestFile(manifestPath, dataEntries); err != nil {
		return e.abort(b, err)
	}
	if len(started.BackupLabel) > 0 {
		if err := writeBlob(filepath.Join(dir, "database", "backup_label"), started.BackupLabel, cfg.Compress); err != nil {
			return e.abort(b, err)
		}
	}
	if len(started.TablespaceMap) > 0 {
		if err := writeBlob(filepath.Join(dir, "database", "tablespace_map"), started.TablespaceMap, cfg.Compress); err != nil {
			return e.abort(b, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "mkdirs.sh"), []byte(mkdirsScript.String()), 0755); err != nil {
		return e.abort(b, apperrors.New(apperrors.KindSystem, "engine.Run", err))
	}

	// Step 7: stop-backup RPC.
	stopped, err := e.Conn.StopBackup(ctx)
	if err != nil {
		return e.abort(b, fmt.Errorf("engine: stop-backup: %w", err))
	}
	b.StopLSN = stopped.StopLSN
	b.EndTime = stopped.EndTime
	b.RecoveryXid = stopped.RecoveryXid
	b.RecoveryTime = stopped.RecoveryTime

	// Step 8: copy needed archived WAL segments.
	readArclog, err := copyArchivedWAL(cfg.ArchiveDir, filepath.Join(dir, "arclog"))
	if err != nil {
		return e.abort(b, err)
	}
	b.ReadArclogBytes = readArclog
	b.TotalDataBytes = writtenBytes
	b.ReadDataBytes = writtenBytes
	b.WriteBytes = writtenBytes + readArclog

	// Step 9: persist DONE, then validate so the lifecycle advances to
	// OK without needing a separate manual validate run (spec.md §3.3
	// lifecycle: DONE -> OK "after the subsequent validator run
	// verifies all CRCs").
	b.Status = backuprecord.StatusDone
	if err := e.Cat.WriteRecord(b); err != nil {
		return backuprecord.Backup{}, err
	}
	log.Info().Time("id", b.ID).Str("mode", string(b.Mode)).Msg("backup complete")

	if err := Validate(e.Cat, b); err != nil {
		return b, err
	}
	if final, found, gerr := e.Cat.Get(b.ID); gerr == nil && found {
		b = final
	}
	return b, nil
}

// abort persists status=ERROR best-effort (spec §4.9 "If any step
// fails") and propagates the original error.
func (e *BackupEngine) abort(b backuprecord.Backup, cause error) (backuprecord.Backup, error) {
	b.Status = backuprecord.StatusError
	if b.ID.IsZero() {
		b.ID = time.Now()
	}
	if werr := e.Cat.WriteRecord(b); werr != nil {
		logging.For("engine.backup").Warn().Err(werr).Msg("failed to persist ERROR status")
	}
	return backuprecord.Backup{}, cause
}

// latestFullOK finds the most recent OK FULL backup on the given
// timeline (spec §4.9 step 3), preferring the sqlite index when
// attached and falling back to a full catalog scan.
func (e *BackupEngine) latestFullOK(timelineID uint32) (backuprecord.Backup, bool, error) {
	return e.Cat.LatestFullOK(timelineID)
}

// copyOneFile routes one walked entry to the opaque copier or the
// page-granular differ, writing through the CRC/compression sink and
// returning the manifest entry it produced. Directories and symlinks
// carry no file content, so they round-trip as a bare manifest entry
// (no artifact under database/) that restoreSingleBackup recreates
// directly; mkdirs.sh duplicates the same information as a plain shell
// script for manual inspection/restore outside this tool.
func (e *BackupEngine) copyOneFile(ent walk.Entry, backupDir string, cfg BackupConfig, parent parentLSN, cf pgconn.ControlFile) (*manifest.Entry, error) {
	switch ent.Type {
	case walk.TypeDir:
		return &manifest.Entry{RelPath: ent.RelPath, Type: manifest.TypeDir, Mode: ent.Mode, ModTime: time.Unix(ent.ModTime, 0)}, nil
	case walk.TypeSymlink:
		return &manifest.Entry{RelPath: ent.RelPath, Type: manifest.TypeSymlink, Mode: ent.Mode, ModTime: time.Unix(ent.ModTime, 0), SymlinkTarget: ent.LinkTarget}, nil
	case walk.TypeFile:
		// handled below
	default:
		return nil, nil
	}

	dstRel := ent.RelPath
	dstPath := filepath.Join(backupDir, "database", dstRel)
	if err := os.MkdirAll(filepath.Dir(dstPath), 0700); err != nil {
		return nil, apperrors.New(apperrors.KindSystem, "copyOneFile", err)
	}

	src, err := os.Open(ent.AbsPath)
	if err != nil {
		return nil, apperrors.New(apperrors.KindSystem, "copyOneFile", err)
	}
	defer src.Close()

	segNo, isDataFile := isRelationSegment(dstRel)
	if isDataFile {
		entry, derr := e.copyDataFile(src, dstPath, dstRel, segNo, cfg, parent, cf, ent)
		if derr == nil {
			return entry, nil
		}
		if !errors.Is(derr, datafile.ErrFallbackToOpaque) {
			return nil, derr
		}
		// Retry the whole file as an opaque copy (spec §4.2 step 2).
		if _, serr := src.Seek(0, io.SeekStart); serr != nil {
			return nil, apperrors.New(apperrors.KindSystem, "copyOneFile", serr)
		}
	}

	return e.copyOpaqueFile(src, dstPath, dstRel, manifest.TypeFile, ent, cfg.Compress)
}

func (e *BackupEngine) copyDataFile(src *os.File, dstPath, relPath string, segNo uint32, cfg BackupConfig, parent parentLSN, cf pgconn.ControlFile, ent walk.Entry) (*manifest.Entry, error) {
	out, err := os.Create(dstPath)
	if err != nil {
		return nil, apperrors.New(apperrors.KindSystem, "copyDataFile", err)
	}
	defer out.Close()

	sink := stream.NewSink(out, cfg.Compress)
	opts := datafile.Options{
		SegNo:                segNo,
		RelSegSize:           relSegSize,
		DataChecksumsEnabled: cf.DataChecksumsEnabled(),
		Incremental:          cfg.Mode == backuprecord.ModeIncremental,
		HasParentLSN:         parent.present,
		ParentLSN:            parent.lsn,
		ParentMissing:        cfg.Mode == backuprecord.ModeIncremental && !parent.present,
	}

	result, err := datafile.BackupFile(src, sink, opts)
	if err != nil {
		out.Close()
		os.Remove(dstPath)
		return nil, err
	}
	if err := sink.Close(); err != nil {
		return nil, apperrors.New(apperrors.KindSystem, "copyDataFile", err)
	}

	if result.WrittenBytes == -1 {
		// No page newer than the parent LSN: drop the artifact,
		// record -1 per invariant 6.
		if err := os.Remove(dstPath); err != nil && !os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.KindSystem, "copyDataFile", err)
		}
		return &manifest.Entry{
			RelPath:      relPath,
			Type:         manifest.TypeDataFile,
			WrittenBytes: -1,
			Mode:         ent.Mode,
			ModTime:      time.Unix(ent.ModTime, 0),
		}, nil
	}

	return &manifest.Entry{
		RelPath:      relPath,
		Type:         manifest.TypeDataFile,
		WrittenBytes: result.WrittenBytes,
		CRC32C:       sink.Sum32(),
		Mode:         ent.Mode,
		ModTime:      time.Unix(ent.ModTime, 0),
	}, nil
}

func (e *BackupEngine) copyOpaqueFile(src io.Reader, dstPath, relPath string, typ manifest.EntryType, ent walk.Entry, compress bool) (*manifest.Entry, error) {
	out, err := os.Create(dstPath)
	if err != nil {
		return nil, apperrors.New(apperrors.KindSystem, "copyOpaqueFile", err)
	}
	defer out.Close()

	sink := stream.NewSink(out, compress)
	n, err := datafile.CopyOpaque(sink, src)
	if err != nil {
		return nil, apperrors.New(apperrors.KindSystem, "copyOpaqueFile", err)
	}
	if err := sink.Close(); err != nil {
		return nil, apperrors.New(apperrors.KindSystem, "copyOpaqueFile", err)
	}

	return &manifest.Entry{
		RelPath:      relPath,
		Type:         typ,
		WrittenBytes: n,
		CRC32C:       sink.Sum32(),
		Mode:         ent.Mode,
		ModTime:      time.Unix(ent.ModTime, 0),
	}, nil
}

func recordMkdirs(out *strings.Builder, entries []walk.Entry) {
	for _, ent := range entries {
		switch ent.Type {
		case walk.TypeDir:
			fmt.Fprintf(out, "mkdir -p %q\n", ent.RelPath)
		case walk.TypeSymlink:
			fmt.Fprintf(out, "ln -s %q %q\n", ent.LinkTarget, ent.RelPath)
		}
	}
}

func writeManifestFile(path string, entries []manifest.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return apperrors.New(apperrors.KindSystem, "writeManifestFile", err)
	}
	defer f.Close()
	if err := manifest.Write(f, entries); err != nil {
		return apperrors.New(apperrors.KindSystem, "writeManifestFile", err)
	}
	return nil
}

func writeBlob(path string, data []byte, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return apperrors.New(apperrors.KindSystem, "writeBlob", err)
	}
	defer f.Close()
	sink := stream.NewSink(f, compress)
	if _, err := sink.Write(data); err != nil {
		return apperrors.New(apperrors.KindSystem, "writeBlob", err)
	}
	if err := sink.Close(); err != nil {
		return apperrors.New(apperrors.KindSystem, "writeBlob", err)
	}
	return nil
}

// copyArchivedWAL copies every WAL segment file currently sitting in
// the archive directory into the backup's arclog/ (spec §4.9 step 8).
// WAL segment filenames are fixed-width hex, so lexicographic order is
// numeric order; a later purge (not implemented here) is expected to
// trim segments older than every retained backup's StartLSN.
func copyArchivedWAL(archiveDir, destDir string) (int64, error) {
	if archiveDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apperrors.New(apperrors.KindSystem, "copyArchivedWAL", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isWALSegmentName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var total int64
	for _, name := range names {
		n, err := copyFile(filepath.Join(archiveDir, name), filepath.Join(destDir, name))
		if err != nil {
			return total, apperrors.New(apperrors.KindSystem, "copyArchivedWAL", err)
		}
		total += n
	}
	return total, nil
}

func isWALSegmentName(name string) bool {
	if len(name) != 24 {
		return false
	}
	for _, r := range name {
		if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	return io.Copy(out, in)
}
