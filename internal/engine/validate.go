package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"pgrman/internal/apperrors"
	"pgrman/internal/backuprecord"
	"pgrman/internal/catalog"
	"pgrman/internal/logging"
	"pgrman/internal/manifest"
	"pgrman/internal/stream"
)

// manifestFiles are the manifest artifacts a backup may carry,
// mirrored from the catalog layout built by BackupEngine.Run.
var manifestFiles = []string{"file_database.txt"}

// Validate recomputes the CRC-32C of every on-disk artifact a backup's
// manifest(s) reference and compares it against the recorded value
// (spec.md §4.12, testable property 8.1.6). A clean DONE backup becomes
// OK, the lifecycle transition that lets the backup/restore orchestrators
// pick it as a parent or base; the first mismatch or missing file flips
// it to CORRUPT instead and the catalog is updated either way, but
// Validate itself returns nil — corruption is reported, not fatal,
// matching scenario S6.
func Validate(cat *catalog.Catalog, b backuprecord.Backup) error {
	log := logging.For("engine.validate")
	dir := cat.BackupDir(b.ID)

	var result *multierror.Error
	checked := 0

	for _, manifestName := range manifestFiles {
		manifestPath := filepath.Join(dir, "database", manifestName)
		f, err := os.Open(manifestPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", manifestName, err))
			continue
		}
		entries, err := manifest.Read(f)
		f.Close()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", manifestName, err))
			continue
		}

		for _, e := range entries {
			if e.Type != manifest.TypeFile && e.Type != manifest.TypeDataFile {
				continue
			}
			if e.WrittenBytes < 0 {
				continue // nothing written for this layer, nothing to verify
			}
			checked++
			if err := validateOneArtifact(dir, e); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	if result.ErrorOrNil() != nil {
		b.Status = backuprecord.StatusCorrupt
		if werr := cat.WriteRecord(b); werr != nil {
			log.Warn().Err(werr).Msg("failed to persist CORRUPT status")
		}
		log.Warn().Err(result).Int("checked", checked).Msg("backup failed validation")
		return nil
	}

	if b.Status == backuprecord.StatusDone {
		b.Status = backuprecord.StatusOK
		if werr := cat.WriteRecord(b); werr != nil {
			log.Warn().Err(werr).Msg("failed to persist OK status")
		}
	}
	log.Info().Int("checked", checked).Msg("backup validated clean")
	return nil
}

func validateOneArtifact(backupDir string, e manifest.Entry) error {
	path := filepath.Join(backupDir, "database", e.RelPath)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w", e.RelPath, apperrors.New(apperrors.KindCorrupted, "validateOneArtifact", err))
	}
	defer f.Close()

	body, err := stream.VerifyAndStrip(f)
	if err != nil {
		return fmt.Errorf("%s: %w", e.RelPath, err)
	}
	got := stream.Checksum(body)
	if got != e.CRC32C {
		return fmt.Errorf("%s: crc32c mismatch: recorded %08x, recomputed %08x", e.RelPath, e.CRC32C, got)
	}
	return nil
}
