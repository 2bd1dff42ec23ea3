// Package catalog implements the directory-of-backups store (spec
// §4.7, §3.1 Catalog layout): listing, lookup, the single-writer
// advisory lock, and record persistence.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"pgrman/internal/apperrors"
	"pgrman/internal/backuprecord"
	"pgrman/internal/logging"
)

const dirLayout = "20060102/150405"

// Catalog is rooted at $BACKUP_PATH.
type Catalog struct {
	Root string
	lock *flock.Flock
	idx  *Index // optional sqlite secondary cache, nil if unavailable
}

// New opens a catalog rooted at root. It does not take the lock or
// touch the filesystem; Lock and the other methods do that.
func New(root string) *Catalog {
	return &Catalog{Root: root}
}

// BackupDir returns the directory a Backup with the given id lives in.
func (c *Catalog) BackupDir(id time.Time) string {
	return filepath.Join(c.Root, id.Format(dirLayout))
}

func (c *Catalog) backupIniPath(id time.Time) string {
	return filepath.Join(c.BackupDir(id), "backup.ini")
}

// List scans YYYYMMDD/HHMMSS directories, optionally filtered to
// [begin, end], and returns Backups sorted by id descending (spec
// §4.7 list()). Entries whose backup.ini fails to parse are dropped
// with a logged warning rather than failing the whole list.
func (c *Catalog) List(begin, end *time.Time) ([]backuprecord.Backup, error) {
	var out []backuprecord.Backup
	log := logging.For("catalog")

	dayDirs, err := os.ReadDir(c.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.New(apperrors.KindSystem, "catalog.List", err)
	}

	for _, day := range dayDirs {
		if !day.IsDir() || !isAllDigits(day.Name()) {
			continue
		}
		timeDirs, err := os.ReadDir(filepath.Join(c.Root, day.Name()))
		if err != nil {
			log.Warn().Err(err).Str("dir", day.Name()).Msg("catalog: cannot read day directory")
			continue
		}
		for _, hm := range timeDirs {
			if !hm.IsDir() || !isAllDigits(hm.Name()) {
				continue
			}
			id, err := time.ParseInLocation(dirLayout, day.Name()+"/"+hm.Name(), time.Local)
			if err != nil {
				log.Warn().Err(err).Str("dir", hm.Name()).Msg("catalog: unparsable backup directory name")
				continue
			}

			raw, err := os.ReadFile(c.backupIniPath(id))
			if err != nil {
				log.Warn().Err(err).Time("id", id).Msg("catalog: cannot read backup.ini, skipping")
				continue
			}
			b, err := backuprecord.Load(raw)
			if err != nil {
				log.Warn().Err(err).Time("id", id).Msg("catalog: corrupted backup.ini, dropping entry")
				continue
			}
			b.ID = id

			if begin != nil && id.Before(*begin) {
				continue
			}
			if end != nil && id.After(*end) {
				continue
			}
			out = append(out, b)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID.After(out[j].ID) })
	return out, nil
}

// Get returns the Backup keyed by id, or found=false if no such
// directory exists (spec §4.7 get()).
func (c *Catalog) Get(id time.Time) (b backuprecord.Backup, found bool, err error) {
	raw, readErr := os.ReadFile(c.backupIniPath(id))
	if os.IsNotExist(readErr) {
		return backuprecord.Backup{}, false, nil
	}
	if readErr != nil {
		return backuprecord.Backup{}, false, apperrors.New(apperrors.KindSystem, "catalog.Get", readErr)
	}
	b, err = backuprecord.Load(raw)
	if err != nil {
		return backuprecord.Backup{}, false, apperrors.New(apperrors.KindCorrupted, "catalog.Get", err)
	}
	b.ID = id
	return b, true, nil
}

// WriteRecord overwrites id's backup.ini atomically: it writes to a
// temp file in the same directory and renames over the original, so a
// reader never observes a partially written file (spec §4.7
// writeRecord()).
func (c *Catalog) WriteRecord(b backuprecord.Backup) error {
	dir := c.BackupDir(b.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.New(apperrors.KindSystem, "catalog.WriteRecord", err)
	}

	raw, err := backuprecord.Save(b)
	if err != nil {
		return apperrors.New(apperrors.KindSystem, "catalog.WriteRecord", err)
	}

	final := c.backupIniPath(b.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return apperrors.New(apperrors.KindSystem, "catalog.WriteRecord", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return apperrors.New(apperrors.KindSystem, "catalog.WriteRecord", fmt.Errorf("rename %s: %w", tmp, err))
	}

	if c.idx != nil {
		if err := c.idx.Upsert(b); err != nil {
			log := logging.For("catalog")
			log.Warn().Err(err).Msg("catalog: sqlite index upsert failed, falling back to filesystem scan")
		}
	}
	return nil
}

// LatestFullOK returns the most recent FULL backup with status OK on
// timelineID. When a sqlite index is attached it answers from there
// first; on a miss, an error, or no attached index it falls back to a
// full List scan, so the result is always correct even if the cache is
// stale or unavailable.
func (c *Catalog) LatestFullOK(timelineID uint32) (backuprecord.Backup, bool, error) {
	if c.idx != nil {
		idUnix, found, err := c.idx.LatestFullOK(timelineID)
		if err != nil {
			logging.For("catalog").Warn().Err(err).Msg("catalog: sqlite index query failed, falling back to filesystem scan")
		} else if found {
			b, ok, gerr := c.Get(time.Unix(idUnix, 0))
			if gerr == nil && ok {
				return b, true, nil
			}
		}
	}

	backups, err := c.List(nil, nil)
	if err != nil {
		return backuprecord.Backup{}, false, err
	}
	for _, cand := range backups {
		if cand.Mode == backuprecord.ModeFull && cand.Status == backuprecord.StatusOK && cand.TimelineID == timelineID {
			return cand, true, nil
		}
	}
	return backuprecord.Backup{}, false, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
