package catalog

import (
	"fmt"
	"os"
	"time"

	"pgrman/internal/apperrors"
	"pgrman/internal/backuprecord"
)

// MarkDeleting transitions a backup to DELETING (spec §3.3), the first
// step of user-initiated deletion.
func (c *Catalog) MarkDeleting(id time.Time) error {
	b, found, err := c.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.New(apperrors.KindNoBackup, "catalog.MarkDeleting", apperrors.ErrNoBackup)
	}
	b.Status = backuprecord.StatusDeleting
	return c.WriteRecord(b)
}

// MarkDeleted finishes user-initiated deletion: files are assumed
// already removed by the caller's higher-level logic, and this sets
// the terminal DELETED status so a later Purge can reclaim the
// directory (spec §3.3).
func (c *Catalog) MarkDeleted(id time.Time) error {
	b, found, err := c.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.New(apperrors.KindNoBackup, "catalog.MarkDeleted", apperrors.ErrNoBackup)
	}
	b.Status = backuprecord.StatusDeleted
	return c.WriteRecord(b)
}

// Purge permanently removes the directories of every DELETED backup
// (spec §3.3: "A purge pass permanently removes the directories of
// DELETED entries"). It returns the ids it successfully removed; a
// failure on one directory does not stop the pass over the rest.
func (c *Catalog) Purge() ([]time.Time, error) {
	all, err := c.List(nil, nil)
	if err != nil {
		return nil, err
	}

	var removed []time.Time
	var firstErr error
	for _, b := range all {
		if b.Status != backuprecord.StatusDeleted {
			continue
		}
		dir := c.BackupDir(b.ID)
		if err := os.RemoveAll(dir); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("catalog: purge %s: %w", dir, err)
			}
			continue
		}
		if c.idx != nil {
			_ = c.idx.Remove(b.ID)
		}
		removed = append(removed, b.ID)
	}
	return removed, firstErr
}
