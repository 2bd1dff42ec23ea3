package catalog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pgrman/internal/backuprecord"
)

// Index is a secondary sqlite cache over the catalog's backup.ini
// summaries, kept current by WriteRecord and Purge. Only
// Catalog.LatestFullOK reads it; List and Get always scan the
// filesystem. It is advisory: any failure to open or query it falls
// back to the filesystem scan in catalog.go. Nothing here rebuilds it
// from existing backup.ini files; backups written while no index was
// attached are absent from it until they are written again.
type Index struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS backups (
	id_unix     INTEGER PRIMARY KEY,
	mode        TEXT NOT NULL,
	status      TEXT NOT NULL,
	timeline_id INTEGER NOT NULL,
	start_lsn   TEXT NOT NULL,
	stop_lsn    TEXT NOT NULL
);`

// OpenIndex opens (creating if needed) the sqlite cache at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open index: %w", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// WithIndex attaches an opened Index to c so WriteRecord keeps it
// current. Passing a nil index disables the cache.
func (c *Catalog) WithIndex(idx *Index) *Catalog {
	c.idx = idx
	return c
}

func (idx *Index) Close() error {
	if idx == nil || idx.db == nil {
		return nil
	}
	return idx.db.Close()
}

// Upsert records or updates one backup's summary row.
func (idx *Index) Upsert(b backuprecord.Backup) error {
	_, err := idx.db.Exec(
		`INSERT INTO backups (id_unix, mode, status, timeline_id, start_lsn, stop_lsn)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id_unix) DO UPDATE SET
			mode=excluded.mode, status=excluded.status, timeline_id=excluded.timeline_id,
			start_lsn=excluded.start_lsn, stop_lsn=excluded.stop_lsn`,
		b.ID.Unix(), string(b.Mode), string(b.Status), b.TimelineID, b.StartLSN.String(), b.StopLSN.String(),
	)
	if err != nil {
		return fmt.Errorf("catalog: index upsert: %w", err)
	}
	return nil
}

// Remove drops a row, used when a backup directory is purged.
func (idx *Index) Remove(id time.Time) error {
	_, err := idx.db.Exec(`DELETE FROM backups WHERE id_unix = ?`, id.Unix())
	if err != nil {
		return fmt.Errorf("catalog: index remove: %w", err)
	}
	return nil
}

// LatestFullOK returns the most recent FULL backup with status OK on
// the given timeline, or found=false. Catalog.LatestFullOK tries this
// first and falls back to a filesystem scan on a miss or error, which
// remains the source of truth.
func (idx *Index) LatestFullOK(timelineID uint32) (idUnix int64, found bool, err error) {
	row := idx.db.QueryRow(
		`SELECT id_unix FROM backups
		 WHERE mode = 'FULL' AND status = 'OK' AND timeline_id = ?
		 ORDER BY id_unix DESC LIMIT 1`, timelineID)
	err = row.Scan(&idUnix)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("catalog: index query: %w", err)
	}
	return idUnix, true, nil
}
