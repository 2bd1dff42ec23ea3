package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"pgrman/internal/apperrors"
)

// Lock takes a non-blocking exclusive advisory lock on pg_rman.ini
// (spec §4.7 lock(), invariant 1). Returns apperrors.ErrAlreadyRunning
// when another holder exists, and a System-kind error when the file is
// missing or permission-denied.
func (c *Catalog) Lock() error {
	path := c.iniPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return apperrors.New(apperrors.KindSystem, "catalog.Lock", fmt.Errorf("%s: %w", path, err))
		}
		return apperrors.New(apperrors.KindSystem, "catalog.Lock", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return apperrors.New(apperrors.KindSystem, "catalog.Lock", err)
	}
	if !locked {
		return apperrors.New(apperrors.KindAlreadyRunning, "catalog.Lock", apperrors.ErrAlreadyRunning)
	}

	c.lock = fl
	return nil
}

// Unlock releases the advisory lock taken by Lock. Safe to call even
// when Lock was never successfully taken.
func (c *Catalog) Unlock() error {
	if c.lock == nil {
		return nil
	}
	if err := c.lock.Unlock(); err != nil {
		return fmt.Errorf("catalog: unlock %s: %w", c.iniPath(), err)
	}
	c.lock = nil
	return nil
}

func (c *Catalog) iniPath() string {
	return filepath.Join(c.Root, "pg_rman.ini")
}
