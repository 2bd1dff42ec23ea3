package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pgrman/internal/apperrors"
)

func (c *Catalog) identityPath() string {
	return filepath.Join(c.Root, "system_identifier")
}

// VerifyIdentity checks that the cluster's system_identifier has not
// changed since the catalog was created (spec §4.7 verifyIdentity(),
// invariant 5). A catalog with no recorded identity yet adopts
// clusterIdentifier as its own.
func (c *Catalog) VerifyIdentity(clusterIdentifier uint64) error {
	raw, err := os.ReadFile(c.identityPath())
	if os.IsNotExist(err) {
		return c.writeIdentity(clusterIdentifier)
	}
	if err != nil {
		return apperrors.New(apperrors.KindSystem, "catalog.VerifyIdentity", err)
	}

	recorded, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return apperrors.New(apperrors.KindCorrupted, "catalog.VerifyIdentity", fmt.Errorf("malformed system_identifier: %w", err))
	}
	if recorded != clusterIdentifier {
		return apperrors.New(apperrors.KindSystem, "catalog.VerifyIdentity", apperrors.ErrIdentityChanged)
	}
	return nil
}

func (c *Catalog) writeIdentity(id uint64) error {
	data := []byte(strconv.FormatUint(id, 10) + "\n")
	if err := os.WriteFile(c.identityPath(), data, 0644); err != nil {
		return apperrors.New(apperrors.KindSystem, "catalog.VerifyIdentity", err)
	}
	return nil
}
