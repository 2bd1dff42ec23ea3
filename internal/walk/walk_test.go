package walk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func relPaths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RelPath
	}
	return out
}

func TestWalk_SortsLexicographically(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "base", "1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "base", "1", "2"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "PG_VERSION"), []byte("16"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "base", "1", "10"), []byte("y"), 0644))

	entries, err := Walk(Options{Root: root})
	require.NoError(t, err)

	paths := relPaths(entries)
	for i := 1; i < len(paths); i++ {
		require.Less(t, paths[i-1], paths[i], "not lexicographically sorted: %v", paths)
	}
}

func TestWalk_SkipsStaticExcludes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pg_wal"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pg_wal", "000000010000000000000001"), []byte("wal"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "postmaster.pid"), []byte("123"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "PG_VERSION"), []byte("16"), 0644))

	entries, err := Walk(Options{Root: root})
	require.NoError(t, err)

	for _, e := range entries {
		require.NotContains(t, e.RelPath, "pg_wal")
		require.NotEqual(t, "postmaster.pid", e.RelPath)
	}
	require.Contains(t, relPaths(entries), "PG_VERSION")
}

func TestWalk_BlacklistSkipsExactMatch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.conf"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.conf"), []byte("x"), 0644))

	blacklist := filepath.Join(t.TempDir(), "blacklist")
	require.NoError(t, os.WriteFile(blacklist, []byte("# comment\nsecret.conf\n"), 0644))

	entries, err := Walk(Options{Root: root, BlacklistPath: blacklist})
	require.NoError(t, err)

	paths := relPaths(entries)
	require.NotContains(t, paths, "secret.conf")
	require.Contains(t, paths, "keep.conf")
}

func TestWalk_SymlinkRecordedWithTarget(t *testing.T) {
	root := t.TempDir()
	targetDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(targetDir, "data"), []byte("x"), 0644))
	link := filepath.Join(root, "pg_tblspc_1")
	require.NoError(t, os.Symlink(targetDir, link))

	entries, err := Walk(Options{Root: root, OmitSymlinks: false})
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if e.RelPath == "pg_tblspc_1" {
			found = true
			require.Equal(t, TypeSymlink, e.Type)
			require.Equal(t, targetDir, e.LinkTarget)
		}
	}
	require.True(t, found)

	var sawInner bool
	for _, e := range entries {
		if e.RelPath == "pg_tblspc_1/data" {
			sawInner = true
		}
	}
	require.True(t, sawInner, "tablespace symlink contents should be walked")
}

func TestWalk_OmitSymlinksRecordsTargetType(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.txt"), []byte("x"), 0644))
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")))

	entries, err := Walk(Options{Root: root, OmitSymlinks: true})
	require.NoError(t, err)

	for _, e := range entries {
		if e.RelPath == "link.txt" {
			require.Equal(t, TypeFile, e.Type)
			require.Empty(t, e.LinkTarget)
		}
	}
}
