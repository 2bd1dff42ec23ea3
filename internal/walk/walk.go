// Package walk enumerates a Postgres data directory into a deterministic,
// lexicographically sorted list of entries (spec §4.4), applying the
// static transient-directory exclusions, an optional user blacklist, and
// the omitSymlinks policy.
package walk

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EntryType mirrors the manifest's typeChar (spec §4.5).
type EntryType byte

const (
	TypeFile    EntryType = 'f'
	TypeDir     EntryType = 'd'
	TypeSymlink EntryType = 'l'
)

// Entry is one walked path, relative to the root, slash-normalized.
type Entry struct {
	RelPath    string
	AbsPath    string
	Type       EntryType
	Mode       os.FileMode
	ModTime    int64 // unix seconds, taken from os.FileInfo during the walk
	LinkTarget string
}

// staticExcludes lists well-known transient or externally-staged
// locations skipped recursively regardless of user configuration (spec
// §4.4). Matched as a path component at the data-directory root.
var staticExcludes = map[string]bool{
	"pg_stat_tmp":      true,
	"pg_replslot":      true,
	"pg_dynshmem":      true,
	"pg_notify":        true,
	"pg_serial":        true,
	"pg_snapshots":     true,
	"pg_subtrans":      true,
	"postmaster.pid":   true,
	"postmaster.opts":  true,
	"backup_label.old": true,
	"pg_wal":           true, // staged separately as online WAL (spec §4.9 step 8)
	"archive_status":   true,
	"pg_rman_backups":  true, // catalog itself, when nested under the data dir
	"pg_rman.ini":      true,
}

// Options configures one walk.
type Options struct {
	Root string

	// BlacklistPath, if non-empty, is a file with one pattern per line
	// (# comments, blank lines ignored); patterns are joined against
	// Root and matched by exact path (spec §4.4).
	BlacklistPath string

	// OmitSymlinks: when true, a symlink is stat'd through and recorded
	// as its target's type; when false, it is recorded as a symlink
	// carrying its target string (spec §4.4).
	OmitSymlinks bool
}

// LoadBlacklist parses a blacklist file into the set of absolute paths
// to skip, already joined against root.
func LoadBlacklist(root, path string) (map[string]bool, error) {
	set := make(map[string]bool)
	if path == "" {
		return set, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("walk: open blacklist: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[filepath.Join(root, line)] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("walk: read blacklist: %w", err)
	}
	return set, nil
}

// Walk enumerates opts.Root and returns entries sorted lexicographically
// by RelPath.
func Walk(opts Options) ([]Entry, error) {
	blacklist, err := LoadBlacklist(opts.Root, opts.BlacklistPath)
	if err != nil {
		return nil, err
	}
	return walk(opts, blacklist)
}

// walk is Walk's core, taking an already-loaded blacklist so the
// recursive tablespace-subtree walk below can reuse it instead of
// re-reading opts.BlacklistPath for every tablespace.
func walk(opts Options, blacklist map[string]bool) ([]Entry, error) {
	var entries []Entry
	err := filepath.Walk(opts.Root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk: stat %s: %w", path, walkErr)
		}

		rel, err := filepath.Rel(opts.Root, path)
		if err != nil {
			return fmt.Errorf("walk: relativize %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if staticExcludes[firstComponent(rel)] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if blacklist[path] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		entry := Entry{
			RelPath: rel,
			AbsPath: path,
			Mode:    info.Mode(),
			ModTime: info.ModTime().Unix(),
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("walk: readlink %s: %w", path, err)
			}
			if opts.OmitSymlinks {
				targetInfo, err := os.Stat(path)
				if err != nil {
					return fmt.Errorf("walk: stat symlink target %s: %w", path, err)
				}
				entry.Type = classify(targetInfo)
				entry.ModTime = targetInfo.ModTime().Unix()
			} else {
				entry.Type = TypeSymlink
				entry.LinkTarget = target
			}
			entries = append(entries, entry)

			// Tablespace symlinks (spec: "follow symlinks for
			// tablespaces") are walked as their own subtree so their
			// contents are captured even though filepath.Walk does
			// not itself descend into symlinked directories. The
			// trailing separator makes filepath.Walk resolve the link
			// as its root instead of Lstat-ing it.
			if targetInfo, err := os.Stat(path); err == nil && targetInfo.IsDir() {
				sub, err := walk(Options{Root: path + string(os.PathSeparator), BlacklistPath: opts.BlacklistPath, OmitSymlinks: opts.OmitSymlinks}, blacklist)
				if err != nil {
					return err
				}
				for _, s := range sub {
					s.RelPath = rel + "/" + s.RelPath
					entries = append(entries, s)
				}
			}
			return nil
		}

		entry.Type = classify(info)
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries, nil
}

func classify(info os.FileInfo) EntryType {
	if info.IsDir() {
		return TypeDir
	}
	return TypeFile
}

func firstComponent(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}
