// Package manifest serializes and deserializes the per-backup file
// manifest (spec §4.5, §6.4): one line per FileManifestEntry, fields
// space-separated.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// EntryType is the manifest's single-character type tag.
type EntryType byte

const (
	TypeFile     EntryType = 'f'
	TypeDataFile EntryType = 'D'
	TypeDir      EntryType = 'd'
	TypeSymlink  EntryType = 'l'
	TypeSocket   EntryType = 's'
)

func (t EntryType) valid() bool {
	switch t {
	case TypeFile, TypeDataFile, TypeDir, TypeSymlink, TypeSocket:
		return true
	default:
		return false
	}
}

// Entry is one FileManifestEntry (spec §3.1).
type Entry struct {
	RelPath       string
	Type          EntryType
	WrittenBytes  int64 // -1 means "existed, no pages new since parent LSN" (invariant 6)
	CRC32C        uint32
	Mode          os.FileMode
	ModTime       time.Time
	SymlinkTarget string // only meaningful when Type == TypeSymlink
}

// ErrCorrupted marks a line that fails the manifest's grammar (spec
// §4.5): unknown type characters, wrong field count, or unparsable
// numeric fields.
var ErrCorrupted = fmt.Errorf("manifest: corrupted entry")

// Write serializes entries, one line per entry, to w.
func Write(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		line, err := formatLine(e)
		if err != nil {
			return err
		}
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("manifest: write entry %s: %w", e.RelPath, err)
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return fmt.Errorf("manifest: write newline: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("manifest: flush: %w", err)
	}
	return nil
}

func formatLine(e Entry) (string, error) {
	if !e.Type.valid() {
		return "", fmt.Errorf("%w: unknown type %q for %s", ErrCorrupted, e.Type, e.RelPath)
	}
	fields := []string{
		e.RelPath,
		string(e.Type),
		strconv.FormatInt(e.WrittenBytes, 10),
		strconv.FormatUint(uint64(e.CRC32C), 10),
		strconv.FormatUint(uint64(e.Mode.Perm()), 8),
		e.ModTime.Format(time.RFC3339),
	}
	line := strings.Join(fields, " ")
	if e.Type == TypeSymlink {
		line += " " + e.SymlinkTarget
	}
	return line, nil
}

// Read parses a full manifest from r. A line with a recognized type
// character but malformed numeric fields, or an unrecognized type
// character, fails the whole read with ErrCorrupted (spec §4.5:
// "unknown type characters fail with CORRUPTED"). Trailing whitespace
// on a line is tolerated.
func Read(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			continue
		}
		entry, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("manifest: line %d: %w", lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("manifest: scan: %w", err)
	}
	return entries, nil
}

func parseLine(line string) (Entry, error) {
	fields := strings.SplitN(line, " ", 7)
	if len(fields) < 6 {
		return Entry{}, fmt.Errorf("%w: expected at least 6 fields, got %d", ErrCorrupted, len(fields))
	}

	typ := EntryType(fields[1][0])
	if len(fields[1]) != 1 || !typ.valid() {
		return Entry{}, fmt.Errorf("%w: unknown type char %q", ErrCorrupted, fields[1])
	}

	written, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: writtenBytes %q: %v", ErrCorrupted, fields[2], err)
	}
	crc, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: crc %q: %v", ErrCorrupted, fields[3], err)
	}
	mode, err := strconv.ParseUint(fields[4], 8, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: mode %q: %v", ErrCorrupted, fields[4], err)
	}
	mtime, err := time.Parse(time.RFC3339, fields[5])
	if err != nil {
		return Entry{}, fmt.Errorf("%w: mtime %q: %v", ErrCorrupted, fields[5], err)
	}

	entry := Entry{
		RelPath:      fields[0],
		Type:         typ,
		WrittenBytes: written,
		CRC32C:       uint32(crc),
		Mode:         os.FileMode(mode),
		ModTime:      mtime,
	}
	if typ == TypeSymlink {
		if len(fields) < 7 {
			return Entry{}, fmt.Errorf("%w: symlink entry missing target", ErrCorrupted)
		}
		entry.SymlinkTarget = fields[6]
	}
	return entry, nil
}
