// Package timeline parses Postgres .history files and answers
// reachability questions the restore orchestrator needs when choosing
// a backup chain (spec §4.8).
package timeline

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pgrman/internal/backuprecord"
	"pgrman/internal/pglsn"
)

// Segment is one entry of a timeline's history: "timeline tli runs
// until End, where its successor begins" (spec §3.1 Timeline).
type Segment struct {
	TLI uint32
	End pglsn.LSN // math.MaxUint64-backed sentinel for "no successor yet"
}

// infiniteEnd marks the final segment appended for the target tli
// itself (spec §4.8: "terminated by the target tli appended with
// endLsn = +inf").
const infiniteEnd = pglsn.LSN(math.MaxUint64)

// ErrCorrupted is returned when a history file violates the expected
// grammar or monotonicity (spec §4.8, §7).
var ErrCorrupted = fmt.Errorf("timeline: corrupted history file")

// Parse reads one NNNNNNNN.history file's lines, each
// "<tli> <lsn> [comment...]", non-comment, strictly tli-increasing,
// and appends a final Segment for targetTLI with an infinite End.
func Parse(r io.Reader, targetTLI uint32) ([]Segment, error) {
	var segments []Segment
	scanner := bufio.NewScanner(r)
	var lastTLI uint32

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: malformed line %q", ErrCorrupted, line)
		}
		tli, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: tli %q: %v", ErrCorrupted, fields[0], err)
		}
		lsn, err := pglsn.Parse(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: lsn %q: %v", ErrCorrupted, fields[1], err)
		}
		if uint32(tli) <= lastTLI {
			return nil, fmt.Errorf("%w: tli %d out of order after %d", ErrCorrupted, tli, lastTLI)
		}
		lastTLI = uint32(tli)
		segments = append(segments, Segment{TLI: uint32(tli), End: lsn})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	segments = append(segments, Segment{TLI: targetTLI, End: infiniteEnd})
	return segments, nil
}

// historyFileName formats "NNNNNNNN.history" for tli.
func historyFileName(tli uint32) string {
	return fmt.Sprintf("%08X.history", tli)
}

// Load reads targetTLI's history file from archiveDir, falling back to
// stagingDir when absent from the archive (spec §4.8: "falling back to
// a staging copy"). A target whose tli is 1 has no history file by
// convention (the first timeline has no recorded predecessor) and
// Load returns just the synthetic infinite segment for it.
func Load(archiveDir, stagingDir string, targetTLI uint32) ([]Segment, error) {
	if targetTLI == 1 {
		return []Segment{{TLI: 1, End: infiniteEnd}}, nil
	}

	name := historyFileName(targetTLI)
	for _, dir := range []string{archiveDir, stagingDir} {
		if dir == "" {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		defer f.Close()
		return Parse(f, targetTLI)
	}
	return nil, fmt.Errorf("timeline: history file %s not found in archive or staging", name)
}

// Reachable reports whether backup's recorded timeline is covered by
// segments (spec §4.8): some segment t has backup's timelineId and
// backup.stopLsn < t.End.
func Reachable(b backuprecord.Backup, segments []Segment) bool {
	for _, seg := range segments {
		if seg.TLI == b.TimelineID && b.StopLSN.Less(seg.End) {
			return true
		}
	}
	return false
}

// NewestOnDisk probes start+1, start+2, ... for a present history file
// under dir and returns the last tli for which one exists (spec §4.8
// newestOnDisk()). If start+1 is already absent, it returns start.
func NewestOnDisk(dir string, start uint32) uint32 {
	newest := start
	for tli := start + 1; ; tli++ {
		if _, err := os.Stat(filepath.Join(dir, historyFileName(tli))); err != nil {
			break
		}
		newest = tli
	}
	return newest
}
