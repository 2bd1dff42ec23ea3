// Package pglsn implements the 64-bit log-sequence-number type used
// throughout the engine to order pages, backups, and timelines.
package pglsn

import (
	"fmt"
	"strconv"
	"strings"
)

// LSN is a byte position into the write-ahead log, monotone over time.
// It is stored as the high 32 bits (the WAL segment's logical file
// number) and the low 32 bits (the byte offset within that number),
// matching Postgres's XLogRecPtr layout.
type LSN uint64

// Invalid is the zero LSN; pages carrying it are never considered
// data pages (spec §4.1: "lsn != 0").
const Invalid LSN = 0

// Valid reports whether the LSN is non-zero.
func (l LSN) Valid() bool { return l != Invalid }

// String formats the LSN as "%X/%08X", the on-disk representation used
// by backup.ini (spec §4.6).
func (l LSN) String() string {
	hi := uint32(l >> 32)
	lo := uint32(l)
	return fmt.Sprintf("%X/%08X", hi, lo)
}

// Parse decodes the "%X/%08X" representation back into an LSN.
func Parse(s string) (LSN, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed lsn %q", s)
	}
	hi, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed lsn %q: %w", s, err)
	}
	lo, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed lsn %q: %w", s, err)
	}
	return LSN(hi<<32 | lo), nil
}

// Less reports whether l sorts before other.
func (l LSN) Less(other LSN) bool { return l < other }
