// Package page implements the fixed-size database page codec (spec §4.1):
// header parsing, hole detection, per-page checksum, and the
// index-metapage quirks that demote a file to opaque copy.
package page

import (
	"encoding/binary"
	"errors"
	"fmt"

	"pgrman/internal/pglsn"
)

const (
	// BLCKSZ is the default Postgres page size in bytes.
	BLCKSZ = 8192

	// SizeOfPageHeaderData is the fixed header length, in bytes.
	SizeOfPageHeaderData = 24

	// LayoutVersion is the page layout version this codec understands
	// (PG_PAGE_LAYOUT_VERSION upstream).
	LayoutVersion = 4

	// MaxAlignOf is the alignment boundary pd_special must respect.
	MaxAlignOf = 8

	// validFlagsMask covers PD_HAS_FREE_LINES|PD_PAGE_FULL|PD_ALL_VISIBLE.
	validFlagsMask = 0x0007

	// pageSizeMask/versionMask split pd_pagesize_version: the page size
	// occupies the high bits (always a multiple of 256), the layout
	// version the low 8 bits.
	versionMask  = 0x00FF
	pageSizeMask = ^uint16(0x00FF)
)

// Header is the 24-byte fixed page header.
type Header struct {
	LSN             pglsn.LSN
	Checksum        uint16
	Flags           uint16
	Lower           uint16
	Upper           uint16
	Special         uint16
	PageSizeVersion uint16
	PruneXid        uint32
}

// PageSize extracts the page size encoded in PageSizeVersion.
func (h Header) PageSize() uint16 { return h.PageSizeVersion & pageSizeMask }

// Version extracts the layout version encoded in PageSizeVersion.
func (h Header) Version() uint16 { return h.PageSizeVersion & versionMask }

// ErrNotDataPage is returned by Parse when the buffer is not a valid,
// parseable data page — callers must fall back to an opaque copy.
var ErrNotDataPage = errors.New("page: not a parseable data page")

// Page is a parsed, in-memory view over a BLCKSZ-sized buffer. Raw
// aliases the caller's buffer; mutating Raw after parsing invalidates
// Header's cached fields.
type Page struct {
	Header Header
	Raw    []byte
}

func readHeader(buf []byte) Header {
	return Header{
		LSN:             pglsn.LSN(binary.LittleEndian.Uint64(buf[0:8])),
		Checksum:        binary.LittleEndian.Uint16(buf[8:10]),
		Flags:           binary.LittleEndian.Uint16(buf[10:12]),
		Lower:           binary.LittleEndian.Uint16(buf[12:14]),
		Upper:           binary.LittleEndian.Uint16(buf[14:16]),
		Special:         binary.LittleEndian.Uint16(buf[16:18]),
		PageSizeVersion: binary.LittleEndian.Uint16(buf[18:20]),
		PruneXid:        binary.LittleEndian.Uint32(buf[20:24]),
	}
}

func writeHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.LSN))
	binary.LittleEndian.PutUint16(buf[8:10], h.Checksum)
	binary.LittleEndian.PutUint16(buf[10:12], h.Flags)
	binary.LittleEndian.PutUint16(buf[12:14], h.Lower)
	binary.LittleEndian.PutUint16(buf[14:16], h.Upper)
	binary.LittleEndian.PutUint16(buf[16:18], h.Special)
	binary.LittleEndian.PutUint16(buf[18:20], h.PageSizeVersion)
	binary.LittleEndian.PutUint32(buf[20:24], h.PruneXid)
}

// Parse validates and parses a BLCKSZ-sized buffer. block is the page's
// block number within its file, needed only to restrict the
// first-block-only metapage check (spec §4.1).
func Parse(buf []byte, block uint32) (Page, error) {
	if len(buf) != BLCKSZ {
		return Page{}, fmt.Errorf("%w: length %d != %d", ErrNotDataPage, len(buf), BLCKSZ)
	}

	h := readHeader(buf)

	if h.PageSize() != BLCKSZ {
		return Page{}, fmt.Errorf("%w: page size %d", ErrNotDataPage, h.PageSize())
	}
	if h.Version() != LayoutVersion {
		return Page{}, fmt.Errorf("%w: layout version %d", ErrNotDataPage, h.Version())
	}
	if h.Flags&^validFlagsMask != 0 {
		return Page{}, fmt.Errorf("%w: unknown flags 0x%x", ErrNotDataPage, h.Flags)
	}
	if !(SizeOfPageHeaderData <= h.Lower && h.Lower <= h.Upper && h.Upper <= h.Special && h.Special <= BLCKSZ) {
		return Page{}, fmt.Errorf("%w: lower=%d upper=%d special=%d", ErrNotDataPage, h.Lower, h.Upper, h.Special)
	}
	if uint32(h.Special)%MaxAlignOf != 0 {
		return Page{}, fmt.Errorf("%w: special %d not maxaligned", ErrNotDataPage, h.Special)
	}
	if !h.LSN.Valid() {
		return Page{}, fmt.Errorf("%w: zero lsn", ErrNotDataPage)
	}
	if block == 0 && isIndexMetapage(buf) {
		return Page{}, fmt.Errorf("%w: index metapage", ErrNotDataPage)
	}

	return Page{Header: h, Raw: buf}, nil
}

// HoleOffset is the start of the hole, equal to Lower.
func (p Page) HoleOffset() uint16 { return p.Header.Lower }

// HoleLength is the size of the hole, Upper-Lower.
func (p Page) HoleLength() uint16 { return p.Header.Upper - p.Header.Lower }

// ZeroHole returns a copy of Raw with the hole region zeroed, matching
// the encoding step "zero the hole region in memory" (spec §4.1).
func (p Page) ZeroHole() []byte {
	out := make([]byte, BLCKSZ)
	copy(out, p.Raw)
	lo, hi := p.HoleOffset(), p.Header.Upper
	for i := lo; i < hi; i++ {
		out[i] = 0
	}
	return out
}

// SetChecksum recomputes and overwrites the page's checksum in place,
// given the segment-aware absolute block number (spec §4.1 step 2).
func SetChecksum(buf []byte, absoluteBlock uint32) {
	zeroed := make([]byte, BLCKSZ)
	copy(zeroed, buf)
	h := readHeader(zeroed)
	binary.LittleEndian.PutUint16(zeroed[8:10], 0)
	cs := Checksum(zeroed, absoluteBlock)
	h.Checksum = cs
	binary.LittleEndian.PutUint16(buf[8:10], cs)
}
