package page

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Record is the on-disk representation of one captured page (spec
// §3.1 BackupPageRecord), bit-exact.
type Record struct {
	Block      uint32
	HoleOffset uint16
	HoleLength uint16
	Endpoint   bool
	Body       []byte // BLCKSZ - HoleLength bytes; empty when Endpoint.
}

const recordHeaderLen = 4 + 2 + 2 + 1

// WriteEndpoint emits a terminal record with no body, used to mark
// end-of-relation for incremental restore truncation (spec §4.2 step 3).
func WriteEndpoint(w io.Writer, block uint32) error {
	return Write(w, Record{Block: block, Endpoint: true})
}

// Write serializes a Record to w.
func Write(w io.Writer, rec Record) error {
	var hdr [recordHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], rec.Block)
	binary.LittleEndian.PutUint16(hdr[4:6], rec.HoleOffset)
	binary.LittleEndian.PutUint16(hdr[6:8], rec.HoleLength)
	if rec.Endpoint {
		hdr[8] = 1
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("page: write record header: %w", err)
	}
	if !rec.Endpoint {
		if _, err := w.Write(rec.Body); err != nil {
			return fmt.Errorf("page: write record body: %w", err)
		}
	}
	return nil
}

// ErrCorruptRecord is returned by Read when a record's header fields
// are structurally impossible (spec §4.1 edge policy (c)).
var ErrCorruptRecord = fmt.Errorf("page: corrupted backup page record")

// Read deserializes one Record from r. minBlock is the smallest block
// number considered valid at this point in the stream (normally the
// previous record's Block+1); EOF is returned unwrapped when r is
// exhausted before any bytes of a new record are read.
func Read(r io.Reader, minBlock uint32) (Record, error) {
	var hdr [recordHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("%w: truncated record header", ErrCorruptRecord)
		}
		return Record{}, err
	}

	rec := Record{
		Block:      binary.LittleEndian.Uint32(hdr[0:4]),
		HoleOffset: binary.LittleEndian.Uint16(hdr[4:6]),
		HoleLength: binary.LittleEndian.Uint16(hdr[6:8]),
		Endpoint:   hdr[8] != 0,
	}

	if rec.Block < minBlock {
		return Record{}, fmt.Errorf("%w: block %d < expected minimum %d", ErrCorruptRecord, rec.Block, minBlock)
	}
	if rec.HoleOffset > BLCKSZ {
		return Record{}, fmt.Errorf("%w: hole offset %d > %d", ErrCorruptRecord, rec.HoleOffset, BLCKSZ)
	}
	if uint32(rec.HoleOffset)+uint32(rec.HoleLength) > BLCKSZ {
		return Record{}, fmt.Errorf("%w: hole offset+length %d > %d", ErrCorruptRecord, uint32(rec.HoleOffset)+uint32(rec.HoleLength), BLCKSZ)
	}

	if rec.Endpoint {
		return rec, nil
	}

	bodyLen := BLCKSZ - int(rec.HoleLength)
	rec.Body = make([]byte, bodyLen)
	if _, err := io.ReadFull(r, rec.Body); err != nil {
		return Record{}, fmt.Errorf("%w: truncated record body: %v", ErrCorruptRecord, err)
	}
	return rec, nil
}

// Reassemble rebuilds the full BLCKSZ page from a non-endpoint Record:
// the hole is re-inserted as zero bytes between Body's two halves
// (spec §4.1 Decoding).
func (rec Record) Reassemble() []byte {
	out := make([]byte, BLCKSZ)
	copy(out[0:rec.HoleOffset], rec.Body[0:rec.HoleOffset])
	upper := uint32(rec.HoleOffset) + uint32(rec.HoleLength)
	copy(out[upper:], rec.Body[rec.HoleOffset:])
	return out
}

// Encode produces the Body for a parsed page: the bytes before the
// hole followed by the bytes after it (spec §4.1 Encoding step 3).
func Encode(p Page) Record {
	lo, hi := p.HoleOffset(), p.Header.Upper
	zeroed := p.ZeroHole()
	body := make([]byte, 0, BLCKSZ-int(hi-lo))
	body = append(body, zeroed[0:lo]...)
	body = append(body, zeroed[hi:]...)
	return Record{
		HoleOffset: lo,
		HoleLength: hi - lo,
		Body:       body,
	}
}
