package datafile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"pgrman/internal/apperrors"
	"pgrman/internal/page"
)

// RestoreResult summarizes what RestoreFile did.
type RestoreResult struct {
	PagesWritten int
	Truncated    bool
}

// RestoreFile decodes a C1 record stream produced by BackupFile and
// replays it onto dst. Each record is a random-access write keyed by
// record.Block: restores do not assume the stream is contiguous or
// sorted beyond the per-record block-regression check already enforced
// by page.Read (spec §4.11). Replaying the same stream twice against
// the same destination is idempotent, since every write targets a
// fixed byte offset and carries its own full BLCKSZ body.
//
// When an endpoint marker is read, dst is truncated to that block's
// offset and RestoreFile returns. A stream with no endpoint marker is
// replayed to EOF without truncating (the opaque, non-incremental
// case).
func RestoreFile(r io.Reader, dst *os.File) (RestoreResult, error) {
	var result RestoreResult
	var minBlock uint32

	for {
		if err := apperrors.CheckInterrupted(); err != nil {
			return result, err
		}
		rec, err := page.Read(r, minBlock)
		if err != nil {
			if err == io.EOF {
				break
			}
			return result, fmt.Errorf("datafile: decode record: %w", err)
		}

		if rec.Endpoint {
			// rec.Block carries lastBlock+1 (the block count of the
			// backed-up relation, spec §4.2 step 3); truncating to
			// exactly that many blocks reproduces the source file's
			// size (see DESIGN.md's note on this decode/encode pairing).
			offset := int64(rec.Block) * page.BLCKSZ
			if err := dst.Truncate(offset); err != nil {
				return result, fmt.Errorf("datafile: truncate at block %d: %w", rec.Block, err)
			}
			result.Truncated = true
			return result, nil
		}

		full := rec.Reassemble()
		offset := int64(rec.Block) * page.BLCKSZ
		if _, err := dst.WriteAt(full, offset); err != nil {
			return result, fmt.Errorf("datafile: write block %d: %w", rec.Block, err)
		}

		result.PagesWritten++
		minBlock = rec.Block + 1
	}

	return result, nil
}

// ErrShortCopy reports a source that ended on a non-page boundary.
// Nothing in this package returns it: CopyOpaque copies sources of any
// length verbatim.
var ErrShortCopy = errors.New("datafile: source ended on a non-page boundary")

// CopyOpaque streams src to dst verbatim, used for files that were
// backed up as an opaque copy (ErrFallbackToOpaque, or any non relation
// file walked by C4). No page interpretation happens.
func CopyOpaque(dst io.Writer, src io.Reader) (int64, error) {
	n, err := io.Copy(dst, src)
	if err != nil {
		return n, fmt.Errorf("datafile: opaque copy: %w", err)
	}
	return n, nil
}
