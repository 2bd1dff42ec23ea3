package engine

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

// relationSegmentPattern matches a relation segment file's base name:
// digits, optionally followed by ".digits" giving the segment ordinal
// (spec §3.1 DataFile: "segment files ... named N.M"). Fork suffixes
// (_vm, _fsm, _init) are intentionally excluded: they are page-shaped
// but the spec only names the main fork as a differ target.
var relationSegmentPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// isRelationSegment reports whether relPath, rooted under the data
// directory, names a relation segment file, and if so its segment
// ordinal (0 for the unsuffixed first segment).
func isRelationSegment(relPath string) (segNo uint32, ok bool) {
	dir := path.Dir(relPath)
	base := path.Base(relPath)
	if dir != "global" && !strings.HasPrefix(dir, "base/") {
		return 0, false
	}
	if !relationSegmentPattern.MatchString(base) {
		return 0, false
	}
	if idx := strings.IndexByte(base, '.'); idx >= 0 {
		n, err := strconv.ParseUint(base[idx+1:], 10, 32)
		if err != nil {
			return 0, false
		}
		return uint32(n), true
	}
	return 0, true
}
