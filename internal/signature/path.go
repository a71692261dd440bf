package signature

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
)

const hashPrefixLen = 8

// BuildPath produces the canonical relative storage path for a signature:
// YYYY/MM/DD directories from the capture time (import time when absent) and
// a {captureTS}_{sourceTag}_{hash8}.{ext} filename. Name collisions are
// resolved with a counter suffix via the exists probe; passing the same probe
// state yields the same path, keeping re-imports idempotent.
func BuildPath(sig Signature, sourceTag, ext string, importedAt time.Time, exists func(string) bool) string {
	ts := importedAt.UTC()
	if sig.CaptureTime != nil {
		ts = sig.CaptureTime.UTC()
	}

	dir := ts.Format("2006/01/02")
	stamp := ts.Format("20060102T150405")

	tag := sanitizeTag(sourceTag)
	if tag == "" {
		tag = "import"
	}

	hashPrefix := sig.ContentHash
	if len(hashPrefix) > hashPrefixLen {
		hashPrefix = hashPrefix[:hashPrefixLen]
	}

	extension := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if extension == "" {
		extension = "bin"
	}

	base := fmt.Sprintf("%s_%s_%s", stamp, tag, hashPrefix)
	candidate := path.Join(dir, base+"."+extension)
	if exists == nil || !exists(candidate) {
		return candidate
	}
	for counter := 1; ; counter++ {
		candidate = path.Join(dir, fmt.Sprintf("%s_%d.%s", base, counter, extension))
		if !exists(candidate) {
			return candidate
		}
	}
}

func sanitizeTag(tag string) string {
	var b strings.Builder
	b.Grow(len(tag))
	for _, r := range strings.TrimSpace(tag) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r) || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
