package library

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// hashPrefixLen is the number of digest characters embedded in a
// canonical filename. The full digest lives in the index; the filename
// prefix only has to be unique within one capture day.
const hashPrefixLen = 8

// canonicalNameRe matches img_YYYYMMDD_<hash8> with an optional _N
// collision suffix, before the extension.
var canonicalNameRe = regexp.MustCompile(`^img_(\d{8})_([0-9a-f]{8})(?:_(\d+))?$`)

// CanonicalDir returns the library-relative directory for a capture
// date: YYYY/YYYY-MM-DD.
func CanonicalDir(taken time.Time) string {
	return filepath.Join(taken.Format("2006"), taken.Format("2006-01-02"))
}

// CanonicalName returns the base filename for a file with the given
// capture date, content digest and original extension. suffix > 0
// appends a collision counter. The extension is lowercased so renames
// of the same content always land on the same name.
func CanonicalName(taken time.Time, digest, ext string, suffix int) string {
	prefix := digest
	if len(prefix) > hashPrefixLen {
		prefix = prefix[:hashPrefixLen]
	}
	base := fmt.Sprintf("img_%s_%s", taken.Format("20060102"), prefix)
	if suffix > 0 {
		base = fmt.Sprintf("%s_%d", base, suffix)
	}
	return base + strings.ToLower(ext)
}

// CanonicalPath returns the full library-relative path for a file:
// CanonicalDir joined with CanonicalName.
func CanonicalPath(taken time.Time, digest, ext string, suffix int) string {
	return filepath.Join(CanonicalDir(taken), CanonicalName(taken, digest, ext, suffix))
}

// ParsedName is the result of decomposing a canonical filename.
type ParsedName struct {
	Date       string // YYYYMMDD
	HashPrefix string
	Suffix     int
}

// ParseCanonicalName decomposes a canonical base filename (without
// directory, with extension). It reports false for names that do not
// follow the scheme.
func ParseCanonicalName(name string) (ParsedName, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	m := canonicalNameRe.FindStringSubmatch(base)
	if m == nil {
		return ParsedName{}, false
	}
	p := ParsedName{Date: m[1], HashPrefix: m[2]}
	if m[3] != "" {
		// Regexp guarantees digits.
		fmt.Sscanf(m[3], "%d", &p.Suffix)
	}
	return p, true
}

// IsCanonical reports whether relPath already is the canonical
// location for a file with the given capture date and digest, modulo
// the collision suffix.
func IsCanonical(relPath string, taken time.Time, digest string) bool {
	if filepath.Dir(relPath) != CanonicalDir(taken) {
		return false
	}
	p, ok := ParseCanonicalName(filepath.Base(relPath))
	if !ok {
		return false
	}
	prefix := digest
	if len(prefix) > hashPrefixLen {
		prefix = prefix[:hashPrefixLen]
	}
	return p.Date == taken.Format("20060102") && p.HashPrefix == prefix
}
