// Package identity provides the canonical-name normalization used to
// key users and rooms independently of their display name.
package identity

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	fold       = cases.Fold()
	stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Collapse produces the canonical lookup key for a display name: trim
// surrounding whitespace, casefold, strip combining diacritical marks
// (via NFD decomposition), then remove all remaining whitespace. Two
// names that differ only in case, accents, or interior spacing collapse
// to the same key.
func Collapse(s string) string {
	trimmed := strings.TrimSpace(s)
	folded := fold.String(trimmed)
	stripped, _, err := transform.String(stripMarks, folded)
	if err != nil {
		stripped = folded
	}
	return stripWhitespace(stripped)
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FallbackName produces the "userN" placeholder name assigned before a
// client completes its handshake.
func FallbackName(id uint64) string {
	return "user" + strconv.FormatUint(id, 10)
}
