// Package fold produces comparison keys for record fields so that the
// differ never reports a change that is only whitespace, case, or
// diacritics. Export files come out of an ageing fleet system where the
// same department name can appear as "Opérations" one day and
// "OPERATIONS " the next.
package fold

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Key returns the canonical comparison form of s: surrounding whitespace
// trimmed, combining marks stripped, and the result upper-cased.
func Key(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	return strings.ToUpper(s)
}

// Equal reports whether a and b fold to the same key.
func Equal(a, b string) bool { return Key(a) == Key(b) }
