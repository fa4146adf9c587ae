package record

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentifier prepares a free-text attribute for wildcard search:
// surrounding whitespace is stripped, accents are folded to their base
// letter, anything outside printable ASCII is dropped and the result is
// uppercased.
func NormalizeIdentifier(value string) string {
	return strings.ToUpper(toASCII(strings.TrimSpace(value)))
}

// IdentifierValue returns the value stored as identifier for tag.
// Technical identifiers are kept verbatim.
func IdentifierValue(tag Tag, value string) string {
	if IsTechnical(tag) {
		return value
	}
	return NormalizeIdentifier(value)
}

func toASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r >= 32 && r < 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
