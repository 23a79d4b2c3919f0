// Package dedup finds duplicate questions in two stages: a cheap lexical
// pass over normalized text, then model-assisted grouping over fixed-size
// batches tracked as a progress-reporting job.
package dedup

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize reduces question text to a lexical fingerprint: NFKC-folded,
// lowercased, all non-alphanumeric runes stripped. Two questions whose
// fingerprints are equal, or where one contains the other, are lexical
// duplicate candidates.
func Normalize(text string) string {
	folded := norm.NFKC.String(text)

	var sb strings.Builder
	sb.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}

// LexicalMatch reports whether two normalized fingerprints are duplicate
// candidates: equal, or one a substring of the other. Empty fingerprints
// never match anything.
func LexicalMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
