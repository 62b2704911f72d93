// Package similarity scores how likely two company names refer to the same
// client.
//
// Names are normalized before comparison: Unicode NFC, full-width forms
// folded to their narrow equivalents, surrounding whitespace trimmed,
// internal whitespace runs collapsed to one space, and case folded. Two
// names with the same normalized form are the same client; Key returns that
// form and the store uses it as the unique dedup column.
package similarity

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Normalize returns the canonical comparison form of a name.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = width.Fold.String(s)
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	// cases.Caser is stateful, so it is created per call.
	return cases.Fold().String(s)
}

// Key returns the dedup key stored alongside each client name.
func Key(s string) string {
	return Normalize(s)
}

// Equal reports whether two names normalize identically.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Score returns a confidence in [0,1] that candidate names the same client
// as query.
//
// Identical normalized names score 1 and an empty side scores 0. Otherwise
// the score is n/(n+d), where n is the rune length of the normalized query
// and d the rune edit distance between the normalized names. For a fixed
// query the score strictly decreases as d grows, and it stays below 1 for
// any pair that differs.
func Score(query, candidate string) float64 {
	q, c := Normalize(query), Normalize(candidate)
	if q == "" || c == "" {
		return 0
	}
	if q == c {
		return 1
	}
	n := utf8.RuneCountInString(q)
	d := levenshtein.ComputeDistance(q, c)
	return float64(n) / float64(n+d)
}
