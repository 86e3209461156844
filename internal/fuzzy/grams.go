// Package fuzzy implements an approximate string set. Values are indexed by
// character n-grams of several sizes; queries are ranked by cosine
// similarity of gram-count vectors and optionally re-ranked by normalized
// Levenshtein distance.
package fuzzy

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/harishambati/fuzzyset/pkg/errors"
)

const boundary = '-'

// Normalize returns the identity key of s: its lower-cased form. Text that is
// not valid UTF-8 is rejected with ErrInvalidInput.
func Normalize(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: value is not valid UTF-8 text", apperrors.ErrInvalidInput)
	}
	return strings.ToLower(s), nil
}

// keepRune reports whether r survives gram cleaning: ASCII letters and
// digits, comma, space and the Latin-1 supplement block.
func keepRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ',' || r == ' ':
		return true
	case r >= 0x00C0 && r <= 0x00FF:
		return true
	default:
		return false
	}
}

// Grams returns every gramSize-rune window of the cleaned, padded form of
// value, in order and with duplicates. The padded form is "-" + cleaned + "-",
// right-filled with "-" up to gramSize runes, so even an empty value yields
// at least one gram.
func Grams(value string, gramSize int) []string {
	if gramSize < 1 {
		return nil
	}
	lowered := strings.ToLower(value)
	padded := make([]rune, 0, utf8.RuneCountInString(lowered)+2)
	padded = append(padded, boundary)
	for _, r := range lowered {
		if keepRune(r) {
			padded = append(padded, r)
		}
	}
	padded = append(padded, boundary)
	for len(padded) < gramSize {
		padded = append(padded, boundary)
	}

	grams := make([]string, 0, len(padded)-gramSize+1)
	for i := 0; i+gramSize <= len(padded); i++ {
		grams = append(grams, string(padded[i:i+gramSize]))
	}
	return grams
}

// GramCounts reduces Grams(value, gramSize) to occurrence counts.
func GramCounts(value string, gramSize int) map[string]int {
	grams := Grams(value, gramSize)
	counts := make(map[string]int, len(grams))
	for _, g := range grams {
		counts[g]++
	}
	return counts
}
