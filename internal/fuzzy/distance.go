package fuzzy

import (
	"fmt"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	apperrors "github.com/harishambati/fuzzyset/pkg/errors"
)

// Similarity returns 1 - lev(a, b) / max(len(a), len(b)) with lengths counted
// in runes. Two empty strings are identical (1). When exactly one operand is
// not valid text the pair is maximally dissimilar (0); when both are invalid
// the comparison itself is rejected.
func Similarity(a, b string) (float64, error) {
	aValid, bValid := utf8.ValidString(a), utf8.ValidString(b)
	switch {
	case !aValid && !bValid:
		return 0, fmt.Errorf("%w: comparing two invalid values", apperrors.ErrInvalidInput)
	case !aValid || !bValid:
		return 0, nil
	}
	return editSimilarity(a, b), nil
}

// editSimilarity assumes both operands are valid UTF-8.
func editSimilarity(a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	distance := edlib.LevenshteinDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}
