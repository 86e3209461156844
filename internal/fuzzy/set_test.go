package fuzzy

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/harishambati/fuzzyset/pkg/errors"
)

var courses = []string{
	"software modeling architecture",
	"wireless net and mobile comp",
	"cryptography",
}

func newSet(t *testing.T, values []string, opts Options) *Set {
	t.Helper()
	s, err := New(values, opts)
	require.NoError(t, err)
	return s
}

func matchValues(matches []Match) []string {
	values := make([]string, len(matches))
	for i, m := range matches {
		values[i] = m.Value
	}
	return values
}

func TestAddIsIdempotentCaseInsensitively(t *testing.T) {
	s := newSet(t, nil, DefaultOptions())

	added, err := s.Add("Apple")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add("APPLE")
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []string{"Apple"}, s.Values())
}

func TestNewSkipsDuplicateInitialValues(t *testing.T) {
	s := newSet(t, []string{"one", "One", "two"}, DefaultOptions())
	assert.Equal(t, 2, s.Len())
	assert.ElementsMatch(t, []string{"one", "two"}, s.Values())
}

func TestExactMatchShortCircuits(t *testing.T) {
	s := newSet(t, courses, DefaultOptions())
	for _, q := range []string{"Cryptography", "CRYPTOGRAPHY", "cryptography"} {
		matches, err := s.Query(q, DefaultMinScore)
		require.NoError(t, err)
		assert.Equal(t, []Match{{Score: 1, Value: "cryptography"}}, matches, q)
	}
}

func TestExactMatchReturnsOriginalCasing(t *testing.T) {
	s := newSet(t, []string{"Speak Spanish"}, DefaultOptions())
	matches, err := s.Query("speak spanish", 0.9)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Score: 1, Value: "Speak Spanish"}}, matches)
}

func TestCourseScenario(t *testing.T) {
	s := newSet(t, courses, DefaultOptions())

	matches, err := s.Query("wireless network mobile computing", 0.3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "wireless net and mobile comp", matches[0].Value)
	assert.Greater(t, matches[0].Score, 0.3)

	matches, err = s.Query("cryptograph", 0.3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "cryptography", matches[0].Value)
	assert.Greater(t, matches[0].Score, 0.8)
	assert.InDelta(t, 1-1.0/12.0, matches[0].Score, 1e-9)
}

func TestScoresAreBoundedSortedAndFiltered(t *testing.T) {
	vocabulary := append([]string{
		"designation professor",
		"teaches cryptography",
		"offered fall",
		"offered summer",
		"teaches",
		"speak spanish",
	}, courses...)

	for _, useLevenshtein := range []bool{true, false} {
		s := newSet(t, vocabulary, Options{UseLevenshtein: useLevenshtein})
		for _, q := range []string{"who teaches crypto", "offered in fall", "wireless", "spanish", "zz"} {
			for _, minScore := range []float64{0, 0.2, 0.5} {
				matches, err := s.Query(q, minScore)
				require.NoError(t, err)
				assert.True(t, sort.SliceIsSorted(matches, func(i, j int) bool {
					return matches[i].Score > matches[j].Score
				}), "query %q not sorted: %v", q, matches)
				for _, m := range matches {
					assert.GreaterOrEqual(t, m.Score, minScore)
					assert.GreaterOrEqual(t, m.Score, 0.0)
					assert.LessOrEqual(t, m.Score, 1.0)
				}
			}
		}
	}
}

func TestHigherMinScoreReturnsSubset(t *testing.T) {
	s := newSet(t, append([]string{"teaches cryptography", "offered summer"}, courses...), DefaultOptions())
	for _, q := range []string{"wireless network", "crypto", "summer offered", "archi"} {
		loose, err := s.Query(q, 0.1)
		require.NoError(t, err)
		strict, err := s.Query(q, 0.9)
		require.NoError(t, err)
		assert.Subset(t, matchValues(loose), matchValues(strict), q)
	}
}

func TestFallsBackToSmallerGrams(t *testing.T) {
	// "ab" shares the bigram "ab" with "xaby" but no trigram.
	s := newSet(t, []string{"xaby"}, Options{UseLevenshtein: false})
	matches, err := s.Query("ab", 0.2)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "xaby", matches[0].Value)
	assert.InDelta(t, 1/math.Sqrt(15), matches[0].Score, 1e-9)

	trigramsOnly := newSet(t, []string{"xaby"}, Options{GramSizeLower: 3, GramSizeUpper: 3})
	matches, err = trigramsOnly.Query("ab", 0)
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestGramSizeChosenBeforeScoreFilter(t *testing.T) {
	// Trigrams overlap ("ab-"), so bigrams are never consulted even though
	// the bigram cosine of "qab" (0.577) would clear a threshold that every
	// trigram score misses.
	s := newSet(t, []string{"xyzab", "qab"}, Options{UseLevenshtein: false})
	all, err := s.Query("ab", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "qab", all[0].Value)
	assert.InDelta(t, 1/math.Sqrt(6), all[0].Score, 1e-9)
	assert.InDelta(t, 1/math.Sqrt(10), all[1].Score, 1e-9)

	strict, err := s.Query("ab", 0.5)
	require.NoError(t, err)
	assert.Nil(t, strict)
}

func TestFallbackResultIsRefinedByEditDistance(t *testing.T) {
	s := newSet(t, []string{"xaby"}, DefaultOptions())
	matches, err := s.Query("ab", DefaultMinScore)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Score: 0.5, Value: "xaby"}}, matches)
}

func TestLevenshteinRefinementIsCappedAtFiftyCandidates(t *testing.T) {
	const query = "abcdefghij"
	// Every filler has the same cleaned grams as the query (cosine 1) but
	// grows longer with more punctuation, which only edit distance sees.
	build := func(fillers int) *Set {
		values := make([]string, 0, fillers+1)
		for k := 1; k <= fillers; k++ {
			values = append(values, query+strings.Repeat("!", k))
		}
		values = append(values, "abcdefghix")
		return newSet(t, values, DefaultOptions())
	}

	capped := build(LevenshteinCandidates)
	matches, err := capped.Query(query, 0.85)
	require.NoError(t, err)
	assert.Equal(t, []string{query + "!"}, matchValues(matches))
	assert.NotContains(t, matchValues(matches), "abcdefghix")

	all, err := capped.Query(query, 0)
	require.NoError(t, err)
	assert.Len(t, all, LevenshteinCandidates)

	uncapped := build(LevenshteinCandidates - 1)
	matches, err = uncapped.Query(query, 0.85)
	require.NoError(t, err)
	assert.Equal(t, []string{query + "!", "abcdefghix"}, matchValues(matches))
	assert.InDelta(t, 0.9, matches[1].Score, 1e-9)
}

func TestWithoutLevenshteinAllCandidatesAreKept(t *testing.T) {
	values := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		values = append(values, fmt.Sprintf("item %02d", i))
	}
	s := newSet(t, values, Options{UseLevenshtein: false})
	matches, err := s.Query("item", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 60)
}

func TestTiesKeepInsertionOrder(t *testing.T) {
	s := newSet(t, []string{"abx", "aby", "abz"}, Options{UseLevenshtein: false})
	matches, err := s.Query("ab", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"abx", "aby", "abz"}, matchValues(matches))
	assert.Equal(t, matches[0].Score, matches[2].Score)
}

func TestEmptySet(t *testing.T) {
	s := newSet(t, nil, DefaultOptions())
	assert.True(t, s.IsEmpty())
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Values())

	matches, err := s.Query("anything", DefaultMinScore)
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestAccentsAreNotFolded(t *testing.T) {
	s := newSet(t, []string{"café"}, DefaultOptions())

	matches, err := s.Query("cafe", DefaultMinScore)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Score: 0.75, Value: "café"}}, matches)

	matches, err = s.Query("CAFÉ", DefaultMinScore)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Score: 1, Value: "café"}}, matches)

	cosineOnly := newSet(t, []string{"café"}, Options{UseLevenshtein: false})
	matches, err = cosineOnly.Query("cafe", DefaultMinScore)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.5, matches[0].Score, 1e-9)
}

func TestEmptyStringValue(t *testing.T) {
	s := newSet(t, []string{"", "a"}, DefaultOptions())
	assert.Equal(t, 2, s.Len())

	matches, err := s.Query("", DefaultMinScore)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Score: 1, Value: ""}}, matches)
}

func TestGet(t *testing.T) {
	s := newSet(t, []string{"apple"}, DefaultOptions())
	fallback := []Match{{Score: 0, Value: "fallback"}}

	matches, err := s.Get("qqq", fallback, DefaultMinScore)
	require.NoError(t, err)
	assert.Equal(t, fallback, matches)

	matches, err = s.Get("qqq", nil, DefaultMinScore)
	require.NoError(t, err)
	assert.Nil(t, matches)

	matches, err = s.Get("apple", fallback, DefaultMinScore)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Score: 1, Value: "apple"}}, matches)
}

func TestInvalidInput(t *testing.T) {
	invalid := string([]byte{0xc3, 0x28})
	s := newSet(t, []string{"apple"}, DefaultOptions())

	added, err := s.Add(invalid)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.False(t, added)
	assert.Equal(t, 1, s.Len())

	_, err = s.Query(invalid, DefaultMinScore)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = New([]string{"ok", invalid}, DefaultOptions())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestNewValidatesGramRange(t *testing.T) {
	_, err := New(nil, Options{GramSizeLower: 4, GramSizeUpper: 3})
	assert.ErrorIs(t, err, apperrors.ErrInvalidGramRange)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = New(nil, Options{GramSizeLower: -1, GramSizeUpper: 3})
	assert.ErrorIs(t, err, apperrors.ErrInvalidGramRange)

	s := newSet(t, nil, Options{})
	lower, upper := s.GramSizes()
	assert.Equal(t, DefaultGramSizeLower, lower)
	assert.Equal(t, DefaultGramSizeUpper, upper)
	assert.False(t, s.UsesLevenshtein())
}

func TestConcurrentQueriesAndAdds(t *testing.T) {
	s := newSet(t, courses, DefaultOptions())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := s.Add(fmt.Sprintf("value %d-%d", w, i))
				assert.NoError(t, err)
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := s.Query("value 1", DefaultMinScore)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, len(courses)+200, s.Len())
}
