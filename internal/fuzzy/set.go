package fuzzy

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	apperrors "github.com/harishambati/fuzzyset/pkg/errors"
)

const (
	DefaultGramSizeLower = 2
	DefaultGramSizeUpper = 3
	DefaultMinScore      = 0.33

	// LevenshteinCandidates bounds how many cosine-ranked entries are
	// re-scored by edit distance.
	LevenshteinCandidates = 50
)

// Match is a ranked query result. Value is the string as originally added.
type Match struct {
	Score float64 `json:"score"`
	Value string  `json:"value"`
}

type Options struct {
	UseLevenshtein bool
	GramSizeLower  int
	GramSizeUpper  int
}

func DefaultOptions() Options {
	return Options{
		UseLevenshtein: true,
		GramSizeLower:  DefaultGramSizeLower,
		GramSizeUpper:  DefaultGramSizeUpper,
	}
}

// Set is an approximate string set. Add takes the write lock; every other
// method takes the read lock, so queries run concurrently with each other.
type Set struct {
	mu             sync.RWMutex
	useLevenshtein bool
	gramSizeLower  int
	gramSizeUpper  int
	indexes        map[int]*gramIndex
	exact          map[string]string
	digest         uint64
}

// New builds a Set and adds values in order. Zero gram sizes take their
// defaults.
func New(values []string, opts Options) (*Set, error) {
	if opts.GramSizeLower == 0 {
		opts.GramSizeLower = DefaultGramSizeLower
	}
	if opts.GramSizeUpper == 0 {
		opts.GramSizeUpper = DefaultGramSizeUpper
	}
	if opts.GramSizeLower < 1 || opts.GramSizeUpper < opts.GramSizeLower {
		return nil, fmt.Errorf("%w: %w: lower=%d upper=%d",
			apperrors.ErrInvalidInput, apperrors.ErrInvalidGramRange,
			opts.GramSizeLower, opts.GramSizeUpper)
	}

	s := &Set{
		useLevenshtein: opts.UseLevenshtein,
		gramSizeLower:  opts.GramSizeLower,
		gramSizeUpper:  opts.GramSizeUpper,
		indexes:        make(map[int]*gramIndex, opts.GramSizeUpper-opts.GramSizeLower+1),
		exact:          make(map[string]string, len(values)),
	}
	for size := s.gramSizeLower; size <= s.gramSizeUpper; size++ {
		s.indexes[size] = newGramIndex(size)
	}
	for _, v := range values {
		if _, err := s.Add(v); err != nil {
			return nil, fmt.Errorf("adding initial value: %w", err)
		}
	}
	return s, nil
}

// Add inserts value and reports whether it was new. A value whose
// lower-cased form is already present leaves the set untouched.
func (s *Set) Add(value string) (bool, error) {
	key, err := Normalize(value)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.exact[key]; exists {
		return false, nil
	}
	for size := s.gramSizeLower; size <= s.gramSizeUpper; size++ {
		s.indexes[size].add(key)
	}
	s.exact[key] = value
	s.digest ^= xxhash.Sum64String(key)
	return true, nil
}

// Query returns the values matching value with a score of at least minScore,
// best first. A nil slice means no match.
func (s *Set) Query(value string, minScore float64) ([]Match, error) {
	key, err := Normalize(value)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if original, ok := s.exact[key]; ok {
		return []Match{{Score: 1, Value: original}}, nil
	}

	var candidates []scored
	for size := s.gramSizeUpper; size >= s.gramSizeLower; size-- {
		candidates = s.indexes[size].cosine(key)
		if len(candidates) > 0 {
			break
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if s.useLevenshtein {
		if len(candidates) > LevenshteinCandidates {
			candidates = candidates[:LevenshteinCandidates]
		}
		refined := make([]scored, len(candidates))
		for i, c := range candidates {
			refined[i] = scored{score: editSimilarity(c.key, key), key: c.key}
		}
		sortDescending(refined)
		candidates = refined
	}

	var matches []Match
	for _, c := range candidates {
		if c.score >= minScore {
			matches = append(matches, Match{Score: c.score, Value: s.exact[c.key]})
		}
	}
	return matches, nil
}

// Get is Query with a fallback: when nothing matches and defaultValue is
// non-nil, defaultValue is returned instead.
func (s *Set) Get(value string, defaultValue []Match, minScore float64) ([]Match, error) {
	matches, err := s.Query(value, minScore)
	if err != nil {
		return nil, err
	}
	if matches == nil && defaultValue != nil {
		return defaultValue, nil
	}
	return matches, nil
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exact)
}

func (s *Set) IsEmpty() bool {
	return s.Len() == 0
}

// Values returns every stored value in no particular order.
func (s *Set) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]string, 0, len(s.exact))
	for _, v := range s.exact {
		values = append(values, v)
	}
	return values
}

// Digest returns the number of values together with an order-independent
// hash of their normalized keys. Two sets holding the same keys report the
// same digest whatever order the keys were added in.
func (s *Set) Digest() (size int, sum uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exact), s.digest
}

// GramSizes returns the inclusive gram size range of the set.
func (s *Set) GramSizes() (lower, upper int) {
	return s.gramSizeLower, s.gramSizeUpper
}

// UsesLevenshtein reports whether results are re-ranked by edit distance.
func (s *Set) UsesLevenshtein() bool {
	return s.useLevenshtein
}
