// Package matcher serves fuzzy lookups against a growing vocabulary. The
// Engine owns the fuzzy set, prepares queries with the analyzer and records
// match metrics.
package matcher

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/harishambati/fuzzyset/internal/fuzzy"
	"github.com/harishambati/fuzzyset/internal/matcher/analyzer"
	"github.com/harishambati/fuzzyset/pkg/config"
	apperrors "github.com/harishambati/fuzzyset/pkg/errors"
	"github.com/harishambati/fuzzyset/pkg/metrics"
)

// MatchResult is the response to one query.
type MatchResult struct {
	Query        string        `json:"query"`
	Prepared     string        `json:"prepared_query"`
	Matches      []fuzzy.Match `json:"matches"`
	TotalMatches int           `json:"total_matches"`
	Exact        bool          `json:"exact"`
	Generation   int           `json:"generation"`
}

// Stats describes the index for the stats endpoint.
type Stats struct {
	Size           int  `json:"size"`
	IsEmpty        bool `json:"is_empty"`
	GramSizeLower  int  `json:"gram_size_lower"`
	GramSizeUpper  int  `json:"gram_size_upper"`
	UseLevenshtein bool `json:"use_levenshtein"`
}

type Engine struct {
	set             *fuzzy.Set
	analyzer        *analyzer.Analyzer
	metrics         *metrics.Metrics
	defaultMinScore float64
	logger          *slog.Logger
}

// NewEngine builds an empty engine. A negative MinMatchScore selects
// fuzzy.DefaultMinScore; zero keeps every candidate. m may be nil.
func NewEngine(cfg config.FuzzyConfig, an *analyzer.Analyzer, m *metrics.Metrics) (*Engine, error) {
	set, err := fuzzy.New(nil, fuzzy.Options{
		UseLevenshtein: cfg.UseLevenshtein,
		GramSizeLower:  cfg.GramSizeLower,
		GramSizeUpper:  cfg.GramSizeUpper,
	})
	if err != nil {
		return nil, fmt.Errorf("creating fuzzy set: %w", err)
	}
	minScore := cfg.MinMatchScore
	if minScore < 0 {
		minScore = fuzzy.DefaultMinScore
	}
	return &Engine{
		set:             set,
		analyzer:        an,
		metrics:         m,
		defaultMinScore: minScore,
		logger:          slog.Default().With("component", "matcher"),
	}, nil
}

// Add inserts one value and reports whether it was new.
func (e *Engine) Add(value string) (bool, error) {
	added, err := e.set.Add(value)
	switch {
	case err != nil:
		e.countAdded("invalid")
		return false, err
	case added:
		e.countAdded("added")
	default:
		e.countAdded("duplicate")
	}
	if e.metrics != nil {
		e.metrics.VocabularySize.Set(float64(e.set.Len()))
	}
	return added, nil
}

// AddAll inserts values in order and returns how many were new. It stops at
// the first invalid value; values before it stay inserted.
func (e *Engine) AddAll(values []string) (int, error) {
	added := 0
	for i, v := range values {
		ok, err := e.Add(v)
		if err != nil {
			return added, fmt.Errorf("value %d: %w", i, err)
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		e.logger.Debug("values added", "added", added, "offered", len(values), "size", e.set.Len())
	}
	return added, nil
}

// Match looks query up in the vocabulary. A negative minScore selects the
// configured default; limit <= 0 returns every match.
func (e *Engine) Match(query string, minScore float64, limit int) (*MatchResult, error) {
	result, err := e.match(query, minScore, limit)
	if e.metrics != nil {
		e.metrics.MatchQueriesTotal.WithLabelValues(outcome(result, err)).Inc()
		if err == nil {
			e.metrics.MatchResultsCount.Observe(float64(len(result.Matches)))
			if len(result.Matches) > 0 {
				e.metrics.MatchTopScore.Observe(result.Matches[0].Score)
			}
		}
	}
	return result, err
}

func (e *Engine) match(query string, minScore float64, limit int) (*MatchResult, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, apperrors.ErrEmptyQuery
	}
	if math.IsNaN(minScore) || minScore > 1 {
		return nil, fmt.Errorf("%w: min score %v outside [0,1]", apperrors.ErrInvalidInput, minScore)
	}
	if minScore < 0 {
		minScore = e.defaultMinScore
	}

	prepared := e.analyzer.Prepare(trimmed)
	generation := e.set.Len()
	matches, err := e.set.Query(prepared, minScore)
	if err != nil {
		return nil, err
	}

	result := &MatchResult{
		Query:        query,
		Prepared:     prepared,
		Matches:      []fuzzy.Match{},
		TotalMatches: len(matches),
		Generation:   generation,
	}
	if len(matches) > 0 {
		result.Exact = strings.ToLower(matches[0].Value) == strings.ToLower(prepared)
		if limit > 0 && len(matches) > limit {
			matches = matches[:limit]
		}
		result.Matches = matches
	}
	return result, nil
}

func outcome(result *MatchResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case result.Exact:
		return "exact"
	case len(result.Matches) == 0:
		return "no_match"
	default:
		return "fuzzy"
	}
}

func (e *Engine) countAdded(result string) {
	if e.metrics != nil {
		e.metrics.ValuesAddedTotal.WithLabelValues(result).Inc()
	}
}

// Size returns the number of distinct values.
func (e *Engine) Size() int {
	return e.set.Len()
}

// Generation counts the values indexed so far. The vocabulary only grows, so
// it changes whenever this process's contents do.
func (e *Engine) Generation() int {
	return e.set.Len()
}

// Version identifies the index contents across processes: the size plus a
// hash of every normalized value. Replicas that received different values
// report different versions even at equal size.
func (e *Engine) Version() (generation int, digest uint64) {
	return e.set.Digest()
}

func (e *Engine) Values() []string {
	return e.set.Values()
}

func (e *Engine) Stats() Stats {
	lower, upper := e.set.GramSizes()
	size := e.set.Len()
	return Stats{
		Size:           size,
		IsEmpty:        size == 0,
		GramSizeLower:  lower,
		GramSizeUpper:  upper,
		UseLevenshtein: e.set.UsesLevenshtein(),
	}
}
