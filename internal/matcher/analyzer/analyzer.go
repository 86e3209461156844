// Package analyzer prepares free-text questions for matching by dropping
// filler words, so "what is the capital of france" is matched as
// "capital france".
package analyzer

import (
	"strings"

	"github.com/harishambati/fuzzyset/pkg/config"
)

type Analyzer struct {
	enabled   bool
	stopWords map[string]struct{}
}

func New(cfg config.AnalyzerConfig) *Analyzer {
	a := &Analyzer{
		enabled:   cfg.Enabled,
		stopWords: make(map[string]struct{}, len(cfg.StopWords)),
	}
	for _, w := range cfg.StopWords {
		a.stopWords[strings.ToLower(w)] = struct{}{}
	}
	return a
}

// Prepare removes stop words and collapses whitespace. Text made only of stop
// words is returned trimmed rather than emptied. A disabled or nil Analyzer
// only trims.
func (a *Analyzer) Prepare(text string) string {
	if a == nil || !a.enabled {
		return strings.TrimSpace(text)
	}
	words := strings.Fields(text)
	kept := words[:0:0]
	for _, w := range words {
		if _, stop := a.stopWords[strings.ToLower(w)]; !stop {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.Join(kept, " ")
}

// IsStopWord reports whether word is filtered by Prepare.
func (a *Analyzer) IsStopWord(word string) bool {
	if a == nil {
		return false
	}
	_, ok := a.stopWords[strings.ToLower(word)]
	return ok
}
