package analytics

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/harishambati/fuzzyset/pkg/kafka"
)

// latencyWindow bounds how many recent latencies feed the percentiles.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalQueries     int64        `json:"total_queries"`
	ExactMatches     int64        `json:"exact_matches"`
	FuzzyMatches     int64        `json:"fuzzy_matches"`
	NoMatchCount     int64        `json:"no_match_count"`
	CacheHits        int64        `json:"cache_hits"`
	CacheMisses      int64        `json:"cache_misses"`
	AvgTopScore      float64      `json:"avg_top_score"`
	AvgLatencyUs     float64      `json:"avg_latency_us"`
	P50LatencyUs     int64        `json:"p50_latency_us"`
	P95LatencyUs     int64        `json:"p95_latency_us"`
	P99LatencyUs     int64        `json:"p99_latency_us"`
	TopQueries       []QueryCount `json:"top_queries"`
	NoMatchQueries   []QueryCount `json:"no_match_queries"`
	TopValues        []QueryCount `json:"top_values"`
	QueriesPerMinute float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds match events into running statistics.
type Aggregator struct {
	mu             sync.RWMutex
	total          int64
	exact          int64
	fuzzy          int64
	noMatch        int64
	cacheHits      int64
	cacheMisses    int64
	topScoreSum    float64
	latencies      []int64
	next           int
	queryCounts    map[string]int64
	noMatchQueries map[string]int64
	valueCounts    map[string]int64
	startTime      time.Time
	logger         *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:      make([]int64, 0, latencyWindow),
		queryCounts:    make(map[string]int64),
		noMatchQueries: make(map[string]int64),
		valueCounts:    make(map[string]int64),
		startTime:      time.Now(),
		logger:         slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes analytics messages from Kafka into agg. Undecodable
// messages are logged and acknowledged.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(_ context.Context, _ []byte, value []byte) error {
		event, err := kafka.DecodeJSON[MatchEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		agg.Track(event)
		return nil
	}
}

// Track records one event. It lets the Aggregator stand in for a Collector
// when events are not routed through Kafka.
func (a *Aggregator) Track(event MatchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	switch {
	case event.ResultCount == 0:
		a.noMatch++
		a.noMatchQueries[event.Query]++
	case event.Exact:
		a.exact++
	default:
		a.fuzzy++
	}
	if event.ResultCount > 0 {
		a.topScoreSum += event.TopScore
		a.valueCounts[event.TopValue]++
	}
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	a.queryCounts[event.Query]++

	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyUs)
	} else {
		a.latencies[a.next] = event.LatencyUs
		a.next = (a.next + 1) % latencyWindow
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalQueries: a.total,
		ExactMatches: a.exact,
		FuzzyMatches: a.fuzzy,
		NoMatchCount: a.noMatch,
		CacheHits:    a.cacheHits,
		CacheMisses:  a.cacheMisses,
	}
	if matched := a.exact + a.fuzzy; matched > 0 {
		stats.AvgTopScore = a.topScoreSum / float64(matched)
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)
		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyUs = float64(sum) / float64(len(sorted))
		stats.P50LatencyUs = percentile(sorted, 50)
		stats.P95LatencyUs = percentile(sorted, 95)
		stats.P99LatencyUs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.NoMatchQueries = topN(a.noMatchQueries, 10)
	stats.TopValues = topN(a.valueCounts, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(a.total) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := pct * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n highest counts, ties broken alphabetically.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
