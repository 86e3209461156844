// Package metrics defines the Prometheus collectors used by the matcher
// service and serves them for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	MatchQueriesTotal    *prometheus.CounterVec
	MatchLatency         *prometheus.HistogramVec
	MatchResultsCount    prometheus.Histogram
	MatchTopScore        prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	ValuesAddedTotal     *prometheus.CounterVec
	VocabularySize       prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on Handler().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		MatchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_queries_total",
				Help: "Total match queries by outcome (exact, fuzzy, no_match, error).",
			},
			[]string{"outcome"},
		),
		MatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_latency_seconds",
				Help:    "Match query latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"cache_status"},
		),
		MatchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "match_results_count",
				Help:    "Number of matches returned per query.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),
		MatchTopScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "match_top_score",
				Help:    "Score of the best match per query that matched.",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_cache_hits_total",
				Help: "Total number of match cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_cache_misses_total",
				Help: "Total number of match cache misses.",
			},
		),
		ValuesAddedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vocabulary_values_added_total",
				Help: "Values offered to the index by result (added, duplicate, invalid).",
			},
			[]string{"result"},
		),
		VocabularySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vocabulary_size",
				Help: "Number of distinct values in the fuzzy index.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.MatchQueriesTotal,
		m.MatchLatency,
		m.MatchResultsCount,
		m.MatchTopScore,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ValuesAddedTotal,
		m.VocabularySize,
		m.CircuitBreakerState,
	)

	return m
}
