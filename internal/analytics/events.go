// Package analytics records match queries and aggregates them into usage
// statistics. Events travel through Kafka when it is configured, or go
// straight to the in-process Aggregator otherwise.
package analytics

import "time"

// MatchEvent describes one answered match request.
type MatchEvent struct {
	Query       string    `json:"query"`
	Prepared    string    `json:"prepared_query"`
	ResultCount int       `json:"result_count"`
	TopValue    string    `json:"top_value,omitempty"`
	TopScore    float64   `json:"top_score"`
	Exact       bool      `json:"exact"`
	LatencyUs   int64     `json:"latency_us"`
	CacheHit    bool      `json:"cache_hit"`
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
}

// Tracker accepts match events without blocking the request path.
type Tracker interface {
	Track(event MatchEvent)
}
