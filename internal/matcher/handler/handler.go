// Package handler exposes the matcher over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/harishambati/fuzzyset/internal/analytics"
	"github.com/harishambati/fuzzyset/internal/matcher"
	"github.com/harishambati/fuzzyset/internal/matcher/cache"
	"github.com/harishambati/fuzzyset/internal/vocabulary"
	apperrors "github.com/harishambati/fuzzyset/pkg/errors"
	"github.com/harishambati/fuzzyset/pkg/kafka"
	"github.com/harishambati/fuzzyset/pkg/logger"
	"github.com/harishambati/fuzzyset/pkg/metrics"
	"github.com/harishambati/fuzzyset/pkg/middleware"
	"github.com/harishambati/fuzzyset/pkg/tracing"
)

const maxBodyBytes = 1 << 20

// Persister stores accepted values. *vocabulary.Store satisfies it.
type Persister interface {
	Save(ctx context.Context, values []string) (int64, error)
}

// Publisher forwards accepted values to other replicas. *kafka.Producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Options holds the optional collaborators of a Handler. Nil fields turn the
// feature off.
type Options struct {
	DefaultLimit int
	MaxResults   int
	Cache        *cache.QueryCache
	Tracker      analytics.Tracker
	Store        Persister
	Feed         Publisher
	Metrics      *metrics.Metrics
}

type Handler struct {
	engine *matcher.Engine
	opts   Options
	logger *slog.Logger
}

func New(engine *matcher.Engine, opts Options) *Handler {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 50
	}
	return &Handler{
		engine: engine,
		opts:   opts,
		logger: slog.Default().With("component", "match-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/match", h.Match)
	mux.HandleFunc("GET /api/v1/values", h.ListValues)
	mux.HandleFunc("POST /api/v1/values", h.AddValues)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()
	query := params.Get("q")

	minScore := -1.0
	if s := params.Get("min_score"); s != "" {
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "min_score must be a number"))
			return
		}
		minScore = parsed
	}

	limit := h.opts.DefaultLimit
	if s := params.Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(parsed, h.opts.MaxResults)
	}

	compute := func() (*matcher.MatchResult, error) {
		_, span := tracing.StartChild(ctx, "engine.match")
		defer span.End()
		return h.engine.Match(query, minScore, limit)
	}
	var (
		result   *matcher.MatchResult
		cacheHit bool
		err      error
	)
	cacheStatus := "disabled"
	if h.opts.Cache != nil && query != "" {
		generation, digest := h.engine.Version()
		key := cache.Key{Query: query, MinScore: minScore, Limit: limit, Generation: generation, Digest: digest}
		cctx, span := tracing.StartChild(ctx, "cache.get_or_compute")
		result, cacheHit, err = h.opts.Cache.GetOrCompute(cctx, key, compute)
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
		span.SetAttr("cache_status", cacheStatus)
		span.End()
	} else {
		result, err = compute()
	}
	if err != nil {
		if apperrors.HTTPStatusCode(err) >= http.StatusInternalServerError {
			log.Error("match failed", "query", query, "error", err)
		}
		h.writeError(w, err)
		return
	}

	// Cached and shared results may carry another caller's spelling.
	res := *result
	res.Query = query
	latency := time.Since(start)
	if h.opts.Metrics != nil {
		h.opts.Metrics.MatchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	}
	log.Debug("match completed",
		"query", query,
		"matches", len(res.Matches),
		"cache", cacheStatus,
		"latency", latency,
	)
	if h.opts.Tracker != nil {
		event := analytics.MatchEvent{
			Query:       query,
			Prepared:    res.Prepared,
			ResultCount: len(res.Matches),
			Exact:       res.Exact,
			LatencyUs:   latency.Microseconds(),
			CacheHit:    cacheHit,
			Timestamp:   time.Now().UTC(),
			RequestID:   middleware.GetRequestID(ctx),
		}
		if len(res.Matches) > 0 {
			event.TopValue = res.Matches[0].Value
			event.TopScore = res.Matches[0].Score
		}
		h.opts.Tracker.Track(event)
	}
	h.writeJSON(w, http.StatusOK, &res)
}

type addValuesRequest struct {
	Values []string `json:"values"`
}

type addValuesResponse struct {
	Added int `json:"added"`
	Size  int `json:"size"`
}

// AddValues inserts the posted values. Values already accepted before an
// invalid one stay inserted; the error response reports how many.
func (h *Handler) AddValues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addValuesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err))
		return
	}
	if len(req.Values) == 0 {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "values must not be empty"))
		return
	}

	added, err := h.engine.AddAll(req.Values)
	if err != nil {
		h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]any{
			"error": err.Error(),
			"added": added,
			"size":  h.engine.Size(),
		})
		return
	}
	if added > 0 {
		h.propagate(ctx, req.Values)
	}
	h.writeJSON(w, http.StatusOK, addValuesResponse{Added: added, Size: h.engine.Size()})
}

// propagate persists and broadcasts accepted values. Both are best effort:
// the values are already served from memory.
func (h *Handler) propagate(ctx context.Context, values []string) {
	log := logger.FromContext(ctx)
	if h.opts.Store != nil {
		if _, err := h.opts.Store.Save(ctx, values); err != nil {
			log.Error("persisting vocabulary failed", "values", len(values), "error", err)
		}
	}
	if h.opts.Feed != nil {
		event := kafka.Event{
			Key:   middleware.GetRequestID(ctx),
			Value: vocabulary.Event{Values: values, Source: "api"},
		}
		if err := h.opts.Feed.Publish(ctx, event); err != nil {
			log.Error("publishing vocabulary failed", "values", len(values), "error", err)
		}
	}
}

func (h *Handler) ListValues(w http.ResponseWriter, r *http.Request) {
	values := h.engine.Values()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"values": values,
		"size":   len(values),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"index": h.engine.Stats()}
	if h.opts.Cache == nil {
		resp["cache"] = map[string]string{"status": "disabled"}
	} else {
		hits, misses := h.opts.Cache.Stats()
		var hitRate float64
		if total := hits + misses; total > 0 {
			hitRate = float64(hits) / float64(total) * 100
		}
		resp["cache"] = map[string]any{
			"hits":     hits,
			"misses":   misses,
			"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
			"breaker":  h.opts.Cache.BreakerState().String(),
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	deleted, err := h.opts.Cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "cache invalidation failed"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError answers with the status HTTPStatusCode assigns to err. An
// AppError contributes only its message, leaving internals out of the body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": message})
}
