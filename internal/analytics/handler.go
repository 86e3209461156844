package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Handler serves the aggregate match analytics.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats writes the current aggregate. The optional top parameter trims the
// ranked query and value lists to at most that many entries.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.aggregator.Stats()
	status := http.StatusOK
	var body any = stats
	if s := r.URL.Query().Get("top"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			status = http.StatusBadRequest
			body = map[string]string{"error": "top must be a non-negative integer"}
		} else {
			stats.TopQueries = truncate(stats.TopQueries, n)
			stats.NoMatchQueries = truncate(stats.NoMatchQueries, n)
			stats.TopValues = truncate(stats.TopValues, n)
			body = stats
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}

func truncate(counts []QueryCount, n int) []QueryCount {
	if len(counts) > n {
		return counts[:n]
	}
	return counts
}
