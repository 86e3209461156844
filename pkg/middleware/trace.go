package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/harishambati/fuzzyset/pkg/tracing"
)

// Trace opens a root span per request, keyed by the request ID, and logs the
// span tree when the request took at least threshold. It must run inside
// RequestID.
func Trace(threshold time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), r.Method+" "+r.URL.Path, GetRequestID(r.Context()))
			next.ServeHTTP(w, r.WithContext(ctx))
			span.End()
			if span.Duration >= threshold {
				span.Log(logger)
			}
		})
	}
}
