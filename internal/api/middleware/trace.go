// Package middleware provides the HTTP middleware chain: trace IDs,
// request logging, Prometheus metrics and bearer-token authentication.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/api/shared"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/logger"
)

// NewTraceMiddleware returns middleware that assigns each request a trace
// ID and stores a request-scoped logger carrying it in the context.
// Handlers and downstream middleware retrieve the logger with
// logger.FromContext so every log line of a request shares its trace ID.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			log := base.With(slog.String("trace_id", shared.GetTraceID(ctx)))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
