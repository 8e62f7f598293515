package middleware

import (
	"net/http"

	"github.com/cams-platform/cams/internal/logging"
)

// TracingMiddleware attaches a trace ID to every request. An incoming
// X-Trace-ID header is honoured so callers can correlate across services.
type TracingMiddleware struct{}

// NewTracingMiddleware creates the tracing middleware.
func NewTracingMiddleware() *TracingMiddleware {
	return &TracingMiddleware{}
}

// Handler returns the tracing middleware handler.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
