package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/metrics"
)

// Logging writes one line when a request arrives and one when it finishes.
// Handlers further down inherit method and path in their log context.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			logg.Info(ctx, "request.start")

			status, elapsed := observe(next, w, r.WithContext(ctx))

			logg.Info(logg.WithFields(ctx, map[string]any{
				"status":      status,
				"duration_ms": elapsed.Milliseconds(),
			}), "request.complete")
		})
	}
}

// Metrics records each request under its chi route pattern so path
// parameters do not explode label cardinality.
func Metrics(recorder *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			status, elapsed := observe(next, w, r)
			var route string
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
			}
			recorder.Observe(route, r.Method, status, elapsed)
		})
	}
}

// observe runs next and reports the status it wrote and how long it took.
func observe(next http.Handler, w http.ResponseWriter, r *http.Request) (int, time.Duration) {
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	next.ServeHTTP(sw, r)
	return sw.status, time.Since(start)
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusWriter) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}
