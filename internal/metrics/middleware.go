package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP handlers with request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200 if WriteHeader not called
		}

		// Call next handler
		next.ServeHTTP(wrapped, r)

		// Record metrics
		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		method := r.Method
		status := strconv.Itoa(wrapped.statusCode)

		HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// normalizePath normalizes URL paths for metric labels to avoid cardinality explosion
// Replaces dynamic segments (session ids) with placeholders
func normalizePath(path string) string {
	switch path {
	case "/", "/health", "/metrics", "/upload/chunk", "/upload/session",
		"/api/sync", "/api/sync/stats", "/api/files", "/api/stats":
		return path
	}

	for _, prefix := range []string{
		"/upload/finalize/",
		"/upload/status/",
		"/upload/cancel/",
		"/upload/pause/",
		"/upload/resume/",
	} {
		if len(path) > len(prefix) && strings.HasPrefix(path, prefix) {
			return prefix + ":id"
		}
	}

	return "/other"
}
