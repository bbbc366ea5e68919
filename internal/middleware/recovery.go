package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/fjmerc/mediavault/internal/metrics"
	"github.com/fjmerc/mediavault/internal/models"
)

// RecoveryMiddleware recovers from panics and returns a 500 error
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			// The server aborts the connection itself for this one
			if err == http.ErrAbortHandler {
				panic(err)
			}

			slog.Error("panic recovered",
				"error", err,
				"path", r.URL.Path,
				"method", r.Method,
				"stack", string(debug.Stack()),
			)
			metrics.ErrorsTotal.WithLabelValues("panic").Inc()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(models.ErrorResponse{
				Success: false,
				Error:   "Internal server error",
				Code:    "INTERNAL_ERROR",
			})
		}()

		next.ServeHTTP(w, r)
	})
}
