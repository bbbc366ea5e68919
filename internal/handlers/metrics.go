package handlers

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fjmerc/mediavault/internal/metrics"
)

// MetricsHandler returns the Prometheus endpoint. The database collector is
// registered on the default registry, so call this once per process.
func MetricsHandler(db *sql.DB) http.Handler {
	prometheus.MustRegister(metrics.NewDatabaseMetricsCollector(db))
	return promhttp.Handler()
}
