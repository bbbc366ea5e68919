package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// collectTimeout bounds the queries of one scrape.
const collectTimeout = 5 * time.Second

// DatabaseMetricsCollector collects metrics from the database on each scrape
type DatabaseMetricsCollector struct {
	db *sql.DB

	// Metric descriptors
	archiveBytes      *prometheus.Desc
	archivedFiles     *prometheus.Desc
	unverifiedFiles   *prometheus.Desc
	activeSessions    *prometheus.Desc
	lastSyncTimestamp *prometheus.Desc
}

// NewDatabaseMetricsCollector creates a new collector. The queries are plain SQL
// understood by both SQLite and PostgreSQL.
func NewDatabaseMetricsCollector(db *sql.DB) *DatabaseMetricsCollector {
	return &DatabaseMetricsCollector{
		db: db,
		archiveBytes: prometheus.NewDesc(
			"mediavault_archive_bytes",
			"Total size of archived files in bytes",
			nil, nil,
		),
		archivedFiles: prometheus.NewDesc(
			"mediavault_archived_files",
			"Number of distinct files in the archive",
			nil, nil,
		),
		unverifiedFiles: prometheus.NewDesc(
			"mediavault_unverified_files",
			"Number of archived files never re-verified",
			nil, nil,
		),
		activeSessions: prometheus.NewDesc(
			"mediavault_active_upload_sessions",
			"Number of in_progress or paused upload sessions",
			nil, nil,
		),
		lastSyncTimestamp: prometheus.NewDesc(
			"mediavault_last_sync_timestamp_seconds",
			"Unix time of the most recent bulk run start (0 = never)",
			nil, nil,
		),
	}
}

// Describe sends metric descriptors to Prometheus
func (c *DatabaseMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.archiveBytes
	ch <- c.archivedFiles
	ch <- c.unverifiedFiles
	ch <- c.activeSessions
	ch <- c.lastSyncTimestamp
}

// Collect fetches current metrics from database and sends to Prometheus.
// Query errors are logged and reported as zero to avoid failing the scrape.
func (c *DatabaseMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	var archiveBytes, fileCount, unverified int64
	err := c.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(file_size), 0),
			COUNT(*),
			COALESCE(SUM(CASE WHEN last_verified IS NULL THEN 1 ELSE 0 END), 0)
		FROM file_records
	`).Scan(&archiveBytes, &fileCount, &unverified)
	if err != nil {
		slog.Error("failed to query archive metrics", "error", err)
		archiveBytes, fileCount, unverified = 0, 0, 0
	}

	var sessions int64
	err = c.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM upload_sessions
		WHERE status IN ('in_progress', 'paused')
	`).Scan(&sessions)
	if err != nil {
		slog.Error("failed to query upload session metrics", "error", err)
		sessions = 0
	}

	var lastSync float64
	var startedAt sql.NullString
	err = c.db.QueryRowContext(ctx, `SELECT MAX(started_at) FROM sync_records`).Scan(&startedAt)
	if err != nil {
		slog.Error("failed to query sync metrics", "error", err)
	} else if startedAt.Valid {
		if t, perr := time.Parse(time.RFC3339, startedAt.String); perr == nil {
			lastSync = float64(t.Unix())
		}
	}

	ch <- prometheus.MustNewConstMetric(c.archiveBytes, prometheus.GaugeValue, float64(archiveBytes))
	ch <- prometheus.MustNewConstMetric(c.archivedFiles, prometheus.GaugeValue, float64(fileCount))
	ch <- prometheus.MustNewConstMetric(c.unverifiedFiles, prometheus.GaugeValue, float64(unverified))
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(sessions))
	ch <- prometheus.MustNewConstMetric(c.lastSyncTimestamp, prometheus.GaugeValue, lastSync)
}
