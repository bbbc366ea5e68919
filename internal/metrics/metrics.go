package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// ChunksReceivedTotal counts upload chunks by result (stored, duplicate, rejected)
	ChunksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_upload_chunks_total",
			Help: "Total number of upload chunks received",
		},
		[]string{"result"},
	)

	// UploadSessionsTotal counts session lifecycle events (created, completed, failed, cancelled, expired)
	UploadSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_upload_sessions_total",
			Help: "Total number of upload session state changes",
		},
		[]string{"event"},
	)

	// IngestFilesTotal counts ingestion results by method and result (ingested, skipped, failed)
	IngestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_ingest_files_total",
			Help: "Total number of files offered to the ingestion pipeline",
		},
		[]string{"method", "result"},
	)

	// IngestBytesTotal counts bytes newly written to the archive
	IngestBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediavault_ingest_bytes_total",
			Help: "Total bytes written to the archive",
		},
	)

	// SyncRunsTotal counts bulk runs by outcome
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_sync_runs_total",
			Help: "Total number of bulk sync runs",
		},
		[]string{"outcome"},
	)

	// MirrorUploadsTotal counts off-site mirror uploads by status (success, failure)
	MirrorUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_mirror_uploads_total",
			Help: "Total number of off-site mirror uploads",
		},
		[]string{"status"},
	)

	// ArchiveVerificationsTotal counts archive re-verifications by result
	// (verified, missing, mismatch, error, repaired)
	ArchiveVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_archive_verifications_total",
			Help: "Total number of archived files re-verified against their fingerprint",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ErrorsTotal counts application errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_errors_total",
			Help: "Total number of application errors",
		},
		[]string{"type"},
	)
)

// Histogram metrics (distributions)
var (
	// HTTPRequestDuration tracks HTTP request latency by method and path
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediavault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// IngestDuration tracks time spent ingesting one new file
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediavault_ingest_duration_seconds",
			Help:    "Time to ingest one new file in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)

	// IngestSizeBytes tracks distribution of ingested file sizes
	IngestSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "mediavault_ingest_size_bytes",
			Help: "Distribution of ingested file sizes in bytes",
			Buckets: []float64{
				102400,      // 100 KB
				1048576,     // 1 MB
				10485760,    // 10 MB
				104857600,   // 100 MB
				1073741824,  // 1 GB
				10737418240, // 10 GB
			},
		},
	)
)

// Gauge metrics (current values) are defined in collector.go as they require database queries

// Health check metrics
var (
	// HealthStatus is a gauge representing current health status
	// Values: 0 = unhealthy, 1 = degraded, 2 = healthy
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediavault_health_status",
			Help: "Current health status (0=unhealthy, 1=degraded, 2=healthy)",
		},
	)

	// HealthChecksTotal counts total health check calls by status
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_health_checks_total",
			Help: "Total number of health checks performed",
		},
		[]string{"status"},
	)
)

// Webhook notification metrics
var (
	// WebhookEventsTotal counts events queued for delivery by type
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_webhook_events_total",
			Help: "Total number of webhook events queued",
		},
		[]string{"event_type"},
	)

	// WebhookDeliveriesTotal counts final delivery outcomes
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_webhook_deliveries_total",
			Help: "Total number of webhook deliveries by final status",
		},
		[]string{"event_type", "status"},
	)

	WebhookDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediavault_webhook_delivery_duration_seconds",
			Help:    "Webhook delivery latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"event_type"},
	)

	WebhookRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediavault_webhook_retries_total",
			Help: "Total number of scheduled webhook retries",
		},
		[]string{"event_type"},
	)

	WebhookQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediavault_webhook_queue_size",
			Help: "Current size of the webhook event queue",
		},
	)

	// WebhookDroppedEventsTotal counts events dropped on a full queue or during shutdown
	WebhookDroppedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediavault_webhook_dropped_events_total",
			Help: "Total number of webhook events dropped",
		},
	)
)
