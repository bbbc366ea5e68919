package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	metrics := []prometheus.Collector{
		ChunksReceivedTotal,
		UploadSessionsTotal,
		IngestFilesTotal,
		IngestBytesTotal,
		SyncRunsTotal,
		MirrorUploadsTotal,
		HTTPRequestsTotal,
		ErrorsTotal,
		HTTPRequestDuration,
		IngestDuration,
		IngestSizeBytes,
		HealthStatus,
		HealthChecksTotal,
	}

	for _, metric := range metrics {
		if metric == nil {
			t.Error("Metric is nil")
		}
	}
}

func TestIngestFilesTotal(t *testing.T) {
	// Counters are cumulative across tests; compare against the starting value
	initialIngested := testutil.ToFloat64(IngestFilesTotal.WithLabelValues("local_cable", "ingested"))
	initialSkipped := testutil.ToFloat64(IngestFilesTotal.WithLabelValues("network_upload", "skipped"))

	IngestFilesTotal.WithLabelValues("local_cable", "ingested").Inc()
	IngestFilesTotal.WithLabelValues("local_cable", "ingested").Inc()
	IngestFilesTotal.WithLabelValues("network_upload", "skipped").Inc()

	if got := testutil.ToFloat64(IngestFilesTotal.WithLabelValues("local_cable", "ingested")); got < initialIngested+2 {
		t.Errorf("ingested = %f, want at least %f", got, initialIngested+2)
	}
	if got := testutil.ToFloat64(IngestFilesTotal.WithLabelValues("network_upload", "skipped")); got < initialSkipped+1 {
		t.Errorf("skipped = %f, want at least %f", got, initialSkipped+1)
	}
}

func TestChunksReceivedTotal(t *testing.T) {
	initial := testutil.ToFloat64(ChunksReceivedTotal.WithLabelValues("duplicate"))
	ChunksReceivedTotal.WithLabelValues("duplicate").Inc()
	if got := testutil.ToFloat64(ChunksReceivedTotal.WithLabelValues("duplicate")); got != initial+1 {
		t.Errorf("duplicate chunks = %f, want %f", got, initial+1)
	}
}

func TestIngestSizeBytes(t *testing.T) {
	IngestSizeBytes.Observe(2048)
	IngestSizeBytes.Observe(50 * 1024 * 1024)

	if count := testutil.CollectAndCount(IngestSizeBytes); count != 1 {
		t.Errorf("expected 1 histogram, got %d", count)
	}
}

func TestHealthStatus(t *testing.T) {
	for _, v := range []float64{0, 1, 2} {
		HealthStatus.Set(v)
		if got := testutil.ToFloat64(HealthStatus); got != v {
			t.Errorf("HealthStatus = %f, want %f", got, v)
		}
	}
}
