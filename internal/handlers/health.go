package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjmerc/mediavault/internal/config"
	"github.com/fjmerc/mediavault/internal/metrics"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/utils"
)

const (
	// Above this the archive filesystem is reported as degraded
	warningDiskUsedPercent = 90.0

	healthCheckTimeout = 5 * time.Second
)

// setHealthCacheHeaders keeps probes from being served out of a cache
func setHealthCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// HealthHandler handles GET /health
// The archive is unhealthy when the database cannot be reached, and degraded
// when queries are slow or free space falls below MIN_FREE_SPACE_MB.
func HealthHandler(repos *repository.Repositories, cfg *config.Config, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			setHealthCacheHeaders(w)
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		response := checkHealth(ctx, repos, cfg, startTime)

		metrics.HealthChecksTotal.WithLabelValues(response.Status).Inc()
		updateHealthStatusGauge(response.Status)

		httpCode := http.StatusOK
		if response.Status == string(repository.HealthStatusUnhealthy) {
			httpCode = http.StatusServiceUnavailable
		}

		setHealthCacheHeaders(w)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpCode)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			slog.Error("failed to encode health response", "error", err)
		}
	}
}

func checkHealth(ctx context.Context, repos *repository.Repositories, cfg *config.Config, startTime time.Time) *models.HealthResponse {
	response := &models.HealthResponse{
		Status:            string(repository.HealthStatusHealthy),
		UptimeSeconds:     int64(time.Since(startTime).Seconds()),
		DatabaseType:      repos.DatabaseType,
		EncryptionEnabled: cfg.EncryptionEnabled,
		FingerprintMode:   cfg.FingerprintMode,
	}

	dbHealth, err := repos.Health.CheckHealth(ctx)
	if err != nil {
		slog.Error("database health check failed", "error", err)
		response.Status = string(repository.HealthStatusUnhealthy)
		return response
	}
	if dbHealth.Status == repository.HealthStatusUnhealthy {
		slog.Error("database unhealthy", "message", dbHealth.Message)
		response.Status = string(repository.HealthStatusUnhealthy)
		return response
	}
	degraded := dbHealth.Status == repository.HealthStatusDegraded

	if stats, err := repos.Files.Stats(ctx); err != nil {
		slog.Error("failed to get archive stats", "error", err)
		degraded = true
	} else {
		response.TotalFiles = stats.TotalFiles
		response.ArchiveBytes = stats.TotalBytes
	}

	if active, err := repos.Sessions.CountActive(ctx); err != nil {
		slog.Error("failed to count active sessions", "error", err)
		degraded = true
	} else {
		response.ActiveSessions = active
	}

	diskInfo, err := utils.GetDiskSpace(cfg.ArchiveDir)
	if err != nil {
		slog.Error("failed to get disk space", "path", cfg.ArchiveDir, "error", err)
		degraded = true
	} else {
		response.DiskFreeBytes = diskInfo.AvailableBytes
		response.DiskTotalBytes = diskInfo.TotalBytes
		response.DiskUsedPercent = diskInfo.UsedPercent

		minFree := uint64(cfg.MinFreeSpaceMB) * 1024 * 1024
		if diskInfo.AvailableBytes < minFree {
			slog.Warn("archive disk space low",
				"available", utils.FormatBytes(diskInfo.AvailableBytes),
				"minimum", utils.FormatBytes(minFree),
			)
			degraded = true
		}
		if diskInfo.UsedPercent > warningDiskUsedPercent {
			degraded = true
		}
	}

	if degraded {
		response.Status = string(repository.HealthStatusDegraded)
	}
	return response
}

// updateHealthStatusGauge maps the status string onto the health gauge
func updateHealthStatusGauge(status string) {
	switch repository.HealthStatus(status) {
	case repository.HealthStatusHealthy:
		metrics.HealthStatus.Set(2)
	case repository.HealthStatusDegraded:
		metrics.HealthStatus.Set(1)
	default:
		metrics.HealthStatus.Set(0)
	}
}
