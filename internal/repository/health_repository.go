package repository

import (
	"context"
	"time"
)

// HealthStatus represents the overall health state.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Latency time.Duration `json:"latency_ms,omitempty"`
	Message string        `json:"message,omitempty"`
}

// HealthRepository provides health check operations for the database.
type HealthRepository interface {
	// Ping performs a basic connectivity check to the database.
	Ping(ctx context.Context) error

	// CheckHealth runs a trivial query and classifies its latency.
	CheckHealth(ctx context.Context) (*ComponentHealth, error)
}

// slowQueryThreshold marks a database as degraded.
const slowQueryThreshold = 100 * time.Millisecond

// ClassifyLatency returns the health status for a successful probe of the given latency.
func ClassifyLatency(latency time.Duration) HealthStatus {
	if latency > slowQueryThreshold {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
