package postgres

import (
	"context"
	"time"

	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthRepository implements health checks for PostgreSQL databases.
type HealthRepository struct {
	pool *pgxpool.Pool
}

// NewHealthRepository creates a new PostgreSQL health repository.
func NewHealthRepository(pool *pgxpool.Pool) *HealthRepository {
	return &HealthRepository{pool: pool}
}

// Ping performs a basic connectivity check to the database.
// For PostgreSQL, this pings the connection pool.
func (r *HealthRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CheckHealth runs SELECT 1 and classifies its latency.
func (r *HealthRepository) CheckHealth(ctx context.Context) (*repository.ComponentHealth, error) {
	start := time.Now()
	health := &repository.ComponentHealth{Name: repository.DatabaseTypePostgreSQL}

	var result int
	err := r.pool.QueryRow(ctx, "SELECT 1").Scan(&result)
	health.Latency = time.Since(start)

	if err != nil {
		health.Status = repository.HealthStatusUnhealthy
		health.Message = "database query failed: " + err.Error()
		return health, err
	}

	if result != 1 {
		health.Status = repository.HealthStatusUnhealthy
		health.Message = "unexpected query result"
		return health, nil
	}

	health.Status = repository.ClassifyLatency(health.Latency)
	if health.Status == repository.HealthStatusDegraded {
		health.Message = "high query latency"
	}
	return health, nil
}
