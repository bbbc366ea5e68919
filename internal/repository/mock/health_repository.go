package mock

import (
	"context"

	"github.com/fjmerc/mediavault/internal/repository"
)

// HealthRepository reports a fixed health status.
type HealthRepository struct {
	PingError error
	Status    repository.HealthStatus
}

// NewHealthRepository returns a healthy mock.
func NewHealthRepository() *HealthRepository {
	return &HealthRepository{Status: repository.HealthStatusHealthy}
}

var _ repository.HealthRepository = (*HealthRepository)(nil)

// Ping returns PingError.
func (r *HealthRepository) Ping(ctx context.Context) error {
	return r.PingError
}

// CheckHealth reports Status, or unhealthy when PingError is set.
func (r *HealthRepository) CheckHealth(ctx context.Context) (*repository.ComponentHealth, error) {
	h := &repository.ComponentHealth{Name: "mock", Status: r.Status}
	if r.PingError != nil {
		h.Status = repository.HealthStatusUnhealthy
		h.Message = r.PingError.Error()
		return h, r.PingError
	}
	return h, nil
}

// NewRepositories bundles fresh in-memory repositories.
func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		Files:        NewFileRecordRepository(),
		Sessions:     NewUploadSessionRepository(),
		Syncs:        NewSyncRecordRepository(),
		Health:       NewHealthRepository(),
		DatabaseType: "mock",
	}
}
