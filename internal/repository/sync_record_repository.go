package repository

import (
	"context"

	"github.com/fjmerc/mediavault/internal/models"
)

// SyncRecordRepository persists bulk run history.
type SyncRecordRepository interface {
	// Create inserts a run at start. The record.ID field is populated on success.
	Create(ctx context.Context, record *models.SyncRecord) error

	// Finish stores the final counters, status, outcome and failed files of a run.
	Finish(ctx context.Context, record *models.SyncRecord) error

	// GetByID retrieves a run. Returns ErrNotFound if it doesn't exist.
	GetByID(ctx context.Context, id int64) (*models.SyncRecord, error)

	// ListRecent returns up to limit runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]models.SyncRecord, error)

	// Stats aggregates run history.
	Stats(ctx context.Context) (*models.SyncStats, error)
}
