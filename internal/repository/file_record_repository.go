package repository

import (
	"context"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
)

// FileRecordRepository defines the data access operations for archived files.
// All methods accept a context for cancellation and timeout support.
type FileRecordRepository interface {
	// Create inserts a new record. The record.ID field is populated on success.
	// Returns ErrDuplicateKey if the fingerprint is already present.
	Create(ctx context.Context, record *models.FileRecord) error

	// GetByID retrieves a record by its database ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetByID(ctx context.Context, id int64) (*models.FileRecord, error)

	// GetByFingerprint retrieves the record holding a fingerprint.
	// Returns nil, nil if not found.
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.FileRecord, error)

	// List returns records matching the filter, newest capture first.
	List(ctx context.Context, filter FileFilter) ([]models.FileRecord, error)

	// UpdateLastVerified stamps a successful integrity verification.
	UpdateLastVerified(ctx context.Context, id int64, verifiedAt time.Time) error

	// Delete removes a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	Delete(ctx context.Context, id int64) error

	// Count returns the number of archived files.
	Count(ctx context.Context) (int, error)

	// Stats aggregates archive statistics.
	Stats(ctx context.Context) (*models.ArchiveStats, error)
}
