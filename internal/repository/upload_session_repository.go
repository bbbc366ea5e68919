package repository

import (
	"context"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
)

// UploadSessionRepository persists chunked transfer sessions.
// It is the only source of truth for session state.
type UploadSessionRepository interface {
	// Create inserts a new session.
	// Returns ErrDuplicateKey if the session id already exists.
	Create(ctx context.Context, session *models.UploadSession) error

	// GetByID retrieves a session.
	// Returns nil, nil if not found.
	GetByID(ctx context.Context, sessionID string) (*models.UploadSession, error)

	// AddChunk records chunk index as received and adds size to the byte counter,
	// in one transaction. Recording an index twice leaves the session unchanged and
	// returns added=false. Returns the session as stored after the call.
	AddChunk(ctx context.Context, sessionID string, index int, size int64) (added bool, session *models.UploadSession, err error)

	// SetChunks overwrites the received indices and byte counter.
	SetChunks(ctx context.Context, sessionID string, indices []int, receivedBytes int64) error

	// UpdateStatus moves the session to status, storing errorMessage when non-nil.
	// Returns ErrInvalidTransition if the current status cannot move to status,
	// ErrNotFound if the session doesn't exist.
	UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage *string) error

	// MarkCompleted marks an in_progress session completed with the ingestion result.
	// A paused session returns ErrInvalidTransition.
	MarkCompleted(ctx context.Context, sessionID, fingerprint, destination string, skipped bool) error

	// MarkFailed marks the session failed, records errorMessage and increments retry_count.
	MarkFailed(ctx context.Context, sessionID, errorMessage string) error

	// ListByStatus returns sessions in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]models.UploadSession, error)

	// ListStale returns non-terminal sessions last updated before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error)

	// DeleteTerminalBefore removes completed and failed sessions updated before cutoff.
	// Returns the number of rows removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Delete removes a session row.
	Delete(ctx context.Context, sessionID string) error

	// CountActive returns the number of in_progress and paused sessions.
	CountActive(ctx context.Context) (int, error)
}
