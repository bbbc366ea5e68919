package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

// UploadSessionRepository implements repository.UploadSessionRepository for SQLite.
type UploadSessionRepository struct {
	db *sql.DB
}

// NewUploadSessionRepository creates a new SQLite upload session repository.
func NewUploadSessionRepository(db *sql.DB) *UploadSessionRepository {
	return &UploadSessionRepository{db: db}
}

const uploadSessionColumns = `
	session_id, filename, total_size, total_chunks, received_chunks, received_bytes,
	status, temp_path, fingerprint, destination_path, skipped, device_id,
	created_at, updated_at, completed_at, error_message, retry_count`

func scanUploadSession(row rowScanner) (*models.UploadSession, error) {
	var (
		s                                  models.UploadSession
		receivedChunks, status             string
		createdAt, updatedAt               string
		fingerprint, destination, errorMsg sql.NullString
		completedAt                        sql.NullString
	)

	err := row.Scan(
		&s.SessionID,
		&s.Filename,
		&s.TotalSize,
		&s.TotalChunks,
		&receivedChunks,
		&s.ReceivedBytes,
		&status,
		&s.TempPath,
		&fingerprint,
		&destination,
		&s.Skipped,
		&s.DeviceID,
		&createdAt,
		&updatedAt,
		&completedAt,
		&errorMsg,
		&s.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	s.Status = models.SessionStatus(status)
	s.Fingerprint = nullableString(fingerprint)
	s.DestinationPath = nullableString(destination)
	s.ErrorMessage = nullableString(errorMsg)

	if s.ReceivedChunks, err = decodeIndices(receivedChunks); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if s.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}

	return &s, nil
}

// Create inserts a new upload session.
func (r *UploadSessionRepository) Create(ctx context.Context, s *models.UploadSession) error {
	if s == nil {
		return fmt.Errorf("session cannot be nil: %w", repository.ErrInvalidInput)
	}
	if s.SessionID == "" {
		return fmt.Errorf("session_id cannot be empty: %w", repository.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	if s.Status == "" {
		s.Status = models.SessionInProgress
	}
	if s.ReceivedChunks == nil {
		s.ReceivedChunks = []int{}
	}

	chunks, err := encodeIndices(s.ReceivedChunks)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO upload_sessions (
			session_id, filename, total_size, total_chunks, received_chunks, received_bytes,
			status, temp_path, device_id, created_at, updated_at, retry_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return withBusyRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query,
			s.SessionID,
			s.Filename,
			s.TotalSize,
			s.TotalChunks,
			chunks,
			s.ReceivedBytes,
			string(s.Status),
			s.TempPath,
			s.DeviceID,
			formatTime(s.CreatedAt),
			formatTime(s.UpdatedAt),
			s.RetryCount,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrDuplicateKey
			}
			return fmt.Errorf("failed to create upload session: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a session. Returns nil, nil if not found.
func (r *UploadSessionRepository) GetByID(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	query := `SELECT ` + uploadSessionColumns + ` FROM upload_sessions WHERE session_id = ?`

	s, err := scanUploadSession(r.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	return s, nil
}

// AddChunk records a received chunk within one IMMEDIATE transaction.
func (r *UploadSessionRepository) AddChunk(ctx context.Context, sessionID string, index int, size int64) (bool, *models.UploadSession, error) {
	var (
		added   bool
		session *models.UploadSession
	)

	err := withBusyRetry(ctx, func() error {
		var err error
		added, session, err = r.addChunkOnce(ctx, sessionID, index, size)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return added, session, nil
}

func (r *UploadSessionRepository) addChunkOnce(ctx context.Context, sessionID string, index int, size int64) (bool, *models.UploadSession, error) {
	tx, err := beginImmediateTx(ctx, r.db)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Warn("failed to rollback transaction", "error", err)
		}
	}()

	selectQuery := `SELECT ` + uploadSessionColumns + ` FROM upload_sessions WHERE session_id = ?`
	session, err := scanUploadSession(tx.QueryRowContext(ctx, selectQuery, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, repository.ErrNotFound
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to load upload session: %w", err)
	}

	if session.HasChunk(index) {
		return false, session, tx.Commit()
	}

	indices := append(session.ReceivedChunks, index)
	sort.Ints(indices)
	encoded, err := encodeIndices(indices)
	if err != nil {
		return false, nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE upload_sessions
		SET received_chunks = ?, received_bytes = received_bytes + ?, updated_at = ?
		WHERE session_id = ?
	`, encoded, size, formatTime(now), sessionID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to record chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("failed to commit chunk: %w", err)
	}

	session.ReceivedChunks = indices
	session.ReceivedBytes += size
	session.UpdatedAt, _ = parseTime(formatTime(now))
	return true, session, nil
}

// SetChunks overwrites the received indices and byte counter.
func (r *UploadSessionRepository) SetChunks(ctx context.Context, sessionID string, indices []int, receivedBytes int64) error {
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	encoded, err := encodeIndices(sorted)
	if err != nil {
		return err
	}

	return withBusyRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, `
			UPDATE upload_sessions
			SET received_chunks = ?, received_bytes = ?, updated_at = ?
			WHERE session_id = ?
		`, encoded, receivedBytes, formatTime(time.Now()), sessionID)
		if err != nil {
			return fmt.Errorf("failed to set chunks: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

// UpdateStatus transitions the session to status.
func (r *UploadSessionRepository) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage *string) error {
	return withBusyRetry(ctx, func() error {
		tx, err := beginImmediateTx(ctx, r.db)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		var current string
		err = tx.QueryRowContext(ctx, `SELECT status FROM upload_sessions WHERE session_id = ?`, sessionID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read session status: %w", err)
		}

		if !models.SessionStatus(current).CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, current, status)
		}

		now := formatTime(time.Now())
		var completedAt any
		if status == models.SessionCompleted {
			completedAt = now
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE upload_sessions
			SET status = ?, error_message = COALESCE(?, error_message), updated_at = ?,
				completed_at = COALESCE(?, completed_at)
			WHERE session_id = ?
		`, string(status), errorMessage, now, completedAt, sessionID)
		if err != nil {
			return fmt.Errorf("failed to update session status: %w", err)
		}

		return tx.Commit()
	})
}

// MarkCompleted marks an in_progress session completed with its ingestion result.
func (r *UploadSessionRepository) MarkCompleted(ctx context.Context, sessionID, fingerprint, destination string, skipped bool) error {
	return withBusyRetry(ctx, func() error {
		now := formatTime(time.Now())
		result, err := r.db.ExecContext(ctx, `
			UPDATE upload_sessions
			SET status = 'completed', fingerprint = ?, destination_path = ?, skipped = ?,
				completed_at = ?, updated_at = ?, error_message = NULL
			WHERE session_id = ? AND status = 'in_progress'
		`, fingerprint, destination, skipped, now, now, sessionID)
		if err != nil {
			return fmt.Errorf("failed to mark session completed: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return r.missingOrTerminal(ctx, sessionID)
		}
		return nil
	})
}

// MarkFailed marks a non-completed session failed and increments its retry count.
func (r *UploadSessionRepository) MarkFailed(ctx context.Context, sessionID, errorMessage string) error {
	return withBusyRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, `
			UPDATE upload_sessions
			SET status = 'failed', error_message = ?, retry_count = retry_count + 1, updated_at = ?
			WHERE session_id = ? AND status <> 'completed'
		`, errorMessage, formatTime(time.Now()), sessionID)
		if err != nil {
			return fmt.Errorf("failed to mark session failed: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return r.missingOrTerminal(ctx, sessionID)
		}
		return nil
	})
}

func (r *UploadSessionRepository) missingOrTerminal(ctx context.Context, sessionID string) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM upload_sessions WHERE session_id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read session status: %w", err)
	}
	return fmt.Errorf("%w: session is %s", repository.ErrInvalidTransition, status)
}

// ListByStatus returns sessions in any of the given statuses, oldest update first.
func (r *UploadSessionRepository) ListByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]models.UploadSession, error) {
	if len(statuses) == 0 {
		return []models.UploadSession{}, nil
	}

	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	query := `SELECT ` + uploadSessionColumns + ` FROM upload_sessions
		WHERE status IN (` + placeholders(len(statuses)) + `)
		ORDER BY updated_at ASC`

	return r.query(ctx, query, args...)
}

// ListStale returns in_progress and paused sessions not updated since cutoff.
func (r *UploadSessionRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error) {
	query := `SELECT ` + uploadSessionColumns + ` FROM upload_sessions
		WHERE status IN ('in_progress', 'paused') AND updated_at < ?
		ORDER BY updated_at ASC`

	return r.query(ctx, query, formatTime(cutoff))
}

func (r *UploadSessionRepository) query(ctx context.Context, query string, args ...any) ([]models.UploadSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query upload sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.UploadSession{}
	for rows.Next() {
		s, err := scanUploadSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upload sessions: %w", err)
	}
	return sessions, nil
}

// DeleteTerminalBefore removes completed and failed sessions last updated before cutoff.
func (r *UploadSessionRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withBusyRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, `
			DELETE FROM upload_sessions
			WHERE status IN ('completed', 'failed') AND updated_at < ?
		`, formatTime(cutoff))
		if err != nil {
			return fmt.Errorf("failed to delete terminal sessions: %w", err)
		}
		deleted, _ = result.RowsAffected()
		return nil
	})
	return deleted, err
}

// Delete removes a session row. Deleting a missing session is not an error.
func (r *UploadSessionRepository) Delete(ctx context.Context, sessionID string) error {
	return withBusyRetry(ctx, func() error {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("failed to delete upload session: %w", err)
		}
		return nil
	})
}

// CountActive returns the number of in_progress and paused sessions.
func (r *UploadSessionRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_sessions WHERE status IN ('in_progress', 'paused')`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}
