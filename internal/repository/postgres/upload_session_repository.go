package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/jackc/pgx/v5"
)

// UploadSessionRepository implements repository.UploadSessionRepository for PostgreSQL.
type UploadSessionRepository struct {
	pool *Pool
}

// NewUploadSessionRepository creates a new PostgreSQL upload session repository.
func NewUploadSessionRepository(pool *Pool) *UploadSessionRepository {
	return &UploadSessionRepository{pool: pool}
}

const uploadSessionColumns = `
	session_id, filename, total_size, total_chunks, received_chunks, received_bytes,
	status, temp_path, fingerprint, destination_path, skipped, device_id,
	created_at, updated_at, completed_at, error_message, retry_count`

func scanUploadSession(row pgx.Row) (*models.UploadSession, error) {
	var (
		s           models.UploadSession
		chunks      []int32
		status      string
		completedAt *time.Time
	)

	err := row.Scan(
		&s.SessionID,
		&s.Filename,
		&s.TotalSize,
		&s.TotalChunks,
		&chunks,
		&s.ReceivedBytes,
		&status,
		&s.TempPath,
		&s.Fingerprint,
		&s.DestinationPath,
		&s.Skipped,
		&s.DeviceID,
		&s.CreatedAt,
		&s.UpdatedAt,
		&completedAt,
		&s.ErrorMessage,
		&s.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	s.Status = models.SessionStatus(status)
	s.ReceivedChunks = fromInt32(chunks)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	s.CompletedAt = utcPtr(completedAt)
	return &s, nil
}

func toInt32(indices []int) []int32 {
	out := make([]int32, len(indices))
	for i, v := range indices {
		out[i] = int32(v)
	}
	return out
}

func fromInt32(indices []int32) []int {
	out := make([]int, len(indices))
	for i, v := range indices {
		out[i] = int(v)
	}
	return out
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

	_, err := r.pool.Exec(ctx, `
		INSERT INTO upload_sessions (
			session_id, filename, total_size, total_chunks, received_chunks, received_bytes,
			status, temp_path, device_id, created_at, updated_at, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		s.SessionID,
		s.Filename,
		s.TotalSize,
		s.TotalChunks,
		toInt32(s.ReceivedChunks),
		s.ReceivedBytes,
		string(s.Status),
		s.TempPath,
		s.DeviceID,
		s.CreatedAt,
		s.UpdatedAt,
		s.RetryCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create upload session: %w", err)
	}
	return nil
}

// GetByID retrieves a session. Returns nil, nil if not found.
func (r *UploadSessionRepository) GetByID(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	query := `SELECT ` + uploadSessionColumns + ` FROM upload_sessions WHERE session_id = $1`

	s, err := scanUploadSession(r.pool.QueryRow(ctx, query, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	return s, nil
}

type addChunkResult struct {
	added   bool
	session *models.UploadSession
}

// AddChunk records a received chunk under a row lock in a serializable transaction.
func (r *UploadSessionRepository) AddChunk(ctx context.Context, sessionID string, index int, size int64) (bool, *models.UploadSession, error) {
	res, err := withRetry(ctx, defaultMaxRetries, func() (addChunkResult, error) {
		tx, err := r.pool.BeginTx(ctx, TxOptions())
		if err != nil {
			return addChunkResult{}, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		query := `SELECT ` + uploadSessionColumns + ` FROM upload_sessions WHERE session_id = $1 FOR UPDATE`
		session, err := scanUploadSession(tx.QueryRow(ctx, query, sessionID))
		if errors.Is(err, pgx.ErrNoRows) {
			return addChunkResult{}, repository.ErrNotFound
		}
		if err != nil {
			return addChunkResult{}, fmt.Errorf("failed to load upload session: %w", err)
		}

		if session.HasChunk(index) {
			return addChunkResult{session: session}, tx.Commit(ctx)
		}

		indices := append(session.ReceivedChunks, index)
		sort.Ints(indices)
		now := time.Now().UTC()

		_, err = tx.Exec(ctx, `
			UPDATE upload_sessions
			SET received_chunks = $1, received_bytes = received_bytes + $2, updated_at = $3
			WHERE session_id = $4
		`, toInt32(indices), size, now, sessionID)
		if err != nil {
			return addChunkResult{}, fmt.Errorf("failed to record chunk: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return addChunkResult{}, err
		}

		session.ReceivedChunks = indices
		session.ReceivedBytes += size
		session.UpdatedAt = now
		return addChunkResult{added: true, session: session}, nil
	})
	if err != nil {
		return false, nil, err
	}
	return res.added, res.session, nil
}

// SetChunks overwrites the received indices and byte counter.
func (r *UploadSessionRepository) SetChunks(ctx context.Context, sessionID string, indices []int, receivedBytes int64) error {
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)

	tag, err := r.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET received_chunks = $1, received_bytes = $2, updated_at = $3
		WHERE session_id = $4
	`, toInt32(sorted), receivedBytes, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to set chunks: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStatus transitions the session to status.
func (r *UploadSessionRepository) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage *string) error {
	return withRetryNoReturn(ctx, defaultMaxRetries, func() error {
		tx, err := r.pool.BeginTx(ctx, TxOptions())
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		var current string
		err = tx.QueryRow(ctx, `SELECT status FROM upload_sessions WHERE session_id = $1 FOR UPDATE`, sessionID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read session status: %w", err)
		}

		if !models.SessionStatus(current).CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, current, status)
		}

		now := time.Now().UTC()
		var completedAt *time.Time
		if status == models.SessionCompleted {
			completedAt = &now
		}

		_, err = tx.Exec(ctx, `
			UPDATE upload_sessions
			SET status = $1, error_message = COALESCE($2, error_message), updated_at = $3,
				completed_at = COALESCE($4, completed_at)
			WHERE session_id = $5
		`, string(status), errorMessage, now, completedAt, sessionID)
		if err != nil {
			return fmt.Errorf("failed to update session status: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// MarkCompleted marks an in_progress session completed with its ingestion result.
func (r *UploadSessionRepository) MarkCompleted(ctx context.Context, sessionID, fingerprint, destination string, skipped bool) error {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET status = 'completed', fingerprint = $1, destination_path = $2, skipped = $3,
			completed_at = $4, updated_at = $4, error_message = NULL
		WHERE session_id = $5 AND status = 'in_progress'
	`, fingerprint, destination, skipped, now, sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrTerminal(ctx, sessionID)
	}
	return nil
}

// MarkFailed marks a non-completed session failed and increments its retry count.
func (r *UploadSessionRepository) MarkFailed(ctx context.Context, sessionID, errorMessage string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET status = 'failed', error_message = $1, retry_count = retry_count + 1, updated_at = $2
		WHERE session_id = $3 AND status <> 'completed'
	`, errorMessage, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrTerminal(ctx, sessionID)
	}
	return nil
}

func (r *UploadSessionRepository) missingOrTerminal(ctx context.Context, sessionID string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM upload_sessions WHERE session_id = $1`, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
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

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	return r.query(ctx, `SELECT `+uploadSessionColumns+` FROM upload_sessions
		WHERE status = ANY($1) ORDER BY updated_at ASC`, names)
}

// ListStale returns in_progress and paused sessions not updated since cutoff.
func (r *UploadSessionRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error) {
	return r.query(ctx, `SELECT `+uploadSessionColumns+` FROM upload_sessions
		WHERE status IN ('in_progress', 'paused') AND updated_at < $1
		ORDER BY updated_at ASC`, cutoff.UTC())
}

func (r *UploadSessionRepository) query(ctx context.Context, query string, args ...any) ([]models.UploadSession, error) {
	rows, err := r.pool.Query(ctx, query, args...)
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
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM upload_sessions
		WHERE status IN ('completed', 'failed') AND updated_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a session row. Deleting a missing session is not an error.
func (r *UploadSessionRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM upload_sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete upload session: %w", err)
	}
	return nil
}

// CountActive returns the number of in_progress and paused sessions.
func (r *UploadSessionRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM upload_sessions WHERE status IN ('in_progress', 'paused')`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}
