package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/jackc/pgx/v5"
)

// SyncRecordRepository implements repository.SyncRecordRepository for PostgreSQL.
type SyncRecordRepository struct {
	pool *Pool
}

// NewSyncRecordRepository creates a new PostgreSQL sync record repository.
func NewSyncRecordRepository(pool *Pool) *SyncRecordRepository {
	return &SyncRecordRepository{pool: pool}
}

const syncRecordColumns = `
	id, run_id, kind, status, outcome, files_processed, files_ingested, files_skipped,
	files_failed, bytes_processed, started_at, ended_at, duration_ms, device_id,
	destination_root, error_message, failed_files`

func scanSyncRecord(row pgx.Row) (*models.SyncRecord, error) {
	var (
		rec          models.SyncRecord
		kind, status string
		outcome      *string
		endedAt      *time.Time
		durationMS   int64
	)

	err := row.Scan(
		&rec.ID,
		&rec.RunID,
		&kind,
		&status,
		&outcome,
		&rec.FilesProcessed,
		&rec.FilesIngested,
		&rec.FilesSkipped,
		&rec.FilesFailed,
		&rec.BytesProcessed,
		&rec.StartedAt,
		&endedAt,
		&durationMS,
		&rec.DeviceID,
		&rec.DestinationRoot,
		&rec.ErrorMessage,
		&rec.FailedFiles,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = models.SyncKind(kind)
	rec.Status = models.SyncStatus(status)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.StartedAt = rec.StartedAt.UTC()
	rec.EndedAt = utcPtr(endedAt)
	if outcome != nil {
		o := models.RunOutcome(*outcome)
		rec.Outcome = &o
	}
	return &rec, nil
}

func failedFilesValue(files []models.FailedFile) []models.FailedFile {
	if files == nil {
		return []models.FailedFile{}
	}
	return files
}

func outcomeValue(o *models.RunOutcome) *string {
	if o == nil {
		return nil
	}
	s := string(*o)
	return &s
}

// Create inserts a run record at the start of a bulk run.
func (r *SyncRecordRepository) Create(ctx context.Context, rec *models.SyncRecord) error {
	if rec == nil || rec.RunID == "" {
		return fmt.Errorf("run_id cannot be empty: %w", repository.ErrInvalidInput)
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = models.SyncInProgress
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO sync_records (
			run_id, kind, status, outcome, files_processed, files_ingested, files_skipped,
			files_failed, bytes_processed, started_at, ended_at, duration_ms, device_id,
			destination_root, error_message, failed_files
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`,
		rec.RunID,
		string(rec.Kind),
		string(rec.Status),
		outcomeValue(rec.Outcome),
		rec.FilesProcessed,
		rec.FilesIngested,
		rec.FilesSkipped,
		rec.FilesFailed,
		rec.BytesProcessed,
		rec.StartedAt.UTC(),
		nullableTime(rec.EndedAt),
		rec.Duration.Milliseconds(),
		rec.DeviceID,
		rec.DestinationRoot,
		rec.ErrorMessage,
		failedFilesValue(rec.FailedFiles),
	).Scan(&rec.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create sync record: %w", err)
	}
	return nil
}

// Finish stores the final state of a run.
func (r *SyncRecordRepository) Finish(ctx context.Context, rec *models.SyncRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil: %w", repository.ErrInvalidInput)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE sync_records
		SET status = $1, outcome = $2, files_processed = $3, files_ingested = $4,
			files_skipped = $5, files_failed = $6, bytes_processed = $7, ended_at = $8,
			duration_ms = $9, error_message = $10, failed_files = $11
		WHERE id = $12
	`,
		string(rec.Status),
		outcomeValue(rec.Outcome),
		rec.FilesProcessed,
		rec.FilesIngested,
		rec.FilesSkipped,
		rec.FilesFailed,
		rec.BytesProcessed,
		nullableTime(rec.EndedAt),
		rec.Duration.Milliseconds(),
		rec.ErrorMessage,
		failedFilesValue(rec.FailedFiles),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sync record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetByID retrieves a run record.
func (r *SyncRecordRepository) GetByID(ctx context.Context, id int64) (*models.SyncRecord, error) {
	rec, err := scanSyncRecord(r.pool.QueryRow(ctx,
		`SELECT `+syncRecordColumns+` FROM sync_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}
	return rec, nil
}

// ListRecent returns up to limit runs, newest first.
func (r *SyncRecordRepository) ListRecent(ctx context.Context, limit int) ([]models.SyncRecord, error) {
	if limit <= 0 {
		limit = repository.DefaultPagination().Limit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+syncRecordColumns+` FROM sync_records ORDER BY started_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}
	defer rows.Close()

	records := []models.SyncRecord{}
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync records: %w", err)
	}
	return records, nil
}

// Stats aggregates run history.
func (r *SyncRecordRepository) Stats(ctx context.Context) (*models.SyncStats, error) {
	stats := &models.SyncStats{}
	var lastRun *time.Time

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'partial'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COALESCE(SUM(files_ingested), 0)::BIGINT,
			COALESCE(SUM(bytes_processed), 0)::BIGINT,
			MAX(started_at)
		FROM sync_records
	`).Scan(
		&stats.TotalRuns,
		&stats.SuccessfulRuns,
		&stats.PartialRuns,
		&stats.FailedRuns,
		&stats.TotalFilesIngested,
		&stats.TotalBytes,
		&lastRun,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync stats: %w", err)
	}

	stats.LastRunAt = utcPtr(lastRun)
	return stats, nil
}
