package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

// SyncRecordRepository implements repository.SyncRecordRepository for SQLite.
type SyncRecordRepository struct {
	db *sql.DB
}

// NewSyncRecordRepository creates a new SQLite sync record repository.
func NewSyncRecordRepository(db *sql.DB) *SyncRecordRepository {
	return &SyncRecordRepository{db: db}
}

const syncRecordColumns = `
	id, run_id, kind, status, outcome, files_processed, files_ingested, files_skipped,
	files_failed, bytes_processed, started_at, ended_at, duration_ms, device_id,
	destination_root, error_message, failed_files`

func scanSyncRecord(row rowScanner) (*models.SyncRecord, error) {
	var (
		rec                          models.SyncRecord
		kind, status, startedAt      string
		outcome, endedAt, errMessage sql.NullString
		durationMS                   int64
		failedFiles                  string
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
		&startedAt,
		&endedAt,
		&durationMS,
		&rec.DeviceID,
		&rec.DestinationRoot,
		&errMessage,
		&failedFiles,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = models.SyncKind(kind)
	rec.Status = models.SyncStatus(status)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.ErrorMessage = nullableString(errMessage)
	if outcome.Valid {
		o := models.RunOutcome(outcome.String)
		rec.Outcome = &o
	}

	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if rec.EndedAt, err = parseNullableTime(endedAt); err != nil {
		return nil, err
	}
	if failedFiles != "" {
		if err := json.Unmarshal([]byte(failedFiles), &rec.FailedFiles); err != nil {
			return nil, fmt.Errorf("failed to decode failed files: %w", err)
		}
	}

	return &rec, nil
}

func encodeFailedFiles(files []models.FailedFile) (string, error) {
	if files == nil {
		files = []models.FailedFile{}
	}
	b, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("failed to encode failed files: %w", err)
	}
	return string(b), nil
}

func outcomeValue(o *models.RunOutcome) any {
	if o == nil {
		return nil
	}
	return string(*o)
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

	failed, err := encodeFailedFiles(rec.FailedFiles)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_records (
			run_id, kind, status, outcome, files_processed, files_ingested, files_skipped,
			files_failed, bytes_processed, started_at, ended_at, duration_ms, device_id,
			destination_root, error_message, failed_files
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return withBusyRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, query,
			rec.RunID,
			string(rec.Kind),
			string(rec.Status),
			outcomeValue(rec.Outcome),
			rec.FilesProcessed,
			rec.FilesIngested,
			rec.FilesSkipped,
			rec.FilesFailed,
			rec.BytesProcessed,
			formatTime(rec.StartedAt),
			formatNullableTime(rec.EndedAt),
			rec.Duration.Milliseconds(),
			rec.DeviceID,
			rec.DestinationRoot,
			rec.ErrorMessage,
			failed,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrDuplicateKey
			}
			return fmt.Errorf("failed to create sync record: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		rec.ID = id
		return nil
	})
}

// Finish stores the final state of a run.
func (r *SyncRecordRepository) Finish(ctx context.Context, rec *models.SyncRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil: %w", repository.ErrInvalidInput)
	}

	failed, err := encodeFailedFiles(rec.FailedFiles)
	if err != nil {
		return err
	}

	return withBusyRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, `
			UPDATE sync_records
			SET status = ?, outcome = ?, files_processed = ?, files_ingested = ?, files_skipped = ?,
				files_failed = ?, bytes_processed = ?, ended_at = ?, duration_ms = ?,
				error_message = ?, failed_files = ?
			WHERE id = ?
		`,
			string(rec.Status),
			outcomeValue(rec.Outcome),
			rec.FilesProcessed,
			rec.FilesIngested,
			rec.FilesSkipped,
			rec.FilesFailed,
			rec.BytesProcessed,
			formatNullableTime(rec.EndedAt),
			rec.Duration.Milliseconds(),
			rec.ErrorMessage,
			failed,
			rec.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to finish sync record: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

// GetByID retrieves a run record.
func (r *SyncRecordRepository) GetByID(ctx context.Context, id int64) (*models.SyncRecord, error) {
	query := `SELECT ` + syncRecordColumns + ` FROM sync_records WHERE id = ?`

	rec, err := scanSyncRecord(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
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

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+syncRecordColumns+` FROM sync_records ORDER BY started_at DESC, id DESC LIMIT ?`,
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
	var lastRun sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'partial' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(files_ingested), 0),
			COALESCE(SUM(bytes_processed), 0),
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

	if stats.LastRunAt, err = parseNullableTime(lastRun); err != nil {
		return nil, err
	}
	return stats, nil
}
