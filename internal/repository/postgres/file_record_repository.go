package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/jackc/pgx/v5"
)

// FileRecordRepository implements repository.FileRecordRepository for PostgreSQL.
type FileRecordRepository struct {
	pool *Pool
}

// NewFileRecordRepository creates a new PostgreSQL file record repository.
func NewFileRecordRepository(pool *Pool) *FileRecordRepository {
	return &FileRecordRepository{pool: pool}
}

const fileRecordColumns = `
	id, fingerprint, fingerprint_mode, original_filename, file_size, media_kind,
	content_type, capture_time, year, month, destination_path, encrypted_path,
	encrypted, thumbnail_path, created_at, last_verified, source_device, ingestion_method`

func scanFileRecord(row pgx.Row) (*models.FileRecord, error) {
	var (
		rec                       models.FileRecord
		mediaKind, method         string
		captureTime, lastVerified *time.Time
		encryptedPath, thumbnail  *string
	)

	err := row.Scan(
		&rec.ID,
		&rec.Fingerprint,
		&rec.FingerprintMode,
		&rec.OriginalFilename,
		&rec.FileSize,
		&mediaKind,
		&rec.ContentType,
		&captureTime,
		&rec.Year,
		&rec.Month,
		&rec.DestinationPath,
		&encryptedPath,
		&rec.Encrypted,
		&thumbnail,
		&rec.CreatedAt,
		&lastVerified,
		&rec.SourceDevice,
		&method,
	)
	if err != nil {
		return nil, err
	}

	rec.MediaKind = models.MediaKind(mediaKind)
	rec.IngestionMethod = models.IngestionMethod(method)
	rec.EncryptedPath = encryptedPath
	rec.ThumbnailPath = thumbnail
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.CaptureTime = utcPtr(captureTime)
	rec.LastVerified = utcPtr(lastVerified)
	return &rec, nil
}

// Create inserts a new file record.
func (r *FileRecordRepository) Create(ctx context.Context, rec *models.FileRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil: %w", repository.ErrInvalidInput)
	}
	if rec.Fingerprint == "" {
		return fmt.Errorf("fingerprint cannot be empty: %w", repository.ErrInvalidInput)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO file_records (
			fingerprint, fingerprint_mode, original_filename, file_size, media_kind,
			content_type, capture_time, year, month, destination_path, encrypted_path,
			encrypted, thumbnail_path, created_at, last_verified, source_device, ingestion_method
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		rec.Fingerprint,
		rec.FingerprintMode,
		rec.OriginalFilename,
		rec.FileSize,
		string(rec.MediaKind),
		rec.ContentType,
		nullableTime(rec.CaptureTime),
		rec.Year,
		rec.Month,
		rec.DestinationPath,
		rec.EncryptedPath,
		rec.Encrypted,
		rec.ThumbnailPath,
		rec.CreatedAt.UTC(),
		nullableTime(rec.LastVerified),
		rec.SourceDevice,
		string(rec.IngestionMethod),
	).Scan(&rec.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert file record: %w", err)
	}
	return nil
}

// GetByID retrieves a file record by ID.
func (r *FileRecordRepository) GetByID(ctx context.Context, id int64) (*models.FileRecord, error) {
	query := `SELECT ` + fileRecordColumns + ` FROM file_records WHERE id = $1`

	rec, err := scanFileRecord(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return rec, nil
}

// GetByFingerprint retrieves the record with a fingerprint. Returns nil, nil if not found.
func (r *FileRecordRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.FileRecord, error) {
	query := `SELECT ` + fileRecordColumns + ` FROM file_records WHERE fingerprint = $1`

	rec, err := scanFileRecord(r.pool.QueryRow(ctx, query, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file record by fingerprint: %w", err)
	}
	return rec, nil
}

// List returns file records matching the filter.
func (r *FileRecordRepository) List(ctx context.Context, filter repository.FileFilter) ([]models.FileRecord, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Year > 0 {
		conditions = append(conditions, "year = "+arg(filter.Year))
	}
	if filter.Month > 0 {
		conditions = append(conditions, "month = "+arg(filter.Month))
	}
	if filter.Kind != "" {
		conditions = append(conditions, "media_kind = "+arg(filter.Kind))
	}

	query := `SELECT ` + fileRecordColumns + ` FROM file_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY year DESC, month DESC, COALESCE(capture_time, created_at) DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit) + " OFFSET " + arg(filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}
	defer rows.Close()

	records := []models.FileRecord{}
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file records: %w", err)
	}
	return records, nil
}

// UpdateLastVerified stamps a successful verification.
func (r *FileRecordRepository) UpdateLastVerified(ctx context.Context, id int64, verifiedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE file_records SET last_verified = $1 WHERE id = $2`, verifiedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last_verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a file record by ID.
func (r *FileRecordRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM file_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Count returns the number of archived files.
func (r *FileRecordRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM file_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count file records: %w", err)
	}
	return count, nil
}

// Stats aggregates archive statistics.
func (r *FileRecordRepository) Stats(ctx context.Context) (*models.ArchiveStats, error) {
	stats := &models.ArchiveStats{
		ByYear:   make(map[int]int),
		ByMethod: make(map[string]int),
	}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(file_size), 0)::BIGINT,
			COUNT(*) FILTER (WHERE media_kind = 'photo'),
			COUNT(*) FILTER (WHERE media_kind = 'video'),
			COUNT(*) FILTER (WHERE encrypted),
			COUNT(*) FILTER (WHERE last_verified IS NULL)
		FROM file_records
	`).Scan(
		&stats.TotalFiles,
		&stats.TotalBytes,
		&stats.PhotoCount,
		&stats.VideoCount,
		&stats.EncryptedCount,
		&stats.UnverifiedCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get archive stats: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT year, COUNT(*) FROM file_records GROUP BY year`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats by year: %w", err)
	}
	var year, count int
	_, err = pgx.ForEachRow(rows, []any{&year, &count}, func() error {
		stats.ByYear[year] = count
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan stats by year: %w", err)
	}

	rows, err = r.pool.Query(ctx, `SELECT ingestion_method, COUNT(*) FROM file_records GROUP BY ingestion_method`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats by method: %w", err)
	}
	var method string
	_, err = pgx.ForEachRow(rows, []any{&method, &count}, func() error {
		stats.ByMethod[method] = count
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan stats by method: %w", err)
	}

	return stats, nil
}
