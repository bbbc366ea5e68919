package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

// FileRecordRepository implements repository.FileRecordRepository for SQLite.
type FileRecordRepository struct {
	db *sql.DB
}

// NewFileRecordRepository creates a new SQLite file record repository.
func NewFileRecordRepository(db *sql.DB) *FileRecordRepository {
	return &FileRecordRepository{db: db}
}

const fileRecordColumns = `
	id, fingerprint, fingerprint_mode, original_filename, file_size, media_kind,
	content_type, capture_time, year, month, destination_path, encrypted_path,
	encrypted, thumbnail_path, created_at, last_verified, source_device, ingestion_method`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(row rowScanner) (*models.FileRecord, error) {
	var (
		rec                                   models.FileRecord
		captureTime, encryptedPath, thumbnail sql.NullString
		lastVerified                          sql.NullString
		createdAt, mediaKind, ingestionMethod string
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
		&createdAt,
		&lastVerified,
		&rec.SourceDevice,
		&ingestionMethod,
	)
	if err != nil {
		return nil, err
	}

	rec.MediaKind = models.MediaKind(mediaKind)
	rec.IngestionMethod = models.IngestionMethod(ingestionMethod)
	rec.EncryptedPath = nullableString(encryptedPath)
	rec.ThumbnailPath = nullableString(thumbnail)

	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.CaptureTime, err = parseNullableTime(captureTime); err != nil {
		return nil, err
	}
	if rec.LastVerified, err = parseNullableTime(lastVerified); err != nil {
		return nil, err
	}

	return &rec, nil
}

// Create inserts a new file record into the database.
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return withBusyRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, query,
			rec.Fingerprint,
			rec.FingerprintMode,
			rec.OriginalFilename,
			rec.FileSize,
			string(rec.MediaKind),
			rec.ContentType,
			formatNullableTime(rec.CaptureTime),
			rec.Year,
			rec.Month,
			rec.DestinationPath,
			rec.EncryptedPath,
			rec.Encrypted,
			rec.ThumbnailPath,
			formatTime(rec.CreatedAt),
			formatNullableTime(rec.LastVerified),
			rec.SourceDevice,
			string(rec.IngestionMethod),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrDuplicateKey
			}
			return fmt.Errorf("failed to insert file record: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		rec.ID = id
		return nil
	})
}

// GetByID retrieves a file record by its database ID.
func (r *FileRecordRepository) GetByID(ctx context.Context, id int64) (*models.FileRecord, error) {
	query := `SELECT ` + fileRecordColumns + ` FROM file_records WHERE id = ?`

	rec, err := scanFileRecord(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return rec, nil
}

// GetByFingerprint retrieves a file record by its content fingerprint.
func (r *FileRecordRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.FileRecord, error) {
	query := `SELECT ` + fileRecordColumns + ` FROM file_records WHERE fingerprint = ?`

	rec, err := scanFileRecord(r.db.QueryRowContext(ctx, query, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
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
	if filter.Year > 0 {
		conditions = append(conditions, "year = ?")
		args = append(args, filter.Year)
	}
	if filter.Month > 0 {
		conditions = append(conditions, "month = ?")
		args = append(args, filter.Month)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "media_kind = ?")
		args = append(args, filter.Kind)
	}

	query := `SELECT ` + fileRecordColumns + ` FROM file_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY year DESC, month DESC, COALESCE(capture_time, created_at) DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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
	return withBusyRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx,
			`UPDATE file_records SET last_verified = ? WHERE id = ?`,
			formatTime(verifiedAt), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update last_verified: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

// Delete removes a file record by ID.
func (r *FileRecordRepository) Delete(ctx context.Context, id int64) error {
	return withBusyRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, `DELETE FROM file_records WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete file record: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

// Count returns the number of archived files.
func (r *FileRecordRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_records`).Scan(&count); err != nil {
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

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(file_size), 0),
			COALESCE(SUM(CASE WHEN media_kind = 'photo' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN media_kind = 'video' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN encrypted THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN last_verified IS NULL THEN 1 ELSE 0 END), 0)
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

	if err := r.groupCounts(ctx, `SELECT year, COUNT(*) FROM file_records GROUP BY year`, func(rows *sql.Rows) error {
		var year, count int
		if err := rows.Scan(&year, &count); err != nil {
			return err
		}
		stats.ByYear[year] = count
		return nil
	}); err != nil {
		return nil, err
	}

	if err := r.groupCounts(ctx, `SELECT ingestion_method, COUNT(*) FROM file_records GROUP BY ingestion_method`, func(rows *sql.Rows) error {
		var method string
		var count int
		if err := rows.Scan(&method, &count); err != nil {
			return err
		}
		stats.ByMethod[method] = count
		return nil
	}); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *FileRecordRepository) groupCounts(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query grouped stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("failed to scan grouped stats: %w", err)
		}
	}
	return rows.Err()
}
