// Package mock provides in-memory implementations of repository interfaces for testing.
// These mocks allow tests to run without a real database and provide
// configurable behavior for testing error conditions and edge cases.
//
// IMPORTANT: Error injection fields (e.g., CreateError) and hooks (e.g., OnCreate)
// should be set BEFORE any concurrent operations begin. They are not protected
// by the mutex for performance reasons in typical test scenarios.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

// FileRecordRepository is an in-memory repository.FileRecordRepository.
type FileRecordRepository struct {
	mu sync.RWMutex

	records       map[int64]*models.FileRecord
	byFingerprint map[string]int64
	nextID        int64

	// Error injection for testing error handling
	// NOTE: Set these BEFORE concurrent access begins
	CreateError           error
	GetByFingerprintError error
	ListError             error
	StatsError            error

	// NOTE: Set these BEFORE concurrent access begins
	OnCreate func(ctx context.Context, rec *models.FileRecord) error
}

// NewFileRecordRepository creates an empty mock repository.
func NewFileRecordRepository() *FileRecordRepository {
	return &FileRecordRepository{
		records:       make(map[int64]*models.FileRecord),
		byFingerprint: make(map[string]int64),
		nextID:        1,
	}
}

var _ repository.FileRecordRepository = (*FileRecordRepository)(nil)

func copyFileRecord(src *models.FileRecord) *models.FileRecord {
	dst := *src
	if src.CaptureTime != nil {
		t := *src.CaptureTime
		dst.CaptureTime = &t
	}
	if src.LastVerified != nil {
		t := *src.LastVerified
		dst.LastVerified = &t
	}
	if src.EncryptedPath != nil {
		p := *src.EncryptedPath
		dst.EncryptedPath = &p
	}
	if src.ThumbnailPath != nil {
		p := *src.ThumbnailPath
		dst.ThumbnailPath = &p
	}
	return &dst
}

// Create inserts a record, enforcing fingerprint uniqueness.
func (r *FileRecordRepository) Create(ctx context.Context, rec *models.FileRecord) error {
	if r.OnCreate != nil {
		if err := r.OnCreate(ctx, rec); err != nil {
			return err
		}
	}
	if r.CreateError != nil {
		return r.CreateError
	}
	if rec == nil || rec.Fingerprint == "" {
		return repository.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byFingerprint[rec.Fingerprint]; ok {
		return repository.ErrDuplicateKey
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ID = r.nextID
	r.nextID++

	r.records[rec.ID] = copyFileRecord(rec)
	r.byFingerprint[rec.Fingerprint] = rec.ID
	return nil
}

// GetByID returns a copy of the record or ErrNotFound.
func (r *FileRecordRepository) GetByID(ctx context.Context, id int64) (*models.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyFileRecord(rec), nil
}

// GetByFingerprint returns a copy of the record or nil, nil.
func (r *FileRecordRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.FileRecord, error) {
	if r.GetByFingerprintError != nil {
		return nil, r.GetByFingerprintError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byFingerprint[fingerprint]
	if !ok {
		return nil, nil
	}
	return copyFileRecord(r.records[id]), nil
}

// List filters and orders records the way the SQL implementations do.
func (r *FileRecordRepository) List(ctx context.Context, filter repository.FileFilter) ([]models.FileRecord, error) {
	if r.ListError != nil {
		return nil, r.ListError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []models.FileRecord{}
	for _, rec := range r.records {
		if filter.Year > 0 && rec.Year != filter.Year {
			continue
		}
		if filter.Month > 0 && rec.Month != filter.Month {
			continue
		}
		if filter.Kind != "" && string(rec.MediaKind) != filter.Kind {
			continue
		}
		out = append(out, *copyFileRecord(rec))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		if a.Month != b.Month {
			return a.Month > b.Month
		}
		ta, tb := effectiveTime(a), effectiveTime(b)
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.ID > b.ID
	})

	if filter.Limit > 0 {
		if filter.Offset >= len(out) {
			return []models.FileRecord{}, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[filter.Offset:end]
	}
	return out, nil
}

func effectiveTime(rec models.FileRecord) time.Time {
	if rec.CaptureTime != nil {
		return *rec.CaptureTime
	}
	return rec.CreatedAt
}

// UpdateLastVerified stamps a verification time.
func (r *FileRecordRepository) UpdateLastVerified(ctx context.Context, id int64, verifiedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	t := verifiedAt.UTC()
	rec.LastVerified = &t
	return nil
}

// Delete removes a record.
func (r *FileRecordRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.byFingerprint, rec.Fingerprint)
	delete(r.records, id)
	return nil
}

// Count returns the number of stored records.
func (r *FileRecordRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records), nil
}

// Stats aggregates the stored records.
func (r *FileRecordRepository) Stats(ctx context.Context) (*models.ArchiveStats, error) {
	if r.StatsError != nil {
		return nil, r.StatsError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &models.ArchiveStats{
		ByYear:   make(map[int]int),
		ByMethod: make(map[string]int),
	}
	for _, rec := range r.records {
		stats.TotalFiles++
		stats.TotalBytes += rec.FileSize
		switch rec.MediaKind {
		case models.MediaKindPhoto:
			stats.PhotoCount++
		case models.MediaKindVideo:
			stats.VideoCount++
		}
		if rec.Encrypted {
			stats.EncryptedCount++
		}
		if rec.LastVerified == nil {
			stats.UnverifiedCount++
		}
		stats.ByYear[rec.Year]++
		stats.ByMethod[string(rec.IngestionMethod)]++
	}
	return stats, nil
}

// Records returns copies of all stored records ordered by ID.
func (r *FileRecordRepository) Records() []models.FileRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.FileRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *copyFileRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
