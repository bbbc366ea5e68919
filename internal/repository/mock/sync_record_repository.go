package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

// SyncRecordRepository is an in-memory repository.SyncRecordRepository.
type SyncRecordRepository struct {
	mu      sync.Mutex
	records map[int64]*models.SyncRecord
	nextID  int64

	// NOTE: Set these BEFORE concurrent access begins
	CreateError error
	FinishError error
}

// NewSyncRecordRepository creates an empty mock repository.
func NewSyncRecordRepository() *SyncRecordRepository {
	return &SyncRecordRepository{
		records: make(map[int64]*models.SyncRecord),
		nextID:  1,
	}
}

var _ repository.SyncRecordRepository = (*SyncRecordRepository)(nil)

func copySyncRecord(src *models.SyncRecord) *models.SyncRecord {
	dst := *src
	dst.FailedFiles = append([]models.FailedFile(nil), src.FailedFiles...)
	if src.Outcome != nil {
		o := *src.Outcome
		dst.Outcome = &o
	}
	if src.EndedAt != nil {
		t := *src.EndedAt
		dst.EndedAt = &t
	}
	if src.ErrorMessage != nil {
		m := *src.ErrorMessage
		dst.ErrorMessage = &m
	}
	return &dst
}

// Create stores a run.
func (r *SyncRecordRepository) Create(ctx context.Context, rec *models.SyncRecord) error {
	if r.CreateError != nil {
		return r.CreateError
	}
	if rec == nil || rec.RunID == "" {
		return repository.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.records {
		if existing.RunID == rec.RunID {
			return repository.ErrDuplicateKey
		}
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = models.SyncInProgress
	}
	rec.ID = r.nextID
	r.nextID++
	r.records[rec.ID] = copySyncRecord(rec)
	return nil
}

// Finish replaces the stored run.
func (r *SyncRecordRepository) Finish(ctx context.Context, rec *models.SyncRecord) error {
	if r.FinishError != nil {
		return r.FinishError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; !ok {
		return repository.ErrNotFound
	}
	r.records[rec.ID] = copySyncRecord(rec)
	return nil
}

// GetByID returns a copy of a run.
func (r *SyncRecordRepository) GetByID(ctx context.Context, id int64) (*models.SyncRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copySyncRecord(rec), nil
}

// ListRecent returns runs newest first.
func (r *SyncRecordRepository) ListRecent(ctx context.Context, limit int) ([]models.SyncRecord, error) {
	if limit <= 0 {
		limit = repository.DefaultPagination().Limit
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.SyncRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *copySyncRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats aggregates the stored runs.
func (r *SyncRecordRepository) Stats(ctx context.Context) (*models.SyncStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &models.SyncStats{}
	for _, rec := range r.records {
		stats.TotalRuns++
		switch rec.Status {
		case models.SyncSuccess:
			stats.SuccessfulRuns++
		case models.SyncPartial:
			stats.PartialRuns++
		case models.SyncFailed:
			stats.FailedRuns++
		}
		stats.TotalFilesIngested += rec.FilesIngested
		stats.TotalBytes += rec.BytesProcessed
		if stats.LastRunAt == nil || rec.StartedAt.After(*stats.LastRunAt) {
			t := rec.StartedAt
			stats.LastRunAt = &t
		}
	}
	return stats, nil
}
