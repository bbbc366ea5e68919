package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

// UploadSessionRepository is an in-memory repository.UploadSessionRepository.
type UploadSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.UploadSession

	// Error injection for testing error handling
	// NOTE: Set these BEFORE concurrent access begins
	CreateError   error
	AddChunkError error
	GetByIDError  error

	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

// NewUploadSessionRepository creates an empty mock repository.
func NewUploadSessionRepository() *UploadSessionRepository {
	return &UploadSessionRepository{
		sessions: make(map[string]*models.UploadSession),
	}
}

var _ repository.UploadSessionRepository = (*UploadSessionRepository)(nil)

func (r *UploadSessionRepository) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func copySession(src *models.UploadSession) *models.UploadSession {
	dst := *src
	dst.ReceivedChunks = append([]int{}, src.ReceivedChunks...)
	if src.Fingerprint != nil {
		v := *src.Fingerprint
		dst.Fingerprint = &v
	}
	if src.DestinationPath != nil {
		v := *src.DestinationPath
		dst.DestinationPath = &v
	}
	if src.ErrorMessage != nil {
		v := *src.ErrorMessage
		dst.ErrorMessage = &v
	}
	if src.CompletedAt != nil {
		v := *src.CompletedAt
		dst.CompletedAt = &v
	}
	return &dst
}

// Create stores a new session.
func (r *UploadSessionRepository) Create(ctx context.Context, s *models.UploadSession) error {
	if r.CreateError != nil {
		return r.CreateError
	}
	if s == nil || s.SessionID == "" {
		return repository.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.SessionID]; ok {
		return repository.ErrDuplicateKey
	}

	now := r.now()
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
	r.sessions[s.SessionID] = copySession(s)
	return nil
}

// GetByID returns a copy of the session or nil, nil.
func (r *UploadSessionRepository) GetByID(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	if r.GetByIDError != nil {
		return nil, r.GetByIDError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

// AddChunk records an index once.
func (r *UploadSessionRepository) AddChunk(ctx context.Context, sessionID string, index int, size int64) (bool, *models.UploadSession, error) {
	if r.AddChunkError != nil {
		return false, nil, r.AddChunkError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return false, nil, repository.ErrNotFound
	}
	if s.HasChunk(index) {
		return false, copySession(s), nil
	}

	s.ReceivedChunks = append(s.ReceivedChunks, index)
	sort.Ints(s.ReceivedChunks)
	s.ReceivedBytes += size
	s.UpdatedAt = r.now()
	return true, copySession(s), nil
}

// SetChunks overwrites the received indices.
func (r *UploadSessionRepository) SetChunks(ctx context.Context, sessionID string, indices []int, receivedBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	s.ReceivedChunks = append([]int{}, indices...)
	sort.Ints(s.ReceivedChunks)
	s.ReceivedBytes = receivedBytes
	s.UpdatedAt = r.now()
	return nil
}

// UpdateStatus applies an allowed transition.
func (r *UploadSessionRepository) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if !s.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, s.Status, status)
	}

	now := r.now()
	s.Status = status
	s.UpdatedAt = now
	if errorMessage != nil {
		msg := *errorMessage
		s.ErrorMessage = &msg
	}
	if status == models.SessionCompleted {
		s.CompletedAt = &now
	}
	return nil
}

// MarkCompleted completes an in_progress session.
func (r *UploadSessionRepository) MarkCompleted(ctx context.Context, sessionID, fingerprint, destination string, skipped bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if !s.Status.CanTransition(models.SessionCompleted) {
		return fmt.Errorf("%w: session is %s", repository.ErrInvalidTransition, s.Status)
	}

	now := r.now()
	s.Status = models.SessionCompleted
	s.Fingerprint = &fingerprint
	s.DestinationPath = &destination
	s.Skipped = skipped
	s.CompletedAt = &now
	s.UpdatedAt = now
	s.ErrorMessage = nil
	return nil
}

// MarkFailed fails a non-completed session.
func (r *UploadSessionRepository) MarkFailed(ctx context.Context, sessionID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status == models.SessionCompleted {
		return fmt.Errorf("%w: session is %s", repository.ErrInvalidTransition, s.Status)
	}

	s.Status = models.SessionFailed
	s.ErrorMessage = &errorMessage
	s.RetryCount++
	s.UpdatedAt = r.now()
	return nil
}

func (r *UploadSessionRepository) collect(match func(*models.UploadSession) bool) []models.UploadSession {
	out := []models.UploadSession{}
	for _, s := range r.sessions {
		if match(s) {
			out = append(out, *copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out
}

// ListByStatus returns sessions in any of the statuses.
func (r *UploadSessionRepository) ListByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[models.SessionStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	return r.collect(func(s *models.UploadSession) bool { return want[s.Status] }), nil
}

// ListStale returns non-terminal sessions idle since cutoff.
func (r *UploadSessionRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.collect(func(s *models.UploadSession) bool {
		return !s.Status.IsTerminal() && s.UpdatedAt.Before(cutoff)
	}), nil
}

// DeleteTerminalBefore purges old terminal sessions.
func (r *UploadSessionRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.sessions {
		if s.Status.IsTerminal() && s.UpdatedAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// Delete removes a session.
func (r *UploadSessionRepository) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

// CountActive counts in_progress and paused sessions.
func (r *UploadSessionRepository) CountActive(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.sessions {
		if !s.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

// SetUpdatedAt backdates a session for sweep tests.
func (r *UploadSessionRepository) SetUpdatedAt(sessionID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.UpdatedAt = t.UTC()
	}
}
