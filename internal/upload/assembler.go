// Package upload implements the resumable chunked-transfer protocol: chunks of a
// file arrive in any order and may be retried, and a finalized session hands the
// assembled file to the ingestion pipeline exactly once.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fjmerc/mediavault/internal/fingerprint"
	"github.com/fjmerc/mediavault/internal/ingest"
	"github.com/fjmerc/mediavault/internal/metrics"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/storage"
	"github.com/fjmerc/mediavault/internal/utils"
)

// DefaultMaxTotalChunks bounds the chunk count of one session.
const DefaultMaxTotalChunks = 10000

// Sink receives assembled files. *ingest.Coordinator implements it.
type Sink interface {
	Ingest(ctx context.Context, src ingest.Source) (ingest.Result, error)
}

var _ Sink = (*ingest.Coordinator)(nil)

// Config wires the assembler's collaborators.
type Config struct {
	Sessions repository.UploadSessionRepository
	Chunks   storage.ChunkStore
	Sink     Sink
	Hasher   *fingerprint.Hasher

	MaxChunkSize   int64 // 0 means unlimited
	MaxTotalSize   int64 // 0 means unlimited
	MaxTotalChunks int   // 0 selects DefaultMaxTotalChunks
}

// ChunkRequest carries the form fields sent with every chunk.
type ChunkRequest struct {
	SessionID    string
	ChunkIndex   int
	TotalChunks  int
	Filename     string
	DeclaredSize int64
	DeviceID     string
}

// ChunkResult reports the session after a chunk was accepted.
type ChunkResult struct {
	SessionID      string
	ChunkIndex     int
	ReceivedChunks int
	TotalChunks    int
	Progress       float64
	Duplicate      bool
}

// FinalizeResult is the ingestion outcome of a completed session.
type FinalizeResult struct {
	SessionID   string
	Fingerprint string
	Destination string
	Skipped     bool
}

// Assembler accepts chunks and finalizes sessions.
type Assembler struct {
	cfg     Config
	locks   *sessionLocks
	tracker *tracker
}

// NewAssembler validates cfg and creates an Assembler.
func NewAssembler(cfg Config) (*Assembler, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("upload session repository is required")
	}
	if cfg.Chunks == nil {
		return nil, fmt.Errorf("chunk store is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("ingest sink is required")
	}
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if cfg.MaxTotalChunks <= 0 {
		cfg.MaxTotalChunks = DefaultMaxTotalChunks
	}
	return &Assembler{
		cfg:     cfg,
		locks:   newSessionLocks(),
		tracker: newTracker(),
	}, nil
}

func (a *Assembler) validate(req ChunkRequest) error {
	if !utils.ValidSessionID(req.SessionID) {
		return fmt.Errorf("%w: malformed session id", ErrInvalidChunk)
	}
	if req.TotalChunks <= 0 {
		return fmt.Errorf("%w: total_chunks must be positive", ErrInvalidChunk)
	}
	if req.TotalChunks > a.cfg.MaxTotalChunks {
		return fmt.Errorf("%w: %d chunks exceeds maximum %d", ErrInvalidChunk, req.TotalChunks, a.cfg.MaxTotalChunks)
	}
	if req.ChunkIndex < 0 || req.ChunkIndex >= req.TotalChunks {
		return fmt.Errorf("%w: index %d outside [0, %d)", ErrInvalidChunk, req.ChunkIndex, req.TotalChunks)
	}
	if req.DeclaredSize < 0 {
		return fmt.Errorf("%w: negative file size", ErrInvalidChunk)
	}
	if a.cfg.MaxTotalSize > 0 && req.DeclaredSize > a.cfg.MaxTotalSize {
		return fmt.Errorf("%w: %d bytes", ErrTransferTooLarge, req.DeclaredSize)
	}
	return nil
}

// SubmitChunk stores one chunk and records it on the session, creating the
// session on its first chunk. A chunk index already received is acknowledged
// without being written again.
func (a *Assembler) SubmitChunk(ctx context.Context, req ChunkRequest, data io.Reader) (ChunkResult, error) {
	if err := a.validate(req); err != nil {
		metrics.ChunksReceivedTotal.WithLabelValues("rejected").Inc()
		return ChunkResult{}, err
	}

	op, ok := a.tracker.begin("chunk", req.SessionID)
	if !ok {
		return ChunkResult{}, ErrShuttingDown
	}
	defer a.tracker.end(op)

	release := a.locks.shared(req.SessionID)
	defer release()

	sess, err := a.getOrCreate(ctx, req)
	if err != nil {
		return ChunkResult{}, err
	}

	if sess.TotalChunks != req.TotalChunks {
		metrics.ChunksReceivedTotal.WithLabelValues("rejected").Inc()
		return ChunkResult{}, fmt.Errorf("%w: session expects %d chunks, got %d",
			ErrInvalidChunk, sess.TotalChunks, req.TotalChunks)
	}

	switch sess.Status {
	case models.SessionCompleted, models.SessionFailed:
		metrics.ChunksReceivedTotal.WithLabelValues("rejected").Inc()
		return ChunkResult{}, fmt.Errorf("%w: session %s is %s", ErrSessionClosed, req.SessionID, sess.Status)
	case models.SessionPaused:
		if err := a.resume(ctx, req.SessionID); err != nil {
			return ChunkResult{}, err
		}
	}

	if sess.HasChunk(req.ChunkIndex) {
		metrics.ChunksReceivedTotal.WithLabelValues("duplicate").Inc()
		slog.Debug("chunk already received",
			"session_id", req.SessionID,
			"chunk_index", req.ChunkIndex,
		)
		return chunkResult(sess, req.ChunkIndex, true), nil
	}

	size, err := a.cfg.Chunks.SaveChunk(ctx, req.SessionID, req.ChunkIndex, data, a.cfg.MaxChunkSize)
	if err != nil {
		if errors.Is(err, storage.ErrChunkTooLarge) {
			metrics.ChunksReceivedTotal.WithLabelValues("rejected").Inc()
			return ChunkResult{}, fmt.Errorf("%w: %v", ErrInvalidChunk, err)
		}
		metrics.ChunksReceivedTotal.WithLabelValues("error").Inc()
		return ChunkResult{}, fmt.Errorf("failed to store chunk: %w", err)
	}

	added, sess, err := a.cfg.Sessions.AddChunk(ctx, req.SessionID, req.ChunkIndex, size)
	if err != nil {
		metrics.ChunksReceivedTotal.WithLabelValues("error").Inc()
		return ChunkResult{}, fmt.Errorf("failed to record chunk: %w", err)
	}

	if added {
		metrics.ChunksReceivedTotal.WithLabelValues("accepted").Inc()
	} else {
		metrics.ChunksReceivedTotal.WithLabelValues("duplicate").Inc()
	}

	slog.Debug("chunk received",
		"session_id", req.SessionID,
		"chunk_index", req.ChunkIndex,
		"size", size,
		"received_chunks", len(sess.ReceivedChunks),
		"total_chunks", sess.TotalChunks,
	)

	return chunkResult(sess, req.ChunkIndex, !added), nil
}

func chunkResult(sess *models.UploadSession, index int, duplicate bool) ChunkResult {
	return ChunkResult{
		SessionID:      sess.SessionID,
		ChunkIndex:     index,
		ReceivedChunks: len(sess.ReceivedChunks),
		TotalChunks:    sess.TotalChunks,
		Progress:       sess.Progress(),
		Duplicate:      duplicate,
	}
}

// getOrCreate loads the session or creates it from the request. Two first
// chunks racing each other both end up with the stored session.
func (a *Assembler) getOrCreate(ctx context.Context, req ChunkRequest) (*models.UploadSession, error) {
	sess, err := a.cfg.Sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	if sess != nil {
		return sess, nil
	}

	name := req.Filename
	if name == "" {
		name = req.SessionID
	}

	sess = &models.UploadSession{
		SessionID:      req.SessionID,
		Filename:       utils.SanitizeFilename(name),
		TotalSize:      req.DeclaredSize,
		TotalChunks:    req.TotalChunks,
		ReceivedChunks: []int{},
		Status:         models.SessionInProgress,
		TempPath:       a.cfg.Chunks.SessionPath(req.SessionID),
		DeviceID:       req.DeviceID,
	}

	err = a.cfg.Sessions.Create(ctx, sess)
	if errors.Is(err, repository.ErrDuplicateKey) {
		stored, gerr := a.cfg.Sessions.GetByID(ctx, req.SessionID)
		if gerr == nil && stored == nil {
			gerr = repository.ErrNotFound
		}
		if gerr != nil {
			return nil, fmt.Errorf("failed to get upload session: %w", gerr)
		}
		return stored, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create upload session: %w", err)
	}

	metrics.UploadSessionsTotal.WithLabelValues("created").Inc()
	slog.Info("upload session created",
		"session_id", sess.SessionID,
		"filename", sess.Filename,
		"total_size", sess.TotalSize,
		"total_chunks", sess.TotalChunks,
		"device_id", sess.DeviceID,
	)
	return sess, nil
}

// Finalize assembles a fully received session and ingests the result. A session
// finalized before returns its stored result without being processed again.
func (a *Assembler) Finalize(ctx context.Context, sessionID string) (FinalizeResult, error) {
	op, ok := a.tracker.begin("finalize", sessionID)
	if !ok {
		return FinalizeResult{}, ErrShuttingDown
	}
	defer a.tracker.end(op)

	release := a.locks.exclusive(sessionID)
	defer release()

	sess, err := a.load(ctx, sessionID)
	if err != nil {
		return FinalizeResult{}, err
	}

	switch sess.Status {
	case models.SessionCompleted:
		return storedResult(sess), nil
	case models.SessionFailed:
		return FinalizeResult{}, fmt.Errorf("%w: session %s failed: %s", ErrSessionClosed, sessionID, errorMessage(sess))
	}

	if missing := sess.MissingChunks(); len(missing) > 0 {
		return FinalizeResult{}, &IncompleteTransferError{SessionID: sessionID, Missing: missing}
	}

	if sess.Status == models.SessionPaused {
		if err := a.resume(ctx, sessionID); err != nil {
			return FinalizeResult{}, err
		}
	}

	// From here on the work runs to completion even if the caller goes away, so a
	// dropped connection cannot leave half-consumed chunks behind.
	work := context.WithoutCancel(ctx)

	path, size, err := a.assembled(work, sess)
	if err != nil {
		return FinalizeResult{}, err
	}

	if sess.TotalSize > 0 && size != sess.TotalSize {
		msg := fmt.Sprintf("assembled size %d does not match declared size %d", size, sess.TotalSize)
		a.fail(work, sess, msg)
		return FinalizeResult{}, fmt.Errorf("%w: %s", ErrInvalidChunk, msg)
	}

	fp, err := a.cfg.Hasher.SumFile(path)
	if err != nil {
		a.interrupted(sess, err)
		return FinalizeResult{}, fmt.Errorf("%w: %v", ingest.ErrHashFailure, err)
	}

	res, err := a.cfg.Sink.Ingest(work, ingest.Source{
		Path:        path,
		Name:        sess.Filename,
		DeviceID:    sess.DeviceID,
		Method:      models.MethodNetworkUpload,
		Fingerprint: fp,
	})
	if err != nil {
		if permanentFailure(err) {
			a.fail(work, sess, err.Error())
		} else {
			a.interrupted(sess, err)
		}
		return FinalizeResult{}, err
	}

	if err := a.cfg.Sessions.MarkCompleted(work, sessionID, res.Fingerprint, res.Destination, res.Skipped); err != nil {
		return FinalizeResult{}, fmt.Errorf("failed to mark session completed: %w", err)
	}
	if err := a.cfg.Chunks.DeleteSession(work, sessionID); err != nil {
		slog.Warn("failed to remove session artifacts", "session_id", sessionID, "error", err)
	}

	metrics.UploadSessionsTotal.WithLabelValues("completed").Inc()
	slog.Info("upload session finalized",
		"session_id", sessionID,
		"fingerprint", res.Fingerprint,
		"destination", res.Destination,
		"skipped", res.Skipped,
		"size", size,
	)

	return FinalizeResult{
		SessionID:   sessionID,
		Fingerprint: res.Fingerprint,
		Destination: res.Destination,
		Skipped:     res.Skipped,
	}, nil
}

// assembled returns the assembled file of a fully received session, assembling
// it unless an earlier interrupted finalize already did.
func (a *Assembler) assembled(ctx context.Context, sess *models.UploadSession) (string, int64, error) {
	path, size, ok, err := a.cfg.Chunks.AssembledFile(ctx, sess.SessionID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to check assembled file: %w", err)
	}
	if ok {
		slog.Info("reusing assembled file", "session_id", sess.SessionID, "size", size)
		return path, size, nil
	}

	if missing, err := a.reconcile(ctx, sess); err != nil {
		return "", 0, err
	} else if len(missing) > 0 {
		slog.Warn("recorded chunks missing from staging",
			"session_id", sess.SessionID,
			"missing", missing,
		)
		return "", 0, &IncompleteTransferError{SessionID: sess.SessionID, Missing: missing}
	}

	path, size, err = a.cfg.Chunks.AssembleChunks(ctx, sess.SessionID, sess.TotalChunks)
	if err != nil {
		return "", 0, fmt.Errorf("failed to assemble chunks: %w", err)
	}
	return path, size, nil
}

// permanentFailure reports whether ingesting the same bytes again cannot succeed.
func permanentFailure(err error) bool {
	return errors.Is(err, ingest.ErrIntegrityFailure) || errors.Is(err, ingest.ErrUnsupportedMedia)
}

// interrupted leaves the session in_progress with its assembled file so the
// next finalize picks up where this one stopped.
func (a *Assembler) interrupted(sess *models.UploadSession, err error) {
	metrics.UploadSessionsTotal.WithLabelValues("interrupted").Inc()
	slog.Warn("upload finalize interrupted, session kept for retry",
		"session_id", sess.SessionID,
		"error", err,
	)
}

// reconcile drops recorded indices whose chunk artifact is gone, so they are
// requested again. Returns the indices that are now missing. A session that is
// already assembled has nothing to reconcile.
func (a *Assembler) reconcile(ctx context.Context, sess *models.UploadSession) ([]int, error) {
	if _, _, ok, err := a.cfg.Chunks.AssembledFile(ctx, sess.SessionID); err != nil {
		return nil, fmt.Errorf("failed to check assembled file: %w", err)
	} else if ok {
		return nil, nil
	}

	onDisk, err := a.cfg.Chunks.ChunkIndices(ctx, sess.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged chunks: %w", err)
	}

	present := make(map[int]bool, len(onDisk))
	for _, idx := range onDisk {
		present[idx] = true
	}

	var kept, missing []int
	for _, idx := range sess.ReceivedChunks {
		if present[idx] {
			kept = append(kept, idx)
		} else {
			missing = append(missing, idx)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	var keptBytes int64
	for _, idx := range kept {
		if _, size, err := a.cfg.Chunks.ChunkExists(ctx, sess.SessionID, idx); err == nil {
			keptBytes += size
		}
	}
	if kept == nil {
		kept = []int{}
	}
	if err := a.cfg.Sessions.SetChunks(ctx, sess.SessionID, kept, keptBytes); err != nil {
		return nil, fmt.Errorf("failed to reconcile session chunks: %w", err)
	}
	return missing, nil
}

func (a *Assembler) fail(ctx context.Context, sess *models.UploadSession, msg string) {
	ctx = context.WithoutCancel(ctx)
	if err := a.cfg.Sessions.MarkFailed(ctx, sess.SessionID, msg); err != nil {
		slog.Error("failed to mark session failed", "session_id", sess.SessionID, "error", err)
	}
	if err := a.cfg.Chunks.DeleteSession(ctx, sess.SessionID); err != nil {
		slog.Warn("failed to remove session artifacts", "session_id", sess.SessionID, "error", err)
	}
	metrics.UploadSessionsTotal.WithLabelValues("failed").Inc()
	slog.Warn("upload session failed", "session_id", sess.SessionID, "error", msg)
}

func (a *Assembler) load(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	sess, err := a.cfg.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return sess, nil
}

func storedResult(sess *models.UploadSession) FinalizeResult {
	res := FinalizeResult{SessionID: sess.SessionID, Skipped: sess.Skipped}
	if sess.Fingerprint != nil {
		res.Fingerprint = *sess.Fingerprint
	}
	if sess.DestinationPath != nil {
		res.Destination = *sess.DestinationPath
	}
	return res
}

func errorMessage(sess *models.UploadSession) string {
	if sess.ErrorMessage == nil {
		return "unknown error"
	}
	return *sess.ErrorMessage
}

// Status returns the stored session.
func (a *Assembler) Status(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	return a.load(ctx, sessionID)
}

// Pause marks a session paused; the next chunk or Resume continues it.
// Pausing a paused session is a no-op.
func (a *Assembler) Pause(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	release := a.locks.exclusive(sessionID)
	defer release()

	sess, err := a.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionPaused {
		return sess, nil
	}
	if sess.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionClosed, sessionID, sess.Status)
	}

	if err := a.cfg.Sessions.UpdateStatus(ctx, sessionID, models.SessionPaused, nil); err != nil {
		return nil, fmt.Errorf("failed to pause session: %w", err)
	}
	metrics.UploadSessionsTotal.WithLabelValues("paused").Inc()
	slog.Info("upload session paused", "session_id", sessionID)
	return a.load(ctx, sessionID)
}

// Resume moves a paused session back to in_progress.
func (a *Assembler) Resume(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	release := a.locks.exclusive(sessionID)
	defer release()

	sess, err := a.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case models.SessionInProgress:
		return sess, nil
	case models.SessionCompleted, models.SessionFailed:
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionClosed, sessionID, sess.Status)
	}

	if err := a.resume(ctx, sessionID); err != nil {
		return nil, err
	}
	return a.load(ctx, sessionID)
}

// resume tolerates a concurrent resume that already won.
func (a *Assembler) resume(ctx context.Context, sessionID string) error {
	err := a.cfg.Sessions.UpdateStatus(ctx, sessionID, models.SessionInProgress, nil)
	if err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
		return fmt.Errorf("failed to resume session: %w", err)
	}
	if err == nil {
		metrics.UploadSessionsTotal.WithLabelValues("resumed").Inc()
		slog.Info("upload session resumed", "session_id", sessionID)
	}
	return nil
}

// Cancel removes the session's artifacts and marks it failed as cancelled.
func (a *Assembler) Cancel(ctx context.Context, sessionID string) error {
	release := a.locks.exclusive(sessionID)
	defer release()

	sess, err := a.load(ctx, sessionID)
	if err != nil {
		return err
	}
	switch sess.Status {
	case models.SessionCompleted:
		return fmt.Errorf("%w: session %s is completed", ErrSessionClosed, sessionID)
	case models.SessionFailed:
		return nil
	}

	if err := a.cfg.Chunks.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to remove session artifacts: %w", err)
	}
	if err := a.cfg.Sessions.MarkFailed(ctx, sessionID, models.SessionReasonCancelled); err != nil {
		return fmt.Errorf("failed to cancel session: %w", err)
	}

	metrics.UploadSessionsTotal.WithLabelValues("cancelled").Inc()
	slog.Info("upload session cancelled",
		"session_id", sessionID,
		"received_chunks", len(sess.ReceivedChunks),
		"total_chunks", sess.TotalChunks,
	)
	return nil
}

// Shutdown stops accepting chunks and finalizations and waits for the running
// ones. Returns false when ctx ended first.
func (a *Assembler) Shutdown(ctx context.Context) bool {
	slog.Info("upload assembler shutting down", "active_operations", a.tracker.count())
	return a.tracker.wait(ctx)
}
