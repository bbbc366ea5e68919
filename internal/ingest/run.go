package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fjmerc/mediavault/internal/device"
	"github.com/fjmerc/mediavault/internal/metrics"
	"github.com/fjmerc/mediavault/internal/models"
)

// Run states reported through Progress.Status.
const (
	RunStatusRunning = "running"
)

// Progress is a snapshot of a bulk run.
type Progress struct {
	RunID          string    `json:"run_id"`
	TotalFiles     int       `json:"total_files"`
	ProcessedFiles int       `json:"processed_files"`
	IngestedFiles  int       `json:"ingested_files"`
	SkippedFiles   int       `json:"skipped_files"`
	FailedFiles    int       `json:"failed_files"`
	TotalBytes     int64     `json:"total_bytes"`
	ProcessedBytes int64     `json:"processed_bytes"`
	CurrentFile    string    `json:"current_file"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
}

// Percentage returns processed files as a percentage of the total.
func (p Progress) Percentage() float64 {
	if p.TotalFiles == 0 {
		return 0
	}
	return float64(p.ProcessedFiles) / float64(p.TotalFiles) * 100
}

// ETA extrapolates the remaining time from the file rate so far.
// Returns -1 when no estimate is possible yet.
func (p Progress) ETA(now time.Time) time.Duration {
	if p.StartedAt.IsZero() || p.ProcessedFiles == 0 {
		return -1
	}
	elapsed := now.Sub(p.StartedAt)
	if elapsed <= 0 {
		return -1
	}
	perFile := elapsed / time.Duration(p.ProcessedFiles)
	return perFile * time.Duration(p.TotalFiles-p.ProcessedFiles)
}

// Observer receives progress snapshots. It is called from one goroutine at a time.
type Observer func(Progress)

// RunOptions configures a bulk run.
type RunOptions struct {
	Device models.DeviceInfo
	Kind   models.SyncKind

	// Workers > 1 ingests through a bounded pool.
	Workers int

	// DeleteAfterVerify removes a device file once its archived copy
	// re-fingerprints equal to the source.
	DeleteAfterVerify bool

	// RunID is generated when empty.
	RunID string
}

// Run backs up every candidate file of a device and records the run.
// Cancelling ctx stops the run between files: a file already being ingested
// is finished, and the record is still stored.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (*models.SyncRecord, error) {
	if c.cfg.Lister == nil {
		return nil, fmt.Errorf("device lister is not configured")
	}
	if c.cfg.Syncs == nil {
		return nil, fmt.Errorf("sync record repository is not configured")
	}
	if opts.Kind == "" {
		opts.Kind = models.SyncManual
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	rec := &models.SyncRecord{
		RunID:           opts.RunID,
		Kind:            opts.Kind,
		Status:          models.SyncInProgress,
		StartedAt:       time.Now().UTC(),
		DeviceID:        opts.Device.ID,
		DestinationRoot: c.cfg.Resolver.Root(),
	}
	if err := c.cfg.Syncs.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	logger := slog.With("run_id", rec.RunID, "device_id", opts.Device.ID)
	logger.Info("sync started", "kind", opts.Kind, "root", opts.Device.Root, "workers", opts.Workers)

	candidates, err := c.cfg.Lister.ListCandidateFiles(ctx, opts.Device)
	if err != nil {
		msg := err.Error()
		rec.ErrorMessage = &msg
		c.finish(ctx, rec, models.SyncFailed, models.OutcomeFailed)
		logger.Error("sync failed", "error", err)
		return rec, fmt.Errorf("failed to list device files: %w", err)
	}

	t := &tracker{
		observer: c.cfg.Observer,
		progress: Progress{
			RunID:      rec.RunID,
			TotalFiles: len(candidates),
			Status:     RunStatusRunning,
			StartedAt:  rec.StartedAt,
		},
	}
	for _, cand := range candidates {
		t.progress.TotalBytes += cand.Size
	}
	t.emit()

	// A stop lets the file in hand finish; cancellation is checked between files.
	fileCtx := context.WithoutCancel(ctx)
	process := func(cand device.Candidate) {
		t.current(cand.Name)
		res, _ := c.Ingest(fileCtx, Source{
			Path:     cand.Path,
			Name:     cand.Name,
			DeviceID: opts.Device.ID,
			Method:   models.MethodLocalCable,
			ModTime:  cand.ModTime,
		})
		if res.Success && opts.DeleteAfterVerify {
			c.deleteAfterVerify(cand, res)
		}
		t.record(cand, res)
	}

	if opts.Workers <= 1 {
		for _, cand := range candidates {
			if ctx.Err() != nil {
				break
			}
			process(cand)
		}
	} else {
		c.runPool(ctx, candidates, opts.Workers, process)
	}

	status, outcome := models.SyncSuccess, models.OutcomeCompleted
	if t.progress.FailedFiles > 0 {
		status, outcome = models.SyncPartial, models.OutcomeCompletedWithErrors
	}
	if ctx.Err() != nil {
		outcome = models.OutcomeStopped
	}

	rec.FilesProcessed = t.progress.ProcessedFiles
	rec.FilesIngested = t.progress.IngestedFiles
	rec.FilesSkipped = t.progress.SkippedFiles
	rec.FilesFailed = t.progress.FailedFiles
	rec.BytesProcessed = t.progress.ProcessedBytes
	rec.FailedFiles = t.failed
	c.finish(ctx, rec, status, outcome)

	t.progress.Status = string(outcome)
	t.progress.CurrentFile = ""
	t.emit()

	logger.Info("sync finished",
		"outcome", outcome,
		"ingested", rec.FilesIngested,
		"skipped", rec.FilesSkipped,
		"failed", rec.FilesFailed,
		"duration_ms", rec.Duration.Milliseconds(),
	)
	return rec, nil
}

// runPool feeds candidates to workers until the list is exhausted or ctx is done.
func (c *Coordinator) runPool(ctx context.Context, candidates []device.Candidate, workers int, process func(device.Candidate)) {
	jobs := make(chan device.Candidate)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range jobs {
				process(cand)
			}
		}()
	}

feed:
	for _, cand := range candidates {
		// select picks at random among ready cases, so check first
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- cand:
		}
	}
	close(jobs)
	wg.Wait()
}

// finish stores the terminal state of rec even when ctx is already cancelled.
func (c *Coordinator) finish(ctx context.Context, rec *models.SyncRecord, status models.SyncStatus, outcome models.RunOutcome) {
	ended := time.Now().UTC()
	rec.Status = status
	rec.Outcome = &outcome
	rec.EndedAt = &ended
	rec.Duration = ended.Sub(rec.StartedAt)

	metrics.SyncRunsTotal.WithLabelValues(string(outcome)).Inc()

	if err := c.cfg.Syncs.Finish(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("failed to record sync result", "run_id", rec.RunID, "error", err)
	}
}

func (c *Coordinator) deleteAfterVerify(cand device.Candidate, res Result) {
	if res.Record == nil {
		return
	}
	ok, err := c.Verify(res.Record)
	if err != nil || !ok {
		slog.Warn("archived copy did not verify, keeping device file",
			"path", cand.Path,
			"fingerprint", res.Fingerprint,
			"error", err,
		)
		return
	}
	if err := os.Remove(cand.Path); err != nil {
		slog.Error("failed to delete device file", "path", cand.Path, "error", err)
		return
	}
	slog.Info("deleted device file after verification", "path", cand.Path, "fingerprint", res.Fingerprint)
}

// tracker accumulates progress across workers.
type tracker struct {
	mu       sync.Mutex
	observer Observer
	progress Progress
	failed   []models.FailedFile
}

func (t *tracker) current(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.CurrentFile = name
	t.emitLocked()
}

func (t *tracker) record(cand device.Candidate, res Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress.ProcessedFiles++
	t.progress.ProcessedBytes += cand.Size
	switch {
	case res.Err != nil:
		t.progress.FailedFiles++
		t.failed = append(t.failed, models.FailedFile{Path: cand.Path, Error: errorText(res.Err)})
	case res.Skipped:
		t.progress.SkippedFiles++
	default:
		t.progress.IngestedFiles++
	}
	t.emitLocked()
}

func (t *tracker) emit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitLocked()
}

func (t *tracker) emitLocked() {
	if t.observer != nil {
		t.observer(t.progress)
	}
}

func errorText(err error) string {
	if errors.Is(err, context.Canceled) {
		return "stopped"
	}
	return err.Error()
}
