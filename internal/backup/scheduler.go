package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fjmerc/mediavault/internal/device"
	"github.com/fjmerc/mediavault/internal/ingest"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/webhooks"
)

// orphanScanLimit bounds how many recent runs are checked on start.
const orphanScanLimit = 100

var (
	// ErrSyncAlreadyRunning indicates a device run is already in progress.
	ErrSyncAlreadyRunning = errors.New("another sync is already running")

	// ErrNoDeviceRoot indicates no device root was given or configured.
	ErrNoDeviceRoot = errors.New("no device root configured")

	// ErrSchedulerStopped is returned by triggers after Stop.
	ErrSchedulerStopped = errors.New("scheduler is stopped")
)

// Runner performs one bulk run.
type Runner interface {
	Run(ctx context.Context, opts ingest.RunOptions) (*models.SyncRecord, error)
}

var _ Runner = (*ingest.Coordinator)(nil)

// EventEmitter receives notifications about finished runs.
type EventEmitter interface {
	Emit(event *webhooks.Event)
}

var _ EventEmitter = (*webhooks.Dispatcher)(nil)

// SchedulerConfig configures a Scheduler. Runner and Syncs are required.
type SchedulerConfig struct {
	Runner Runner
	Syncs  repository.SyncRecordRepository

	// Interval > 0 runs DeviceRoot on a timer.
	Interval   time.Duration
	DeviceRoot string

	Workers           int
	DeleteAfterVerify bool

	// Maintainer, when set, verifies newly archived files after each run.
	Maintainer *Maintainer

	// Events is optional.
	Events EventEmitter
}

// Scheduler runs device syncs on a timer and on demand, one at a time.
type Scheduler struct {
	cfg SchedulerConfig

	mu      sync.Mutex
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// busy guards the single sync slot; runWg tracks sync goroutines.
	busy   atomic.Bool
	runWg  sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc

	lastMu  sync.Mutex
	lastRun *models.SyncRecord
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Syncs == nil {
		return nil, fmt.Errorf("sync record repository is required")
	}
	return &Scheduler{cfg: cfg}, nil
}

// Start marks runs interrupted by a previous crash as failed and, when an
// interval is configured, starts the timer loop. Syncs started afterwards are
// cancelled by Stop or by ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("scheduler already running")
	}

	s.cleanupOrphanedRuns(ctx)

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.stopCh = make(chan struct{})
	s.running.Store(true)

	if s.cfg.Interval > 0 {
		s.wg.Add(1)
		go s.run(ctx)
	}

	slog.Info("sync scheduler started", "interval", s.cfg.Interval, "device_root", s.cfg.DeviceRoot)
	return nil
}

// Stop ends the timer loop, cancels a running sync and waits for it to record
// its result.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return
	}
	s.running.Store(false)
	close(s.stopCh)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.runWg.Wait()

	slog.Info("sync scheduler stopped")
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Busy reports whether a sync is in progress.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// LastRun returns the most recent run finished by this scheduler, or nil.
func (s *Scheduler) LastRun() *models.SyncRecord {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastRun
}

// cleanupOrphanedRuns fails runs left in progress by a crash.
func (s *Scheduler) cleanupOrphanedRuns(ctx context.Context) {
	recent, err := s.cfg.Syncs.ListRecent(ctx, orphanScanLimit)
	if err != nil {
		slog.Error("failed to check for orphaned sync runs", "error", err)
		return
	}

	for i := range recent {
		rec := &recent[i]
		if rec.Status != models.SyncInProgress {
			continue
		}

		slog.Warn("found orphaned sync run from previous crash, marking as failed", "run_id", rec.RunID)

		ended := time.Now().UTC()
		outcome := models.OutcomeFailed
		msg := "sync interrupted by restart"
		rec.Status = models.SyncFailed
		rec.Outcome = &outcome
		rec.EndedAt = &ended
		rec.Duration = ended.Sub(rec.StartedAt)
		rec.ErrorMessage = &msg
		if err := s.cfg.Syncs.Finish(ctx, rec); err != nil {
			slog.Error("failed to mark orphaned sync run as failed", "run_id", rec.RunID, "error", err)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scheduledRun()
		}
	}
}

func (s *Scheduler) scheduledRun() {
	runID, err := s.TriggerRoot("", models.SyncScheduled)
	switch {
	case err == nil:
		slog.Debug("scheduled sync started", "run_id", runID)
	case errors.Is(err, ErrSyncAlreadyRunning):
		slog.Warn("skipping scheduled sync, another sync is running")
	case errors.Is(err, ErrNoDeviceRoot), errors.Is(err, device.ErrNoMediaFolder):
		slog.Debug("skipping scheduled sync", "reason", err)
	default:
		slog.Info("skipping scheduled sync, device not available", "error", err)
	}
}

// TriggerRoot detects the device mounted at root (the configured device root
// when empty) and starts a sync for it. Returns the run id.
func (s *Scheduler) TriggerRoot(root string, kind models.SyncKind) (string, error) {
	if root == "" {
		root = s.cfg.DeviceRoot
	}
	if root == "" {
		return "", ErrNoDeviceRoot
	}
	dev, err := device.Detect(root)
	if err != nil {
		return "", err
	}
	return s.Trigger(*dev, kind)
}

// Trigger starts a sync of dev in the background and returns its run id, or
// ErrSyncAlreadyRunning when the single sync slot is taken.
func (s *Scheduler) Trigger(dev models.DeviceInfo, kind models.SyncKind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return "", ErrSchedulerStopped
	}
	if !s.busy.CompareAndSwap(false, true) {
		return "", ErrSyncAlreadyRunning
	}

	runID := uuid.NewString()
	s.runWg.Add(1)
	go func() {
		defer s.runWg.Done()
		defer s.busy.Store(false)
		s.execute(s.runCtx, dev, kind, runID)
	}()

	return runID, nil
}

func (s *Scheduler) execute(ctx context.Context, dev models.DeviceInfo, kind models.SyncKind, runID string) {
	rec, err := s.cfg.Runner.Run(ctx, ingest.RunOptions{
		Device:            dev,
		Kind:              kind,
		Workers:           s.cfg.Workers,
		DeleteAfterVerify: s.cfg.DeleteAfterVerify,
		RunID:             runID,
	})
	if err != nil {
		slog.Error("sync failed", "run_id", runID, "device_id", dev.ID, "error", err)
	}
	if rec != nil {
		s.lastMu.Lock()
		s.lastRun = rec
		s.lastMu.Unlock()

		if s.cfg.Events != nil {
			s.cfg.Events.Emit(webhooks.NewSyncEvent(rec))
		}
	}

	if s.cfg.Maintainer == nil || rec == nil || rec.FilesIngested == 0 || ctx.Err() != nil {
		return
	}
	report, err := s.cfg.Maintainer.VerifyArchive(ctx, VerifyOptions{OnlyUnverified: true})
	if err != nil {
		slog.Error("post-sync verification failed", "run_id", runID, "error", err)
		return
	}
	if !report.OK() {
		slog.Warn("post-sync verification found problems",
			"run_id", runID,
			"missing", report.Missing,
			"mismatched", report.Mismatched,
			"errors", report.Errors,
		)
		if s.cfg.Events != nil {
			s.cfg.Events.Emit(webhooks.NewVerifyEvent(webhooks.VerifyData{
				RunID:      runID,
				Checked:    report.Checked,
				Missing:    report.Missing,
				Mismatched: report.Mismatched,
				Errors:     report.Errors,
			}))
		}
	}
}
