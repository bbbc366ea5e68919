package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjmerc/mediavault/internal/metrics"
	"github.com/fjmerc/mediavault/internal/models"
)

// Default maintenance settings.
const (
	DefaultStaleAge  = 24 * time.Hour
	DefaultRetention = 7 * 24 * time.Hour
)

// sessionLister is implemented by chunk stores that can enumerate staged sessions.
type sessionLister interface {
	SessionIDs() ([]string, error)
}

// SweepStale fails non-terminal sessions idle for longer than maxAge as expired
// and removes their artifacts. Staged directories without a live session are
// removed as well. Returns the number of sessions expired.
func (a *Assembler) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultStaleAge
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	stale, err := a.cfg.Sessions.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, s := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if a.expire(ctx, s.SessionID, cutoff) {
			expired++
		}
	}

	a.removeOrphans(ctx)
	return expired, nil
}

// expire re-reads the session under its lock so a chunk that arrived after
// ListStale keeps it alive.
func (a *Assembler) expire(ctx context.Context, sessionID string, cutoff time.Time) bool {
	release := a.locks.exclusive(sessionID)
	defer release()

	sess, err := a.cfg.Sessions.GetByID(ctx, sessionID)
	if err != nil || sess == nil {
		return false
	}
	if sess.Status.IsTerminal() || !sess.UpdatedAt.Before(cutoff) {
		return false
	}

	if err := a.cfg.Chunks.DeleteSession(ctx, sessionID); err != nil {
		slog.Warn("failed to remove stale session artifacts", "session_id", sessionID, "error", err)
	}
	if err := a.cfg.Sessions.MarkFailed(ctx, sessionID, models.SessionReasonExpired); err != nil {
		slog.Error("failed to expire session", "session_id", sessionID, "error", err)
		return false
	}

	metrics.UploadSessionsTotal.WithLabelValues("expired").Inc()
	slog.Info("upload session expired",
		"session_id", sessionID,
		"last_activity", sess.UpdatedAt,
		"received_chunks", len(sess.ReceivedChunks),
		"total_chunks", sess.TotalChunks,
	)
	return true
}

// removeOrphans deletes staged directories whose session is gone or terminal.
func (a *Assembler) removeOrphans(ctx context.Context) {
	lister, ok := a.cfg.Chunks.(sessionLister)
	if !ok {
		return
	}
	ids, err := lister.SessionIDs()
	if err != nil {
		slog.Warn("failed to list staged sessions", "error", err)
		return
	}

	for _, id := range ids {
		release := a.locks.exclusive(id)
		sess, err := a.cfg.Sessions.GetByID(ctx, id)
		if err == nil && (sess == nil || sess.Status.IsTerminal()) {
			if err := a.cfg.Chunks.DeleteSession(ctx, id); err != nil {
				slog.Warn("failed to remove orphaned staging directory", "session_id", id, "error", err)
			} else {
				slog.Info("removed orphaned staging directory", "session_id", id)
			}
		}
		release()
	}
}

// PurgeTerminal deletes completed and failed sessions last updated before the
// retention window.
func (a *Assembler) PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	n, err := a.cfg.Sessions.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("purged finished upload sessions", "count", n)
	}
	return n, nil
}

// SweepOptions configures StartSweepWorker.
type SweepOptions struct {
	Interval  time.Duration
	StaleAge  time.Duration
	Retention time.Duration
}

// StartSweepWorker runs SweepStale and PurgeTerminal immediately and then on
// every interval until ctx is cancelled.
func (a *Assembler) StartSweepWorker(ctx context.Context, opts SweepOptions) {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	slog.Info("session sweep worker started",
		"interval", opts.Interval,
		"stale_age", opts.StaleAge,
		"retention", opts.Retention,
	)

	a.sweep(ctx, opts)
	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweep worker shutting down")
			return
		case <-ticker.C:
			a.sweep(ctx, opts)
		}
	}
}

func (a *Assembler) sweep(ctx context.Context, opts SweepOptions) {
	start := time.Now()

	expired, err := a.SweepStale(ctx, opts.StaleAge)
	if err != nil {
		slog.Error("stale session sweep failed", "error", err)
	}
	purged, err := a.PurgeTerminal(ctx, opts.Retention)
	if err != nil {
		slog.Error("session purge failed", "error", err)
	}

	if expired > 0 || purged > 0 {
		slog.Info("session sweep completed", "expired", expired, "purged", purged, "duration", time.Since(start))
	} else {
		slog.Debug("session sweep completed", "duration", time.Since(start))
	}
}

// Recover reconciles every non-terminal session with the chunk store after a
// restart, forgetting recorded chunks whose artifact vanished so clients send
// them again. Returns the number of sessions changed.
func (a *Assembler) Recover(ctx context.Context) (int, error) {
	sessions, err := a.cfg.Sessions.ListByStatus(ctx, models.SessionInProgress, models.SessionPaused)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range sessions {
		sess := &sessions[i]
		release := a.locks.exclusive(sess.SessionID)
		missing, err := a.reconcile(ctx, sess)
		release()

		if err != nil {
			slog.Error("failed to recover upload session", "session_id", sess.SessionID, "error", err)
			continue
		}
		if len(missing) > 0 {
			changed++
			slog.Warn("upload session lost staged chunks",
				"session_id", sess.SessionID,
				"missing", missing,
			)
		}
	}

	slog.Info("upload session recovery complete", "sessions", len(sessions), "changed", changed)
	return changed, nil
}
