package upload

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// tracker counts in-flight chunk writes and finalizations so shutdown can
// wait for them.
type tracker struct {
	mu           sync.Mutex
	next         uint64
	active       map[uint64]activeOp
	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

type activeOp struct {
	name      string
	sessionID string
	started   time.Time
}

func newTracker() *tracker {
	return &tracker{active: make(map[uint64]activeOp)}
}

// begin registers an operation. ok is false once shutdown started.
func (t *tracker) begin(name, sessionID string) (id uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Checked under the lock so wait never races an Add.
	if t.shuttingDown.Load() {
		return 0, false
	}
	t.next++
	t.active[t.next] = activeOp{name: name, sessionID: sessionID, started: time.Now()}
	t.wg.Add(1)
	return t.next, true
}

func (t *tracker) end(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.active, id)
	t.wg.Done()
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// wait rejects new operations and blocks until the running ones end or ctx is done.
func (t *tracker) wait(ctx context.Context) bool {
	t.mu.Lock()
	t.shuttingDown.Store(true)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("upload operations drained")
		return true
	case <-ctx.Done():
		t.mu.Lock()
		for _, op := range t.active {
			slog.Warn("abandoned upload operation",
				"operation", op.name,
				"session_id", op.sessionID,
				"duration", time.Since(op.started),
			)
		}
		t.mu.Unlock()
		return false
	}
}
