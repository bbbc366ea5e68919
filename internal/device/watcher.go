package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fjmerc/mediavault/internal/models"
)

const defaultDebounce = 2 * time.Second

// Watcher reports devices mounted under a watch directory, e.g. /media/<user>.
// A mount is reported once it has been quiet for the debounce interval and
// contains a media folder.
type Watcher struct {
	dir      string
	debounce time.Duration
}

// NewWatcher creates a Watcher. A non-positive debounce uses two seconds.
func NewWatcher(dir string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{dir: dir, debounce: debounce}
}

// Run watches until ctx is cancelled, calling onDevice for each new device.
// onDevice is called from a single goroutine.
func (w *Watcher) Run(ctx context.Context, onDevice func(models.DeviceInfo)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	slog.Info("watching for devices", "dir", w.dir, "debounce", w.debounce)

	pending := make(map[string]time.Time)
	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// Events from inside the mount are attributed to the mount itself.
			root := mountRoot(w.dir, ev.Name)
			if root == "" {
				continue
			}
			if ev.Op&fsnotify.Create != 0 && root == ev.Name {
				// Watch the new mount one level deep so DCIM creation is seen.
				if fi, err := os.Stat(root); err == nil && fi.IsDir() {
					_ = fw.Add(root)
				}
			}
			pending[root] = time.Now()

		case <-ticker.C:
			now := time.Now()
			for root, last := range pending {
				if now.Sub(last) < w.debounce {
					continue
				}
				delete(pending, root)

				dev, err := Detect(root)
				if err != nil {
					slog.Debug("mount has no media folder", "root", root, "error", err)
					continue
				}
				slog.Info("device detected", "device_id", dev.ID, "name", dev.Name, "root", dev.Root)
				onDevice(*dev)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("device watcher error", "error", err)
		}
	}
}

// mountRoot maps an event path to the direct child of dir containing it.
func mountRoot(dir, name string) string {
	rel, err := filepath.Rel(dir, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return filepath.Join(dir, first)
}
