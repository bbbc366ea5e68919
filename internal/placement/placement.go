// Package placement decides whether content is already archived and, if not,
// where in the year/month archive tree it goes.
package placement

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

// maxCollisionSuffix bounds the name_N search.
const maxCollisionSuffix = 100000

// Resolution is the dedup verdict for one fingerprint.
// Existing is nil when the content has never been archived.
type Resolution struct {
	Existing *models.FileRecord
}

// IsNew reports whether the content still has to be archived.
func (r Resolution) IsNew() bool {
	return r.Existing == nil
}

// Resolver resolves duplicates against the metadata store and picks destinations.
type Resolver struct {
	files repository.FileRecordRepository
	root  string

	// mu serializes destination choice; reserved holds names chosen but not yet released.
	mu       sync.Mutex
	reserved map[string]struct{}

	// claimed maps a fingerprint to a channel closed on Release.
	claimMu sync.Mutex
	claimed map[string]chan struct{}
}

// NewResolver creates a Resolver that places files under archiveRoot.
func NewResolver(files repository.FileRecordRepository, archiveRoot string) *Resolver {
	return &Resolver{
		files:    files,
		root:     archiveRoot,
		reserved: make(map[string]struct{}),
		claimed:  make(map[string]chan struct{}),
	}
}

// Root returns the archive root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve looks fp up in the metadata store.
func (r *Resolver) Resolve(ctx context.Context, fp string) (Resolution, error) {
	rec, err := r.files.GetByFingerprint(ctx, fp)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	return Resolution{Existing: rec}, nil
}

// Claim marks fp as being ingested by the caller, waiting while another worker
// in this process holds it. Callers must Resolve again after Claim returns,
// since the previous holder may have archived the content meanwhile.
func (r *Resolver) Claim(ctx context.Context, fp string) error {
	for {
		r.claimMu.Lock()
		done, held := r.claimed[fp]
		if !held {
			r.claimed[fp] = make(chan struct{})
			r.claimMu.Unlock()
			return nil
		}
		r.claimMu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release drops a claim taken with Claim and wakes its waiters.
func (r *Resolver) Release(fp string) {
	r.claimMu.Lock()
	if done, held := r.claimed[fp]; held {
		close(done)
		delete(r.claimed, fp)
	}
	r.claimMu.Unlock()
}

// MonthDir names the month directory, e.g. "03_March".
func MonthDir(t time.Time) string {
	return fmt.Sprintf("%02d_%s", int(t.Month()), t.Month().String())
}

// DatedDir returns <root>/<YYYY>/<MM_MonthName>.
func DatedDir(root string, t time.Time) string {
	return filepath.Join(root, strconv.Itoa(t.Year()), MonthDir(t))
}

// Destination returns a free path for name in the month directory of date,
// creating the directory. An existing name gets a _1, _2, ... suffix before the
// extension.
//
// The existence check and the later write are not atomic with respect to other
// processes. Within this process the chosen path stays reserved until
// ReleaseDestination is called.
func (r *Resolver) Destination(name string, date time.Time) (string, error) {
	dir := DatedDir(r.root, date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	for n := 1; r.taken(candidate); n++ {
		if n > maxCollisionSuffix {
			return "", fmt.Errorf("no free name for %s in %s", name, dir)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}

	r.reserved[candidate] = struct{}{}
	return candidate, nil
}

// taken must be called with mu held.
func (r *Resolver) taken(path string) bool {
	if _, ok := r.reserved[path]; ok {
		return true
	}
	_, err := os.Lstat(path)
	return err == nil
}

// ReleaseDestination drops the in-process reservation of path. Call it once the
// file has been written or abandoned.
func (r *Resolver) ReleaseDestination(path string) {
	r.mu.Lock()
	delete(r.reserved, path)
	r.mu.Unlock()
}

// EffectiveDate picks the date that decides a file's archive directory: the EXIF
// capture time for photos, else modTime, else now. captured is true when the
// date came from EXIF.
func EffectiveDate(path string, kind models.MediaKind, modTime time.Time) (date time.Time, captured bool) {
	if kind == models.MediaKindPhoto {
		t, err := CaptureTime(path)
		if err == nil {
			return t, true
		}
		slog.Debug("no exif capture time", "path", path, "error", err)
	}
	if !modTime.IsZero() {
		return modTime, false
	}
	return time.Now(), false
}

// CaptureTime reads DateTimeOriginal, falling back to DateTime, from the EXIF
// block of the image at path.
func CaptureTime(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode exif: %w", err)
	}
	t, err := x.DateTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read exif date: %w", err)
	}
	if t.IsZero() {
		return time.Time{}, fmt.Errorf("exif date is zero")
	}
	return t, nil
}
