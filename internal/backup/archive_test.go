package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fjmerc/mediavault/internal/fingerprint"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/repository/mock"
	"github.com/fjmerc/mediavault/internal/storage"
	"github.com/fjmerc/mediavault/internal/testutil"
)

// hashVerifier re-fingerprints with full hashing, like the coordinator does
// for full-mode records.
type hashVerifier struct {
	hasher *fingerprint.Hasher
}

func newHashVerifier(t *testing.T) *hashVerifier {
	t.Helper()
	h, err := fingerprint.New(fingerprint.ModeFull, 0)
	if err != nil {
		t.Fatalf("fingerprint.New() error: %v", err)
	}
	return &hashVerifier{hasher: h}
}

func (v *hashVerifier) Verify(rec *models.FileRecord) (bool, error) {
	got, err := v.hasher.SumFile(rec.DestinationPath)
	if err != nil {
		return false, err
	}
	return got == rec.Fingerprint, nil
}

// memMirror is an in-memory storage.Mirror.
type memMirror struct {
	mu      sync.Mutex
	objects map[string][]byte

	DownloadError error
}

var _ storage.Mirror = (*memMirror)(nil)

func newMemMirror() *memMirror {
	return &memMirror{objects: make(map[string][]byte)}
}

func (m *memMirror) Upload(ctx context.Context, key, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return "mem://" + key, nil
}

func (m *memMirror) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memMirror) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	if m.DownloadError != nil {
		return 0, m.DownloadError
	}
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("object %s not found", key)
	}
	n, err := io.Copy(w, bytes.NewReader(data))
	return n, err
}

type archiveEnv struct {
	dir       string
	files     *mock.FileRecordRepository
	syncs     *mock.SyncRecordRepository
	verifier  *hashVerifier
	encryptor *storage.Encryptor
	mirror    *memMirror
	m         *Maintainer
}

func newArchiveEnv(t *testing.T) *archiveEnv {
	t.Helper()

	enc, err := storage.NewEncryptor(bytes.Repeat([]byte{7}, 32), 0)
	if err != nil {
		t.Fatalf("NewEncryptor() error: %v", err)
	}

	env := &archiveEnv{
		dir:       t.TempDir(),
		files:     mock.NewFileRecordRepository(),
		syncs:     mock.NewSyncRecordRepository(),
		verifier:  newHashVerifier(t),
		encryptor: enc,
		mirror:    newMemMirror(),
	}
	env.m, err = NewMaintainer(ArchiveConfig{
		Files:      env.files,
		Syncs:      env.syncs,
		Verifier:   env.verifier,
		ArchiveDir: env.dir,
		Encryptor:  enc,
		Mirror:     env.mirror,
	})
	if err != nil {
		t.Fatalf("NewMaintainer() error: %v", err)
	}
	return env
}

// archive writes content under the archive tree and stores a record for it.
// With encrypt, an encrypted copy is written next to it.
func (e *archiveEnv) archive(t *testing.T, name, content string, encrypt bool) *models.FileRecord {
	t.Helper()

	path := testutil.WriteFile(t, filepath.Join(e.dir, "2023", "06_June", name), []byte(content), june2023)
	fp, err := e.verifier.hasher.SumFile(path)
	if err != nil {
		t.Fatal(err)
	}

	rec := &models.FileRecord{
		Fingerprint:      fp,
		FingerprintMode:  string(fingerprint.ModeFull),
		OriginalFilename: name,
		FileSize:         int64(len(content)),
		MediaKind:        models.MediaKindPhoto,
		Year:             2023,
		Month:            6,
		DestinationPath:  path,
		CreatedAt:        june2023,
		IngestionMethod:  models.MethodLocalCable,
	}
	if encrypt {
		encPath := path + ".enc"
		if _, err := e.encryptor.EncryptFile(path, encPath); err != nil {
			t.Fatalf("EncryptFile() error: %v", err)
		}
		rec.EncryptedPath = &encPath
		rec.Encrypted = true
	}
	if err := e.files.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return rec
}

func TestNewMaintainer_Validation(t *testing.T) {
	files := mock.NewFileRecordRepository()
	v := newHashVerifier(t)

	tests := []struct {
		name string
		cfg  ArchiveConfig
	}{
		{"no files", ArchiveConfig{Verifier: v, ArchiveDir: "/a"}},
		{"no verifier", ArchiveConfig{Files: files, ArchiveDir: "/a"}},
		{"no archive dir", ArchiveConfig{Files: files, Verifier: v}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMaintainer(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestVerifyArchive(t *testing.T) {
	env := newArchiveEnv(t)
	ctx := context.Background()

	good := env.archive(t, "good.jpg", "good content", false)
	missing := env.archive(t, "missing.jpg", "missing content", false)
	changed := env.archive(t, "changed.jpg", "original content", false)

	if err := os.Remove(missing.DestinationPath); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(changed.DestinationPath, []byte("bit rot"), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := env.m.VerifyArchive(ctx, VerifyOptions{})
	if err != nil {
		t.Fatalf("VerifyArchive() error: %v", err)
	}
	if report.Checked != 3 || report.Verified != 1 || report.Missing != 1 || report.Mismatched != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.OK() {
		t.Error("report with problems should not be OK")
	}
	if len(report.Problems) != 2 {
		t.Errorf("problems = %+v", report.Problems)
	}

	rec, err := env.files.GetByID(ctx, good.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.LastVerified == nil {
		t.Error("verified record should have last_verified set")
	}
	rec, _ = env.files.GetByID(ctx, changed.ID)
	if rec.LastVerified != nil {
		t.Error("mismatched record must not be stamped")
	}

	// Only unverified records are re-checked
	report, err = env.m.VerifyArchive(ctx, VerifyOptions{OnlyUnverified: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 2 {
		t.Errorf("OnlyUnverified checked %d, want 2", report.Checked)
	}

	report, err = env.m.VerifyArchive(ctx, VerifyOptions{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 1 {
		t.Errorf("Limit checked %d, want 1", report.Checked)
	}
}

func TestVerifyArchive_RepairFromEncryptedCopy(t *testing.T) {
	env := newArchiveEnv(t)
	ctx := context.Background()

	rec := env.archive(t, "a.jpg", "photo bytes to keep", true)
	if err := os.Remove(rec.DestinationPath); err != nil {
		t.Fatal(err)
	}

	report, err := env.m.VerifyArchive(ctx, VerifyOptions{Repair: true})
	if err != nil {
		t.Fatalf("VerifyArchive() error: %v", err)
	}
	if report.Repaired != 1 || report.Verified != 1 || !report.OK() {
		t.Errorf("report = %+v", report)
	}

	data, err := os.ReadFile(rec.DestinationPath)
	if err != nil {
		t.Fatalf("repaired file missing: %v", err)
	}
	if string(data) != "photo bytes to keep" {
		t.Errorf("repaired content = %q", data)
	}
}

func TestVerifyArchive_RepairImpossible(t *testing.T) {
	env := newArchiveEnv(t)
	env.m.cfg.Mirror = nil

	rec := env.archive(t, "a.jpg", "only copy", false)
	if err := os.Remove(rec.DestinationPath); err != nil {
		t.Fatal(err)
	}

	report, err := env.m.VerifyArchive(context.Background(), VerifyOptions{Repair: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Missing != 1 || report.Repaired != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestVerifyArchive_ListError(t *testing.T) {
	env := newArchiveEnv(t)
	env.files.ListError = errors.New("db down")

	if _, err := env.m.VerifyArchive(context.Background(), VerifyOptions{}); err == nil {
		t.Error("expected error when listing fails")
	}
}

func TestVerifyArchive_Cancelled(t *testing.T) {
	env := newArchiveEnv(t)
	env.archive(t, "a.jpg", "content", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.m.VerifyArchive(ctx, VerifyOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("VerifyArchive() error = %v, want context.Canceled", err)
	}
}

func TestRestoreFile(t *testing.T) {
	env := newArchiveEnv(t)
	ctx := context.Background()
	rec := env.archive(t, "a.jpg", "restore me", false)

	// Present in place
	got, err := env.m.RestoreFile(ctx, rec.Fingerprint, "")
	if err != nil || got != rec.DestinationPath {
		t.Fatalf("RestoreFile(in place) = %q, %v", got, err)
	}

	// Copy elsewhere
	dest := filepath.Join(t.TempDir(), "out", "a.jpg")
	got, err = env.m.RestoreFile(ctx, rec.Fingerprint, dest)
	if err != nil {
		t.Fatalf("RestoreFile() error: %v", err)
	}
	data, err := os.ReadFile(got)
	if err != nil || string(data) != "restore me" {
		t.Errorf("restored content = %q, %v", data, err)
	}

	// Existing destination is never overwritten
	if _, err := env.m.RestoreFile(ctx, rec.Fingerprint, dest); err == nil {
		t.Error("expected error for existing destination")
	}

	if _, err := env.m.RestoreFile(ctx, "unknown", ""); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("unknown fingerprint error = %v, want ErrNotFound", err)
	}
}

func TestRestoreFile_FromMirror(t *testing.T) {
	env := newArchiveEnv(t)
	ctx := context.Background()

	plain := env.archive(t, "plain.jpg", "mirrored plain", false)
	enc := env.archive(t, "enc.jpg", "mirrored encrypted", true)

	if _, err := env.mirror.Upload(ctx, "2023/06_June/plain.jpg", plain.DestinationPath); err != nil {
		t.Fatal(err)
	}
	if _, err := env.mirror.Upload(ctx, "2023/06_June/enc.jpg.enc", *enc.EncryptedPath); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{plain.DestinationPath, enc.DestinationPath, *enc.EncryptedPath} {
		if err := os.Remove(p); err != nil {
			t.Fatal(err)
		}
	}

	for _, rec := range []*models.FileRecord{plain, enc} {
		got, err := env.m.RestoreFile(ctx, rec.Fingerprint, "")
		if err != nil {
			t.Fatalf("RestoreFile(%s) error: %v", rec.OriginalFilename, err)
		}
		if got != rec.DestinationPath {
			t.Errorf("restored to %s, want %s", got, rec.DestinationPath)
		}
	}

	data, _ := os.ReadFile(enc.DestinationPath)
	if string(data) != "mirrored encrypted" {
		t.Errorf("decrypted content = %q", data)
	}
}

func TestRestoreFile_Mismatch(t *testing.T) {
	env := newArchiveEnv(t)
	ctx := context.Background()

	rec := env.archive(t, "a.jpg", "the real content", false)
	if _, err := env.mirror.Upload(ctx, "2023/06_June/a.jpg", testutil.WriteFile(t, filepath.Join(t.TempDir(), "x"), []byte("other"), time.Time{})); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(rec.DestinationPath); err != nil {
		t.Fatal(err)
	}

	if _, err := env.m.RestoreFile(ctx, rec.Fingerprint, ""); !errors.Is(err, ErrRestoreMismatch) {
		t.Fatalf("RestoreFile() error = %v, want ErrRestoreMismatch", err)
	}
	if _, err := os.Stat(rec.DestinationPath); !os.IsNotExist(err) {
		t.Error("mismatched restore must not leave a file behind")
	}
}

func TestRestoreFile_NoCopy(t *testing.T) {
	env := newArchiveEnv(t)
	env.m.cfg.Mirror = nil

	rec := env.archive(t, "a.jpg", "gone", false)
	if err := os.Remove(rec.DestinationPath); err != nil {
		t.Fatal(err)
	}

	if _, err := env.m.RestoreFile(context.Background(), rec.Fingerprint, ""); !errors.Is(err, ErrNoCopyAvailable) {
		t.Errorf("RestoreFile() error = %v, want ErrNoCopyAvailable", err)
	}
}

func TestMaintainerDelete(t *testing.T) {
	env := newArchiveEnv(t)
	ctx := context.Background()

	rec := env.archive(t, "a.jpg", "delete me", true)
	thumb := testutil.WriteFile(t, filepath.Join(env.dir, ".thumbnails", "a.jpg"), []byte("thumb"), time.Time{})
	stored, _ := env.files.GetByID(ctx, rec.ID)
	stored.ThumbnailPath = &thumb
	// Replace the record so it carries the thumbnail
	if err := env.files.Delete(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.files.Create(ctx, stored); err != nil {
		t.Fatal(err)
	}

	deleted, err := env.m.Delete(ctx, stored.ID)
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if deleted.Fingerprint != rec.Fingerprint {
		t.Errorf("deleted = %+v", deleted)
	}

	for _, p := range []string{rec.DestinationPath, *rec.EncryptedPath, thumb} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", p)
		}
	}
	if n, _ := env.files.Count(ctx); n != 0 {
		t.Errorf("records left = %d", n)
	}

	if _, err := env.m.Delete(ctx, 9999); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Delete(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestMaintainerStats(t *testing.T) {
	env := newArchiveEnv(t)
	ctx := context.Background()

	env.archive(t, "a.jpg", "one", false)
	env.archive(t, "b.jpg", "two", true)
	if err := env.syncs.Create(ctx, &models.SyncRecord{RunID: "r1", Kind: models.SyncManual}); err != nil {
		t.Fatal(err)
	}

	stats, err := env.m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Archive.TotalFiles != 2 || stats.Archive.EncryptedCount != 1 {
		t.Errorf("archive stats = %+v", stats.Archive)
	}
	if stats.Sync == nil || stats.Sync.TotalRuns != 1 {
		t.Errorf("sync stats = %+v", stats.Sync)
	}
	if stats.Disk == nil {
		t.Error("disk stats should be available for a temp directory")
	}

	env.files.StatsError = errors.New("boom")
	if _, err := env.m.Stats(ctx); err == nil {
		t.Error("expected error when archive stats fail")
	}
}
