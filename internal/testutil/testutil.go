package testutil

import (
	"bytes"
	"database/sql"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjmerc/mediavault/internal/config"
	"github.com/fjmerc/mediavault/internal/database"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/repository/sqlite"
)

// SetupTestDB creates an in-memory SQLite database for testing
// The database is automatically closed when the test completes
func SetupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.Initialize(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// SetupTestConfig creates a test configuration with temporary directories
// All temporary directories are automatically cleaned up after the test
func SetupTestConfig(t testing.TB) *config.Config {
	t.Helper()

	tmpDir := t.TempDir()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	cfg.Port = "8080"
	cfg.DBType = config.DatabaseTypeSQLite
	cfg.DBPath = ":memory:"
	cfg.ArchiveDir = filepath.Join(tmpDir, "archive")
	cfg.TempDir = filepath.Join(tmpDir, "uploads")
	cfg.EncryptedDir = filepath.Join(tmpDir, "encrypted")
	cfg.ThumbnailDir = filepath.Join(tmpDir, "thumbnails")
	cfg.EncryptionEnabled = false
	cfg.EncryptionKey = ""
	cfg.EncryptionKeyPath = filepath.Join(tmpDir, "encryption.key")
	cfg.FingerprintMode = config.FingerprintModeFull
	cfg.UploadChunkSize = 1024
	cfg.MaxUploadSize = 10 * 1024 * 1024
	cfg.SyncIntervalMinutes = 0
	cfg.ThumbnailsEnabled = false
	cfg.MinFreeSpaceMB = 0
	cfg.S3 = nil

	return cfg
}

// SetupTestRepos returns SQLite-backed repositories over a fresh in-memory database.
func SetupTestRepos(t testing.TB) (*repository.Repositories, *config.Config) {
	t.Helper()

	db := SetupTestDB(t)
	repos, err := sqlite.NewRepositories(db)
	if err != nil {
		t.Fatalf("failed to create repositories: %v", err)
	}
	return repos, SetupTestConfig(t)
}

// WriteFile creates path (and its parents) with content and the given mtime.
// A zero mtime leaves the filesystem default.
func WriteFile(t testing.TB, path string, content []byte, mtime time.Time) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("failed to set mtime: %v", err)
		}
	}
	return path
}

// AssertStatusCode checks that the HTTP response status code matches expected
func AssertStatusCode(t testing.TB, rr *httptest.ResponseRecorder, wantStatus int) {
	t.Helper()

	if rr.Code != wantStatus {
		t.Errorf("status code = %d, want %d\nBody: %s", rr.Code, wantStatus, rr.Body.String())
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t testing.TB, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertContains fails the test if haystack doesn't contain needle
func AssertContains(t testing.TB, haystack, needle string) {
	t.Helper()

	if !bytes.Contains([]byte(haystack), []byte(needle)) {
		t.Errorf("expected %q to contain %q", haystack, needle)
	}
}
