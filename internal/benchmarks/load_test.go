package benchmarks

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fjmerc/mediavault/internal/app"
	"github.com/fjmerc/mediavault/internal/testutil"
)

// TestLoadConcurrentDuplicateUploads sends the same content from many
// clients at once. Exactly one copy may reach the archive.
func TestLoadConcurrentDuplicateUploads(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	cfg := testutil.SetupTestConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "load.db")

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, app.Options{})
	if err != nil {
		t.Fatalf("app.Open() error: %v", err)
	}
	defer a.Close()

	assembler := newAssembler(t, a.Coordinator)
	content := testutil.JPEGWithCaptureTime(t, time.Date(2021, time.May, 4, 18, 0, 0, 0, time.UTC))

	const clients = 20
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	start := time.Now()

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := transfer(ctx, assembler, content, 256); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)
	duration := time.Since(start)

	for err := range errs {
		t.Errorf("transfer failed: %v", err)
	}

	count, err := a.Repos.Files.Count(ctx)
	testutil.AssertNoError(t, err)
	if count != 1 {
		t.Errorf("archived records = %d, want 1", count)
	}

	t.Logf("Concurrent duplicate uploads completed:")
	t.Logf("  Clients: %d", clients)
	t.Logf("  Duration: %v", duration)
}

// TestLoadDistinctUploads archives many different files through one
// assembler and checks every one was recorded.
func TestLoadDistinctUploads(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	cfg := testutil.SetupTestConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "load.db")

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, app.Options{})
	if err != nil {
		t.Fatalf("app.Open() error: %v", err)
	}
	defer a.Close()

	assembler := newAssembler(t, a.Coordinator)

	const files = 30
	var wg sync.WaitGroup
	errs := make(chan error, files)
	start := time.Now()

	for i := 0; i < files; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			captured := time.Date(2020, time.Month(i%12+1), i%28+1, 12, 0, 0, 0, time.UTC)
			content := testutil.JPEGWithCaptureTime(t, captured)
			if err := transfer(ctx, assembler, content, 512); err != nil {
				errs <- fmt.Errorf("file %d: %w", i, err)
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	duration := time.Since(start)

	for err := range errs {
		t.Error(err)
	}

	count, err := a.Repos.Files.Count(ctx)
	testutil.AssertNoError(t, err)
	if count != files {
		t.Errorf("archived records = %d, want %d", count, files)
	}

	t.Logf("Distinct uploads completed:")
	t.Logf("  Files: %d", files)
	t.Logf("  Duration: %v", duration)
	t.Logf("  Throughput: %.2f files/sec", float64(files)/duration.Seconds())
}
