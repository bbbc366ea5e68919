package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

func TestSyncRecordRepository_Lifecycle(t *testing.T) {
	repo := NewSyncRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := &models.SyncRecord{
		RunID:           "run-1",
		Kind:            models.SyncManual,
		DeviceID:        "dev-1",
		DestinationRoot: "/archive",
	}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.ID == 0 || rec.Status != models.SyncInProgress {
		t.Fatalf("Create should set ID and in_progress status, got %+v", rec)
	}

	ended := rec.StartedAt.Add(90 * time.Second)
	outcome := models.OutcomeCompletedWithErrors
	rec.Status = models.SyncPartial
	rec.Outcome = &outcome
	rec.FilesProcessed = 10
	rec.FilesIngested = 7
	rec.FilesSkipped = 2
	rec.FilesFailed = 1
	rec.BytesProcessed = 12345
	rec.EndedAt = &ended
	rec.Duration = 90 * time.Second
	rec.FailedFiles = []models.FailedFile{{Path: "/dcim/bad.jpg", Error: "integrity failure"}}

	if err := repo.Finish(ctx, rec); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.SyncPartial || got.Outcome == nil || *got.Outcome != outcome {
		t.Errorf("status/outcome = %q/%v", got.Status, got.Outcome)
	}
	if got.FilesIngested != 7 || got.FilesFailed != 1 || got.BytesProcessed != 12345 {
		t.Errorf("counters = %+v", got)
	}
	if got.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", got.Duration)
	}
	if len(got.FailedFiles) != 1 || got.FailedFiles[0].Path != "/dcim/bad.jpg" {
		t.Errorf("FailedFiles = %v", got.FailedFiles)
	}

	if _, err := repo.GetByID(ctx, 999); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
	if err := repo.Finish(ctx, &models.SyncRecord{ID: 999}); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Finish(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSyncRecordRepository_ListAndStats(t *testing.T) {
	repo := NewSyncRecordRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	statuses := []models.SyncStatus{models.SyncSuccess, models.SyncPartial, models.SyncFailed, models.SyncSuccess}
	for i, status := range statuses {
		rec := &models.SyncRecord{
			RunID:          "run-" + string(rune('a'+i)),
			Kind:           models.SyncScheduled,
			Status:         status,
			StartedAt:      base.Add(time.Duration(i) * time.Hour),
			FilesIngested:  i + 1,
			BytesProcessed: 100,
		}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	recent, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].RunID != "run-d" {
		t.Errorf("ListRecent = %v", recent)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalRuns != 4 || stats.SuccessfulRuns != 2 || stats.PartialRuns != 1 || stats.FailedRuns != 1 {
		t.Errorf("run counts = %+v", stats)
	}
	if stats.TotalFilesIngested != 10 || stats.TotalBytes != 400 {
		t.Errorf("totals = %d files, %d bytes", stats.TotalFilesIngested, stats.TotalBytes)
	}
	if stats.LastRunAt == nil || !stats.LastRunAt.Equal(base.Add(3*time.Hour)) {
		t.Errorf("LastRunAt = %v", stats.LastRunAt)
	}
}

func TestSyncRecordRepository_EmptyStats(t *testing.T) {
	repo := NewSyncRecordRepository(setupTestDB(t))

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalRuns != 0 || stats.LastRunAt != nil {
		t.Errorf("empty stats = %+v", stats)
	}
}
