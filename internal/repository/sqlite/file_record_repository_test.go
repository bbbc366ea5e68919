package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

func newTestRecord(fingerprint string, year, month int, kind models.MediaKind) *models.FileRecord {
	capture := time.Date(year, time.Month(month), 15, 10, 30, 0, 0, time.UTC)
	return &models.FileRecord{
		Fingerprint:      fingerprint,
		FingerprintMode:  "full",
		OriginalFilename: "IMG_0001.JPG",
		FileSize:         1024,
		MediaKind:        kind,
		ContentType:      "image/jpeg",
		CaptureTime:      &capture,
		Year:             year,
		Month:            month,
		DestinationPath:  "/archive/2024/03_March/IMG_0001.JPG",
		SourceDevice:     "dev-1",
		IngestionMethod:  models.MethodLocalCable,
	}
}

func TestFileRecordRepository_CreateAndGet(t *testing.T) {
	repo := NewFileRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := newTestRecord("aaaa", 2024, 3, models.MediaKindPhoto)
	enc := "/encrypted/2024/03_March/IMG_0001.JPG.enc"
	rec.EncryptedPath = &enc
	rec.Encrypted = true

	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("Create should populate ID")
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Fingerprint != "aaaa" || got.MediaKind != models.MediaKindPhoto || !got.Encrypted {
		t.Errorf("GetByID returned %+v", got)
	}
	if got.EncryptedPath == nil || *got.EncryptedPath != enc {
		t.Errorf("EncryptedPath = %v, want %q", got.EncryptedPath, enc)
	}
	if got.CaptureTime == nil || !got.CaptureTime.Equal(*rec.CaptureTime) {
		t.Errorf("CaptureTime = %v, want %v", got.CaptureTime, rec.CaptureTime)
	}
	if got.LastVerified != nil {
		t.Error("LastVerified should be nil for a new record")
	}

	byFP, err := repo.GetByFingerprint(ctx, "aaaa")
	if err != nil || byFP == nil || byFP.ID != rec.ID {
		t.Errorf("GetByFingerprint = %v, %v", byFP, err)
	}

	missing, err := repo.GetByFingerprint(ctx, "bbbb")
	if err != nil || missing != nil {
		t.Errorf("GetByFingerprint(missing) = %v, %v; want nil, nil", missing, err)
	}

	if _, err := repo.GetByID(ctx, 9999); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFileRecordRepository_DuplicateFingerprint(t *testing.T) {
	repo := NewFileRecordRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, newTestRecord("same", 2024, 3, models.MediaKindPhoto)); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	err := repo.Create(ctx, newTestRecord("same", 2023, 1, models.MediaKindPhoto))
	if !errors.Is(err, repository.ErrDuplicateKey) {
		t.Errorf("second Create error = %v, want ErrDuplicateKey", err)
	}

	count, _ := repo.Count(ctx)
	if count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestFileRecordRepository_CreateInvalid(t *testing.T) {
	repo := NewFileRecordRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, nil); !errors.Is(err, repository.ErrInvalidInput) {
		t.Errorf("Create(nil) error = %v, want ErrInvalidInput", err)
	}
	if err := repo.Create(ctx, &models.FileRecord{}); !errors.Is(err, repository.ErrInvalidInput) {
		t.Errorf("Create(empty) error = %v, want ErrInvalidInput", err)
	}
}

func TestFileRecordRepository_List(t *testing.T) {
	repo := NewFileRecordRepository(setupTestDB(t))
	ctx := context.Background()

	fixtures := []*models.FileRecord{
		newTestRecord("f1", 2023, 12, models.MediaKindPhoto),
		newTestRecord("f2", 2024, 3, models.MediaKindPhoto),
		newTestRecord("f3", 2024, 3, models.MediaKindVideo),
		newTestRecord("f4", 2024, 5, models.MediaKindPhoto),
	}
	for _, f := range fixtures {
		if err := repo.Create(ctx, f); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter repository.FileFilter
		want   int
	}{
		{"all", repository.FileFilter{}, 4},
		{"year", repository.FileFilter{Year: 2024}, 3},
		{"year and month", repository.FileFilter{Year: 2024, Month: 3}, 2},
		{"kind", repository.FileFilter{Kind: "video"}, 1},
		{"limit", repository.FileFilter{Limit: 2}, 2},
		{"offset past end", repository.FileFilter{Limit: 10, Offset: 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List returned %d records, want %d", len(got), tt.want)
			}
		})
	}

	all, _ := repo.List(ctx, repository.FileFilter{})
	if all[0].Year != 2024 || all[0].Month != 5 {
		t.Errorf("newest record first expected, got %d-%d", all[0].Year, all[0].Month)
	}
}

func TestFileRecordRepository_VerifyAndDelete(t *testing.T) {
	repo := NewFileRecordRepository(setupTestDB(t))
	ctx := context.Background()

	rec := newTestRecord("v1", 2024, 3, models.MediaKindPhoto)
	repo.Create(ctx, rec)

	verifiedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.UpdateLastVerified(ctx, rec.ID, verifiedAt); err != nil {
		t.Fatalf("UpdateLastVerified failed: %v", err)
	}
	got, _ := repo.GetByID(ctx, rec.ID)
	if got.LastVerified == nil || !got.LastVerified.Equal(verifiedAt) {
		t.Errorf("LastVerified = %v, want %v", got.LastVerified, verifiedAt)
	}

	if err := repo.UpdateLastVerified(ctx, 9999, verifiedAt); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("UpdateLastVerified(missing) error = %v, want ErrNotFound", err)
	}

	if err := repo.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, rec.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestFileRecordRepository_Stats(t *testing.T) {
	repo := NewFileRecordRepository(setupTestDB(t))
	ctx := context.Background()

	p1 := newTestRecord("s1", 2023, 1, models.MediaKindPhoto)
	p1.Encrypted = true
	p2 := newTestRecord("s2", 2024, 2, models.MediaKindPhoto)
	p2.IngestionMethod = models.MethodNetworkUpload
	v1 := newTestRecord("s3", 2024, 2, models.MediaKindVideo)
	v1.FileSize = 4096

	for _, r := range []*models.FileRecord{p1, p2, v1} {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	repo.UpdateLastVerified(ctx, p1.ID, time.Now())

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.TotalFiles != 3 || stats.TotalBytes != 1024+1024+4096 {
		t.Errorf("totals = %d files, %d bytes", stats.TotalFiles, stats.TotalBytes)
	}
	if stats.PhotoCount != 2 || stats.VideoCount != 1 {
		t.Errorf("kinds = %d photos, %d videos", stats.PhotoCount, stats.VideoCount)
	}
	if stats.EncryptedCount != 1 {
		t.Errorf("EncryptedCount = %d, want 1", stats.EncryptedCount)
	}
	if stats.UnverifiedCount != 2 {
		t.Errorf("UnverifiedCount = %d, want 2", stats.UnverifiedCount)
	}
	if stats.ByYear[2023] != 1 || stats.ByYear[2024] != 2 {
		t.Errorf("ByYear = %v", stats.ByYear)
	}
	if stats.ByMethod["local_cable"] != 2 || stats.ByMethod["network_upload"] != 1 {
		t.Errorf("ByMethod = %v", stats.ByMethod)
	}
}
