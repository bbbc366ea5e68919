package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fjmerc/mediavault/internal/device"
	"github.com/fjmerc/mediavault/internal/models"
)

type fakeLister struct {
	candidates []device.Candidate
	err        error
}

func (l *fakeLister) ListCandidateFiles(ctx context.Context, dev models.DeviceInfo) ([]device.Candidate, error) {
	return l.candidates, l.err
}

func candidate(t *testing.T, path string) device.Candidate {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		return device.Candidate{Path: path, Name: filepath.Base(path)}
	}
	return device.Candidate{Path: path, Name: filepath.Base(path), Size: info.Size(), ModTime: info.ModTime()}
}

func TestRun_DeviceDirectory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cfg.Lister = device.NewDirLister(env.cfg.Media)
	coord, err := NewCoordinator(env.cfg)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	env.write(t, "DCIM/Camera/IMG_1.jpg", []byte("one"), june2023)
	env.write(t, "DCIM/Camera/IMG_2.jpg", []byte("two"), june2023)
	env.write(t, "DCIM/Camera/copy_of_1.jpg", []byte("one"), june2023)
	env.write(t, "DCIM/Camera/readme.txt", []byte("ignored"), june2023)

	dev, err := device.Detect(env.src)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	rec, err := coord.Run(context.Background(), RunOptions{Device: *dev})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if rec.Status != models.SyncSuccess || rec.Outcome == nil || *rec.Outcome != models.OutcomeCompleted {
		t.Errorf("status = %s/%v, want success/completed", rec.Status, rec.Outcome)
	}
	if rec.FilesProcessed != 3 || rec.FilesIngested != 2 || rec.FilesSkipped != 1 || rec.FilesFailed != 0 {
		t.Errorf("counts = %d/%d/%d/%d, want 3/2/1/0",
			rec.FilesProcessed, rec.FilesIngested, rec.FilesSkipped, rec.FilesFailed)
	}
	if rec.EndedAt == nil || rec.RunID == "" || rec.DeviceID != dev.ID || rec.Kind != models.SyncManual {
		t.Errorf("record = %+v", rec)
	}

	stored, err := env.syncs.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != models.SyncSuccess {
		t.Errorf("stored status = %s, want success", stored.Status)
	}

	// A second run over the same device ingests nothing new.
	rec, err = coord.Run(context.Background(), RunOptions{Device: *dev, Kind: models.SyncScheduled})
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if rec.FilesIngested != 0 || rec.FilesSkipped != 3 {
		t.Errorf("second run ingested=%d skipped=%d, want 0/3", rec.FilesIngested, rec.FilesSkipped)
	}
}

func TestRun_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		files       []string
		missing     int
		workers     int
		wantStatus  models.SyncStatus
		wantOutcome models.RunOutcome
		wantFailed  int
	}{
		{
			name:        "all succeed",
			files:       []string{"a.jpg", "b.mp4"},
			wantStatus:  models.SyncSuccess,
			wantOutcome: models.OutcomeCompleted,
		},
		{
			name:        "one unreadable",
			files:       []string{"a.jpg", "b.mp4"},
			missing:     1,
			wantStatus:  models.SyncPartial,
			wantOutcome: models.OutcomeCompletedWithErrors,
			wantFailed:  1,
		},
		{
			name:        "pool with failures",
			files:       []string{"a.jpg", "b.jpg", "c.jpg", "d.mov"},
			missing:     2,
			workers:     3,
			wantStatus:  models.SyncPartial,
			wantOutcome: models.OutcomeCompletedWithErrors,
			wantFailed:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeLister{}
			env := newTestEnv(t, func(cfg *Config) { cfg.Lister = lister })

			for _, name := range tt.files {
				path := env.write(t, name, []byte("content of "+name), june2023)
				lister.candidates = append(lister.candidates, candidate(t, path))
			}
			for i := 0; i < tt.missing; i++ {
				lister.candidates = append(lister.candidates,
					candidate(t, filepath.Join(env.src, "gone", string(rune('a'+i))+".jpg")))
			}

			rec, err := env.coord.Run(context.Background(), RunOptions{Workers: tt.workers})
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if rec.Status != tt.wantStatus || *rec.Outcome != tt.wantOutcome {
				t.Errorf("status = %s/%s, want %s/%s", rec.Status, *rec.Outcome, tt.wantStatus, tt.wantOutcome)
			}
			if rec.FilesFailed != tt.wantFailed || len(rec.FailedFiles) != tt.wantFailed {
				t.Errorf("failed = %d (%v), want %d", rec.FilesFailed, rec.FailedFiles, tt.wantFailed)
			}
			if rec.FilesIngested != len(tt.files) {
				t.Errorf("ingested = %d, want %d", rec.FilesIngested, len(tt.files))
			}
		})
	}
}

func TestRun_ListFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("device unplugged")}
	env := newTestEnv(t, func(cfg *Config) { cfg.Lister = lister })

	rec, err := env.coord.Run(context.Background(), RunOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if rec == nil || rec.Status != models.SyncFailed || *rec.Outcome != models.OutcomeFailed {
		t.Fatalf("record = %+v, want failed", rec)
	}
	if rec.ErrorMessage == nil || *rec.ErrorMessage != "device unplugged" {
		t.Errorf("ErrorMessage = %v", rec.ErrorMessage)
	}
}

func TestRun_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.coord.Run(context.Background(), RunOptions{}); err == nil {
		t.Error("expected error without a lister")
	}
}

func TestRun_Stopped(t *testing.T) {
	lister := &fakeLister{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, func(cfg *Config) {
		cfg.Lister = lister
		cfg.Observer = func(p Progress) {
			if p.ProcessedFiles == 1 {
				cancel()
			}
		}
	})
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		lister.candidates = append(lister.candidates,
			candidate(t, env.write(t, name, []byte(name), june2023)))
	}

	rec, err := env.coord.Run(ctx, RunOptions{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if *rec.Outcome != models.OutcomeStopped {
		t.Errorf("outcome = %s, want stopped", *rec.Outcome)
	}
	if rec.FilesProcessed != 1 {
		t.Errorf("processed = %d, want 1", rec.FilesProcessed)
	}
	if rec.EndedAt == nil {
		t.Error("stopped run should still be finished")
	}
}

func TestRun_StopDuringCopy(t *testing.T) {
	for _, workers := range []int{1, 2} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			lister := &fakeLister{}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			env := newTestEnv(t, func(cfg *Config) {
				cfg.Lister = lister
				// The stop arrives while the first file is being copied.
				cfg.Copy = func(dst, src string) error {
					cancel()
					return CopyFile(dst, src)
				}
			})
			// A store that honours cancellation, like the SQL repositories.
			env.files.OnCreate = func(ctx context.Context, rec *models.FileRecord) error {
				return ctx.Err()
			}
			for _, name := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"} {
				lister.candidates = append(lister.candidates,
					candidate(t, env.write(t, name, []byte(name), june2023)))
			}

			rec, err := env.coord.Run(ctx, RunOptions{Workers: workers})
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if *rec.Outcome != models.OutcomeStopped {
				t.Errorf("outcome = %s, want stopped", *rec.Outcome)
			}
			if rec.FilesFailed != 0 || len(rec.FailedFiles) != 0 {
				t.Errorf("failed = %d %v, want none", rec.FilesFailed, rec.FailedFiles)
			}
			if rec.FilesIngested == 0 || rec.FilesIngested != rec.FilesProcessed {
				t.Errorf("ingested = %d, processed = %d", rec.FilesIngested, rec.FilesProcessed)
			}
			if workers == 1 && rec.FilesIngested != 1 {
				t.Errorf("ingested = %d, want 1", rec.FilesIngested)
			}
			if rec.FilesProcessed == len(lister.candidates) {
				t.Error("stop should leave later files unprocessed")
			}

			n, _ := env.files.Count(context.Background())
			if n != rec.FilesIngested {
				t.Errorf("record count = %d, want %d", n, rec.FilesIngested)
			}
			if files := env.archivedFiles(t); len(files) != rec.FilesIngested {
				t.Errorf("archived files = %v, want %d", files, rec.FilesIngested)
			}
		})
	}
}

func TestRun_DeleteAfterVerify(t *testing.T) {
	lister := &fakeLister{}
	env := newTestEnv(t, func(cfg *Config) { cfg.Lister = lister })

	path := env.write(t, "moved.jpg", []byte("move me"), june2023)
	lister.candidates = []device.Candidate{candidate(t, path)}

	rec, err := env.coord.Run(context.Background(), RunOptions{DeleteAfterVerify: true})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if rec.FilesIngested != 1 {
		t.Fatalf("ingested = %d, want 1", rec.FilesIngested)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("device file should be deleted, stat err = %v", err)
	}
	if files := env.archivedFiles(t); len(files) != 1 {
		t.Errorf("archived files = %v", files)
	}
}

func TestRun_ObserverProgress(t *testing.T) {
	lister := &fakeLister{}
	var mu sync.Mutex
	var snapshots []Progress

	env := newTestEnv(t, func(cfg *Config) {
		cfg.Lister = lister
		cfg.Observer = func(p Progress) {
			mu.Lock()
			snapshots = append(snapshots, p)
			mu.Unlock()
		}
	})
	for _, name := range []string{"a.jpg", "b.jpg"} {
		lister.candidates = append(lister.candidates,
			candidate(t, env.write(t, name, []byte(name), june2023)))
	}

	if _, err := env.coord.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(snapshots) == 0 {
		t.Fatal("observer never called")
	}
	first, last := snapshots[0], snapshots[len(snapshots)-1]
	if first.TotalFiles != 2 || first.ProcessedFiles != 0 || first.Status != RunStatusRunning {
		t.Errorf("first snapshot = %+v", first)
	}
	if last.ProcessedFiles != 2 || last.Status != string(models.OutcomeCompleted) || last.Percentage() != 100 {
		t.Errorf("last snapshot = %+v", last)
	}
	if last.TotalBytes != 10 || last.ProcessedBytes != 10 {
		t.Errorf("bytes = %d/%d, want 10/10", last.ProcessedBytes, last.TotalBytes)
	}
}

func TestProgress_ETA(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		p    Progress
		now  time.Time
		want time.Duration
	}{
		{"nothing processed", Progress{TotalFiles: 10, StartedAt: start}, start.Add(time.Minute), -1},
		{"not started", Progress{TotalFiles: 10, ProcessedFiles: 2}, start, -1},
		{"linear", Progress{TotalFiles: 10, ProcessedFiles: 2, StartedAt: start}, start.Add(20 * time.Second), 80 * time.Second},
		{"done", Progress{TotalFiles: 4, ProcessedFiles: 4, StartedAt: start}, start.Add(time.Second), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.ETA(tt.now); got != tt.want {
				t.Errorf("ETA() = %v, want %v", got, tt.want)
			}
		})
	}

	if got := (Progress{}).Percentage(); got != 0 {
		t.Errorf("Percentage() of empty run = %v, want 0", got)
	}
	if got := (Progress{TotalFiles: 4, ProcessedFiles: 1}).Percentage(); got != 25 {
		t.Errorf("Percentage() = %v, want 25", got)
	}
}
