package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjmerc/mediavault/internal/fingerprint"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/placement"
	"github.com/fjmerc/mediavault/internal/repository"
	repoMock "github.com/fjmerc/mediavault/internal/repository/mock"
	"github.com/fjmerc/mediavault/internal/storage"
	"github.com/fjmerc/mediavault/internal/testutil"
	"github.com/fjmerc/mediavault/internal/utils"
)

type testEnv struct {
	coord   *Coordinator
	files   *repoMock.FileRecordRepository
	syncs   *repoMock.SyncRecordRepository
	archive string
	src     string
	cfg     Config
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	root := t.TempDir()
	env := &testEnv{
		files:   repoMock.NewFileRecordRepository(),
		syncs:   repoMock.NewSyncRecordRepository(),
		archive: filepath.Join(root, "archive"),
		src:     filepath.Join(root, "device"),
	}

	hasher, err := fingerprint.New(fingerprint.ModeFull, 0)
	if err != nil {
		t.Fatalf("fingerprint.New: %v", err)
	}

	cfg := Config{
		Hasher:   hasher,
		Resolver: placement.NewResolver(env.files, env.archive),
		Files:    env.files,
		Syncs:    env.syncs,
		Media:    utils.NewMediaTypes([]string{".jpg", ".png"}, []string{".mp4", ".mov"}),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	coord, err := NewCoordinator(cfg)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	env.coord = coord
	env.cfg = cfg
	return env
}

func (e *testEnv) write(t *testing.T, name string, content []byte, mtime time.Time) string {
	t.Helper()
	return testutil.WriteFile(t, filepath.Join(e.src, name), content, mtime)
}

// archivedFiles lists regular files below the archive root.
func (e *testEnv) archivedFiles(t *testing.T) []string {
	t.Helper()
	var out []string
	filepath.WalkDir(e.archive, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	return out
}

var june2023 = time.Date(2023, 6, 15, 8, 0, 0, 0, time.UTC)

func TestNewCoordinator_Validation(t *testing.T) {
	if _, err := NewCoordinator(Config{}); err == nil {
		t.Error("expected error for empty config")
	}

	env := newTestEnv(t, nil)
	cfg := env.cfg
	cfg.Encryptor = &storage.Encryptor{}
	cfg.EncryptedRoot = ""
	if _, err := NewCoordinator(cfg); err == nil {
		t.Error("expected error for encryption without a root")
	}
}

func TestIngest_NewFile(t *testing.T) {
	env := newTestEnv(t, nil)
	path := env.write(t, "VID_0001.mp4", []byte("video bytes"), june2023)

	res, err := env.coord.Ingest(context.Background(), Source{
		Path:     path,
		DeviceID: "phone-1",
		Method:   models.MethodLocalCable,
	})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if !res.Success || res.Skipped {
		t.Fatalf("result = %+v, want new success", res)
	}

	want := filepath.Join(env.archive, "2023", "06_June", "VID_0001.mp4")
	if res.Destination != want {
		t.Errorf("Destination = %q, want %q", res.Destination, want)
	}

	data, err := os.ReadFile(want)
	if err != nil || string(data) != "video bytes" {
		t.Fatalf("archived content = %q, %v", data, err)
	}
	info, err := os.Stat(want)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.ModTime().Equal(june2023) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), june2023)
	}

	rec, err := env.files.GetByFingerprint(context.Background(), res.Fingerprint)
	if err != nil || rec == nil {
		t.Fatalf("record not stored: %v", err)
	}
	if rec.MediaKind != models.MediaKindVideo || rec.Year != 2023 || rec.Month != 6 {
		t.Errorf("record = %+v", rec)
	}
	if rec.FingerprintMode != "full" || rec.SourceDevice != "phone-1" || rec.IngestionMethod != models.MethodLocalCable {
		t.Errorf("record provenance = %+v", rec)
	}
	if rec.CaptureTime != nil {
		t.Error("CaptureTime should be nil without EXIF")
	}
}

func TestIngest_IdempotentDedup(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	content := []byte("same content, different names")

	first, err := env.coord.Ingest(ctx, Source{Path: env.write(t, "a.jpg", content, june2023), Method: models.MethodLocalCable})
	if err != nil {
		t.Fatalf("first Ingest() error: %v", err)
	}

	for _, name := range []string{"a.jpg", "renamed.jpg"} {
		path := filepath.Join(env.src, "again", name)
		testutil.WriteFile(t, path, content, time.Now())

		res, err := env.coord.Ingest(ctx, Source{Path: path, Method: models.MethodNetworkUpload})
		if err != nil {
			t.Fatalf("repeat Ingest(%s) error: %v", name, err)
		}
		if !res.Success || !res.Skipped {
			t.Errorf("repeat Ingest(%s) = %+v, want skipped", name, res)
		}
		if res.Destination != first.Destination {
			t.Errorf("Destination = %q, want %q", res.Destination, first.Destination)
		}
	}

	if n, _ := env.files.Count(ctx); n != 1 {
		t.Errorf("record count = %d, want 1", n)
	}
	if files := env.archivedFiles(t); len(files) != 1 {
		t.Errorf("archived files = %v, want exactly one", files)
	}
}

func TestIngest_NameCollisionDifferentContent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	p1 := env.write(t, "one/IMG_1.jpg", []byte("first"), june2023)
	p2 := env.write(t, "two/IMG_1.jpg", []byte("second"), june2023)

	r1, err := env.coord.Ingest(ctx, Source{Path: p1})
	if err != nil {
		t.Fatalf("Ingest(1) error: %v", err)
	}
	r2, err := env.coord.Ingest(ctx, Source{Path: p2})
	if err != nil {
		t.Fatalf("Ingest(2) error: %v", err)
	}

	if filepath.Base(r1.Destination) != "IMG_1.jpg" || filepath.Base(r2.Destination) != "IMG_1_1.jpg" {
		t.Errorf("destinations = %q, %q", r1.Destination, r2.Destination)
	}
}

func TestIngest_ExifDecidesDirectory(t *testing.T) {
	env := newTestEnv(t, nil)
	captured := time.Date(2019, 8, 21, 14, 5, 9, 0, time.Local)
	path := env.write(t, "IMG_2019.jpg", testutil.JPEGWithCaptureTime(t, captured), june2023)

	res, err := env.coord.Ingest(context.Background(), Source{Path: path})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if !strings.Contains(res.Destination, filepath.Join("2019", "08_August")) {
		t.Errorf("Destination = %q, want 2019/08_August", res.Destination)
	}
	if res.Record.CaptureTime == nil {
		t.Error("CaptureTime should be set from EXIF")
	}
	if res.Record.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", res.Record.ContentType)
	}
}

func TestIngest_IntegrityFailure(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Copy = func(dst, src string) error {
			if err := CopyFile(dst, src); err != nil {
				return err
			}
			f, err := os.OpenFile(dst, os.O_WRONLY|os.O_APPEND, 0)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = f.Write([]byte("corruption"))
			return err
		}
	})
	path := env.write(t, "clip.mov", []byte("original"), june2023)

	res, err := env.coord.Ingest(context.Background(), Source{Path: path})
	if !errors.Is(err, ErrIntegrityFailure) {
		t.Fatalf("Ingest() error = %v, want ErrIntegrityFailure", err)
	}
	if res.Success {
		t.Error("Success should be false")
	}
	if n, _ := env.files.Count(context.Background()); n != 0 {
		t.Errorf("record count = %d, want 0", n)
	}
	// The corrupt copy is kept for inspection.
	if _, statErr := os.Stat(res.Destination); statErr != nil {
		t.Errorf("corrupt copy missing: %v", statErr)
	}
}

func TestIngest_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*testEnv)
		file    string
		wantErr error
	}{
		{
			name:    "missing source",
			file:    "",
			wantErr: ErrHashFailure,
		},
		{
			name:    "unsupported type",
			file:    "notes.txt",
			wantErr: ErrUnsupportedMedia,
		},
		{
			name: "store failure",
			mutate: func(e *testEnv) {
				e.files.CreateError = errors.New("database is locked")
			},
			file:    "a.jpg",
			wantErr: ErrStorageFailure,
		},
		{
			name: "lookup failure",
			mutate: func(e *testEnv) {
				e.files.GetByFingerprintError = errors.New("connection reset")
			},
			file:    "a.jpg",
			wantErr: ErrStorageFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			if tt.mutate != nil {
				tt.mutate(env)
			}

			path := filepath.Join(env.src, "does-not-exist.jpg")
			if tt.file != "" {
				path = env.write(t, tt.file, []byte("plain text content"), june2023)
			}

			res, err := env.coord.Ingest(context.Background(), Source{Path: path})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Ingest() error = %v, want %v", err, tt.wantErr)
			}
			if res.Success {
				t.Error("Success should be false")
			}
			if files := env.archivedFiles(t); len(files) != 0 {
				t.Errorf("archive should be empty after failure, found %v", files)
			}
		})
	}
}

func TestIngest_DuplicateKeyIsSkipped(t *testing.T) {
	env := newTestEnv(t, nil)
	env.files.CreateError = repository.ErrDuplicateKey
	path := env.write(t, "race.jpg", []byte("raced"), june2023)

	res, err := env.coord.Ingest(context.Background(), Source{Path: path})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if !res.Success || !res.Skipped {
		t.Errorf("result = %+v, want skipped", res)
	}
	if files := env.archivedFiles(t); len(files) != 0 {
		t.Errorf("losing copy should be removed, found %v", files)
	}
}

func TestIngest_Encryption(t *testing.T) {
	key, err := storage.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	enc, err := storage.NewEncryptor(key, 16)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	encRoot := filepath.Join(t.TempDir(), "encrypted")

	env := newTestEnv(t, func(cfg *Config) {
		cfg.Encryptor = enc
		cfg.EncryptedRoot = encRoot
	})
	content := bytes.Repeat([]byte("0123456789"), 10)
	path := env.write(t, "secret.mp4", content, june2023)

	res, err := env.coord.Ingest(context.Background(), Source{Path: path})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}

	wantEnc := filepath.Join(encRoot, "2023", "06_June", "secret.mp4.enc")
	if res.Record.EncryptedPath == nil || *res.Record.EncryptedPath != wantEnc || !res.Record.Encrypted {
		t.Fatalf("EncryptedPath = %v, want %s", res.Record.EncryptedPath, wantEnc)
	}

	ok, err := storage.IsStreamEncrypted(wantEnc)
	if err != nil || !ok {
		t.Fatalf("IsStreamEncrypted = %v, %v", ok, err)
	}

	var out bytes.Buffer
	f, err := os.Open(wantEnc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if _, err := enc.DecryptStream(&out, f); err != nil {
		t.Fatalf("DecryptStream: %v", err)
	}
	if !bytes.Equal(out.Bytes(), content) {
		t.Error("decrypted content differs from source")
	}
}

func TestIngest_Thumbnail(t *testing.T) {
	thumbDir := filepath.Join(t.TempDir(), "thumbs")
	env := newTestEnv(t, func(cfg *Config) {
		cfg.ThumbnailDir = thumbDir
		cfg.ThumbnailSize = 16
	})

	path := env.write(t, "pic.jpg", testutil.JPEG(t, 64, 32), june2023)
	res, err := env.coord.Ingest(context.Background(), Source{Path: path})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if res.Record.ThumbnailPath == nil {
		t.Fatal("ThumbnailPath not set")
	}
	if _, err := os.Stat(*res.Record.ThumbnailPath); err != nil {
		t.Errorf("thumbnail missing: %v", err)
	}

	// Undecodable photos still ingest, without a thumbnail.
	path = env.write(t, "broken.jpg", []byte("not really a jpeg"), june2023)
	res, err = env.coord.Ingest(context.Background(), Source{Path: path})
	if err != nil {
		t.Fatalf("Ingest(broken) error: %v", err)
	}
	if res.Record.ThumbnailPath != nil {
		t.Error("broken photo should have no thumbnail")
	}
}

type fakeMirror struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (m *fakeMirror) Upload(ctx context.Context, key, localPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.keys = append(m.keys, key)
	return "s3://bucket/" + key, nil
}

func (m *fakeMirror) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

func (m *fakeMirror) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	return 0, nil
}

var _ storage.Mirror = (*fakeMirror)(nil)

func TestIngest_Mirror(t *testing.T) {
	mirror := &fakeMirror{}
	env := newTestEnv(t, func(cfg *Config) { cfg.Mirror = mirror })

	path := env.write(t, "m.mp4", []byte("mirror me"), june2023)
	if _, err := env.coord.Ingest(context.Background(), Source{Path: path}); err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if len(mirror.keys) != 1 || mirror.keys[0] != "2023/06_June/m.mp4" {
		t.Errorf("mirror keys = %v", mirror.keys)
	}

	// Mirror failures never fail ingestion.
	mirror.mu.Lock()
	mirror.err = errors.New("bucket unreachable")
	mirror.mu.Unlock()
	path = env.write(t, "n.mp4", []byte("mirror me too"), june2023)
	res, err := env.coord.Ingest(context.Background(), Source{Path: path})
	if err != nil || !res.Success {
		t.Errorf("Ingest() with failing mirror = %+v, %v", res, err)
	}
}

func TestIngest_ConcurrentSameContent(t *testing.T) {
	env := newTestEnv(t, nil)
	content := []byte("identical payload")

	const n = 8
	paths := make([]string, n)
	for i := range paths {
		paths[i] = env.write(t, filepath.Join("dup", string(rune('a'+i))+".jpg"), content, june2023)
	}

	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = env.coord.Ingest(context.Background(), Source{Path: paths[i]})
		}(i)
	}
	wg.Wait()

	ingested := 0
	for _, r := range results {
		if !r.Success {
			t.Errorf("unexpected failure: %v", r.Err)
		}
		if !r.Skipped {
			ingested++
		}
	}
	if ingested != 1 {
		t.Errorf("ingested = %d, want 1", ingested)
	}
	if files := env.archivedFiles(t); len(files) != 1 {
		t.Errorf("archived files = %v, want exactly one", files)
	}
}

func TestIngest_ClaimHolderFails(t *testing.T) {
	entered := make(chan struct{})
	proceed := make(chan struct{})
	var calls atomic.Int32

	env := newTestEnv(t, func(cfg *Config) {
		cfg.Copy = func(dst, src string) error {
			if calls.Add(1) == 1 {
				close(entered)
				<-proceed
				return errors.New("disk hiccup")
			}
			return CopyFile(dst, src)
		}
	})
	content := []byte("same bytes twice")
	first := env.write(t, "first.jpg", content, june2023)
	second := env.write(t, "second.jpg", content, june2023)
	ctx := context.Background()

	firstDone := make(chan Result, 1)
	go func() {
		res, _ := env.coord.Ingest(ctx, Source{Path: first})
		firstDone <- res
	}()
	<-entered

	secondDone := make(chan Result, 1)
	go func() {
		res, _ := env.coord.Ingest(ctx, Source{Path: second})
		secondDone <- res
	}()

	// The second ingest waits on the claim until the holder gives up.
	select {
	case res := <-secondDone:
		t.Fatalf("second ingest finished while the claim was held: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}
	close(proceed)

	a := <-firstDone
	if a.Success || a.Err == nil {
		t.Errorf("first result = %+v, want failure", a)
	}
	b := <-secondDone
	if !b.Success || b.Skipped || b.Destination == "" {
		t.Fatalf("second result = %+v, want archived", b)
	}

	rec, err := env.files.GetByFingerprint(ctx, b.Fingerprint)
	if err != nil || rec == nil {
		t.Fatalf("record after second ingest = %v, %v", rec, err)
	}
	if rec.DestinationPath != b.Destination {
		t.Errorf("record destination = %s, want %s", rec.DestinationPath, b.Destination)
	}
	data, err := os.ReadFile(b.Destination)
	if err != nil || !bytes.Equal(data, content) {
		t.Errorf("archived content = %q, %v", data, err)
	}
}

func TestVerify(t *testing.T) {
	env := newTestEnv(t, nil)
	path := env.write(t, "v.jpg", []byte("verify me"), june2023)

	res, err := env.coord.Ingest(context.Background(), Source{Path: path})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}

	ok, err := env.coord.Verify(res.Record)
	if err != nil || !ok {
		t.Fatalf("Verify() = %v, %v, want true", ok, err)
	}

	if err := os.WriteFile(res.Destination, []byte("bit rot"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ok, err = env.coord.Verify(res.Record)
	if err != nil || ok {
		t.Errorf("Verify() after corruption = %v, %v, want false", ok, err)
	}
}
