package edgecases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fjmerc/mediavault/internal/app"
	"github.com/fjmerc/mediavault/internal/config"
	"github.com/fjmerc/mediavault/internal/handlers"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/storage/filesystem"
	"github.com/fjmerc/mediavault/internal/testutil"
	"github.com/fjmerc/mediavault/internal/upload"
)

type env struct {
	cfg       *config.Config
	app       *app.App
	assembler *upload.Assembler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := testutil.SetupTestConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "mediavault.db")
	cfg.UploadChunkSize = 4096
	cfg.MaxUploadSize = 64 * 1024

	a, err := app.Open(context.Background(), cfg, app.Options{})
	if err != nil {
		t.Fatalf("app.Open() error: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	e := &env{cfg: cfg, app: a}
	e.assembler = e.newAssembler(t)
	return e
}

// newAssembler builds an assembler over the env's database and staging
// directory, as a restarted server would.
func (e *env) newAssembler(t *testing.T) *upload.Assembler {
	t.Helper()

	chunks, err := filesystem.NewChunkStore(e.cfg.TempDir)
	testutil.AssertNoError(t, err)
	a, err := upload.NewAssembler(upload.Config{
		Sessions:     e.app.Repos.Sessions,
		Chunks:       chunks,
		Sink:         e.app.Coordinator,
		Hasher:       e.app.Hasher,
		MaxChunkSize: e.cfg.UploadChunkSize,
		MaxTotalSize: e.cfg.MaxUploadSize,
	})
	testutil.AssertNoError(t, err)
	return a
}

type chunkForm struct {
	sessionID string
	index     int
	total     int
	filename  string
	fileSize  int64
	data      []byte
}

func (e *env) sendChunk(t *testing.T, f chunkForm) *httptest.ResponseRecorder {
	t.Helper()

	if f.filename == "" {
		f.filename = "IMG_0001.JPG"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("session_id", f.sessionID)
	mw.WriteField("chunk_index", fmt.Sprint(f.index))
	mw.WriteField("total_chunks", fmt.Sprint(f.total))
	mw.WriteField("filename", f.filename)
	if f.fileSize > 0 {
		mw.WriteField("file_size", fmt.Sprint(f.fileSize))
	}
	part, err := mw.CreateFormFile("chunk", "blob")
	testutil.AssertNoError(t, err)
	part.Write(f.data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload/chunk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	handlers.UploadChunkHandler(e.assembler, e.cfg).ServeHTTP(rr, req)
	return rr
}

func (e *env) finalize(t *testing.T, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/upload/finalize/"+sessionID, nil)
	handlers.UploadFinalizeHandler(e.assembler).ServeHTTP(rr, req)
	return rr
}

// uploadWhole sends content as a single chunk and finalizes it
func (e *env) uploadWhole(t *testing.T, filename string, content []byte) models.FinalizeResponse {
	t.Helper()

	id := uuid.NewString()
	rr := e.sendChunk(t, chunkForm{sessionID: id, total: 1, filename: filename, data: content})
	testutil.AssertStatusCode(t, rr, http.StatusOK)

	rr = e.finalize(t, id)
	testutil.AssertStatusCode(t, rr, http.StatusOK)

	var resp models.FinalizeResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode finalize response: %v", err)
	}
	return resp
}

// TestChunkSizeBoundaries tests chunks at and just over the configured size
func TestChunkSizeBoundaries(t *testing.T) {
	e := newEnv(t)
	limit := int(e.cfg.UploadChunkSize)

	tests := []struct {
		name string
		size int
		want int
	}{
		{"exactly max chunk size", limit, http.StatusOK},
		{"one byte over", limit + 1, http.StatusBadRequest},
		{"single byte", 1, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.sendChunk(t, chunkForm{
				sessionID: uuid.NewString(),
				total:     2,
				data:      bytes.Repeat([]byte("A"), tt.size),
			})
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d\nBody: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

// TestDeclaredSizeBoundaries tests the declared file size against the upload limit
func TestDeclaredSizeBoundaries(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		size int64
		want int
	}{
		{"exactly max upload size", e.cfg.MaxUploadSize, http.StatusOK},
		{"one byte over", e.cfg.MaxUploadSize + 1, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.sendChunk(t, chunkForm{
				sessionID: uuid.NewString(),
				total:     64,
				fileSize:  tt.size,
				data:      []byte("chunk"),
			})
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d\nBody: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

// TestChunkIndexBoundaries tests chunk counts and indices at their limits
func TestChunkIndexBoundaries(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name  string
		index int
		total int
		want  int
	}{
		{"first chunk", 0, 3, http.StatusOK},
		{"last chunk", 2, 3, http.StatusOK},
		{"index equals total", 3, 3, http.StatusBadRequest},
		{"negative index", -1, 3, http.StatusBadRequest},
		{"zero total", 0, 0, http.StatusBadRequest},
		{"maximum chunk count", upload.DefaultMaxTotalChunks - 1, upload.DefaultMaxTotalChunks, http.StatusOK},
		{"one chunk over maximum", 0, upload.DefaultMaxTotalChunks + 1, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.sendChunk(t, chunkForm{
				sessionID: uuid.NewString(),
				index:     tt.index,
				total:     tt.total,
				data:      []byte("x"),
			})
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d\nBody: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

// TestFilenameBoundaries tests how client filenames land in the archive
func TestFilenameBoundaries(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"unicode preserved", "été à Paris.jpg", "été à Paris.jpg"},
		{"path traversal stripped", "../../etc/IMG_0002.JPG", "IMG_0002.JPG"},
		{"windows path stripped", `C:\Users\me\DCIM\IMG_0003.JPG`, "IMG_0003.JPG"},
		{"special characters replaced", "photo<1>.jpg", "photo_1_.jpg"},
		{"long name truncated", strings.Repeat("a", 300) + ".jpg", strings.Repeat("a", 251) + ".jpg"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Distinct capture times keep every upload unique
			captured := time.Date(2019, time.June, i+1, 10, 0, 0, 0, time.UTC)
			resp := e.uploadWhole(t, tt.filename, testutil.JPEGWithCaptureTime(t, captured))

			if got := filepath.Base(resp.Destination); got != tt.want {
				t.Errorf("archived name = %q, want %q", got, tt.want)
			}
			if !strings.HasPrefix(resp.Destination, e.cfg.ArchiveDir) {
				t.Errorf("Destination %q escapes the archive root", resp.Destination)
			}
		})
	}
}

// TestNameCollisionInMonth tests different content sharing a name and month
func TestNameCollisionInMonth(t *testing.T) {
	e := newEnv(t)

	first := e.uploadWhole(t, "IMG_0001.JPG",
		testutil.JPEGWithCaptureTime(t, time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)))
	second := e.uploadWhole(t, "IMG_0001.JPG",
		testutil.JPEGWithCaptureTime(t, time.Date(2024, time.March, 20, 9, 0, 0, 0, time.UTC)))

	if first.Fingerprint == second.Fingerprint {
		t.Fatal("test content should differ")
	}
	if filepath.Dir(first.Destination) != filepath.Dir(second.Destination) {
		t.Errorf("expected the same month directory, got %s and %s", first.Destination, second.Destination)
	}
	if filepath.Base(second.Destination) != "IMG_0001_1.JPG" {
		t.Errorf("second name = %s, want IMG_0001_1.JPG", filepath.Base(second.Destination))
	}
}
