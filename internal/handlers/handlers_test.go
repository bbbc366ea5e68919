package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fjmerc/mediavault/internal/config"
	"github.com/fjmerc/mediavault/internal/fingerprint"
	"github.com/fjmerc/mediavault/internal/ingest"
	"github.com/fjmerc/mediavault/internal/models"
	repoMock "github.com/fjmerc/mediavault/internal/repository/mock"
	"github.com/fjmerc/mediavault/internal/storage/filesystem"
	"github.com/fjmerc/mediavault/internal/testutil"
	"github.com/fjmerc/mediavault/internal/upload"
)

// fakeSink accepts every assembled file.
type fakeSink struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (s *fakeSink) Ingest(ctx context.Context, src ingest.Source) (ingest.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return ingest.Result{Err: s.err}, s.err
	}
	s.names = append(s.names, src.Name)
	return ingest.Result{
		Success:     true,
		Fingerprint: src.Fingerprint,
		Destination: filepath.Join("/archive/2024/03_March", src.Name),
	}, nil
}

type uploadEnv struct {
	assembler *upload.Assembler
	sessions  *repoMock.UploadSessionRepository
	sink      *fakeSink
	cfg       *config.Config
}

func newUploadEnv(t *testing.T) *uploadEnv {
	t.Helper()

	chunks, err := filesystem.NewChunkStore(t.TempDir())
	testutil.AssertNoError(t, err)
	hasher, err := fingerprint.New(fingerprint.ModeFull, 0)
	testutil.AssertNoError(t, err)

	env := &uploadEnv{
		sessions: repoMock.NewUploadSessionRepository(),
		sink:     &fakeSink{},
		cfg:      testutil.SetupTestConfig(t),
	}
	env.cfg.UploadChunkSize = 1024

	env.assembler, err = upload.NewAssembler(upload.Config{
		Sessions:     env.sessions,
		Chunks:       chunks,
		Sink:         env.sink,
		Hasher:       hasher,
		MaxChunkSize: env.cfg.UploadChunkSize,
	})
	testutil.AssertNoError(t, err)
	return env
}

// chunkRequest builds a multipart chunk upload
func chunkRequest(t *testing.T, fields map[string]string, chunk []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if chunk != nil {
		part, err := mw.CreateFormFile("chunk", "blob")
		if err != nil {
			t.Fatal(err)
		}
		part.Write(chunk)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload/chunk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (env *uploadEnv) sendChunk(t *testing.T, sessionID string, index, total int, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := chunkRequest(t, map[string]string{
		"session_id":   sessionID,
		"chunk_index":  fmt.Sprint(index),
		"total_chunks": fmt.Sprint(total),
		"filename":     "IMG_0001.JPG",
		"device_id":    "phone",
	}, data)
	rr := httptest.NewRecorder()
	UploadChunkHandler(env.assembler, env.cfg).ServeHTTP(rr, req)
	return rr
}

func post(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\nBody: %s", err, rr.Body.String())
	}
}

func TestUploadSessionHandler(t *testing.T) {
	cfg := testutil.SetupTestConfig(t)
	cfg.UploadChunkSize = 4096

	rr := post(t, UploadSessionHandler(cfg), "/upload/session")
	testutil.AssertStatusCode(t, rr, http.StatusCreated)

	var resp models.NewSessionResponse
	decode(t, rr, &resp)
	if !resp.Success || resp.SessionID == "" || resp.ChunkSize != 4096 {
		t.Errorf("response = %+v", resp)
	}

	rr = httptest.NewRecorder()
	UploadSessionHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/upload/session", nil))
	testutil.AssertStatusCode(t, rr, http.StatusMethodNotAllowed)
}

func TestUploadChunkHandler_FullTransfer(t *testing.T) {
	env := newUploadEnv(t)

	rr := env.sendChunk(t, "sess-1", 0, 2, []byte("hello "))
	testutil.AssertStatusCode(t, rr, http.StatusOK)

	var chunkResp models.UploadChunkResponse
	decode(t, rr, &chunkResp)
	if chunkResp.ReceivedChunks != 1 || chunkResp.TotalChunks != 2 || chunkResp.Progress != 0.5 {
		t.Errorf("first chunk response = %+v", chunkResp)
	}

	// Finalizing early lists what is missing
	rr = post(t, UploadFinalizeHandler(env.assembler), "/upload/finalize/sess-1")
	testutil.AssertStatusCode(t, rr, http.StatusConflict)
	var incomplete models.FinalizeIncompleteResponse
	decode(t, rr, &incomplete)
	if len(incomplete.MissingChunks) != 1 || incomplete.MissingChunks[0] != 1 {
		t.Errorf("missing chunks = %v, want [1]", incomplete.MissingChunks)
	}

	rr = env.sendChunk(t, "sess-1", 1, 2, []byte("world"))
	testutil.AssertStatusCode(t, rr, http.StatusOK)

	rr = post(t, UploadFinalizeHandler(env.assembler), "/upload/finalize/sess-1")
	testutil.AssertStatusCode(t, rr, http.StatusOK)
	var fin models.FinalizeResponse
	decode(t, rr, &fin)
	if !fin.Success || fin.Fingerprint == "" || fin.Skipped {
		t.Errorf("finalize response = %+v", fin)
	}
	if fin.Destination != "/archive/2024/03_March/IMG_0001.JPG" {
		t.Errorf("destination = %s", fin.Destination)
	}

	// Finalize is idempotent once completed
	rr = post(t, UploadFinalizeHandler(env.assembler), "/upload/finalize/sess-1")
	testutil.AssertStatusCode(t, rr, http.StatusOK)
	if len(env.sink.names) != 1 {
		t.Errorf("sink called %d times, want 1", len(env.sink.names))
	}
}

func TestUploadChunkHandler_DuplicateChunk(t *testing.T) {
	env := newUploadEnv(t)

	env.sendChunk(t, "sess-dup", 0, 3, []byte("aaa"))
	rr := env.sendChunk(t, "sess-dup", 0, 3, []byte("aaa"))
	testutil.AssertStatusCode(t, rr, http.StatusOK)

	var resp models.UploadChunkResponse
	decode(t, rr, &resp)
	if !resp.Duplicate || resp.ReceivedChunks != 1 {
		t.Errorf("duplicate response = %+v", resp)
	}
}

func TestUploadChunkHandler_Validation(t *testing.T) {
	env := newUploadEnv(t)

	valid := func() map[string]string {
		return map[string]string{
			"session_id":   "sess-v",
			"chunk_index":  "0",
			"total_chunks": "2",
			"filename":     "a.jpg",
		}
	}

	tests := []struct {
		name   string
		mutate func(map[string]string)
		chunk  []byte
		status int
		code   string
	}{
		{"missing session id", func(f map[string]string) { delete(f, "session_id") }, []byte("x"), http.StatusBadRequest, "INVALID_SESSION_ID"},
		{"bad session id", func(f map[string]string) { f["session_id"] = "../etc" }, []byte("x"), http.StatusBadRequest, "INVALID_SESSION_ID"},
		{"bad chunk index", func(f map[string]string) { f["chunk_index"] = "one" }, []byte("x"), http.StatusBadRequest, "INVALID_CHUNK_INDEX"},
		{"bad total", func(f map[string]string) { f["total_chunks"] = "" }, []byte("x"), http.StatusBadRequest, "INVALID_TOTAL_CHUNKS"},
		{"bad size", func(f map[string]string) { f["file_size"] = "-5" }, []byte("x"), http.StatusBadRequest, "INVALID_FILE_SIZE"},
		{"missing filename", func(f map[string]string) { delete(f, "filename") }, []byte("x"), http.StatusBadRequest, "MISSING_FILENAME"},
		{"missing chunk", func(f map[string]string) {}, nil, http.StatusBadRequest, "NO_CHUNK"},
		{"index out of range", func(f map[string]string) { f["chunk_index"] = "2" }, []byte("x"), http.StatusBadRequest, "INVALID_CHUNK"},
		{"zero total", func(f map[string]string) { f["total_chunks"] = "0" }, []byte("x"), http.StatusBadRequest, "INVALID_CHUNK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := valid()
			tt.mutate(fields)

			rr := httptest.NewRecorder()
			UploadChunkHandler(env.assembler, env.cfg).ServeHTTP(rr, chunkRequest(t, fields, tt.chunk))
			testutil.AssertStatusCode(t, rr, tt.status)

			var resp models.ErrorResponse
			decode(t, rr, &resp)
			if resp.Success || resp.Code != tt.code {
				t.Errorf("error response = %+v, want code %s", resp, tt.code)
			}
		})
	}
}

func TestUploadChunkHandler_ChunkTooLarge(t *testing.T) {
	env := newUploadEnv(t)

	rr := env.sendChunk(t, "sess-big", 0, 1, bytes.Repeat([]byte("x"), int(env.cfg.UploadChunkSize)+1))
	if rr.Code != http.StatusRequestEntityTooLarge && rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 413 or 400", rr.Code)
	}

	rr = env.sendChunk(t, "sess-big", 0, 1, bytes.Repeat([]byte("x"), 2*multipartOverhead))
	testutil.AssertStatusCode(t, rr, http.StatusRequestEntityTooLarge)
}

func TestUploadChunkHandler_MethodNotAllowed(t *testing.T) {
	env := newUploadEnv(t)

	rr := httptest.NewRecorder()
	UploadChunkHandler(env.assembler, env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/upload/chunk", nil))
	testutil.AssertStatusCode(t, rr, http.StatusMethodNotAllowed)
}

func TestUploadStatusHandler(t *testing.T) {
	env := newUploadEnv(t)
	env.sendChunk(t, "sess-s", 1, 3, []byte("bbb"))

	rr := httptest.NewRecorder()
	UploadStatusHandler(env.assembler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/upload/status/sess-s", nil))
	testutil.AssertStatusCode(t, rr, http.StatusOK)

	var resp models.SessionStatusResponse
	decode(t, rr, &resp)
	if resp.Status != models.SessionInProgress || resp.ReceivedChunks != 1 || resp.TotalChunks != 3 {
		t.Errorf("status response = %+v", resp)
	}
	if len(resp.MissingChunks) != 2 || resp.MissingChunks[0] != 0 || resp.MissingChunks[1] != 2 {
		t.Errorf("missing chunks = %v, want [0 2]", resp.MissingChunks)
	}

	rr = httptest.NewRecorder()
	UploadStatusHandler(env.assembler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/upload/status/unknown", nil))
	testutil.AssertStatusCode(t, rr, http.StatusNotFound)

	rr = httptest.NewRecorder()
	UploadStatusHandler(env.assembler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/upload/status/", nil))
	testutil.AssertStatusCode(t, rr, http.StatusBadRequest)
}

func TestUploadPauseResumeCancel(t *testing.T) {
	env := newUploadEnv(t)
	env.sendChunk(t, "sess-p", 0, 2, []byte("aa"))

	rr := post(t, UploadPauseHandler(env.assembler), "/upload/pause/sess-p")
	testutil.AssertStatusCode(t, rr, http.StatusOK)
	var resp models.SessionStatusResponse
	decode(t, rr, &resp)
	if resp.Status != models.SessionPaused {
		t.Errorf("status after pause = %s", resp.Status)
	}

	rr = post(t, UploadResumeHandler(env.assembler), "/upload/resume/sess-p")
	testutil.AssertStatusCode(t, rr, http.StatusOK)
	decode(t, rr, &resp)
	if resp.Status != models.SessionInProgress {
		t.Errorf("status after resume = %s", resp.Status)
	}

	rr = post(t, UploadCancelHandler(env.assembler), "/upload/cancel/sess-p")
	testutil.AssertStatusCode(t, rr, http.StatusOK)
	decode(t, rr, &resp)
	if resp.Status != models.SessionFailed {
		t.Errorf("status after cancel = %s", resp.Status)
	}

	// A cancelled session refuses further chunks
	rr = env.sendChunk(t, "sess-p", 1, 2, []byte("bb"))
	testutil.AssertStatusCode(t, rr, http.StatusConflict)

	rr = post(t, UploadPauseHandler(env.assembler), "/upload/pause/missing")
	testutil.AssertStatusCode(t, rr, http.StatusNotFound)
}

func TestUploadFinalizeHandler_SinkFailure(t *testing.T) {
	env := newUploadEnv(t)
	env.sink.err = fmt.Errorf("disk exploded")

	env.sendChunk(t, "sess-f", 0, 1, []byte("data"))
	rr := post(t, UploadFinalizeHandler(env.assembler), "/upload/finalize/sess-f")
	testutil.AssertStatusCode(t, rr, http.StatusInternalServerError)

	var resp models.ErrorResponse
	decode(t, rr, &resp)
	if resp.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %s", resp.Code)
	}
	// the internal error text is not echoed
	testutil.AssertContains(t, resp.Error, "Internal server error")
}

func TestUploadFinalizeHandler_ShuttingDown(t *testing.T) {
	env := newUploadEnv(t)
	env.sendChunk(t, "sess-x", 0, 1, []byte("data"))

	env.assembler.Shutdown(context.Background())

	rr := post(t, UploadFinalizeHandler(env.assembler), "/upload/finalize/sess-x")
	testutil.AssertStatusCode(t, rr, http.StatusServiceUnavailable)
}

func TestSendJSONContentType(t *testing.T) {
	rr := httptest.NewRecorder()
	sendError(rr, "nope", "NOPE", http.StatusTeapot)

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}
	testutil.AssertStatusCode(t, rr, http.StatusTeapot)
}

func TestSessionIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/upload/status/abc-123", "abc-123"},
		{"/upload/status/", ""},
		{"/upload/status/a/b", ""},
		{"/other/abc", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if got := sessionIDFromPath(r, "/upload/status/"); got != tt.want {
			t.Errorf("sessionIDFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
