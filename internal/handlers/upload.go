package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/fjmerc/mediavault/internal/config"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/upload"
	"github.com/fjmerc/mediavault/internal/utils"
)

const (
	// multipartOverhead is allowed on top of the chunk size for form fields
	// and boundaries
	multipartOverhead = 1 << 20

	// multipartMemory is kept in memory while parsing; larger chunks spill
	// to temporary files
	multipartMemory = 1 << 20
)

// UploadSessionHandler handles POST /upload/session. Clients that cannot
// mint their own session ids get one here, along with the chunk size to use.
func UploadSessionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
			return
		}

		sendJSON(w, models.NewSessionResponse{
			Success:   true,
			SessionID: uuid.NewString(),
			ChunkSize: cfg.UploadChunkSize,
		}, http.StatusCreated)
	}
}

// UploadChunkHandler handles POST /upload/chunk
// Form fields: chunk (file), session_id, chunk_index, total_chunks,
// filename, file_size and optionally device_id
func UploadChunkHandler(a *upload.Assembler, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, cfg.UploadChunkSize+multipartOverhead)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			sendError(w, "Chunk too large or invalid form data", "CHUNK_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return
		}
		defer r.MultipartForm.RemoveAll()

		sessionID := r.FormValue("session_id")
		if !utils.ValidSessionID(sessionID) {
			sendError(w, "Invalid or missing session_id", "INVALID_SESSION_ID", http.StatusBadRequest)
			return
		}

		chunkIndex, err := strconv.Atoi(r.FormValue("chunk_index"))
		if err != nil {
			sendError(w, "Invalid chunk_index", "INVALID_CHUNK_INDEX", http.StatusBadRequest)
			return
		}
		totalChunks, err := strconv.Atoi(r.FormValue("total_chunks"))
		if err != nil {
			sendError(w, "Invalid total_chunks", "INVALID_TOTAL_CHUNKS", http.StatusBadRequest)
			return
		}

		var fileSize int64
		if v := r.FormValue("file_size"); v != "" {
			fileSize, err = strconv.ParseInt(v, 10, 64)
			if err != nil || fileSize < 0 {
				sendError(w, "Invalid file_size", "INVALID_FILE_SIZE", http.StatusBadRequest)
				return
			}
		}

		filename := r.FormValue("filename")
		if filename == "" {
			sendError(w, "Filename is required", "MISSING_FILENAME", http.StatusBadRequest)
			return
		}
		filename = utils.SanitizeFilename(filename)

		chunk, _, err := r.FormFile("chunk")
		if err != nil {
			sendError(w, "No chunk file provided", "NO_CHUNK", http.StatusBadRequest)
			return
		}
		defer chunk.Close()

		res, err := a.SubmitChunk(r.Context(), upload.ChunkRequest{
			SessionID:    sessionID,
			ChunkIndex:   chunkIndex,
			TotalChunks:  totalChunks,
			Filename:     filename,
			DeclaredSize: fileSize,
			DeviceID:     r.FormValue("device_id"),
		}, chunk)
		if err != nil {
			sendUploadError(w, err, "chunk")
			return
		}

		sendJSON(w, models.UploadChunkResponse{
			Success:        true,
			SessionID:      res.SessionID,
			ChunkIndex:     res.ChunkIndex,
			ReceivedChunks: res.ReceivedChunks,
			TotalChunks:    res.TotalChunks,
			Progress:       res.Progress,
			Duplicate:      res.Duplicate,
		}, http.StatusOK)
	}
}

// UploadFinalizeHandler handles POST /upload/finalize/{session_id}
func UploadFinalizeHandler(a *upload.Assembler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
			return
		}

		sessionID := sessionIDFromPath(r, "/upload/finalize/")
		if sessionID == "" {
			sendError(w, "Invalid session id", "INVALID_SESSION_ID", http.StatusBadRequest)
			return
		}

		res, err := a.Finalize(r.Context(), sessionID)
		if err != nil {
			sendUploadError(w, err, "finalize")
			return
		}

		slog.Info("upload finalized",
			"session_id", sessionID,
			"fingerprint", res.Fingerprint,
			"skipped", res.Skipped,
		)
		sendJSON(w, models.FinalizeResponse{
			Success:     true,
			SessionID:   res.SessionID,
			Fingerprint: res.Fingerprint,
			Destination: res.Destination,
			Skipped:     res.Skipped,
		}, http.StatusOK)
	}
}

// UploadStatusHandler handles GET /upload/status/{session_id}
func UploadStatusHandler(a *upload.Assembler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
			return
		}

		sessionID := sessionIDFromPath(r, "/upload/status/")
		if sessionID == "" {
			sendError(w, "Invalid session id", "INVALID_SESSION_ID", http.StatusBadRequest)
			return
		}

		sess, err := a.Status(r.Context(), sessionID)
		if err != nil {
			sendUploadError(w, err, "status")
			return
		}
		sendJSON(w, statusResponse(sess), http.StatusOK)
	}
}

// sessionAction is one of the assembler's lifecycle operations
type sessionAction func(a *upload.Assembler, r *http.Request, sessionID string) (*models.UploadSession, error)

// UploadCancelHandler handles POST /upload/cancel/{session_id}
func UploadCancelHandler(a *upload.Assembler) http.HandlerFunc {
	return sessionActionHandler(a, "/upload/cancel/", "cancel",
		func(a *upload.Assembler, r *http.Request, id string) (*models.UploadSession, error) {
			if err := a.Cancel(r.Context(), id); err != nil {
				return nil, err
			}
			return a.Status(r.Context(), id)
		})
}

// UploadPauseHandler handles POST /upload/pause/{session_id}
func UploadPauseHandler(a *upload.Assembler) http.HandlerFunc {
	return sessionActionHandler(a, "/upload/pause/", "pause",
		func(a *upload.Assembler, r *http.Request, id string) (*models.UploadSession, error) {
			return a.Pause(r.Context(), id)
		})
}

// UploadResumeHandler handles POST /upload/resume/{session_id}
func UploadResumeHandler(a *upload.Assembler) http.HandlerFunc {
	return sessionActionHandler(a, "/upload/resume/", "resume",
		func(a *upload.Assembler, r *http.Request, id string) (*models.UploadSession, error) {
			return a.Resume(r.Context(), id)
		})
}

func sessionActionHandler(a *upload.Assembler, prefix, op string, action sessionAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
			return
		}

		sessionID := sessionIDFromPath(r, prefix)
		if sessionID == "" {
			sendError(w, "Invalid session id", "INVALID_SESSION_ID", http.StatusBadRequest)
			return
		}

		sess, err := action(a, r, sessionID)
		if err != nil {
			sendUploadError(w, err, op)
			return
		}
		sendJSON(w, statusResponse(sess), http.StatusOK)
	}
}

func statusResponse(sess *models.UploadSession) models.SessionStatusResponse {
	resp := models.SessionStatusResponse{
		Success:        true,
		SessionID:      sess.SessionID,
		Filename:       sess.Filename,
		Status:         sess.Status,
		ReceivedChunks: len(sess.ReceivedChunks),
		TotalChunks:    sess.TotalChunks,
		ReceivedBytes:  sess.ReceivedBytes,
		TotalSize:      sess.TotalSize,
		Progress:       sess.Progress(),
		Fingerprint:    sess.Fingerprint,
		ErrorMessage:   sess.ErrorMessage,
		UpdatedAt:      sess.UpdatedAt,
	}
	if sess.Status != models.SessionCompleted {
		resp.MissingChunks = sess.MissingChunks()
	}
	return resp
}
