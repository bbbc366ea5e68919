package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/upload"
	"github.com/fjmerc/mediavault/internal/utils"
)

// sendError writes the JSON error body used by every endpoint
func sendError(w http.ResponseWriter, message, code string, status int) {
	sendJSON(w, models.ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
	}, status)
}

// sendJSON writes data as a JSON response with the given status
func sendJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// sessionIDFromPath returns the session id that follows prefix in the URL
// path, or "" when it is missing or malformed.
func sessionIDFromPath(r *http.Request, prefix string) string {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == r.URL.Path || !utils.ValidSessionID(id) {
		return ""
	}
	return id
}

// sendUploadError maps assembler and ingestion errors onto HTTP statuses.
func sendUploadError(w http.ResponseWriter, err error, op string) {
	var incomplete *upload.IncompleteTransferError
	var noSpace *utils.ErrInsufficientSpace

	switch {
	case errors.As(err, &incomplete):
		sendJSON(w, models.FinalizeIncompleteResponse{
			Success:       false,
			Error:         "Upload incomplete",
			MissingChunks: incomplete.Missing,
		}, http.StatusConflict)
	case errors.Is(err, upload.ErrUnknownSession), errors.Is(err, repository.ErrNotFound):
		sendError(w, "Upload session not found", "SESSION_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, upload.ErrSessionClosed):
		sendError(w, err.Error(), "SESSION_CLOSED", http.StatusConflict)
	case errors.Is(err, upload.ErrTransferTooLarge):
		sendError(w, err.Error(), "FILE_TOO_LARGE", http.StatusRequestEntityTooLarge)
	case errors.Is(err, upload.ErrInvalidChunk):
		sendError(w, err.Error(), "INVALID_CHUNK", http.StatusBadRequest)
	case errors.Is(err, upload.ErrShuttingDown):
		sendError(w, "Server is shutting down", "SHUTTING_DOWN", http.StatusServiceUnavailable)
	case errors.As(err, &noSpace):
		slog.Error("upload rejected, archive disk full", "op", op, "error", err)
		sendError(w, "Insufficient storage", "INSUFFICIENT_STORAGE", http.StatusInsufficientStorage)
	default:
		slog.Error("upload request failed", "op", op, "error", err)
		sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

// queryInt parses an optional integer query parameter; def is returned when
// it is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
