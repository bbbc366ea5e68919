package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fjmerc/mediavault/internal/backup"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

const (
	defaultFileListLimit = 100
	maxFileListLimit     = 1000
)

// FileListResponse is a page of archive records
type FileListResponse struct {
	Success bool                `json:"success"`
	Files   []models.FileRecord `json:"files"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// FilesHandler handles GET /api/files?year=&month=&kind=&limit=&offset=
func FilesHandler(files repository.FileRecordRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
			return
		}

		var filter repository.FileFilter
		var err error
		if filter.Year, err = queryInt(r, "year", 0); err != nil || filter.Year < 0 {
			sendError(w, "Invalid year", "INVALID_YEAR", http.StatusBadRequest)
			return
		}
		if filter.Month, err = queryInt(r, "month", 0); err != nil || filter.Month < 0 || filter.Month > 12 {
			sendError(w, "month must be between 1 and 12", "INVALID_MONTH", http.StatusBadRequest)
			return
		}
		if filter.Limit, err = queryInt(r, "limit", defaultFileListLimit); err != nil || filter.Limit < 1 || filter.Limit > maxFileListLimit {
			sendError(w, "limit must be between 1 and 1000", "INVALID_LIMIT", http.StatusBadRequest)
			return
		}
		if filter.Offset, err = queryInt(r, "offset", 0); err != nil || filter.Offset < 0 {
			sendError(w, "Invalid offset", "INVALID_OFFSET", http.StatusBadRequest)
			return
		}

		switch kind := models.MediaKind(r.URL.Query().Get("kind")); kind {
		case "":
		case models.MediaKindPhoto, models.MediaKindVideo:
			filter.Kind = string(kind)
		default:
			sendError(w, "kind must be photo or video", "INVALID_KIND", http.StatusBadRequest)
			return
		}

		records, err := files.List(r.Context(), filter)
		if err != nil {
			slog.Error("failed to list files", "error", err)
			sendError(w, "Failed to list files", "INTERNAL_ERROR", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []models.FileRecord{}
		}

		sendJSON(w, FileListResponse{
			Success: true,
			Files:   records,
			Limit:   filter.Limit,
			Offset:  filter.Offset,
		}, http.StatusOK)
	}
}

// StatsProvider gathers archive statistics. Satisfied by *backup.Maintainer.
type StatsProvider interface {
	Stats(ctx context.Context) (*backup.Statistics, error)
}

var _ StatsProvider = (*backup.Maintainer)(nil)

// StatsHandler handles GET /api/stats
func StatsHandler(provider StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
			return
		}

		stats, err := provider.Stats(r.Context())
		if err != nil {
			slog.Error("failed to get archive stats", "error", err)
			sendError(w, "Failed to get archive stats", "INTERNAL_ERROR", http.StatusInternalServerError)
			return
		}
		sendJSON(w, stats, http.StatusOK)
	}
}
