package handlers

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/fjmerc/mediavault/internal/backup"
	"github.com/fjmerc/mediavault/internal/device"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
)

const (
	defaultSyncListLimit = 20
	maxSyncListLimit     = 200
)

// SyncTrigger starts bulk runs. Satisfied by *backup.Scheduler.
type SyncTrigger interface {
	TriggerRoot(root string, kind models.SyncKind) (string, error)
	Busy() bool
}

var _ SyncTrigger = (*backup.Scheduler)(nil)

// SyncStartResponse is returned when a manual run is accepted
type SyncStartResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id"`
}

// SyncListResponse lists recent runs
type SyncListResponse struct {
	Success bool                `json:"success"`
	Running bool                `json:"running"`
	Runs    []models.SyncRecord `json:"runs"`
}

// SyncHandler handles /api/sync
// POST starts a manual run against the configured device root, GET lists
// recent runs.
func SyncHandler(trigger SyncTrigger, syncs repository.SyncRecordRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			startSync(w, trigger)
		case http.MethodGet:
			listSyncs(w, r, trigger, syncs)
		default:
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
		}
	}
}

func startSync(w http.ResponseWriter, trigger SyncTrigger) {
	runID, err := trigger.TriggerRoot("", models.SyncManual)
	if err != nil {
		switch {
		case errors.Is(err, backup.ErrSyncAlreadyRunning):
			sendError(w, "A sync is already running", "SYNC_IN_PROGRESS", http.StatusConflict)
		case errors.Is(err, backup.ErrNoDeviceRoot):
			sendError(w, "No device root configured", "NO_DEVICE_ROOT", http.StatusBadRequest)
		case errors.Is(err, device.ErrNoMediaFolder), errors.Is(err, fs.ErrNotExist):
			sendError(w, "No device connected", "DEVICE_NOT_FOUND", http.StatusNotFound)
		case errors.Is(err, backup.ErrSchedulerStopped):
			sendError(w, "Server is shutting down", "SHUTTING_DOWN", http.StatusServiceUnavailable)
		default:
			slog.Error("failed to start sync", "error", err)
			sendError(w, "Failed to start sync", "INTERNAL_ERROR", http.StatusInternalServerError)
		}
		return
	}

	slog.Info("manual sync started", "run_id", runID)
	sendJSON(w, SyncStartResponse{Success: true, RunID: runID}, http.StatusAccepted)
}

func listSyncs(w http.ResponseWriter, r *http.Request, trigger SyncTrigger, syncs repository.SyncRecordRepository) {
	limit, err := queryInt(r, "limit", defaultSyncListLimit)
	if err != nil || limit < 1 || limit > maxSyncListLimit {
		sendError(w, "limit must be between 1 and 200", "INVALID_LIMIT", http.StatusBadRequest)
		return
	}

	runs, err := syncs.ListRecent(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list sync runs", "error", err)
		sendError(w, "Failed to list sync runs", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.SyncRecord{}
	}

	sendJSON(w, SyncListResponse{Success: true, Running: trigger.Busy(), Runs: runs}, http.StatusOK)
}

// SyncStatsHandler handles GET /api/sync/stats
func SyncStatsHandler(syncs repository.SyncRecordRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
			return
		}

		stats, err := syncs.Stats(r.Context())
		if err != nil {
			slog.Error("failed to get sync stats", "error", err)
			sendError(w, "Failed to get sync stats", "INTERNAL_ERROR", http.StatusInternalServerError)
			return
		}
		sendJSON(w, stats, http.StatusOK)
	}
}
