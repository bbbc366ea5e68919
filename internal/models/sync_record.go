package models

import "time"

// SyncKind distinguishes operator-triggered runs from timer-driven ones.
type SyncKind string

const (
	SyncManual    SyncKind = "manual"
	SyncScheduled SyncKind = "scheduled"
)

// SyncStatus is the stored status of a bulk run.
type SyncStatus string

const (
	SyncInProgress SyncStatus = "in_progress"
	SyncSuccess    SyncStatus = "success"
	SyncPartial    SyncStatus = "partial"
	SyncFailed     SyncStatus = "failed"
)

// RunOutcome is the user-visible result of a bulk run.
type RunOutcome string

const (
	OutcomeCompleted           RunOutcome = "completed"
	OutcomeCompletedWithErrors RunOutcome = "completed_with_errors"
	OutcomeStopped             RunOutcome = "stopped"
	OutcomeFailed              RunOutcome = "failed"
)

// FailedFile names one file a run could not ingest and why.
type FailedFile struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// SyncRecord represents one bulk backup run
type SyncRecord struct {
	ID              int64         `json:"id"`
	RunID           string        `json:"run_id"`
	Kind            SyncKind      `json:"kind"`
	Status          SyncStatus    `json:"status"`
	Outcome         *RunOutcome   `json:"outcome,omitempty"`
	FilesProcessed  int           `json:"files_processed"`
	FilesIngested   int           `json:"files_ingested"`
	FilesSkipped    int           `json:"files_skipped"`
	FilesFailed     int           `json:"files_failed"`
	BytesProcessed  int64         `json:"bytes_processed"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	Duration        time.Duration `json:"duration"`
	DeviceID        string        `json:"device_id"`
	DestinationRoot string        `json:"destination_root"`
	ErrorMessage    *string       `json:"error_message,omitempty"`
	FailedFiles     []FailedFile  `json:"failed_files,omitempty"`
}

// SyncStats aggregates bulk run history.
type SyncStats struct {
	TotalRuns          int        `json:"total_runs"`
	SuccessfulRuns     int        `json:"successful_runs"`
	PartialRuns        int        `json:"partial_runs"`
	FailedRuns         int        `json:"failed_runs"`
	TotalFilesIngested int        `json:"total_files_ingested"`
	TotalBytes         int64      `json:"total_bytes"`
	LastRunAt          *time.Time `json:"last_run_at,omitempty"`
}

// DeviceInfo describes a connected device mount.
type DeviceInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Root     string    `json:"root"`
	DCIMPath string    `json:"dcim_path"`
	LastSeen time.Time `json:"last_seen"`
}
