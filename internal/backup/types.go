// Package backup maintains the archive: it verifies archived files against
// their fingerprints, restores files from the encrypted tree, reports
// statistics, and takes point-in-time snapshots of the metadata database and
// the archive tree.
//
// Snapshots come in two modes:
//   - database: the metadata database only
//   - full: the database plus every archived file
//
// A snapshot is a directory holding a manifest.json with checksums of
// everything it contains.
package backup

import (
	"time"
)

// BackupMode defines the type of snapshot to create
type BackupMode string

const (
	// ModeDatabase snapshots the metadata database without archived files
	ModeDatabase BackupMode = "database"

	// ModeFull snapshots the database and the archive tree
	ModeFull BackupMode = "full"
)

// String returns the string representation of BackupMode
func (m BackupMode) String() string {
	return string(m)
}

// IsValid returns true if the backup mode is valid
func (m BackupMode) IsValid() bool {
	switch m {
	case ModeDatabase, ModeFull:
		return true
	default:
		return false
	}
}

// OrphanHandling defines what restore does with file records whose archived
// copy is not on disk.
type OrphanHandling string

const (
	// OrphanKeep keeps the records; a later import of the same content is skipped
	OrphanKeep OrphanHandling = "keep"

	// OrphanRemove deletes the records so the content can be archived again
	OrphanRemove OrphanHandling = "remove"
)

// IsValid returns true if the orphan handling mode is valid
func (o OrphanHandling) IsValid() bool {
	switch o {
	case OrphanKeep, OrphanRemove:
		return true
	default:
		return false
	}
}

// ManifestVersion is the current manifest format version
const ManifestVersion = "1.0"

// BackupManifest describes a snapshot
type BackupManifest struct {
	Version    string     `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	AppVersion string     `json:"app_version"`
	Mode       BackupMode `json:"mode"`

	// IncludesFiles is true when the archive tree was copied
	IncludesFiles bool `json:"includes_files"`

	Stats BackupStats `json:"stats"`

	// Checksums maps snapshot-relative paths to "sha256:<hex>"
	Checksums map[string]string `json:"checksums"`

	Encryption EncryptionInfo `json:"encryption"`
	Warnings   []string       `json:"warnings,omitempty"`

	// Informational only
	SourceDBPath     string `json:"source_db_path,omitempty"`
	SourceArchiveDir string `json:"source_archive_dir,omitempty"`
}

// BackupStats contains counts and sizes of a snapshot
type BackupStats struct {
	FileRecordsCount    int   `json:"file_records_count"`
	SyncRecordsCount    int   `json:"sync_records_count"`
	UploadSessionsCount int   `json:"upload_sessions_count"`
	FilesBackedUp       int   `json:"files_backed_up"`
	TotalSizeBytes      int64 `json:"total_size_bytes"`
	DatabaseSizeBytes   int64 `json:"database_size_bytes"`
	FilesSizeBytes      int64 `json:"files_size_bytes"`
}

// EncryptionInfo records whether encrypt-at-rest was enabled.
// KeyFingerprint lets a restore check the key without storing it.
type EncryptionInfo struct {
	Enabled        bool   `json:"enabled"`
	KeyFingerprint string `json:"key_fingerprint,omitempty"`
}

// CreateOptions contains options for creating a snapshot
type CreateOptions struct {
	Mode BackupMode

	// DBPath is the SQLite metadata database
	DBPath string

	// ArchiveDir is required for full mode
	ArchiveDir string

	// OutputDir receives a new backup-<timestamp> directory
	OutputDir string

	// EncryptionKey is hex; only its fingerprint is stored
	EncryptionKey string

	AppVersion string

	// ProgressCallback receives current step, total steps and a description
	ProgressCallback func(current, total int, description string)
}

// RestoreOptions contains options for restoring a snapshot
type RestoreOptions struct {
	InputDir   string
	DBPath     string
	ArchiveDir string

	HandleOrphans OrphanHandling
	DryRun        bool

	// Force overwrites an existing database
	Force bool

	// EncryptionKey is compared against the manifest fingerprint
	EncryptionKey string

	ProgressCallback func(current, total int, description string)
}

// BackupResult contains the result of a snapshot
type BackupResult struct {
	Success        bool            `json:"success"`
	BackupPath     string          `json:"backup_path,omitempty"`
	Manifest       *BackupManifest `json:"manifest,omitempty"`
	Error          string          `json:"error,omitempty"`
	Duration       time.Duration   `json:"duration"`
	DurationString string          `json:"duration_string"`
}

// RestoreResult contains the result of a restore
type RestoreResult struct {
	Success        bool          `json:"success"`
	DryRun         bool          `json:"dry_run"`
	Error          string        `json:"error,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
	FilesRestored  int           `json:"files_restored"`
	OrphansFound   int           `json:"orphans_found"`
	OrphansRemoved int           `json:"orphans_removed"`
	Duration       time.Duration `json:"duration"`
	DurationString string        `json:"duration_string"`
}

// VerifyResult contains the result of a snapshot verification
type VerifyResult struct {
	Valid          bool `json:"valid"`
	ManifestValid  bool `json:"manifest_valid"`
	DatabaseValid  bool `json:"database_valid"`
	ChecksumsValid bool `json:"checksums_valid"`
	FilesValid     bool `json:"files_valid"`

	Errors   []string        `json:"errors,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Manifest *BackupManifest `json:"manifest,omitempty"`

	MissingFiles       []string           `json:"missing_files,omitempty"`
	ChecksumMismatches []ChecksumMismatch `json:"checksum_mismatches,omitempty"`
}

// ChecksumMismatch represents a file with a checksum mismatch
type ChecksumMismatch struct {
	File     string `json:"file"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// BackupInfo summarises a snapshot for listing
type BackupInfo struct {
	Path             string     `json:"path"`
	Name             string     `json:"name"`
	CreatedAt        time.Time  `json:"created_at"`
	Mode             BackupMode `json:"mode"`
	AppVersion       string     `json:"app_version"`
	TotalSizeBytes   int64      `json:"total_size_bytes"`
	FileRecordsCount int        `json:"file_records_count"`
	FilesBackedUp    int        `json:"files_backed_up"`
}

// SnapshotTables lists the tables copied into a snapshot and counted in its stats.
var SnapshotTables = []string{
	"file_records",
	"sync_records",
	"upload_sessions",
}
