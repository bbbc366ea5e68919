package models

import "time"

// MediaKind classifies an archived file.
type MediaKind string

const (
	MediaKindPhoto MediaKind = "photo"
	MediaKindVideo MediaKind = "video"
)

// IngestionMethod records how a file reached the archive.
type IngestionMethod string

const (
	MethodLocalCable    IngestionMethod = "local_cable"
	MethodNetworkUpload IngestionMethod = "network_upload"
)

// FileRecord represents one distinct piece of content in the archive.
// Fingerprint is unique across all records.
type FileRecord struct {
	ID               int64           `json:"id"`
	Fingerprint      string          `json:"fingerprint"`
	FingerprintMode  string          `json:"fingerprint_mode"`
	OriginalFilename string          `json:"original_filename"`
	FileSize         int64           `json:"file_size"`
	MediaKind        MediaKind       `json:"media_kind"`
	ContentType      string          `json:"content_type"`
	CaptureTime      *time.Time      `json:"capture_time,omitempty"`
	Year             int             `json:"year"`
	Month            int             `json:"month"`
	DestinationPath  string          `json:"destination_path"`
	EncryptedPath    *string         `json:"encrypted_path,omitempty"`
	Encrypted        bool            `json:"encrypted"`
	ThumbnailPath    *string         `json:"thumbnail_path,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	LastVerified     *time.Time      `json:"last_verified,omitempty"`
	SourceDevice     string          `json:"source_device"`
	IngestionMethod  IngestionMethod `json:"ingestion_method"`
}

// ArchiveStats summarises the archive contents.
type ArchiveStats struct {
	TotalFiles      int            `json:"total_files"`
	TotalBytes      int64          `json:"total_bytes"`
	PhotoCount      int            `json:"photo_count"`
	VideoCount      int            `json:"video_count"`
	EncryptedCount  int            `json:"encrypted_count"`
	UnverifiedCount int            `json:"unverified_count"`
	ByYear          map[int]int    `json:"by_year"`
	ByMethod        map[string]int `json:"by_method"`
}

// ErrorResponse is the JSON error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// HealthResponse is the JSON response for the health check endpoint
type HealthResponse struct {
	Status            string  `json:"status"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	DatabaseType      string  `json:"database_type"`
	TotalFiles        int     `json:"total_files"`
	ArchiveBytes      int64   `json:"archive_bytes"`
	ActiveSessions    int     `json:"active_sessions"`
	DiskFreeBytes     uint64  `json:"disk_free_bytes,omitempty"`
	DiskTotalBytes    uint64  `json:"disk_total_bytes,omitempty"`
	DiskUsedPercent   float64 `json:"disk_used_percent,omitempty"`
	EncryptionEnabled bool    `json:"encryption_enabled"`
	FingerprintMode   string  `json:"fingerprint_mode"`
}
