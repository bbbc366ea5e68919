package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Database backends
const (
	DatabaseTypeSQLite     = "sqlite"
	DatabaseTypePostgreSQL = "postgresql"
)

// Fingerprint modes
const (
	FingerprintModeFull = "full"
	FingerprintModeFast = "fast"
)

// PostgreSQLConfig holds PostgreSQL connection settings
type PostgreSQLConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	Options        string
	MaxConnections int
	AutoMigrate    bool
}

// S3Config holds settings for the optional off-site mirror
type S3Config struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	Prefix          string
}

// WebhookConfig holds the optional sync notification endpoint
type WebhookConfig struct {
	URL            string
	Secret         string   // HMAC key for the X-MediaVault-Signature header
	ServiceToken   string   // Gotify app token or ntfy access token
	Format         string   // json, gotify, ntfy or discord
	Events         []string // Empty subscribes to every event
	MaxRetries     int
	TimeoutSeconds int
}

// Config holds all application configuration
type Config struct {
	Port     string
	LogLevel string

	DBType     string
	DBPath     string
	PostgreSQL *PostgreSQLConfig

	ArchiveDir   string // Root of the year/month archive tree
	TempDir      string // Chunk staging area for network uploads
	EncryptedDir string // Parallel tree of SFSE1 encrypted copies
	ThumbnailDir string

	EncryptionEnabled    bool
	EncryptionKey        string // Optional: AES-256 key (64 hex chars), overrides the key file
	EncryptionKeyPath    string
	EncryptionPassphrase string // Optional: derive the key with argon2 instead of a random key file
	EncryptionChunkSize  int

	FingerprintMode    string
	FastHashSampleSize int64

	UploadChunkSize      int64
	MaxUploadSize        int64
	MaxConcurrentUploads int
	ReadTimeoutSeconds   int
	WriteTimeoutSeconds  int
	ShutdownTimeout      time.Duration

	SessionStaleHours    int
	SessionRetentionDays int
	SweepIntervalMinutes int

	SyncIntervalMinutes         int // 0 disables scheduled runs
	SyncDeviceRoot              string
	DeviceWatchDir              string
	IngestWorkers               int
	VerifyAfterSync             bool
	DeleteFromDeviceAfterVerify bool

	PhotoExtensions []string
	VideoExtensions []string

	ThumbnailsEnabled bool
	ThumbnailSize     int
	MinFreeSpaceMB    int64

	S3      *S3Config
	Webhook *WebhookConfig
}

const (
	defaultPhotoExtensions = ".jpg,.jpeg,.png,.heic,.heif,.gif,.bmp,.webp,.tiff,.raw,.cr2,.nef,.dng"
	defaultVideoExtensions = ".mp4,.mov,.avi,.mkv,.m4v,.mpg,.mpeg,.wmv,.flv,.webm,.3gp"
)

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8765"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBType: strings.ToLower(getEnv("DB_TYPE", DatabaseTypeSQLite)),
		DBPath: getEnv("DB_PATH", "./data/mediavault.db"),

		ArchiveDir:   getEnv("ARCHIVE_DIR", "./archive"),
		TempDir:      getEnv("TEMP_DIR", "./data/uploads"),
		EncryptedDir: getEnv("ENCRYPTED_DIR", "./archive-encrypted"),
		ThumbnailDir: getEnv("THUMBNAIL_DIR", "./data/thumbnails"),

		EncryptionEnabled:    getEnvBool("ENCRYPTION_ENABLED", false),
		EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		EncryptionKeyPath:    getEnv("ENCRYPTION_KEY_PATH", "./data/encryption.key"),
		EncryptionPassphrase: getEnv("ENCRYPTION_PASSPHRASE", ""),
		EncryptionChunkSize:  getEnvInt("ENCRYPTION_CHUNK_SIZE", 64*1024),

		FingerprintMode:    strings.ToLower(getEnv("FINGERPRINT_MODE", FingerprintModeFull)),
		FastHashSampleSize: getEnvInt64("FAST_HASH_SAMPLE_SIZE", 1024*1024),

		UploadChunkSize:      getEnvInt64("UPLOAD_CHUNK_SIZE", 10*1024*1024),
		MaxUploadSize:        getEnvInt64("MAX_UPLOAD_SIZE", 5*1024*1024*1024),
		MaxConcurrentUploads: getEnvInt("MAX_CONCURRENT_UPLOADS", 5),
		ReadTimeoutSeconds:   getEnvInt("READ_TIMEOUT", 120),
		WriteTimeoutSeconds:  getEnvInt("WRITE_TIMEOUT", 300),
		ShutdownTimeout:      getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		SessionStaleHours:    getEnvInt("SESSION_STALE_HOURS", 24),
		SessionRetentionDays: getEnvInt("SESSION_RETENTION_DAYS", 7),
		SweepIntervalMinutes: getEnvInt("SWEEP_INTERVAL_MINUTES", 60),

		SyncIntervalMinutes:         getEnvInt("SYNC_INTERVAL_MINUTES", 30),
		SyncDeviceRoot:              getEnv("SYNC_DEVICE_ROOT", ""),
		DeviceWatchDir:              getEnv("DEVICE_WATCH_DIR", ""),
		IngestWorkers:               getEnvInt("INGEST_WORKERS", 1),
		VerifyAfterSync:             getEnvBool("VERIFY_AFTER_SYNC", true),
		DeleteFromDeviceAfterVerify: getEnvBool("DELETE_FROM_DEVICE_AFTER_VERIFY", false),

		PhotoExtensions: getEnvList("PHOTO_EXTENSIONS", defaultPhotoExtensions),
		VideoExtensions: getEnvList("VIDEO_EXTENSIONS", defaultVideoExtensions),

		ThumbnailsEnabled: getEnvBool("THUMBNAILS_ENABLED", false),
		ThumbnailSize:     getEnvInt("THUMBNAIL_SIZE", 320),
		MinFreeSpaceMB:    getEnvInt64("MIN_FREE_SPACE_MB", 500),
	}

	if cfg.DBType == DatabaseTypePostgreSQL {
		cfg.PostgreSQL = &PostgreSQLConfig{
			Host:           getEnv("POSTGRES_HOST", "localhost"),
			Port:           getEnvInt("POSTGRES_PORT", 5432),
			User:           getEnv("POSTGRES_USER", "mediavault"),
			Password:       getEnv("POSTGRES_PASSWORD", ""),
			Database:       getEnv("POSTGRES_DB", "mediavault"),
			SSLMode:        getEnv("POSTGRES_SSLMODE", "prefer"),
			Options:        getEnv("POSTGRES_OPTIONS", ""),
			MaxConnections: getEnvInt("POSTGRES_MAX_CONNECTIONS", 10),
			AutoMigrate:    getEnvBool("POSTGRES_AUTO_MIGRATE", true),
		}
	}

	if getEnvBool("S3_ENABLED", false) {
		cfg.S3 = &S3Config{
			Enabled:         true,
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			PathStyle:       getEnvBool("S3_PATH_STYLE", false),
			Prefix:          getEnv("S3_PREFIX", "mediavault/"),
		}
	}

	if url := getEnv("WEBHOOK_URL", ""); url != "" {
		cfg.Webhook = &WebhookConfig{
			URL:            url,
			Secret:         getEnv("WEBHOOK_SECRET", ""),
			ServiceToken:   getEnv("WEBHOOK_SERVICE_TOKEN", ""),
			Format:         strings.ToLower(getEnv("WEBHOOK_FORMAT", "json")),
			Events:         getEnvWords("WEBHOOK_EVENTS"),
			MaxRetries:     getEnvInt("WEBHOOK_MAX_RETRIES", 3),
			TimeoutSeconds: getEnvInt("WEBHOOK_TIMEOUT_SECONDS", 10),
		}
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate ensures configuration values are sensible
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	switch c.DBType {
	case DatabaseTypeSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DatabaseTypePostgreSQL:
		if c.PostgreSQL == nil || c.PostgreSQL.Host == "" || c.PostgreSQL.Database == "" {
			return fmt.Errorf("POSTGRES_HOST and POSTGRES_DB are required when DB_TYPE=postgresql")
		}
	default:
		return fmt.Errorf("DB_TYPE must be %q or %q, got %q", DatabaseTypeSQLite, DatabaseTypePostgreSQL, c.DBType)
	}

	if c.ArchiveDir == "" {
		return fmt.Errorf("ARCHIVE_DIR cannot be empty")
	}

	if c.TempDir == "" {
		return fmt.Errorf("TEMP_DIR cannot be empty")
	}

	if filepath.Clean(c.TempDir) == filepath.Clean(c.ArchiveDir) {
		return fmt.Errorf("TEMP_DIR must differ from ARCHIVE_DIR")
	}

	if c.FingerprintMode != FingerprintModeFull && c.FingerprintMode != FingerprintModeFast {
		return fmt.Errorf("FINGERPRINT_MODE must be %q or %q, got %q", FingerprintModeFull, FingerprintModeFast, c.FingerprintMode)
	}

	if c.FastHashSampleSize <= 0 {
		return fmt.Errorf("FAST_HASH_SAMPLE_SIZE must be positive, got %d", c.FastHashSampleSize)
	}

	if c.UploadChunkSize <= 0 {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE must be positive, got %d", c.UploadChunkSize)
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}

	if c.MaxConcurrentUploads <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_UPLOADS must be positive, got %d", c.MaxConcurrentUploads)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}

	if c.SessionStaleHours <= 0 {
		return fmt.Errorf("SESSION_STALE_HOURS must be positive, got %d", c.SessionStaleHours)
	}

	if c.SessionRetentionDays <= 0 {
		return fmt.Errorf("SESSION_RETENTION_DAYS must be positive, got %d", c.SessionRetentionDays)
	}

	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive, got %d", c.SweepIntervalMinutes)
	}

	if c.SyncIntervalMinutes < 0 {
		return fmt.Errorf("SYNC_INTERVAL_MINUTES must be 0 (disabled) or positive, got %d", c.SyncIntervalMinutes)
	}

	if c.IngestWorkers <= 0 {
		return fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.IngestWorkers)
	}

	if c.EncryptionChunkSize <= 0 {
		return fmt.Errorf("ENCRYPTION_CHUNK_SIZE must be positive, got %d", c.EncryptionChunkSize)
	}

	if c.ThumbnailsEnabled && c.ThumbnailSize <= 0 {
		return fmt.Errorf("THUMBNAIL_SIZE must be positive, got %d", c.ThumbnailSize)
	}

	if len(c.PhotoExtensions) == 0 && len(c.VideoExtensions) == 0 {
		return fmt.Errorf("PHOTO_EXTENSIONS and VIDEO_EXTENSIONS cannot both be empty")
	}

	if c.MinFreeSpaceMB < 0 {
		return fmt.Errorf("MIN_FREE_SPACE_MB must be 0 or positive, got %d", c.MinFreeSpaceMB)
	}

	// Validate encryption key if provided (must be 64 hex characters = 32 bytes for AES-256)
	if c.EncryptionKey != "" {
		if len(c.EncryptionKey) != 64 {
			return fmt.Errorf("ENCRYPTION_KEY must be exactly 64 hexadecimal characters (32 bytes), got %d", len(c.EncryptionKey))
		}
		for _, ch := range c.EncryptionKey {
			if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
				return fmt.Errorf("ENCRYPTION_KEY must contain only hexadecimal characters (0-9, a-f, A-F)")
			}
		}
	}

	if c.EncryptionEnabled && c.EncryptionKey == "" && c.EncryptionKeyPath == "" {
		return fmt.Errorf("ENCRYPTION_KEY_PATH cannot be empty when encryption is enabled without ENCRYPTION_KEY")
	}

	if c.S3 != nil && c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when S3_ENABLED=true")
	}

	if w := c.Webhook; w != nil {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return fmt.Errorf("WEBHOOK_URL must be an http or https URL")
		}
		switch w.Format {
		case "json", "gotify", "ntfy", "discord":
		default:
			return fmt.Errorf("WEBHOOK_FORMAT must be json, gotify, ntfy or discord, got %q", w.Format)
		}
		if w.MaxRetries < 0 {
			return fmt.Errorf("WEBHOOK_MAX_RETRIES cannot be negative")
		}
		if w.TimeoutSeconds < 1 {
			return fmt.Errorf("WEBHOOK_TIMEOUT_SECONDS must be at least 1")
		}
	}

	return nil
}

// SessionStaleAfter is the idle time after which an unfinished upload session expires.
func (c *Config) SessionStaleAfter() time.Duration {
	return time.Duration(c.SessionStaleHours) * time.Hour
}

// SessionRetention is how long terminal upload sessions are kept.
func (c *Config) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionDays) * 24 * time.Hour
}

// SweepInterval is the period of the session sweep worker.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// SyncInterval is the period of scheduled runs; zero means disabled.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves an int64 environment variable or returns a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (e.g. "30s") or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated list of lower-cased extensions
func getEnvList(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			// Ensure extensions start with a dot
			if !strings.HasPrefix(trimmed, ".") {
				trimmed = "." + trimmed
			}
			result = append(result, strings.ToLower(trimmed))
		}
	}

	return result
}

// getEnvWords retrieves a comma-separated list as-is, dropping empty entries
func getEnvWords(key string) []string {
	var result []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
