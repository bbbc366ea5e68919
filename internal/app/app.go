// Package app assembles the archive's services from configuration. The
// server and the command line tools share it so every entry point ingests,
// encrypts and mirrors files the same way.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fjmerc/mediavault/internal/backup"
	"github.com/fjmerc/mediavault/internal/config"
	"github.com/fjmerc/mediavault/internal/database"
	"github.com/fjmerc/mediavault/internal/device"
	"github.com/fjmerc/mediavault/internal/fingerprint"
	"github.com/fjmerc/mediavault/internal/ingest"
	"github.com/fjmerc/mediavault/internal/placement"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/repository/postgres"
	"github.com/fjmerc/mediavault/internal/repository/sqlite"
	"github.com/fjmerc/mediavault/internal/storage"
	"github.com/fjmerc/mediavault/internal/storage/s3"
	"github.com/fjmerc/mediavault/internal/utils"
)

// Options adjusts what Open builds.
type Options struct {
	// Observer receives bulk run progress.
	Observer ingest.Observer

	// NoMirror skips the S3 mirror even when it is configured.
	NoMirror bool
}

// App holds the wired services. Close releases the database.
type App struct {
	Config      *config.Config
	Repos       *repository.Repositories
	Hasher      *fingerprint.Hasher
	Media       *utils.MediaTypes
	Encryptor   *storage.Encryptor
	Mirror      storage.Mirror
	Coordinator *ingest.Coordinator
	Maintainer  *backup.Maintainer
}

// Open creates the archive directories, connects to the database and builds
// the ingestion pipeline and archive maintainer.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := ensureDirs(cfg); err != nil {
		return nil, err
	}

	mode, err := fingerprint.ParseMode(cfg.FingerprintMode)
	if err != nil {
		return nil, err
	}
	hasher, err := fingerprint.New(mode, cfg.FastHashSampleSize)
	if err != nil {
		return nil, err
	}
	if mode == fingerprint.ModeFast {
		slog.Warn("fast fingerprint mode enabled: files that differ only outside the sampled regions will be treated as duplicates",
			"sample_size", cfg.FastHashSampleSize,
		)
	}

	repos, err := OpenRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Repos:  repos,
		Hasher: hasher,
		Media:  utils.NewMediaTypes(cfg.PhotoExtensions, cfg.VideoExtensions),
	}

	if cfg.EncryptionEnabled {
		key, err := storage.ResolveKey(cfg.EncryptionKey, cfg.EncryptionPassphrase, cfg.EncryptionKeyPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to load encryption key: %w", err)
		}
		a.Encryptor, err = storage.NewEncryptor(key, cfg.EncryptionChunkSize)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		slog.Info("encryption at rest enabled", "encrypted_dir", cfg.EncryptedDir)
	}

	if cfg.S3 != nil && cfg.S3.Enabled && !opts.NoMirror {
		mirror, err := s3.NewMirror(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
			Prefix:          cfg.S3.Prefix,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize S3 mirror: %w", err)
		}
		a.Mirror = mirror
	}

	thumbSize := 0
	if cfg.ThumbnailsEnabled {
		thumbSize = cfg.ThumbnailSize
	}

	a.Coordinator, err = ingest.NewCoordinator(ingest.Config{
		Hasher:        hasher,
		Resolver:      placement.NewResolver(repos.Files, cfg.ArchiveDir),
		Files:         repos.Files,
		Syncs:         repos.Syncs,
		Media:         a.Media,
		Lister:        device.NewDirLister(a.Media),
		Encryptor:     a.Encryptor,
		EncryptedRoot: cfg.EncryptedDir,
		ThumbnailDir:  cfg.ThumbnailDir,
		ThumbnailSize: thumbSize,
		Mirror:        a.Mirror,
		MinFreeBytes:  uint64(cfg.MinFreeSpaceMB) * 1024 * 1024,
		Observer:      opts.Observer,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create ingest coordinator: %w", err)
	}

	a.Maintainer, err = backup.NewMaintainer(backup.ArchiveConfig{
		Files:      repos.Files,
		Syncs:      repos.Syncs,
		Verifier:   a.Coordinator,
		ArchiveDir: cfg.ArchiveDir,
		Encryptor:  a.Encryptor,
		Mirror:     a.Mirror,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create archive maintainer: %w", err)
	}

	return a, nil
}

// Close releases the database connection.
func (a *App) Close() {
	if a.Repos != nil && a.Repos.Cleanup != nil {
		a.Repos.Cleanup()
	}
}

// OpenRepositories connects to the configured database backend.
func OpenRepositories(ctx context.Context, cfg *config.Config) (*repository.Repositories, error) {
	switch cfg.DBType {
	case config.DatabaseTypePostgreSQL:
		repos, _, err := postgres.NewRepositories(ctx, cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("database initialized", "type", repos.DatabaseType, "host", cfg.PostgreSQL.Host)
		return repos, nil

	default:
		db, err := database.Initialize(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		repos, err := sqlite.NewRepositories(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("database initialized", "type", repos.DatabaseType, "path", cfg.DBPath)
		return repos, nil
	}
}

func ensureDirs(cfg *config.Config) error {
	dirs := []string{cfg.ArchiveDir, cfg.TempDir}
	if cfg.EncryptionEnabled {
		dirs = append(dirs, cfg.EncryptedDir)
	}
	if cfg.ThumbnailsEnabled {
		dirs = append(dirs, cfg.ThumbnailDir)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
