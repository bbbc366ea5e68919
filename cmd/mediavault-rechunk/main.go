package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fjmerc/mediavault/internal/database"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/repository/sqlite"
	"github.com/fjmerc/mediavault/internal/storage"
)

const version = "1.0.0"

const listPageSize = 500

// MigrationStats counts the outcome per archived record
type MigrationStats struct {
	TotalFiles      int
	NotEncrypted    int
	AlreadyMigrated int
	NeedsMigration  int
	Migrated        int
	Failed          int
}

func main() {
	// Command-line flags
	dbPath := flag.String("db", "./mediavault.db", "Path to SQLite database")
	encryptionKey := flag.String("enckey", os.Getenv("ENCRYPTION_KEY"), "64-character hex encryption key (default $ENCRYPTION_KEY)")
	chunkSize := flag.Int("chunk-size", storage.DefaultEncryptionChunkSize, "Target plaintext chunk size in bytes")
	dryRun := flag.Bool("dry-run", false, "Preview migration without making changes")
	showVersion := flag.Bool("version", false, "Show version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")

	flag.Parse()

	if *showVersion {
		fmt.Printf("MediaVault Encryption Chunk Migration Tool v%s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if *encryptionKey == "" {
		slog.Error("encryption key is required")
		fmt.Println("\nUsage: mediavault-rechunk --db <path> --enckey <key> [--chunk-size <bytes>]")
		fmt.Println("       mediavault-rechunk --help")
		os.Exit(1)
	}

	// Decrypting reads the chunk size from each file's header, so one key
	// serves both sides.
	source, err := storage.NewEncryptorFromHex(*encryptionKey, 0)
	if err != nil {
		slog.Error("invalid encryption key", "error", err)
		fmt.Println("Encryption key must be exactly 64 hexadecimal characters (32 bytes)")
		os.Exit(1)
	}
	target, err := storage.NewEncryptorFromHex(*encryptionKey, *chunkSize)
	if err != nil {
		slog.Error("invalid chunk size", "chunk_size", *chunkSize, "error", err)
		os.Exit(1)
	}

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		slog.Error("database file not found", "path", *dbPath)
		os.Exit(1)
	}

	slog.Info("starting chunk size migration",
		"db", *dbPath,
		"chunk_size", target.ChunkSize(),
		"dry_run", *dryRun,
	)

	db, err := database.Initialize(*dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repos, err := sqlite.NewRepositories(db)
	if err != nil {
		slog.Error("failed to create repositories", "error", err)
		os.Exit(1)
	}

	stats, err := migrateArchive(context.Background(), repos.Files, source, target, *dryRun)
	if stats != nil {
		printSummary(os.Stdout, stats, target.ChunkSize(), *dryRun)
	}
	if err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	slog.Info("migration completed successfully")
}

// migrateArchive rewrites every encrypted copy whose chunk size differs from
// target's. Already migrated copies are skipped, so an interrupted run can be
// repeated.
func migrateArchive(ctx context.Context, files repository.FileRecordRepository, source, target *storage.Encryptor, dryRun bool) (*MigrationStats, error) {
	stats := &MigrationStats{}

	for offset := 0; ; offset += listPageSize {
		page, err := files.List(ctx, repository.FileFilter{Limit: listPageSize, Offset: offset})
		if err != nil {
			return stats, fmt.Errorf("failed to list files: %w", err)
		}

		for i := range page {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			migrateOne(&page[i], source, target, dryRun, stats)
		}

		if len(page) < listPageSize {
			break
		}
	}

	if stats.Failed > 0 && !dryRun {
		return stats, fmt.Errorf("%d file(s) failed to migrate", stats.Failed)
	}
	return stats, nil
}

func migrateOne(rec *models.FileRecord, source, target *storage.Encryptor, dryRun bool, stats *MigrationStats) {
	stats.TotalFiles++

	if rec.EncryptedPath == nil {
		stats.NotEncrypted++
		return
	}
	path := *rec.EncryptedPath

	size, err := storage.StreamChunkSize(path)
	if err != nil {
		slog.Error("encrypted copy unreadable or not in SFSE1 format",
			"fingerprint", rec.Fingerprint,
			"path", path,
			"error", err,
		)
		stats.Failed++
		return
	}

	if size == target.ChunkSize() {
		slog.Debug("file already migrated (skipping)", "fingerprint", rec.Fingerprint, "chunk_size", size)
		stats.AlreadyMigrated++
		return
	}

	stats.NeedsMigration++
	slog.Debug("file needs migration",
		"fingerprint", rec.Fingerprint,
		"filename", rec.OriginalFilename,
		"chunk_size", size,
	)

	if dryRun {
		slog.Info("DRY RUN: would migrate file", "fingerprint", rec.Fingerprint, "path", path)
		return
	}

	if err := reencrypt(path, source, target); err != nil {
		slog.Error("failed to migrate file",
			"fingerprint", rec.Fingerprint,
			"path", path,
			"error", err,
		)
		stats.Failed++
		return
	}

	stats.Migrated++
	slog.Info("successfully migrated file",
		"fingerprint", rec.Fingerprint,
		"filename", rec.OriginalFilename,
		"old_chunk_size", size,
		"new_chunk_size", target.ChunkSize(),
	)
}

// reencrypt streams path through source and target into a temporary file and
// renames it over the original. Plaintext never touches the disk.
func reencrypt(path string, source, target *storage.Encryptor) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open encrypted file: %w", err)
	}
	defer src.Close()

	tmpPath := path + ".migrate.tmp"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := source.DecryptStream(pw, src)
		pw.CloseWithError(err)
	}()

	_, encErr := target.EncryptStream(dst, pr)
	pr.CloseWithError(errors.New("encryption stopped"))
	closeErr := dst.Close()

	if encErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if encErr != nil {
			return fmt.Errorf("failed to re-encrypt: %w", encErr)
		}
		return fmt.Errorf("failed to close temporary file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace encrypted file: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, stats *MigrationStats, chunkSize int, dryRun bool) {
	fmt.Fprintln(w, "\n=== Migration Summary ===")
	fmt.Fprintf(w, "Target chunk size:       %d bytes\n", chunkSize)
	fmt.Fprintf(w, "Total files in database: %d\n", stats.TotalFiles)
	fmt.Fprintf(w, "Not encrypted:           %d\n", stats.NotEncrypted)
	fmt.Fprintf(w, "Already migrated:        %d\n", stats.AlreadyMigrated)
	if dryRun {
		fmt.Fprintf(w, "Would migrate:           %d\n", stats.NeedsMigration)
	} else {
		fmt.Fprintf(w, "Successfully migrated:   %d\n", stats.Migrated)
		fmt.Fprintf(w, "Failed migrations:       %d\n", stats.Failed)
	}
}
