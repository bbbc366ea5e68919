package backup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// backupDirNameRegex matches directories created by Create
var backupDirNameRegex = regexp.MustCompile(`^backup-\d{8}-\d{6}(-\d+)?$`)

// Create takes a snapshot according to opts
func Create(opts CreateOptions) (*BackupResult, error) {
	startTime := time.Now()
	result := &BackupResult{}

	fail := func(err error) (*BackupResult, error) {
		result.Error = err.Error()
		result.Duration = time.Since(startTime)
		result.DurationString = result.Duration.String()
		return result, err
	}

	if err := validateCreateOptions(&opts); err != nil {
		return fail(err)
	}

	backupPath, err := makeBackupDir(opts.OutputDir)
	if err != nil {
		return fail(err)
	}

	// Anything below leaves a partial snapshot behind unless removed
	abort := func(err error) (*BackupResult, error) {
		os.RemoveAll(backupPath)
		return fail(err)
	}

	manifest := NewManifest(opts.Mode, opts.AppVersion)
	manifest.SourceDBPath = opts.DBPath
	manifest.SourceArchiveDir = opts.ArchiveDir
	if opts.EncryptionKey != "" {
		manifest.Encryption.Enabled = true
		manifest.Encryption.KeyFingerprint = ComputeKeyFingerprint(opts.EncryptionKey)
	}

	totalSteps := 4
	if opts.Mode == ModeFull {
		totalSteps += 2
	}
	currentStep := 0
	reportProgress := func(description string) {
		currentStep++
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(currentStep, totalSteps, description)
		}
	}

	reportProgress("Snapshotting database...")
	dbBackupPath := filepath.Join(backupPath, DatabaseFilename)
	if err := BackupDatabase(opts.DBPath, dbBackupPath); err != nil {
		return abort(fmt.Errorf("failed to backup database: %w", err))
	}

	reportProgress("Computing database checksum...")
	dbChecksum, err := ComputeChecksum(dbBackupPath)
	if err != nil {
		return abort(fmt.Errorf("failed to compute database checksum: %w", err))
	}
	manifest.Checksums[DatabaseFilename] = dbChecksum
	manifest.Stats.DatabaseSizeBytes, _ = GetFileSize(dbBackupPath)

	reportProgress("Gathering database statistics...")
	if stats, err := GetDatabaseStats(dbBackupPath); err != nil {
		manifest.Warnings = append(manifest.Warnings, fmt.Sprintf("Could not gather database stats: %v", err))
	} else {
		manifest.Stats.FileRecordsCount = stats.FileRecordsCount
		manifest.Stats.SyncRecordsCount = stats.SyncRecordsCount
		manifest.Stats.UploadSessionsCount = stats.UploadSessionsCount
	}

	if opts.Mode == ModeFull {
		reportProgress("Copying archive...")
		archiveBackupPath := filepath.Join(backupPath, ArchiveDirname)

		copied, size, err := CopyArchiveDir(opts.ArchiveDir, archiveBackupPath, func(current, total int, path string) {
			if opts.ProgressCallback != nil {
				opts.ProgressCallback(currentStep, totalSteps, fmt.Sprintf("Copying file %d/%d: %s", current, total, path))
			}
		})
		if err != nil {
			return abort(fmt.Errorf("failed to copy archive: %w", err))
		}
		manifest.Stats.FilesBackedUp = copied
		manifest.Stats.FilesSizeBytes = size

		reportProgress("Computing file checksums...")
		files, err := listArchiveFiles(archiveBackupPath)
		if err != nil {
			return abort(fmt.Errorf("failed to list copied archive: %w", err))
		}
		for _, rel := range files {
			checksum, err := ComputeChecksum(filepath.Join(archiveBackupPath, rel))
			if err != nil {
				manifest.Warnings = append(manifest.Warnings, fmt.Sprintf("Could not compute checksum for %s: %v", rel, err))
				continue
			}
			manifest.Checksums[filepath.ToSlash(filepath.Join(ArchiveDirname, rel))] = checksum
		}
	} else if manifest.Stats.FileRecordsCount > 0 {
		manifest.Warnings = append(manifest.Warnings,
			fmt.Sprintf("Archive not included - %d file records preserved without their files", manifest.Stats.FileRecordsCount))
	}

	manifest.Stats.TotalSizeBytes = manifest.Stats.DatabaseSizeBytes + manifest.Stats.FilesSizeBytes

	reportProgress("Writing manifest...")
	if err := WriteManifest(manifest, backupPath); err != nil {
		return abort(fmt.Errorf("failed to write manifest: %w", err))
	}

	result.Success = true
	result.BackupPath = backupPath
	result.Manifest = manifest
	result.Duration = time.Since(startTime)
	result.DurationString = result.Duration.String()

	slog.Info("snapshot created",
		"path", backupPath,
		"mode", opts.Mode,
		"file_records", manifest.Stats.FileRecordsCount,
		"files", manifest.Stats.FilesBackedUp,
		"size_bytes", manifest.Stats.TotalSizeBytes,
		"duration", result.DurationString,
	)
	return result, nil
}

// makeBackupDir creates a fresh snapshot directory under outputDir. Mkdir
// fails on an existing name, so two snapshots in the same second get a suffix.
func makeBackupDir(outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, BackupDirPerms); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := GetBackupDirName()
	backupPath := filepath.Join(outputDir, name)
	err := os.Mkdir(backupPath, BackupDirPerms)
	if os.IsExist(err) {
		backupPath = filepath.Join(outputDir, fmt.Sprintf("%s-%d", name, time.Now().UnixNano()))
		err = os.Mkdir(backupPath, BackupDirPerms)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	info, err := os.Lstat(backupPath)
	if err != nil || !info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
		os.Remove(backupPath)
		return "", fmt.Errorf("backup path is not a regular directory")
	}
	return backupPath, nil
}

func validateCreateOptions(opts *CreateOptions) error {
	if !opts.Mode.IsValid() {
		return fmt.Errorf("invalid backup mode: %s", opts.Mode)
	}
	if opts.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if _, err := os.Stat(opts.DBPath); err != nil {
		return fmt.Errorf("database not accessible: %w", err)
	}
	if opts.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if opts.Mode == ModeFull {
		if opts.ArchiveDir == "" {
			return fmt.Errorf("archive directory is required for full backup mode")
		}
		if _, err := os.Stat(opts.ArchiveDir); err != nil {
			return fmt.Errorf("archive directory not accessible: %w", err)
		}
	}
	return nil
}

// ListBackups returns the snapshots in a directory, newest first
func ListBackups(backupsDir string) ([]BackupInfo, error) {
	var backups []BackupInfo

	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return backups, nil
		}
		return nil, fmt.Errorf("failed to read backups directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		backupPath := filepath.Join(backupsDir, entry.Name())
		manifest, err := ReadManifest(backupPath)
		if err != nil {
			continue
		}

		totalSize, _ := GetDirectorySize(backupPath)
		backups = append(backups, BackupInfo{
			Path:             backupPath,
			Name:             entry.Name(),
			CreatedAt:        manifest.CreatedAt,
			Mode:             manifest.Mode,
			AppVersion:       manifest.AppVersion,
			TotalSizeBytes:   totalSize,
			FileRecordsCount: manifest.Stats.FileRecordsCount,
			FilesBackedUp:    manifest.Stats.FilesBackedUp,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	return backups, nil
}

// PruneBackups removes snapshot directories created before cutoff. Only
// directories named like Create's output are considered.
func PruneBackups(backupsDir string, cutoff time.Time) (int, error) {
	absBackupDir, err := filepath.Abs(backupsDir)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve backup directory: %w", err)
	}

	entries, err := os.ReadDir(absBackupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !backupDirNameRegex.MatchString(entry.Name()) {
			continue
		}

		backupPath := filepath.Join(absBackupDir, entry.Name())
		if !strings.HasPrefix(backupPath, absBackupDir+string(filepath.Separator)) {
			continue
		}

		created := time.Time{}
		if manifest, err := ReadManifest(backupPath); err == nil {
			created = manifest.CreatedAt
		} else if info, err := entry.Info(); err == nil {
			created = info.ModTime()
		}
		if created.IsZero() || !created.Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(backupPath); err != nil {
			slog.Error("failed to remove old snapshot", "path", entry.Name(), "error", err)
			continue
		}
		removed++
		slog.Info("removed old snapshot", "path", entry.Name(), "created_at", created)
	}

	return removed, nil
}
