package backup

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Restore restores the metadata database, and for full snapshots the archive
// tree, from a snapshot directory
func Restore(opts RestoreOptions) (*RestoreResult, error) {
	startTime := time.Now()
	result := &RestoreResult{
		Warnings: []string{},
		DryRun:   opts.DryRun,
	}

	fail := func(err error) (*RestoreResult, error) {
		result.Error = err.Error()
		result.Duration = time.Since(startTime)
		result.DurationString = result.Duration.String()
		return result, err
	}

	if opts.HandleOrphans == "" {
		opts.HandleOrphans = OrphanKeep
	}
	if err := validateRestoreOptions(&opts); err != nil {
		return fail(err)
	}

	manifest, err := ReadManifest(opts.InputDir)
	if err != nil {
		return fail(fmt.Errorf("failed to read manifest: %w", err))
	}
	if err := ValidateManifest(manifest); err != nil {
		return fail(fmt.Errorf("invalid manifest: %w", err))
	}

	if manifest.Encryption.Enabled && opts.EncryptionKey != "" {
		actual := ComputeKeyFingerprint(opts.EncryptionKey)
		if subtle.ConstantTimeCompare([]byte(manifest.Encryption.KeyFingerprint), []byte(actual)) != 1 {
			result.Warnings = append(result.Warnings,
				"Encryption key fingerprint does not match snapshot - encrypted copies may not be decryptable")
		}
	}
	if manifest.SourceArchiveDir != "" && opts.ArchiveDir != "" && filepath.Clean(manifest.SourceArchiveDir) != filepath.Clean(opts.ArchiveDir) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Archive directory differs from snapshot source %s - stored destination paths still point there", manifest.SourceArchiveDir))
	}

	totalSteps := 3
	currentStep := 0
	reportProgress := func(description string) {
		currentStep++
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(currentStep, totalSteps, description)
		}
	}

	reportProgress("Verifying snapshot integrity...")
	verifyResult := Verify(opts.InputDir)
	if !verifyResult.Valid {
		err := fmt.Errorf("backup integrity check failed: %v", verifyResult.Errors)
		if opts.DryRun {
			// A dry run reports the problem without failing
			result.Error = err.Error()
			result.Duration = time.Since(startTime)
			result.DurationString = result.Duration.String()
			return result, nil
		}
		return fail(err)
	}

	if opts.DryRun {
		return dryRun(opts, manifest, result, startTime)
	}

	if !opts.Force {
		if _, err := os.Stat(opts.DBPath); err == nil {
			return fail(fmt.Errorf("destination database already exists (use --force to overwrite)"))
		}
	}

	reportProgress("Restoring database...")
	if err := RestoreDatabase(filepath.Join(opts.InputDir, DatabaseFilename), opts.DBPath); err != nil {
		return fail(fmt.Errorf("failed to restore database: %w", err))
	}

	if manifest.IncludesFiles && manifest.Stats.FilesBackedUp > 0 && opts.ArchiveDir != "" {
		reportProgress("Restoring archive...")
		restored, err := RestoreArchiveDir(filepath.Join(opts.InputDir, ArchiveDirname), opts.ArchiveDir, func(current, total int, path string) {
			if opts.ProgressCallback != nil {
				opts.ProgressCallback(currentStep, totalSteps, fmt.Sprintf("Restoring file %d/%d: %s", current, total, path))
			}
		})
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("File restoration error: %v", err))
		}
		result.FilesRestored = restored
	} else {
		reportProgress("Checking for orphaned file records...")
	}

	// Records whose archived copy is absent would make the same content be
	// skipped forever on the next import.
	found, removed, err := handleOrphans(opts.DBPath, opts.HandleOrphans)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Orphan handling error: %v", err))
	}
	result.OrphansFound = found
	result.OrphansRemoved = removed
	if found > removed {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d file records kept without an archived copy", found-removed))
	}

	result.Success = true
	result.Duration = time.Since(startTime)
	result.DurationString = result.Duration.String()

	slog.Info("snapshot restored",
		"input", opts.InputDir,
		"db_path", opts.DBPath,
		"files_restored", result.FilesRestored,
		"orphans_found", found,
		"orphans_removed", removed,
	)
	return result, nil
}

func validateRestoreOptions(opts *RestoreOptions) error {
	if opts.InputDir == "" {
		return fmt.Errorf("input directory is required")
	}
	if _, err := os.Stat(opts.InputDir); err != nil {
		return fmt.Errorf("input directory not accessible: %w", err)
	}
	if opts.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if !opts.HandleOrphans.IsValid() {
		return fmt.Errorf("invalid orphan handling mode: %s", opts.HandleOrphans)
	}
	return nil
}

// findOrphans returns the records of dbPath whose destination file is missing
func findOrphans(dbPath string) ([]ArchivedFile, error) {
	records, err := GetArchivedFiles(dbPath)
	if err != nil {
		return nil, err
	}

	var orphans []ArchivedFile
	for _, r := range records {
		if _, err := os.Stat(r.DestinationPath); os.IsNotExist(err) {
			orphans = append(orphans, r)
		}
	}
	return orphans, nil
}

func handleOrphans(dbPath string, mode OrphanHandling) (found, removed int, err error) {
	orphans, err := findOrphans(dbPath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get file records: %w", err)
	}
	if len(orphans) == 0 || mode != OrphanRemove {
		return len(orphans), 0, nil
	}

	ids := make([]int64, len(orphans))
	for i, o := range orphans {
		ids[i] = o.ID
	}
	removed, err = DeleteFileRecords(dbPath, ids)
	if err != nil {
		return len(orphans), removed, fmt.Errorf("failed to delete orphans: %w", err)
	}
	return len(orphans), removed, nil
}

// dryRun reports what Restore would do. Orphans are judged against the
// snapshot's own database and the current archive directory.
func dryRun(opts RestoreOptions, manifest *BackupManifest, result *RestoreResult, startTime time.Time) (*RestoreResult, error) {
	if _, err := os.Stat(opts.DBPath); err == nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Database at %s would be overwritten", opts.DBPath))
	}

	if manifest.IncludesFiles && manifest.Stats.FilesBackedUp > 0 {
		result.FilesRestored = manifest.Stats.FilesBackedUp
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d files would be restored to %s", manifest.Stats.FilesBackedUp, opts.ArchiveDir))
	} else if orphans, err := findOrphans(filepath.Join(opts.InputDir, DatabaseFilename)); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Could not check file records: %v", err))
	} else {
		result.OrphansFound = len(orphans)
		if opts.HandleOrphans == OrphanRemove {
			result.OrphansRemoved = len(orphans)
		}
		if len(orphans) > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%d file records have no archived copy (%s)", len(orphans), opts.HandleOrphans))
		}
	}

	result.Success = true
	result.Duration = time.Since(startTime)
	result.DurationString = result.Duration.String()
	return result, nil
}
