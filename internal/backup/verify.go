package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Verify checks a snapshot: manifest, database integrity, and every checksum
func Verify(backupDir string) *VerifyResult {
	return VerifyWithProgress(backupDir, nil)
}

// VerifyWithProgress is Verify with a progress callback
func VerifyWithProgress(backupDir string, progressCallback func(current, total int, description string)) *VerifyResult {
	result := &VerifyResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	totalSteps := 4
	currentStep := 0
	reportProgress := func(description string) {
		currentStep++
		if progressCallback != nil {
			progressCallback(currentStep, totalSteps, description)
		}
	}

	if _, err := os.Stat(backupDir); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Backup directory not accessible: %v", err))
		return result
	}

	// Step 1: manifest
	reportProgress("Reading manifest...")
	manifest, err := ReadManifest(backupDir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read manifest: %v", err))
		return result
	}
	result.Manifest = manifest

	if err := ValidateManifest(manifest); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Invalid manifest: %v", err))
		return result
	}
	result.ManifestValid = true

	// Step 2: database
	reportProgress("Validating database...")
	dbPath := filepath.Join(backupDir, DatabaseFilename)
	if _, err := os.Stat(dbPath); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Database file not found: %v", err))
	} else if err := ValidateDatabase(dbPath); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Database integrity check failed: %v", err))
	} else {
		result.DatabaseValid = true
	}

	absBackupDir, err := filepath.Abs(backupDir)
	if err != nil {
		result.Errors = append(result.Errors, "Invalid backup directory path")
		return result
	}

	// Step 3: checksums
	reportProgress("Verifying checksums...")
	result.ChecksumsValid = true
	for file, expectedChecksum := range manifest.Checksums {
		if validateRelPath(file) != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Invalid path in manifest: %s", file))
			result.ChecksumsValid = false
			continue
		}

		filePath := filepath.Join(absBackupDir, filepath.FromSlash(file))
		if !strings.HasPrefix(filePath, absBackupDir+string(filepath.Separator)) {
			result.Errors = append(result.Errors, fmt.Sprintf("Path traversal in manifest: %s", file))
			result.ChecksumsValid = false
			continue
		}

		if _, err := os.Stat(filePath); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("File not found: %s", file))
			result.MissingFiles = append(result.MissingFiles, file)
			result.ChecksumsValid = false
			continue
		}

		actualChecksum, err := ComputeChecksum(filePath)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to compute checksum for %s: %v", file, err))
			result.ChecksumsValid = false
			continue
		}
		if actualChecksum != expectedChecksum {
			result.ChecksumsValid = false
			result.ChecksumMismatches = append(result.ChecksumMismatches, ChecksumMismatch{
				File:     file,
				Expected: expectedChecksum,
				Actual:   actualChecksum,
			})
		}
	}

	// Step 4: full snapshots must hold as many files as were copied
	reportProgress("Verifying files...")
	result.FilesValid = true
	if manifest.Mode == ModeFull && manifest.IncludesFiles {
		archiveDir := filepath.Join(backupDir, ArchiveDirname)
		if _, err := os.Stat(archiveDir); err != nil {
			if manifest.Stats.FilesBackedUp > 0 {
				result.Errors = append(result.Errors, "Archive directory not found but files were expected")
				result.FilesValid = false
			}
		} else if files, err := listArchiveFiles(archiveDir); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to list archive: %v", err))
			result.FilesValid = false
		} else if len(files) != manifest.Stats.FilesBackedUp {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("File count mismatch: expected %d, found %d", manifest.Stats.FilesBackedUp, len(files)))
		}
	}

	result.Valid = result.ManifestValid &&
		result.DatabaseValid &&
		result.ChecksumsValid &&
		result.FilesValid &&
		len(result.Errors) == 0

	return result
}

// QuickVerify checks that the manifest and database are present without
// computing checksums
func QuickVerify(backupDir string) *VerifyResult {
	result := &VerifyResult{
		Errors:   []string{},
		Warnings: []string{"Checksum verification skipped (quick mode)"},
	}

	if _, err := os.Stat(backupDir); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Backup directory not accessible: %v", err))
		return result
	}

	manifest, err := ReadManifest(backupDir)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Failed to read manifest: %v", err))
		return result
	}
	result.Manifest = manifest
	result.ManifestValid = true

	if _, err := os.Stat(filepath.Join(backupDir, DatabaseFilename)); err != nil {
		result.Errors = append(result.Errors, "Database file not found")
	} else {
		result.DatabaseValid = true
	}

	result.ChecksumsValid = true
	result.FilesValid = true
	if manifest.Mode == ModeFull && manifest.Stats.FilesBackedUp > 0 {
		if _, err := os.Stat(filepath.Join(backupDir, ArchiveDirname)); err != nil {
			result.Errors = append(result.Errors, "Archive directory not found")
			result.FilesValid = false
		}
	}

	result.Valid = result.ManifestValid &&
		result.DatabaseValid &&
		result.FilesValid &&
		len(result.Errors) == 0

	return result
}
