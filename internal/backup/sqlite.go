package backup

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	// BackupDirPerms is the permission mode for backup directories (owner only)
	BackupDirPerms = 0700
	// BackupFilePerms is the permission mode for backup files (owner only)
	BackupFilePerms = 0600
)

// sqlSafePath matches paths that can be embedded in a VACUUM INTO literal
var sqlSafePath = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)

// validatePathForSQL rejects relative paths and paths with characters that
// would need quoting. VACUUM INTO does not accept bound parameters.
func validatePathForSQL(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute")
	}
	if !sqlSafePath.MatchString(path) {
		return fmt.Errorf("path contains invalid characters")
	}
	return nil
}

// BackupDatabase takes a hot copy of a SQLite database with VACUUM INTO,
// which is consistent under WAL mode
func BackupDatabase(sourcePath, destPath string) error {
	absDestPath, err := filepath.Abs(destPath)
	if err != nil {
		return fmt.Errorf("invalid destination path: %w", err)
	}
	if err := validatePathForSQL(absDestPath); err != nil {
		return fmt.Errorf("invalid destination path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(absDestPath), BackupDirPerms); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	// VACUUM INTO refuses to overwrite
	if err := os.Remove(absDestPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing destination: %w", err)
	}

	db, err := sql.Open("sqlite", sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("source database is not accessible: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", absDestPath)); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}

	if err := os.Chmod(absDestPath, BackupFilePerms); err != nil {
		slog.Warn("failed to restrict snapshot permissions", "path", absDestPath, "error", err)
	}

	if _, err := os.Stat(absDestPath); err != nil {
		return fmt.Errorf("snapshot file was not created: %w", err)
	}

	return nil
}

// RestoreDatabase replaces destPath (and its WAL/SHM files) with a snapshot
// copy and checks the result
func RestoreDatabase(backupPath, destPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("snapshot database not found")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), BackupDirPerms); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		path := destPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove existing file %s: %w", path, err)
		}
	}

	if err := copyFile(backupPath, destPath); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}

	if err := ValidateDatabase(destPath); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("restored database is invalid: %w", err)
	}

	return nil
}

// ValidateDatabase opens a SQLite database and runs PRAGMA integrity_check
func ValidateDatabase(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("database is not accessible: %w", err)
	}

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database integrity check failed: %s", result)
	}

	return nil
}

// GetTableCounts returns row counts for the snapshot tables present in db
func GetTableCounts(db *sql.DB) (map[string]int, error) {
	counts := make(map[string]int)

	for _, table := range SnapshotTables {
		var count int
		// Table names come from a fixed list
		err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM \"%s\"", table)).Scan(&count)
		if err != nil {
			if isTableNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to count rows in %s: %w", table, err)
		}
		counts[table] = count
	}

	return counts, nil
}

// GetDatabaseStats counts the rows of a metadata database for the manifest
func GetDatabaseStats(dbPath string) (*BackupStats, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	counts, err := GetTableCounts(db)
	if err != nil {
		return nil, err
	}

	return &BackupStats{
		FileRecordsCount:    counts["file_records"],
		SyncRecordsCount:    counts["sync_records"],
		UploadSessionsCount: counts["upload_sessions"],
	}, nil
}

// ArchivedFile is the subset of a file record restore needs
type ArchivedFile struct {
	ID               int64
	Fingerprint      string
	OriginalFilename string
	DestinationPath  string
	FileSize         int64
}

// GetArchivedFiles reads every file record of a metadata database
func GetArchivedFiles(dbPath string) ([]ArchivedFile, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT id, fingerprint, original_filename, destination_path, file_size FROM file_records ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query file records: %w", err)
	}
	defer rows.Close()

	var records []ArchivedFile
	for rows.Next() {
		var r ArchivedFile
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.OriginalFilename, &r.DestinationPath, &r.FileSize); err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file records: %w", err)
	}

	return records, nil
}

// DeleteFileRecords removes file records by id and returns how many were deleted
func DeleteFileRecords(dbPath string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	result, err := db.Exec(
		fmt.Sprintf("DELETE FROM file_records WHERE id IN (%s)", strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete file records: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(count), nil
}

// isTableNotFound checks if an error indicates a missing table
func isTableNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "doesn't exist")
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, BackupFilePerms)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return destFile.Sync()
}
