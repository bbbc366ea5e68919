package backup

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CopyArchiveDir copies the archive tree under srcDir into destDir, keeping
// relative paths and modification times. Hidden files and directories are
// skipped. Returns the number of files and bytes copied.
func CopyArchiveDir(srcDir, destDir string, progressCallback func(current, total int, path string)) (int, int64, error) {
	srcInfo, err := os.Stat(srcDir)
	if err != nil {
		return 0, 0, fmt.Errorf("source directory not accessible: %w", err)
	}
	if !srcInfo.IsDir() {
		return 0, 0, fmt.Errorf("source path is not a directory: %s", srcDir)
	}

	if err := os.MkdirAll(destDir, BackupDirPerms); err != nil {
		return 0, 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	files, err := listArchiveFiles(srcDir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list files: %w", err)
	}

	var totalSize int64
	copied := 0

	for i, rel := range files {
		if progressCallback != nil {
			progressCallback(i+1, len(files), rel)
		}

		size, err := copyFileWithSize(filepath.Join(srcDir, rel), filepath.Join(destDir, rel))
		if err != nil {
			return copied, totalSize, fmt.Errorf("failed to copy %s: %w", rel, err)
		}

		copied++
		totalSize += size
	}

	return copied, totalSize, nil
}

// RestoreArchiveDir copies a snapshot's archive tree back into destDir.
// Existing files are overwritten.
func RestoreArchiveDir(backupDir, destDir string, progressCallback func(current, total int, path string)) (int, error) {
	if _, err := os.Stat(backupDir); err != nil {
		return 0, fmt.Errorf("snapshot archive directory not accessible")
	}

	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return 0, fmt.Errorf("invalid destination directory")
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	files, err := listArchiveFiles(backupDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshot files: %w", err)
	}

	restored := 0
	for i, rel := range files {
		if err := validateRelPath(rel); err != nil {
			return restored, fmt.Errorf("invalid path in snapshot: %s", rel)
		}

		destPath := filepath.Join(absDestDir, rel)
		if !strings.HasPrefix(destPath, absDestDir+string(filepath.Separator)) {
			return restored, fmt.Errorf("path traversal detected: %s", rel)
		}

		if progressCallback != nil {
			progressCallback(i+1, len(files), rel)
		}

		if _, err := copyFileWithSize(filepath.Join(backupDir, rel), destPath); err != nil {
			return restored, fmt.Errorf("failed to restore %s: %w", rel, err)
		}
		restored++
	}

	return restored, nil
}

// validateRelPath checks that a snapshot-relative path stays inside its root
func validateRelPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return fmt.Errorf("absolute path")
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return fmt.Errorf("path contains traversal")
		}
	}
	return nil
}

// listArchiveFiles walks dir and returns the relative paths of regular files,
// skipping anything hidden
func listArchiveFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})

	return files, err
}

// copyFileWithSize copies src to dst, creating parent directories, and keeps
// the source permissions and modification time
func copyFileWithSize(src, dst string) (int64, error) {
	sourceFile, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer sourceFile.Close()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}

	destFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, sourceInfo.Mode().Perm())
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(destFile, sourceFile)
	if err != nil {
		destFile.Close()
		return written, err
	}
	if err := destFile.Sync(); err != nil {
		destFile.Close()
		return written, err
	}
	if err := destFile.Close(); err != nil {
		return written, err
	}

	if err := os.Chtimes(dst, sourceInfo.ModTime(), sourceInfo.ModTime()); err != nil {
		return written, err
	}

	return written, nil
}
