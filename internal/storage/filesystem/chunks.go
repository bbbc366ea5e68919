// Package filesystem implements the ChunkStore interface on the local filesystem.
package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fjmerc/mediavault/internal/storage"
)

const (
	// chunkBufferSize is the write buffer used during assembly (4MB)
	chunkBufferSize = 4 * 1024 * 1024

	chunkPrefix   = "chunk_"
	partialSuffix = ".partial"

	// AssembledName is the file produced by AssembleChunks inside the session directory.
	AssembledName = "assembled"
)

// ChunkStore stages upload chunks under <baseDir>/<sessionID>/chunk_<index>.
type ChunkStore struct {
	baseDir string
}

// NewChunkStore creates a new ChunkStore rooted at baseDir.
func NewChunkStore(baseDir string) (*ChunkStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, storage.NewStorageError("NewChunkStore", baseDir, err)
	}
	return &ChunkStore{baseDir: baseDir}, nil
}

var _ storage.ChunkStore = (*ChunkStore)(nil)

// validateSessionID validates that the session id doesn't contain path traversal.
func validateSessionID(sessionID string) error {
	if sessionID == "" || sessionID == "." ||
		strings.Contains(sessionID, "..") ||
		strings.ContainsAny(sessionID, `/\`) {
		return fmt.Errorf("invalid session ID: %q", sessionID)
	}
	return nil
}

// SessionPath returns the directory holding a session's chunks.
func (cs *ChunkStore) SessionPath(sessionID string) string {
	return filepath.Join(cs.baseDir, sessionID)
}

func (cs *ChunkStore) chunkPath(sessionID string, index int) string {
	return filepath.Join(cs.baseDir, sessionID, fmt.Sprintf("%s%d", chunkPrefix, index))
}

// SaveChunk writes the chunk to a .partial file then renames it into place,
// so a reader never observes a half-written chunk.
func (cs *ChunkStore) SaveChunk(ctx context.Context, sessionID string, index int, data io.Reader, maxSize int64) (int64, error) {
	if err := validateSessionID(sessionID); err != nil {
		return 0, storage.NewStorageErrorWithMessage("SaveChunk", sessionID, err, "invalid session ID")
	}
	if index < 0 {
		return 0, storage.NewStorageErrorWithMessage("SaveChunk", sessionID, nil,
			fmt.Sprintf("invalid chunk index: %d", index))
	}

	dir := cs.SessionPath(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, storage.NewStorageError("SaveChunk", sessionID, err)
	}

	finalPath := cs.chunkPath(sessionID, index)
	tmp, err := os.CreateTemp(dir, filepath.Base(finalPath)+".*"+partialSuffix)
	if err != nil {
		return 0, storage.NewStorageError("SaveChunk", finalPath, err)
	}
	tmpPath := tmp.Name()

	var succeeded bool
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	src := data
	if maxSize > 0 {
		src = io.LimitReader(data, maxSize+1)
	}

	written, err := io.Copy(tmp, src)
	if err != nil {
		return 0, storage.NewStorageError("SaveChunk", finalPath, err)
	}
	if maxSize > 0 && written > maxSize {
		return 0, storage.NewStorageError("SaveChunk", finalPath,
			fmt.Errorf("%w: more than %d bytes", storage.ErrChunkTooLarge, maxSize))
	}

	if err := tmp.Close(); err != nil {
		return 0, storage.NewStorageError("SaveChunk", finalPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return 0, storage.NewStorageError("SaveChunk", finalPath, err)
	}
	succeeded = true

	slog.Debug("chunk saved",
		"session_id", sessionID,
		"chunk_index", index,
		"size", written,
	)

	return written, nil
}

// ChunkExists checks if a specific chunk exists and returns its size.
func (cs *ChunkStore) ChunkExists(ctx context.Context, sessionID string, index int) (bool, int64, error) {
	if err := validateSessionID(sessionID); err != nil {
		return false, 0, storage.NewStorageErrorWithMessage("ChunkExists", sessionID, err, "invalid session ID")
	}

	info, err := os.Stat(cs.chunkPath(sessionID, index))
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, storage.NewStorageError("ChunkExists", sessionID, err)
	}

	return true, info.Size(), nil
}

// ChunkIndices returns a sorted list of chunk indices present for a session.
// In-flight .partial files are ignored.
func (cs *ChunkStore) ChunkIndices(ctx context.Context, sessionID string) ([]int, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, storage.NewStorageErrorWithMessage("ChunkIndices", sessionID, err, "invalid session ID")
	}

	entries, err := os.ReadDir(cs.SessionPath(sessionID))
	if os.IsNotExist(err) {
		return []int{}, nil
	}
	if err != nil {
		return nil, storage.NewStorageError("ChunkIndices", sessionID, err)
	}

	indices := []int{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, chunkPrefix) || strings.HasSuffix(name, partialSuffix) {
			continue
		}
		var index int
		if _, err := fmt.Sscanf(name, chunkPrefix+"%d", &index); err == nil &&
			name == fmt.Sprintf("%s%d", chunkPrefix, index) {
			indices = append(indices, index)
		}
	}

	sort.Ints(indices)
	return indices, nil
}

// AssembleChunks concatenates chunks 0..totalChunks-1 into <session>/assembled.
// Each chunk is removed as soon as it has been copied, keeping peak disk usage
// near one copy of the file.
func (cs *ChunkStore) AssembleChunks(ctx context.Context, sessionID string, totalChunks int) (string, int64, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", 0, storage.NewStorageErrorWithMessage("AssembleChunks", sessionID, err, "invalid session ID")
	}

	startTime := time.Now()
	outputPath := filepath.Join(cs.SessionPath(sessionID), AssembledName)
	tempPath := outputPath + partialSuffix

	// Verify all chunks exist before consuming any of them
	for i := 0; i < totalChunks; i++ {
		exists, _, err := cs.ChunkExists(ctx, sessionID, i)
		if err != nil {
			return "", 0, err
		}
		if !exists {
			return "", 0, storage.NewStorageError("AssembleChunks", sessionID,
				fmt.Errorf("%w: index %d", storage.ErrChunkMissing, i))
		}
	}

	outFile, err := os.Create(tempPath)
	if err != nil {
		return "", 0, storage.NewStorageError("AssembleChunks", tempPath, err)
	}
	defer outFile.Close()

	writer := bufio.NewWriterSize(outFile, chunkBufferSize)
	var totalBytesWritten int64

	for i := 0; i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return "", 0, storage.NewStorageError("AssembleChunks", sessionID, err)
		}

		chunkPath := cs.chunkPath(sessionID, i)
		chunkFile, err := os.Open(chunkPath)
		if err != nil {
			return "", 0, storage.NewStorageError("AssembleChunks", chunkPath, err)
		}

		n, err := io.Copy(writer, chunkFile)
		chunkFile.Close()
		if err != nil {
			return "", 0, storage.NewStorageError("AssembleChunks", chunkPath, err)
		}
		totalBytesWritten += n

		// Flush before deleting so the bytes are in the output file
		if err := writer.Flush(); err != nil {
			return "", 0, storage.NewStorageError("AssembleChunks", tempPath, err)
		}
		if err := os.Remove(chunkPath); err != nil {
			slog.Warn("failed to remove assembled chunk", "path", chunkPath, "error", err)
		}

		if (i+1)%100 == 0 || i == totalChunks-1 {
			slog.Debug("chunk assembly progress",
				"session_id", sessionID,
				"chunks_processed", i+1,
				"total_chunks", totalChunks,
				"bytes_written", totalBytesWritten,
			)
		}
	}

	if err := outFile.Close(); err != nil {
		return "", 0, storage.NewStorageError("AssembleChunks", tempPath, err)
	}
	// Only a complete file carries the assembled name.
	if err := os.Rename(tempPath, outputPath); err != nil {
		return "", 0, storage.NewStorageError("AssembleChunks", outputPath, err)
	}

	duration := time.Since(startTime)
	slog.Info("chunk assembly complete",
		"session_id", sessionID,
		"total_chunks", totalChunks,
		"total_bytes", totalBytesWritten,
		"duration_ms", duration.Milliseconds(),
	)

	return outputPath, totalBytesWritten, nil
}

// AssembledFile reports the assembled file of a session, if AssembleChunks
// finished for it and the file has not been deleted since.
func (cs *ChunkStore) AssembledFile(ctx context.Context, sessionID string) (string, int64, bool, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", 0, false, storage.NewStorageErrorWithMessage("AssembledFile", sessionID, err, "invalid session ID")
	}

	path := filepath.Join(cs.SessionPath(sessionID), AssembledName)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, storage.NewStorageError("AssembledFile", path, err)
	}
	return path, info.Size(), true, nil
}

// DeleteSession removes all artifacts for a session.
func (cs *ChunkStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return storage.NewStorageErrorWithMessage("DeleteSession", sessionID, err, "invalid session ID")
	}

	if err := os.RemoveAll(cs.SessionPath(sessionID)); err != nil {
		return storage.NewStorageError("DeleteSession", sessionID, err)
	}

	slog.Debug("session chunks deleted", "session_id", sessionID)
	return nil
}

// SessionIDs lists the session directories currently staged.
func (cs *ChunkStore) SessionIDs() ([]string, error) {
	entries, err := os.ReadDir(cs.baseDir)
	if err != nil {
		return nil, storage.NewStorageError("SessionIDs", cs.baseDir, err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// AvailableSpace returns the bytes available to non-root users on the staging volume.
func (cs *ChunkStore) AvailableSpace() (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(cs.baseDir, &stat); err != nil {
		return 0, storage.NewStorageError("AvailableSpace", cs.baseDir, err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// BaseDir returns the staging root.
func (cs *ChunkStore) BaseDir() string {
	return cs.baseDir
}
