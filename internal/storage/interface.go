// Package storage provides the byte-level storage collaborators of the ingestion
// pipeline: the chunk staging area used by resumable uploads, the SFSE1 stream
// encryption used for encrypt-at-rest copies, and the off-site mirror contract.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrChunkTooLarge is returned when a chunk exceeds the allowed size.
	ErrChunkTooLarge = errors.New("chunk exceeds maximum size")
	// ErrChunkMissing is returned when assembly finds a gap in the chunk sequence.
	ErrChunkMissing = errors.New("chunk missing")
)

// ChunkStore persists the chunks of in-flight upload sessions.
// Each (sessionID, index) pair addresses exactly one artifact.
type ChunkStore interface {
	// SaveChunk writes one chunk. The write is atomic: a crash leaves either the
	// previous state or the complete chunk. maxSize > 0 rejects oversized chunks.
	// Returns the number of bytes stored.
	SaveChunk(ctx context.Context, sessionID string, index int, data io.Reader, maxSize int64) (int64, error)

	// ChunkExists checks if a specific chunk exists and returns its size.
	ChunkExists(ctx context.Context, sessionID string, index int) (exists bool, size int64, err error)

	// ChunkIndices returns the indices present on disk, ascending.
	ChunkIndices(ctx context.Context, sessionID string) ([]int, error)

	// AssembleChunks concatenates chunks 0..totalChunks-1 in order into one file,
	// deleting each chunk once it has been copied. Returns the assembled path and size.
	AssembleChunks(ctx context.Context, sessionID string, totalChunks int) (path string, size int64, err error)

	// AssembledFile returns the file left by an earlier AssembleChunks call.
	// ok is false when the session has not been assembled.
	AssembledFile(ctx context.Context, sessionID string) (path string, size int64, ok bool, err error)

	// DeleteSession removes every artifact of a session, including an assembled file.
	DeleteSession(ctx context.Context, sessionID string) error

	// SessionPath is the directory holding a session's artifacts.
	SessionPath(sessionID string) string
}

// Mirror receives a copy of archived files at a second location.
type Mirror interface {
	// Upload copies the local file to key. Returns the remote location.
	Upload(ctx context.Context, key string, localPath string) (string, error)

	// Exists reports whether key is present remotely.
	Exists(ctx context.Context, key string) (bool, error)

	// Download streams the remote object into w.
	Download(ctx context.Context, key string, w io.Writer) (int64, error)
}

// StorageError represents errors from storage operations with additional context.
type StorageError struct {
	Op      string // Operation that failed (e.g., "SaveChunk", "Encrypt")
	Path    string // Path, session id or key involved
	Err     error  // Underlying error
	Message string // Human-readable message
}

func (e *StorageError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return e.Op + " " + e.Path
	}
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the given details.
func NewStorageError(op, path string, err error) *StorageError {
	return &StorageError{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// NewStorageErrorWithMessage creates a new StorageError with a custom message.
func NewStorageErrorWithMessage(op, path string, err error, message string) *StorageError {
	return &StorageError{
		Op:      op,
		Path:    path,
		Err:     err,
		Message: message,
	}
}
