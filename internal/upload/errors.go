package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChunk is returned for a chunk whose index, total or size does not fit its session.
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrSessionClosed is returned when a completed or failed session receives more work.
	ErrSessionClosed = errors.New("upload session is closed")
	// ErrUnknownSession is returned when a session id has no stored session.
	ErrUnknownSession = errors.New("unknown upload session")
	// ErrIncompleteTransfer is matched by *IncompleteTransferError.
	ErrIncompleteTransfer = errors.New("incomplete transfer")
	// ErrTransferTooLarge is returned when the declared size exceeds the configured maximum.
	ErrTransferTooLarge = errors.New("transfer exceeds maximum upload size")
	// ErrShuttingDown is returned once the assembler stopped accepting work.
	ErrShuttingDown = errors.New("upload assembler is shutting down")
)

// IncompleteTransferError lists the chunk indices a session still needs.
type IncompleteTransferError struct {
	SessionID string
	Missing   []int
}

func (e *IncompleteTransferError) Error() string {
	return fmt.Sprintf("session %s is missing %d chunks", e.SessionID, len(e.Missing))
}

// Is makes errors.Is(err, ErrIncompleteTransfer) true.
func (e *IncompleteTransferError) Is(target error) bool {
	return target == ErrIncompleteTransfer
}
