package models

import "time"

// SessionStatus is the lifecycle state of an UploadSession.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionPaused     SessionStatus = "paused"
)

// Failure reasons recorded on sessions that were closed without completing.
const (
	SessionReasonCancelled = "cancelled"
	SessionReasonExpired   = "expired"
)

// IsTerminal reports whether no further chunks may be accepted.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CanTransition reports whether moving from s to next is allowed.
// in_progress may move to any other state, paused may only resume, terminal states never move.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionInProgress:
		return next == SessionCompleted || next == SessionFailed || next == SessionPaused
	case SessionPaused:
		return next == SessionInProgress || next == SessionFailed
	default:
		return false
	}
}

// UploadSession tracks one chunked transfer.
type UploadSession struct {
	SessionID       string        `json:"session_id"`
	Filename        string        `json:"filename"`
	TotalSize       int64         `json:"total_size"`
	TotalChunks     int           `json:"total_chunks"`
	ReceivedChunks  []int         `json:"received_chunks"`
	ReceivedBytes   int64         `json:"received_bytes"`
	Status          SessionStatus `json:"status"`
	TempPath        string        `json:"temp_path"`
	Fingerprint     *string       `json:"fingerprint,omitempty"`
	DestinationPath *string       `json:"destination_path,omitempty"`
	Skipped         bool          `json:"skipped"`
	DeviceID        string        `json:"device_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage    *string       `json:"error_message,omitempty"`
	RetryCount      int           `json:"retry_count"`
}

// HasChunk reports whether index has been recorded as received.
func (s *UploadSession) HasChunk(index int) bool {
	for _, c := range s.ReceivedChunks {
		if c == index {
			return true
		}
	}
	return false
}

// MissingChunks returns the indices in [0, TotalChunks) not yet received, ascending.
func (s *UploadSession) MissingChunks() []int {
	have := make(map[int]bool, len(s.ReceivedChunks))
	for _, c := range s.ReceivedChunks {
		have[c] = true
	}
	missing := []int{}
	for i := 0; i < s.TotalChunks; i++ {
		if !have[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// Progress returns the received fraction in [0, 1].
func (s *UploadSession) Progress() float64 {
	if s.TotalChunks <= 0 {
		return 0
	}
	return float64(len(s.ReceivedChunks)) / float64(s.TotalChunks)
}

// UploadChunkResponse represents the response after uploading a chunk
type UploadChunkResponse struct {
	Success        bool    `json:"success"`
	SessionID      string  `json:"session_id"`
	ChunkIndex     int     `json:"chunk_index"`
	ReceivedChunks int     `json:"received_chunks"`
	TotalChunks    int     `json:"total_chunks"`
	Progress       float64 `json:"progress"`
	Duplicate      bool    `json:"duplicate,omitempty"`
}

// FinalizeResponse is returned when a session finalizes successfully
type FinalizeResponse struct {
	Success     bool   `json:"success"`
	SessionID   string `json:"session_id"`
	Fingerprint string `json:"fingerprint"`
	Destination string `json:"destination"`
	Skipped     bool   `json:"skipped"`
}

// FinalizeIncompleteResponse reports the chunks the client still has to send
type FinalizeIncompleteResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	MissingChunks []int  `json:"missing_chunks"`
}

// SessionStatusResponse represents the response for session status requests
type SessionStatusResponse struct {
	Success        bool          `json:"success"`
	SessionID      string        `json:"session_id"`
	Filename       string        `json:"filename"`
	Status         SessionStatus `json:"status"`
	ReceivedChunks int           `json:"received_chunks"`
	TotalChunks    int           `json:"total_chunks"`
	ReceivedBytes  int64         `json:"received_bytes"`
	TotalSize      int64         `json:"total_size"`
	MissingChunks  []int         `json:"missing_chunks,omitempty"`
	Progress       float64       `json:"progress"`
	Fingerprint    *string       `json:"fingerprint,omitempty"`
	ErrorMessage   *string       `json:"error_message,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewSessionResponse carries a server-generated session id
type NewSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	ChunkSize int64  `json:"chunk_size"`
}
