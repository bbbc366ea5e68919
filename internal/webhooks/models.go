// Package webhooks notifies an external endpoint about sync runs and archive
// verification problems. Payloads can be plain JSON signed with HMAC-SHA256
// or shaped for Gotify, ntfy or Discord.
package webhooks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjmerc/mediavault/internal/config"
	"github.com/fjmerc/mediavault/internal/models"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventSyncCompleted EventType = "sync.completed"
	EventSyncPartial   EventType = "sync.partial"
	EventSyncFailed    EventType = "sync.failed"
	EventVerifyFailed  EventType = "archive.verify_failed"
)

// ValidEventType reports whether s names a known event
func ValidEventType(s string) bool {
	switch EventType(s) {
	case EventSyncCompleted, EventSyncPartial, EventSyncFailed, EventVerifyFailed:
		return true
	default:
		return false
	}
}

// WebhookFormat represents the format/protocol for webhook payloads
type WebhookFormat string

const (
	FormatJSON    WebhookFormat = "json"    // Event as-is
	FormatGotify  WebhookFormat = "gotify"  // Gotify notification format
	FormatNtfy    WebhookFormat = "ntfy"    // ntfy.sh notification format
	FormatDiscord WebhookFormat = "discord" // Discord webhook format
)

// ValidateFormat checks if a webhook format is valid
func ValidateFormat(format string) bool {
	switch WebhookFormat(format) {
	case FormatJSON, FormatGotify, FormatNtfy, FormatDiscord:
		return true
	default:
		return false
	}
}

// Config is the endpoint notifications are sent to
type Config struct {
	URL            string
	Secret         string
	ServiceToken   string // Gotify app token (query) or ntfy access token (bearer)
	Events         []EventType
	Format         WebhookFormat
	MaxRetries     int
	TimeoutSeconds int
}

// ConfigFromSettings converts the environment settings, rejecting unknown
// event names.
func ConfigFromSettings(w *config.WebhookConfig) (Config, error) {
	cfg := Config{
		URL:            w.URL,
		Secret:         w.Secret,
		ServiceToken:   w.ServiceToken,
		Format:         WebhookFormat(w.Format),
		MaxRetries:     w.MaxRetries,
		TimeoutSeconds: w.TimeoutSeconds,
	}
	if !ValidateFormat(w.Format) {
		return cfg, fmt.Errorf("unsupported webhook format: %s", w.Format)
	}
	for _, e := range w.Events {
		if !ValidEventType(e) {
			return cfg, fmt.Errorf("unknown webhook event: %s", e)
		}
		cfg.Events = append(cfg.Events, EventType(e))
	}
	return cfg, nil
}

// SubscribedTo checks if a config is subscribed to an event type. An empty
// event list subscribes to everything.
func (c *Config) SubscribedTo(eventType EventType) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, event := range c.Events {
		if event == eventType {
			return true
		}
	}
	return false
}

// Delivery tracks one payload through its attempts
type Delivery struct {
	EventType    EventType
	Payload      string
	AttemptCount int
	Status       DeliveryStatus
	ResponseCode int
	ErrorMessage string
	NextRetryAt  time.Time
}

// DeliveryStatus represents the status of a webhook delivery
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// Event represents a webhook event to be delivered
type Event struct {
	Type      EventType   `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Sync      *SyncData   `json:"sync,omitempty"`
	Verify    *VerifyData `json:"verify,omitempty"`
}

// SyncData summarises a finished sync run
type SyncData struct {
	RunID          string  `json:"run_id"`
	DeviceID       string  `json:"device_id,omitempty"`
	Kind           string  `json:"kind"`
	Status         string  `json:"status"`
	FilesProcessed int     `json:"files_processed"`
	FilesIngested  int     `json:"files_ingested"`
	FilesSkipped   int     `json:"files_skipped"`
	FilesFailed    int     `json:"files_failed"`
	BytesProcessed int64   `json:"bytes_processed"`
	DurationSecs   float64 `json:"duration_seconds"`
	Error          string  `json:"error,omitempty"`
}

// VerifyData summarises a verification pass that found problems
type VerifyData struct {
	RunID      string `json:"run_id,omitempty"`
	Checked    int    `json:"checked"`
	Missing    int    `json:"missing"`
	Mismatched int    `json:"mismatched"`
	Errors     int    `json:"errors"`
}

// NewSyncEvent builds the event for a finished run. The event type follows
// the run status; runs still in progress report as failed.
func NewSyncEvent(rec *models.SyncRecord) *Event {
	eventType := EventSyncFailed
	switch rec.Status {
	case models.SyncSuccess:
		eventType = EventSyncCompleted
	case models.SyncPartial:
		eventType = EventSyncPartial
	}

	data := &SyncData{
		RunID:          rec.RunID,
		DeviceID:       rec.DeviceID,
		Kind:           string(rec.Kind),
		Status:         string(rec.Status),
		FilesProcessed: rec.FilesProcessed,
		FilesIngested:  rec.FilesIngested,
		FilesSkipped:   rec.FilesSkipped,
		FilesFailed:    rec.FilesFailed,
		BytesProcessed: rec.BytesProcessed,
		DurationSecs:   rec.Duration.Seconds(),
	}
	if rec.ErrorMessage != nil {
		data.Error = *rec.ErrorMessage
	}

	return &Event{Type: eventType, Timestamp: time.Now().UTC(), Sync: data}
}

// NewVerifyEvent builds the event for a verification pass with problems
func NewVerifyEvent(data VerifyData) *Event {
	return &Event{Type: EventVerifyFailed, Timestamp: time.Now().UTC(), Verify: &data}
}

// ToJSON converts an Event to JSON string
func (e *Event) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
