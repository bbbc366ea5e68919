package webhooks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fjmerc/mediavault/internal/utils"
)

// TransformPayload transforms a webhook event into the specified format
func TransformPayload(event *Event, format WebhookFormat) (string, error) {
	switch format {
	case FormatGotify:
		return transformToGotify(event)
	case FormatNtfy:
		return transformToNtfy(event)
	case FormatDiscord:
		return transformToDiscord(event)
	case FormatJSON:
		return event.ToJSON()
	default:
		return "", fmt.Errorf("unsupported webhook format: %s", format)
	}
}

// eventTitle is shared by every notification format
func eventTitle(event *Event) string {
	switch event.Type {
	case EventSyncCompleted:
		return "Backup Completed"
	case EventSyncPartial:
		return "Backup Completed With Errors"
	case EventSyncFailed:
		return "Backup Failed"
	case EventVerifyFailed:
		return "Archive Verification Failed"
	default:
		return "MediaVault Event"
	}
}

// summaryLines renders the event body as label/value pairs
func summaryLines(event *Event) [][2]string {
	var lines [][2]string
	if s := event.Sync; s != nil {
		if s.DeviceID != "" {
			lines = append(lines, [2]string{"Device", s.DeviceID})
		}
		lines = append(lines,
			[2]string{"Archived", fmt.Sprintf("%d of %d", s.FilesIngested, s.FilesProcessed)},
			[2]string{"Duplicates", fmt.Sprintf("%d", s.FilesSkipped)},
		)
		if s.FilesFailed > 0 {
			lines = append(lines, [2]string{"Failed", fmt.Sprintf("%d", s.FilesFailed)})
		}
		lines = append(lines,
			[2]string{"Size", utils.FormatBytes(uint64(s.BytesProcessed))},
			[2]string{"Duration", (time.Duration(s.DurationSecs * float64(time.Second))).Round(time.Second).String()},
		)
		if s.Error != "" {
			lines = append(lines, [2]string{"Error", s.Error})
		}
	}
	if v := event.Verify; v != nil {
		lines = append(lines,
			[2]string{"Checked", fmt.Sprintf("%d", v.Checked)},
			[2]string{"Missing", fmt.Sprintf("%d", v.Missing)},
			[2]string{"Mismatched", fmt.Sprintf("%d", v.Mismatched)},
			[2]string{"Errors", fmt.Sprintf("%d", v.Errors)},
		)
	}
	return lines
}

func plainMessage(event *Event, bold bool) string {
	var b strings.Builder
	for i, l := range summaryLines(event) {
		if i > 0 {
			b.WriteString("\n")
		}
		if bold {
			fmt.Fprintf(&b, "**%s:** %s", l[0], l[1])
		} else {
			fmt.Fprintf(&b, "%s: %s", l[0], l[1])
		}
	}
	return b.String()
}

// severity is 0 for success, 1 for partial, 2 for failures
func severity(event *Event) int {
	switch event.Type {
	case EventSyncCompleted:
		return 0
	case EventSyncPartial:
		return 1
	default:
		return 2
	}
}

// transformToGotify transforms an event to Gotify message format
func transformToGotify(event *Event) (string, error) {
	payload := map[string]interface{}{
		"title":    "MediaVault: " + eventTitle(event),
		"message":  plainMessage(event, true),
		"priority": []int{4, 6, 8}[severity(event)],
		"extras": map[string]interface{}{
			"client::display": map[string]string{
				"contentType": "text/markdown",
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal Gotify payload: %w", err)
	}
	return string(data), nil
}

// transformToNtfy transforms an event to ntfy.sh JSON publishing format.
// The topic is taken from the URL path.
func transformToNtfy(event *Event) (string, error) {
	payload := map[string]interface{}{
		"title":    eventTitle(event),
		"message":  plainMessage(event, false),
		"tags":     [][]string{{"white_check_mark"}, {"warning"}, {"rotating_light"}}[severity(event)],
		"priority": []int{3, 4, 5}[severity(event)],
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ntfy payload: %w", err)
	}
	return string(data), nil
}

// transformToDiscord transforms an event to Discord webhook format
func transformToDiscord(event *Event) (string, error) {
	var fields []map[string]interface{}
	for _, l := range summaryLines(event) {
		fields = append(fields, map[string]interface{}{
			"name":   l[0],
			"value":  l[1],
			"inline": l[0] != "Error",
		})
	}

	embed := map[string]interface{}{
		"title":     eventTitle(event),
		"color":     []int{3066993, 15844367, 15158332}[severity(event)], // green, gold, red
		"fields":    fields,
		"timestamp": event.Timestamp.Format(time.RFC3339),
		"footer": map[string]string{
			"text": "MediaVault",
		},
	}

	data, err := json.Marshal(map[string]interface{}{"embeds": []interface{}{embed}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal Discord payload: %w", err)
	}
	return string(data), nil
}
