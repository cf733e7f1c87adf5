// Package status follows the job status events the backend pushes for a stream.
// The channel is best effort: its failures are logged and never reach the upload result.
package status

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Event is one job status message.
type Event struct {
	StreamID string   `json:"streamId"`
	Type     string   `json:"type"`
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
	Message  string   `json:"message"`

	Raw        json.RawMessage `json:"-"`
	ReceivedAt time.Time       `json:"-"`
}

var terminalStatuses = map[string]bool{
	"completed": true,
	"complete":  true,
	"succeeded": true,
	"failed":    true,
	"error":     true,
	"canceled":  true,
	"cancelled": true,
}

// Terminal reports whether the event ends the job.
func (e Event) Terminal() bool {
	if strings.EqualFold(e.Type, "end") {
		return true
	}
	return terminalStatuses[strings.ToLower(e.Status)]
}

// Failed reports whether the job ended unsuccessfully.
func (e Event) Failed() bool {
	s := strings.ToLower(e.Status)
	return s == "failed" || s == "error"
}

var errNotAnObject = errors.New("status message is not a JSON object")

// parseEvent decodes a message. Plain text becomes a message event; JSON that is
// not an object is rejected.
func parseEvent(data []byte, now time.Time) (Event, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Event{}, errors.New("empty status message")
	}

	if !json.Valid([]byte(trimmed)) {
		return Event{Type: "message", Message: trimmed, ReceivedAt: now}, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Event{}, errNotAnObject
	}

	var e Event
	if err := json.Unmarshal([]byte(trimmed), &e); err != nil {
		return Event{}, err
	}
	e.Raw = json.RawMessage(trimmed)
	e.ReceivedAt = now
	return e, nil
}
