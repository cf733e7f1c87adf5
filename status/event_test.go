package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_Terminal(t *testing.T) {
	tests := []struct {
		event    Event
		terminal bool
		failed   bool
	}{
		{Event{Status: "processing"}, false, false},
		{Event{Status: "Completed"}, true, false},
		{Event{Status: "failed"}, true, true},
		{Event{Status: "cancelled"}, true, false},
		{Event{Status: "canceled"}, true, false},
		{Event{Type: "end"}, true, false},
		{Event{Type: "progress"}, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.event.Terminal(), "%+v", tt.event)
		assert.Equal(t, tt.failed, tt.event.Failed(), "%+v", tt.event)
	}
}

func TestParseEvent(t *testing.T) {
	now := time.Unix(1700000000, 0)

	e, err := parseEvent([]byte(` {"streamId":"s","type":"status","status":"queued"} `), now)
	require.NoError(t, err)
	assert.Equal(t, "s", e.StreamID)
	assert.Equal(t, "queued", e.Status)
	assert.Equal(t, now, e.ReceivedAt)
	assert.NotEmpty(t, e.Raw)

	e, err = parseEvent([]byte("transcoding started"), now)
	require.NoError(t, err)
	assert.Equal(t, Event{Type: "message", Message: "transcoding started", ReceivedAt: now}, e)

	_, err = parseEvent([]byte(`42`), now)
	assert.ErrorIs(t, err, errNotAnObject)

	_, err = parseEvent([]byte("  "), now)
	assert.Error(t, err)

	_, err = parseEvent([]byte(`{"progress":"half"}`), now)
	assert.Error(t, err)
}
