// Package analytics reports upload lifecycle events.
package analytics

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
)

type TrackerFactory func(log.Logger, ...analytics.Properties) analytics.Tracker

const (
	StreamID  = "stream_id"
	SessionID = "session_id"
	Mode      = "mode"
)

// UploadTracker enqueues upload events. The zero value and a disabled tracker drop every event.
type UploadTracker struct {
	tracker analytics.Tracker
}

// NewUploadTracker creates a tracker tagging every event with the stream identity.
// A disabled tracker never calls trackerFactory.
func NewUploadTracker(enabled bool, logger log.Logger, trackerFactory TrackerFactory, streamID, sessionID, mode string) *UploadTracker {
	if !enabled {
		return &UploadTracker{}
	}

	return &UploadTracker{
		tracker: trackerFactory(logger, analytics.Properties{
			StreamID:  streamID,
			SessionID: sessionID,
			Mode:      mode,
		}),
	}
}

func (t *UploadTracker) enqueue(event string, properties analytics.Properties) {
	if t == nil || t.tracker == nil {
		return
	}
	t.tracker.Enqueue(event, properties)
}

func (t *UploadTracker) Started(videoSize, audioSize, chunkSize int64) {
	t.enqueue("media_upload_started", analytics.Properties{
		"video_size_bytes": videoSize,
		"audio_size_bytes": audioSize,
		"chunk_size_bytes": chunkSize,
	})
}

func (t *UploadTracker) FileCommitted(name string, blockCount int, size int64, uploadTime time.Duration) {
	t.enqueue("media_upload_file_committed", analytics.Properties{
		"file":          name,
		"block_count":   blockCount,
		"size_bytes":    size,
		"upload_time_s": uploadTime.Truncate(time.Millisecond).Seconds(),
	})
}

func (t *UploadTracker) Finalized(totalTime time.Duration) {
	t.enqueue("media_upload_finalized", analytics.Properties{
		"total_time_s": totalTime.Truncate(time.Millisecond).Seconds(),
	})
}

func (t *UploadTracker) Failed(outcome, stage string, err error) {
	properties := analytics.Properties{
		"outcome": outcome,
		"stage":   stage,
	}
	if err != nil {
		properties["error"] = err.Error()
	}
	t.enqueue("media_upload_failed", properties)
}

// Wait blocks until queued events are sent.
func (t *UploadTracker) Wait() {
	if t == nil || t.tracker == nil {
		return
	}
	t.tracker.Wait()
}
