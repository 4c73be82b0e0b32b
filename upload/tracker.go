package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type uploadTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newUploadTracker(envRepo env.Repository, logger log.Logger) uploadTracker {
	p := analytics.Properties{
		"app_version": envRepo.Get("HANGJEGYZET_APP_VERSION"),
		"device_id":   envRepo.Get("HANGJEGYZET_DEVICE_ID"),
	}
	return uploadTracker{
		tracker: analytics.NewDefaultTracker(logger, p),
		logger:  logger,
	}
}

func (t *uploadTracker) logUploadStarted(fileSize int64, totalChunks int, resumed bool) {
	properties := analytics.Properties{
		"file_size_bytes": fileSize,
		"chunk_count":     totalChunks,
		"resumed":         resumed,
	}
	t.tracker.Enqueue("upload_started", properties)
}

func (t *uploadTracker) logUploadCompleted(uploadTime time.Duration, fileSize int64, totalChunks int) {
	properties := analytics.Properties{
		"upload_time_s":   uploadTime.Truncate(time.Second).Seconds(),
		"file_size_bytes": fileSize,
		"chunk_count":     totalChunks,
	}
	t.tracker.Enqueue("upload_completed", properties)
}

func (t *uploadTracker) logUploadFailed(uploadedChunks, totalChunks int) {
	properties := analytics.Properties{
		"uploaded_chunks": uploadedChunks,
		"chunk_count":     totalChunks,
	}
	t.tracker.Enqueue("upload_failed", properties)
}

func (t *uploadTracker) logUploadCancelled(uploadedChunks, totalChunks int) {
	properties := analytics.Properties{
		"uploaded_chunks": uploadedChunks,
		"chunk_count":     totalChunks,
	}
	t.tracker.Enqueue("upload_cancelled", properties)
}

func (t *uploadTracker) wait() {
	t.tracker.Wait()
}
