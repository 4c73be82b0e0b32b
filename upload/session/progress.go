package session

import (
	"math"
	"time"
)

// Progress is a point-in-time view derived from a session and the current
// wall clock. It is recomputed on demand and never persisted.
type Progress struct {
	UploadID       string
	UploadedBytes  int64
	UploadedChunks int
	TotalChunks    int
	// Percentage is rounded to the nearest whole percent.
	Percentage int
	// Speed is the average throughput in bytes per second since StartTime.
	Speed float64
	// Remaining estimates the time left at the current average speed.
	Remaining time.Duration
	Status    Status
	// Err is set when the session stopped with a terminal failure.
	Err error
}

// Snapshot derives the current progress of a session.
func Snapshot(s *Session, now time.Time, err error) Progress {
	uploadedBytes := s.UploadedBytes()

	percentage := 0
	if s.FileSize > 0 {
		percentage = int(math.Round(float64(uploadedBytes) / float64(s.FileSize) * 100))
	}

	var speed float64
	if elapsed := now.Sub(s.StartTime); elapsed > 0 {
		speed = float64(uploadedBytes) / elapsed.Seconds()
	}

	var remaining time.Duration
	if speed > 0 {
		remaining = time.Duration(float64(s.FileSize-uploadedBytes) / speed * float64(time.Second))
	}

	return Progress{
		UploadID:       s.ID,
		UploadedBytes:  uploadedBytes,
		UploadedChunks: s.UploadedCount(),
		TotalChunks:    s.TotalChunks,
		Percentage:     percentage,
		Speed:          speed,
		Remaining:      remaining,
		Status:         s.Status,
		Err:            err,
	}
}
