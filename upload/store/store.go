// Package store persists upload sessions so they survive process restarts
// and page reloads. The SQLite implementation is the durable default; the
// in-memory implementation serves tests and single-run tools.
package store

import (
	"context"
	"time"

	"github.com/freaghill/hangjegyzet-sub008/upload/session"
)

// Summary is the resumable-session view offered to callers outside the
// transfer critical path.
type Summary struct {
	UploadID string
	FileName string
	FileSize int64
	FileType string
	// Progress is the rounded percentage of acknowledged chunk bytes.
	Progress  int
	ExpiresAt time.Time
}

// Store is a durable keyed record of upload sessions.
type Store interface {
	// Save upserts the session under its upload id.
	Save(ctx context.Context, s *session.Session) error

	// Load returns the session for the given upload id, or nil when absent.
	Load(ctx context.Context, uploadID string) (*session.Session, error)

	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, uploadID string) error

	// ListResumable returns sessions whose expiry is after now.
	ListResumable(ctx context.Context, now time.Time) ([]Summary, error)

	// DeleteExpired removes sessions whose expiry is at or before now and
	// returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Close releases the underlying resources.
	Close() error
}
