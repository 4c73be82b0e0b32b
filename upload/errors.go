package upload

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when resuming an upload id the store does
// not know. The caller should start a fresh upload.
var ErrSessionNotFound = errors.New("upload session not found")

// ErrSessionExpired is returned when a session exists but is past its resume
// deadline. The stale record is removed before this is returned.
var ErrSessionExpired = errors.New("upload session expired")

// ValidationError describes a file rejected before any chunk is sent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("file validation failed: %s", e.Reason)
}
