package transfer

import (
	"errors"
	"fmt"
)

// ErrCancelled is reported when the caller cancels an upload. Cancellation is
// user-driven, not a fault, but it travels through the same error channel so
// callers can distinguish it with errors.Is.
var ErrCancelled = errors.New("upload cancelled")

// ErrPaused is reported when the transfer loop stops because the controller
// was paused. The session stays persisted and can be resumed.
var ErrPaused = errors.New("upload paused")

// ChunkError is the terminal failure of a single chunk after its retry
// budget is exhausted. It aborts the whole session; chunks uploaded before it
// stay persisted for a later resume.
type ChunkError struct {
	Index   int
	Retries int
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("failed to upload chunk %d after %d retries: %v", e.Index, e.Retries, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// MergeError is the terminal failure of the finalize step. All chunks were
// transferred but the file was not assembled; the session is kept so the
// caller can retry finalization explicitly.
type MergeError struct {
	Reason string
	Err    error
}

func (e *MergeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("failed to merge chunks: %s", e.Reason)
	}
	return fmt.Sprintf("failed to merge chunks: %v", e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}
