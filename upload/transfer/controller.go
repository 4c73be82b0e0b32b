package transfer

import (
	"context"
	"sync"
)

// Controller is the cooperative pause/cancel mechanism observed by the
// engine. Pause and Cancel abort in-flight chunk requests by cancelling the
// run context the engine registered; the engine then inspects the controller
// to decide whether it stopped for a pause, a cancel, or a caller-side
// context cancellation.
type Controller struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	abort     context.CancelFunc
}

// NewController returns a controller in the running state.
func NewController() *Controller {
	return &Controller{}
}

// Pause requests a pause. In-flight chunk requests are aborted; completed
// chunks stay recorded and the session remains resumable.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled || c.paused {
		return
	}
	c.paused = true
	if c.abort != nil {
		c.abort()
	}
}

// Resume clears a pause so the engine can re-enter its loop.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.paused = false
}

// Cancel permanently stops the upload. Valid from any non-terminal state;
// unlike Pause it is not resumable.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	c.paused = false
	if c.abort != nil {
		c.abort()
	}
}

// Paused reports whether a pause is requested.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Cancelled reports whether the upload was cancelled.
func (c *Controller) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// attach registers the cancel func of the engine's current run context. If a
// pause or cancel is already pending, the context is aborted immediately.
func (c *Controller) attach(abort context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abort = abort
	if c.paused || c.cancelled {
		abort()
	}
}

func (c *Controller) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abort = nil
}
