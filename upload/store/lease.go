package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrSessionLocked is returned when another process already holds the lease
// for an upload session. Two transfer engines must never operate on the same
// session, so the second acquirer is rejected instead of left undefined.
var ErrSessionLocked = errors.New("upload session is locked by another process")

// Lease is an advisory file lock guarding one upload session.
type Lease struct {
	path string
	lock *flock.Flock
}

// AcquireLease takes the lease for uploadID, creating a lock file under dir.
func AcquireLease(dir, uploadID string) (*Lease, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lease dir: %w", err)
	}

	path := filepath.Join(dir, uploadID+".lock")
	lock := flock.New(path)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire session lease: %w", err)
	}
	if !ok {
		return nil, ErrSessionLocked
	}

	return &Lease{path: path, lock: lock}, nil
}

// Path returns the lock file path.
func (l *Lease) Path() string {
	return l.path
}

// Release unlocks and removes the lock file.
func (l *Lease) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release session lease: %w", err)
	}
	_ = os.Remove(l.path)
	return nil
}
