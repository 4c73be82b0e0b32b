package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/freaghill/hangjegyzet-sub008/upload/session"
)

// Memory is an ephemeral Store for tests and single-run tools. Sessions do
// not survive the process, but the contract matches the durable stores.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*session.Session)}
}

// Save upserts a deep copy of the session.
func (m *Memory) Save(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Load returns a deep copy of the stored session, or nil when absent.
func (m *Memory) Load(_ context.Context, uploadID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uploadID]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

// Delete removes the session if present.
func (m *Memory) Delete(_ context.Context, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, uploadID)
	return nil
}

// ListResumable returns summaries of sessions expiring after now, ordered by
// start time.
func (m *Memory) ListResumable(_ context.Context, now time.Time) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sessions []*session.Session
	for _, s := range m.sessions {
		if s.ExpiresAt.After(now) {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})

	summaries := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, Summary{
			UploadID:  s.ID,
			FileName:  s.FileName,
			FileSize:  s.FileSize,
			FileType:  s.FileType,
			Progress:  progressPercent(s.UploadedCount(), s.ChunkSize, s.FileSize),
			ExpiresAt: s.ExpiresAt,
		})
	}
	return summaries, nil
}

// DeleteExpired removes sessions whose expiry has passed.
func (m *Memory) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}
