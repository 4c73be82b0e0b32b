package transfer

import (
	"sync"
	"time"
)

// Stats tracks per-chunk transfer durations for throughput logging.
type Stats struct {
	mu        sync.Mutex
	sum       time.Duration
	completed int64
}

// NewStats creates an empty Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful chunk transfer duration.
func (s *Stats) Update(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.completed++
}

// Average returns the mean transfer duration of completed chunks.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed == 0 {
		return 0
	}
	return s.sum / time.Duration(s.completed)
}

// Completed returns the number of completed chunk transfers.
func (s *Stats) Completed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// TotalDuration returns the sum of all recorded durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}
