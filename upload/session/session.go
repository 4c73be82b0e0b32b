// Package session defines the durable upload session model shared by the
// transfer engine and the persistence store, along with the pure chunk
// planning math. It performs no I/O.
package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of an upload session.
type Status string

const (
	StatusPreparing Status = "preparing"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// DefaultChunkSize is the chunk size used when the caller does not configure one.
const DefaultChunkSize int64 = 5 * 1024 * 1024

// DefaultTTL is how long a session stays eligible for resume.
const DefaultTTL = 24 * time.Hour

// Session is the durable record of one file's upload progress, keyed by ID.
// A session is owned by exactly one transfer engine instance at a time.
type Session struct {
	ID          string
	FileName    string
	FileSize    int64
	FileType    string
	ChunkSize   int64
	TotalChunks int

	// Uploaded is the set of chunk indices acknowledged by the upload
	// service. It only grows until the session completes or is cancelled.
	Uploaded map[int]struct{}

	// Extra carries caller-supplied fields (e.g. processing-mode hints)
	// attached to every chunk and merge call.
	Extra map[string]string

	StartTime time.Time
	ExpiresAt time.Time
	Status    Status
}

// New creates a session for the given file, planning its chunk count.
func New(fileName string, fileSize int64, fileType string, chunkSize int64, ttl time.Duration) (*Session, error) {
	if fileName == "" {
		return nil, fmt.Errorf("file name must not be empty")
	}
	if fileSize <= 0 {
		return nil, fmt.Errorf("file size must be positive, got %d", fileSize)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now().UTC()
	return &Session{
		ID:          uuid.NewString(),
		FileName:    fileName,
		FileSize:    fileSize,
		FileType:    fileType,
		ChunkSize:   chunkSize,
		TotalChunks: TotalChunks(fileSize, chunkSize),
		Uploaded:    make(map[int]struct{}),
		StartTime:   now,
		ExpiresAt:   now.Add(ttl),
		Status:      StatusPreparing,
	}, nil
}

// MarkUploaded records a chunk index as acknowledged.
func (s *Session) MarkUploaded(index int) {
	if s.Uploaded == nil {
		s.Uploaded = make(map[int]struct{})
	}
	s.Uploaded[index] = struct{}{}
}

// IsUploaded reports whether a chunk index has been acknowledged.
func (s *Session) IsUploaded(index int) bool {
	_, ok := s.Uploaded[index]
	return ok
}

// UploadedCount returns the number of acknowledged chunks.
func (s *Session) UploadedCount() int {
	return len(s.Uploaded)
}

// UploadedBytes approximates the transferred byte count as chunk count times
// chunk size, capped at the file size (the final chunk may be short).
func (s *Session) UploadedBytes() int64 {
	bytes := int64(len(s.Uploaded)) * s.ChunkSize
	if bytes > s.FileSize {
		bytes = s.FileSize
	}
	return bytes
}

// Complete reports whether every chunk has been acknowledged.
func (s *Session) Complete() bool {
	return len(s.Uploaded) == s.TotalChunks
}

// Matches reports whether the supplied file reference is the same file this
// session was created for. Resume requires an exact name+size+type match so
// chunks from two different files are never merged under one upload id.
func (s *Session) Matches(fileName string, fileSize int64, fileType string) bool {
	return s.FileName == fileName && s.FileSize == fileSize && s.FileType == fileType
}

// Expired reports whether the session is past its resume deadline.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// UploadedIndices returns the acknowledged chunk indices in ascending order.
func (s *Session) UploadedIndices() []int {
	indices := make([]int, 0, len(s.Uploaded))
	for index := range s.Uploaded {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

// Clone returns a deep copy, so stores can hand out snapshots without sharing
// mutable state with the owning engine.
func (s *Session) Clone() *Session {
	copied := *s
	copied.Uploaded = make(map[int]struct{}, len(s.Uploaded))
	for index := range s.Uploaded {
		copied.Uploaded[index] = struct{}{}
	}
	if s.Extra != nil {
		copied.Extra = make(map[string]string, len(s.Extra))
		for k, v := range s.Extra {
			copied.Extra[k] = v
		}
	}
	return &copied
}
