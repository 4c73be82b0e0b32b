package transfer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/freaghill/hangjegyzet-sub008/upload/session"
)

// Source provides chunk data for upload.
// ChunkAt may be called multiple times for the same index to support retries.
type Source interface {
	// NumChunks returns the total number of chunks.
	NumChunks() int

	// ChunkSize returns the byte length of the chunk at the given index.
	ChunkSize(index int) int64

	// ChunkAt returns a reader positioned at the chunk's bytes. The reader
	// is valid for the lifetime of one upload attempt.
	ChunkAt(index int) (io.Reader, error)
}

// FileSource reads chunks from a file on disk. Safe for parallel chunk reads.
type FileSource struct {
	file      *os.File
	fileSize  int64
	chunkSize int64
	mu        sync.Mutex
}

// NewFileSource opens path and plans its chunks.
func NewFileSource(path string, chunkSize int64) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileSource{
		file:      file,
		fileSize:  info.Size(),
		chunkSize: chunkSize,
	}, nil
}

// NumChunks returns the total number of chunks.
func (s *FileSource) NumChunks() int {
	return session.TotalChunks(s.fileSize, s.chunkSize)
}

// ChunkSize returns the byte length of the chunk at the given index.
func (s *FileSource) ChunkSize(index int) int64 {
	return session.ChunkLength(index, s.fileSize, s.chunkSize)
}

// ChunkAt reads the chunk into memory so a retry can replay the same bytes.
func (s *FileSource) ChunkAt(index int) (io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, end := session.ChunkRange(index, s.fileSize, s.chunkSize)
	if end <= start {
		return nil, fmt.Errorf("chunk index %d out of range", index)
	}

	if _, err := s.file.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to offset %d for chunk %d: %w", start, index, err)
	}

	chunk := make([]byte, end-start)
	if _, err := io.ReadFull(s.file, chunk); err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}

	return bytes.NewReader(chunk), nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// BytesSource provides chunks from an in-memory byte slice. Useful in tests
// and for data that is already buffered.
type BytesSource struct {
	data      []byte
	chunkSize int64
}

// NewBytesSource plans chunks over the given data.
func NewBytesSource(data []byte, chunkSize int64) *BytesSource {
	return &BytesSource{data: data, chunkSize: chunkSize}
}

// NumChunks returns the total number of chunks.
func (s *BytesSource) NumChunks() int {
	return session.TotalChunks(int64(len(s.data)), s.chunkSize)
}

// ChunkSize returns the byte length of the chunk at the given index.
func (s *BytesSource) ChunkSize(index int) int64 {
	return session.ChunkLength(index, int64(len(s.data)), s.chunkSize)
}

// ChunkAt returns a reader over the chunk's byte range.
func (s *BytesSource) ChunkAt(index int) (io.Reader, error) {
	start, end := session.ChunkRange(index, int64(len(s.data)), s.chunkSize)
	if end <= start {
		return nil, fmt.Errorf("chunk index %d out of range", index)
	}
	return bytes.NewReader(s.data[start:end]), nil
}
