package transfer

import (
	"context"
	"io"

	"github.com/freaghill/hangjegyzet-sub008/upload/session"
)

// ChunkRequest carries a single chunk's bytes plus the metadata the upload
// service needs to place it.
type ChunkRequest struct {
	UploadID    string
	Index       int
	TotalChunks int
	FileName    string
	FileType    string
	FileSize    int64
	Body        io.Reader
	Size        int64
	Extra       map[string]string
}

// MergeRequest asks the upload service to assemble all received chunks into
// the complete file.
type MergeRequest struct {
	UploadID    string
	FileName    string
	FileType    string
	FileSize    int64
	TotalChunks int
	Extra       map[string]string
}

// MergeResult is the outcome of a successful merge.
type MergeResult struct {
	// Path is the storage path or identifier of the assembled file.
	Path string
}

// Service is the external upload collaborator. Implementations live in the
// network package; tests use in-memory fakes.
type Service interface {
	UploadChunk(ctx context.Context, req ChunkRequest) error
	Merge(ctx context.Context, req MergeRequest) (MergeResult, error)
}

// Aborter is optionally implemented by services that hold per-upload server
// state (e.g. an S3 multipart upload) that should be released on cancel.
type Aborter interface {
	Abort(ctx context.Context, uploadID string) error
}

// SessionSaver persists session state after chunk completions and status
// transitions. The store package satisfies it.
type SessionSaver interface {
	Save(ctx context.Context, s *session.Session) error
}

// ProgressFunc receives progress snapshots after every chunk completion and
// on status transitions. Delivery order matches completion order; the engine
// ignores anything the callback does.
type ProgressFunc func(p session.Progress)
