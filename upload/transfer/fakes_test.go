package transfer

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/freaghill/hangjegyzet-sub008/upload/session"
)

// fakeService records every chunk and merge call and fails on demand.
type fakeService struct {
	mu sync.Mutex

	// failFirst fails this many attempts per chunk index before succeeding.
	failFirst map[int]int
	// failAlways makes every attempt of a chunk index fail.
	failAlways map[int]bool
	mergeErr   error
	mergePath  string

	// onChunk runs at the start of every UploadChunk call, before any
	// failure logic. Used to trigger pause/cancel mid-transfer.
	onChunk func(req ChunkRequest)
	// onMerge runs at the start of every Merge call, before any failure
	// logic. Used to trigger pause/cancel while the merge is in flight.
	onMerge func(req MergeRequest)

	attempts   map[int]int
	chunkOrder []int
	chunkBytes map[int]int64
	mergeCalls []MergeRequest
}

func newFakeService() *fakeService {
	return &fakeService{
		failFirst:  map[int]int{},
		failAlways: map[int]bool{},
		attempts:   map[int]int{},
		chunkBytes: map[int]int64{},
		mergePath:  "/storage/uploads/merged",
	}
}

func (f *fakeService) UploadChunk(ctx context.Context, req ChunkRequest) error {
	f.mu.Lock()
	f.attempts[req.Index]++
	attempt := f.attempts[req.Index]
	f.chunkOrder = append(f.chunkOrder, req.Index)
	hook := f.onChunk
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAlways[req.Index] {
		return errors.New("connection reset")
	}
	if attempt <= f.failFirst[req.Index] {
		return errors.New("connection reset")
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	f.chunkBytes[req.Index] = int64(len(data))
	return nil
}

func (f *fakeService) Merge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	f.mu.Lock()
	f.mergeCalls = append(f.mergeCalls, req)
	hook := f.onMerge
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err := ctx.Err(); err != nil {
		return MergeResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return MergeResult{}, f.mergeErr
	}
	return MergeResult{Path: f.mergePath}, nil
}

func (f *fakeService) attemptCount(index int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[index]
}

func (f *fakeService) order() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.chunkOrder...)
}

func (f *fakeService) mergeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mergeCalls)
}

// fakeSaver records every persisted session snapshot.
type fakeSaver struct {
	mu     sync.Mutex
	saves  []*session.Session
	errors []error
}

func (f *fakeSaver) Save(_ context.Context, s *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errors) > 0 {
		err := f.errors[0]
		f.errors = f.errors[1:]
		if err != nil {
			return err
		}
	}
	f.saves = append(f.saves, s.Clone())
	return nil
}

func (f *fakeSaver) lastSave() *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return nil
	}
	return f.saves[len(f.saves)-1]
}
