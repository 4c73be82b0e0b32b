package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/freaghill/hangjegyzet-sub008/upload/transfer"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	}
	return ""
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

// fakeTransferService counts chunk, merge, and abort calls.
type fakeTransferService struct {
	mu sync.Mutex

	failChunks map[int]bool
	mergeErr   error

	onChunk func(req transfer.ChunkRequest)
	onMerge func(req transfer.MergeRequest)

	chunkCalls []int
	chunkBytes int64
	mergeCalls int
	abortCalls []string
}

func newFakeTransferService() *fakeTransferService {
	return &fakeTransferService{failChunks: map[int]bool{}}
}

func (f *fakeTransferService) UploadChunk(ctx context.Context, req transfer.ChunkRequest) error {
	f.mu.Lock()
	f.chunkCalls = append(f.chunkCalls, req.Index)
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
	if f.failChunks[req.Index] {
		return errors.New("connection reset")
	}
	n, err := io.Copy(io.Discard, req.Body)
	if err != nil {
		return err
	}
	f.chunkBytes += n
	return nil
}

func (f *fakeTransferService) Merge(ctx context.Context, req transfer.MergeRequest) (transfer.MergeResult, error) {
	f.mu.Lock()
	f.mergeCalls++
	hook := f.onMerge
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err := ctx.Err(); err != nil {
		return transfer.MergeResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return transfer.MergeResult{}, f.mergeErr
	}
	return transfer.MergeResult{Path: "/storage/" + req.FileName}, nil
}

func (f *fakeTransferService) Abort(_ context.Context, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls = append(f.abortCalls, uploadID)
	return nil
}

func (f *fakeTransferService) chunks() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.chunkCalls...)
}

func (f *fakeTransferService) merges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mergeCalls
}

func (f *fakeTransferService) aborts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.abortCalls...)
}
