package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freaghill/hangjegyzet-sub008/upload/transfer"
)

func newTestAPIService(t *testing.T, handler http.Handler) *APIService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	service, err := NewAPIService(APIConfig{
		BaseURL:     server.URL,
		AccessToken: "token-123",
	}, log.NewLogger())
	require.NoError(t, err)
	return service
}

func TestAPIService_UploadChunk(t *testing.T) {
	var (
		gotPath   string
		gotAuth   string
		gotFields map[string]string
		gotChunk  []byte
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(1024*1024))
		gotFields = map[string]string{}
		for key, values := range r.MultipartForm.Value {
			gotFields[key] = values[0]
		}

		file, _, err := r.FormFile("chunk")
		require.NoError(t, err)
		defer file.Close()
		gotChunk, err = io.ReadAll(file)
		require.NoError(t, err)

		w.WriteHeader(http.StatusOK)
	})

	service := newTestAPIService(t, handler)
	err := service.UploadChunk(context.Background(), transfer.ChunkRequest{
		UploadID:    "upload-1",
		Index:       2,
		TotalChunks: 3,
		FileName:    "memo.mp3",
		FileType:    "audio/mpeg",
		FileSize:    3000,
		Body:        strings.NewReader("chunk payload"),
		Size:        13,
		Extra:       map[string]string{"mode": "meeting"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/uploads/upload-1/chunks", gotPath)
	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "upload-1", gotFields["upload_id"])
	assert.Equal(t, "2", gotFields["chunk_index"])
	assert.Equal(t, "3", gotFields["total_chunks"])
	assert.Equal(t, "memo.mp3", gotFields["file_name"])
	assert.Equal(t, "audio/mpeg", gotFields["file_type"])
	assert.Equal(t, "3000", gotFields["file_size"])
	assert.Equal(t, "meeting", gotFields["mode"])
	assert.Equal(t, []byte("chunk payload"), gotChunk)
}

func TestAPIService_UploadChunk_ServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
		fmt.Fprint(w, "disk full")
	})

	service := newTestAPIService(t, handler)
	err := service.UploadChunk(context.Background(), transfer.ChunkRequest{
		UploadID: "upload-1",
		Body:     strings.NewReader("data"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "507")
	assert.Contains(t, err.Error(), "disk full")
}

func TestAPIService_Merge(t *testing.T) {
	var gotBody mergeRequestBody
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uploads/upload-1/merge", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(mergeResponseBody{Path: "/storage/memo.mp3"})
	})

	service := newTestAPIService(t, handler)
	result, err := service.Merge(context.Background(), transfer.MergeRequest{
		UploadID:    "upload-1",
		FileName:    "memo.mp3",
		FileType:    "audio/mpeg",
		FileSize:    3000,
		TotalChunks: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, "/storage/memo.mp3", result.Path)
	assert.Equal(t, "memo.mp3", gotBody.FileName)
	assert.Equal(t, 3, gotBody.TotalChunks)
}

func TestAPIService_Merge_ReportsServerReason(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(mergeResponseBody{Error: "chunk 1 missing"})
	})

	service := newTestAPIService(t, handler)
	_, err := service.Merge(context.Background(), transfer.MergeRequest{UploadID: "upload-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 1 missing")
}

func TestNewAPIService_RequiresBaseURL(t *testing.T) {
	_, err := NewAPIService(APIConfig{}, log.NewLogger())
	assert.Error(t, err)
}
