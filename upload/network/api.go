// Package network implements the external upload service collaborators: an
// HTTP chunk-upload API and an S3 multipart backend. Both satisfy
// transfer.Service; per-chunk retry policy stays in the transfer engine.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/freaghill/hangjegyzet-sub008/upload/transfer"
)

// APIConfig configures the HTTP upload service client.
type APIConfig struct {
	// BaseURL is the upload API root, e.g. https://api.example.com/v1.
	BaseURL string

	// AccessToken is sent as a bearer token on every request.
	AccessToken string

	// ChunkClient overrides the HTTP client used for chunk bodies.
	// If nil, a client tuned for large uploads is created.
	ChunkClient *http.Client
}

// APIService uploads chunks to an HTTP backend that assembles them on merge.
// Chunk bodies go through a plain tuned client so the engine alone controls
// chunk retries; the merge call goes through a retrying client because it is
// a small idempotent control-plane request.
type APIService struct {
	baseURL       string
	accessToken   string
	chunkClient   *http.Client
	controlClient *retryablehttp.Client
	logger        log.Logger
}

var _ transfer.Service = (*APIService)(nil)

// NewAPIService creates an HTTP upload service client.
func NewAPIService(cfg APIConfig, logger log.Logger) (*APIService, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL must not be empty")
	}

	chunkClient := cfg.ChunkClient
	if chunkClient == nil {
		chunkClient = DefaultChunkClient()
	}

	return &APIService{
		baseURL:       cfg.BaseURL,
		accessToken:   cfg.AccessToken,
		chunkClient:   chunkClient,
		controlClient: retryhttp.NewClient(logger),
		logger:        logger,
	}, nil
}

// DefaultChunkClient creates an HTTP client tuned for chunk uploads.
// Individual chunk timeouts are handled via context, not a client timeout.
func DefaultChunkClient() *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// CloseIdleConnections closes idle connections in the chunk client.
func (s *APIService) CloseIdleConnections() {
	if transport, ok := s.chunkClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

// UploadChunk posts one chunk as multipart form data with its metadata.
func (s *APIService) UploadChunk(ctx context.Context, req transfer.ChunkRequest) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := map[string]string{
		"upload_id":    req.UploadID,
		"chunk_index":  strconv.Itoa(req.Index),
		"total_chunks": strconv.Itoa(req.TotalChunks),
		"file_name":    req.FileName,
		"file_type":    req.FileType,
		"file_size":    strconv.FormatInt(req.FileSize, 10),
	}
	for key, value := range req.Extra {
		fields[key] = value
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("write form field %s: %w", key, err)
		}
	}

	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("%s.part%d", req.FileName, req.Index))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, req.Body); err != nil {
		return fmt.Errorf("write chunk body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close form writer: %w", err)
	}

	url := fmt.Sprintf("%s/uploads/%s/chunks", s.baseURL, req.UploadID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	s.setAuth(httpReq.Header)

	resp, err := s.chunkClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Warnf("close response body: %s", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}
	return nil
}

type mergeRequestBody struct {
	FileName    string            `json:"file_name"`
	FileType    string            `json:"file_type"`
	FileSize    int64             `json:"file_size"`
	TotalChunks int               `json:"total_chunks"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type mergeResponseBody struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Merge asks the backend to assemble the received chunks into the file.
func (s *APIService) Merge(ctx context.Context, req transfer.MergeRequest) (transfer.MergeResult, error) {
	payload, err := json.Marshal(mergeRequestBody{
		FileName:    req.FileName,
		FileType:    req.FileType,
		FileSize:    req.FileSize,
		TotalChunks: req.TotalChunks,
		Extra:       req.Extra,
	})
	if err != nil {
		return transfer.MergeResult{}, err
	}

	url := fmt.Sprintf("%s/uploads/%s/merge", s.baseURL, req.UploadID)
	httpReq, err := retryablehttp.NewRequest(http.MethodPost, url, payload)
	if err != nil {
		return transfer.MergeResult{}, err
	}
	httpReq = httpReq.WithContext(ctx)
	httpReq.Header.Set("Content-Type", "application/json")
	s.setAuth(httpReq.Header)

	resp, err := s.controlClient.Do(httpReq)
	if err != nil {
		return transfer.MergeResult{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Warnf("close response body: %s", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transfer.MergeResult{}, unwrapError(resp)
	}

	var response mergeResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return transfer.MergeResult{}, fmt.Errorf("decode merge response: %w", err)
	}
	if response.Path == "" {
		if response.Error != "" {
			return transfer.MergeResult{}, fmt.Errorf("%s", response.Error)
		}
		return transfer.MergeResult{}, fmt.Errorf("merge returned no storage path")
	}

	return transfer.MergeResult{Path: response.Path}, nil
}

func (s *APIService) setAuth(header http.Header) {
	if s.accessToken != "" {
		header.Set("Authorization", fmt.Sprintf("Bearer %s", s.accessToken))
	}
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
