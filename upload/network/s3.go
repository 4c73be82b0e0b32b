package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/freaghill/hangjegyzet-sub008/upload/transfer"
)

const numS3ControlRetries = 3

// s3API is the slice of the S3 client this service uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)
}

// S3Params configures the S3 multipart upload backend.
type S3Params struct {
	Region          string
	Bucket          string
	KeyPrefix       string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Service maps chunked uploads onto S3 multipart uploads: every chunk
// becomes one part and the merge step completes the multipart upload.
// Single-chunk files skip the multipart ceremony and go through one PutObject.
//
// The in-memory part bookkeeping is a cache only. A resumed session in a
// fresh process adopts the multipart upload S3 already holds for the object
// key and recovers the part ETags via ListParts, so resume and finalize work
// across process restarts.
type S3Service struct {
	client s3API
	bucket string
	prefix string
	logger log.Logger

	mu      sync.Mutex
	uploads map[string]*multipartState
}

type multipartState struct {
	key         string
	multipartID string
	// etags maps part number (chunk index + 1) to the ETag S3 returned.
	etags  map[int32]string
	single bool
}

var _ transfer.Service = (*S3Service)(nil)
var _ transfer.Aborter = (*S3Service)(nil)

// NewS3Service creates an S3 upload backend.
func NewS3Service(ctx context.Context, params S3Params, logger log.Logger) (*S3Service, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return &S3Service{
		client:  s3.NewFromConfig(*cfg),
		bucket:  params.Bucket,
		prefix:  params.KeyPrefix,
		logger:  logger,
		uploads: make(map[string]*multipartState),
	}, nil
}

// UploadChunk uploads one chunk as an S3 part, or as a whole object when the
// file fits in a single chunk.
func (s *S3Service) UploadChunk(ctx context.Context, req transfer.ChunkRequest) error {
	if req.TotalChunks == 1 {
		return s.putSingleObject(ctx, req)
	}

	state, err := s.ensureMultipart(ctx, req)
	if err != nil {
		return err
	}

	// Parts must be replayable for signing, so buffer the chunk.
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("read chunk body: %w", err)
	}

	partNumber := int32(req.Index + 1)
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(state.key),
		UploadId:      aws.String(state.multipartID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", partNumber, err)
	}

	s.mu.Lock()
	state.etags[partNumber] = aws.ToString(out.ETag)
	s.mu.Unlock()
	return nil
}

// Merge completes the multipart upload and returns the object location.
func (s *S3Service) Merge(ctx context.Context, req transfer.MergeRequest) (transfer.MergeResult, error) {
	key := s.objectKey(req.UploadID, req.FileName)

	// A single-chunk file was stored with one PutObject; there is nothing
	// to assemble.
	if req.TotalChunks == 1 {
		s.forget(req.UploadID)
		return transfer.MergeResult{Path: s.objectURL(key)}, nil
	}

	s.mu.Lock()
	state := s.uploads[req.UploadID]
	s.mu.Unlock()

	if state == nil {
		// The parts were uploaded by an earlier process; adopt its
		// multipart upload.
		recovered, err := s.recoverMultipart(ctx, key)
		if err != nil {
			return transfer.MergeResult{}, err
		}
		if recovered == nil {
			return transfer.MergeResult{}, fmt.Errorf("no multipart upload in progress for %s", key)
		}
		state = recovered
	}

	s.mu.Lock()
	parts := make([]types.CompletedPart, 0, len(state.etags))
	for partNumber, etag := range state.etags {
		parts = append(parts, types.CompletedPart{
			PartNumber: aws.Int32(partNumber),
			ETag:       aws.String(etag),
		})
	}
	s.mu.Unlock()

	if len(parts) != req.TotalChunks {
		return transfer.MergeResult{}, fmt.Errorf("expected %d parts, have %d", req.TotalChunks, len(parts))
	}
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	err := retry.Times(numS3ControlRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(state.key),
			UploadId: aws.String(state.multipartID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: parts,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return err, true
			}
			return fmt.Errorf("complete multipart upload: %w", err), false
		}
		return nil, true
	})
	if err != nil {
		return transfer.MergeResult{}, err
	}

	s.forget(req.UploadID)
	return transfer.MergeResult{Path: s.objectURL(state.key)}, nil
}

// Abort cancels the multipart upload so S3 discards the stored parts.
// Aborting an upload S3 no longer knows about is not an error.
func (s *S3Service) Abort(ctx context.Context, uploadID string) error {
	s.mu.Lock()
	state := s.uploads[uploadID]
	s.mu.Unlock()

	if state != nil && state.single {
		s.forget(uploadID)
		return nil
	}

	var key, multipartID string
	if state != nil {
		key, multipartID = state.key, state.multipartID
	} else {
		// The multipart upload may have been started by an earlier process.
		// Session keys are namespaced by upload id, so a prefix scan finds it.
		found, err := s.findMultipartByPrefix(ctx, path.Join(s.prefix, uploadID)+"/")
		if err != nil {
			return err
		}
		if found == nil {
			return nil
		}
		key, multipartID = found.key, found.multipartID
	}

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(multipartID),
	})
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) && apiError.ErrorCode() == "NoSuchUpload" {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("abort multipart upload: %w", err)
	}

	s.forget(uploadID)
	return nil
}

func (s *S3Service) putSingleObject(ctx context.Context, req transfer.ChunkRequest) error {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("read chunk body: %w", err)
	}

	key := s.objectKey(req.UploadID, req.FileName)
	uploader := manager.NewUploader(s.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(req.FileType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}

	s.mu.Lock()
	s.uploads[req.UploadID] = &multipartState{key: key, single: true}
	s.mu.Unlock()
	return nil
}

// ensureMultipart returns the multipart state for the request's session,
// adopting an in-progress multipart upload left by an earlier process, or
// creating a new one.
func (s *S3Service) ensureMultipart(ctx context.Context, req transfer.ChunkRequest) (*multipartState, error) {
	s.mu.Lock()
	if state, ok := s.uploads[req.UploadID]; ok {
		s.mu.Unlock()
		return state, nil
	}
	s.mu.Unlock()

	key := s.objectKey(req.UploadID, req.FileName)
	state, err := s.recoverMultipart(ctx, key)
	if err != nil {
		return nil, err
	}
	if state == nil {
		multipartID, err := s.createMultipart(ctx, key, req.FileType)
		if err != nil {
			return nil, err
		}
		state = &multipartState{
			key:         key,
			multipartID: multipartID,
			etags:       make(map[int32]string),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another chunk goroutine may have won the race.
	if existing, ok := s.uploads[req.UploadID]; ok {
		return existing, nil
	}
	s.uploads[req.UploadID] = state
	return state, nil
}

func (s *S3Service) createMultipart(ctx context.Context, key, contentType string) (string, error) {
	var multipartID string
	err := retry.Times(numS3ControlRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			if ctx.Err() != nil {
				return err, true
			}
			return fmt.Errorf("create multipart upload: %w", err), false
		}
		multipartID = aws.ToString(out.UploadId)
		return nil, true
	})
	if err != nil {
		return "", err
	}

	s.logger.Debugf("Started multipart upload %s for %s", multipartID, key)
	return multipartID, nil
}

// recoverMultipart looks for an in-progress multipart upload on the given key
// and rebuilds its part bookkeeping from ListParts. It returns nil when S3
// holds no upload for the key.
func (s *S3Service) recoverMultipart(ctx context.Context, key string) (*multipartState, error) {
	found, err := s.findMultipartByPrefix(ctx, key)
	if err != nil {
		return nil, err
	}
	if found == nil || found.key != key {
		return nil, nil
	}

	etags, err := s.listParts(ctx, key, found.multipartID)
	if err != nil {
		return nil, err
	}
	found.etags = etags

	s.logger.Debugf("Adopted multipart upload %s for %s with %d uploaded parts",
		found.multipartID, key, len(etags))
	return found, nil
}

func (s *S3Service) findMultipartByPrefix(ctx context.Context, prefix string) (*multipartState, error) {
	out, err := s.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list multipart uploads: %w", err)
	}
	if len(out.Uploads) == 0 {
		return nil, nil
	}
	upload := out.Uploads[0]
	return &multipartState{
		key:         aws.ToString(upload.Key),
		multipartID: aws.ToString(upload.UploadId),
	}, nil
}

func (s *S3Service) listParts(ctx context.Context, key, multipartID string) (map[int32]string, error) {
	etags := make(map[int32]string)
	var marker *string
	for {
		out, err := s.client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(s.bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(multipartID),
			PartNumberMarker: marker,
		})
		if err != nil {
			return nil, fmt.Errorf("list uploaded parts: %w", err)
		}
		for _, part := range out.Parts {
			etags[aws.ToInt32(part.PartNumber)] = aws.ToString(part.ETag)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		marker = out.NextPartNumberMarker
	}
	return etags, nil
}

func (s *S3Service) forget(uploadID string) {
	s.mu.Lock()
	delete(s.uploads, uploadID)
	s.mu.Unlock()
}

func (s *S3Service) objectKey(uploadID, fileName string) string {
	return path.Join(s.prefix, uploadID, fileName)
}

func (s *S3Service) objectURL(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("using static aws credentials")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
