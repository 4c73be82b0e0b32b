package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	sess, err := New("a.bin", 4096, "application/octet-stream", 1024, 0)
	require.NoError(t, err)
	sess.Status = StatusUploading
	sess.MarkUploaded(0)

	now := sess.StartTime.Add(2 * time.Second)
	p := Snapshot(sess, now, nil)

	assert.Equal(t, sess.ID, p.UploadID)
	assert.Equal(t, int64(1024), p.UploadedBytes)
	assert.Equal(t, 1, p.UploadedChunks)
	assert.Equal(t, 4, p.TotalChunks)
	assert.Equal(t, 25, p.Percentage)
	assert.InDelta(t, 512.0, p.Speed, 0.001)
	// 3072 bytes left at 512 B/s.
	assert.Equal(t, 6*time.Second, p.Remaining)
	assert.Equal(t, StatusUploading, p.Status)
	assert.NoError(t, p.Err)
}

func TestSnapshot_PercentageRounding(t *testing.T) {
	sess, err := New("a.bin", 3000, "application/octet-stream", 1024, 0)
	require.NoError(t, err)
	sess.MarkUploaded(0)

	p := Snapshot(sess, sess.StartTime.Add(time.Second), nil)
	// 1024/3000 = 34.13%, rounds to 34.
	assert.Equal(t, 34, p.Percentage)
}

func TestSnapshot_NoElapsedTime(t *testing.T) {
	sess, err := New("a.bin", 1024, "application/octet-stream", 1024, 0)
	require.NoError(t, err)
	sess.MarkUploaded(0)

	p := Snapshot(sess, sess.StartTime, nil)
	assert.Zero(t, p.Speed)
	assert.Zero(t, p.Remaining)
}

func TestSnapshot_CarriesError(t *testing.T) {
	sess, err := New("a.bin", 1024, "application/octet-stream", 1024, 0)
	require.NoError(t, err)
	sess.Status = StatusError

	failure := errors.New("network unreachable")
	p := Snapshot(sess, sess.StartTime.Add(time.Second), failure)
	assert.Equal(t, StatusError, p.Status)
	assert.Equal(t, failure, p.Err)
}

func TestSnapshot_Complete(t *testing.T) {
	sess, err := New("a.bin", 2048, "application/octet-stream", 1024, 0)
	require.NoError(t, err)
	sess.MarkUploaded(0)
	sess.MarkUploaded(1)
	sess.Status = StatusCompleted

	p := Snapshot(sess, sess.StartTime.Add(time.Second), nil)
	assert.Equal(t, 100, p.Percentage)
	assert.Equal(t, int64(2048), p.UploadedBytes)
	assert.Zero(t, p.Remaining)
}
