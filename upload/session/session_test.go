package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	sess, err := New("voice-memo.mp3", 12*1024*1024, "audio/mpeg", DefaultChunkSize, DefaultTTL)
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "voice-memo.mp3", sess.FileName)
	assert.Equal(t, int64(12*1024*1024), sess.FileSize)
	assert.Equal(t, "audio/mpeg", sess.FileType)
	assert.Equal(t, 3, sess.TotalChunks)
	assert.Equal(t, StatusPreparing, sess.Status)
	assert.Empty(t, sess.Uploaded)
	assert.Equal(t, sess.StartTime.Add(DefaultTTL), sess.ExpiresAt)
}

func TestNew_UniqueIDs(t *testing.T) {
	a, err := New("a.mp3", 1024, "audio/mpeg", 1024, 0)
	require.NoError(t, err)
	b, err := New("a.mp3", 1024, "audio/mpeg", 1024, 0)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		fileName  string
		fileSize  int64
		chunkSize int64
	}{
		{name: "empty name", fileName: "", fileSize: 1024, chunkSize: 1024},
		{name: "zero size", fileName: "a.mp3", fileSize: 0, chunkSize: 1024},
		{name: "negative size", fileName: "a.mp3", fileSize: -1, chunkSize: 1024},
		{name: "zero chunk size", fileName: "a.mp3", fileSize: 1024, chunkSize: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.fileName, tt.fileSize, "audio/mpeg", tt.chunkSize, 0)
			assert.Error(t, err)
		})
	}
}

func TestSession_MarkUploaded(t *testing.T) {
	sess, err := New("a.bin", 4096, "application/octet-stream", 1024, 0)
	require.NoError(t, err)

	assert.False(t, sess.IsUploaded(0))
	assert.False(t, sess.Complete())

	sess.MarkUploaded(0)
	sess.MarkUploaded(2)
	sess.MarkUploaded(2)

	assert.True(t, sess.IsUploaded(0))
	assert.False(t, sess.IsUploaded(1))
	assert.Equal(t, 2, sess.UploadedCount())
	assert.Equal(t, []int{0, 2}, sess.UploadedIndices())
	assert.False(t, sess.Complete())

	sess.MarkUploaded(1)
	sess.MarkUploaded(3)
	assert.True(t, sess.Complete())
}

func TestSession_UploadedBytes_CappedAtFileSize(t *testing.T) {
	sess, err := New("a.bin", 2500, "application/octet-stream", 1024, 0)
	require.NoError(t, err)

	sess.MarkUploaded(0)
	sess.MarkUploaded(1)
	assert.Equal(t, int64(2048), sess.UploadedBytes())

	// The final chunk is short; the estimate must not exceed the file size.
	sess.MarkUploaded(2)
	assert.Equal(t, int64(2500), sess.UploadedBytes())
}

func TestSession_Matches(t *testing.T) {
	sess, err := New("a.mp3", 1024, "audio/mpeg", 1024, 0)
	require.NoError(t, err)

	assert.True(t, sess.Matches("a.mp3", 1024, "audio/mpeg"))
	assert.False(t, sess.Matches("b.mp3", 1024, "audio/mpeg"))
	assert.False(t, sess.Matches("a.mp3", 2048, "audio/mpeg"))
	assert.False(t, sess.Matches("a.mp3", 1024, "audio/wav"))
}

func TestSession_Expired(t *testing.T) {
	sess, err := New("a.mp3", 1024, "audio/mpeg", 1024, time.Hour)
	require.NoError(t, err)

	assert.False(t, sess.Expired(sess.StartTime))
	assert.False(t, sess.Expired(sess.ExpiresAt.Add(-time.Second)))
	assert.True(t, sess.Expired(sess.ExpiresAt))
	assert.True(t, sess.Expired(sess.ExpiresAt.Add(time.Hour)))
}

func TestSession_Clone(t *testing.T) {
	sess, err := New("a.bin", 4096, "application/octet-stream", 1024, 0)
	require.NoError(t, err)
	sess.Extra = map[string]string{"mode": "meeting"}
	sess.MarkUploaded(0)

	clone := sess.Clone()
	clone.MarkUploaded(1)
	clone.Extra["mode"] = "memo"

	assert.Equal(t, 1, sess.UploadedCount())
	assert.Equal(t, 2, clone.UploadedCount())
	assert.Equal(t, "meeting", sess.Extra["mode"])
}
