package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		name      string
		fileSize  int64
		chunkSize int64
		want      int
	}{
		{name: "exact multiple", fileSize: 10 * 1024 * 1024, chunkSize: 5 * 1024 * 1024, want: 2},
		{name: "remainder adds a chunk", fileSize: 10*1024*1024 + 1, chunkSize: 5 * 1024 * 1024, want: 3},
		{name: "file smaller than chunk", fileSize: 500, chunkSize: 1024, want: 1},
		{name: "single byte", fileSize: 1, chunkSize: 5 * 1024 * 1024, want: 1},
		{name: "three exact chunks", fileSize: 3 * 1024, chunkSize: 1024, want: 3},
		{name: "zero size", fileSize: 0, chunkSize: 1024, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TotalChunks(tt.fileSize, tt.chunkSize))
		})
	}
}

func TestChunkRange(t *testing.T) {
	tests := []struct {
		name      string
		index     int
		fileSize  int64
		chunkSize int64
		wantStart int64
		wantEnd   int64
	}{
		{name: "first chunk", index: 0, fileSize: 2500, chunkSize: 1024, wantStart: 0, wantEnd: 1024},
		{name: "middle chunk", index: 1, fileSize: 2500, chunkSize: 1024, wantStart: 1024, wantEnd: 2048},
		{name: "short final chunk", index: 2, fileSize: 2500, chunkSize: 1024, wantStart: 2048, wantEnd: 2500},
		{name: "exact final chunk", index: 2, fileSize: 3072, chunkSize: 1024, wantStart: 2048, wantEnd: 3072},
		{name: "single short chunk", index: 0, fileSize: 500, chunkSize: 1024, wantStart: 0, wantEnd: 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := ChunkRange(tt.index, tt.fileSize, tt.chunkSize)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestChunkRanges_CoverFileExactly(t *testing.T) {
	const fileSize = int64(10*1024*1024 + 137)
	const chunkSize = int64(1024 * 1024)

	total := TotalChunks(fileSize, chunkSize)

	var covered int64
	for i := 0; i < total; i++ {
		start, end := ChunkRange(i, fileSize, chunkSize)
		assert.Equal(t, covered, start, "chunk %d must start where the previous ended", i)
		assert.Greater(t, end, start)
		covered = end
	}
	assert.Equal(t, fileSize, covered)
}

func TestChunkLength(t *testing.T) {
	assert.Equal(t, int64(1024), ChunkLength(0, 2500, 1024))
	assert.Equal(t, int64(452), ChunkLength(2, 2500, 1024))
	assert.Equal(t, int64(0), ChunkLength(5, 2500, 1024))
}
