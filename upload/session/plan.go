package session

// TotalChunks returns ceil(fileSize / chunkSize). The result is at least 1
// for any positive file size.
func TotalChunks(fileSize, chunkSize int64) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// ChunkRange returns the half-open byte range [start, end) of the chunk at
// the given index. The final chunk may be shorter than chunkSize.
func ChunkRange(index int, fileSize, chunkSize int64) (start, end int64) {
	start = int64(index) * chunkSize
	end = start + chunkSize
	if end > fileSize {
		end = fileSize
	}
	return start, end
}

// ChunkLength returns the byte length of the chunk at the given index.
func ChunkLength(index int, fileSize, chunkSize int64) int64 {
	start, end := ChunkRange(index, fileSize, chunkSize)
	if end < start {
		return 0
	}
	return end - start
}
