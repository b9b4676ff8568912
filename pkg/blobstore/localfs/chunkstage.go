package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChunkStager manages per-session chunk staging directories on the local
// filesystem. It is shared by Store (the all-local backend) and by the s3
// backend, which stages chunks locally even though finalized blobs land in
// a bucket (S3 multipart upload is not worth modeling for chunk sizes this
// small).
type ChunkStager struct {
	ChunkDir string
	DirMode  os.FileMode
	FileMode os.FileMode
}

// NewChunkStager creates chunkDir if needed and returns a ready ChunkStager.
func NewChunkStager(chunkDir string, dirMode, fileMode os.FileMode) (*ChunkStager, error) {
	if chunkDir == "" {
		return nil, fmt.Errorf("localfs: ChunkDir is required")
	}
	if dirMode == 0 {
		dirMode = 0o700
	}
	if fileMode == 0 {
		fileMode = 0o600
	}
	if err := os.MkdirAll(chunkDir, dirMode); err != nil {
		return nil, fmt.Errorf("localfs: create chunk dir: %w", err)
	}
	return &ChunkStager{ChunkDir: chunkDir, DirMode: dirMode, FileMode: fileMode}, nil
}

func (c *ChunkStager) sessionDir(sessionID string) string {
	return filepath.Join(c.ChunkDir, filepath.Base(sessionID))
}

func (c *ChunkStager) chunkPath(sessionID string, index int) string {
	return filepath.Join(c.sessionDir(sessionID), chunkName(index))
}

// WriteChunk writes one staged chunk for sessionID at index.
func (c *ChunkStager) WriteChunk(_ context.Context, sessionID string, index int, r io.Reader) (int64, error) {
	dir := c.sessionDir(sessionID)
	if err := os.MkdirAll(dir, c.DirMode); err != nil {
		return 0, fmt.Errorf("localfs: create session dir %s: %w", sessionID, err)
	}
	n, err := writeTempThenRename(c.chunkPath(sessionID, index), c.FileMode, r)
	if err != nil {
		return 0, fmt.Errorf("localfs: write chunk %s/%d: %w", sessionID, index, err)
	}
	return n, nil
}

// OpenChunk opens a previously staged chunk for reading.
func (c *ChunkStager) OpenChunk(_ context.Context, sessionID string, index int) (io.ReadCloser, error) {
	f, err := os.Open(c.chunkPath(sessionID, index))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteSessionDir removes a session's entire staging directory. Absence is
// not an error.
func (c *ChunkStager) DeleteSessionDir(_ context.Context, sessionID string) error {
	if err := os.RemoveAll(c.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("localfs: delete session dir %s: %w", sessionID, err)
	}
	return nil
}
