// Package localfs is the default blobstore.Backend: a directory of
// finalized blobs plus a directory of per-session chunk staging files, both
// written with write-to-temp-then-rename.
package localfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/marmos91/juicebox/pkg/blobstore"
)

// Config configures the local filesystem backend.
type Config struct {
	// UploadDir holds finalized blobs, one file per storage name.
	UploadDir string
	// ChunkDir holds one subdirectory per active session.
	ChunkDir string
	DirMode  os.FileMode
	FileMode os.FileMode
}

// Store implements blobstore.Backend over the local filesystem.
type Store struct {
	uploadDir string
	fileMode  os.FileMode

	*ChunkStager
}

var _ blobstore.Backend = (*Store)(nil)

// New creates the upload and chunk staging directories if needed.
func New(cfg Config) (*Store, error) {
	if cfg.UploadDir == "" || cfg.ChunkDir == "" {
		return nil, fmt.Errorf("localfs: UploadDir and ChunkDir are required")
	}
	dirMode := cfg.DirMode
	if dirMode == 0 {
		dirMode = 0o700
	}
	fileMode := cfg.FileMode
	if fileMode == 0 {
		fileMode = 0o600
	}
	if err := os.MkdirAll(cfg.UploadDir, dirMode); err != nil {
		return nil, fmt.Errorf("localfs: create upload dir: %w", err)
	}
	stager, err := NewChunkStager(cfg.ChunkDir, dirMode, fileMode)
	if err != nil {
		return nil, err
	}
	return &Store{uploadDir: cfg.UploadDir, fileMode: fileMode, ChunkStager: stager}, nil
}

func (s *Store) blobPath(storageName string) string {
	return filepath.Join(s.uploadDir, filepath.Base(storageName))
}

func chunkName(index int) string {
	return fmt.Sprintf("%06d.chunk", index)
}

func writeTempThenRename(final string, mode os.FileMode, r io.Reader) (int64, error) {
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

// WriteBlob writes r to storageName in one call.
func (s *Store) WriteBlob(_ context.Context, storageName string, r io.Reader) (int64, error) {
	n, err := writeTempThenRename(s.blobPath(storageName), s.fileMode, r)
	if err != nil {
		return 0, fmt.Errorf("localfs: write blob %s: %w", storageName, err)
	}
	return n, nil
}

// fileBlobWriter streams a blob into a temp file; Commit renames it into
// place, Abort removes the temp file.
type fileBlobWriter struct {
	f     *os.File
	tmp   string
	final string
}

func (w *fileBlobWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *fileBlobWriter) Commit(context.Context) error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(w.tmp)
		return fmt.Errorf("localfs: sync blob: %w", err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("localfs: close blob: %w", err)
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("localfs: rename blob into place: %w", err)
	}
	return nil
}

func (w *fileBlobWriter) Abort(context.Context) error {
	w.f.Close()
	if err := os.Remove(w.tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("localfs: abort blob: %w", err)
	}
	return nil
}

// CreateBlobWriter opens a temp file for streaming assembly.
func (s *Store) CreateBlobWriter(_ context.Context, storageName string) (blobstore.BlobWriter, error) {
	final := s.blobPath(storageName)
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.fileMode)
	if err != nil {
		return nil, fmt.Errorf("localfs: create blob writer for %s: %w", storageName, err)
	}
	return &fileBlobWriter{f: f, tmp: tmp, final: final}, nil
}

// OpenBlob opens a finalized blob for reading.
func (s *Store) OpenBlob(_ context.Context, storageName string) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(storageName))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// StatBlob returns the byte size of a finalized blob.
func (s *Store) StatBlob(_ context.Context, storageName string) (int64, error) {
	info, err := os.Stat(s.blobPath(storageName))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// DeleteBlob removes a finalized blob. Absence is not an error.
func (s *Store) DeleteBlob(_ context.Context, storageName string) error {
	if err := os.Remove(s.blobPath(storageName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("localfs: delete blob %s: %w", storageName, err)
	}
	return nil
}

// ListBlobs returns every finalized storage name.
func (s *Store) ListBlobs(_ context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.uploadDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.uploadDir, path)
		if err != nil {
			return err
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("localfs: list blobs: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
