// Package fsstore is the default kv.Store backend: one directory per
// namespace under a base directory, one file per field, written with
// write-to-temp-then-rename so a killed process never leaves a corrupt
// field visible under its final name.
package fsstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/juicebox/pkg/kv"
)

// Config configures the filesystem-backed store.
type Config struct {
	// BasePath is the root directory; one subdirectory is created per
	// namespace the first time it is used.
	BasePath string
	// DirMode defaults to 0700 if zero.
	DirMode os.FileMode
	// FileMode defaults to 0600 if zero.
	FileMode os.FileMode
}

// Store implements kv.Store over the local filesystem.
type Store struct {
	basePath string
	dirMode  os.FileMode
	fileMode os.FileMode

	// mu serializes writes per namespace so concurrent persists never
	// race on the same directory (spec §5 "Persistence locks").
	mu sync.Map // namespace(string) -> *sync.Mutex
}

var _ kv.Store = (*Store)(nil)

// New creates a filesystem-backed store rooted at cfg.BasePath.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("fsstore: BasePath is required")
	}
	dirMode := cfg.DirMode
	if dirMode == 0 {
		dirMode = 0o700
	}
	fileMode := cfg.FileMode
	if fileMode == 0 {
		fileMode = 0o600
	}
	if err := os.MkdirAll(cfg.BasePath, dirMode); err != nil {
		return nil, fmt.Errorf("fsstore: create base dir: %w", err)
	}
	return &Store{basePath: cfg.BasePath, dirMode: dirMode, fileMode: fileMode}, nil
}

func (s *Store) lockFor(ns string) *sync.Mutex {
	v, _ := s.mu.LoadOrStore(ns, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) nsDir(ns string) string {
	return filepath.Join(s.basePath, filepath.Base(ns))
}

func (s *Store) fieldPath(ns, field string) string {
	return filepath.Join(s.nsDir(ns), filepath.Base(field)+".json")
}

// LoadHash returns every field currently stored under ns.
func (s *Store) LoadHash(_ context.Context, ns string) ([]kv.Entry, error) {
	dir := s.nsDir(ns)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsstore: read namespace %s: %w", ns, err)
	}

	out := make([]kv.Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		field := e.Name()[:len(e.Name())-len(".json")]
		payload, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("fsstore: read field %s/%s: %w", ns, field, err)
		}
		out = append(out, kv.Entry{Field: field, Payload: payload})
	}
	return out, nil
}

// PutField writes one field, replacing any existing value.
func (s *Store) PutField(_ context.Context, ns, field string, payload []byte) error {
	lock := s.lockFor(ns)
	lock.Lock()
	defer lock.Unlock()

	dir := s.nsDir(ns)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return fmt.Errorf("fsstore: create namespace dir %s: %w", ns, err)
	}

	final := s.fieldPath(ns, field)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, s.fileMode)
	if err != nil {
		return fmt.Errorf("fsstore: create temp file for %s/%s: %w", ns, field, err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsstore: write %s/%s: %w", ns, field, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsstore: sync %s/%s: %w", ns, field, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fsstore: close %s/%s: %w", ns, field, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fsstore: rename %s/%s: %w", ns, field, err)
	}
	return nil
}

// DeleteField removes one field. Absence is not an error.
func (s *Store) DeleteField(_ context.Context, ns, field string) error {
	lock := s.lockFor(ns)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.fieldPath(ns, field)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsstore: delete %s/%s: %w", ns, field, err)
	}
	return nil
}

// ReplaceHash replaces the entire contents of ns: every existing field is
// removed, then every entry is written one field at a time. The
// replacement is not atomic; a failure part-way leaves only the entries
// written so far.
func (s *Store) ReplaceHash(ctx context.Context, ns string, entries []kv.Entry) error {
	lock := s.lockFor(ns)
	lock.Lock()
	dir := s.nsDir(ns)
	existing, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		lock.Unlock()
		return fmt.Errorf("fsstore: read namespace %s: %w", ns, err)
	}
	for _, e := range existing {
		if !e.IsDir() {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	lock.Unlock()

	for _, e := range entries {
		if err := s.PutField(ctx, ns, e.Field, e.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for the filesystem backend.
func (s *Store) Close() error { return nil }
