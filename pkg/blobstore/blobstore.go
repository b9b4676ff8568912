// Package blobstore stores finalized blobs and per-session chunk staging
// files. Two backends satisfy Backend: localfs (default) and s3.
package blobstore

import (
	"context"
	"io"
	"regexp"
	"strings"
)

// BlobWriter streams a blob into a temporary location; Commit atomically
// publishes it under its final storage name, Abort discards it. Exactly one
// of Commit/Abort must be called.
type BlobWriter interface {
	io.Writer
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Backend stores finalized blobs under upload_dir and per-session chunk
// staging files under chunk_dir/{session}/.
type Backend interface {
	// WriteBlob writes r to storageName using write-to-temp-then-rename, in
	// one call. Used by the single-shot pipeline, which already holds the
	// full blob in memory or a temp reader.
	WriteBlob(ctx context.Context, storageName string, r io.Reader) (written int64, err error)
	// CreateBlobWriter returns a BlobWriter for streaming, multi-write
	// assembly (chunk commit), so the caller can update a running digest
	// between writes.
	CreateBlobWriter(ctx context.Context, storageName string) (BlobWriter, error)
	// OpenBlob opens a finalized blob for reading.
	OpenBlob(ctx context.Context, storageName string) (io.ReadCloser, error)
	// StatBlob returns the byte size of a finalized blob.
	StatBlob(ctx context.Context, storageName string) (size int64, err error)
	// DeleteBlob removes a finalized blob. Absence is not an error.
	DeleteBlob(ctx context.Context, storageName string) error
	// ListBlobs returns the storage names of every finalized blob, for the
	// GC orphan-reap pass.
	ListBlobs(ctx context.Context) ([]string, error)

	// WriteChunk writes one staged chunk for sessionID at index, using
	// write-to-temp-then-rename.
	WriteChunk(ctx context.Context, sessionID string, index int, r io.Reader) (written int64, err error)
	// OpenChunk opens a previously staged chunk for reading during commit.
	OpenChunk(ctx context.Context, sessionID string, index int) (io.ReadCloser, error)
	// DeleteSessionDir removes a session's entire staging directory.
	// Absence is not an error.
	DeleteSessionDir(ctx context.Context, sessionID string) error
}

// controlCharsOrSeparators matches path separators, null bytes, and other
// control characters that must never survive into a filename component.
var controlCharsOrSeparators = regexp.MustCompile(`[/\\\x00-\x1f]`)

// safeExtension matches an alphanumeric extension of at most 12 characters,
// the only kind spec.md permits preserving in a storage name.
var safeExtension = regexp.MustCompile(`^[A-Za-z0-9]{1,12}$`)

// Sanitize strips path separators and control characters from a
// client-supplied filename, collapsing the result to a safe subset
// (authoritative source: the Rust original's filename sanitization in
// util.rs, since spec.md leaves the exact algorithm unspecified).
func Sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = controlCharsOrSeparators.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	if name == "" {
		return "file"
	}
	// Bound length defensively; nothing in the spec requires this, but an
	// attacker-controlled filename should not be able to produce an
	// arbitrarily long path component.
	const maxLen = 200
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}

// SafeExtension returns ext (without the leading dot) if it is alphanumeric
// and at most 12 characters, the only case spec.md permits preserving in a
// storage name; otherwise it returns "".
func SafeExtension(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if safeExtension.MatchString(ext) {
		return ext
	}
	return ""
}
