// Package singleupload implements the single-shot multipart upload
// pipeline: denylist and content-sniff rejection, hashing, dedup, write,
// and catalog commit (spec §4.H).
package singleupload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/juicebox/internal/logger"
	"github.com/marmos91/juicebox/pkg/admission"
	"github.com/marmos91/juicebox/pkg/blobstore"
	"github.com/marmos91/juicebox/pkg/catalog"
	"github.com/marmos91/juicebox/pkg/juicebox/errs"
	"github.com/marmos91/juicebox/pkg/kv"
	"github.com/marmos91/juicebox/pkg/quota"
	"github.com/marmos91/juicebox/pkg/ttlcode"
)

// ForbiddenExtensions is the fixed denylist of executables and scripts
// (spec §6), grounded on the original's util.rs list verbatim. Operators
// wanting a different set can construct a Pipeline with a different value.
var ForbiddenExtensions = map[string]bool{
	"exe": true, "dll": true, "bat": true, "cmd": true, "com": true,
	"scr": true, "cpl": true, "msi": true, "msp": true, "jar": true,
	"ps1": true, "psm1": true, "vbs": true, "js": true, "jse": true,
	"wsf": true, "wsh": true, "reg": true, "sh": true, "php": true,
	"pl": true, "py": true, "rb": true, "gadget": true, "hta": true,
	"mht": true, "mhtml": true,
}

// IsForbiddenExtension reports whether name's extension is denylisted.
func IsForbiddenExtension(name string, denylist map[string]bool) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return false
	}
	return denylist[ext]
}

// sniffForbiddenExtension classifies the leading bytes of a part and
// reports the denylisted extension it matches, if any. net/http's sniffer
// table (RFC 7-ish WHATWG matching) recognizes application/zip, which jar
// archives also match; a jar is distinguished from an ordinary zip by the
// presence of a manifest entry. The binary and script signatures Go's
// sniffer does not classify at all (MZ executables, OLE compound files,
// shebang scripts, PHP open tags) are matched directly, the same gap the
// original's signature-based sniffer had to fill on its own.
func sniffForbiddenExtension(data []byte) (string, bool) {
	switch ct := http.DetectContentType(data); {
	case ct == "application/zip" && bytes.Contains(data, []byte("META-INF/MANIFEST.MF")):
		return "jar", true
	case len(data) >= 2 && data[0] == 'M' && data[1] == 'Z':
		return "exe", true
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}):
		return "msi", true
	case bytes.HasPrefix(bytes.TrimLeft(data, "\xef\xbb\xbf"), []byte("#!")) && bytes.Contains(firstLine(data), []byte("sh")):
		return "sh", true
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("<?php")):
		return "php", true
	default:
		return "", false
	}
}

func firstLine(data []byte) []byte {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return data[:i]
	}
	return data
}

// FilePart is one already-decoded multipart file field. Multipart parsing
// itself is the HTTP layer's job (spec §1's "out of scope" list); this
// package starts from the decoded parts.
type FilePart struct {
	OriginalName string
	Data         []byte
}

// Result mirrors the HTTP response shape spec §6 defines for /upload.
type Result struct {
	Files        []string
	Truncated    bool
	Remaining    int
	LimitReached bool
}

// DuplicateError reports a dedup hit, matching pkg/chunkupload's variant so
// both pipelines' callers can use one response encoder.
type DuplicateError struct {
	*errs.Error
	StorageName string
	Meta        catalog.FileMeta
}

func duplicateError(name string, meta catalog.FileMeta) *DuplicateError {
	return &DuplicateError{
		Error:       errs.New("duplicate", "content already uploaded"),
		StorageName: name,
		Meta:        meta,
	}
}

// ExpirySweeper triggers the lazy expiration pass spec §4.H step 4 calls
// for before processing an upload. Defined locally, mirroring pkg/quota's
// narrow-interface pattern, so this package does not import pkg/gc.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context)
}

// Config carries the tunables a Pipeline needs beyond its collaborators.
type Config struct {
	MaxFileBytes        int64
	ForbiddenExtensions map[string]bool
}

// Pipeline implements the single-shot upload pipeline.
type Pipeline struct {
	cfg     Config
	catalog *catalog.Catalog
	store   kv.Store
	blobs   blobstore.Backend
	quota   *quota.Accountant
	sem     *admission.Semaphore
	sweeper ExpirySweeper
}

// New returns a Pipeline. sweeper may be nil if no lazy expiration pass is
// wired in yet.
func New(cfg Config, cat *catalog.Catalog, store kv.Store, blobs blobstore.Backend, acct *quota.Accountant, sem *admission.Semaphore, sweeper ExpirySweeper) *Pipeline {
	if cfg.ForbiddenExtensions == nil {
		cfg.ForbiddenExtensions = ForbiddenExtensions
	}
	return &Pipeline{cfg: cfg, catalog: cat, store: store, blobs: blobs, quota: acct, sem: sem, sweeper: sweeper}
}

// Upload runs the full pipeline over parts for ownerHash (spec §4.H).
func (p *Pipeline) Upload(ctx context.Context, ownerHash string, parts []FilePart, ttlCode string) (Result, error) {
	if !p.sem.TryAcquire() {
		return Result{}, errs.New("busy", "server is busy, try again later")
	}
	defer p.sem.Release()

	kept := make([]FilePart, 0, len(parts))
	for _, part := range parts {
		if len(part.Data) > 0 {
			kept = append(kept, part)
		}
	}
	if len(kept) == 0 {
		return Result{}, errs.New("no_files", "no files were uploaded")
	}

	// Step 3: denylist and content-sniff check. A single bad part aborts
	// the entire request (spec §9's kept redesign direction: keep
	// abort-all unless fixtures say otherwise).
	for _, part := range kept {
		if part.OriginalName != "" && IsForbiddenExtension(part.OriginalName, p.cfg.ForbiddenExtensions) {
			logger.Warn("singleupload: rejected forbidden extension", logger.OriginalName(part.OriginalName))
			return Result{}, errs.New("bad_filetype", "file type not allowed (forbidden extension)")
		}
		if ext, ok := sniffForbiddenExtension(sniffWindow(part.Data)); ok && p.cfg.ForbiddenExtensions[ext] {
			logger.Warn("singleupload: rejected forbidden content", logger.OriginalName(part.OriginalName), logger.Extension(ext))
			return Result{}, errs.New("bad_filetype", "file type not allowed (forbidden content)")
		}
	}

	if p.sweeper != nil {
		p.sweeper.SweepExpired(ctx)
	}

	now := time.Now().Unix()
	slotsRemaining := p.quota.RemainingFileSlots(ownerHash, now)
	if slotsRemaining == 0 {
		return Result{}, errs.New("file_limit", "active file limit reached")
	}

	_, expires := ttlcode.Expires(ttlCode, now)

	var saved []string
	limitReached := false

	for _, part := range kept {
		if slotsRemaining == 0 {
			limitReached = true
			break
		}
		if int64(len(part.Data)) > p.cfg.MaxFileBytes {
			logger.Warn("singleupload: skipped oversized part", logger.OriginalName(part.OriginalName), logger.FileSize(int64(len(part.Data))))
			continue
		}
		if !p.quota.FitsGlobalQuota(now, int64(len(part.Data))) {
			logger.Warn("singleupload: skipped part over global quota", logger.OriginalName(part.OriginalName), logger.FileSize(int64(len(part.Data))))
			continue
		}

		sum := sha256.Sum256(part.Data)
		hash := hex.EncodeToString(sum[:])
		if name, meta, ok := p.catalog.FindByHash(hash); ok {
			return Result{}, duplicateError(name, meta)
		}

		storageName := buildStorageName(part.OriginalName)
		if IsForbiddenExtension(storageName, p.cfg.ForbiddenExtensions) {
			logger.Warn("singleupload: skipped forbidden extension post-sanitize", logger.StorageName(storageName))
			continue
		}

		if _, err := p.blobs.WriteBlob(ctx, storageName, bytes.NewReader(part.Data)); err != nil {
			logger.Error("singleupload: failed to write blob", logger.StorageName(storageName), logger.Err(err))
			continue
		}

		meta := catalog.FileMeta{
			OwnerHash: ownerHash,
			Expires:   expires,
			Original:  blobstore.Sanitize(part.OriginalName),
			Created:   now,
			Hash:      hash,
			Size:      int64(len(part.Data)),
		}
		p.catalog.Insert(storageName, meta)

		if p.quota.OverFileCap(ownerHash, time.Now().Unix()) {
			p.catalog.Remove(storageName)
			if err := p.blobs.DeleteBlob(ctx, storageName); err != nil {
				logger.Warn("singleupload: failed to remove blob after file_limit rollback", logger.StorageName(storageName), logger.Err(err))
			}
			return Result{}, errs.New("file_limit", "active file limit reached")
		}
		if !p.quota.FitsGlobalQuota(time.Now().Unix(), 0) {
			p.catalog.Remove(storageName)
			if err := p.blobs.DeleteBlob(ctx, storageName); err != nil {
				logger.Warn("singleupload: failed to remove blob after quota rollback", logger.StorageName(storageName), logger.Err(err))
			}
			return Result{}, errs.New("quota", "global storage quota reached")
		}

		p.persistMeta(ctx, storageName, meta)
		saved = append(saved, storageName)
		slotsRemaining--
	}

	return Result{
		Files:        saved,
		Truncated:    len(saved) < len(kept),
		Remaining:    len(kept) - len(saved),
		LimitReached: limitReached,
	}, nil
}

func (p *Pipeline) persistMeta(ctx context.Context, name string, meta catalog.FileMeta) {
	payload, err := kv.Encode(meta)
	if err != nil {
		logger.Warn("singleupload: failed to encode file meta", logger.StorageName(name), logger.Err(err))
		return
	}
	if err := p.store.PutField(ctx, kv.NamespaceOwners, name, payload); err != nil {
		logger.Warn("singleupload: failed to persist file meta", logger.StorageName(name), logger.Err(err))
	}
}

func buildStorageName(originalName string) string {
	id := uuid.NewString()
	ext := blobstore.SafeExtension(filepath.Ext(originalName))
	if ext == "" {
		return id
	}
	return id + "." + ext
}

// sniffWindow bounds data to the leading 512 bytes, matching
// net/http.DetectContentType's sniffing window and keeping the magic-byte
// checks above cheap even for large uploads.
func sniffWindow(data []byte) []byte {
	const window = 512
	if len(data) > window {
		return data[:window]
	}
	return data
}
