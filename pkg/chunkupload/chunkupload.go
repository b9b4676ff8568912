// Package chunkupload implements the resumable chunked upload session
// manager: session init, parallel chunk PUTs, ordered assembly with
// streaming content hashing, and atomic commit into the catalog.
package chunkupload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
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

// Chunk layout bounds (spec §4.G): a requested chunk size is clamped into
// this range, then raised further if the resulting chunk count would
// exceed MaxTotalChunks.
const (
	MinChunkSize   int64 = 64 * 1024
	MaxChunkSize   int64 = 32 * 1024 * 1024
	MaxTotalChunks int   = 20000

	// DefaultChunkSize is used when the caller does not request one.
	DefaultChunkSize int64 = 5 * 1024 * 1024
)

// computeLayout clamps requested into [MinChunkSize, MaxChunkSize] and
// raises it as needed to keep the chunk count within MaxTotalChunks.
func computeLayout(size, requested int64) (chunkSize int64, totalChunks int, err error) {
	cs := requested
	if cs <= 0 {
		cs = DefaultChunkSize
	}
	if cs < MinChunkSize {
		cs = MinChunkSize
	}
	if cs > MaxChunkSize {
		cs = MaxChunkSize
	}

	count := func(c int64) int { return int((size + c - 1) / c) }

	tc := count(cs)
	for tc > MaxTotalChunks && cs < MaxChunkSize {
		cs *= 2
		if cs > MaxChunkSize {
			cs = MaxChunkSize
		}
		tc = count(cs)
	}
	if tc > MaxTotalChunks {
		return 0, 0, errs.New("chunk_layout", "file cannot be split within the maximum chunk count")
	}
	return cs, tc, nil
}

// expectedLen returns the byte length index is required to have, given the
// session's layout. Every chunk but the last is exactly chunkSize; the last
// absorbs the remainder.
func expectedLen(totalBytes, chunkSize int64, totalChunks, index int) int64 {
	if index == totalChunks-1 {
		return totalBytes - chunkSize*int64(totalChunks-1)
	}
	return chunkSize
}

// ChunkSession is one in-flight resumable upload (spec §3).
type ChunkSession struct {
	ID           string
	OwnerHash    string
	StorageName  string
	OriginalName string
	TTLCode      string
	Expires      int64
	TotalBytes   int64
	ChunkSize    int64
	TotalChunks  int
	DeclaredHash string
	Created      int64

	mu         sync.RWMutex
	received   []bool
	lastUpdate int64

	assembledChunks atomic.Int64
	completed       atomic.Bool
}

// LastUpdate returns the epoch second of the most recent chunk write.
func (s *ChunkSession) LastUpdate() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

func (s *ChunkSession) touch() {
	s.mu.Lock()
	s.lastUpdate = time.Now().Unix()
	s.mu.Unlock()
}

func (s *ChunkSession) markReceived(index int) {
	s.mu.Lock()
	s.received[index] = true
	s.lastUpdate = time.Now().Unix()
	s.mu.Unlock()
}

func (s *ChunkSession) isFull() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ok := range s.received {
		if !ok {
			return false
		}
	}
	return true
}

// DuplicateError reports a dedup hit: the caller should surface the
// existing storage name and metadata instead of creating a new entry.
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

// InitResult is returned by Init.
type InitResult struct {
	SessionID   string
	ChunkSize   int64
	TotalChunks int
	Expires     int64
	StorageName string
}

// CompleteResult is returned by Complete, shaped like the single-shot
// upload response so both paths can share a response encoder.
type CompleteResult struct {
	Files     []string
	Truncated bool
	Remaining int
}

// StatusResult is returned by Status.
type StatusResult struct {
	TotalChunks     int
	AssembledChunks int
	Completed       bool
}

// sessionRecord is the JSON shape persisted to the chunks KV namespace.
type sessionRecord struct {
	ID           string
	OwnerHash    string
	StorageName  string
	OriginalName string
	TTLCode      string
	Expires      int64
	TotalBytes   int64
	ChunkSize    int64
	TotalChunks  int
	DeclaredHash string
	Created      int64
	LastUpdate   int64
	Received     []bool
}

// Manager owns the set of in-flight chunk sessions. It is the concrete
// type other packages depend on; it also exposes Iter so pkg/quota can
// read session state through the narrow SessionView interface without
// pkg/chunkupload importing pkg/quota's accountant type back.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*ChunkSession

	catalog *catalog.Catalog
	store   kv.Store
	blobs   blobstore.Backend
	sem     *admission.Semaphore

	quotaMu sync.RWMutex
	quota   *quota.Accountant
}

// New returns a Manager with no sessions loaded. Call LoadFromStore to
// rehydrate sessions persisted by a previous process.
func New(cat *catalog.Catalog, store kv.Store, blobs blobstore.Backend, sem *admission.Semaphore) *Manager {
	return &Manager{
		sessions: make(map[string]*ChunkSession),
		catalog:  cat,
		store:    store,
		blobs:    blobs,
		sem:      sem,
	}
}

// SetAccountant wires the quota accountant in after construction, since the
// accountant itself needs this Manager as its SessionView.
func (m *Manager) SetAccountant(a *quota.Accountant) {
	m.quotaMu.Lock()
	m.quota = a
	m.quotaMu.Unlock()
}

func (m *Manager) accountant() *quota.Accountant {
	m.quotaMu.RLock()
	defer m.quotaMu.RUnlock()
	return m.quota
}

// Iter satisfies quota.SessionView.
func (m *Manager) Iter() []quota.SessionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]quota.SessionEntry, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, quota.SessionEntry{
			OwnerHash:  s.OwnerHash,
			Expires:    s.Expires,
			TotalBytes: s.TotalBytes,
			Completed:  s.completed.Load(),
		})
	}
	return out
}

// LoadFromStore rehydrates in-flight sessions from the durable store. It is
// meant to be called once at startup, before traffic is admitted.
func (m *Manager) LoadFromStore(ctx context.Context) error {
	entries, err := m.store.LoadHash(ctx, kv.NamespaceChunks)
	if err != nil {
		return fmt.Errorf("chunkupload: load sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		var rec sessionRecord
		if err := kv.Decode(e.Payload, &rec); err != nil {
			logger.Warn("chunkupload: failed to decode session record, skipping", logger.Field(e.Field), logger.Err(err))
			continue
		}
		sess := &ChunkSession{
			ID:           rec.ID,
			OwnerHash:    rec.OwnerHash,
			StorageName:  rec.StorageName,
			OriginalName: rec.OriginalName,
			TTLCode:      rec.TTLCode,
			Expires:      rec.Expires,
			TotalBytes:   rec.TotalBytes,
			ChunkSize:    rec.ChunkSize,
			TotalChunks:  rec.TotalChunks,
			DeclaredHash: rec.DeclaredHash,
			Created:      rec.Created,
			received:     rec.Received,
			lastUpdate:   rec.LastUpdate,
		}
		m.sessions[sess.ID] = sess
	}
	return nil
}

func snapshot(sess *ChunkSession) sessionRecord {
	sess.mu.RLock()
	received := append([]bool(nil), sess.received...)
	lastUpdate := sess.lastUpdate
	sess.mu.RUnlock()
	return sessionRecord{
		ID:           sess.ID,
		OwnerHash:    sess.OwnerHash,
		StorageName:  sess.StorageName,
		OriginalName: sess.OriginalName,
		TTLCode:      sess.TTLCode,
		Expires:      sess.Expires,
		TotalBytes:   sess.TotalBytes,
		ChunkSize:    sess.ChunkSize,
		TotalChunks:  sess.TotalChunks,
		DeclaredHash: sess.DeclaredHash,
		Created:      sess.Created,
		LastUpdate:   lastUpdate,
		Received:     received,
	}
}

// persist writes sess's current record and returns any encode or store
// error. Init, its only caller, rejects the request when it fails.
func (m *Manager) persist(ctx context.Context, sess *ChunkSession) error {
	rec := snapshot(sess)
	payload, err := kv.Encode(rec)
	if err != nil {
		return fmt.Errorf("chunkupload: encode session %s: %w", sess.ID, err)
	}
	return m.store.PutField(ctx, kv.NamespaceChunks, sess.ID, payload)
}

// persistMeta mirrors a just-inserted catalog entry into the owners
// namespace of the durable store (spec §4.B: "written asynchronously after
// every meaningful change"). A failure here is logged only; the catalog
// stays authoritative and a future reconciliation pass can repair it.
func (m *Manager) persistMeta(ctx context.Context, name string, meta catalog.FileMeta) {
	payload, err := kv.Encode(meta)
	if err != nil {
		logger.Warn("chunkupload: failed to encode file meta", logger.StorageName(name), logger.Err(err))
		return
	}
	if err := m.store.PutField(ctx, kv.NamespaceOwners, name, payload); err != nil {
		logger.Warn("chunkupload: failed to persist file meta", logger.StorageName(name), logger.Err(err))
	}
}

func (m *Manager) forget(ctx context.Context, id string) {
	if err := m.store.DeleteField(ctx, kv.NamespaceChunks, id); err != nil {
		logger.Warn("chunkupload: failed to delete persisted session", logger.SessionID(id), logger.Err(err))
	}
	if err := m.blobs.DeleteSessionDir(ctx, id); err != nil {
		logger.Warn("chunkupload: failed to delete session staging dir", logger.SessionID(id), logger.Err(err))
	}
}

func buildStorageName(id, filename string) string {
	ext := blobstore.SafeExtension(filepath.Ext(filename))
	if ext == "" {
		return id
	}
	return id + "." + ext
}

// lookupOwned resolves a session and checks ownership, the two checks
// every operation but Init shares.
func (m *Manager) lookupOwned(sessionID, ownerHash string) (*ChunkSession, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.New("chunk_session", "unknown or expired session")
	}
	if sess.OwnerHash != ownerHash {
		return nil, errs.New("not_owner", "session belongs to another caller")
	}
	return sess, nil
}

// Init begins a resumable upload session (spec §4.G).
func (m *Manager) Init(ctx context.Context, ownerHash, filename string, size int64, ttlCode string, requestedChunkSize int64, declaredHash string) (InitResult, error) {
	if size <= 0 {
		return InitResult{}, errs.New("empty", "size must be greater than zero")
	}

	acct := m.accountant()
	if acct != nil && !acct.FitsFileSize(size) {
		return InitResult{}, errs.New("too_large", "file exceeds the maximum allowed size")
	}

	chunkSize, totalChunks, err := computeLayout(size, requestedChunkSize)
	if err != nil {
		return InitResult{}, err
	}

	if declaredHash != "" {
		if name, meta, ok := m.catalog.FindByHash(declaredHash); ok {
			return InitResult{}, duplicateError(name, meta)
		}
	}

	now := time.Now().Unix()
	if acct != nil && !acct.HasFileSlot(ownerHash, now) {
		return InitResult{}, errs.New("file_limit", "active file limit reached")
	}
	if acct != nil && !acct.FitsGlobalQuota(now, size) {
		return InitResult{}, errs.New("quota", "global storage quota reached")
	}

	code, expires := ttlcode.Expires(ttlCode, now)
	id := uuid.NewString()
	storageName := buildStorageName(id, filename)

	sess := &ChunkSession{
		ID:           id,
		OwnerHash:    ownerHash,
		StorageName:  storageName,
		OriginalName: blobstore.Sanitize(filename),
		TTLCode:      code,
		Expires:      expires,
		TotalBytes:   size,
		ChunkSize:    chunkSize,
		TotalChunks:  totalChunks,
		DeclaredHash: declaredHash,
		Created:      now,
		lastUpdate:   now,
		received:     make([]bool, totalChunks),
	}

	if err := m.persist(ctx, sess); err != nil {
		return InitResult{}, errs.Wrap("chunk_dir", "failed to persist session", err)
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	// Re-check admission after insertion: a concurrent Init for the same
	// owner, or against the global quota, may have filled the last slot
	// between the check above and this insert (spec §5).
	if acct != nil && acct.OverFileCap(ownerHash, now) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		m.forget(ctx, id)
		return InitResult{}, errs.New("file_limit", "active file limit reached")
	}
	if acct != nil && !acct.FitsGlobalQuota(now, 0) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		m.forget(ctx, id)
		return InitResult{}, errs.New("quota", "global storage quota reached")
	}

	logger.Debug("chunkupload: session started", logger.OwnerHash(ownerHash), logger.SessionID(id), logger.FileSize(size))

	return InitResult{
		SessionID:   id,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		Expires:     expires,
		StorageName: storageName,
	}, nil
}

// PutChunk writes one chunk (spec §4.G). Chunks may arrive in any order,
// concurrently, and a repeat PUT to the same index simply overwrites.
func (m *Manager) PutChunk(ctx context.Context, ownerHash, sessionID string, index int, r io.Reader) error {
	sess, err := m.lookupOwned(sessionID, ownerHash)
	if err != nil {
		return err
	}
	if sess.completed.Load() {
		return errs.New("completed", "session already completed")
	}
	if index < 0 || index >= sess.TotalChunks {
		return errs.New("chunk_index", "chunk index out of range")
	}

	expected := expectedLen(sess.TotalBytes, sess.ChunkSize, sess.TotalChunks, index)

	written, err := m.blobs.WriteChunk(ctx, sessionID, index, r)
	if err != nil {
		return errs.Wrap("chunk_write", "failed to write chunk", err)
	}
	if written != expected {
		return errs.New("chunk_size", fmt.Sprintf("expected %d bytes, got %d", expected, written))
	}

	sess.markReceived(index)
	logger.Debug("chunkupload: chunk received", logger.SessionID(sessionID), logger.ChunkIndex(index))
	return nil
}

// Complete assembles and commits a fully-received session (spec §4.G).
func (m *Manager) Complete(ctx context.Context, ownerHash, sessionID, declaredHash string) (CompleteResult, error) {
	sess, err := m.lookupOwned(sessionID, ownerHash)
	if err != nil {
		return CompleteResult{}, err
	}
	if sess.completed.Load() {
		return CompleteResult{}, errs.New("completed", "session already completed")
	}
	if !sess.isFull() {
		return CompleteResult{}, errs.New("incomplete", "not all chunks have been received")
	}

	if !m.sem.TryAcquire() {
		return CompleteResult{}, errs.New("upload_capacity", "too many uploads committing concurrently")
	}
	defer m.sem.Release()

	writer, err := m.blobs.CreateBlobWriter(ctx, sess.StorageName)
	if err != nil {
		return CompleteResult{}, errs.Wrap("final_create", "failed to create final blob", err)
	}

	digest := sha256.New()
	dest := io.MultiWriter(writer, digest)

	for i := 0; i < sess.TotalChunks; i++ {
		if err := m.copyChunk(ctx, writer, dest, sessionID, sess, i); err != nil {
			return CompleteResult{}, err
		}
	}

	if err := writer.Commit(ctx); err != nil {
		return CompleteResult{}, errs.Wrap("write", "failed to commit final blob", err)
	}

	computed := hex.EncodeToString(digest.Sum(nil))
	want := declaredHash
	if want == "" {
		want = sess.DeclaredHash
	}
	if want != "" && !strings.EqualFold(want, computed) {
		if err := m.blobs.DeleteBlob(ctx, sess.StorageName); err != nil {
			logger.Warn("chunkupload: failed to remove blob after hash mismatch", logger.StorageName(sess.StorageName), logger.Err(err))
		}
		return CompleteResult{}, errs.New("hash_mismatch", "declared content hash does not match the assembled content")
	}

	if name, meta, ok := m.catalog.FindByHash(computed); ok {
		if err := m.blobs.DeleteBlob(ctx, sess.StorageName); err != nil {
			logger.Warn("chunkupload: failed to remove duplicate blob", logger.StorageName(sess.StorageName), logger.Err(err))
		}
		return CompleteResult{}, duplicateError(name, meta)
	}

	now := time.Now().Unix()
	meta := catalog.FileMeta{
		OwnerHash: sess.OwnerHash,
		Expires:   sess.Expires,
		Original:  sess.OriginalName,
		Created:   now,
		Hash:      computed,
		Size:      sess.TotalBytes,
	}
	m.catalog.Insert(sess.StorageName, meta)
	// Once its entry is in the catalog the session no longer counts as an
	// active file of its own.
	sess.completed.Store(true)
	m.persistMeta(ctx, sess.StorageName, meta)
	logger.Debug("chunkupload: session completed", logger.SessionID(sessionID), logger.StorageName(sess.StorageName), logger.Hash(computed))

	if acct := m.accountant(); acct != nil && acct.OverFileCap(sess.OwnerHash, now) {
		sess.completed.Store(false)
		m.catalog.Remove(sess.StorageName)
		if err := m.blobs.DeleteBlob(ctx, sess.StorageName); err != nil {
			logger.Warn("chunkupload: failed to remove blob after file_limit eviction", logger.StorageName(sess.StorageName), logger.Err(err))
		}
		if err := m.store.DeleteField(ctx, kv.NamespaceOwners, sess.StorageName); err != nil {
			logger.Warn("chunkupload: failed to remove persisted meta after file_limit eviction", logger.StorageName(sess.StorageName), logger.Err(err))
		}
		return CompleteResult{}, errs.New("file_limit", "active file limit reached")
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	m.forget(ctx, sessionID)

	return CompleteResult{Files: []string{sess.StorageName}, Truncated: false, Remaining: 0}, nil
}

// copyChunk streams one staged chunk into dest, advancing
// sess.assembledChunks on success. writer is passed separately from dest
// (a MultiWriter over writer and the digest) only so Abort can be called on
// it from every error path.
func (m *Manager) copyChunk(ctx context.Context, writer blobstore.BlobWriter, dest io.Writer, sessionID string, sess *ChunkSession, index int) error {
	rc, err := m.blobs.OpenChunk(ctx, sessionID, index)
	if err != nil {
		_ = writer.Abort(ctx)
		return errs.Wrap("chunk_missing", "staged chunk is missing", err)
	}
	defer rc.Close()

	expected := expectedLen(sess.TotalBytes, sess.ChunkSize, sess.TotalChunks, index)
	n, err := io.CopyN(dest, rc, expected)
	if err != nil {
		_ = writer.Abort(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errs.New("chunk_size", "staged chunk shorter than expected")
		}
		return errs.Wrap("chunk_read", "failed to read staged chunk", err)
	}
	if n != expected {
		_ = writer.Abort(ctx)
		return errs.New("chunk_size", "staged chunk length mismatch")
	}

	sess.assembledChunks.Add(1)
	return nil
}

// Cancel aborts a session and removes its staging directory (spec §4.G).
func (m *Manager) Cancel(ctx context.Context, ownerHash, sessionID string) error {
	sess, err := m.lookupOwned(sessionID, ownerHash)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()
	m.forget(ctx, sess.ID)
	return nil
}

// Status reports assembly progress (spec §4.G).
func (m *Manager) Status(ctx context.Context, ownerHash, sessionID string) (StatusResult, error) {
	sess, err := m.lookupOwned(sessionID, ownerHash)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		TotalChunks:     sess.TotalChunks,
		AssembledChunks: int(sess.assembledChunks.Load()),
		Completed:       sess.completed.Load(),
	}, nil
}

// Sweep removes sessions whose last update is older than staleWindow, or
// whose computed expiry has already passed, deleting their staging
// directories. It is invoked by the integrity loop (spec §4.I) and returns
// the number of sessions removed.
func (m *Manager) Sweep(ctx context.Context, now int64, staleWindow time.Duration) int {
	var stale []string
	m.mu.RLock()
	for id, sess := range m.sessions {
		if sess.completed.Load() {
			continue
		}
		if sess.Expires <= now || now-sess.LastUpdate() > int64(staleWindow.Seconds()) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		m.forget(ctx, id)
	}
	return len(stale)
}
