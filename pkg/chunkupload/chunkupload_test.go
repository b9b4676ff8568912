package chunkupload

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/marmos91/juicebox/pkg/admission"
	"github.com/marmos91/juicebox/pkg/blobstore/localfs"
	"github.com/marmos91/juicebox/pkg/catalog"
	"github.com/marmos91/juicebox/pkg/juicebox/errs"
	"github.com/marmos91/juicebox/pkg/kv/fsstore"
	"github.com/marmos91/juicebox/pkg/quota"
)

type catalogAdapter struct{ cat *catalog.Catalog }

func (a catalogAdapter) Iter() []quota.CatalogEntry {
	entries := a.cat.Iter()
	out := make([]quota.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, quota.CatalogEntry{OwnerHash: e.Meta.OwnerHash, Expires: e.Meta.Expires, Size: e.Meta.Size})
	}
	return out
}

func newTestManager(t *testing.T, maxActiveFiles int, maxFileBytes int64) (*Manager, *catalog.Catalog) {
	t.Helper()

	blobs, err := localfs.New(localfs.Config{UploadDir: t.TempDir(), ChunkDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	store, err := fsstore.New(fsstore.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cat := catalog.New()
	sem := admission.NewSemaphore(4)

	mgr := New(cat, store, blobs, sem)
	acct := quota.New(quota.Config{MaxActiveFilesPerIP: maxActiveFiles, MaxFileBytes: maxFileBytes}, catalogAdapter{cat}, mgr)
	mgr.SetAccountant(acct)

	return mgr, cat
}

func initSession(t *testing.T, mgr *Manager, owner string, size, chunkSize int64) InitResult {
	t.Helper()
	res, err := mgr.Init(context.Background(), owner, "alpha.txt", size, "1h", chunkSize, "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return res
}

func TestInitComputesChunkLayout(t *testing.T) {
	mgr, _ := newTestManager(t, 5, 10<<20)
	res := initSession(t, mgr, "owner-a", 120000, 70000)
	if res.TotalChunks != 2 {
		t.Fatalf("expected 2 chunks, got %d", res.TotalChunks)
	}
}

func TestChunkSizeClampingBoundaries(t *testing.T) {
	mgr, _ := newTestManager(t, 5, 1<<30)
	cases := []struct {
		name      string
		requested int64
	}{
		{"below min", 1},
		{"just below min", MinChunkSize - 1},
		{"exactly min", MinChunkSize},
		{"exactly max", MaxChunkSize},
		{"above max", MaxChunkSize + 1},
	}
	size := int64(10 * MaxChunkSize)
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := mgr.Init(context.Background(), "owner-clamp", "f.bin", size, "1h", c.requested, "")
			if err != nil {
				t.Fatalf("init: %v", err)
			}
			if res.ChunkSize < MinChunkSize || res.ChunkSize > MaxChunkSize {
				t.Fatalf("chunk size %d outside [%d,%d]", res.ChunkSize, MinChunkSize, MaxChunkSize)
			}
			if err := mgr.Cancel(context.Background(), "owner-clamp", res.SessionID); err != nil {
				t.Fatalf("cancel: %v", err)
			}
		})
	}
}

func TestTotalChunksNeverExceedsMax(t *testing.T) {
	mgr, _ := newTestManager(t, 5, 1<<40)
	// A tiny requested chunk size against a huge file forces the
	// auto-raise algorithm to kick in.
	res, err := mgr.Init(context.Background(), "owner-raise", "f.bin", int64(MaxTotalChunks)*MinChunkSize*3, "1h", MinChunkSize, "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if res.TotalChunks > MaxTotalChunks {
		t.Fatalf("total_chunks %d exceeds cap %d", res.TotalChunks, MaxTotalChunks)
	}
}

func TestInitRejectsEmptyAndOversized(t *testing.T) {
	mgr, _ := newTestManager(t, 5, 1000)
	if _, err := mgr.Init(context.Background(), "owner-b", "f.bin", 0, "1h", 0, ""); !errs.Is(err, "empty") {
		t.Fatalf("expected empty error, got %v", err)
	}
	if _, err := mgr.Init(context.Background(), "owner-b", "f.bin", 1001, "1h", 0, ""); !errs.Is(err, "too_large") {
		t.Fatalf("expected too_large error, got %v", err)
	}
}

func TestFullLifecycleCommitAndFetch(t *testing.T) {
	mgr, cat := newTestManager(t, 5, 10<<20)
	ctx := context.Background()

	chunkA := bytes.Repeat([]byte("A"), 70000)
	chunkB := bytes.Repeat([]byte("B"), 50000)
	total := int64(len(chunkA) + len(chunkB))

	res := initSession(t, mgr, "owner-c", total, 70000)
	if res.TotalChunks != 2 {
		t.Fatalf("expected 2 chunks, got %d", res.TotalChunks)
	}

	if err := mgr.PutChunk(ctx, "owner-c", res.SessionID, 1, bytes.NewReader(chunkB)); err != nil {
		t.Fatalf("put chunk 1: %v", err)
	}
	if err := mgr.PutChunk(ctx, "owner-c", res.SessionID, 0, bytes.NewReader(chunkA)); err != nil {
		t.Fatalf("put chunk 0: %v", err)
	}

	status, err := mgr.Status(ctx, "owner-c", res.SessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Completed {
		t.Fatal("expected not completed before commit")
	}

	out, err := mgr.Complete(ctx, "owner-c", res.SessionID, "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(out.Files) != 1 || out.Files[0] != res.StorageName {
		t.Fatalf("unexpected complete result: %+v", out)
	}

	meta, ok := cat.Get(res.StorageName)
	if !ok {
		t.Fatal("expected catalog entry after commit")
	}
	if meta.Size != total {
		t.Fatalf("expected size %d, got %d", total, meta.Size)
	}

	if _, err := mgr.Status(ctx, "owner-c", res.SessionID); !errs.Is(err, "chunk_session") {
		t.Fatalf("expected session to be gone after commit, got %v", err)
	}
}

func TestCompleteHashMismatchRemovesBlobAndSession(t *testing.T) {
	mgr, cat := newTestManager(t, 5, 10<<20)
	ctx := context.Background()

	chunkA := bytes.Repeat([]byte("A"), 70000)
	chunkB := bytes.Repeat([]byte("B"), 50000)
	total := int64(len(chunkA) + len(chunkB))

	res := initSession(t, mgr, "owner-d", total, 70000)
	if err := mgr.PutChunk(ctx, "owner-d", res.SessionID, 0, bytes.NewReader(chunkA)); err != nil {
		t.Fatalf("put chunk 0: %v", err)
	}
	if err := mgr.PutChunk(ctx, "owner-d", res.SessionID, 1, bytes.NewReader(chunkB)); err != nil {
		t.Fatalf("put chunk 1: %v", err)
	}

	_, err := mgr.Complete(ctx, "owner-d", res.SessionID, "0000000000000000000000000000000000000000000000000000000000000000")
	if !errs.Is(err, "hash_mismatch") {
		t.Fatalf("expected hash_mismatch, got %v", err)
	}

	if _, ok := cat.Get(res.StorageName); ok {
		t.Fatal("expected no catalog entry after hash mismatch")
	}
	if _, err := mgr.Status(ctx, "owner-d", res.SessionID); err != nil {
		t.Fatalf("expected session to still exist after a failed complete, got %v", err)
	}
}

func TestPutChunkRejectsBadIndexAndSize(t *testing.T) {
	mgr, _ := newTestManager(t, 5, 10<<20)
	ctx := context.Background()
	res := initSession(t, mgr, "owner-e", 120000, 70000)

	if err := mgr.PutChunk(ctx, "owner-e", res.SessionID, 5, bytes.NewReader([]byte("x"))); !errs.Is(err, "chunk_index") {
		t.Fatalf("expected chunk_index, got %v", err)
	}
	if err := mgr.PutChunk(ctx, "owner-e", res.SessionID, 0, bytes.NewReader([]byte("too short"))); !errs.Is(err, "chunk_size") {
		t.Fatalf("expected chunk_size, got %v", err)
	}
}

func TestPutChunkRejectsWrongOwner(t *testing.T) {
	mgr, _ := newTestManager(t, 5, 10<<20)
	ctx := context.Background()
	res := initSession(t, mgr, "owner-f", 120000, 70000)

	err := mgr.PutChunk(ctx, "someone-else", res.SessionID, 0, bytes.NewReader(make([]byte, 70000)))
	if !errs.Is(err, "not_owner") {
		t.Fatalf("expected not_owner, got %v", err)
	}
}

func TestCompleteRejectsIncomplete(t *testing.T) {
	mgr, _ := newTestManager(t, 5, 10<<20)
	ctx := context.Background()
	res := initSession(t, mgr, "owner-g", 120000, 70000)
	if err := mgr.PutChunk(ctx, "owner-g", res.SessionID, 0, bytes.NewReader(make([]byte, 70000))); err != nil {
		t.Fatalf("put chunk: %v", err)
	}
	if _, err := mgr.Complete(ctx, "owner-g", res.SessionID, ""); !errs.Is(err, "incomplete") {
		t.Fatalf("expected incomplete, got %v", err)
	}
}

func TestCancelThenOperationsReturnNotFound(t *testing.T) {
	mgr, _ := newTestManager(t, 5, 10<<20)
	ctx := context.Background()
	res := initSession(t, mgr, "owner-h", 120000, 70000)

	if err := mgr.Cancel(ctx, "owner-h", res.SessionID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := mgr.PutChunk(ctx, "owner-h", res.SessionID, 0, bytes.NewReader(make([]byte, 70000))); !errs.Is(err, "chunk_session") {
		t.Fatalf("expected chunk_session after cancel, got %v", err)
	}
	if _, err := mgr.Complete(ctx, "owner-h", res.SessionID, ""); !errs.Is(err, "chunk_session") {
		t.Fatalf("expected chunk_session after cancel, got %v", err)
	}
	if _, err := mgr.Status(ctx, "owner-h", res.SessionID); !errs.Is(err, "chunk_session") {
		t.Fatalf("expected chunk_session after cancel, got %v", err)
	}
}

func TestInitDedupReturnsDuplicateError(t *testing.T) {
	mgr, cat := newTestManager(t, 5, 10<<20)
	cat.Insert("existing.txt", catalog.FileMeta{OwnerHash: "owner-i", Expires: 1 << 40, Hash: "deadbeef", Size: 4})

	_, err := mgr.Init(context.Background(), "owner-i", "f.bin", 4, "1h", 0, "deadbeef")
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
	if dup.StorageName != "existing.txt" {
		t.Fatalf("unexpected duplicate storage name: %s", dup.StorageName)
	}
}

func TestInitFileLimitReached(t *testing.T) {
	mgr, _ := newTestManager(t, 1, 10<<20)
	ctx := context.Background()

	first := initSession(t, mgr, "owner-j", 100, 0)
	if err := mgr.PutChunk(ctx, "owner-j", first.SessionID, 0, bytes.NewReader(make([]byte, 100))); err != nil {
		t.Fatalf("put chunk: %v", err)
	}
	if _, err := mgr.Complete(ctx, "owner-j", first.SessionID, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := mgr.Init(ctx, "owner-j", "second.bin", 100, "1h", 0, ""); !errs.Is(err, "file_limit") {
		t.Fatalf("expected file_limit, got %v", err)
	}
}

func TestSweepRemovesStaleSessions(t *testing.T) {
	mgr, _ := newTestManager(t, 5, 10<<20)
	res := initSession(t, mgr, "owner-k", 100, 0)

	removed := mgr.Sweep(context.Background(), 0, -1)
	if removed != 0 {
		t.Fatalf("expected nothing stale with a negative window check against now=0, got %d", removed)
	}

	removed = mgr.Sweep(context.Background(), res.Expires+1, 0)
	if removed != 1 {
		t.Fatalf("expected the expired session to be swept, got %d", removed)
	}
	if _, err := mgr.Status(context.Background(), "owner-k", res.SessionID); !errs.Is(err, "chunk_session") {
		t.Fatalf("expected session gone after sweep, got %v", err)
	}
}

func TestIterSatisfiesQuotaSessionView(t *testing.T) {
	mgr, _ := newTestManager(t, 5, 10<<20)
	initSession(t, mgr, "owner-l", 100, 0)
	entries := mgr.Iter()
	if len(entries) != 1 || entries[0].OwnerHash != "owner-l" {
		t.Fatalf("unexpected session view entries: %+v", entries)
	}
}
