package gc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/juicebox/pkg/blobstore/localfs"
	"github.com/marmos91/juicebox/pkg/catalog"
	"github.com/marmos91/juicebox/pkg/kv/fsstore"
)

func newTestLoop(t *testing.T) (*Loop, *catalog.Catalog, *localfs.Store, *fsstore.Store) {
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
	return New(Config{MinLazyGap: time.Millisecond}, cat, store, blobs, nil), cat, blobs, store
}

func TestSweepRemovesExpiredFileAndBlob(t *testing.T) {
	ctx := context.Background()
	loop, cat, blobs, _ := newTestLoop(t)

	if _, err := blobs.WriteBlob(ctx, "expired.txt", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	cat.Insert("expired.txt", catalog.FileMeta{OwnerHash: "owner", Expires: 1, Created: 1, Hash: "h1", Size: 1})

	stats := loop.Sweep(ctx)
	if stats.ExpiredFiles != 1 {
		t.Fatalf("expected 1 expired file, got %+v", stats)
	}
	if _, ok := cat.Get("expired.txt"); ok {
		t.Fatal("expected expired entry to be removed from catalog")
	}
	if _, err := blobs.StatBlob(ctx, "expired.txt"); err == nil {
		t.Fatal("expected expired blob to be deleted")
	}
}

func TestSweepKeepsUnexpiredFile(t *testing.T) {
	ctx := context.Background()
	loop, cat, blobs, _ := newTestLoop(t)

	if _, err := blobs.WriteBlob(ctx, "live.txt", strings.NewReader("y")); err != nil {
		t.Fatal(err)
	}
	cat.Insert("live.txt", catalog.FileMeta{OwnerHash: "owner", Expires: time.Now().Unix() + 3600, Created: 1, Hash: "h2", Size: 1})

	stats := loop.Sweep(ctx)
	if stats.ExpiredFiles != 0 {
		t.Fatalf("expected no expired files, got %+v", stats)
	}
	if _, ok := cat.Get("live.txt"); !ok {
		t.Fatal("expected unexpired entry to survive the sweep")
	}
}

func TestSweepReapsOrphanMetadata(t *testing.T) {
	ctx := context.Background()
	loop, cat, _, _ := newTestLoop(t)

	cat.Insert("ghost.txt", catalog.FileMeta{OwnerHash: "owner", Expires: time.Now().Unix() + 3600, Created: 1, Hash: "h3", Size: 1})

	stats := loop.Sweep(ctx)
	if stats.OrphanFiles != 1 {
		t.Fatalf("expected 1 orphan reaped, got %+v", stats)
	}
	if _, ok := cat.Get("ghost.txt"); ok {
		t.Fatal("expected orphan metadata to be removed")
	}
}

func TestSweepExpiredDebounces(t *testing.T) {
	ctx := context.Background()
	loop, cat, blobs, _ := newTestLoop(t)
	loop.minGap = time.Hour

	if _, err := blobs.WriteBlob(ctx, "expired.txt", strings.NewReader("z")); err != nil {
		t.Fatal(err)
	}
	cat.Insert("expired.txt", catalog.FileMeta{OwnerHash: "owner", Expires: 1, Created: 1, Hash: "h4", Size: 1})

	loop.SweepExpired(ctx)
	if _, ok := cat.Get("expired.txt"); ok {
		t.Fatal("expected first lazy trigger to run")
	}

	cat.Insert("expired2.txt", catalog.FileMeta{OwnerHash: "owner", Expires: 1, Created: 1, Hash: "h5", Size: 1})
	loop.SweepExpired(ctx)
	if _, ok := cat.Get("expired2.txt"); !ok {
		t.Fatal("expected debounced second trigger to skip the sweep")
	}
}
