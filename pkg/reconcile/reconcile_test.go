package reconcile

import (
	"context"
	"testing"

	"github.com/marmos91/juicebox/pkg/catalog"
	"github.com/marmos91/juicebox/pkg/kv"
	"github.com/marmos91/juicebox/pkg/kv/fsstore"
)

func putMeta(t *testing.T, store kv.Store, name string, meta catalog.FileMeta) {
	t.Helper()
	payload, err := kv.Encode(meta)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutField(context.Background(), kv.NamespaceOwners, name, payload); err != nil {
		t.Fatal(err)
	}
}

func TestReconcileNoDifference(t *testing.T) {
	ctx := context.Background()
	store, err := fsstore.New(fsstore.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cat := catalog.New()

	meta := catalog.FileMeta{OwnerHash: "owner-a", Expires: 100, Hash: "h1", Size: 1}
	cat.Insert("same.txt", meta)
	putMeta(t, store, "same.txt", meta)

	report, err := Reconcile(ctx, cat, store, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Empty() {
		t.Fatalf("expected no differences, got %+v", report)
	}
}

func TestReconcileRemovesMissingFromStore(t *testing.T) {
	ctx := context.Background()
	store, err := fsstore.New(fsstore.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cat := catalog.New()
	cat.Insert("ghost.txt", catalog.FileMeta{OwnerHash: "owner-a", Expires: 100, Hash: "h2", Size: 1})

	report, err := Reconcile(ctx, cat, store, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Removed) != 1 || report.Removed[0] != "ghost.txt" {
		t.Fatalf("expected ghost.txt removed, got %+v", report)
	}
	if _, ok := cat.Get("ghost.txt"); ok {
		t.Fatal("expected ghost.txt to be gone from memory")
	}
}

func TestReconcileAddsMissingFromMemory(t *testing.T) {
	ctx := context.Background()
	store, err := fsstore.New(fsstore.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cat := catalog.New()
	putMeta(t, store, "new.txt", catalog.FileMeta{OwnerHash: "owner-a", Expires: 200, Hash: "h3", Size: 1})

	report, err := Reconcile(ctx, cat, store, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Added) != 1 || report.Added[0] != "new.txt" {
		t.Fatalf("expected new.txt added, got %+v", report)
	}
	if _, ok := cat.Get("new.txt"); !ok {
		t.Fatal("expected new.txt to now be in memory")
	}
}

func TestReconcileUpdatesDivergedExpiry(t *testing.T) {
	ctx := context.Background()
	store, err := fsstore.New(fsstore.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cat := catalog.New()
	cat.Insert("stale.txt", catalog.FileMeta{OwnerHash: "owner-a", Expires: 100, Hash: "h4", Size: 1})
	putMeta(t, store, "stale.txt", catalog.FileMeta{OwnerHash: "owner-a", Expires: 999, Hash: "h4", Size: 1})

	report, err := Reconcile(ctx, cat, store, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Updated) != 1 || report.Updated[0] != "stale.txt" {
		t.Fatalf("expected stale.txt updated, got %+v", report)
	}
	meta, _ := cat.Get("stale.txt")
	if meta.Expires != 999 {
		t.Fatalf("expected expires refreshed to 999, got %d", meta.Expires)
	}
}

func TestReconcileIgnoresOtherOwners(t *testing.T) {
	ctx := context.Background()
	store, err := fsstore.New(fsstore.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	cat := catalog.New()
	cat.Insert("mine.txt", catalog.FileMeta{OwnerHash: "owner-a", Expires: 100, Hash: "h5", Size: 1})
	cat.Insert("theirs.txt", catalog.FileMeta{OwnerHash: "owner-b", Expires: 100, Hash: "h6", Size: 1})
	putMeta(t, store, "mine.txt", catalog.FileMeta{OwnerHash: "owner-a", Expires: 100, Hash: "h5", Size: 1})

	report, err := Reconcile(ctx, cat, store, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Empty() {
		t.Fatalf("expected no differences for owner-a, got %+v", report)
	}
	if _, ok := cat.Get("theirs.txt"); !ok {
		t.Fatal("expected owner-b's entry to be left untouched")
	}
}
