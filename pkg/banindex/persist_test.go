package banindex

import (
	"context"
	"testing"

	"github.com/marmos91/juicebox/pkg/kv/fsstore"
)

func testStore(t *testing.T) *fsstore.Store {
	t.Helper()
	store, err := fsstore.New(fsstore.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestPersistThenLoadFromStoreRestoresBan(t *testing.T) {
	fp := testFP(t)
	store := testStore(t)
	ctx := context.Background()

	_, hash, _ := fp.FingerprintIP("10.0.0.1")
	idx := New()
	Persist(ctx, store, idx, Ban{Kind: KindExact, Hash: hash, Reason: "abuse"})

	reloaded := New()
	if err := LoadFromStore(ctx, store, reloaded); err != nil {
		t.Fatal(err)
	}
	if !reloaded.IsBanned(fp, "10.0.0.1") {
		t.Fatal("expected ban to survive a reload from the store")
	}
}

func TestUnpersistRemovesBanFromStoreAndIndex(t *testing.T) {
	fp := testFP(t)
	store := testStore(t)
	ctx := context.Background()

	_, hash, _ := fp.FingerprintIP("10.0.0.1")
	idx := New()
	Persist(ctx, store, idx, Ban{Kind: KindExact, Hash: hash})
	Unpersist(ctx, store, idx, hash)

	if idx.IsBanned(fp, "10.0.0.1") {
		t.Fatal("expected ban removed from the in-memory index")
	}

	reloaded := New()
	if err := LoadFromStore(ctx, store, reloaded); err != nil {
		t.Fatal(err)
	}
	if reloaded.IsBanned(fp, "10.0.0.1") {
		t.Fatal("expected ban removed from the durable store")
	}
}
