package reportlog

import (
	"context"
	"testing"

	"github.com/marmos91/juicebox/pkg/catalog"
	"github.com/marmos91/juicebox/pkg/kv/fsstore"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	store, err := fsstore.New(fsstore.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return New(store)
}

func TestResolveFileNameExactKeyUnchanged(t *testing.T) {
	cat := catalog.New()
	cat.Insert("abc123.txt", catalog.FileMeta{OwnerHash: "o", Expires: 1, Hash: "h", Size: 1})
	if got := ResolveFileName(cat, "abc123.txt"); got != "abc123.txt" {
		t.Fatalf("expected exact match unchanged, got %s", got)
	}
}

func TestResolveFileNameShortPrefixSubstituted(t *testing.T) {
	cat := catalog.New()
	cat.Insert("abc123.txt", catalog.FileMeta{OwnerHash: "o", Expires: 1, Hash: "h", Size: 1})
	if got := ResolveFileName(cat, "abc123"); got != "abc123.txt" {
		t.Fatalf("expected prefix substitution, got %s", got)
	}
}

func TestResolveFileNameAmbiguousPrefixPicksShortest(t *testing.T) {
	cat := catalog.New()
	cat.Insert("abc123.longext", catalog.FileMeta{OwnerHash: "o", Expires: 1, Hash: "h1", Size: 1})
	cat.Insert("abc123.txt", catalog.FileMeta{OwnerHash: "o", Expires: 1, Hash: "h2", Size: 1})
	if got := ResolveFileName(cat, "abc123"); got != "abc123.txt" {
		t.Fatalf("expected shortest candidate, got %s", got)
	}
}

func TestResolveFileNameNoMatchUnchanged(t *testing.T) {
	cat := catalog.New()
	if got := ResolveFileName(cat, "nope"); got != "nope" {
		t.Fatalf("expected unresolved id left unchanged, got %s", got)
	}
}

func TestResolveFileNameWithDotNeverTreatedAsPrefix(t *testing.T) {
	cat := catalog.New()
	cat.Insert("abc.def.txt", catalog.FileMeta{OwnerHash: "o", Expires: 1, Hash: "h", Size: 1})
	if got := ResolveFileName(cat, "abc.def"); got != "abc.def" {
		t.Fatalf("expected dotted id left unchanged, got %s", got)
	}
}

func TestSubmitAppendsAndPersists(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)
	cat := catalog.New()
	cat.Insert("evidence.zip", catalog.FileMeta{OwnerHash: "o", Expires: 1, Hash: "h", Size: 1})

	log.Submit(ctx, cat, "evidence", "spam", "looks bad", "reporter-hash", 1000)
	if log.Len() != 1 {
		t.Fatalf("expected 1 report, got %d", log.Len())
	}

	reloaded := New(log.store)
	if err := reloaded.LoadFromStore(ctx); err != nil {
		t.Fatal(err)
	}
	records := reloaded.All()
	if len(records) != 1 || records[0].File != "evidence.zip" {
		t.Fatalf("expected reloaded report to reference resolved name, got %+v", records)
	}
}

func TestAppendOrderPreservedAcrossReload(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)
	log.Append(ctx, Record{File: "a.txt", Reason: "r1", Time: 1})
	log.Append(ctx, Record{File: "b.txt", Reason: "r2", Time: 2})
	log.Append(ctx, Record{File: "c.txt", Reason: "r3", Time: 3})

	reloaded := New(log.store)
	if err := reloaded.LoadFromStore(ctx); err != nil {
		t.Fatal(err)
	}
	records := reloaded.All()
	if len(records) != 3 || records[0].File != "a.txt" || records[2].File != "c.txt" {
		t.Fatalf("expected append order preserved, got %+v", records)
	}
}
