package badgerstore

import (
	"context"
	"sort"
	"testing"

	"github.com/marmos91/juicebox/pkg/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutLoadDeleteField(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutField(ctx, kv.NamespaceChunks, "sess1", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.PutField(ctx, kv.NamespaceChunks, "sess2", []byte("b")); err != nil {
		t.Fatal(err)
	}
	// Different namespace, same field name, must not collide.
	if err := s.PutField(ctx, kv.NamespaceOwners, "sess1", []byte("c")); err != nil {
		t.Fatal(err)
	}

	entries, err := s.LoadHash(ctx, kv.NamespaceChunks)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if err := s.DeleteField(ctx, kv.NamespaceChunks, "sess1"); err != nil {
		t.Fatal(err)
	}
	entries, err = s.LoadHash(ctx, kv.NamespaceChunks)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Field != "sess2" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	ownerEntries, err := s.LoadHash(ctx, kv.NamespaceOwners)
	if err != nil {
		t.Fatal(err)
	}
	if len(ownerEntries) != 1 || ownerEntries[0].Field != "sess1" {
		t.Fatal("namespace isolation violated")
	}
}

func TestReplaceHash(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.PutField(ctx, kv.NamespaceBans, "old", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceHash(ctx, kv.NamespaceBans, []kv.Entry{
		{Field: "n1", Payload: []byte("1")},
		{Field: "n2", Payload: []byte("2")},
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.LoadHash(ctx, kv.NamespaceBans)
	if err != nil {
		t.Fatal(err)
	}
	var fields []string
	for _, e := range entries {
		fields = append(fields, e.Field)
	}
	sort.Strings(fields)
	if len(fields) != 2 || fields[0] != "n1" || fields[1] != "n2" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestDeleteFieldAbsentIsNotError(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteField(context.Background(), kv.NamespaceAdminSessions, "missing"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
