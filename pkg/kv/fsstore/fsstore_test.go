package fsstore

import (
	"context"
	"sort"
	"testing"

	"github.com/marmos91/juicebox/pkg/kv"
)

func TestPutLoadDeleteField(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.PutField(ctx, kv.NamespaceOwners, "alpha.txt", []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.PutField(ctx, kv.NamespaceOwners, "beta.txt", []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}

	entries, err := s.LoadHash(ctx, kv.NamespaceOwners)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if err := s.DeleteField(ctx, kv.NamespaceOwners, "alpha.txt"); err != nil {
		t.Fatal(err)
	}
	entries, err = s.LoadHash(ctx, kv.NamespaceOwners)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Field != "beta.txt" {
		t.Fatalf("unexpected entries after delete: %+v", entries)
	}
}

func TestLoadHashUnknownNamespaceIsEmpty(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := s.LoadHash(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestDeleteFieldAbsentIsNotError(t *testing.T) {
	s, _ := New(Config{BasePath: t.TempDir()})
	if err := s.DeleteField(context.Background(), kv.NamespaceBans, "missing"); err != nil {
		t.Fatalf("expected no error deleting an absent field, got %v", err)
	}
}

func TestReplaceHash(t *testing.T) {
	ctx := context.Background()
	s, _ := New(Config{BasePath: t.TempDir()})

	if err := s.PutField(ctx, kv.NamespaceReports, "old", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceHash(ctx, kv.NamespaceReports, []kv.Entry{
		{Field: "new1", Payload: []byte("a")},
		{Field: "new2", Payload: []byte("b")},
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.LoadHash(ctx, kv.NamespaceReports)
	if err != nil {
		t.Fatal(err)
	}
	var fields []string
	for _, e := range entries {
		fields = append(fields, e.Field)
	}
	sort.Strings(fields)
	if len(fields) != 2 || fields[0] != "new1" || fields[1] != "new2" {
		t.Fatalf("unexpected fields after ReplaceHash: %v", fields)
	}
}
