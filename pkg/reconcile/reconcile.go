// Package reconcile implements the per-owner three-way diff between a
// caller's in-memory catalog view and what the KV store durably holds for
// that owner (spec §4.J).
package reconcile

import (
	"context"

	"github.com/marmos91/juicebox/pkg/catalog"
	"github.com/marmos91/juicebox/pkg/kv"
)

// Report lists the three outcomes of a reconciliation pass. A zero-value
// Report (all three nil) means memory and the store already agreed.
type Report struct {
	Removed []string // in memory, absent from the store
	Updated []string // differs from the store
	Added   []string // in the store, not in memory
}

// Empty reports whether the report has nothing to show the caller.
func (r Report) Empty() bool {
	return len(r.Removed) == 0 && len(r.Updated) == 0 && len(r.Added) == 0
}

// Reconcile compares cat's entries for ownerHash against the owners
// namespace of store, applying any difference to cat in place and
// returning what changed. Entries belonging to other owners are read (to
// build the store-side view) but never inserted, removed, or reported.
func Reconcile(ctx context.Context, cat *catalog.Catalog, store kv.Store, ownerHash string) (Report, error) {
	entries, err := store.LoadHash(ctx, kv.NamespaceOwners)
	if err != nil {
		return Report{}, err
	}

	onDisk := make(map[string]catalog.FileMeta, len(entries))
	for _, e := range entries {
		var meta catalog.FileMeta
		if err := kv.Decode(e.Payload, &meta); err != nil {
			continue
		}
		if meta.OwnerHash == ownerHash {
			onDisk[e.Field] = meta
		}
	}

	inMemory := make(map[string]catalog.FileMeta)
	for _, e := range cat.Iter() {
		if e.Meta.OwnerHash == ownerHash {
			inMemory[e.Name] = e.Meta
		}
	}

	var report Report

	for name, memMeta := range inMemory {
		diskMeta, ok := onDisk[name]
		if !ok {
			cat.Remove(name)
			report.Removed = append(report.Removed, name)
			continue
		}
		if diskMeta.OwnerHash != memMeta.OwnerHash || diskMeta.Expires != memMeta.Expires {
			cat.Insert(name, diskMeta)
			report.Updated = append(report.Updated, name)
		}
	}

	for name, diskMeta := range onDisk {
		if _, ok := inMemory[name]; ok {
			continue
		}
		cat.Insert(name, diskMeta)
		report.Added = append(report.Added, name)
	}

	return report, nil
}
