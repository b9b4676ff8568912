// Package catalog holds the in-memory, concurrent mapping from storage name
// to file metadata: the runtime source of truth for which blobs exist.
package catalog

import (
	"hash/fnv"
	"sync"
)

// FileMeta describes one blob.
//
// Invariants: Expires > Created; Hash is unique across the catalog
// (duplicates are rejected at upload, not by the catalog itself); Size
// equals the on-disk byte length of the blob at its storage name.
type FileMeta struct {
	OwnerHash string
	Expires   int64
	Original  string
	Created   int64
	Hash      string
	Size      int64
}

const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	entries map[string]FileMeta
}

// Catalog is a sharded concurrent map from storage name to FileMeta, plus a
// secondary hash->storage-name index for O(1) dedup lookups. Point
// operations on distinct keys do not serialize against each other; the
// catalog is the runtime source of truth, the kv store is its persistence
// mirror.
type Catalog struct {
	shards [shardCount]*shard

	hashIdxMu sync.RWMutex
	hashIdx   map[string]string // content hash -> storage name
}

// New returns an empty Catalog.
func New() *Catalog {
	c := &Catalog{hashIdx: make(map[string]string)}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]FileMeta)}
	}
	return c
}

func (c *Catalog) shardFor(name string) *shard {
	h := fnv.New32a()
	h.Write([]byte(name))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the metadata for name, if present.
func (c *Catalog) Get(name string) (FileMeta, bool) {
	s := c.shardFor(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.entries[name]
	return meta, ok
}

// Insert inserts or replaces the entry at name. The caller is responsible
// for asserting hash uniqueness before calling Insert (spec §4.D).
func (c *Catalog) Insert(name string, meta FileMeta) {
	s := c.shardFor(name)
	s.mu.Lock()
	prior, hadPrior := s.entries[name]
	s.entries[name] = meta
	s.mu.Unlock()

	c.hashIdxMu.Lock()
	if hadPrior && prior.Hash != meta.Hash {
		delete(c.hashIdx, prior.Hash)
	}
	c.hashIdx[meta.Hash] = name
	c.hashIdxMu.Unlock()
}

// Remove deletes the entry at name and returns it, if present.
func (c *Catalog) Remove(name string) (FileMeta, bool) {
	s := c.shardFor(name)
	s.mu.Lock()
	meta, ok := s.entries[name]
	if ok {
		delete(s.entries, name)
	}
	s.mu.Unlock()

	if ok {
		c.hashIdxMu.Lock()
		if c.hashIdx[meta.Hash] == name {
			delete(c.hashIdx, meta.Hash)
		}
		c.hashIdxMu.Unlock()
	}
	return meta, ok
}

// Entry pairs a storage name with its metadata, for Iter.
type Entry struct {
	Name string
	Meta FileMeta
}

// Iter returns a point-in-time snapshot of every entry. Iteration is not
// synchronized with concurrent mutations as a whole; each visited entry
// reflects some point-in-time value (spec §4.D).
func (c *Catalog) Iter() []Entry {
	var out []Entry
	for _, s := range c.shards {
		s.mu.RLock()
		for name, meta := range s.entries {
			out = append(out, Entry{Name: name, Meta: meta})
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the number of entries across all shards.
func (c *Catalog) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// FindByHash looks up a storage name by content hash via the secondary
// index, in O(1).
func (c *Catalog) FindByHash(hash string) (string, FileMeta, bool) {
	c.hashIdxMu.RLock()
	name, ok := c.hashIdx[hash]
	c.hashIdxMu.RUnlock()
	if !ok {
		return "", FileMeta{}, false
	}
	meta, ok := c.Get(name)
	if !ok {
		return "", FileMeta{}, false
	}
	return name, meta, true
}

// FindByHashScan is the O(n) fallback spec.md §4.D allows: a linear scan
// over the live catalog, kept for parity and for tests that want to
// validate the index against ground truth.
func (c *Catalog) FindByHashScan(hash string) (string, FileMeta, bool) {
	for _, s := range c.shards {
		s.mu.RLock()
		for name, meta := range s.entries {
			if meta.Hash == hash {
				s.mu.RUnlock()
				return name, meta, true
			}
		}
		s.mu.RUnlock()
	}
	return "", FileMeta{}, false
}
