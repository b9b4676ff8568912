// Package badgerstore is an optional, higher-throughput kv.Store backend
// on top of dgraph-io/badger, for deployments that outgrow the default
// filesystem store.
package badgerstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/marmos91/juicebox/pkg/kv"
)

// Store implements kv.Store on a single *badger.DB instance. Keys are
// namespaced as "ns:field" so every namespace lives in one keyspace.
type Store struct {
	db *badger.DB
}

var _ kv.Store = (*Store)(nil)

// Config configures the badger-backed store.
type Config struct {
	// Dir is the badger data directory.
	Dir string
	// InMemory runs badger without touching disk, for tests.
	InMemory bool
}

// New opens (or creates) a badger database at cfg.Dir.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

func key(ns, field string) []byte {
	return []byte(ns + ":" + field)
}

func prefixFor(ns string) []byte {
	return []byte(ns + ":")
}

// LoadHash returns every field currently stored under ns.
func (s *Store) LoadHash(_ context.Context, ns string) ([]kv.Entry, error) {
	var out []kv.Entry
	prefix := prefixFor(ns)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			field := bytes.TrimPrefix(item.KeyCopy(nil), prefix)
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, kv.Entry{Field: string(field), Payload: payload})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore: load hash %s: %w", ns, err)
	}
	return out, nil
}

// PutField writes one field, replacing any existing value.
func (s *Store) PutField(_ context.Context, ns, field string, payload []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(ns, field), payload)
	})
	if err != nil {
		return fmt.Errorf("badgerstore: put %s/%s: %w", ns, field, err)
	}
	return nil
}

// DeleteField removes one field. Absence is not an error.
func (s *Store) DeleteField(_ context.Context, ns, field string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(ns, field))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("badgerstore: delete %s/%s: %w", ns, field, err)
	}
	return nil
}

// ReplaceHash atomically replaces the entire contents of ns in one txn.
func (s *Store) ReplaceHash(_ context.Context, ns string, entries []kv.Entry) error {
	prefix := prefixFor(ns)

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var toDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			toDelete = append(toDelete, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for _, e := range entries {
			if err := txn.Set(key(ns, e.Field), e.Payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badgerstore: replace hash %s: %w", ns, err)
	}
	return nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("badgerstore: close: %w", err)
	}
	return nil
}
