// Package adminsession implements the admin token store and constant-time
// admin key comparison (spec §4.L).
package adminsession

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"

	"github.com/marmos91/juicebox/internal/logger"
	"github.com/marmos91/juicebox/pkg/kv"
)

// TTL is how long a token remains valid after creation.
const TTL = 24 * 3600 // seconds, matching the original's ADMIN_SESSION_TTL

type sessionRecord struct {
	Expires int64
}

// Store is a token → expiry map, persisted to the KV store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]int64
	store    kv.Store
}

// New returns an empty Store backed by kvStore.
func New(kvStore kv.Store) *Store {
	return &Store{sessions: make(map[string]int64), store: kvStore}
}

// LoadFromStore repopulates sessions from the KV store at startup.
func (s *Store) LoadFromStore(ctx context.Context) error {
	entries, err := s.store.LoadHash(ctx, kv.NamespaceAdminSessions)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		var rec sessionRecord
		if err := kv.Decode(e.Payload, &rec); err != nil {
			logger.Warn("adminsession: failed to decode session", logger.Field(e.Field), logger.Err(err))
			continue
		}
		s.sessions[e.Field] = rec.Expires
	}
	return nil
}

// NewToken generates a fresh random session token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Create inserts token with an expiry of now+TTL and persists it.
func (s *Store) Create(ctx context.Context, token string, now int64) {
	expires := now + TTL
	s.mu.Lock()
	s.sessions[token] = expires
	s.mu.Unlock()

	payload, err := kv.Encode(sessionRecord{Expires: expires})
	if err != nil {
		logger.Warn("adminsession: failed to encode session", logger.Err(err))
		return
	}
	if err := s.store.PutField(ctx, kv.NamespaceAdminSessions, token, payload); err != nil {
		logger.Warn("adminsession: failed to persist session", logger.Err(err))
	}
}

// IsAdmin reports whether token is present and unexpired.
func (s *Store) IsAdmin(token string, now int64) bool {
	if token == "" {
		return false
	}
	s.mu.RLock()
	expires, ok := s.sessions[token]
	s.mu.RUnlock()
	return ok && expires > now
}

// Revoke removes token, e.g. on logout.
func (s *Store) Revoke(ctx context.Context, token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	if err := s.store.DeleteField(ctx, kv.NamespaceAdminSessions, token); err != nil {
		logger.Warn("adminsession: failed to delete session", logger.Err(err))
	}
}

// VerifyKey reports whether submitted matches the configured admin key
// using constant-time comparison, so a timing side channel never leaks how
// many leading bytes of an attempted key are correct.
func VerifyKey(submitted, configured string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(configured)) == 1
}
