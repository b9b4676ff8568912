// Package kv defines the durable hash-of-strings store used by every other
// component that needs to survive a restart. Callers depend on the Store
// interface, not on a concrete backend.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// Namespaces partition the store by entity family.
const (
	NamespaceOwners        = "owners"
	NamespaceReports       = "reports"
	NamespaceBans          = "bans"
	NamespaceAdminSessions = "admin_sessions"
	NamespaceChunks        = "chunks"
)

// Entry is one field within a namespace's hash.
type Entry struct {
	Field   string
	Payload []byte
}

// Store is a durable hash-of-strings keyed by namespace. Implementations
// must make PutField/DeleteField atomic at the field level.
type Store interface {
	// LoadHash returns every field currently stored under ns.
	LoadHash(ctx context.Context, ns string) ([]Entry, error)
	// PutField writes one field, replacing any existing value.
	PutField(ctx context.Context, ns, field string, payload []byte) error
	// DeleteField removes one field. It is not an error if the field is
	// already absent.
	DeleteField(ctx context.Context, ns, field string) error
	// ReplaceHash replaces the entire contents of ns. Whether the
	// replacement is atomic depends on the backend.
	ReplaceHash(ctx context.Context, ns string, entries []Entry) error
	// Close releases any resources held by the store.
	Close() error
}

// envelopeVersion is the current wire-format version written by Encode.
const envelopeVersion = 1

// envelope wraps every value persisted through a Store so the schema can
// evolve without touching callers. Version 0 (no envelope at all) is
// tolerated on decode as a compatibility path.
type envelope struct {
	Version int             `json:"v"`
	Payload json.RawMessage `json:"payload"`
}

// Encode marshals v and wraps it in the current envelope.
func Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("kv: encode payload: %w", err)
	}
	env := envelope{Version: envelopeVersion, Payload: payload}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("kv: encode envelope: %w", err)
	}
	return b, nil
}

// Decode unwraps an envelope produced by Encode and unmarshals its payload
// into v. If b is not an envelope (no "v"/"payload" keys), it is treated as
// a pre-versioned bare payload for backward compatibility.
func Decode(b []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err == nil && env.Payload != nil {
		return json.Unmarshal(env.Payload, v)
	}
	return json.Unmarshal(b, v)
}
