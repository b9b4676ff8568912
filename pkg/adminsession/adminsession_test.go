package adminsession

import (
	"context"
	"testing"

	"github.com/marmos91/juicebox/pkg/kv/fsstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := fsstore.New(fsstore.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return New(store)
}

func TestVerifyKeyMatches(t *testing.T) {
	if !VerifyKey("secret", "secret") {
		t.Fatal("expected matching keys to verify")
	}
}

func TestVerifyKeyRejectsMismatch(t *testing.T) {
	if VerifyKey("wrong", "secret") {
		t.Fatal("expected mismatched keys to fail")
	}
}

func TestVerifyKeyRejectsEmptyConfigured(t *testing.T) {
	if VerifyKey("anything", "") {
		t.Fatal("expected an unconfigured admin key to never verify")
	}
}

func TestCreateThenIsAdmin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Create(ctx, "tok-1", 1000)

	if !s.IsAdmin("tok-1", 1000) {
		t.Fatal("expected freshly created token to be admin")
	}
	if s.IsAdmin("tok-1", 1000+TTL+1) {
		t.Fatal("expected token to expire after TTL")
	}
	if s.IsAdmin("unknown", 1000) {
		t.Fatal("expected unknown token to not be admin")
	}
}

func TestIsAdminRejectsEmptyToken(t *testing.T) {
	s := newTestStore(t)
	if s.IsAdmin("", 1000) {
		t.Fatal("expected empty token to never be admin")
	}
}

func TestRevokeRemovesSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Create(ctx, "tok-2", 1000)
	s.Revoke(ctx, "tok-2")
	if s.IsAdmin("tok-2", 1000) {
		t.Fatal("expected revoked token to no longer be admin")
	}
}

func TestLoadFromStoreRestoresSessions(t *testing.T) {
	ctx := context.Background()
	store, err := fsstore.New(fsstore.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	s := New(store)
	s.Create(ctx, "tok-3", 1000)

	reloaded := New(store)
	if err := reloaded.LoadFromStore(ctx); err != nil {
		t.Fatal(err)
	}
	if !reloaded.IsAdmin("tok-3", 1000) {
		t.Fatal("expected reloaded store to recognize the persisted token")
	}
}
