package auth

import (
	"context"
	"testing"
	"time"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/internal/cstore/memory"
	"github.com/reviewdeck/core/internal/domain/permission"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	cfg.JWTSecret = "test-secret"
	return New(store, cfg, nil), store
}

func TestLoginRejectsBadPassword(t *testing.T) {
	e, store := newTestEngine(t, Config{})
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if _, err := store.CreateUser(context.Background(), cstore.User{Username: "alice", PasswordHash: hash}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, _, err := e.Login(context.Background(), "alice", "wrong"); apperr.KindOf(err) != apperr.Unauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}

	token, sess, err := e.Login(context.Background(), "alice", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || sess.Username != "alice" {
		t.Fatalf("unexpected login result: token=%q sess=%#v", token, sess)
	}
}

func TestResolveRejectsExpiredSession(t *testing.T) {
	e, store := newTestEngine(t, Config{IdleTimeout: time.Millisecond})
	hash, _ := HashPassword("pw")
	store.CreateUser(context.Background(), cstore.User{Username: "bob", PasswordHash: hash})

	token, _, err := e.Login(context.Background(), "bob", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := e.Resolve(context.Background(), token); apperr.KindOf(err) != apperr.Unauthorized {
		t.Fatalf("expected Unauthorized for expired session, got %v", err)
	}
}

func TestResolveRefreshesIdleExpiry(t *testing.T) {
	e, store := newTestEngine(t, Config{IdleTimeout: time.Hour})
	hash, _ := HashPassword("pw")
	store.CreateUser(context.Background(), cstore.User{Username: "carol", PasswordHash: hash})

	token, sess, err := e.Login(context.Background(), "carol", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	id, err := e.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Username != "carol" {
		t.Fatalf("unexpected identity: %#v", id)
	}

	refreshed, err := store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !refreshed.ExpiresAt.After(sess.ExpiresAt) {
		t.Fatalf("expected idle expiry to be pushed out on resolve")
	}
}

func TestAnonymousModeReturnsSyntheticSuperuser(t *testing.T) {
	e, _ := newTestEngine(t, Config{AnonymousMode: true})
	id, err := e.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !id.Anonymous {
		t.Fatalf("expected anonymous identity")
	}
	ok, err := e.Check(context.Background(), id, permission.ProductAdmin, permission.ForProduct("demo"))
	if err != nil || !ok {
		t.Fatalf("expected anonymous identity to hold every permission, ok=%v err=%v", ok, err)
	}
}

func TestCheckHonorsPermissionImplicationAndGroupGrants(t *testing.T) {
	e, store := newTestEngine(t, Config{})
	store.SetGroups("dave", []string{"reviewers"})

	scope := permission.ForProduct("demo")
	if _, err := store.CreateGrant(context.Background(), permission.Grant{
		Permission: permission.ProductAdmin, Scope: scope,
		GranteeKind: permission.GranteeGroup, Grantee: "reviewers",
	}); err != nil {
		t.Fatalf("create grant: %v", err)
	}

	id := Identity{Username: "dave", Groups: []string{"reviewers"}}

	for _, want := range []permission.Name{permission.ProductAdmin, permission.ProductAccess, permission.ProductStore, permission.ProductView} {
		ok, err := e.Check(context.Background(), id, want, scope)
		if err != nil || !ok {
			t.Fatalf("expected PRODUCT_ADMIN to imply %s via group grant, ok=%v err=%v", want, ok, err)
		}
	}

	otherScope := permission.ForProduct("other")
	ok, err := e.Check(context.Background(), id, permission.ProductView, otherScope)
	if err != nil || ok {
		t.Fatalf("expected grant not to leak across product scopes, ok=%v err=%v", ok, err)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	e, store := newTestEngine(t, Config{})
	hash, _ := HashPassword("pw")
	store.CreateUser(context.Background(), cstore.User{Username: "erin", PasswordHash: hash})
	token, sess, err := e.Login(context.Background(), "erin", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := e.Logout(context.Background(), sess.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := e.Resolve(context.Background(), token); apperr.KindOf(err) != apperr.Unauthorized {
		t.Fatalf("expected Unauthorized after logout, got %v", err)
	}
}
