package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reviewdeck/core/internal/auth"
	"github.com/reviewdeck/core/internal/cleanupplan"
	"github.com/reviewdeck/core/internal/component"
	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/internal/cstore/memory"
	"github.com/reviewdeck/core/internal/domain/permission"
	"github.com/reviewdeck/core/internal/filterpreset"
	"github.com/reviewdeck/core/internal/notify"
	"github.com/reviewdeck/core/internal/product"
	"github.com/reviewdeck/core/internal/ratelimit"
	"github.com/reviewdeck/core/internal/task"
)

func newTestRouter(t *testing.T) (*Router, *memory.Store) {
	t.Helper()
	store := memory.New()
	authEngine := auth.New(store, auth.Config{JWTSecret: "test-secret"}, nil)
	products := product.New(store, nil)
	tasks := task.NewManager(store, task.Config{ScratchRoot: t.TempDir()}, nil)
	if err := task.RegisterBuiltins(tasks.Registry()); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	workers := task.NewWorkerPool(tasks, 1, nil)

	rt := New(
		Config{},
		store,
		authEngine,
		products,
		tasks,
		workers,
		cleanupplan.New(store),
		component.New(store),
		notify.New(store, nil),
		filterpreset.New(store),
		ratelimit.New(ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000}),
		nil,
	)
	return rt, store
}

func TestHealthzIsPublic(t *testing.T) {
	rt, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestProtectedRouteRejectsMissingBearerToken(t *testing.T) {
	rt, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReservedProductsEndpointRejectedByProductMiddleware(t *testing.T) {
	rt, store := newTestRouter(t)
	token := loginAsSuperuser(t, rt, store)

	// GET isn't registered for "/products/{endpoint}", so this
	// falls through to the product-scoped catch-all with product="products",
	// which productMiddleware must reject as the reserved endpoint name.
	req := httptest.NewRequest(http.MethodGet, "/products/cleanupplans", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for reserved endpoint, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected a JSON error body on 404")
	}
}

func TestAddProductRequiresSuperuser(t *testing.T) {
	rt, store := newTestRouter(t)
	token := loginAsPlainUser(t, rt, store, "alice")

	body, _ := json.Marshal(map[string]any{"endpoint": "demo", "display_name": "Demo"})
	req := httptest.NewRequest(http.MethodPost, "/products", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-superuser addProduct, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoginThenGetTasksRoundTrip(t *testing.T) {
	rt, store := newTestRouter(t)
	token := loginAsSuperuser(t, rt, store)

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func loginAsSuperuser(t *testing.T, rt *Router, store *memory.Store) string {
	t.Helper()
	return loginAsPlainUser(t, rt, store, "root")
}

func loginAsPlainUser(t *testing.T, rt *Router, store *memory.Store, username string) string {
	t.Helper()
	hash, err := auth.HashPassword("pw")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if _, err := store.CreateUser(context.Background(), cstore.User{Username: username, PasswordHash: hash}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if username == "root" {
		store.SetGroups(username, []string{"superusers"})
		if _, err := store.CreateGrant(context.Background(), permission.Grant{
			Permission:  permission.Superuser,
			Scope:       permission.ServerWide(),
			GranteeKind: permission.GranteeGroup,
			Grantee:     "superusers",
		}); err != nil {
			t.Fatalf("create superuser grant: %v", err)
		}
	}

	body, _ := json.Marshal(map[string]string{"username": username, "password": "pw"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp["session"]
}
