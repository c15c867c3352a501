package product

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/cstore/memory"
	"github.com/reviewdeck/core/internal/domain/product"
)

func TestAddMountsSQLiteAndMarksOK(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "demo.sqlite")
	reg := New(memory.New(), nil)

	h, err := reg.Add(context.Background(), product.Record{
		Endpoint:    "demo",
		DisplayName: "Demo",
		Conn:        product.ConnSpec{Kind: product.ConnSQLite, SQLitePath: dbPath},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if h.Record().Schema != product.StatusOK {
		t.Fatalf("expected schema ok, got %v", h.Record().Schema)
	}

	got, err := reg.Get("demo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Endpoint() != "demo" {
		t.Fatalf("unexpected endpoint %q", got.Endpoint())
	}
}

func TestAddRejectsReservedEndpoint(t *testing.T) {
	reg := New(memory.New(), nil)
	_, err := reg.Add(context.Background(), product.Record{Endpoint: "products"})
	if apperr.KindOf(err) != apperr.InputMalformed {
		t.Fatalf("expected InputMalformed, got %v", err)
	}
}

// TestRemovePreservesUnderlyingResultStore asserts spec §8 property 6: after
// removal the C-STORE row is gone but the underlying SQLite file is
// byte-identical to before removal.
func TestRemovePreservesUnderlyingResultStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "demo.sqlite")
	reg := New(memory.New(), nil)

	if _, err := reg.Add(context.Background(), product.Record{
		Endpoint: "demo",
		Conn:     product.ConnSpec{Kind: product.ConnSQLite, SQLitePath: dbPath},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	before, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatalf("read sqlite file before removal: %v", err)
	}
	sumBefore := sha256.Sum256(before)

	if err := reg.Remove(context.Background(), "demo", time.Second); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := reg.Get("demo"); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound after removal, got %v", err)
	}

	after, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatalf("read sqlite file after removal: %v", err)
	}
	sumAfter := sha256.Sum256(after)
	if sumBefore != sumAfter {
		t.Fatalf("result store contents changed across removal")
	}
}

func TestRemoveWaitsForOutstandingReferences(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "demo.sqlite")
	reg := New(memory.New(), nil)

	h, err := reg.Add(context.Background(), product.Record{
		Endpoint: "demo",
		Conn:     product.ConnSpec{Kind: product.ConnSQLite, SQLitePath: dbPath},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := h.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		h.Release()
		close(released)
	}()

	start := time.Now()
	if err := reg.Remove(context.Background(), "demo", time.Second); err != nil {
		t.Fatalf("remove: %v", err)
	}
	<-released
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("remove returned before outstanding reference was released")
	}
}

func TestRemoveUnknownEndpointIsNotFound(t *testing.T) {
	reg := New(memory.New(), nil)
	if err := reg.Remove(context.Background(), "missing", time.Second); apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
