package cleanupplan

import (
	"context"
	"testing"

	"github.com/reviewdeck/core/internal/cstore/memory"
)

func TestSetPlanAndUnsetPlanAreAdditiveAndSubtractive(t *testing.T) {
	store := memory.New()
	svc := New(store)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "demo", "q1-cleanup", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err = svc.SetPlan(ctx, rec.ID, []string{"hash-a", "hash-b"})
	if err != nil {
		t.Fatalf("set plan: %v", err)
	}
	if !rec.ReportHashes["hash-a"] || !rec.ReportHashes["hash-b"] {
		t.Fatalf("expected both hashes present: %#v", rec.ReportHashes)
	}

	rec, err = svc.UnsetPlan(ctx, rec.ID, []string{"hash-a"})
	if err != nil {
		t.Fatalf("unset plan: %v", err)
	}
	if rec.ReportHashes["hash-a"] {
		t.Fatalf("expected hash-a removed: %#v", rec.ReportHashes)
	}
	if !rec.ReportHashes["hash-b"] {
		t.Fatalf("expected hash-b to remain: %#v", rec.ReportHashes)
	}
}

func TestCloseAndReopenToggleClosedAt(t *testing.T) {
	store := memory.New()
	svc := New(store)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "demo", "q2-cleanup", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	closed, err := svc.Close(ctx, rec.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ClosedAt == nil {
		t.Fatalf("expected closed_at to be set")
	}

	reopened, err := svc.Reopen(ctx, rec.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.ClosedAt != nil {
		t.Fatalf("expected closed_at cleared after reopen")
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	store := memory.New()
	svc := New(store)
	if _, err := svc.Create(context.Background(), "demo", "", "", nil); err == nil {
		t.Fatalf("expected error for empty plan name")
	}
}
