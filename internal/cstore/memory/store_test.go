package memory

import (
	"context"
	"testing"
	"time"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/domain/task"
)

func TestTransitionStatusCAS(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec, err := store.CreateTask(ctx, task.Record{Token: "t1", Kind: "echo", Status: task.Allocated, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	rec, err = store.TransitionStatus(ctx, rec.Token, task.Allocated, task.Enqueued, func(r *task.Record) {
		r.OwningServerID = "server-a"
	})
	if err != nil {
		t.Fatalf("allocate->enqueued: %v", err)
	}
	if rec.Status != task.Enqueued || rec.OwningServerID != "server-a" {
		t.Fatalf("unexpected record after transition: %#v", rec)
	}

	// A stale caller still expecting ALLOCATED must lose the race.
	if _, err := store.TransitionStatus(ctx, rec.Token, task.Allocated, task.Enqueued, nil); apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected Conflict on stale CAS, got %v", err)
	}
}

func TestUpdateHeartbeatRejectsWrongOwner(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.CreateTask(ctx, task.Record{Token: "t2", Status: task.Running, OwningServerID: "server-a", CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := store.UpdateHeartbeat(ctx, "t2", "server-b", time.Now().UTC()); apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected Conflict for wrong owner, got %v", err)
	}
	if err := store.UpdateHeartbeat(ctx, "t2", "server-a", time.Now().UTC()); err != nil {
		t.Fatalf("expected heartbeat to succeed for owning server: %v", err)
	}
}

func TestSetCancelRequestedNoopOnTerminal(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.CreateTask(ctx, task.Record{Token: "t3", Status: task.Completed, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := store.SetCancelRequested(ctx, "t3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := store.GetTask(ctx, "t3")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if rec.CancelRequested {
		t.Fatalf("expected cancel_requested to remain false on a terminal task")
	}
}
