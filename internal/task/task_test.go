package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reviewdeck/core/internal/cstore/memory"
	domaintask "github.com/reviewdeck/core/internal/domain/task"
	"github.com/reviewdeck/core/internal/task"
)

func newTestManager(t *testing.T, cfg task.Config) *task.Manager {
	t.Helper()
	cfg.ScratchRoot = t.TempDir()
	if cfg.ServerID == "" {
		cfg.ServerID = "test-server"
	}
	mgr := task.NewManager(memory.New(), cfg, nil)
	require.NoError(t, task.RegisterBuiltins(mgr.Registry()))
	return mgr
}

func startPool(t *testing.T, mgr *task.Manager, workers int) (*task.WorkerPool, func()) {
	t.Helper()
	wp := task.NewWorkerPool(mgr, workers, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, wp.Start(ctx))
	return wp, func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = wp.Stop(stopCtx)
		cancel()
	}
}

func awaitTerminal(t *testing.T, mgr *task.Manager, token string, within time.Duration) domaintask.Record {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		rec, err := mgr.Get(context.Background(), token)
		require.NoError(t, err)
		if rec.Status.Terminal() {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal status within %s", token, within)
	return domaintask.Record{}
}

// S1: happy path.
func TestHappyPathCompletes(t *testing.T) {
	mgr := newTestManager(t, task.Config{})
	_, stop := startPool(t, mgr, 2)
	defer stop()

	ctx := context.Background()
	tok, err := mgr.Allocate(ctx, "echo", "demo", "alice", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Push(ctx, tok, &task.EchoParams{DelayMS: 50}))

	rec := awaitTerminal(t, mgr, tok, 500*time.Millisecond)
	require.Equal(t, domaintask.Completed, rec.Status)
	require.Empty(t, rec.OwningServerID)
}

// S2: administrative cancellation is honored and distinguished from DROPPED.
func TestCancellationHonored(t *testing.T) {
	mgr := newTestManager(t, task.Config{})
	_, stop := startPool(t, mgr, 2)
	defer stop()

	ctx := context.Background()
	tok, err := mgr.Allocate(ctx, "loop", "cancel-me", "alice", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Push(ctx, tok, &task.LoopParams{StepMS: 10, TotalMS: 10000}))

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, mgr.Cancel(ctx, tok))

	rec := awaitTerminal(t, mgr, tok, 500*time.Millisecond)
	require.Equal(t, domaintask.Cancelled, rec.Status)
}

// S3: shutdown drain drops a cooperating task, not CANCELLED.
func TestShutdownDropsRunningTask(t *testing.T) {
	mgr := newTestManager(t, task.Config{TGraceful: 500 * time.Millisecond})
	wp := task.NewWorkerPool(mgr, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, wp.Start(ctx))
	defer cancel()

	tok, err := mgr.Allocate(context.Background(), "loop", "drain-me", "alice", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Push(context.Background(), tok, &task.LoopParams{StepMS: 10, TotalMS: 10000}))

	time.Sleep(100 * time.Millisecond)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, wp.Stop(stopCtx))

	rec := awaitTerminal(t, mgr, tok, 500*time.Millisecond)
	require.Equal(t, domaintask.Dropped, rec.Status)
}

// Same drain-induced DROPPED outcome as TestShutdownDropsRunningTask, but for
// the "echo" kind: its ctx.Done() case must also surface ErrCancelled (and
// not a bare context.Canceled) to hit the tie-break rule in worker.go's run().
func TestShutdownDropsRunningEchoTask(t *testing.T) {
	mgr := newTestManager(t, task.Config{TGraceful: 500 * time.Millisecond})
	wp := task.NewWorkerPool(mgr, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, wp.Start(ctx))
	defer cancel()

	tok, err := mgr.Allocate(context.Background(), "echo", "drain-me-echo", "alice", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Push(context.Background(), tok, &task.EchoParams{DelayMS: 10000}))

	time.Sleep(100 * time.Millisecond)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, wp.Stop(stopCtx))

	rec := awaitTerminal(t, mgr, tok, 500*time.Millisecond)
	require.Equal(t, domaintask.Dropped, rec.Status)
}

// S4: a panicking implementation becomes FAILED with a system comment.
func TestCrashDuringExecutionFails(t *testing.T) {
	mgr := newTestManager(t, task.Config{})
	require.NoError(t, mgr.Registry().Register(task.Variant{
		Kind:      "boom",
		NewParams: func() any { return &struct{}{} },
		Run: func(ctx context.Context, rc *task.RunContext, params any) error {
			panic("kaboom")
		},
	}))
	_, stop := startPool(t, mgr, 1)
	defer stop()

	ctx := context.Background()
	tok, err := mgr.Allocate(ctx, "boom", "crash", "alice", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Push(ctx, tok, struct{}{}))

	rec := awaitTerminal(t, mgr, tok, 500*time.Millisecond)
	require.Equal(t, domaintask.Failed, rec.Status)
	require.NotEmpty(t, rec.Comments)
	require.Contains(t, rec.Comments[0].Body, "unhandled:")
}

// S5: a silent RUNNING record is demoted by the reaper within one tick.
func TestReaperDemotesSilentRunning(t *testing.T) {
	mgr := newTestManager(t, task.Config{TStale: 50 * time.Millisecond, ReaperInterval: 100 * time.Millisecond})
	require.NoError(t, mgr.Registry().Register(task.Variant{
		Kind:      "hang",
		NewParams: func() any { return &struct{}{} },
		Run: func(ctx context.Context, rc *task.RunContext, params any) error {
			<-ctx.Done() // blocks without heartbeating until forcibly cancelled.
			return ctx.Err()
		},
	}))
	wp := task.NewWorkerPool(mgr, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, wp.Start(ctx))
	defer cancel()

	reaper := task.NewReaper(mgr, nil)
	require.NoError(t, reaper.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = reaper.Stop(stopCtx)
	}()

	tok, err := mgr.Allocate(context.Background(), "hang", "hang-forever", "alice", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Push(context.Background(), tok, struct{}{}))

	rec := awaitTerminal(t, mgr, tok, 2*time.Second)
	require.Equal(t, domaintask.Dropped, rec.Status)
	require.Empty(t, rec.OwningServerID)
}

// S6-adjacent: allocate with no push leaves the record ALLOCATED until the
// reaper drops it on the next sweep (spec §8's restart round-trip law).
func TestAllocateWithoutPushIsEventuallyDropped(t *testing.T) {
	mgr := newTestManager(t, task.Config{TStale: 50 * time.Millisecond, ReaperInterval: 100 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tok, err := mgr.Allocate(context.Background(), "echo", "never pushed", "alice", "")
	require.NoError(t, err)

	reaper := task.NewReaper(mgr, nil)
	require.NoError(t, reaper.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = reaper.Stop(stopCtx)
	}()

	rec := awaitTerminal(t, mgr, tok, 2*time.Second)
	require.Equal(t, domaintask.Dropped, rec.Status)
}

func TestShouldCancelFalseOnNonRunningToken(t *testing.T) {
	mgr := newTestManager(t, task.Config{})
	tok, err := mgr.Allocate(context.Background(), "echo", "idle", "alice", "")
	require.NoError(t, err)

	// Record is ALLOCATED, not RUNNING: spec §8 property 5.
	require.False(t, mgr.ShouldCancel(context.Background(), tok))
}

func TestAllocateRejectsUnknownKind(t *testing.T) {
	mgr := newTestManager(t, task.Config{})
	_, err := mgr.Allocate(context.Background(), "not-a-kind", "", "", "")
	require.Error(t, err)
}

func TestQueueBackpressure(t *testing.T) {
	q := task.NewQueue(1)
	require.NoError(t, q.Push(context.Background(), []byte("a"), 0))
	err := q.Push(context.Background(), []byte("b"), 10*time.Millisecond)
	require.Error(t, err)
}

func TestAddCommentIsAdditive(t *testing.T) {
	mgr := newTestManager(t, task.Config{})
	ctx := context.Background()
	tok, err := mgr.Allocate(ctx, "echo", "", "alice", "")
	require.NoError(t, err)

	require.NoError(t, mgr.AddComment(ctx, tok, "first", "alice"))
	require.NoError(t, mgr.AddComment(ctx, tok, "second", "bob"))

	rec, err := mgr.Get(ctx, tok)
	require.NoError(t, err)
	require.Len(t, rec.Comments, 2)
	require.Equal(t, "first", rec.Comments[0].Body)
	require.Equal(t, "second", rec.Comments[1].Body)
}
