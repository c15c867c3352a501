package task

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reviewdeck/core/internal/apperr"
	core "github.com/reviewdeck/core/internal/core"
	"github.com/reviewdeck/core/internal/domain/task"
	"github.com/reviewdeck/core/pkg/logger"
)

// WorkerPool is the Worker Pool (WP) of spec §4.4: a fixed set of background
// goroutines, each looping pop -> reconstruct -> run -> publish terminal
// status. Per the Open Question resolution recorded in SPEC_FULL.md §5,
// workers here are goroutines coordinated by context cancellation and a
// WaitGroup rather than forked OS processes: fault isolation comes from a
// recover()-wrapped task execution plus the CAS-guarded state machine, and
// graceful shutdown from ctx.Done() plus a bounded drain wait, matching the
// shape of the teacher's oracle dispatcher Start/Stop.
type WorkerPool struct {
	mgr   *Manager
	count int
	log   *logger.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	resolved int
	busy     atomic.Int32
}

// NewWorkerPool constructs a pool of count worker goroutines; count <= 0
// defaults to runtime.NumCPU(), per spec §4.4 ("N is configurable; default =
// CPU count").
func NewWorkerPool(mgr *Manager, count int, log *logger.Logger) *WorkerPool {
	if log == nil {
		log = logger.NewDefault("task-worker-pool")
	}
	return &WorkerPool{mgr: mgr, count: count, log: log}
}

func (wp *WorkerPool) Name() string { return "task-worker-pool" }

// Descriptor implements system.DescriptorProvider.
func (wp *WorkerPool) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "task-worker-pool",
		Domain:       "task",
		Layer:        core.LayerEngine,
		Capabilities: []string{"dispatch", "execute", "terminal-write"},
	}
}

// Start launches wp.count worker goroutines pulling from the manager's
// queue.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	if wp.running {
		wp.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	wp.cancel = cancel
	wp.running = true
	n := wp.count
	if n <= 0 {
		n = runtime.NumCPU()
	}
	wp.resolved = n
	wp.mu.Unlock()

	for i := 0; i < n; i++ {
		wp.wg.Add(1)
		go wp.loop(runCtx, i)
	}
	wp.log.WithField("workers", n).Info("task worker pool started")
	return nil
}

// Stop sets the drain flag (visible via ShouldCancel), waits up to
// T_graceful for in-flight tasks to finish, then cancels the worker
// goroutines' context, per spec §4.4's shutdown handling.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	cancel := wp.cancel
	wp.running = false
	wp.cancel = nil
	wp.mu.Unlock()

	wp.mgr.BeginDrain()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wp.wg.Wait()
	}()

	graceful := wp.mgr.cfg.TGraceful
	timer := time.NewTimer(graceful)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		wp.log.Warn("graceful drain window elapsed; forcing worker shutdown")
	case <-ctx.Done():
	}

	if cancel != nil {
		cancel()
	}
	<-done // workers observe ctx.Done() immediately and exit their current iteration.

	wp.log.Info("task worker pool stopped")
	return nil
}

func (wp *WorkerPool) loop(ctx context.Context, idx int) {
	defer wp.wg.Done()
	log := wp.log.WithField("worker", idx)
	for {
		payload, ok := wp.mgr.queue.Pop(ctx)
		if !ok {
			return
		}
		wp.busy.Add(1)
		wp.handle(ctx, payload, log)
		wp.busy.Add(-1)
	}
}

// WorkerCount reports the pool's resolved worker goroutine count: the
// configured count, or runtime.NumCPU() if it hasn't started yet and was
// configured as <= 0.
func (wp *WorkerPool) WorkerCount() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.resolved > 0 {
		return wp.resolved
	}
	if wp.count > 0 {
		return wp.count
	}
	return runtime.NumCPU()
}

// Busy reports how many workers are currently executing a task, for the
// /system/status operational endpoint.
func (wp *WorkerPool) Busy() int { return int(wp.busy.Load()) }

func (wp *WorkerPool) handle(ctx context.Context, payload []byte, log interface {
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
}) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		log.Errorf("decode task envelope: %v", err)
		return
	}

	variant, err := wp.mgr.registry.Lookup(env.Kind)
	if err != nil {
		wp.failUnstarted(ctx, env.Token, fmt.Sprintf("unknown kind_tag %q", env.Kind))
		return
	}

	// Conditional ENQUEUED -> RUNNING CAS. If another worker (or an admin
	// cancellation before start) already moved the record off ENQUEUED, the
	// payload is discarded without running and without a status write, per
	// spec §4.1's tie-break rule.
	now := time.Now().UTC()
	rec, err := wp.mgr.store.TransitionStatus(ctx, env.Token, task.Enqueued, task.Running, func(r *task.Record) {
		r.StartedAt = &now
		r.LastHeartbeat = &now
		r.OwningServerID = wp.mgr.cfg.ServerID
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.Conflict {
			return // another worker (or an admin cancel) already moved this record.
		}
		log.Warnf("start task %s: %v", env.Token, err)
		return
	}

	params, err := variant.decodeParams(env.Params)
	if err != nil {
		wp.terminal(ctx, rec.Token, task.Failed, fmt.Sprintf("unhandled: decode params: %v", err))
		return
	}

	dataDir := wp.mgr.dataDirPath(rec.Token)
	rc := &RunContext{ctx: ctx, token: rec.Token, dataDir: dataDir, mgr: wp.mgr}

	outcome, comment := wp.run(ctx, variant, rc, params)
	wp.terminal(ctx, rec.Token, outcome, comment)
}

// run invokes the task implementation, recovering from panics (fault
// isolation in place of the process-per-worker isolation spec §4.4
// describes, per the Open Question resolution).
func (wp *WorkerPool) run(ctx context.Context, variant Variant, rc *RunContext, params any) (status task.Status, comment string) {
	defer func() {
		if p := recover(); p != nil {
			status = task.Failed
			comment = fmt.Sprintf("unhandled: panic: %v", p)
		}
	}()

	err := variant.Run(ctx, rc, params)
	switch {
	case err == nil:
		return task.Completed, ""
	case errors.Is(err, ErrCancelled):
		// Tie-break of spec §4.1: the cancellation sentinel maps to
		// CANCELLED only when an admin requested it; a drain-induced
		// cancellation (no administrative cancel_requested) becomes
		// DROPPED, even though the in-task signal was identical.
		cur, getErr := wp.mgr.store.GetTask(ctx, rc.token)
		if getErr == nil && cur.CancelRequested {
			return task.Cancelled, ""
		}
		return task.Dropped, ""
	default:
		return task.Failed, fmt.Sprintf("unhandled: %v", err)
	}
}

func (wp *WorkerPool) terminal(ctx context.Context, token string, status task.Status, comment string) {
	now := time.Now().UTC()
	err := core.Retry(context.Background(), core.TransientStoragePolicy, func() error {
		_, err := wp.mgr.store.TransitionStatus(ctx, token, task.Running, status, func(r *task.Record) {
			r.FinishedAt = &now
			r.OwningServerID = ""
		})
		return err
	})
	if err != nil {
		wp.log.WithField("token", token).Warnf("persist terminal status %s: %v; reaper will reconcile", status, err)
		return
	}
	if comment != "" {
		_ = wp.mgr.addCommentAs(ctx, token, "", comment)
	}
}

func (wp *WorkerPool) failUnstarted(ctx context.Context, token, reason string) {
	// The record is still ENQUEUED (never reached RUNNING), so the terminal
	// write's expected-from is ENQUEUED here, not RUNNING.
	now := time.Now().UTC()
	_, err := wp.mgr.store.TransitionStatus(ctx, token, task.Enqueued, task.Failed, func(r *task.Record) {
		r.FinishedAt = &now
		r.OwningServerID = ""
	})
	if err == nil {
		_ = wp.mgr.addCommentAs(ctx, token, "", "unhandled: "+reason)
	}
}
