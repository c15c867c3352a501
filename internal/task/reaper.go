package task

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reviewdeck/core/internal/apperr"
	core "github.com/reviewdeck/core/internal/core"
	"github.com/reviewdeck/core/internal/domain/task"
	"github.com/reviewdeck/core/pkg/logger"
)

// Reaper is the Heartbeat/Reaper (HR) of spec §4.1/§4.6: a periodic sweep
// that demotes long-silent RUNNING records to DROPPED and ages out stale
// data directories. Scheduling uses robfig/cron's "@every" spec, a direct
// fit for "runs on a configurable interval" (spec §4.1) in place of a
// hand-rolled ticker.
type Reaper struct {
	mgr *Manager
	log *logger.Logger

	cr      *cron.Cron
	entryID cron.EntryID
}

// NewReaper constructs a Reaper bound to mgr's configured interval/T_stale/
// T_orphan/DataDirGrace.
func NewReaper(mgr *Manager, log *logger.Logger) *Reaper {
	if log == nil {
		log = logger.NewDefault("task-reaper")
	}
	return &Reaper{mgr: mgr, log: log}
}

func (r *Reaper) Name() string { return "task-reaper" }

func (r *Reaper) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "task-reaper",
		Domain:       "task",
		Layer:        core.LayerEngine,
		Capabilities: []string{"sweep", "demote", "gc-data-dirs"},
	}
}

// Start schedules the sweep at the configured interval and runs one
// immediate pass so a just-restarted server doesn't wait a full interval to
// reconcile tasks orphaned by the previous process, per spec §8's "allocate
// followed by no push, then the server restarts: the task becomes DROPPED
// within one reaper cycle" round-trip law.
func (r *Reaper) Start(ctx context.Context) error {
	r.cr = cron.New()
	spec := "@every " + r.mgr.cfg.ReaperInterval.String()
	id, err := r.cr.AddFunc(spec, func() { r.sweep(context.Background()) })
	if err != nil {
		return err
	}
	r.entryID = id
	r.cr.Start()
	r.sweep(ctx)
	r.log.WithField("interval", r.mgr.cfg.ReaperInterval).Info("task reaper started")
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight sweep to finish.
func (r *Reaper) Stop(ctx context.Context) error {
	if r.cr == nil {
		return nil
	}
	stopCtx := r.cr.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	r.log.Info("task reaper stopped")
	return nil
}

// sweep is one reaper pass: demote stale RUNNING records, drop
// never-pushed ALLOCATED records, and remove expired data directories.
func (r *Reaper) sweep(ctx context.Context) {
	r.demoteOwnStale(ctx)
	r.demoteOrphans(ctx)
	r.dropUnpushedAllocated(ctx)
	r.gcDataDirs(ctx)
}

// demoteOwnStale handles RUNNING records owned by this server whose last
// heartbeat predates T_stale.
func (r *Reaper) demoteOwnStale(ctx context.Context) {
	before := time.Now().UTC().Add(-r.mgr.cfg.TStale)
	recs, err := r.mgr.store.ListStaleRunning(ctx, before, r.mgr.cfg.ServerID, false)
	if err != nil {
		r.log.Warnf("list stale running (own): %v", err)
		return
	}
	for _, rec := range recs {
		r.demote(ctx, rec.Token)
	}
}

// demoteOrphans handles RUNNING records owned by a different server id,
// touched only past T_orphan to accommodate clustered deployments.
func (r *Reaper) demoteOrphans(ctx context.Context) {
	before := time.Now().UTC().Add(-r.mgr.cfg.TOrphan)
	recs, err := r.mgr.store.ListStaleRunning(ctx, before, r.mgr.cfg.ServerID, true)
	if err != nil {
		r.log.Warnf("list stale running (orphans): %v", err)
		return
	}
	for _, rec := range recs {
		if rec.OwningServerID == r.mgr.cfg.ServerID {
			continue // already handled by demoteOwnStale at the tighter T_stale bound.
		}
		r.demote(ctx, rec.Token)
	}
}

func (r *Reaper) demote(ctx context.Context, token string) {
	now := time.Now().UTC()
	_, err := r.mgr.store.TransitionStatus(ctx, token, task.Running, task.Dropped, func(rec *task.Record) {
		rec.FinishedAt = &now
		rec.OwningServerID = ""
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.Conflict {
			return // already terminal by the time we got here.
		}
		r.log.WithField("token", token).Warnf("demote stale running task: %v", err)
		return
	}
	_ = r.mgr.addCommentAs(ctx, token, "", "unhandled: reaper demoted silent RUNNING task to DROPPED")
}

// dropUnpushedAllocated handles ALLOCATED records whose owner never pushed
// them at all.
func (r *Reaper) dropUnpushedAllocated(ctx context.Context) {
	before := time.Now().UTC().Add(-r.mgr.cfg.TStale)
	recs, err := r.mgr.store.ListOrphanedAllocated(ctx, before)
	if err != nil {
		r.log.Warnf("list orphaned allocated: %v", err)
		return
	}
	now := time.Now().UTC()
	for _, rec := range recs {
		_, err := r.mgr.store.TransitionStatus(ctx, rec.Token, task.Allocated, task.Dropped, func(r *task.Record) {
			r.FinishedAt = &now
		})
		if err != nil && apperr.KindOf(err) != apperr.Conflict {
			r.log.WithField("token", rec.Token).Warnf("drop unpushed allocated task: %v", err)
		}
	}
}

// gcDataDirs removes scratch directories for tasks that are terminal and
// past their grace period, per spec §4.6.
func (r *Reaper) gcDataDirs(ctx context.Context) {
	entries, err := os.ReadDir(r.mgr.cfg.ScratchRoot)
	if err != nil {
		return // scratch root may not exist yet; nothing to collect.
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		token := entry.Name()
		rec, err := r.mgr.store.GetTask(ctx, token)
		if err != nil {
			// Task record is gone entirely; the directory is orphaned.
			_ = os.RemoveAll(r.mgr.dataDirPath(token))
			continue
		}
		if !rec.Status.Terminal() {
			continue
		}
		if rec.FinishedAt == nil {
			continue
		}
		if time.Since(*rec.FinishedAt) < r.mgr.cfg.DataDirGrace {
			continue
		}
		_ = os.RemoveAll(r.mgr.dataDirPath(token))
	}
}
