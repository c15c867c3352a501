package task

import (
	"context"
	"errors"
)

// ErrCancelled is the well-known cancellation sentinel of spec §4.1: a task
// implementation raises it (returns it) after observing ShouldCancel, and
// the worker maps it to CANCELLED or DROPPED depending on why the server
// asked the task to stop.
var ErrCancelled = errors.New("task: cancelled")

// RunContext is the reference to TM a running task's implementation is
// given, per spec §4.4 ("a reference to TM (so the task can call heartbeat,
// should_cancel, add_comment)"). It is scoped to one token for the duration
// of one run.
type RunContext struct {
	ctx     context.Context
	token   string
	dataDir string
	mgr     *Manager
}

// Context returns the worker-provided context, cancelled on server shutdown.
func (rc *RunContext) Context() context.Context { return rc.ctx }

// Token returns the task's token.
func (rc *RunContext) Token() string { return rc.token }

// DataDir returns the task's data directory path, or "" if none was created.
func (rc *RunContext) DataDir() string { return rc.dataDir }

// Heartbeat updates last_heartbeat_at. The recommended check interval is
// every iteration of the task's outer loop (spec §5).
func (rc *RunContext) Heartbeat() error {
	return rc.mgr.Heartbeat(rc.ctx, rc.token)
}

// ShouldCancel reports whether the task should stop cooperatively: either an
// admin set cancel_requested, or the server is draining for shutdown.
func (rc *RunContext) ShouldCancel() bool {
	return rc.mgr.ShouldCancel(rc.ctx, rc.token)
}

// AddComment appends a system or actor comment to the task's record.
func (rc *RunContext) AddComment(body string) error {
	return rc.mgr.addCommentAs(rc.ctx, rc.token, "", body)
}
