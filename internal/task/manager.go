package task

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/core"
	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/internal/domain/task"
	"github.com/reviewdeck/core/pkg/logger"
)

// Config controls the Task Manager's timing and capacity parameters, all
// named directly after the spec.md identifiers they implement.
type Config struct {
	// ServerID names this server process; stamped as owning_server_id at
	// ENQUEUED and used to scope the reaper's own-vs-orphan distinction.
	ServerID string
	// ScratchRoot is the server-configured directory data directories are
	// created under (spec §4.6), never under a Result Store.
	ScratchRoot string
	// QueueCapacity bounds Q.
	QueueCapacity int
	// WorkerCount sizes WP; defaults to runtime.NumCPU() if zero.
	WorkerCount int
	// PushDeadline bounds how long Push blocks when Q is full before
	// failing Backpressure.
	PushDeadline time.Duration
	// TStale is the RUNNING-record silence threshold before the reaper
	// demotes an own-server task to DROPPED. Default 2 minutes.
	TStale time.Duration
	// TOrphan is the silence threshold before the reaper touches a
	// RUNNING record owned by a different server id. Default 30 minutes.
	TOrphan time.Duration
	// TGraceful bounds how long WP waits for in-flight tasks to finish on
	// shutdown before forcibly stopping workers. Default 30 seconds.
	TGraceful time.Duration
	// DataDirGrace is the grace period a terminal task's data directory
	// survives before the reaper removes it. Default 1 hour.
	DataDirGrace time.Duration
	// ReaperInterval is the sweep cadence.
	ReaperInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.ServerID == "" {
		c.ServerID = randomServerID()
	}
	if c.ScratchRoot == "" {
		c.ScratchRoot = filepath.Join(os.TempDir(), "reviewdeck-scratch")
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.PushDeadline <= 0 {
		c.PushDeadline = 5 * time.Second
	}
	if c.TStale <= 0 {
		c.TStale = 2 * time.Minute
	}
	if c.TOrphan <= 0 {
		c.TOrphan = 30 * time.Minute
	}
	if c.TGraceful <= 0 {
		c.TGraceful = 30 * time.Second
	}
	if c.DataDirGrace <= 0 {
		c.DataDirGrace = time.Hour
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 15 * time.Second
	}
}

func randomServerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "server-unknown"
	}
	return "server-" + hex.EncodeToString(buf)
}

// Manager is the Task Manager (TM): the single authority on task existence,
// status, and disposition (spec §4.1).
type Manager struct {
	store    cstore.Store
	registry *Registry
	queue    *Queue
	cfg      Config
	log      *logger.Logger
	validate *validator.Validate

	draining atomic.Bool
}

// NewManager constructs a Manager. Callers should call Registry() before
// boot completes to register every task kind's Variant.
func NewManager(store cstore.Store, cfg Config, log *logger.Logger) *Manager {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewDefault("task-manager")
	}
	return &Manager{
		store:    store,
		registry: NewRegistry(),
		queue:    NewQueue(cfg.QueueCapacity),
		cfg:      cfg,
		log:      log,
		validate: validator.New(),
	}
}

// Registry exposes the kind registry so variants can be registered at boot.
func (m *Manager) Registry() *Registry { return m.registry }

// Queue exposes Q for the worker pool and reaper to consume.
func (m *Manager) Queue() *Queue { return m.queue }

// Config returns the manager's effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// ServerID is the owning server id stamped on tasks this process enqueues.
func (m *Manager) ServerID() string { return m.cfg.ServerID }

// BeginDrain flips the in-memory drain flag; ShouldCancel starts returning
// true for every RUNNING task from this point on (spec §5).
func (m *Manager) BeginDrain() { m.draining.Store(true) }

// IsDraining reports the current drain state.
func (m *Manager) IsDraining() bool { return m.draining.Load() }

// Allocate writes a new ALLOCATED record. Fails IllegalKind if kind is not in
// the registry; authorization is enforced by DISP, not TM, per spec §4.1.
func (m *Manager) Allocate(ctx context.Context, kind, summary, actor, product string) (string, error) {
	if !m.registry.Known(kind) {
		return "", apperr.InputMalformedf("illegal task kind %q", kind)
	}
	tok, err := newToken()
	if err != nil {
		return "", apperr.Fatalf("generate task token: %v", err)
	}
	rec := task.Record{
		Token:     tok,
		Kind:      kind,
		Summary:   summary,
		Actor:     actor,
		Product:   product,
		Status:    task.Allocated,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := m.store.CreateTask(ctx, rec); err != nil {
		return "", err
	}
	return tok, nil
}

// CreateDataDir creates (idempotently) the task's private scratch directory.
// Fails NotFound if the token is unknown or already terminal.
func (m *Manager) CreateDataDir(ctx context.Context, token string) (string, error) {
	rec, err := m.store.GetTask(ctx, token)
	if err != nil {
		return "", err
	}
	if rec.Status.Terminal() {
		return "", apperr.NotFoundf("task %q is terminal, no data directory", token)
	}
	dir := m.dataDirPath(token)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", apperr.Fatalf("create data dir: %v", err)
	}
	return dir, nil
}

func (m *Manager) dataDirPath(token string) string {
	return filepath.Join(m.cfg.ScratchRoot, token)
}

// Push serializes params against the task's registered kind, enqueues the
// envelope into Q, and transitions the record ALLOCATED -> ENQUEUED,
// stamping the owning server id, per spec §4.1.
func (m *Manager) Push(ctx context.Context, token string, params any) error {
	rec, err := m.store.GetTask(ctx, token)
	if err != nil {
		return err
	}
	variant, err := m.registry.Lookup(rec.Kind)
	if err != nil {
		return err
	}
	if err := m.validate.Struct(params); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); !ok {
			return apperr.InputMalformedf("task params: %v", err)
		}
	}
	payload, err := marshalPayload(variant, token, params)
	if err != nil {
		return apperr.InputMalformedf("%v", err)
	}

	if err := m.queue.Push(ctx, payload, m.cfg.PushDeadline); err != nil {
		// Record stays ALLOCATED, per spec §4.1.
		return err
	}

	now := time.Now().UTC()
	_, err = m.store.TransitionStatus(ctx, token, task.Allocated, task.Enqueued, func(r *task.Record) {
		r.EnqueuedAt = &now
		r.OwningServerID = m.cfg.ServerID
	})
	return err
}

// Heartbeat updates last_heartbeat_at; rejected unless the record is RUNNING
// under the calling server. No-op (not an error) otherwise, since the task
// implementation has no business failing over a stale heartbeat write.
// Called only from the task's own implementation, via RunContext.Heartbeat.
func (m *Manager) Heartbeat(ctx context.Context, token string) error {
	err := m.store.UpdateHeartbeat(ctx, token, m.cfg.ServerID, time.Now().UTC())
	if err != nil && apperr.KindOf(err) == apperr.Conflict {
		return nil
	}
	return err
}

// ShouldCancel returns true iff cancel_requested is set OR the server is
// draining for shutdown (spec §4.1/§5). Property 5 of spec §8: a call on a
// non-RUNNING or terminal token returns false without side effects.
func (m *Manager) ShouldCancel(ctx context.Context, token string) bool {
	rec, err := m.store.GetTask(ctx, token)
	if err != nil || rec.Status != task.Running {
		return false
	}
	return rec.CancelRequested || m.draining.Load()
}

// addCommentAs appends a comment; actor == "" marks it system-generated.
func (m *Manager) addCommentAs(ctx context.Context, token, actor, body string) error {
	return m.store.AppendComment(ctx, token, task.Comment{
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Body:      body,
	})
}

// AddComment is the public, actor-attributed variant used by the
// addTaskComment RPC.
func (m *Manager) AddComment(ctx context.Context, token, body, actor string) error {
	if body == "" {
		return apperr.InputMalformedf("comment body must not be empty")
	}
	return m.addCommentAs(ctx, token, actor, body)
}

// Get returns a task record. Visibility (actor, product admin, superuser
// only) is enforced by DISP, per spec §4.1.
func (m *Manager) Get(ctx context.Context, token string) (task.Record, error) {
	return m.store.GetTask(ctx, token)
}

// List returns records matching filter, clamping its page size.
func (m *Manager) List(ctx context.Context, filter task.Filter) ([]task.Record, error) {
	filter.Limit = core.ClampLimit(filter.Limit, core.DefaultListLimit, core.MaxListLimit)
	return m.store.ListTasks(ctx, filter)
}

// Cancel sets cancel_requested. Has no effect on terminal tasks
// (cstore.TaskStore.SetCancelRequested already no-ops there).
func (m *Manager) Cancel(ctx context.Context, token string) error {
	return m.store.SetCancelRequested(ctx, token)
}

// Consume marks a task's terminal status as observed by a client, per the
// "consumed" field of spec §3.
func (m *Manager) Consume(ctx context.Context, token string) error {
	return m.store.SetConsumed(ctx, token)
}

func newToken() (string, error) {
	buf := make([]byte, 16) // 128-bit opaque random identifier, per spec §3.
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
