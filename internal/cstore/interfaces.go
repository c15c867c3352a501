// Package cstore defines the Configuration Store: the single process-wide
// persistent store holding product definitions, permission grants, named
// authorization sessions, task records, notifications, filter presets and
// component definitions. It is a thin interface layer; see memory and postgres
// for the two implementations.
package cstore

import (
	"context"
	"time"

	"github.com/reviewdeck/core/internal/domain/cleanupplan"
	"github.com/reviewdeck/core/internal/domain/permission"
	"github.com/reviewdeck/core/internal/domain/product"
	"github.com/reviewdeck/core/internal/domain/task"
)

// ProductStore persists Product rows.
type ProductStore interface {
	CreateProduct(ctx context.Context, p product.Record) (product.Record, error)
	UpdateProduct(ctx context.Context, p product.Record) (product.Record, error)
	GetProduct(ctx context.Context, endpoint string) (product.Record, error)
	ListProducts(ctx context.Context) ([]product.Record, error)
	DeleteProduct(ctx context.Context, endpoint string) error
}

// PermissionStore persists Permission Grant rows.
type PermissionStore interface {
	CreateGrant(ctx context.Context, g permission.Grant) (permission.Grant, error)
	DeleteGrant(ctx context.Context, id string) error
	ListGrantsForGrantee(ctx context.Context, kind permission.GranteeKind, grantee string) ([]permission.Grant, error)
	ListGrantsForScope(ctx context.Context, scope permission.Scope) ([]permission.Grant, error)
}

// Session is a row in the sessions table: an authorization session carrying a
// username and its validity window.
type Session struct {
	ID         string
	Username   string
	IssuedAt   time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
}

// SessionStore persists authorization sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	TouchSession(ctx context.Context, id string, lastUsedAt, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
}

// Group membership rows backing the "grants to any of the user's groups" half
// of permission evaluation (spec §3).
type GroupStore interface {
	GroupsForUser(ctx context.Context, username string) ([]string, error)
}

// User is a row in the users table: a login identity with a bcrypt password
// hash. Not named in spec §6.3's table list (it is folded into "sessions" in
// the distillation) but required to implement login() at all.
type User struct {
	Username     string
	PasswordHash string
}

type UserStore interface {
	GetUser(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)
}

// TaskStore persists Task Records. Status transitions go through
// TransitionStatus, which performs the compare-and-swap described in spec §4.1:
// the write only applies if the stored status still equals expectFrom.
type TaskStore interface {
	CreateTask(ctx context.Context, r task.Record) (task.Record, error)
	GetTask(ctx context.Context, token string) (task.Record, error)
	ListTasks(ctx context.Context, f task.Filter) ([]task.Record, error)

	// TransitionStatus performs expectFrom -> to iff the stored status still
	// equals expectFrom, applying mutate to the record's other fields within the
	// same write. Returns apperr.Conflict if the precondition fails, NotFound if
	// the token is unknown.
	TransitionStatus(ctx context.Context, token string, expectFrom, to task.Status, mutate func(*task.Record)) (task.Record, error)

	// SetCancelRequested sets cancel_requested; has no effect (but no error) on
	// unknown or terminal tokens, mirroring the "no effect on terminal tasks"
	// rule of TM.cancel.
	SetCancelRequested(ctx context.Context, token string) error

	// UpdateHeartbeat updates last_heartbeat_at iff the record is RUNNING under
	// owningServerID. Returns apperr.Conflict otherwise.
	UpdateHeartbeat(ctx context.Context, token, owningServerID string, at time.Time) error

	AppendComment(ctx context.Context, token string, c task.Comment) error
	SetConsumed(ctx context.Context, token string) error

	// ListStaleRunning returns RUNNING records whose last heartbeat predates
	// 'before' and whose owning server id is ownServerID (or, when
	// includeOrphans is true, whatever the owning server id is), feeding the
	// reaper sweep of spec §4.1.
	ListStaleRunning(ctx context.Context, before time.Time, ownServerID string, includeOrphans bool) ([]task.Record, error)

	// ListOrphanedAllocated returns ALLOCATED records older than 'before' whose
	// owner never pushed them.
	ListOrphanedAllocated(ctx context.Context, before time.Time) ([]task.Record, error)
}

// CleanupPlanStore persists Cleanup Plans, scoped per product.
type CleanupPlanStore interface {
	CreatePlan(ctx context.Context, p cleanupplan.Record) (cleanupplan.Record, error)
	UpdatePlan(ctx context.Context, p cleanupplan.Record) (cleanupplan.Record, error)
	GetPlan(ctx context.Context, id string) (cleanupplan.Record, error)
	ListPlans(ctx context.Context, product string) ([]cleanupplan.Record, error)
	DeletePlan(ctx context.Context, id string) error
}

// Notification is a row in the notifications table (§3.1 supplement).
type Notification struct {
	ID        string
	Username  string
	Body      string
	CreatedAt time.Time
	ReadAt    *time.Time
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) (Notification, error)
	ListNotifications(ctx context.Context, username string, unreadOnly bool) ([]Notification, error)
	MarkRead(ctx context.Context, ids []string, username string) error
}

// FilterPreset is a row in the filter_presets table (§3.1 supplement).
type FilterPreset struct {
	ID       string
	Username string
	Name     string
	Body     string // JSON-encoded filter body
}

type FilterPresetStore interface {
	SaveFilterPreset(ctx context.Context, p FilterPreset) (FilterPreset, error)
	ListFilterPresets(ctx context.Context, username string) ([]FilterPreset, error)
	DeleteFilterPresets(ctx context.Context, ids []string, username string) error
}

// SourceComponent is a row in the source_components table (§3.1 supplement).
type SourceComponent struct {
	ID      string
	Product string
	Name    string
	Globs   []string
}

type SourceComponentStore interface {
	AddComponent(ctx context.Context, c SourceComponent) (SourceComponent, error)
	EditComponent(ctx context.Context, c SourceComponent) (SourceComponent, error)
	ListComponents(ctx context.Context, product string) ([]SourceComponent, error)
	DeleteComponent(ctx context.Context, id string) error
}

// Store aggregates every C-STORE capability behind one handle, as the teacher's
// storage.Store aggregate does for its own per-domain interfaces.
type Store interface {
	ProductStore
	PermissionStore
	SessionStore
	GroupStore
	UserStore
	TaskStore
	CleanupPlanStore
	NotificationStore
	FilterPresetStore
	SourceComponentStore
}
