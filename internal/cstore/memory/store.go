// Package memory implements cstore.Store in process memory, guarded by a single
// RWMutex. It is the default store used when no DSN is configured, and backs the
// C-STORE unit tests for every component above it (TM, AUTH, P-REG).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/internal/domain/cleanupplan"
	"github.com/reviewdeck/core/internal/domain/permission"
	"github.com/reviewdeck/core/internal/domain/product"
	"github.com/reviewdeck/core/internal/domain/task"
)

// Store is a thread-safe in-memory implementation of cstore.Store.
type Store struct {
	mu sync.RWMutex

	products map[string]product.Record
	grants   map[string]permission.Grant
	sessions map[string]cstore.Session
	groups   map[string][]string // username -> group names
	users    map[string]cstore.User
	tasks    map[string]task.Record
	plans    map[string]cleanupplan.Record
	notes    map[string]cstore.Notification
	presets  map[string]cstore.FilterPreset
	comps    map[string]cstore.SourceComponent
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		products: make(map[string]product.Record),
		grants:   make(map[string]permission.Grant),
		sessions: make(map[string]cstore.Session),
		groups:   make(map[string][]string),
		users:    make(map[string]cstore.User),
		tasks:    make(map[string]task.Record),
		plans:    make(map[string]cleanupplan.Record),
		notes:    make(map[string]cstore.Notification),
		presets:  make(map[string]cstore.FilterPreset),
		comps:    make(map[string]cstore.SourceComponent),
	}
}

var _ cstore.Store = (*Store)(nil)

func newID() string { return uuid.NewString() }

// --- ProductStore -----------------------------------------------------------

func (s *Store) CreateProduct(_ context.Context, p product.Record) (product.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.products[p.Endpoint]; exists {
		return product.Record{}, apperr.Conflictf("product %q already exists", p.Endpoint)
	}
	if p.Schema == "" {
		p.Schema = product.StatusDisconnected
	}
	s.products[p.Endpoint] = p
	return p, nil
}

func (s *Store) UpdateProduct(_ context.Context, p product.Record) (product.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.products[p.Endpoint]; !exists {
		return product.Record{}, apperr.NotFoundf("product %q not found", p.Endpoint)
	}
	s.products[p.Endpoint] = p
	return p, nil
}

func (s *Store) GetProduct(_ context.Context, endpoint string) (product.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[endpoint]
	if !ok {
		return product.Record{}, apperr.NotFoundf("product %q not found", endpoint)
	}
	return p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]product.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]product.Record, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (s *Store) DeleteProduct(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.products[endpoint]; !exists {
		return apperr.NotFoundf("product %q not found", endpoint)
	}
	delete(s.products, endpoint)
	return nil
}

// --- PermissionStore ----------------------------------------------------------

func (s *Store) CreateGrant(_ context.Context, g permission.Grant) (permission.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = newID()
	}
	s.grants[g.ID] = g
	return g, nil
}

func (s *Store) DeleteGrant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[id]; !ok {
		return apperr.NotFoundf("grant %q not found", id)
	}
	delete(s.grants, id)
	return nil
}

func (s *Store) ListGrantsForGrantee(_ context.Context, kind permission.GranteeKind, grantee string) ([]permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []permission.Grant
	for _, g := range s.grants {
		if g.GranteeKind == kind && g.Grantee == grantee {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Store) ListGrantsForScope(_ context.Context, scope permission.Scope) ([]permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []permission.Grant
	for _, g := range s.grants {
		if g.Scope == scope {
			out = append(out, g)
		}
	}
	return out, nil
}

// --- SessionStore --------------------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess cstore.Session) (cstore.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = newID()
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) GetSession(_ context.Context, id string) (cstore.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return cstore.Session{}, apperr.NotFoundf("session %q not found", id)
	}
	return sess, nil
}

func (s *Store) TouchSession(_ context.Context, id string, lastUsedAt, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return apperr.NotFoundf("session %q not found", id)
	}
	sess.LastUsedAt = lastUsedAt
	sess.ExpiresAt = expiresAt
	s.sessions[id] = sess
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// --- GroupStore ----------------------------------------------------------------

func (s *Store) GroupsForUser(_ context.Context, username string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]string(nil), s.groups[username]...)
	return out, nil
}

// SetGroups is a test/admin convenience absent from the interface; used by
// fixtures to seed group membership.
func (s *Store) SetGroups(username string, groups []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[username] = append([]string(nil), groups...)
}

// --- UserStore -------------------------------------------------------------------

func (s *Store) GetUser(_ context.Context, username string) (cstore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return cstore.User{}, apperr.NotFoundf("user %q not found", username)
	}
	return u, nil
}

func (s *Store) CreateUser(_ context.Context, u cstore.User) (cstore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Username]; exists {
		return cstore.User{}, apperr.Conflictf("user %q already exists", u.Username)
	}
	s.users[u.Username] = u
	return u, nil
}

// --- TaskStore -------------------------------------------------------------------

func (s *Store) CreateTask(_ context.Context, r task.Record) (task.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[r.Token]; exists {
		return task.Record{}, apperr.Conflictf("task %q already exists", r.Token)
	}
	s.tasks[r.Token] = r
	return r, nil
}

func (s *Store) GetTask(_ context.Context, token string) (task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.tasks[token]
	if !ok {
		return task.Record{}, apperr.NotFoundf("task %q not found", token)
	}
	return r, nil
}

func (s *Store) ListTasks(_ context.Context, f task.Filter) ([]task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statusSet := make(map[task.Status]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		statusSet[st] = true
	}

	var out []task.Record
	for _, r := range s.tasks {
		if len(statusSet) > 0 && !statusSet[r.Status] {
			continue
		}
		if f.Kind != "" && r.Kind != f.Kind {
			continue
		}
		if f.Product != "" && r.Product != f.Product {
			continue
		}
		if f.Actor != "" && r.Actor != f.Actor {
			continue
		}
		if f.Since != nil && r.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && r.CreatedAt.After(*f.Until) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	offset := f.Offset
	if offset < 0 || offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) TransitionStatus(_ context.Context, token string, expectFrom, to task.Status, mutate func(*task.Record)) (task.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[token]
	if !ok {
		return task.Record{}, apperr.NotFoundf("task %q not found", token)
	}
	if r.Status != expectFrom {
		return task.Record{}, apperr.Conflictf("task %q expected status %s, found %s", token, expectFrom, r.Status)
	}
	r.Status = to
	if mutate != nil {
		mutate(&r)
	}
	s.tasks[token] = r
	return r, nil
}

func (s *Store) SetCancelRequested(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[token]
	if !ok {
		return nil
	}
	if r.Status.Terminal() {
		return nil
	}
	r.CancelRequested = true
	s.tasks[token] = r
	return nil
}

func (s *Store) UpdateHeartbeat(_ context.Context, token, owningServerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[token]
	if !ok {
		return apperr.NotFoundf("task %q not found", token)
	}
	if r.Status != task.Running || r.OwningServerID != owningServerID {
		return apperr.Conflictf("task %q not running under server %q", token, owningServerID)
	}
	r.LastHeartbeat = &at
	s.tasks[token] = r
	return nil
}

func (s *Store) AppendComment(_ context.Context, token string, c task.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[token]
	if !ok {
		return apperr.NotFoundf("task %q not found", token)
	}
	r.Comments = append(r.Comments, c)
	s.tasks[token] = r
	return nil
}

func (s *Store) SetConsumed(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tasks[token]
	if !ok {
		return apperr.NotFoundf("task %q not found", token)
	}
	r.Consumed = true
	s.tasks[token] = r
	return nil
}

func (s *Store) ListStaleRunning(_ context.Context, before time.Time, ownServerID string, includeOrphans bool) ([]task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []task.Record
	for _, r := range s.tasks {
		if r.Status != task.Running {
			continue
		}
		if r.LastHeartbeat == nil || r.LastHeartbeat.After(before) {
			continue
		}
		if includeOrphans {
			out = append(out, r)
			continue
		}
		if r.OwningServerID == ownServerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) ListOrphanedAllocated(_ context.Context, before time.Time) ([]task.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []task.Record
	for _, r := range s.tasks {
		if r.Status == task.Allocated && r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- CleanupPlanStore ------------------------------------------------------------

func (s *Store) CreatePlan(_ context.Context, p cleanupplan.Record) (cleanupplan.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = newID()
	}
	if p.ReportHashes == nil {
		p.ReportHashes = map[string]bool{}
	}
	s.plans[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePlan(_ context.Context, p cleanupplan.Record) (cleanupplan.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; !ok {
		return cleanupplan.Record{}, apperr.NotFoundf("plan %q not found", p.ID)
	}
	s.plans[p.ID] = p
	return p, nil
}

func (s *Store) GetPlan(_ context.Context, id string) (cleanupplan.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return cleanupplan.Record{}, apperr.NotFoundf("plan %q not found", id)
	}
	return p, nil
}

func (s *Store) ListPlans(_ context.Context, product string) ([]cleanupplan.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cleanupplan.Record
	for _, p := range s.plans {
		if p.Product == product {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeletePlan(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return apperr.NotFoundf("plan %q not found", id)
	}
	delete(s.plans, id)
	return nil
}

// --- NotificationStore -------------------------------------------------------------

func (s *Store) CreateNotification(_ context.Context, n cstore.Notification) (cstore.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = newID()
	}
	s.notes[n.ID] = n
	return n, nil
}

func (s *Store) ListNotifications(_ context.Context, username string, unreadOnly bool) ([]cstore.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cstore.Notification
	for _, n := range s.notes {
		if n.Username != username {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkRead(_ context.Context, ids []string, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		n, ok := s.notes[id]
		if !ok || n.Username != username {
			continue
		}
		n.ReadAt = &now
		s.notes[id] = n
	}
	return nil
}

// --- FilterPresetStore ----------------------------------------------------------

func (s *Store) SaveFilterPreset(_ context.Context, p cstore.FilterPreset) (cstore.FilterPreset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = newID()
	}
	s.presets[p.ID] = p
	return p, nil
}

func (s *Store) ListFilterPresets(_ context.Context, username string) ([]cstore.FilterPreset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cstore.FilterPreset
	for _, p := range s.presets {
		if p.Username == username {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteFilterPresets(_ context.Context, ids []string, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if p, ok := s.presets[id]; ok && p.Username == username {
			delete(s.presets, id)
		}
	}
	return nil
}

// --- SourceComponentStore ----------------------------------------------------------

func (s *Store) AddComponent(_ context.Context, c cstore.SourceComponent) (cstore.SourceComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	s.comps[c.ID] = c
	return c, nil
}

func (s *Store) EditComponent(_ context.Context, c cstore.SourceComponent) (cstore.SourceComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comps[c.ID]; !ok {
		return cstore.SourceComponent{}, apperr.NotFoundf("component %q not found", c.ID)
	}
	s.comps[c.ID] = c
	return c, nil
}

func (s *Store) ListComponents(_ context.Context, product string) ([]cstore.SourceComponent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []cstore.SourceComponent
	for _, c := range s.comps {
		if c.Product == product {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteComponent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comps[id]; !ok {
		return apperr.NotFoundf("component %q not found", id)
	}
	delete(s.comps, id)
	return nil
}
