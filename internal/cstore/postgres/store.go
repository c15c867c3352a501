// Package postgres implements cstore.Store backed by PostgreSQL via
// database/sql and lib/pq, following the raw-SQL-with-$N-placeholders
// convention the rest of this codebase's storage layer uses.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/internal/domain/cleanupplan"
	"github.com/reviewdeck/core/internal/domain/permission"
	"github.com/reviewdeck/core/internal/domain/product"
	"github.com/reviewdeck/core/internal/domain/task"
)

// Store implements cstore.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ cstore.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFoundf("not found")
	}
	return apperr.Transientf("storage: %v", err)
}

// --- ProductStore -------------------------------------------------------------

func (s *Store) CreateProduct(ctx context.Context, p product.Record) (product.Record, error) {
	if p.Schema == "" {
		p.Schema = product.StatusDisconnected
	}
	connJSON, err := json.Marshal(p.Conn)
	if err != nil {
		return product.Record{}, apperr.Fatalf("marshal conn spec: %v", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (endpoint, display_name, description, conn_spec, schema_status)
		VALUES ($1, $2, $3, $4, $5)
	`, p.Endpoint, p.DisplayName, p.Description, connJSON, p.Schema)
	if err != nil {
		if isUniqueViolation(err) {
			return product.Record{}, apperr.Conflictf("product %q already exists", p.Endpoint)
		}
		return product.Record{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p product.Record) (product.Record, error) {
	connJSON, err := json.Marshal(p.Conn)
	if err != nil {
		return product.Record{}, apperr.Fatalf("marshal conn spec: %v", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET display_name = $2, description = $3, conn_spec = $4, schema_status = $5
		WHERE endpoint = $1
	`, p.Endpoint, p.DisplayName, p.Description, connJSON, p.Schema)
	if err != nil {
		return product.Record{}, mapErr(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return product.Record{}, apperr.NotFoundf("product %q not found", p.Endpoint)
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, endpoint string) (product.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT endpoint, display_name, description, conn_spec, schema_status
		FROM products WHERE endpoint = $1
	`, endpoint)
	var (
		p        product.Record
		connJSON []byte
	)
	if err := row.Scan(&p.Endpoint, &p.DisplayName, &p.Description, &connJSON, &p.Schema); err != nil {
		return product.Record{}, mapErr(err)
	}
	_ = json.Unmarshal(connJSON, &p.Conn)
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]product.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, display_name, description, conn_spec, schema_status
		FROM products ORDER BY endpoint
	`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []product.Record
	for rows.Next() {
		var (
			p        product.Record
			connJSON []byte
		)
		if err := rows.Scan(&p.Endpoint, &p.DisplayName, &p.Description, &connJSON, &p.Schema); err != nil {
			return nil, mapErr(err)
		}
		_ = json.Unmarshal(connJSON, &p.Conn)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteProduct(ctx context.Context, endpoint string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE endpoint = $1`, endpoint)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFoundf("product %q not found", endpoint)
	}
	return nil
}

// --- PermissionStore ------------------------------------------------------------

func (s *Store) CreateGrant(ctx context.Context, g permission.Grant) (permission.Grant, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (id, permission_name, scope_product, grantee_kind, grantee)
		VALUES ($1, $2, $3, $4, $5)
	`, g.ID, g.Permission, g.Scope.Product, g.GranteeKind, g.Grantee)
	if err != nil {
		return permission.Grant{}, mapErr(err)
	}
	return g, nil
}

func (s *Store) DeleteGrant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFoundf("grant %q not found", id)
	}
	return nil
}

func (s *Store) ListGrantsForGrantee(ctx context.Context, kind permission.GranteeKind, grantee string) ([]permission.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, permission_name, scope_product, grantee_kind, grantee
		FROM permissions WHERE grantee_kind = $1 AND grantee = $2
	`, kind, grantee)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *Store) ListGrantsForScope(ctx context.Context, scope permission.Scope) ([]permission.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, permission_name, scope_product, grantee_kind, grantee
		FROM permissions WHERE scope_product = $1
	`, scope.Product)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func scanGrants(rows *sql.Rows) ([]permission.Grant, error) {
	var out []permission.Grant
	for rows.Next() {
		var g permission.Grant
		if err := rows.Scan(&g.ID, &g.Permission, &g.Scope.Product, &g.GranteeKind, &g.Grantee); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// --- SessionStore ---------------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess cstore.Session) (cstore.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, username, issued_at, last_used_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sess.ID, sess.Username, sess.IssuedAt, sess.LastUsedAt, sess.ExpiresAt)
	if err != nil {
		return cstore.Session{}, mapErr(err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (cstore.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, issued_at, last_used_at, expires_at FROM sessions WHERE id = $1
	`, id)
	var sess cstore.Session
	if err := row.Scan(&sess.ID, &sess.Username, &sess.IssuedAt, &sess.LastUsedAt, &sess.ExpiresAt); err != nil {
		return cstore.Session{}, mapErr(err)
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, id string, lastUsedAt, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_used_at = $2, expires_at = $3 WHERE id = $1
	`, id, lastUsedAt, expiresAt)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFoundf("session %q not found", id)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return mapErr(err)
}

// --- GroupStore -------------------------------------------------------------------

func (s *Store) GroupsForUser(ctx context.Context, username string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_name FROM user_groups WHERE username = $1`, username)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// --- UserStore --------------------------------------------------------------------

func (s *Store) GetUser(ctx context.Context, username string) (cstore.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT username, password_hash FROM users WHERE username = $1`, username)
	var u cstore.User
	if err := row.Scan(&u.Username, &u.PasswordHash); err != nil {
		return cstore.User{}, mapErr(err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u cstore.User) (cstore.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash) VALUES ($1, $2)
	`, u.Username, u.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return cstore.User{}, apperr.Conflictf("user %q already exists", u.Username)
		}
		return cstore.User{}, mapErr(err)
	}
	return u, nil
}

// --- TaskStore --------------------------------------------------------------------

func (s *Store) CreateTask(ctx context.Context, r task.Record) (task.Record, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (token, kind, summary, actor, product, status, created_at, cancel_requested, consumed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.Token, r.Kind, r.Summary, nullString(r.Actor), nullString(r.Product), r.Status, r.CreatedAt, r.CancelRequested, r.Consumed)
	if err != nil {
		if isUniqueViolation(err) {
			return task.Record{}, apperr.Conflictf("task %q already exists", r.Token)
		}
		return task.Record{}, mapErr(err)
	}
	return r, nil
}

func (s *Store) GetTask(ctx context.Context, token string) (task.Record, error) {
	row := s.db.QueryRowContext(ctx, taskSelectSQL+` WHERE t.token = $1`, token)
	rec, err := scanTaskRow(row)
	if err != nil {
		return task.Record{}, mapErr(err)
	}
	rec.Comments, err = s.loadComments(ctx, token)
	if err != nil {
		return task.Record{}, mapErr(err)
	}
	return rec, nil
}

const taskSelectSQL = `
	SELECT t.token, t.kind, t.summary, t.actor, t.product, t.status, t.created_at,
	       t.enqueued_at, t.started_at, t.last_heartbeat_at, t.finished_at,
	       t.cancel_requested, t.owning_server_id, t.consumed
	FROM tasks t`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRow(row rowScanner) (task.Record, error) {
	var (
		r                                                  task.Record
		actor, productEndpoint, owningServerID             sql.NullString
		enqueuedAt, startedAt, lastHeartbeat, finishedAt    sql.NullTime
	)
	if err := row.Scan(&r.Token, &r.Kind, &r.Summary, &actor, &productEndpoint, &r.Status,
		&r.CreatedAt, &enqueuedAt, &startedAt, &lastHeartbeat, &finishedAt,
		&r.CancelRequested, &owningServerID, &r.Consumed); err != nil {
		return task.Record{}, err
	}
	r.Actor = actor.String
	r.Product = productEndpoint.String
	r.OwningServerID = owningServerID.String
	if enqueuedAt.Valid {
		t := enqueuedAt.Time
		r.EnqueuedAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}
	if lastHeartbeat.Valid {
		t := lastHeartbeat.Time
		r.LastHeartbeat = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	return r, nil
}

func (s *Store) loadComments(ctx context.Context, token string) ([]task.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor, created_at, body FROM task_comments WHERE token = $1 ORDER BY created_at
	`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []task.Comment
	for rows.Next() {
		var c task.Comment
		var actor sql.NullString
		if err := rows.Scan(&actor, &c.Timestamp, &c.Body); err != nil {
			return nil, err
		}
		c.Actor = actor.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListTasks(ctx context.Context, f task.Filter) ([]task.Record, error) {
	query := taskSelectSQL
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			args = append(args, st)
			placeholders[i] = "$" + strconv.Itoa(len(args))
		}
		conds = append(conds, "t.status IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.Kind != "" {
		add("t.kind = ?", f.Kind)
	}
	if f.Product != "" {
		add("t.product = ?", f.Product)
	}
	if f.Actor != "" {
		add("t.actor = ?", f.Actor)
	}
	if f.Since != nil {
		add("t.created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		add("t.created_at <= ?", *f.Until)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY t.created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []task.Record
	for rows.Next() {
		rec, err := scanTaskRow(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) TransitionStatus(ctx context.Context, token string, expectFrom, to task.Status, mutate func(*task.Record)) (task.Record, error) {
	// Read-modify-write in two steps: GetTask reads the current record, then the
	// UPDATE carries the CAS precondition (status = expectFrom). mutate operates
	// on a Go struct, not the row, so only the columns the UPDATE writes below
	// persist from it.
	current, err := s.GetTask(ctx, token)
	if err != nil {
		return task.Record{}, err
	}
	next := current
	next.Status = to
	if mutate != nil {
		mutate(&next)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $2, enqueued_at = $3, started_at = $4, finished_at = $5,
		       owning_server_id = $6, last_heartbeat_at = $8
		WHERE token = $1 AND status = $7
	`, token, next.Status, next.EnqueuedAt, next.StartedAt, next.FinishedAt,
		nullString(next.OwningServerID), expectFrom, next.LastHeartbeat)
	if err != nil {
		return task.Record{}, mapErr(err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return task.Record{}, apperr.Conflictf("task %q expected status %s", token, expectFrom)
	}
	return next, nil
}

func (s *Store) SetCancelRequested(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET cancel_requested = true
		WHERE token = $1 AND status NOT IN ('COMPLETED','FAILED','CANCELLED','DROPPED')
	`, token)
	return mapErr(err)
}

func (s *Store) UpdateHeartbeat(ctx context.Context, token, owningServerID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET last_heartbeat_at = $3
		WHERE token = $1 AND status = 'RUNNING' AND owning_server_id = $2
	`, token, owningServerID, at)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.Conflictf("task %q not running under server %q", token, owningServerID)
	}
	return nil
}

func (s *Store) AppendComment(ctx context.Context, token string, c task.Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_comments (token, actor, created_at, body) VALUES ($1, $2, $3, $4)
	`, token, nullString(c.Actor), c.Timestamp, c.Body)
	return mapErr(err)
}

func (s *Store) SetConsumed(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET consumed = true WHERE token = $1`, token)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFoundf("task %q not found", token)
	}
	return nil
}

func (s *Store) ListStaleRunning(ctx context.Context, before time.Time, ownServerID string, includeOrphans bool) ([]task.Record, error) {
	query := taskSelectSQL + ` WHERE t.status = 'RUNNING' AND (t.last_heartbeat_at IS NULL OR t.last_heartbeat_at < $1)`
	args := []any{before}
	if !includeOrphans {
		query += ` AND t.owning_server_id = $2`
		args = append(args, ownServerID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []task.Record
	for rows.Next() {
		rec, err := scanTaskRow(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListOrphanedAllocated(ctx context.Context, before time.Time) ([]task.Record, error) {
	rows, err := s.db.QueryContext(ctx, taskSelectSQL+` WHERE t.status = 'ALLOCATED' AND t.created_at < $1`, before)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []task.Record
	for rows.Next() {
		rec, err := scanTaskRow(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- CleanupPlanStore ---------------------------------------------------------------

func (s *Store) CreatePlan(ctx context.Context, p cleanupplan.Record) (cleanupplan.Record, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	hashesJSON, _ := json.Marshal(hashSetToSlice(p.ReportHashes))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cleanup_plans (id, product, name, description, due_date, closed_at, report_hashes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Product, p.Name, p.Description, p.DueDate, p.ClosedAt, hashesJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return cleanupplan.Record{}, apperr.Conflictf("plan %q already exists in product %q", p.Name, p.Product)
		}
		return cleanupplan.Record{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p cleanupplan.Record) (cleanupplan.Record, error) {
	hashesJSON, _ := json.Marshal(hashSetToSlice(p.ReportHashes))
	res, err := s.db.ExecContext(ctx, `
		UPDATE cleanup_plans SET name = $2, description = $3, due_date = $4, closed_at = $5, report_hashes = $6
		WHERE id = $1
	`, p.ID, p.Name, p.Description, p.DueDate, p.ClosedAt, hashesJSON)
	if err != nil {
		return cleanupplan.Record{}, mapErr(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cleanupplan.Record{}, apperr.NotFoundf("plan %q not found", p.ID)
	}
	return p, nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (cleanupplan.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, product, name, description, due_date, closed_at, report_hashes
		FROM cleanup_plans WHERE id = $1
	`, id)
	p, err := scanPlan(row)
	if err != nil {
		return cleanupplan.Record{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) ListPlans(ctx context.Context, product string) ([]cleanupplan.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product, name, description, due_date, closed_at, report_hashes
		FROM cleanup_plans WHERE product = $1 ORDER BY name
	`, product)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []cleanupplan.Record
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlan(row rowScanner) (cleanupplan.Record, error) {
	var (
		p          cleanupplan.Record
		hashesJSON []byte
		dueDate    sql.NullTime
		closedAt   sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Product, &p.Name, &p.Description, &dueDate, &closedAt, &hashesJSON); err != nil {
		return cleanupplan.Record{}, err
	}
	if dueDate.Valid {
		t := dueDate.Time
		p.DueDate = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	var hashes []string
	_ = json.Unmarshal(hashesJSON, &hashes)
	p.ReportHashes = make(map[string]bool, len(hashes))
	for _, h := range hashes {
		p.ReportHashes[h] = true
	}
	return p, nil
}

func hashSetToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	return out
}

func (s *Store) DeletePlan(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cleanup_plans WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFoundf("plan %q not found", id)
	}
	return nil
}

// --- NotificationStore ----------------------------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n cstore.Notification) (cstore.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, username, body, created_at, read_at)
		VALUES ($1, $2, $3, $4, $5)
	`, n.ID, n.Username, n.Body, n.CreatedAt, n.ReadAt)
	if err != nil {
		return cstore.Notification{}, mapErr(err)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, username string, unreadOnly bool) ([]cstore.Notification, error) {
	query := `SELECT id, username, body, created_at, read_at FROM notifications WHERE username = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []cstore.Notification
	for rows.Next() {
		var n cstore.Notification
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.Username, &n.Body, &n.CreatedAt, &readAt); err != nil {
			return nil, mapErr(err)
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, ids []string, username string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = now() WHERE username = $1 AND id = ANY($2)
	`, username, pqStringArray(ids))
	return mapErr(err)
}

// --- FilterPresetStore -----------------------------------------------------------------

func (s *Store) SaveFilterPreset(ctx context.Context, p cstore.FilterPreset) (cstore.FilterPreset, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO filter_presets (id, username, name, body) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, body = EXCLUDED.body
	`, p.ID, p.Username, p.Name, p.Body)
	if err != nil {
		return cstore.FilterPreset{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) ListFilterPresets(ctx context.Context, username string) ([]cstore.FilterPreset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, name, body FROM filter_presets WHERE username = $1 ORDER BY name
	`, username)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []cstore.FilterPreset
	for rows.Next() {
		var p cstore.FilterPreset
		if err := rows.Scan(&p.ID, &p.Username, &p.Name, &p.Body); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteFilterPresets(ctx context.Context, ids []string, username string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM filter_presets WHERE username = $1 AND id = ANY($2)
	`, username, pqStringArray(ids))
	return mapErr(err)
}

// --- SourceComponentStore ----------------------------------------------------------------

func (s *Store) AddComponent(ctx context.Context, c cstore.SourceComponent) (cstore.SourceComponent, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	globsJSON, _ := json.Marshal(c.Globs)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_components (id, product, name, globs) VALUES ($1, $2, $3, $4)
	`, c.ID, c.Product, c.Name, globsJSON)
	if err != nil {
		return cstore.SourceComponent{}, mapErr(err)
	}
	return c, nil
}

func (s *Store) EditComponent(ctx context.Context, c cstore.SourceComponent) (cstore.SourceComponent, error) {
	globsJSON, _ := json.Marshal(c.Globs)
	res, err := s.db.ExecContext(ctx, `
		UPDATE source_components SET name = $2, globs = $3 WHERE id = $1
	`, c.ID, c.Name, globsJSON)
	if err != nil {
		return cstore.SourceComponent{}, mapErr(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return cstore.SourceComponent{}, apperr.NotFoundf("component %q not found", c.ID)
	}
	return c, nil
}

func (s *Store) ListComponents(ctx context.Context, product string) ([]cstore.SourceComponent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product, name, globs FROM source_components WHERE product = $1 ORDER BY name
	`, product)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []cstore.SourceComponent
	for rows.Next() {
		var c cstore.SourceComponent
		var globsJSON []byte
		if err := rows.Scan(&c.ID, &c.Product, &c.Name, &globsJSON); err != nil {
			return nil, mapErr(err)
		}
		_ = json.Unmarshal(globsJSON, &c.Globs)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteComponent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM source_components WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFoundf("component %q not found", id)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "unique") || strings.Contains(err.Error(), "duplicate")
}

// pqStringArray renders a Go string slice as a Postgres array literal, avoiding
// a direct pq.Array import dependency for this one helper.
func pqStringArray(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
