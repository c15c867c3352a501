package dispatch

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/domain/permission"
	domaintask "github.com/reviewdeck/core/internal/domain/task"
)

// canReadTask reports whether the resolved identity may read rec, per spec
// §4.1's visibility rule: the task's own actor, a product admin of the
// task's product, or a superuser.
func (rt *Router) canReadTask(r *http.Request, rec domaintask.Record) bool {
	id, ok := identityFromContext(r.Context())
	if !ok {
		return false
	}
	if id.Anonymous || (rec.Actor != "" && id.Username == rec.Actor) {
		return true
	}
	allowed, _ := rt.authEngine.Check(r.Context(), id, permission.Superuser, permission.ServerWide())
	if allowed {
		return true
	}
	if rec.Product != "" {
		allowed, _ = rt.authEngine.Check(r.Context(), id, permission.ProductAdmin, permission.ForProduct(rec.Product))
		return allowed
	}
	return false
}

func (rt *Router) handleGetTaskInfo(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	rec, err := rt.tasks.Get(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	if !rt.canReadTask(r, rec) {
		writeError(w, apperr.Unauthorizedf("not authorized to read task %s", token))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *Router) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domaintask.Filter{
		Kind:    q.Get("kind"),
		Product: q.Get("product"),
		Actor:   q.Get("actor"),
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Until = &t
		}
	}
	for _, s := range q["status"] {
		filter.Statuses = append(filter.Statuses, domaintask.Status(s))
	}

	// Per spec §6.1: superuser sees any filter; otherwise the filter's
	// product must be one the caller holds PRODUCT_VIEW (or stronger) on.
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorizedf("no identity resolved"))
		return
	}
	isSuper, _ := rt.authEngine.Check(r.Context(), id, permission.Superuser, permission.ServerWide())
	if !isSuper {
		if filter.Product == "" {
			writeError(w, apperr.Unauthorizedf("server-wide task listing requires superuser"))
			return
		}
		if !rt.requirePermission(w, r, permission.ProductView, permission.ForProduct(filter.Product)) {
			return
		}
	}

	recs, err := rt.tasks.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (rt *Router) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if !rt.requirePermission(w, r, permission.Superuser, permission.ServerWide()) {
		return
	}
	token := mux.Vars(r)["token"]
	if err := rt.tasks.Cancel(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleAwaitTaskTermination is one of the two long-poll endpoints of spec
// §4.3: it holds the connection and polls TM at a jittered cadence until a
// terminal status is observed or the request context is cancelled.
func (rt *Router) handleAwaitTaskTermination(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	rec, err := rt.tasks.Get(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	if !rt.canReadTask(r, rec) {
		writeError(w, apperr.Unauthorizedf("not authorized to await task %s", token))
		return
	}

	ctx := r.Context()
	for {
		if rec.Status.Terminal() {
			writeJSON(w, http.StatusOK, rec)
			return
		}

		interval := jitter(rt.cfg.AwaitPollInterval)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		rec, err = rt.tasks.Get(ctx, token)
		if err != nil {
			writeError(w, err)
			return
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	// +/-20% jitter, derived from the current time rather than math/rand to
	// avoid an extra seeded source just for a poll cadence nudge.
	frac := float64(time.Now().UnixNano()%1000) / 1000.0
	delta := float64(base) * 0.2 * (frac*2 - 1)
	return base + time.Duration(delta)
}

func (rt *Router) handleAddTaskComment(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	rec, err := rt.tasks.Get(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	if !rt.canReadTask(r, rec) {
		writeError(w, apperr.Unauthorizedf("not authorized to comment on task %s", token))
		return
	}

	var body struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}

	id, _ := identityFromContext(r.Context())
	if err := rt.tasks.AddComment(r.Context(), token, body.Body, id.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
