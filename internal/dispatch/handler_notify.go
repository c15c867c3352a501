package dispatch

import (
	"net/http"
	"strconv"

	"github.com/reviewdeck/core/internal/apperr"
)

func (rt *Router) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorizedf("no identity resolved"))
		return
	}
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread_only"))
	out, err := rt.notifier.List(r.Context(), id.Username, unreadOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handleMarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorizedf("no identity resolved"))
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	if err := rt.notifier.MarkRead(r.Context(), req.IDs, id.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (rt *Router) handleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorizedf("no identity resolved"))
		return
	}
	rt.notifier.ServeWS(w, r, id.Username)
}
