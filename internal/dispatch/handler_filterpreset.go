package dispatch

import (
	"net/http"

	"github.com/reviewdeck/core/internal/apperr"
)

func (rt *Router) handleListFilterPresets(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorizedf("no identity resolved"))
		return
	}
	out, err := rt.presets.List(r.Context(), id.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handleSaveFilterPreset(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorizedf("no identity resolved"))
		return
	}
	var req struct {
		Name string `json:"name"`
		Body string `json:"body"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	rec, err := rt.presets.Save(r.Context(), id.Username, req.Name, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *Router) handleDeleteFilterPresets(w http.ResponseWriter, r *http.Request) {
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
	if err := rt.presets.Delete(r.Context(), req.IDs, id.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
