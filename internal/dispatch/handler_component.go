package dispatch

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/domain/permission"
)

func (rt *Router) handleListComponents(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductView, permission.ForProduct(h.Endpoint())) {
		return
	}
	recs, err := rt.components.List(r.Context(), h.Endpoint())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type componentRequest struct {
	Name  string   `json:"name"`
	Globs []string `json:"globs"`
}

func (rt *Router) handleAddComponent(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductAdmin, permission.ForProduct(h.Endpoint())) {
		return
	}
	var req componentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	rec, err := rt.components.Add(r.Context(), h.Endpoint(), req.Name, req.Globs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *Router) handleEditComponent(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductAdmin, permission.ForProduct(h.Endpoint())) {
		return
	}
	var req componentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	rec, err := rt.components.Edit(r.Context(), mux.Vars(r)["id"], h.Endpoint(), req.Name, req.Globs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *Router) handleDeleteComponent(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductAdmin, permission.ForProduct(h.Endpoint())) {
		return
	}
	if err := rt.components.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
