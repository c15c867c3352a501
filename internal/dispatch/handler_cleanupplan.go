package dispatch

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/domain/cleanupplan"
	"github.com/reviewdeck/core/internal/domain/permission"
)

func (rt *Router) handleListCleanupPlans(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductView, permission.ForProduct(h.Endpoint())) {
		return
	}
	recs, err := rt.cleanup.List(r.Context(), h.Endpoint())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (rt *Router) handleGetCleanupPlan(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductView, permission.ForProduct(h.Endpoint())) {
		return
	}
	rec, err := rt.cleanup.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type createCleanupPlanRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date"`
}

func (rt *Router) handleCreateCleanupPlan(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductAdmin, permission.ForProduct(h.Endpoint())) {
		return
	}
	var req createCleanupPlanRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	rec, err := rt.cleanup.Create(r.Context(), h.Endpoint(), req.Name, req.Description, req.DueDate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *Router) handleUpdateCleanupPlan(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductAdmin, permission.ForProduct(h.Endpoint())) {
		return
	}
	var patch cleanupplan.Patch
	if err := decodeJSON(r.Body, &patch); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	rec, err := rt.cleanup.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *Router) handleDeleteCleanupPlan(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductAdmin, permission.ForProduct(h.Endpoint())) {
		return
	}
	if err := rt.cleanup.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (rt *Router) handleCloseCleanupPlan(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductAdmin, permission.ForProduct(h.Endpoint())) {
		return
	}
	rec, err := rt.cleanup.Close(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *Router) handleReopenCleanupPlan(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductAdmin, permission.ForProduct(h.Endpoint())) {
		return
	}
	rec, err := rt.cleanup.Reopen(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type planHashesRequest struct {
	ReportHashes []string `json:"report_hashes"`
}

func (rt *Router) handleSetPlan(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductStore, permission.ForProduct(h.Endpoint())) {
		return
	}
	var req planHashesRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	rec, err := rt.cleanup.SetPlan(r.Context(), mux.Vars(r)["id"], req.ReportHashes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *Router) handleUnsetPlan(w http.ResponseWriter, r *http.Request) {
	h, _ := productHandleFromContext(r.Context())
	if !rt.requirePermission(w, r, permission.ProductStore, permission.ForProduct(h.Endpoint())) {
		return
	}
	var req planHashesRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	rec, err := rt.cleanup.UnsetPlan(r.Context(), mux.Vars(r)["id"], req.ReportHashes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
