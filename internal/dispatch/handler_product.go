package dispatch

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/domain/permission"
	domainproduct "github.com/reviewdeck/core/internal/domain/product"
)

// productRemoveDrainTimeout bounds how long removeProduct waits for
// outstanding per-call references to drain before closing the connection
// anyway, per spec §4.5.
const productRemoveDrainTimeout = 30 * time.Second

// handleListProducts returns the identity's read-visible products, per spec
// §6.1 ("filtered by identity's read visibility"): superusers see every
// product; everyone else sees only those they hold at least PRODUCT_VIEW on.
func (rt *Router) handleListProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorizedf("no identity resolved"))
		return
	}
	isSuper, _ := rt.authEngine.Check(r.Context(), id, permission.Superuser, permission.ServerWide())

	records := rt.products.List()
	out := make([]domainproduct.Summary, 0, len(records))
	for _, rec := range records {
		if !isSuper {
			allowed, _ := rt.authEngine.Check(r.Context(), id, permission.ProductView, permission.ForProduct(rec.Endpoint))
			if !allowed {
				continue
			}
		}
		out = append(out, domainproduct.Summary{
			Endpoint:    rec.Endpoint,
			DisplayName: rec.DisplayName,
			Description: rec.Description,
			Schema:      rec.Schema,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type addProductRequest struct {
	Endpoint    string                 `json:"endpoint"`
	DisplayName string                 `json:"display_name"`
	Description string                 `json:"description"`
	Conn        domainproduct.ConnSpec `json:"conn"`
}

func (rt *Router) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	if !rt.requirePermission(w, r, permission.Superuser, permission.ServerWide()) {
		return
	}
	var req addProductRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	if req.Endpoint == "" {
		writeError(w, apperr.InputMalformedf("endpoint must not be empty"))
		return
	}

	rec := domainproduct.Record{
		Endpoint:    req.Endpoint,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Conn:        req.Conn,
	}
	h, err := rt.products.Add(r.Context(), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Record())
}

func (rt *Router) handleRemoveProduct(w http.ResponseWriter, r *http.Request) {
	if !rt.requirePermission(w, r, permission.Superuser, permission.ServerWide()) {
		return
	}
	endpoint := mux.Vars(r)["endpoint"]
	if err := rt.products.Remove(r.Context(), endpoint, productRemoveDrainTimeout); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type editProductRequest struct {
	DisplayName *string                 `json:"display_name"`
	Description *string                 `json:"description"`
	Conn        *domainproduct.ConnSpec `json:"conn"`
}

func (rt *Router) handleEditProduct(w http.ResponseWriter, r *http.Request) {
	if !rt.requirePermission(w, r, permission.Superuser, permission.ServerWide()) {
		return
	}
	endpoint := mux.Vars(r)["endpoint"]
	var req editProductRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	patch := domainproduct.Patch{DisplayName: req.DisplayName, Description: req.Description, Conn: req.Conn}
	rec, err := rt.products.Edit(r.Context(), endpoint, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
