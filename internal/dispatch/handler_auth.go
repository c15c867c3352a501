package dispatch

import (
	"net/http"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/domain/permission"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, apperr.InputMalformedf("decode body: %v", err))
		return
	}
	token, _, err := rt.authEngine.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": token})
}

func (rt *Router) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := extractBearer(r)
	sessionID, err := rt.authEngine.SessionIDFromToken(token)
	if err != nil {
		writeError(w, apperr.Unauthorizedf("invalid session token"))
		return
	}
	if err := rt.authEngine.Logout(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (rt *Router) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorizedf("no identity resolved"))
		return
	}
	scope := permission.ServerWide()
	if p := r.URL.Query().Get("product"); p != "" {
		scope = permission.ForProduct(p)
	}

	held := make([]string, 0, 4)
	for _, name := range []permission.Name{
		permission.Superuser,
		permission.ProductAdmin,
		permission.ProductAccess,
		permission.ProductStore,
		permission.ProductView,
	} {
		allowed, err := rt.authEngine.Check(r.Context(), id, name, scope)
		if err != nil {
			writeError(w, err)
			return
		}
		if allowed {
			held = append(held, string(name))
		}
	}
	writeJSON(w, http.StatusOK, held)
}

func (rt *Router) handleHasPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorizedf("no identity resolved"))
		return
	}
	name := permission.Name(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, apperr.InputMalformedf("name query parameter required"))
		return
	}
	scope := permission.ServerWide()
	if p := r.URL.Query().Get("product"); p != "" {
		scope = permission.ForProduct(p)
	}
	allowed, err := rt.authEngine.Check(r.Context(), id, name, scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}
