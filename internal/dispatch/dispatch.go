// Package dispatch implements the Request Dispatcher (DISP) of spec §4.3:
// URL-based product resolution, identity resolution via AUTH, per-endpoint
// permission checks, and the long-poll await endpoint. Routing is built on
// gorilla/mux, adopted from the teacher's internal/marble service framework,
// generalized from its single flat mux.Router to two route groups (server-wide
// and product-scoped) and its auth middleware shape borrowed from
// internal/app/httpapi/auth.go's composite-validator pattern, applied here to
// reviewdeck's own JWT session tokens via internal/auth.Engine instead of an
// external Supabase secret.
package dispatch

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/auth"
	"github.com/reviewdeck/core/internal/cleanupplan"
	"github.com/reviewdeck/core/internal/component"
	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/internal/domain/permission"
	productdomain "github.com/reviewdeck/core/internal/domain/product"
	"github.com/reviewdeck/core/internal/filterpreset"
	"github.com/reviewdeck/core/internal/metrics"
	"github.com/reviewdeck/core/internal/notify"
	"github.com/reviewdeck/core/internal/product"
	"github.com/reviewdeck/core/internal/ratelimit"
	"github.com/reviewdeck/core/internal/task"
	"github.com/reviewdeck/core/pkg/logger"
)

// Config controls DISP's behavior.
type Config struct {
	AwaitPollInterval time.Duration // default 2s
}

func (c *Config) applyDefaults() {
	if c.AwaitPollInterval <= 0 {
		c.AwaitPollInterval = 2 * time.Second
	}
}

// Router is DISP: it owns the HTTP mux and every service's dependencies.
type Router struct {
	cfg Config
	log *logger.Logger

	store      cstore.Store
	authEngine *auth.Engine
	products   *product.Registry
	tasks      *task.Manager
	workers    *task.WorkerPool
	cleanup    *cleanupplan.Service
	components *component.Service
	notifier   *notify.Service
	presets    *filterpreset.Service
	limiter    *ratelimit.Limiter

	mux *mux.Router
}

// New builds DISP's router, wiring every endpoint described in spec §6.1/6.2.
func New(
	cfg Config,
	store cstore.Store,
	authEngine *auth.Engine,
	products *product.Registry,
	tasks *task.Manager,
	workers *task.WorkerPool,
	cleanup *cleanupplan.Service,
	components *component.Service,
	notifier *notify.Service,
	presets *filterpreset.Service,
	limiter *ratelimit.Limiter,
	log *logger.Logger,
) *Router {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewDefault("dispatch")
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultConfig())
	}

	rt := &Router{
		cfg:        cfg,
		log:        log,
		store:      store,
		authEngine: authEngine,
		products:   products,
		tasks:      tasks,
		workers:    workers,
		cleanup:    cleanup,
		components: components,
		notifier:   notifier,
		presets:    presets,
		limiter:    limiter,
	}
	rt.build()
	return rt
}

// ServeHTTP lets Router itself act as an http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

func (rt *Router) build() {
	root := mux.NewRouter()
	root.Use(recoveryMiddleware(rt.log))
	root.Use(func(next http.Handler) http.Handler { return metrics.InstrumentHandler(next) })
	root.Use(loggingMiddleware(rt.log))
	root.Use(rt.rateLimitMiddleware)
	root.Use(rt.authMiddleware)

	root.Handle("/metrics", metrics.Handler())
	root.HandleFunc("/healthz", rt.handleHealthz).Methods(http.MethodGet)
	root.HandleFunc("/system/status", rt.handleSystemStatus).Methods(http.MethodGet)

	root.HandleFunc("/auth/login", rt.handleLogin).Methods(http.MethodPost)
	root.HandleFunc("/auth/logout", rt.handleLogout).Methods(http.MethodPost)
	root.HandleFunc("/auth/permissions", rt.handleGetPermissions).Methods(http.MethodGet)
	root.HandleFunc("/auth/haspermission", rt.handleHasPermission).Methods(http.MethodGet)

	root.HandleFunc("/tasks", rt.handleGetTasks).Methods(http.MethodGet)
	root.HandleFunc("/tasks/{token}", rt.handleGetTaskInfo).Methods(http.MethodGet)
	root.HandleFunc("/tasks/{token}/cancel", rt.handleCancelTask).Methods(http.MethodPost)
	root.HandleFunc("/tasks/{token}/await", rt.handleAwaitTaskTermination).Methods(http.MethodGet)
	root.HandleFunc("/tasks/{token}/comments", rt.handleAddTaskComment).Methods(http.MethodPost)

	root.HandleFunc("/products", rt.handleListProducts).Methods(http.MethodGet)
	root.HandleFunc("/products", rt.handleAddProduct).Methods(http.MethodPost)
	root.HandleFunc("/products/{endpoint}", rt.handleRemoveProduct).Methods(http.MethodDelete)
	root.HandleFunc("/products/{endpoint}", rt.handleEditProduct).Methods(http.MethodPatch)

	root.HandleFunc("/notifications", rt.handleListNotifications).Methods(http.MethodGet)
	root.HandleFunc("/notifications/read", rt.handleMarkNotificationsRead).Methods(http.MethodPost)
	root.HandleFunc("/notifications/ws", rt.handleNotificationsWS).Methods(http.MethodGet)

	root.HandleFunc("/filterpresets", rt.handleListFilterPresets).Methods(http.MethodGet)
	root.HandleFunc("/filterpresets", rt.handleSaveFilterPreset).Methods(http.MethodPost)
	root.HandleFunc("/filterpresets", rt.handleDeleteFilterPresets).Methods(http.MethodDelete)

	// Product-scoped services, per spec §6.2's "/<product_endpoint>/<service>"
	// routing. Registered last so the literal server-wide routes above win.
	scoped := root.PathPrefix("/{product}").Subrouter()
	scoped.Use(rt.productMiddleware)

	scoped.HandleFunc("/cleanupplans", rt.handleListCleanupPlans).Methods(http.MethodGet)
	scoped.HandleFunc("/cleanupplans", rt.handleCreateCleanupPlan).Methods(http.MethodPost)
	scoped.HandleFunc("/cleanupplans/{id}", rt.handleGetCleanupPlan).Methods(http.MethodGet)
	scoped.HandleFunc("/cleanupplans/{id}", rt.handleUpdateCleanupPlan).Methods(http.MethodPatch)
	scoped.HandleFunc("/cleanupplans/{id}", rt.handleDeleteCleanupPlan).Methods(http.MethodDelete)
	scoped.HandleFunc("/cleanupplans/{id}/close", rt.handleCloseCleanupPlan).Methods(http.MethodPost)
	scoped.HandleFunc("/cleanupplans/{id}/reopen", rt.handleReopenCleanupPlan).Methods(http.MethodPost)
	scoped.HandleFunc("/cleanupplans/{id}/setplan", rt.handleSetPlan).Methods(http.MethodPost)
	scoped.HandleFunc("/cleanupplans/{id}/unsetplan", rt.handleUnsetPlan).Methods(http.MethodPost)

	scoped.HandleFunc("/components", rt.handleListComponents).Methods(http.MethodGet)
	scoped.HandleFunc("/components", rt.handleAddComponent).Methods(http.MethodPost)
	scoped.HandleFunc("/components/{id}", rt.handleEditComponent).Methods(http.MethodPatch)
	scoped.HandleFunc("/components/{id}", rt.handleDeleteComponent).Methods(http.MethodDelete)

	rt.mux = root
}

func (rt *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- context plumbing -------------------------------------------------------

type ctxKey int

const (
	ctxIdentityKey ctxKey = iota
	ctxProductHandleKey
)

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(ctxIdentityKey).(auth.Identity)
	return id, ok
}

func productHandleFromContext(ctx context.Context) (*product.Handle, bool) {
	h, ok := ctx.Value(ctxProductHandleKey).(*product.Handle)
	return h, ok
}

var publicPaths = map[string]struct{}{
	"/healthz":       {},
	"/metrics":       {},
	"/auth/login":    {},
	"/system/status": {},
}

func (rt *Router) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearer(r)
		id, err := rt.authEngine.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxIdentityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (rt *Router) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractBearer(r)
		if key == "" {
			key = r.RemoteAddr
		}
		if !rt.limiter.Allow(key) {
			writeError(w, apperr.Backpressuref("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// productMiddleware resolves the {product} path variable against P-REG,
// rejecting the reserved "products" name and any endpoint whose schema
// status is not ok, per spec §4.3/§4.5.
func (rt *Router) productMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := mux.Vars(r)["product"]
		if endpoint == "products" {
			writeError(w, apperr.NotFoundf("endpoint %q is reserved", endpoint))
			return
		}

		h, err := rt.products.Get(endpoint)
		if err != nil {
			writeError(w, err)
			return
		}
		rec := h.Record()
		if rec.Schema != productdomain.StatusOK {
			writeError(w, apperr.Conflictf("product %q result store is %s", endpoint, rec.Schema))
			return
		}

		if err := h.Acquire(); err != nil {
			writeError(w, err)
			return
		}
		defer h.Release()

		ctx := context.WithValue(r.Context(), ctxProductHandleKey, h)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission enforces a per-endpoint permission check through AUTH,
// per spec §4.3. Writes Unauthorized and returns false on denial.
func (rt *Router) requirePermission(w http.ResponseWriter, r *http.Request, want permission.Name, scope permission.Scope) bool {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorizedf("no identity resolved"))
		return false
	}
	allowed, err := rt.authEngine.Check(r.Context(), id, want, scope)
	if err != nil {
		writeError(w, err)
		return false
	}
	if !allowed {
		writeError(w, apperr.Unauthorizedf("missing permission %s on scope %v", want, scope))
		return false
	}
	return true
}

func extractBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// --- generic middleware ------------------------------------------------------

func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					log.WithField("path", r.URL.Path).Errorf("panic recovered: %v", p)
					writeError(w, apperr.Fatalf("internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs one line per request naming method, path, duration
// and outcome, per spec §4.3 ("logs a one-line record including the kind,
// duration, and outcome").
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start).String(),
			}).Info("request handled")
		})
	}
}
