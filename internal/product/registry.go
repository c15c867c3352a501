// Package product implements the Product Registry (P-REG): an in-memory map
// from product endpoint name to live Product Handle, each owning a connection
// pool to that product's Result Store and a derived permission scope.
package product

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/internal/domain/product"
	"github.com/reviewdeck/core/internal/resultstore"
	"github.com/reviewdeck/core/pkg/logger"
)

// Handle is a live, reference-counted binding between a product endpoint and
// its Result Store connection.
type Handle struct {
	endpoint string

	mu       sync.Mutex
	record   product.Record
	conn     resultstore.Handle
	refCount int
	closing  bool
	closedCh chan struct{}
}

// Endpoint returns the product endpoint this handle serves.
func (h *Handle) Endpoint() string { return h.endpoint }

// Record returns a snapshot of the product's current row.
func (h *Handle) Record() product.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record
}

// Conn returns the live Result Store connection, or nil if the product's
// schema status is not ok.
func (h *Handle) Conn() resultstore.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// Acquire increments the handle's reference count. Must be paired with
// Release. Fails if the handle is mid-removal.
func (h *Handle) Acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return apperr.NotFoundf("product %q is being removed", h.endpoint)
	}
	h.refCount++
	return nil
}

// Release decrements the reference count, signalling any pending Remove once
// it reaches zero.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refCount > 0 {
		h.refCount--
	}
	if h.closing && h.refCount == 0 && h.closedCh != nil {
		select {
		case <-h.closedCh:
		default:
			close(h.closedCh)
		}
	}
}

// Registry is the live P-REG: endpoint -> Handle.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	store   cstore.ProductStore
	log     *logger.Logger
}

// New creates an empty registry backed by the given C-STORE product table.
func New(store cstore.ProductStore, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault("product-registry")
	}
	return &Registry{
		handles: make(map[string]*Handle),
		store:   store,
		log:     log,
	}
}

// Name implements system.Service.
func (r *Registry) Name() string { return "product-registry" }

// Start reads all product rows from C-STORE and attempts to open each Result
// Store connection, per spec §4.5.
func (r *Registry) Start(ctx context.Context) error {
	records, err := r.store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	for _, rec := range records {
		r.mountLocked(ctx, rec)
	}
	return nil
}

// Stop closes every live Result Store connection. Never touches the C-STORE
// rows or the underlying analysis databases.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		if h.conn != nil {
			_ = h.conn.Close()
		}
		h.mu.Unlock()
	}
	return nil
}

func (r *Registry) mountLocked(ctx context.Context, rec product.Record) *Handle {
	h := &Handle{endpoint: rec.Endpoint, record: rec}

	conn, err := resultstore.Open(ctx, rec.Conn)
	if err != nil {
		r.log.WithField("product", rec.Endpoint).Warnf("open result store: %v", err)
		rec.Schema = product.StatusDisconnected
		h.record = rec
	} else {
		h.conn = conn
		rec.Schema = product.StatusOK
		h.record = rec
	}

	r.mu.Lock()
	r.handles[rec.Endpoint] = h
	r.mu.Unlock()
	return h
}

// Add writes the product row, attempts to open the Result Store, and returns
// the resulting handle. Per spec §4.5 it does not create the target database
// itself except for SQLite, which resultstore.Open creates on first open.
func (r *Registry) Add(ctx context.Context, rec product.Record) (*Handle, error) {
	if rec.Endpoint == "products" {
		return nil, apperr.InputMalformedf("endpoint %q is reserved", rec.Endpoint)
	}
	rec.Schema = product.StatusDisconnected
	created, err := r.store.CreateProduct(ctx, rec)
	if err != nil {
		return nil, err
	}
	h := r.mountLocked(ctx, created)
	if h.conn != nil {
		if _, err := r.store.UpdateProduct(ctx, h.record); err != nil {
			r.log.WithField("product", rec.Endpoint).Warnf("persist schema status: %v", err)
		}
	}
	return h, nil
}

// Remove closes the handle's connection, removes the C-STORE row, and waits
// (up to the given timeout) for outstanding references to drain. Never
// touches the underlying analysis data (spec §4.5, property 6 of §8).
func (r *Registry) Remove(ctx context.Context, endpoint string, drainTimeout time.Duration) error {
	r.mu.Lock()
	h, ok := r.handles[endpoint]
	if ok {
		delete(r.handles, endpoint)
	}
	r.mu.Unlock()
	if !ok {
		return apperr.NotFoundf("product %q not found", endpoint)
	}

	h.mu.Lock()
	h.closing = true
	needsWait := h.refCount > 0
	if needsWait {
		h.closedCh = make(chan struct{})
	}
	conn := h.conn
	h.mu.Unlock()

	if needsWait {
		select {
		case <-h.closedCh:
		case <-time.After(drainTimeout):
		case <-ctx.Done():
		}
	}

	if conn != nil {
		_ = conn.Close()
	}
	return r.store.DeleteProduct(ctx, endpoint)
}

// Get returns the live handle for endpoint, or NotFound.
func (r *Registry) Get(endpoint string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[endpoint]
	if !ok {
		return nil, apperr.NotFoundf("product %q not found", endpoint)
	}
	return h, nil
}

// List returns a snapshot of every mounted product's record.
func (r *Registry) List() []product.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]product.Record, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h.Record())
	}
	return out
}

// Edit applies a patch to a mounted product, re-opening its connection if the
// connection spec changed.
func (r *Registry) Edit(ctx context.Context, endpoint string, patch product.Patch) (product.Record, error) {
	h, err := r.Get(endpoint)
	if err != nil {
		return product.Record{}, err
	}

	h.mu.Lock()
	rec := h.record
	if patch.DisplayName != nil {
		rec.DisplayName = *patch.DisplayName
	}
	if patch.Description != nil {
		rec.Description = *patch.Description
	}
	connChanged := patch.Conn != nil && *patch.Conn != rec.Conn
	if patch.Conn != nil {
		rec.Conn = *patch.Conn
	}
	oldConn := h.conn
	h.mu.Unlock()

	if connChanged {
		newConn, err := resultstore.Open(ctx, rec.Conn)
		if err != nil {
			rec.Schema = product.StatusBroken
		} else {
			rec.Schema = product.StatusOK
			h.mu.Lock()
			h.conn = newConn
			h.mu.Unlock()
			if oldConn != nil {
				_ = oldConn.Close()
			}
		}
	}

	h.mu.Lock()
	h.record = rec
	h.mu.Unlock()

	return r.store.UpdateProduct(ctx, rec)
}
