// Package task implements the Task Manager (TM), the Task Queue (Q), the
// Worker Pool (WP) and the Heartbeat/Reaper (HR): the centerpiece of the
// design, per spec §4.1/§4.4/§4.6.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/reviewdeck/core/internal/apperr"
)

// RunFunc is the implementation body of one task kind. It receives a
// RunContext (through which it calls Heartbeat/ShouldCancel/AddComment) and
// its own schema-validated parameter value, decoded from the envelope's
// payload bytes. Returning ErrCancelled signals that the implementation
// observed RunContext.ShouldCancel and stopped cooperatively; any other
// non-nil error marks the task FAILED.
type RunFunc func(ctx context.Context, rc *RunContext, params any) error

// Variant is one entry in the closed, code-defined set of task kinds (spec
// §3: "kind ... never user-supplied"). Each variant registers its own run
// function with TM at boot, replacing the source's per-subclass
// "override this method" pattern (spec §9).
type Variant struct {
	Kind string
	// NewParams returns a fresh zero value of the kind's parameter type,
	// used both as the JSON-unmarshal target and for the push-time
	// round-trip serializability check of spec §4.4.
	NewParams func() any
	Run       RunFunc
}

// Registry is the closed set of kinds the server recognizes. Kinds are
// registered once at boot; lookups are read-only for the remainder of the
// process lifetime but the registry stays safe for concurrent reads during
// startup races (tests register kinds from init-like helpers).
type Registry struct {
	mu       sync.RWMutex
	variants map[string]Variant
}

// NewRegistry builds an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{variants: make(map[string]Variant)}
}

// Register adds a variant. Returns an error if the kind is already
// registered or incompletely specified.
func (r *Registry) Register(v Variant) error {
	if v.Kind == "" {
		return fmt.Errorf("task: variant kind must not be empty")
	}
	if v.NewParams == nil || v.Run == nil {
		return fmt.Errorf("task: variant %q must set NewParams and Run", v.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.variants[v.Kind]; exists {
		return fmt.Errorf("task: kind %q already registered", v.Kind)
	}
	r.variants[v.Kind] = v
	return nil
}

// Lookup returns the variant for kind, or apperr.InputMalformed ("IllegalKind"
// in spec terms) if it is not in the registry.
func (r *Registry) Lookup(kind string) (Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[kind]
	if !ok {
		return Variant{}, apperr.InputMalformedf("illegal task kind %q", kind)
	}
	return v, nil
}

// Known reports whether kind is registered, without returning an error.
func (r *Registry) Known(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.variants[kind]
	return ok
}

// decodeParams unmarshals raw into a fresh instance of the variant's
// parameter type.
func (v Variant) decodeParams(raw json.RawMessage) (any, error) {
	target := v.NewParams()
	if len(raw) == 0 {
		return target, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode params for kind %q: %w", v.Kind, err)
	}
	return target, nil
}
