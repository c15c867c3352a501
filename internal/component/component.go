// Package component implements the supplemented "source_components" feature
// of SPEC_FULL.md §3.1: named, product-scoped groupings of source-path glob
// patterns used to tag findings by subsystem for triage. CRUD only; glob
// evaluation against findings is a Result Store concern (spec §1's "storage
// is opaque key/value/report tables" boundary) and stays out of scope here.
package component

import (
	"context"

	"github.com/google/uuid"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/cstore"
)

// Service is the CRUD surface over the source_components table.
type Service struct {
	store cstore.SourceComponentStore
}

// New builds a Service backed by the given C-STORE table.
func New(store cstore.SourceComponentStore) *Service {
	return &Service{store: store}
}

// Add creates a new component for a product.
func (s *Service) Add(ctx context.Context, product, name string, globs []string) (cstore.SourceComponent, error) {
	if name == "" {
		return cstore.SourceComponent{}, apperr.InputMalformedf("component name must not be empty")
	}
	if len(globs) == 0 {
		return cstore.SourceComponent{}, apperr.InputMalformedf("component must declare at least one glob")
	}
	c := cstore.SourceComponent{
		ID:      uuid.NewString(),
		Product: product,
		Name:    name,
		Globs:   globs,
	}
	return s.store.AddComponent(ctx, c)
}

// Edit updates an existing component's name and glob list.
func (s *Service) Edit(ctx context.Context, id, product, name string, globs []string) (cstore.SourceComponent, error) {
	c := cstore.SourceComponent{ID: id, Product: product, Name: name, Globs: globs}
	return s.store.EditComponent(ctx, c)
}

// List returns every component scoped to a product.
func (s *Service) List(ctx context.Context, product string) ([]cstore.SourceComponent, error) {
	return s.store.ListComponents(ctx, product)
}

// Delete removes a component by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteComponent(ctx, id)
}
