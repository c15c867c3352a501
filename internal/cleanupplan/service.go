// Package cleanupplan implements the product-scoped Cleanup Plan service of
// spec §4/§6.1: list/create/update/close/reopen/delete plus setPlan/unsetPlan
// report-hash membership operations.
package cleanupplan

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/cstore"
	"github.com/reviewdeck/core/internal/domain/cleanupplan"
)

// Service is the RPC-facing surface over the cleanup_plans table.
type Service struct {
	store cstore.CleanupPlanStore
}

// New builds a Service backed by the given C-STORE table.
func New(store cstore.CleanupPlanStore) *Service {
	return &Service{store: store}
}

// Create adds a new, unique-per-product-named cleanup plan.
func (s *Service) Create(ctx context.Context, product, name, description string, dueDate *time.Time) (cleanupplan.Record, error) {
	if name == "" {
		return cleanupplan.Record{}, apperr.InputMalformedf("cleanup plan name must not be empty")
	}
	rec := cleanupplan.Record{
		ID:           uuid.NewString(),
		Product:      product,
		Name:         name,
		Description:  description,
		DueDate:      dueDate,
		ReportHashes: make(map[string]bool),
	}
	return s.store.CreatePlan(ctx, rec)
}

// Update applies a patch to an existing plan.
func (s *Service) Update(ctx context.Context, id string, patch cleanupplan.Patch) (cleanupplan.Record, error) {
	rec, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return cleanupplan.Record{}, err
	}
	if patch.Name != nil {
		rec.Name = *patch.Name
	}
	if patch.Description != nil {
		rec.Description = *patch.Description
	}
	if patch.DueDate != nil {
		rec.DueDate = patch.DueDate
	}
	return s.store.UpdatePlan(ctx, rec)
}

// Close sets closed_at to now.
func (s *Service) Close(ctx context.Context, id string) (cleanupplan.Record, error) {
	rec, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return cleanupplan.Record{}, err
	}
	now := time.Now().UTC()
	rec.ClosedAt = &now
	return s.store.UpdatePlan(ctx, rec)
}

// Reopen clears closed_at.
func (s *Service) Reopen(ctx context.Context, id string) (cleanupplan.Record, error) {
	rec, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return cleanupplan.Record{}, err
	}
	rec.ClosedAt = nil
	return s.store.UpdatePlan(ctx, rec)
}

// Delete hard-deletes a plan.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeletePlan(ctx, id)
}

// List returns every plan scoped to a product.
func (s *Service) List(ctx context.Context, product string) ([]cleanupplan.Record, error) {
	return s.store.ListPlans(ctx, product)
}

// Get returns a single plan by id.
func (s *Service) Get(ctx context.Context, id string) (cleanupplan.Record, error) {
	return s.store.GetPlan(ctx, id)
}

// SetPlan adds report hashes to a plan's membership set. A report hash may
// belong to multiple plans, per spec §3.
func (s *Service) SetPlan(ctx context.Context, id string, hashes []string) (cleanupplan.Record, error) {
	rec, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return cleanupplan.Record{}, err
	}
	if rec.ReportHashes == nil {
		rec.ReportHashes = make(map[string]bool)
	}
	for _, h := range hashes {
		rec.ReportHashes[h] = true
	}
	return s.store.UpdatePlan(ctx, rec)
}

// UnsetPlan removes report hashes from a plan's membership set.
func (s *Service) UnsetPlan(ctx context.Context, id string, hashes []string) (cleanupplan.Record, error) {
	rec, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return cleanupplan.Record{}, err
	}
	for _, h := range hashes {
		delete(rec.ReportHashes, h)
	}
	return s.store.UpdatePlan(ctx, rec)
}
