// Package system provides the service lifecycle manager shared by every long-running
// component of the application (C-STORE connections, the product registry, the task
// manager's worker pool and reaper, the HTTP dispatcher). It guarantees deterministic
// start/stop ordering with rollback on partial start.
package system

import (
	"context"

	"github.com/reviewdeck/core/internal/core"
)

// Service represents a lifecycle-managed component.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises service metadata for introspection.
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
