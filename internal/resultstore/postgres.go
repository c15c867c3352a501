package resultstore

import (
	"context"

	"github.com/reviewdeck/core/internal/domain/product"
	"github.com/reviewdeck/core/internal/platform/database"
)

// openPostgres opens a PostgreSQL-backed product Result Store, sharing the
// same connection-opening/ping/timeout convention C-STORE uses.
func openPostgres(ctx context.Context, spec product.ConnSpec) (Handle, error) {
	db, err := database.Open(ctx, spec.DSN())
	if err != nil {
		return nil, err
	}
	return &sqlHandle{db: db}, nil
}
