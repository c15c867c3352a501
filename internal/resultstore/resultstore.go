// Package resultstore implements the Result Store adapter (R-STORE): a
// per-product persistent store for analysis findings, run metadata, cleanup
// plans, comments and review-status history. Per spec §1 the finding schema
// itself is out of scope; this package only owns the capability spec §2
// describes: "open/close connection; execute a transactional unit of work."
package resultstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reviewdeck/core/internal/domain/product"
)

// Handle is a live connection to one product's Result Store.
type Handle interface {
	// WithTx runs fn inside a transaction, committing on success and rolling
	// back on error or panic.
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	// Ping verifies the underlying connection is alive, used by P-REG to
	// (re)compute a product's schema status.
	Ping(ctx context.Context) error
	// Close releases the connection. Per spec §1/§4.5, closing never deletes
	// the underlying database.
	Close() error
}

// Open dispatches on the connection spec's discriminant to produce a live
// Handle, per spec §4.5 ("attempts to open the Result Store connection").
func Open(ctx context.Context, spec product.ConnSpec) (Handle, error) {
	switch spec.Kind {
	case product.ConnSQLite:
		return openSQLite(ctx, spec.SQLitePath)
	case product.ConnPostgres:
		return openPostgres(ctx, spec)
	default:
		return nil, fmt.Errorf("unknown connection kind %q", spec.Kind)
	}
}

type sqlHandle struct {
	db *sql.DB
}

func (h *sqlHandle) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (h *sqlHandle) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

func (h *sqlHandle) Close() error {
	return h.db.Close()
}
