package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/reviewdeck/core/internal/apperr"
	"github.com/reviewdeck/core/internal/domain/product"
	"github.com/reviewdeck/core/internal/domain/task"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateProductUniqueViolationMapsToConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO products").
		WillReturnError(&pqError{msg: `pq: duplicate key value violates unique constraint "products_pkey"`})

	_, err := store.CreateProduct(context.Background(), product.Record{Endpoint: "demo"})
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetProductNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT endpoint, display_name, description, conn_spec, schema_status").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "display_name", "description", "conn_spec", "schema_status"}))

	_, err := store.GetProduct(context.Background(), "missing")
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionStatusCASFailureSurfacesConflict(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	cols := []string{
		"token", "kind", "summary", "actor", "product", "status", "created_at",
		"enqueued_at", "started_at", "last_heartbeat_at", "finished_at",
		"cancel_requested", "owning_server_id", "consumed",
	}
	mock.ExpectQuery("SELECT t.token").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"tok-1", "echo", "demo", nil, nil, string(task.Allocated), now,
			nil, nil, nil, nil, false, nil, false,
		))
	mock.ExpectQuery("SELECT actor, created_at, body").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"actor", "created_at", "body"}))

	mock.ExpectExec("UPDATE tasks SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.TransitionStatus(context.Background(), "tok-1", task.Allocated, task.Enqueued, func(r *task.Record) {
		r.OwningServerID = "server-a"
	})
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("expected Conflict on zero rows affected, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListTasksBuildsFilterPredicate(t *testing.T) {
	store, mock := newMockStore(t)

	cols := []string{
		"token", "kind", "summary", "actor", "product", "status", "created_at",
		"enqueued_at", "started_at", "last_heartbeat_at", "finished_at",
		"cancel_requested", "owning_server_id", "consumed",
	}
	mock.ExpectQuery(`SELECT t\.token.*WHERE t\.status IN \(\$1,\$2\) AND t\.kind = \$3 AND t\.product = \$4 ORDER BY t\.created_at DESC LIMIT \$5`).
		WithArgs(string(task.Running), string(task.Enqueued), "echo", "demo", 10).
		WillReturnRows(sqlmock.NewRows(cols))

	_, err := store.ListTasks(context.Background(), task.Filter{
		Statuses: []task.Status{task.Running, task.Enqueued},
		Kind:     "echo",
		Product:  "demo",
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// pqError mimics the textual shape of a lib/pq unique-violation error without
// importing the driver's internal error type, matching isUniqueViolation's
// substring-based detection.
type pqError struct{ msg string }

func (e *pqError) Error() string { return e.msg }
