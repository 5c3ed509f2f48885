package finalize

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newReconciliationStore(t *testing.T) (*ReconciliationStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewReconciliationStore(mock), mock
}

func TestListUnresolvedReturnsOldestFirst(t *testing.T) {
	store, mock := newReconciliationStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "payment_reference", "reason", "amount_cents", "receipt_number", "resolved", "resolved_at", "created_at",
	}).
		AddRow(uuid.New(), "TC-1", "slot taken at finalization", int64(150000), nil, false, nil, testNow).
		AddRow(uuid.New(), "TC-2", "paid after terminal state expired", int64(90000), nil, false, nil, testNow)
	mock.ExpectQuery("SELECT (.+) FROM reconciliations").
		WithArgs(50).
		WillReturnRows(rows)

	items, err := store.ListUnresolved(context.Background(), 50)
	if err != nil {
		t.Fatalf("ListUnresolved: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(items))
	}
	if items[0].PaymentReference != "TC-1" {
		t.Errorf("expected oldest row first, got %s", items[0].PaymentReference)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveMarksRowWorkedOff(t *testing.T) {
	store, mock := newReconciliationStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE reconciliations SET resolved").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.Resolve(context.Background(), id); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveUnknownRowNotFound(t *testing.T) {
	store, mock := newReconciliationStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE reconciliations SET resolved").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if !errors.Is(store.Resolve(context.Background(), id), ErrReconciliationNotFound) {
		t.Fatalf("expected ErrReconciliationNotFound")
	}
}
