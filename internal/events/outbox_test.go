package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewOutboxStore(mock)

	mock.ExpectExec("INSERT INTO outbox").WithArgs(pgxmock.AnyArg(), "booking:b-1", "booking.finalized.v1", pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := store.Insert(context.Background(), "booking:b-1", "booking.finalized.v1", map[string]string{"payment_reference": "TC-1"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "topic", "event_type", "payload", "created_at"}).AddRow(id, "booking:b-1", "booking.finalized.v1", []byte("{\"payment_reference\":\"TC-1\"}"), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkPublished(context.Background(), id)
	if err != nil {
		t.Fatalf("mark published failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark published to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type captureHandler struct {
	entries []OutboxEntry
}

func (c *captureHandler) Handle(_ context.Context, entry OutboxEntry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func TestDelivererDrainsPendingEntries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewOutboxStore(mock)
	handler := &captureHandler{}
	d := NewDeliverer(store, handler, nil).WithBatchSize(5)

	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "topic", "event_type", "payload", "created_at"}).
		AddRow(id, "payment:TC-1", "payment.reconciliation_required.v1", []byte(`{}`), time.Now().UTC())
	mock.ExpectQuery("SELECT id").WithArgs(int32(5)).WillReturnRows(rows)
	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	d.drain(context.Background())

	if len(handler.entries) != 1 || handler.entries[0].ID != id {
		t.Fatalf("expected entry delivered, got %#v", handler.entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
