package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newReserveBooking(start time.Time) *Booking {
	return &Booking{
		ProviderID:   uuid.New(),
		ProviderType: ProviderDoctor,
		PatientID:    uuid.New(),
		ScheduledAt:  start,
		Status:       StatusScheduled,
		AmountCents:  150000,
	}
}

// expectSlotLock matches the per-provider-day advisory lock Reserve takes
// right after Begin.
func expectSlotLock(mock pgxmock.PgxPoolIface, b *Booking) {
	key := b.ProviderID.String() + "/" + string(b.ProviderType) + "/" + b.ScheduledAt.UTC().Format("2006-01-02")
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(key).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func TestReserveWinsFreeSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	start := date(2026, time.September, 7).Add(9 * time.Hour)
	b := newReserveBooking(start)

	mock.ExpectBegin()
	expectSlotLock(mock, b)
	mock.ExpectQuery("SELECT 1 FROM bookings").
		WithArgs(b.ProviderID, "doctor", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(pgxmock.AnyArg(), b.ProviderID, "doctor", b.PatientID, start, pgxmock.AnyArg(),
			"scheduled", pgxmock.AnyArg(), int64(150000), false).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).
			AddRow(time.Now(), time.Now()))
	mock.ExpectCommit()
	mock.ExpectRollback()

	if err := store.Reserve(context.Background(), b, 30*time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if b.ID == uuid.Nil {
		t.Fatalf("expected booking id assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReserveRejectsOverlap(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	start := date(2026, time.September, 7).Add(9 * time.Hour)
	b := newReserveBooking(start)

	mock.ExpectBegin()
	expectSlotLock(mock, b)
	mock.ExpectQuery("SELECT 1 FROM bookings").
		WithArgs(b.ProviderID, "doctor", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	if err := store.Reserve(context.Background(), b, 30*time.Minute); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReserveLosesInsertRace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	start := date(2026, time.September, 7).Add(9 * time.Hour)
	b := newReserveBooking(start)

	mock.ExpectBegin()
	expectSlotLock(mock, b)
	mock.ExpectQuery("SELECT 1 FROM bookings").
		WithArgs(b.ProviderID, "doctor", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO bookings").
		WithArgs(pgxmock.AnyArg(), b.ProviderID, "doctor", b.PatientID, start, pgxmock.AnyArg(),
			"scheduled", pgxmock.AnyArg(), int64(150000), false).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	if err := store.Reserve(context.Background(), b, 30*time.Minute); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken on conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// A nursing visit with an explicit end holds every grid slot it spans. The
// advisory lock must be taken before the overlap check so a reservation at a
// different start inside that span sees the committed visit instead of
// racing past it.
func TestReserveLocksProviderDayBeforeOverlapCheck(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	start := date(2026, time.September, 7).Add(9 * time.Hour)
	visitEnd := start.Add(3 * time.Hour)
	b := newReserveBooking(start)
	b.ProviderType = ProviderNursing
	b.EndsAt = &visitEnd

	// Ordered expectations: lock first, overlap check second.
	mock.ExpectBegin()
	key := b.ProviderID.String() + "/nursing/" + start.UTC().Format("2006-01-02")
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(key).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT 1 FROM bookings").
		WithArgs(b.ProviderID, "nursing", pgxmock.AnyArg(), start, visitEnd, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	if err := store.Reserve(context.Background(), b, time.Hour); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken for span overlap, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfirmPaidConfirmsScheduledHold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	id := uuid.New()
	mock.ExpectQuery("UPDATE bookings").
		WithArgs(id, "TC-HOLD1").
		WillReturnRows(bookingRows(id, "confirmed"))

	b, err := store.ConfirmPaid(context.Background(), id, "TC-HOLD1")
	if err != nil {
		t.Fatalf("ConfirmPaid: %v", err)
	}
	if b.Status != StatusConfirmed {
		t.Fatalf("expected confirmed booking, got %s", b.Status)
	}
}

func TestConfirmPaidRejectsSpentHold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	id := uuid.New()
	mock.ExpectQuery("UPDATE bookings").
		WithArgs(id, "TC-HOLD2").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs(id).
		WillReturnRows(bookingRows(id, "cancelled"))

	if _, err := store.ConfirmPaid(context.Background(), id, "TC-HOLD2"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestConfirmPaidMissingHold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	id := uuid.New()
	mock.ExpectQuery("UPDATE bookings").
		WithArgs(id, "TC-HOLD3").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.ConfirmPaid(context.Background(), id, "TC-HOLD3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatusGuardsTransition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	id := uuid.New()
	mock.ExpectQuery("UPDATE bookings SET status").
		WithArgs(id, pgxmock.AnyArg(), "completed").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs(id).
		WillReturnRows(bookingRows(id, "cancelled"))

	_, err = store.UpdateStatus(context.Background(), id, []Status{StatusInProgress}, StatusCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusMissingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	id := uuid.New()
	mock.ExpectQuery("UPDATE bookings SET status").
		WithArgs(id, pgxmock.AnyArg(), "confirmed").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.UpdateStatus(context.Background(), id, []Status{StatusScheduled}, StatusConfirmed)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteOnlyScheduled(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewStore(mock)

	id := uuid.New()
	mock.ExpectExec("DELETE FROM bookings").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("SELECT (.+) FROM bookings WHERE id").
		WithArgs(id).
		WillReturnRows(bookingRows(id, "confirmed"))

	if err := store.Delete(context.Background(), id); !errors.Is(err, ErrNotDeletable) {
		t.Fatalf("expected ErrNotDeletable, got %v", err)
	}
}

func bookingRows(id uuid.UUID, status string) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows([]string{
		"id", "provider_id", "provider_type", "patient_id", "scheduled_at", "ends_at",
		"status", "payment_reference", "amount_cents", "is_paid", "created_at", "updated_at",
	}).AddRow(id, uuid.New(), "doctor", uuid.New(), now, nil, status, nil, int64(150000), false, now, now)
}
