package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx used inside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the pool surface the store needs; pgxmock satisfies it in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists bookings in Postgres.
type Store struct {
	pool PgxPool
}

// NewStore creates a booking store backed by pgx.
func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &Store{pool: pool}
}

const bookingColumns = `id, provider_id, provider_type, patient_id, scheduled_at, ends_at,
       status, payment_reference, amount_cents, is_paid, created_at, updated_at`

// ErrDuplicatePaymentRef is returned when a booking for the payment
// reference already exists; callers re-fetch instead of inserting twice.
var ErrDuplicatePaymentRef = errors.New("scheduling: payment reference already finalized")

// Reserve inserts a slot-holding booking atomically. An advisory lock on
// the provider's day serializes racing reservations so the overlap check
// sees every committed span, and the partial unique index on
// (provider_id, provider_type, scheduled_at) backstops identical starts.
// The lock releases at commit or rollback. Exactly one of two racing
// callers wins; the loser gets ErrSlotTaken.
func (s *Store) Reserve(ctx context.Context, b *Booking, step time.Duration) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	holdEnd := b.ScheduledAt.Add(step)
	if b.EndsAt != nil && b.EndsAt.After(holdEnd) {
		holdEnd = *b.EndsAt
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("scheduling: begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Grids close well before midnight, so one day key covers every span.
	lockKey := b.ProviderID.String() + "/" + string(b.ProviderType) + "/" + b.ScheduledAt.UTC().Format("2006-01-02")
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return fmt.Errorf("scheduling: acquire slot lock: %w", err)
	}

	const overlapQ = `
		SELECT 1 FROM bookings
		WHERE provider_id = $1 AND provider_type = $2
		  AND status = ANY($3)
		  AND scheduled_at < $5
		  AND COALESCE(ends_at, scheduled_at + make_interval(secs => $6)) > $4
		LIMIT 1
	`
	var one int
	err = tx.QueryRow(ctx, overlapQ,
		b.ProviderID, string(b.ProviderType), slotHoldingStatuses,
		b.ScheduledAt, holdEnd, step.Seconds(),
	).Scan(&one)
	switch {
	case err == nil:
		return ErrSlotTaken
	case errors.Is(err, pgx.ErrNoRows):
		// slot free, proceed
	default:
		return fmt.Errorf("scheduling: overlap check: %w", err)
	}

	const insertQ = `
		INSERT INTO bookings (id, provider_id, provider_type, patient_id, scheduled_at, ends_at,
		                      status, payment_reference, amount_cents, is_paid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider_id, provider_type, scheduled_at)
			WHERE status IN ('scheduled','confirmed','in_progress')
			DO NOTHING
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, insertQ,
		b.ID, b.ProviderID, string(b.ProviderType), b.PatientID, b.ScheduledAt, b.EndsAt,
		string(b.Status), b.PaymentReference, b.AmountCents, b.IsPaid,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotTaken
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "bookings_payment_reference_key" {
				return ErrDuplicatePaymentRef
			}
			return ErrSlotTaken
		}
		return fmt.Errorf("scheduling: insert booking: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("scheduling: commit reserve: %w", err)
	}
	return nil
}

// ListHeldBetween returns slot-holding bookings for a provider whose start
// falls in [from, to), ordered by start time.
func (s *Store) ListHeldBetween(ctx context.Context, providerID uuid.UUID, pt ProviderType, from, to time.Time) ([]Booking, error) {
	const q = `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE provider_id = $1 AND provider_type = $2
		  AND status = ANY($3)
		  AND scheduled_at >= $4 AND scheduled_at < $5
		ORDER BY scheduled_at
	`
	rows, err := s.pool.Query(ctx, q, providerID, string(pt), slotHoldingStatuses, from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list held: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

// GetByID fetches a single booking.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	b, err := scanBooking(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scheduling: load booking: %w", err)
	}
	return b, nil
}

// GetByPaymentReference fetches the booking a payment session finalized, if any.
func (s *Store) GetByPaymentReference(ctx context.Context, reference string) (*Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE payment_reference = $1`
	b, err := scanBooking(s.pool.QueryRow(ctx, q, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scheduling: load by payment ref: %w", err)
	}
	return b, nil
}

// UpdateStatus moves a booking to a new status, but only from one of the
// allowed source statuses. ErrInvalidTransition is returned when the row
// exists in a different state.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Booking, error) {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	const q = `
		UPDATE bookings SET status = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + bookingColumns
	b, err := scanBooking(s.pool.QueryRow(ctx, q, id, allowed, string(to)))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scheduling: update status: %w", err)
	}
	if _, getErr := s.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidTransition
}

// ConfirmPaid confirms a held booking after its payment session succeeded.
// Only an unpaid scheduled hold qualifies; a hold that was cancelled or
// already paid surfaces as ErrInvalidTransition so the caller can divert
// the money to reconciliation.
func (s *Store) ConfirmPaid(ctx context.Context, id uuid.UUID, reference string) (*Booking, error) {
	const q = `
		UPDATE bookings
		SET status = 'confirmed', is_paid = true, payment_reference = $2, updated_at = now()
		WHERE id = $1 AND status = 'scheduled' AND is_paid = false
		RETURNING ` + bookingColumns
	b, err := scanBooking(s.pool.QueryRow(ctx, q, id, reference))
	if err == nil {
		return b, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrDuplicatePaymentRef
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scheduling: confirm paid: %w", err)
	}
	if _, getErr := s.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidTransition
}

// Delete removes a booking that is still only scheduled.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM bookings WHERE id = $1 AND status = 'scheduled'`, id)
	if err != nil {
		return fmt.Errorf("scheduling: delete booking: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrNotDeletable
}

// ListByPatient returns a patient's bookings, newest first.
func (s *Store) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE patient_id = $1 ORDER BY scheduled_at DESC`
	rows, err := s.pool.Query(ctx, q, patientID)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list by patient: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

// ListByProvider returns a provider's bookings, soonest first.
func (s *Store) ListByProvider(ctx context.Context, providerID uuid.UUID, pt ProviderType) ([]Booking, error) {
	const q = `
		SELECT ` + bookingColumns + `
		FROM bookings WHERE provider_id = $1 AND provider_type = $2
		ORDER BY scheduled_at
	`
	rows, err := s.pool.Query(ctx, q, providerID, string(pt))
	if err != nil {
		return nil, fmt.Errorf("scheduling: list by provider: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var ptype, status string
	if err := row.Scan(
		&b.ID, &b.ProviderID, &ptype, &b.PatientID, &b.ScheduledAt, &b.EndsAt,
		&status, &b.PaymentReference, &b.AmountCents, &b.IsPaid, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.ProviderType = ProviderType(ptype)
	b.Status = Status(status)
	return &b, nil
}

func scanBookings(rows pgx.Rows) ([]Booking, error) {
	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan booking: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: iterate bookings: %w", err)
	}
	return out, nil
}
