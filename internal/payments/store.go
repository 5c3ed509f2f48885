package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the pool surface the store needs; pgxmock satisfies it in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists payment sessions in Postgres. Postgres is the source of
// truth for session state; Redis only caches reads.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &Store{pool: pool}
}

const sessionColumns = `reference, gateway, provider_ref, status,
       provider_id, provider_type, patient_id, service_id, scheduled_at, ends_at, booking_id,
       amount_cents, currency, phone, email,
       receipt_number, failure_reason, created_at, updated_at, expires_at`

// Create inserts a new session row.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	const q = `
		INSERT INTO payment_sessions (reference, gateway, provider_ref, status,
		        provider_id, provider_type, patient_id, service_id, scheduled_at, ends_at, booking_id,
		        amount_cents, currency, phone, email, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`
	err := s.pool.QueryRow(ctx, q,
		sess.Reference, string(sess.Gateway), sess.ProviderRef, string(sess.Status),
		sess.ProviderID, sess.ProviderType, sess.PatientID, sess.ServiceID, sess.ScheduledAt, sess.EndsAt, sess.BookingID,
		sess.AmountCents, sess.Currency, sess.Phone, sess.Email, sess.ExpiresAt,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payments: insert session: %w", err)
	}
	return nil
}

// GetByReference fetches a session by its merchant reference.
func (s *Store) GetByReference(ctx context.Context, reference string) (*Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE reference = $1`
	sess, err := scanSession(s.pool.QueryRow(ctx, q, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("payments: load session: %w", err)
	}
	return sess, nil
}

// GetByProviderRef fetches a session by the gateway's identifier, e.g. the
// M-Pesa CheckoutRequestID or the Pesapal order tracking id.
func (s *Store) GetByProviderRef(ctx context.Context, providerRef string) (*Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE provider_ref = $1`
	sess, err := scanSession(s.pool.QueryRow(ctx, q, providerRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("payments: load session by provider ref: %w", err)
	}
	return sess, nil
}

// Transition moves an open session to a new status. The guard makes
// terminal states final: a row already succeeded, failed, or expired is
// never rewritten, so a late duplicate callback cannot flip an outcome.
// ErrSessionClosed is returned when the row exists but is terminal.
func (s *Store) Transition(ctx context.Context, reference string, to SessionStatus, receipt, failureReason *string) (*Session, error) {
	const q = `
		UPDATE payment_sessions
		SET status = $2,
		    receipt_number = COALESCE($3, receipt_number),
		    failure_reason = COALESCE($4, failure_reason),
		    updated_at = now()
		WHERE reference = $1 AND status = ANY($5)
		RETURNING ` + sessionColumns
	sess, err := scanSession(s.pool.QueryRow(ctx, q, reference, string(to), receipt, failureReason, openStatuses))
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payments: transition session: %w", err)
	}
	if _, getErr := s.GetByReference(ctx, reference); getErr != nil {
		return nil, getErr
	}
	return nil, ErrSessionClosed
}

// ExpireStale marks open sessions past their deadline as expired and
// returns the affected references.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) ([]string, error) {
	const q = `
		UPDATE payment_sessions
		SET status = 'expired', updated_at = now()
		WHERE status = ANY($1) AND expires_at < $2
		RETURNING reference
	`
	rows, err := s.pool.Query(ctx, q, openStatuses, now)
	if err != nil {
		return nil, fmt.Errorf("payments: expire stale: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("payments: scan expired ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payments: iterate expired refs: %w", err)
	}
	return refs, nil
}

// ListOpen returns open sessions, oldest first, for the status poller.
func (s *Store) ListOpen(ctx context.Context, limit int) ([]Session, error) {
	const q = `
		SELECT ` + sessionColumns + `
		FROM payment_sessions
		WHERE status = ANY($1)
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, openStatuses, limit)
	if err != nil {
		return nil, fmt.Errorf("payments: list open: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("payments: scan session: %w", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payments: iterate sessions: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var gateway, status string
	if err := row.Scan(
		&sess.Reference, &gateway, &sess.ProviderRef, &status,
		&sess.ProviderID, &sess.ProviderType, &sess.PatientID, &sess.ServiceID, &sess.ScheduledAt, &sess.EndsAt, &sess.BookingID,
		&sess.AmountCents, &sess.Currency, &sess.Phone, &sess.Email,
		&sess.ReceiptNumber, &sess.FailureReason, &sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt,
	); err != nil {
		return nil, err
	}
	sess.Gateway = Gateway(gateway)
	sess.Status = SessionStatus(status)
	return &sess, nil
}
