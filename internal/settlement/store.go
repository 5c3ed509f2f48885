package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the pool surface the store needs; pgxmock satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordStatus is the lifecycle of one forwarding attempt.
type RecordStatus string

const (
	RecordPending RecordStatus = "pending"
	RecordSuccess RecordStatus = "success"
	RecordFailed  RecordStatus = "failed"
)

// Record is one attempt to forward a collected payment to the ledger. A
// failed record is an audit trail entry, not an error surfaced to patients.
type Record struct {
	ID               uuid.UUID
	PaymentReference string
	Status           RecordStatus
	KesAmountCents   int64
	USDCAmount       float64
	TxHash           *string
	Error            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ErrRecordNotFound is returned when no settlement record matches.
var ErrRecordNotFound = errors.New("settlement: record not found")

// Store persists settlement records in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("settlement: pgx pool required")
	}
	return &Store{pool: pool}
}

// Create inserts a pending record for a forwarding attempt.
func (s *Store) Create(ctx context.Context, reference string, kesCents int64, usdcAmount float64) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlement_records (id, payment_reference, status, kes_amount_cents, usdc_amount)
		 VALUES ($1, $2, 'pending', $3, $4)`,
		id, reference, kesCents, usdcAmount)
	if err != nil {
		return uuid.Nil, fmt.Errorf("settlement: create record: %w", err)
	}
	return id, nil
}

// MarkSuccess records the submitted transaction hash.
func (s *Store) MarkSuccess(ctx context.Context, id uuid.UUID, txHash string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE settlement_records SET status = 'success', tx_hash = $2, updated_at = now() WHERE id = $1`,
		id, txHash)
	if err != nil {
		return fmt.Errorf("settlement: mark success: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkFailed records why the attempt did not land.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE settlement_records SET status = 'failed', error = $2, updated_at = now() WHERE id = $1`,
		id, cause)
	if err != nil {
		return fmt.Errorf("settlement: mark failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// List returns settlement records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	const q = `
		SELECT id, payment_reference, status, kes_amount_cents, usdc_amount, tx_hash, error, created_at, updated_at
		FROM settlement_records
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement: list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var status string
		if err := rows.Scan(&r.ID, &r.PaymentReference, &status, &r.KesAmountCents,
			&r.USDCAmount, &r.TxHash, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("settlement: scan record: %w", err)
		}
		r.Status = RecordStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settlement: iterate records: %w", err)
	}
	return out, nil
}
