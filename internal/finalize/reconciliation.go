package finalize

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

// Reconciliation is money that was collected but could not be turned into a
// booking automatically. Each row is worked off by an operator.
type Reconciliation struct {
	ID               uuid.UUID
	PaymentReference string
	Reason           string
	AmountCents      int64
	ReceiptNumber    *string
	Resolved         bool
	ResolvedAt       *time.Time
	CreatedAt        time.Time
}

// ErrReconciliationNotFound is returned when the row does not exist.
var ErrReconciliationNotFound = errors.New("finalize: reconciliation not found")

// ReconciliationStore persists reconciliation work items.
type ReconciliationStore struct {
	pool PgxPool
}

func NewReconciliationStore(pool PgxPool) *ReconciliationStore {
	if pool == nil {
		panic("finalize: pgx pool required")
	}
	return &ReconciliationStore{pool: pool}
}

// Record inserts a reconciliation row. One row per reference and reason;
// replayed callbacks do not produce duplicates.
func (s *ReconciliationStore) Record(ctx context.Context, reference, reason string, amountCents int64, receipt *string) (bool, error) {
	const q = `
		INSERT INTO reconciliations (id, payment_reference, reason, amount_cents, receipt_number)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (payment_reference, reason) DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, q, uuid.New(), reference, reason, amountCents, receipt)
	if err != nil {
		return false, fmt.Errorf("finalize: record reconciliation: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListUnresolved returns open reconciliation rows, oldest first.
func (s *ReconciliationStore) ListUnresolved(ctx context.Context, limit int) ([]Reconciliation, error) {
	const q = `
		SELECT id, payment_reference, reason, amount_cents, receipt_number, resolved, resolved_at, created_at
		FROM reconciliations
		WHERE NOT resolved
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("finalize: list reconciliations: %w", err)
	}
	defer rows.Close()

	var out []Reconciliation
	for rows.Next() {
		var r Reconciliation
		if err := rows.Scan(&r.ID, &r.PaymentReference, &r.Reason, &r.AmountCents,
			&r.ReceiptNumber, &r.Resolved, &r.ResolvedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("finalize: scan reconciliation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finalize: iterate reconciliations: %w", err)
	}
	return out, nil
}

// Resolve marks a reconciliation as worked off.
func (s *ReconciliationStore) Resolve(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE reconciliations SET resolved = true, resolved_at = now() WHERE id = $1 AND NOT resolved`, id)
	if err != nil {
		return fmt.Errorf("finalize: resolve reconciliation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrReconciliationNotFound
	}
	return nil
}
