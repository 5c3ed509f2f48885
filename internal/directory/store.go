package directory

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

// Provider is a doctor, lab, or home-nursing operator patients book with.
type Provider struct {
	ID                   uuid.UUID `json:"id"`
	Type                 string    `json:"type"`
	Name                 string    `json:"name"`
	Specialty            string    `json:"specialty,omitempty"`
	ConsultationFeeCents int64     `json:"consultation_fee_cents"`
	CreatedAt            time.Time `json:"created_at"`
}

// Patient is a registered care seeker.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Service is a priced offering of a provider, e.g. a lab panel or a nursing
// visit type. Duration feeds the booking's end time for multi-slot visits.
type Service struct {
	ID              uuid.UUID `json:"id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	Name            string    `json:"name"`
	PriceCents      int64     `json:"price_cents"`
	DurationMinutes int       `json:"duration_minutes"`
}

var (
	ErrProviderNotFound = errors.New("directory: provider not found")
	ErrPatientNotFound  = errors.New("directory: patient not found")
	ErrServiceNotFound  = errors.New("directory: service not found")
	// ErrDuplicatePatient is returned when the phone number is already
	// registered.
	ErrDuplicatePatient = errors.New("directory: phone already registered")
)

// Store persists the provider/patient/service directory.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("directory: pgx pool required")
	}
	return &Store{pool: pool}
}

// CreatePatient registers a patient. Phone numbers are unique.
func (s *Store) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO patients (id, full_name, phone, email) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		p.ID, p.FullName, p.Phone, p.Email,
	).Scan(&p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePatient
		}
		return fmt.Errorf("directory: create patient: %w", err)
	}
	return nil
}

// GetPatient loads a patient by id.
func (s *Store) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := s.pool.QueryRow(ctx,
		`SELECT id, full_name, phone, email, created_at FROM patients WHERE id = $1`, id,
	).Scan(&p.ID, &p.FullName, &p.Phone, &p.Email, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get patient: %w", err)
	}
	return &p, nil
}

// PatientExists reports whether the patient id is registered.
func (s *Store) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM patients WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("directory: patient lookup: %w", err)
	}
	return true, nil
}

// GetProvider loads a provider by id.
func (s *Store) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, name, specialty, consultation_fee_cents, created_at FROM providers WHERE id = $1`, id,
	).Scan(&p.ID, &p.Type, &p.Name, &p.Specialty, &p.ConsultationFeeCents, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get provider: %w", err)
	}
	return &p, nil
}

// ListProviders returns providers, optionally filtered by type.
func (s *Store) ListProviders(ctx context.Context, providerType string) ([]Provider, error) {
	const q = `
		SELECT id, type, name, specialty, consultation_fee_cents, created_at
		FROM providers
		WHERE ($1 = '' OR type = $1)
		ORDER BY name
	`
	rows, err := s.pool.Query(ctx, q, providerType)
	if err != nil {
		return nil, fmt.Errorf("directory: list providers: %w", err)
	}
	defer rows.Close()

	var out []Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.ID, &p.Type, &p.Name, &p.Specialty, &p.ConsultationFeeCents, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("directory: scan provider: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: iterate providers: %w", err)
	}
	return out, nil
}

// ListServices returns a provider's priced offerings.
func (s *Store) ListServices(ctx context.Context, providerID uuid.UUID) ([]Service, error) {
	const q = `
		SELECT id, provider_id, name, price_cents, duration_minutes
		FROM services
		WHERE provider_id = $1
		ORDER BY name
	`
	rows, err := s.pool.Query(ctx, q, providerID)
	if err != nil {
		return nil, fmt.Errorf("directory: list services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var sv Service
		if err := rows.Scan(&sv.ID, &sv.ProviderID, &sv.Name, &sv.PriceCents, &sv.DurationMinutes); err != nil {
			return nil, fmt.Errorf("directory: scan service: %w", err)
		}
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: iterate services: %w", err)
	}
	return out, nil
}

// ServicePriceCents returns the catalog price for a service.
func (s *Store) ServicePriceCents(ctx context.Context, id uuid.UUID) (int64, error) {
	var price int64
	err := s.pool.QueryRow(ctx, `SELECT price_cents FROM services WHERE id = $1`, id).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrServiceNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("directory: price service: %w", err)
	}
	return price, nil
}
