package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tibacloud/booking-platform/internal/observability/metrics"
	"github.com/tibacloud/booking-platform/pkg/logging"
)

var schedulingTracer = otel.Tracer("internal/scheduling")

// patientDirectory resolves patient ids before a reservation is accepted.
type patientDirectory interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// serviceCatalog prices the service being booked.
type serviceCatalog interface {
	ServicePriceCents(ctx context.Context, id uuid.UUID) (int64, error)
}

// Service owns booking reservation and lifecycle rules. The conflict guard
// itself lives in the store; the service layers grid validation, patient
// checks, and pricing on top.
type Service struct {
	store    *Store
	calendar *Calendar
	patients patientDirectory
	catalog  serviceCatalog
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger

	windowDays int
	now        func() time.Time
}

// NewService creates the scheduling service. Metrics may be nil.
func NewService(store *Store, calendar *Calendar, patients patientDirectory, catalog serviceCatalog, m *metrics.BookingMetrics, windowDays int, logger *logging.Logger) *Service {
	if store == nil {
		panic("scheduling: store required")
	}
	if calendar == nil {
		panic("scheduling: calendar required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if windowDays <= 0 {
		windowDays = 60
	}
	return &Service{
		store:      store,
		calendar:   calendar,
		patients:   patients,
		catalog:    catalog,
		metrics:    m,
		logger:     logger,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// ReserveParams is the input for a slot reservation.
type ReserveParams struct {
	ProviderID   uuid.UUID
	ProviderType ProviderType
	PatientID    uuid.UUID
	ServiceID    *uuid.UUID
	ScheduledAt  time.Time
	EndsAt       *time.Time
	AmountCents  int64
}

// DaySlots returns the provider's grid for a date with availability flags.
func (s *Service) DaySlots(ctx context.Context, providerID uuid.UUID, pt ProviderType, date time.Time) ([]DaySlot, error) {
	if !pt.Valid() {
		return nil, ErrInvalidSlot
	}
	if err := s.checkDate(date); err != nil {
		return nil, err
	}
	return s.calendar.DaySlots(ctx, providerID, pt, date)
}

// Reserve places a hold on a slot. The slot must be on the provider's grid,
// in the future, and inside the booking window; the patient must exist. On
// contention exactly one caller wins and the rest get ErrSlotTaken.
func (s *Service) Reserve(ctx context.Context, p ReserveParams) (*Booking, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider.type", string(p.ProviderType)),
		attribute.String("provider.id", p.ProviderID.String()),
	)

	if !p.ProviderType.Valid() {
		return nil, ErrInvalidSlot
	}
	grid := GridFor(p.ProviderType)
	if !grid.Aligned(p.ScheduledAt) {
		return nil, ErrInvalidSlot
	}
	if p.EndsAt != nil && !p.EndsAt.After(p.ScheduledAt) {
		return nil, ErrInvalidSlot
	}
	if err := s.checkDate(p.ScheduledAt); err != nil {
		return nil, err
	}
	if !p.ScheduledAt.After(s.now()) {
		return nil, ErrPastDate
	}

	if s.patients != nil {
		ok, err := s.patients.PatientExists(ctx, p.PatientID)
		if err != nil {
			return nil, fmt.Errorf("scheduling: resolve patient: %w", err)
		}
		if !ok {
			return nil, ErrUnknownPatient
		}
	}

	amount := p.AmountCents
	if p.ServiceID != nil && s.catalog != nil {
		price, err := s.catalog.ServicePriceCents(ctx, *p.ServiceID)
		if err != nil {
			return nil, fmt.Errorf("scheduling: price service: %w", err)
		}
		amount = price
	}

	b := &Booking{
		ProviderID:   p.ProviderID,
		ProviderType: p.ProviderType,
		PatientID:    p.PatientID,
		ScheduledAt:  p.ScheduledAt,
		EndsAt:       p.EndsAt,
		Status:       StatusScheduled,
		AmountCents:  amount,
	}
	if err := s.store.Reserve(ctx, b, grid.Step); err != nil {
		if err == ErrSlotTaken {
			s.metrics.ObserveConflict(string(p.ProviderType))
		}
		return nil, err
	}

	s.metrics.ObserveReserved(string(p.ProviderType))
	s.logger.Info("booking reserved",
		"booking_id", b.ID,
		"provider_type", b.ProviderType,
		"scheduled_at", b.ScheduledAt,
	)
	return b, nil
}

// Get fetches one booking.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.store.GetByID(ctx, id)
}

// Confirm moves a scheduled booking to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, []Status{StatusScheduled}, StatusConfirmed)
}

// Start moves a booking into in_progress when the visit begins.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, []Status{StatusScheduled, StatusConfirmed}, StatusInProgress)
}

// Complete closes out an in-progress booking.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, []Status{StatusInProgress}, StatusCompleted)
}

// Cancel releases the slot for a booking that has not started.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, []Status{StatusScheduled, StatusConfirmed}, StatusCancelled)
}

// Reject lets the provider decline a scheduled booking.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, []Status{StatusScheduled}, StatusRejected)
}

// MarkNoShow records that the patient did not arrive.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, []Status{StatusScheduled, StatusConfirmed}, StatusNoShow)
}

// Delete removes a booking that never advanced past scheduled.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctx, id)
}

// ListByPatient returns a patient's booking history.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Booking, error) {
	return s.store.ListByPatient(ctx, patientID)
}

// ListByProvider returns a provider's upcoming and past bookings.
func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, pt ProviderType) ([]Booking, error) {
	if !pt.Valid() {
		return nil, ErrInvalidSlot
	}
	return s.store.ListByProvider(ctx, providerID, pt)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Booking, error) {
	b, err := s.store.UpdateStatus(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(to))
	s.logger.Info("booking status changed", "booking_id", id, "status", to)
	return b, nil
}

// checkDate rejects dates in the past or beyond the booking window.
func (s *Service) checkDate(t time.Time) error {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.Location())
	if t.Before(today) {
		return ErrPastDate
	}
	if t.After(today.AddDate(0, 0, s.windowDays)) {
		return ErrInvalidSlot
	}
	return nil
}
