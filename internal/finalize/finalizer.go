package finalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tibacloud/booking-platform/internal/payments"
	"github.com/tibacloud/booking-platform/internal/scheduling"
	"github.com/tibacloud/booking-platform/pkg/logging"
)

var finalizeTracer = otel.Tracer("internal/finalize")

// bookingStore is the slice of the scheduling store the finalizer writes
// through.
type bookingStore interface {
	GetByPaymentReference(ctx context.Context, reference string) (*scheduling.Booking, error)
	Reserve(ctx context.Context, b *scheduling.Booking, step time.Duration) error
	ConfirmPaid(ctx context.Context, id uuid.UUID, reference string) (*scheduling.Booking, error)
}

// outboxWriter records domain events for downstream delivery.
type outboxWriter interface {
	Insert(ctx context.Context, subject, eventType string, payload any) error
}

// notifier tells the patient their booking is confirmed. Best effort.
type notifier interface {
	BookingConfirmed(ctx context.Context, email, phone string, b *scheduling.Booking, receipt string) error
}

// settlementForwarder pushes collected funds onward. Best effort; it never
// reports an error back.
type settlementForwarder interface {
	Forward(ctx context.Context, paymentReference string, amountCents int64, receipt string)
}

// Finalizer turns a succeeded payment session into a confirmed booking
// exactly once. The unique index on bookings.payment_reference is the
// arbiter: however many times the callback and poll paths race, one booking
// row exists per session.
type Finalizer struct {
	bookings        bookingStore
	reconciliations *ReconciliationStore
	outbox          outboxWriter
	notify          notifier
	settlement      settlementForwarder
	logger          *logging.Logger
}

// Config wires the finalizer. Outbox, notify, and settlement may be nil.
type Config struct {
	Bookings        bookingStore
	Reconciliations *ReconciliationStore
	Outbox          outboxWriter
	Notify          notifier
	Settlement      settlementForwarder
	Logger          *logging.Logger
}

func New(cfg Config) *Finalizer {
	if cfg.Bookings == nil {
		panic("finalize: booking store required")
	}
	if cfg.Reconciliations == nil {
		panic("finalize: reconciliation store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Finalizer{
		bookings:        cfg.Bookings,
		reconciliations: cfg.Reconciliations,
		outbox:          cfg.Outbox,
		notify:          cfg.Notify,
		settlement:      cfg.Settlement,
		logger:          logger,
	}
}

// OnPaymentSuccess turns a paid session into a confirmed booking. Sessions
// carrying a BookingID confirm the patient's existing hold; the rest insert
// a fresh confirmed booking. Safe to call repeatedly: a booking that
// already carries the payment reference short-circuits, and a lost race
// re-reads the winner's row. A paid session whose slot or hold was lost in
// the meantime goes to reconciliation.
func (f *Finalizer) OnPaymentSuccess(ctx context.Context, sess *payments.Session, out payments.Outcome) error {
	ctx, span := finalizeTracer.Start(ctx, "finalize.OnPaymentSuccess")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", sess.Reference))

	if existing, err := f.bookings.GetByPaymentReference(ctx, sess.Reference); err == nil {
		f.logger.Debug("payment already finalized", "reference", sess.Reference, "booking_id", existing.ID)
		return nil
	} else if !errors.Is(err, scheduling.ErrNotFound) {
		return fmt.Errorf("finalize: lookup existing booking: %w", err)
	}

	if sess.BookingID != nil {
		return f.confirmHold(ctx, sess, out)
	}

	pt := scheduling.ProviderType(sess.ProviderType)
	reference := sess.Reference
	b := &scheduling.Booking{
		ProviderID:       sess.ProviderID,
		ProviderType:     pt,
		PatientID:        sess.PatientID,
		ScheduledAt:      sess.ScheduledAt,
		EndsAt:           sess.EndsAt,
		Status:           scheduling.StatusConfirmed,
		PaymentReference: &reference,
		AmountCents:      sess.AmountCents,
		IsPaid:           true,
	}

	err := f.bookings.Reserve(ctx, b, scheduling.GridFor(pt).Step)
	switch {
	case err == nil:
		// fresh booking below
	case errors.Is(err, scheduling.ErrDuplicatePaymentRef):
		// A concurrent finalization won; converge on its booking.
		if _, getErr := f.bookings.GetByPaymentReference(ctx, sess.Reference); getErr != nil {
			return fmt.Errorf("finalize: load winning booking: %w", getErr)
		}
		return nil
	case errors.Is(err, scheduling.ErrSlotTaken):
		f.logger.Warn("paid slot taken before finalization",
			"reference", sess.Reference, "provider_id", sess.ProviderID, "scheduled_at", sess.ScheduledAt)
		return f.divert(ctx, sess, out, "slot taken at finalization")
	default:
		return fmt.Errorf("finalize: create booking: %w", err)
	}

	f.logger.Info("booking finalized from payment",
		"reference", sess.Reference, "booking_id", b.ID, "provider_type", b.ProviderType)
	f.emit(ctx, sess, out, b)
	return nil
}

// confirmHold flips a pre-payment hold to confirmed. A hold that was
// cancelled, deleted, or paid by another session can no longer absorb the
// money, so it diverts to reconciliation.
func (f *Finalizer) confirmHold(ctx context.Context, sess *payments.Session, out payments.Outcome) error {
	b, err := f.bookings.ConfirmPaid(ctx, *sess.BookingID, sess.Reference)
	switch {
	case err == nil:
		f.logger.Info("held booking confirmed from payment",
			"reference", sess.Reference, "booking_id", b.ID, "provider_type", b.ProviderType)
		f.emit(ctx, sess, out, b)
		return nil
	case errors.Is(err, scheduling.ErrDuplicatePaymentRef), errors.Is(err, scheduling.ErrInvalidTransition):
		// Either a concurrent finalization already confirmed it, or the
		// hold left the scheduled state before the money arrived.
		if _, getErr := f.bookings.GetByPaymentReference(ctx, sess.Reference); getErr == nil {
			return nil
		}
		f.logger.Warn("paid hold no longer confirmable",
			"reference", sess.Reference, "booking_id", *sess.BookingID)
		return f.divert(ctx, sess, out, "hold not confirmable at finalization")
	case errors.Is(err, scheduling.ErrNotFound):
		f.logger.Warn("paid hold missing",
			"reference", sess.Reference, "booking_id", *sess.BookingID)
		return f.divert(ctx, sess, out, "hold missing at finalization")
	default:
		return fmt.Errorf("finalize: confirm held booking: %w", err)
	}
}

// emit runs the post-finalization side effects: the outbox event, the
// patient notification, and the settlement leg. Settlement talks to two
// slow external services, so it runs detached from the request that
// delivered the payment verdict.
func (f *Finalizer) emit(ctx context.Context, sess *payments.Session, out payments.Outcome, b *scheduling.Booking) {
	if f.outbox != nil {
		payload := map[string]any{
			"booking_id":        b.ID,
			"payment_reference": sess.Reference,
			"provider_id":       b.ProviderID,
			"provider_type":     b.ProviderType,
			"patient_id":        b.PatientID,
			"scheduled_at":      b.ScheduledAt,
			"amount_cents":      b.AmountCents,
		}
		if err := f.outbox.Insert(ctx, "booking:"+b.ID.String(), "booking.finalized.v1", payload); err != nil {
			f.logger.Error("outbox write failed", "error", err, "booking_id", b.ID)
		}
	}
	if f.notify != nil {
		if err := f.notify.BookingConfirmed(ctx, sess.Email, sess.Phone, b, out.ReceiptNumber); err != nil {
			f.logger.Warn("confirmation notification failed", "error", err, "booking_id", b.ID)
		}
	}
	if f.settlement != nil {
		go f.settlement.Forward(context.WithoutCancel(ctx), sess.Reference, sess.AmountCents, out.ReceiptNumber)
	}
}

// OnOrphanedPayment records money that arrived for a session that can no
// longer be finalized, e.g. a success after expiry.
func (f *Finalizer) OnOrphanedPayment(ctx context.Context, sess *payments.Session, out payments.Outcome, reason string) error {
	ctx, span := finalizeTracer.Start(ctx, "finalize.OnOrphanedPayment")
	defer span.End()
	return f.divert(ctx, sess, out, reason)
}

func (f *Finalizer) divert(ctx context.Context, sess *payments.Session, out payments.Outcome, reason string) error {
	var receipt *string
	if out.ReceiptNumber != "" {
		receipt = &out.ReceiptNumber
	}
	inserted, err := f.reconciliations.Record(ctx, sess.Reference, reason, sess.AmountCents, receipt)
	if err != nil {
		return err
	}
	if inserted && f.outbox != nil {
		payload := map[string]any{
			"payment_reference": sess.Reference,
			"reason":            reason,
			"amount_cents":      sess.AmountCents,
		}
		if err := f.outbox.Insert(ctx, "payment:"+sess.Reference, "payment.reconciliation_required.v1", payload); err != nil {
			f.logger.Error("outbox write failed", "error", err, "reference", sess.Reference)
		}
	}
	return nil
}
