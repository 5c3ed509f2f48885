package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tibacloud/booking-platform/internal/observability/metrics"
	"github.com/tibacloud/booking-platform/pkg/logging"
)

var paymentsTracer = otel.Tracer("internal/payments")

// mpesaGateway is the slice of the Daraja client the service uses.
type mpesaGateway interface {
	STKPush(ctx context.Context, phone string, amountKES int64, reference, description string) (string, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (Outcome, error)
}

// pesapalGateway is the slice of the Pesapal client the service uses.
type pesapalGateway interface {
	SubmitOrder(ctx context.Context, p OrderParams) (*Order, error)
	TransactionStatus(ctx context.Context, orderTrackingID string) (Outcome, error)
}

// bookingFinalizer turns a successful session into a booking. Both methods
// must be idempotent; the service may call them more than once for the same
// session when callback and poll paths race.
type bookingFinalizer interface {
	OnPaymentSuccess(ctx context.Context, sess *Session, out Outcome) error
	OnOrphanedPayment(ctx context.Context, sess *Session, out Outcome, reason string) error
}

// processedTracker deduplicates gateway notifications.
type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// slotChecker pre-checks availability before money is collected. The real
// conflict guard runs at finalization; this only avoids prompting a patient
// to pay for a slot that is already gone.
type slotChecker interface {
	SlotAvailable(ctx context.Context, providerID uuid.UUID, providerType string, start time.Time, end *time.Time) (bool, error)
}

// ErrSlotUnavailable is returned when the pre-check finds the slot taken.
var ErrSlotUnavailable = errors.New("payments: slot no longer available")

// Service tracks payment sessions across both gateways and drives them to a
// terminal state from callbacks, IPNs, status polls, and expiry.
type Service struct {
	store     *Store
	cache     *StatusCache
	mpesa     mpesaGateway
	pesapal   pesapalGateway
	finalizer bookingFinalizer
	processed processedTracker
	slots     slotChecker
	metrics   *metrics.PaymentMetrics
	logger    *logging.Logger

	sessionTTL time.Duration
	now        func() time.Time
}

// ServiceConfig wires the session tracker's dependencies. Cache, slots,
// processed, and metrics may be nil.
type ServiceConfig struct {
	Store      *Store
	Cache      *StatusCache
	Mpesa      mpesaGateway
	Pesapal    pesapalGateway
	Finalizer  bookingFinalizer
	Processed  processedTracker
	Slots      slotChecker
	Metrics    *metrics.PaymentMetrics
	Logger     *logging.Logger
	SessionTTL time.Duration
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Store == nil {
		panic("payments: store required")
	}
	if cfg.Finalizer == nil {
		panic("payments: finalizer required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		store:      cfg.Store,
		cache:      cfg.Cache,
		mpesa:      cfg.Mpesa,
		pesapal:    cfg.Pesapal,
		finalizer:  cfg.Finalizer,
		processed:  cfg.Processed,
		slots:      cfg.Slots,
		metrics:    cfg.Metrics,
		logger:     logger,
		sessionTTL: ttl,
		now:        time.Now,
	}
}

// OpenParams describes the booking intent a session collects payment for.
// BookingID, when set, names an existing hold the patient is paying for;
// the slot pre-check is skipped because the hold itself occupies the slot.
type OpenParams struct {
	Gateway      Gateway
	ProviderID   uuid.UUID
	ProviderType string
	PatientID    uuid.UUID
	ServiceID    *uuid.UUID
	BookingID    *uuid.UUID
	ScheduledAt  time.Time
	EndsAt       *time.Time
	AmountCents  int64
	Phone        string
	Email        string
	FirstName    string
	LastName     string
	Description  string
}

// OpenResult is the session plus the gateway artifacts the patient needs.
type OpenResult struct {
	Session     *Session
	RedirectURL string
}

// OpenSession contacts the gateway first and records the session only once
// the gateway has accepted the request. A gateway failure therefore leaves
// no session row behind.
func (s *Service) OpenSession(ctx context.Context, p OpenParams) (*OpenResult, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.OpenSession")
	defer span.End()
	span.SetAttributes(attribute.String("payment.gateway", string(p.Gateway)))

	if !p.Gateway.Valid() || p.AmountCents <= 0 {
		return nil, ErrInvalidRequest
	}
	if p.Gateway == GatewayMpesa && p.Phone == "" {
		return nil, ErrInvalidRequest
	}
	if p.Gateway == GatewayPesapal && p.Email == "" {
		return nil, ErrInvalidRequest
	}
	if !p.ScheduledAt.After(s.now()) {
		return nil, ErrInvalidRequest
	}

	// A session paying for an existing hold skips the pre-check: the
	// patient's own hold is what occupies the slot.
	if s.slots != nil && p.BookingID == nil {
		free, err := s.slots.SlotAvailable(ctx, p.ProviderID, p.ProviderType, p.ScheduledAt, p.EndsAt)
		if err != nil {
			return nil, fmt.Errorf("payments: slot pre-check: %w", err)
		}
		if !free {
			return nil, ErrSlotUnavailable
		}
	}

	reference := newReference()
	description := p.Description
	if description == "" {
		description = "Tiba Cloud booking"
	}
	amountKES := (p.AmountCents + 99) / 100

	sess := &Session{
		Reference:    reference,
		Gateway:      p.Gateway,
		ProviderID:   p.ProviderID,
		ProviderType: p.ProviderType,
		PatientID:    p.PatientID,
		ServiceID:    p.ServiceID,
		BookingID:    p.BookingID,
		ScheduledAt:  p.ScheduledAt,
		EndsAt:       p.EndsAt,
		AmountCents:  p.AmountCents,
		Currency:     "KES",
		Phone:        p.Phone,
		Email:        p.Email,
		ExpiresAt:    s.now().Add(s.sessionTTL),
	}

	var redirectURL string
	switch p.Gateway {
	case GatewayMpesa:
		t0 := time.Now()
		checkoutID, err := s.mpesa.STKPush(ctx, p.Phone, amountKES, reference, description)
		s.metrics.ObserveGatewayLatency("mpesa", "stk_push", time.Since(t0).Seconds())
		if err != nil {
			s.metrics.ObserveSession("mpesa", "rejected")
			return nil, err
		}
		sess.ProviderRef = &checkoutID
		sess.Status = StatusPending
	case GatewayPesapal:
		t0 := time.Now()
		order, err := s.pesapal.SubmitOrder(ctx, OrderParams{
			Reference:   reference,
			AmountKES:   float64(p.AmountCents) / 100,
			Description: description,
			Phone:       p.Phone,
			Email:       p.Email,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
		})
		s.metrics.ObserveGatewayLatency("pesapal", "submit_order", time.Since(t0).Seconds())
		if err != nil {
			s.metrics.ObserveSession("pesapal", "rejected")
			return nil, err
		}
		sess.ProviderRef = &order.TrackingID
		sess.Status = StatusInitiated
		redirectURL = order.RedirectURL
	}

	if err := s.store.Create(ctx, sess); err != nil {
		// The gateway already holds the request; the callback path will
		// log the orphaned notification for reconciliation.
		s.logger.Error("session persist failed after gateway accept",
			"error", err, "reference", reference, "gateway", p.Gateway)
		return nil, err
	}

	s.metrics.ObserveSession(string(p.Gateway), "opened")
	s.cache.Set(ctx, reference, sess.Status)
	s.logger.Info("payment session opened",
		"reference", reference, "gateway", p.Gateway, "amount_cents", p.AmountCents)
	return &OpenResult{Session: sess, RedirectURL: redirectURL}, nil
}

// RecordMpesaCallback applies a Daraja payment notification. Duplicates are
// dropped via the processed-events table, and a success for an expired
// session is diverted to reconciliation instead of finalizing.
func (s *Service) RecordMpesaCallback(ctx context.Context, cb *StkCallback) error {
	ctx, span := paymentsTracer.Start(ctx, "payments.RecordMpesaCallback")
	defer span.End()

	checkoutID := cb.Body.StkCallback.CheckoutRequestID
	eventID := fmt.Sprintf("%s:%d", checkoutID, cb.Body.StkCallback.ResultCode)

	if s.processed != nil {
		done, err := s.processed.AlreadyProcessed(ctx, "mpesa", eventID)
		if err != nil {
			return fmt.Errorf("payments: processed lookup: %w", err)
		}
		if done {
			s.metrics.ObserveCallback("mpesa", "duplicate")
			return nil
		}
	}

	sess, err := s.store.GetByProviderRef(ctx, checkoutID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.logger.Warn("mpesa callback for unknown session", "checkout_request_id", checkoutID)
			s.metrics.ObserveCallback("mpesa", "unknown")
			return nil
		}
		return err
	}

	out := cb.Outcome(s.now())
	if err := s.applyOutcome(ctx, sess, out); err != nil {
		return err
	}

	if s.processed != nil {
		if _, err := s.processed.MarkProcessed(ctx, "mpesa", eventID); err != nil {
			s.logger.Warn("failed to mark mpesa event processed", "error", err, "event_id", eventID)
		}
	}
	s.metrics.ObserveCallback("mpesa", string(out.Status))
	return nil
}

// HandlePesapalIPN reacts to a Pesapal notification by fetching the live
// transaction status. IPNs carry no verdict themselves, so replays are
// harmless; the guarded transition keeps the outcome stable.
func (s *Service) HandlePesapalIPN(ctx context.Context, orderTrackingID string) error {
	ctx, span := paymentsTracer.Start(ctx, "payments.HandlePesapalIPN")
	defer span.End()

	sess, err := s.store.GetByProviderRef(ctx, orderTrackingID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.logger.Warn("pesapal ipn for unknown order", "order_tracking_id", orderTrackingID)
			s.metrics.ObserveCallback("pesapal", "unknown")
			return nil
		}
		return err
	}

	t0 := time.Now()
	out, err := s.pesapal.TransactionStatus(ctx, orderTrackingID)
	s.metrics.ObserveGatewayLatency("pesapal", "transaction_status", time.Since(t0).Seconds())
	if err != nil {
		return err
	}
	if err := s.applyOutcome(ctx, sess, out); err != nil {
		return err
	}
	s.metrics.ObserveCallback("pesapal", string(out.Status))
	return nil
}

// GetStatus reports the current session state. Terminal rows are served
// durably; open rows consult the cache to throttle gateway polls, then fall
// back to a live status query whose terminal outcome is persisted before
// returning. The callback and poll paths converge on the same row.
func (s *Service) GetStatus(ctx context.Context, reference string) (*Session, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.GetStatus")
	defer span.End()

	sess, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		s.cache.Set(ctx, reference, sess.Status)
		return sess, nil
	}

	now := s.now()
	if sess.Expired(now) {
		expired, err := s.store.Transition(ctx, reference, StatusExpired, nil, nil)
		if err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return s.store.GetByReference(ctx, reference)
			}
			return nil, err
		}
		s.cache.Set(ctx, reference, StatusExpired)
		return expired, nil
	}

	// A fresh cached status means a recent poll already asked the gateway.
	if cached := s.cache.Get(ctx, reference); cached == sess.Status {
		return sess, nil
	}

	if sess.ProviderRef == nil {
		return sess, nil
	}
	var out Outcome
	t0 := time.Now()
	switch sess.Gateway {
	case GatewayMpesa:
		out, err = s.mpesa.QueryStatus(ctx, *sess.ProviderRef)
		s.metrics.ObserveGatewayLatency("mpesa", "stk_query", time.Since(t0).Seconds())
	case GatewayPesapal:
		out, err = s.pesapal.TransactionStatus(ctx, *sess.ProviderRef)
		s.metrics.ObserveGatewayLatency("pesapal", "transaction_status", time.Since(t0).Seconds())
	default:
		return sess, nil
	}
	if err != nil {
		if errors.Is(err, ErrGatewayUnavailable) {
			// Serve the durable state; the next poll retries the gateway.
			s.logger.Warn("live status poll failed", "error", err, "reference", reference)
			return sess, nil
		}
		return nil, err
	}

	if err := s.applyOutcome(ctx, sess, out); err != nil {
		return nil, err
	}
	return s.store.GetByReference(ctx, reference)
}

// ExpireSessions sweeps open sessions past their deadline.
func (s *Service) ExpireSessions(ctx context.Context) (int, error) {
	refs, err := s.store.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, ref := range refs {
		s.cache.Set(ctx, ref, StatusExpired)
	}
	if len(refs) > 0 {
		s.logger.Info("expired stale payment sessions", "count", len(refs))
	}
	return len(refs), nil
}

// RunExpiry sweeps on an interval until the context is cancelled.
func (s *Service) RunExpiry(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireSessions(ctx); err != nil {
				s.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// PollOpenSessions drives open sessions toward a terminal state even when
// the gateway never delivers a callback. It walks the oldest open rows
// through GetStatus, which finalizes any success it discovers; the status
// cache keeps a recent client poll from turning into a second gateway call.
func (s *Service) PollOpenSessions(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	sessions, err := s.store.ListOpen(ctx, limit)
	if err != nil {
		return 0, err
	}
	for i := range sessions {
		if _, err := s.GetStatus(ctx, sessions[i].Reference); err != nil {
			s.logger.Warn("open session poll failed", "error", err, "reference", sessions[i].Reference)
		}
	}
	return len(sessions), nil
}

// RunStatusPolls sweeps open sessions on an interval until the context is
// cancelled.
func (s *Service) RunStatusPolls(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PollOpenSessions(ctx, 100); err != nil {
				s.logger.Error("open session sweep failed", "error", err)
			}
		}
	}
}

// applyOutcome moves the session toward the gateway's verdict and hands
// successes to the finalizer. Success for a session whose window has passed
// is never finalized; the money is routed to reconciliation instead.
func (s *Service) applyOutcome(ctx context.Context, sess *Session, out Outcome) error {
	switch out.Status {
	case StatusPending:
		if sess.Status == StatusInitiated {
			if _, err := s.store.Transition(ctx, sess.Reference, StatusPending, nil, nil); err != nil && !errors.Is(err, ErrSessionClosed) {
				return err
			}
		}
		s.cache.Set(ctx, sess.Reference, StatusPending)
		return nil

	case StatusFailed:
		reason := out.FailureReason
		if _, err := s.store.Transition(ctx, sess.Reference, StatusFailed, nil, &reason); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return nil
			}
			return err
		}
		s.cache.Set(ctx, sess.Reference, StatusFailed)
		s.logger.Info("payment failed", "reference", sess.Reference, "reason", reason)
		return nil

	case StatusSucceeded:
		if sess.Expired(s.now()) {
			s.logger.Warn("payment succeeded after session expiry",
				"reference", sess.Reference, "receipt", out.ReceiptNumber)
			s.metrics.ObserveFinalized("orphaned")
			return s.finalizer.OnOrphanedPayment(ctx, sess, out, "paid after session expiry")
		}

		var receipt *string
		if out.ReceiptNumber != "" {
			receipt = &out.ReceiptNumber
		}
		updated, err := s.store.Transition(ctx, sess.Reference, StatusSucceeded, receipt, nil)
		if err != nil {
			if errors.Is(err, ErrSessionClosed) {
				current, getErr := s.store.GetByReference(ctx, sess.Reference)
				if getErr != nil {
					return getErr
				}
				if current.Status != StatusSucceeded {
					// Paid, but the session had already failed or expired.
					s.metrics.ObserveFinalized("orphaned")
					return s.finalizer.OnOrphanedPayment(ctx, current, out, "paid after terminal state "+string(current.Status))
				}
				updated = current
			} else {
				return err
			}
		}
		s.cache.Set(ctx, sess.Reference, StatusSucceeded)

		if err := s.finalizer.OnPaymentSuccess(ctx, updated, out); err != nil {
			s.metrics.ObserveFinalized("error")
			return err
		}
		s.metrics.ObserveFinalized("ok")
		return nil

	default:
		return nil
	}
}

func newReference() string {
	return "TC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}
