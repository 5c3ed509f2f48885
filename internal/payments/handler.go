package payments

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tibacloud/booking-platform/pkg/logging"
)

// Handler exposes the payment session tracker over HTTP.
type Handler struct {
	svc    *Service
	loc    *time.Location
	logger *logging.Logger
}

func NewHandler(svc *Service, loc *time.Location, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, loc: loc, logger: logger}
}

type openSessionRequest struct {
	Gateway      string `json:"gateway"`
	ProviderID   string `json:"provider_id"`
	ProviderType string `json:"provider_type"`
	PatientID    string `json:"patient_id"`
	ServiceID    string `json:"service_id,omitempty"`
	BookingID    string `json:"booking_id,omitempty"`
	ScheduledAt  string `json:"scheduled_at"`
	EndsAt       string `json:"ends_at,omitempty"`
	AmountCents  int64  `json:"amount_cents"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Description  string `json:"description,omitempty"`
}

type sessionResponse struct {
	Reference     string  `json:"reference"`
	Gateway       string  `json:"gateway"`
	Status        string  `json:"status"`
	AmountCents   int64   `json:"amount_cents"`
	Currency      string  `json:"currency"`
	ScheduledAt   string  `json:"scheduled_at"`
	ReceiptNumber *string `json:"receipt_number,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	ExpiresAt     string  `json:"expires_at"`
	RedirectURL   string  `json:"redirect_url,omitempty"`
}

// OpenSession starts payment collection for a booking intent.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		http.Error(w, "invalid provider_id", http.StatusBadRequest)
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		http.Error(w, "invalid patient_id", http.StatusBadRequest)
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		http.Error(w, "invalid scheduled_at, want RFC3339", http.StatusBadRequest)
		return
	}
	params := OpenParams{
		Gateway:      Gateway(req.Gateway),
		ProviderID:   providerID,
		ProviderType: req.ProviderType,
		PatientID:    patientID,
		ScheduledAt:  scheduledAt.In(h.loc),
		AmountCents:  req.AmountCents,
		Phone:        req.Phone,
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Description:  req.Description,
	}
	if req.ServiceID != "" {
		sid, err := uuid.Parse(req.ServiceID)
		if err != nil {
			http.Error(w, "invalid service_id", http.StatusBadRequest)
			return
		}
		params.ServiceID = &sid
	}
	if req.BookingID != "" {
		bid, err := uuid.Parse(req.BookingID)
		if err != nil {
			http.Error(w, "invalid booking_id", http.StatusBadRequest)
			return
		}
		params.BookingID = &bid
	}
	if req.EndsAt != "" {
		endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
		if err != nil {
			http.Error(w, "invalid ends_at, want RFC3339", http.StatusBadRequest)
			return
		}
		local := endsAt.In(h.loc)
		params.EndsAt = &local
	}

	result, err := h.svc.OpenSession(r.Context(), params)
	if err != nil {
		h.writeError(w, err, "open session failed")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(result.Session, result.RedirectURL))
}

// GetStatus reports the current state of a session.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		http.Error(w, "missing reference", http.StatusBadRequest)
		return
	}
	sess, err := h.svc.GetStatus(r.Context(), reference)
	if err != nil {
		h.writeError(w, err, "session status failed")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess, ""))
}

// MpesaCallback receives Daraja STK push notifications. Daraja retries on
// non-200, so processing errors are logged and acknowledged; the status
// poll path converges the session later.
func (h *Handler) MpesaCallback(w http.ResponseWriter, r *http.Request) {
	cb, err := ParseStkCallback(r.Body)
	if err != nil {
		h.logger.Warn("malformed mpesa callback", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.RecordMpesaCallback(r.Context(), cb); err != nil {
		h.logger.Error("mpesa callback processing failed", "error", err,
			"checkout_request_id", cb.Body.StkCallback.CheckoutRequestID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
}

// PesapalIPN receives Pesapal order notifications (GET or POST with query
// parameters). Pesapal expects the notification echoed back with status 200.
func (h *Handler) PesapalIPN(w http.ResponseWriter, r *http.Request) {
	trackingID := r.URL.Query().Get("OrderTrackingId")
	merchantRef := r.URL.Query().Get("OrderMerchantReference")
	notificationType := r.URL.Query().Get("OrderNotificationType")
	if trackingID == "" {
		http.Error(w, "missing OrderTrackingId", http.StatusBadRequest)
		return
	}
	if err := h.svc.HandlePesapalIPN(r.Context(), trackingID); err != nil {
		h.logger.Error("pesapal ipn processing failed", "error", err, "order_tracking_id", trackingID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderNotificationType":  notificationType,
		"orderTrackingId":        trackingID,
		"orderMerchantReference": merchantRef,
		"status":                 200,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		http.Error(w, "invalid session request", http.StatusUnprocessableEntity)
	case errors.Is(err, ErrSlotUnavailable):
		http.Error(w, "slot no longer available", http.StatusConflict)
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, ErrGatewayUnavailable):
		h.logger.Error(logMsg, "error", err)
		http.Error(w, "payment gateway unavailable", http.StatusBadGateway)
	default:
		h.logger.Error(logMsg, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toSessionResponse(sess *Session, redirectURL string) sessionResponse {
	return sessionResponse{
		Reference:     sess.Reference,
		Gateway:       string(sess.Gateway),
		Status:        string(sess.Status),
		AmountCents:   sess.AmountCents,
		Currency:      sess.Currency,
		ScheduledAt:   sess.ScheduledAt.Format(time.RFC3339),
		ReceiptNumber: sess.ReceiptNumber,
		FailureReason: sess.FailureReason,
		ExpiresAt:     sess.ExpiresAt.Format(time.RFC3339),
		RedirectURL:   redirectURL,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
