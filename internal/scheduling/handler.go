package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tibacloud/booking-platform/pkg/logging"
)

// Handler exposes the booking calendar and lifecycle over HTTP.
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

type slotsQueryRequest struct {
	ProviderID   string `json:"provider_id"`
	ProviderType string `json:"provider_type"`
	Date         string `json:"date"`
}

type slotsQueryResponse struct {
	Date        string    `json:"date"`
	Slots       []DaySlot `json:"slots"`
	FullyBooked bool      `json:"fully_booked"`
}

// QuerySlots returns the provider's grid for a date with availability.
func (h *Handler) QuerySlots(w http.ResponseWriter, r *http.Request) {
	var req slotsQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		http.Error(w, "invalid provider_id", http.StatusBadRequest)
		return
	}
	pt := ProviderType(req.ProviderType)
	if !pt.Valid() {
		http.Error(w, "invalid provider_type", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", req.Date, h.loc)
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	slots, err := h.svc.DaySlots(r.Context(), providerID, pt, date)
	if err != nil {
		h.writeError(w, err, "slot query failed")
		return
	}
	full := len(slots) > 0
	for _, s := range slots {
		if s.Available {
			full = false
			break
		}
	}
	if len(slots) == 0 {
		full = true
	}
	writeJSON(w, http.StatusOK, slotsQueryResponse{Date: req.Date, Slots: slots, FullyBooked: full})
}

type reserveRequest struct {
	ProviderID   string `json:"provider_id"`
	ProviderType string `json:"provider_type"`
	PatientID    string `json:"patient_id"`
	ServiceID    string `json:"service_id,omitempty"`
	ScheduledAt  string `json:"scheduled_at"`
	EndsAt       string `json:"ends_at,omitempty"`
	AmountCents  int64  `json:"amount_cents,omitempty"`
}

type bookingResponse struct {
	ID               string  `json:"id"`
	ProviderID       string  `json:"provider_id"`
	ProviderType     string  `json:"provider_type"`
	PatientID        string  `json:"patient_id"`
	ScheduledAt      string  `json:"scheduled_at"`
	EndsAt           *string `json:"ends_at,omitempty"`
	Status           string  `json:"status"`
	PaymentReference *string `json:"payment_reference,omitempty"`
	AmountCents      int64   `json:"amount_cents"`
	IsPaid           bool    `json:"is_paid"`
}

// Reserve places a hold on a slot.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
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
	params := ReserveParams{
		ProviderID:   providerID,
		ProviderType: ProviderType(req.ProviderType),
		PatientID:    patientID,
		ScheduledAt:  scheduledAt.In(h.loc),
		AmountCents:  req.AmountCents,
	}
	if req.ServiceID != "" {
		sid, err := uuid.Parse(req.ServiceID)
		if err != nil {
			http.Error(w, "invalid service_id", http.StatusBadRequest)
			return
		}
		params.ServiceID = &sid
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

	b, err := h.svc.Reserve(r.Context(), params)
	if err != nil {
		h.writeError(w, err, "reservation failed")
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

// Get returns one booking.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "booking lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

// Transition handlers share one shape: guard the move, return the new row.

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Confirm)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Start)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Reject)
}

func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkNoShow)
}

// Delete removes a booking that is still only scheduled.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, err, "booking delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListByPatient returns a patient's bookings.
func (h *Handler) ListByPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		http.Error(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	bookings, err := h.svc.ListByPatient(r.Context(), patientID)
	if err != nil {
		h.writeError(w, err, "booking list failed")
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponses(bookings))
}

// ListByProvider returns a provider's bookings.
func (h *Handler) ListByProvider(w http.ResponseWriter, r *http.Request) {
	providerID, err := uuid.Parse(chi.URLParam(r, "providerID"))
	if err != nil {
		http.Error(w, "invalid provider id", http.StatusBadRequest)
		return
	}
	pt := ProviderType(chi.URLParam(r, "providerType"))
	bookings, err := h.svc.ListByProvider(r.Context(), providerID, pt)
	if err != nil {
		h.writeError(w, err, "booking list failed")
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponses(bookings))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, move func(ctx context.Context, id uuid.UUID) (*Booking, error)) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	b, err := move(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "booking transition failed")
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handler) bookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrSlotTaken):
		http.Error(w, "slot already taken", http.StatusConflict)
	case errors.Is(err, ErrInvalidTransition):
		http.Error(w, "invalid status transition", http.StatusConflict)
	case errors.Is(err, ErrNotDeletable):
		http.Error(w, "booking can no longer be deleted", http.StatusConflict)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidSlot):
		http.Error(w, "slot is not bookable", http.StatusUnprocessableEntity)
	case errors.Is(err, ErrPastDate):
		http.Error(w, "date is in the past", http.StatusUnprocessableEntity)
	case errors.Is(err, ErrUnknownPatient):
		http.Error(w, "unknown patient", http.StatusUnprocessableEntity)
	default:
		h.logger.Error(logMsg, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toBookingResponse(b *Booking) bookingResponse {
	resp := bookingResponse{
		ID:               b.ID.String(),
		ProviderID:       b.ProviderID.String(),
		ProviderType:     string(b.ProviderType),
		PatientID:        b.PatientID.String(),
		ScheduledAt:      b.ScheduledAt.Format(time.RFC3339),
		Status:           string(b.Status),
		PaymentReference: b.PaymentReference,
		AmountCents:      b.AmountCents,
		IsPaid:           b.IsPaid,
	}
	if b.EndsAt != nil {
		s := b.EndsAt.Format(time.RFC3339)
		resp.EndsAt = &s
	}
	return resp
}

func toBookingResponses(bookings []Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, toBookingResponse(&bookings[i]))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
