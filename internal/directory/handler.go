package directory

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tibacloud/booking-platform/pkg/logging"
)

// Handler serves the public directory endpoints.
type Handler struct {
	store  *Store
	logger *logging.Logger
}

func NewHandler(store *Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

type registerPatientRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}

// RegisterPatient creates a patient record.
func (h *Handler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req registerPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.FullName = strings.TrimSpace(req.FullName)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.FullName == "" || req.Phone == "" {
		http.Error(w, "full_name and phone are required", http.StatusUnprocessableEntity)
		return
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			http.Error(w, "invalid email", http.StatusUnprocessableEntity)
			return
		}
	}

	p := &Patient{FullName: req.FullName, Phone: req.Phone, Email: req.Email}
	if err := h.store.CreatePatient(r.Context(), p); err != nil {
		if errors.Is(err, ErrDuplicatePatient) {
			http.Error(w, "phone already registered", http.StatusConflict)
			return
		}
		h.logger.Error("patient registration failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

// ListProviders returns providers, filterable with ?type=doctor|lab|nursing.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.ListProviders(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		h.logger.Error("provider list failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if providers == nil {
		providers = []Provider{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// ListServices returns a provider's catalog.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	providerID, err := uuid.Parse(chi.URLParam(r, "providerID"))
	if err != nil {
		http.Error(w, "invalid provider id", http.StatusBadRequest)
		return
	}
	services, err := h.store.ListServices(r.Context(), providerID)
	if err != nil {
		h.logger.Error("service list failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if services == nil {
		services = []Service{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", "error", err)
	}
}
