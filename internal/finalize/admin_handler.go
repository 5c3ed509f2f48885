package finalize

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tibacloud/booking-platform/pkg/logging"
)

// AdminHandler exposes the reconciliation queue to operators.
type AdminHandler struct {
	store  *ReconciliationStore
	logger *logging.Logger
}

func NewAdminHandler(store *ReconciliationStore, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{store: store, logger: logger}
}

type reconciliationResponse struct {
	ID               string  `json:"id"`
	PaymentReference string  `json:"payment_reference"`
	Reason           string  `json:"reason"`
	AmountCents      int64   `json:"amount_cents"`
	ReceiptNumber    *string `json:"receipt_number,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// ListReconciliations returns open reconciliation rows.
func (h *AdminHandler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	items, err := h.store.ListUnresolved(r.Context(), limit)
	if err != nil {
		h.logger.Error("reconciliation list failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]reconciliationResponse, 0, len(items))
	for _, it := range items {
		out = append(out, reconciliationResponse{
			ID:               it.ID.String(),
			PaymentReference: it.PaymentReference,
			Reason:           it.Reason,
			AmountCents:      it.AmountCents,
			ReceiptNumber:    it.ReceiptNumber,
			CreatedAt:        it.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"reconciliations": out})
}

// ResolveReconciliation marks a row as worked off.
func (h *AdminHandler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "reconciliationID"))
	if err != nil {
		http.Error(w, "invalid reconciliation id", http.StatusBadRequest)
		return
	}
	if err := h.store.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, ErrReconciliationNotFound) {
			http.Error(w, "reconciliation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("reconciliation resolve failed", "error", err, "id", id)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
