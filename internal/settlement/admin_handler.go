package settlement

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/tibacloud/booking-platform/pkg/logging"
)

// AdminHandler exposes the settlement audit trail to operators.
type AdminHandler struct {
	store  *Store
	logger *logging.Logger
}

func NewAdminHandler(store *Store, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{store: store, logger: logger}
}

type recordResponse struct {
	ID               string  `json:"id"`
	PaymentReference string  `json:"payment_reference"`
	Status           string  `json:"status"`
	KesAmountCents   int64   `json:"kes_amount_cents"`
	USDCAmount       float64 `json:"usdc_amount"`
	TxHash           *string `json:"tx_hash,omitempty"`
	Error            *string `json:"error,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// ListSettlements returns recent settlement records, newest first.
func (h *AdminHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	items, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("settlement list failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]recordResponse, 0, len(items))
	for _, it := range items {
		out = append(out, recordResponse{
			ID:               it.ID.String(),
			PaymentReference: it.PaymentReference,
			Status:           string(it.Status),
			KesAmountCents:   it.KesAmountCents,
			USDCAmount:       it.USDCAmount,
			TxHash:           it.TxHash,
			Error:            it.Error,
			CreatedAt:        it.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"settlements": out})
}
