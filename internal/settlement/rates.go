package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RateSource fetches live KES to USD rates from an exchange rate API. The
// forwarder falls back to a configured static rate when the fetch fails, so
// a rate outage never blocks settlement.
type RateSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewRateSource(baseURL string) *RateSource {
	return &RateSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// KesToUSD returns how many USD one KES buys.
func (r *RateSource) KesToUSD(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/KES", nil)
	if err != nil {
		return 0, fmt.Errorf("settlement: build rate request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("settlement: fetch rate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("settlement: rate api status %d", resp.StatusCode)
	}

	var body struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("settlement: decode rate response: %w", err)
	}
	rate, ok := body.Rates["USD"]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("settlement: rate api returned no USD rate")
	}
	return rate, nil
}
