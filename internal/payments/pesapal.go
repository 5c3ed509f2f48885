package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tibacloud/booking-platform/pkg/logging"
)

var pesapalTracer = otel.Tracer("internal/payments/pesapal")

// Pesapal bearer tokens expire after five minutes; refresh early.
const pesapalTokenTTL = 4 * time.Minute

// PesapalClient talks to the Pesapal v3 API for card payments: token,
// order submission, transaction status, and IPN registration.
type PesapalClient struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	callbackURL    string
	notificationID string

	httpClient *http.Client
	tokens     *tokenCache
	logger     *logging.Logger
	now        func() time.Time
}

func NewPesapalClient(baseURL, consumerKey, consumerSecret, callbackURL string, rdb *redis.Client, logger *logging.Logger) *PesapalClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &PesapalClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		callbackURL:    callbackURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		tokens:         newTokenCache(rdb, "pesapal:access_token"),
		logger:         logger,
		now:            time.Now,
	}
}

// SetNotificationID sets the registered IPN id attached to new orders.
func (c *PesapalClient) SetNotificationID(id string) {
	c.notificationID = id
}

func (c *PesapalClient) accessToken(ctx context.Context) (string, error) {
	if token := c.tokens.get(ctx, c.now()); token != "" {
		return token, nil
	}

	payload := map[string]string{
		"consumer_key":    c.consumerKey,
		"consumer_secret": c.consumerSecret,
	}
	var out struct {
		Token string `json:"token"`
		Error any    `json:"error"`
	}
	if err := c.postJSON(ctx, "", "/api/Auth/RequestToken", payload, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: pesapal token missing", ErrGatewayUnavailable)
	}
	c.tokens.put(ctx, out.Token, pesapalTokenTTL, c.now())
	return out.Token, nil
}

// OrderParams describes a card order to submit.
type OrderParams struct {
	Reference   string
	AmountKES   float64
	Description string
	Phone       string
	Email       string
	FirstName   string
	LastName    string
}

// Order is the accepted order: the tracking id correlates IPNs and status
// queries, and the redirect URL hosts the card form.
type Order struct {
	TrackingID  string
	RedirectURL string
}

// SubmitOrder registers a card payment and returns the hosted payment page.
func (c *PesapalClient) SubmitOrder(ctx context.Context, p OrderParams) (*Order, error) {
	ctx, span := pesapalTracer.Start(ctx, "pesapal.SubmitOrder")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", p.Reference))

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"id":              p.Reference,
		"currency":        "KES",
		"amount":          p.AmountKES,
		"description":     p.Description,
		"redirect_mode":   "PARENT_WINDOW",
		"callback_url":    c.callbackURL,
		"notification_id": c.notificationID,
		"billing_address": map[string]string{
			"phone_number":  p.Phone,
			"email_address": p.Email,
			"first_name":    p.FirstName,
			"last_name":     p.LastName,
		},
	}

	var out struct {
		OrderTrackingID string `json:"order_tracking_id"`
		RedirectURL     string `json:"redirect_url"`
		Status          string `json:"status"`
		Error           *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := c.postJSON(ctx, token, "/api/Transactions/SubmitOrderRequest", payload, &out); err != nil {
		return nil, err
	}
	if out.Error != nil && out.Error.Message != "" {
		return nil, fmt.Errorf("%w: pesapal order rejected: %s", ErrGatewayUnavailable, out.Error.Message)
	}
	if out.OrderTrackingID == "" || out.RedirectURL == "" {
		return nil, fmt.Errorf("%w: pesapal order incomplete response", ErrGatewayUnavailable)
	}
	return &Order{TrackingID: out.OrderTrackingID, RedirectURL: out.RedirectURL}, nil
}

// TransactionStatus fetches the current verdict for an order.
func (c *PesapalClient) TransactionStatus(ctx context.Context, orderTrackingID string) (Outcome, error) {
	ctx, span := pesapalTracer.Start(ctx, "pesapal.TransactionStatus")
	defer span.End()

	token, err := c.accessToken(ctx)
	if err != nil {
		return Outcome{}, err
	}

	endpoint := c.baseURL + "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(orderTrackingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("payments: build pesapal status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: pesapal status: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	var out struct {
		PaymentStatusDescription string  `json:"payment_status_description"`
		ConfirmationCode         string  `json:"confirmation_code"`
		Amount                   float64 `json:"amount"`
		PaymentMethod            string  `json:"payment_method"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{}, fmt.Errorf("%w: pesapal status decode", ErrGatewayUnavailable)
	}

	switch strings.ToUpper(out.PaymentStatusDescription) {
	case "COMPLETED", "SUCCESS":
		return Outcome{
			Status:        StatusSucceeded,
			ReceiptNumber: out.ConfirmationCode,
			AmountCents:   int64(out.Amount * 100),
			PaidAt:        c.now(),
		}, nil
	case "FAILED", "INVALID", "CANCELLED", "REVERSED":
		return Outcome{Status: StatusFailed, FailureReason: out.PaymentStatusDescription}, nil
	default:
		return Outcome{Status: StatusPending}, nil
	}
}

// RegisterIPN registers the notification endpoint and returns the IPN id
// Pesapal expects on subsequent orders.
func (c *PesapalClient) RegisterIPN(ctx context.Context, ipnURL string) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	payload := map[string]string{
		"url":                   ipnURL,
		"ipn_notification_type": "GET",
	}
	var out struct {
		IpnID string `json:"ipn_id"`
	}
	if err := c.postJSON(ctx, token, "/api/URLSetup/RegisterIPN", payload, &out); err != nil {
		return "", err
	}
	if out.IpnID == "" {
		return "", fmt.Errorf("%w: pesapal ipn registration incomplete", ErrGatewayUnavailable)
	}
	c.notificationID = out.IpnID
	return out.IpnID, nil
}

func (c *PesapalClient) postJSON(ctx context.Context, token, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payments: marshal pesapal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payments: build pesapal request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: pesapal %s: %v", ErrGatewayUnavailable, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: pesapal read response", ErrGatewayUnavailable)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: pesapal decode response", ErrGatewayUnavailable)
	}
	return nil
}
