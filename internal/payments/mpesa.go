package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tibacloud/booking-platform/pkg/logging"
)

var mpesaTracer = otel.Tracer("internal/payments/mpesa")

// Daraja access tokens live for an hour; refresh a little early.
const mpesaTokenTTL = 50 * time.Minute

// MpesaClient talks to the Safaricom Daraja API: OAuth, STK push, and the
// STK push status query.
type MpesaClient struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	callbackURL    string

	httpClient *http.Client
	tokens     *tokenCache
	logger     *logging.Logger
	now        func() time.Time
}

// NewMpesaClient creates a Daraja client. The push timeout is generous
// because Daraja holds the request while the user is prompted for a PIN.
func NewMpesaClient(baseURL, consumerKey, consumerSecret, shortCode, passkey, callbackURL string, rdb *redis.Client, logger *logging.Logger) *MpesaClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &MpesaClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		shortCode:      shortCode,
		passkey:        passkey,
		callbackURL:    callbackURL,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		tokens:         newTokenCache(rdb, "mpesa:access_token"),
		logger:         logger,
		now:            time.Now,
	}
}

func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	if token := c.tokens.get(ctx, c.now()); token != "" {
		return token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("payments: build mpesa token request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: mpesa token: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: mpesa token status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return "", fmt.Errorf("%w: mpesa token decode", ErrGatewayUnavailable)
	}
	c.tokens.put(ctx, body.AccessToken, mpesaTokenTTL, c.now())
	return body.AccessToken, nil
}

// password builds the Daraja STK password for a timestamp.
func (c *MpesaClient) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.shortCode + c.passkey + ts))
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
	ErrorMessage      string `json:"errorMessage"`
}

// STKPush sends a payment prompt to the phone. It returns the Daraja
// CheckoutRequestID used to correlate the callback and status queries.
func (c *MpesaClient) STKPush(ctx context.Context, phone string, amountKES int64, reference, description string) (string, error) {
	ctx, span := mpesaTracer.Start(ctx, "mpesa.STKPush")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", reference))

	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	ts := c.now().Format("20060102150405")
	payload := stkPushRequest{
		BusinessShortCode: c.shortCode,
		Password:          c.password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amountKES,
		PartyA:            phone,
		PartyB:            c.shortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.callbackURL,
		AccountReference:  reference,
		TransactionDesc:   description,
	}

	var out stkPushResponse
	if err := c.postJSON(ctx, token, "/mpesa/stkpush/v1/processrequest", payload, &out); err != nil {
		return "", err
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		c.logger.Warn("mpesa stk push rejected", "response_code", out.ResponseCode, "desc", out.ResponseDesc, "error", out.ErrorMessage)
		return "", fmt.Errorf("%w: stk push rejected: %s", ErrGatewayUnavailable, out.ResponseDesc)
	}
	return out.CheckoutRequestID, nil
}

type stkQueryResponse struct {
	ResponseCode string `json:"ResponseCode"`
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// QueryStatus asks Daraja for the outcome of an STK push. A 1037 result or
// a "still under processing" error means the user has not answered the
// prompt yet; that maps to pending, not failure.
func (c *MpesaClient) QueryStatus(ctx context.Context, checkoutRequestID string) (Outcome, error) {
	ctx, span := mpesaTracer.Start(ctx, "mpesa.QueryStatus")
	defer span.End()

	token, err := c.accessToken(ctx)
	if err != nil {
		return Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ts := c.now().Format("20060102150405")
	payload := map[string]string{
		"BusinessShortCode": c.shortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}

	var out stkQueryResponse
	if err := c.postJSON(ctx, token, "/mpesa/stkpushquery/v1/query", payload, &out); err != nil {
		return Outcome{}, err
	}

	switch {
	case out.ResultCode == "0":
		return Outcome{Status: StatusSucceeded, PaidAt: c.now()}, nil
	case out.ResultCode == "1037",
		strings.Contains(strings.ToLower(out.ErrorMessage), "still under processing"):
		return Outcome{Status: StatusPending}, nil
	case out.ResultCode != "":
		return Outcome{Status: StatusFailed, FailureReason: out.ResultDesc}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: stk query: %s", ErrGatewayUnavailable, out.ErrorMessage)
	}
}

func (c *MpesaClient) postJSON(ctx context.Context, token, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payments: marshal mpesa payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payments: build mpesa request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: mpesa %s: %v", ErrGatewayUnavailable, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: mpesa read response", ErrGatewayUnavailable)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: mpesa decode response", ErrGatewayUnavailable)
	}
	return nil
}

// StkCallback is the Daraja payment notification envelope.
type StkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseStkCallback decodes a Daraja callback body.
func ParseStkCallback(r io.Reader) (*StkCallback, error) {
	var cb StkCallback
	if err := json.NewDecoder(r).Decode(&cb); err != nil {
		return nil, fmt.Errorf("payments: decode stk callback: %w", err)
	}
	if cb.Body.StkCallback.CheckoutRequestID == "" {
		return nil, fmt.Errorf("payments: stk callback missing CheckoutRequestID")
	}
	return &cb, nil
}

// Outcome converts the callback into a gateway verdict, pulling the receipt
// number, amount, and phone out of the metadata items.
func (cb *StkCallback) Outcome(now time.Time) Outcome {
	sc := cb.Body.StkCallback
	if sc.ResultCode != 0 {
		return Outcome{Status: StatusFailed, FailureReason: sc.ResultDesc}
	}
	out := Outcome{Status: StatusSucceeded, PaidAt: now}
	for _, item := range sc.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				out.AmountCents = int64(v * 100)
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				out.ReceiptNumber = v
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case string:
				out.Phone = v
			case float64:
				out.Phone = fmt.Sprintf("%.0f", v)
			}
		}
	}
	return out
}
