package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDarajaServer(t *testing.T, tokenHits *int, pushHandler, queryHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		if tokenHits != nil {
			*tokenHits++
		}
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "expires_in": "3599"})
	})
	if pushHandler != nil {
		mux.HandleFunc("/mpesa/stkpush/v1/processrequest", pushHandler)
	}
	if queryHandler != nil {
		mux.HandleFunc("/mpesa/stkpushquery/v1/query", queryHandler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSTKPushReturnsCheckoutRequestID(t *testing.T) {
	var gotAuth string
	srv := newDarajaServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req stkPushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode push request: %v", err)
		}
		if req.TransactionType != "CustomerPayBillOnline" {
			t.Errorf("unexpected transaction type %q", req.TransactionType)
		}
		if req.Amount != 1500 {
			t.Errorf("expected whole-shilling amount 1500, got %d", req.Amount)
		}
		_ = json.NewEncoder(w).Encode(stkPushResponse{
			MerchantRequestID: "mr-1",
			CheckoutRequestID: "ws_CO_1",
			ResponseCode:      "0",
		})
	}, nil)

	c := NewMpesaClient(srv.URL, "key", "secret", "174379", "passkey", "https://api.example/callback", nil, nil)
	c.now = func() time.Time { return testNow }

	checkoutID, err := c.STKPush(context.Background(), "254700000000", 1500, "TC-1", "Tiba Cloud booking")
	if err != nil {
		t.Fatalf("STKPush: %v", err)
	}
	if checkoutID != "ws_CO_1" {
		t.Fatalf("expected checkout request id, got %q", checkoutID)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("expected bearer token on push, got %q", gotAuth)
	}
}

func TestAccessTokenCachedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	var tokenHits int
	srv := newDarajaServer(t, &tokenHits, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(stkPushResponse{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"})
	}, nil)

	c := NewMpesaClient(srv.URL, "key", "secret", "174379", "passkey", "https://api.example/callback", rdb, nil)
	c.now = func() time.Time { return testNow }

	for i := 0; i < 3; i++ {
		if _, err := c.STKPush(context.Background(), "254700000000", 1500, "TC-1", "booking"); err != nil {
			t.Fatalf("STKPush %d: %v", i, err)
		}
	}
	if tokenHits != 1 {
		t.Fatalf("expected a single token fetch, got %d", tokenHits)
	}
}

func TestSTKPushRejectionIsGatewayError(t *testing.T) {
	srv := newDarajaServer(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(stkPushResponse{ResponseCode: "1", ResponseDesc: "invalid initiator"})
	}, nil)

	c := NewMpesaClient(srv.URL, "key", "secret", "174379", "passkey", "https://api.example/callback", nil, nil)
	_, err := c.STKPush(context.Background(), "254700000000", 1500, "TC-1", "booking")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestQueryStatusMapsProcessingToPending(t *testing.T) {
	srv := newDarajaServer(t, nil, nil, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"errorCode":    "500.001.1001",
			"errorMessage": "The transaction is still under processing",
		})
	})

	c := NewMpesaClient(srv.URL, "key", "secret", "174379", "passkey", "https://api.example/callback", nil, nil)
	out, err := c.QueryStatus(context.Background(), "ws_CO_1")
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if out.Status != StatusPending {
		t.Fatalf("expected pending while processing, got %s", out.Status)
	}
}

func TestQueryStatusMapsResultCodes(t *testing.T) {
	cases := []struct {
		resultCode string
		want       SessionStatus
	}{
		{"0", StatusSucceeded},
		{"1037", StatusPending},
		{"1032", StatusFailed},
	}
	for _, tc := range cases {
		srv := newDarajaServer(t, nil, nil, func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(stkQueryResponse{ResponseCode: "0", ResultCode: tc.resultCode, ResultDesc: "desc"})
		})
		c := NewMpesaClient(srv.URL, "key", "secret", "174379", "passkey", "https://api.example/callback", nil, nil)
		out, err := c.QueryStatus(context.Background(), "ws_CO_1")
		if err != nil {
			t.Fatalf("QueryStatus(%s): %v", tc.resultCode, err)
		}
		if out.Status != tc.want {
			t.Errorf("result code %s: expected %s, got %s", tc.resultCode, tc.want, out.Status)
		}
	}
}

func TestCallbackOutcomeExtractsMetadata(t *testing.T) {
	cb := mpesaSuccessCallback(t, "ws_CO_1", "SGR7TY2FAKE")
	out := cb.Outcome(testNow)
	if out.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", out.Status)
	}
	if out.ReceiptNumber != "SGR7TY2FAKE" {
		t.Errorf("expected receipt extracted, got %q", out.ReceiptNumber)
	}
	if out.AmountCents != 150000 {
		t.Errorf("expected amount in cents, got %d", out.AmountCents)
	}
	if out.Phone != "254700000000" {
		t.Errorf("expected phone extracted, got %q", out.Phone)
	}
}

func TestParseCallbackRequiresCheckoutRequestID(t *testing.T) {
	_, err := ParseStkCallback(strings.NewReader(`{"Body":{"stkCallback":{"ResultCode":0}}}`))
	if err == nil {
		t.Fatalf("expected error for missing CheckoutRequestID")
	}
}
