package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/tibacloud/booking-platform/internal/finalize"
	"github.com/tibacloud/booking-platform/internal/http/middleware"
	"github.com/tibacloud/booking-platform/pkg/logging"
)

func newTestRouter(t *testing.T, adminSecret string) (http.Handler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	handler := New(&Config{
		Logger:          logging.Default(),
		AdminAuthSecret: adminSecret,
		AdminReconcile:  finalize.NewAdminHandler(finalize.NewReconciliationStore(mock), nil),
	})
	return handler, mock
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterAdminRequiresJWT(t *testing.T) {
	router, _ := newTestRouter(t, "admin-secret")

	req := httptest.NewRequest(http.MethodGet, "/admin/reconciliations", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestRouterAdminAcceptsSignedToken(t *testing.T) {
	router, mock := newTestRouter(t, "admin-secret")

	mock.ExpectQuery("SELECT (.+) FROM reconciliations").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "payment_reference", "reason", "amount_cents", "receipt_number", "resolved", "resolved_at", "created_at",
		}))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("admin-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/reconciliations", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with signed token, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRouterAdminDisabledWithoutSecret(t *testing.T) {
	router, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/admin/reconciliations", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected admin routes unmounted without secret, got %d", rr.Code)
	}
}
