package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func adminToken(t *testing.T, secret, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@tibacloud",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func callAdminJWT(secret, header string) (*httptest.ResponseRecorder, bool) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/admin/reconciliations", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	AdminJWT(secret)(next).ServeHTTP(rec, req)
	return rec, called
}

func TestAdminJWTRejectsWhenDisabled(t *testing.T) {
	rec, called := callAdminJWT("", "Bearer whatever")
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no secret, got %d (called=%v)", rec.Code, called)
	}
}

func TestAdminJWTRejectsMissingToken(t *testing.T) {
	rec, called := callAdminJWT("s3cret", "")
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d (called=%v)", rec.Code, called)
	}
}

func TestAdminJWTRejectsWrongKey(t *testing.T) {
	rec, called := callAdminJWT("s3cret", "Bearer "+adminToken(t, "other-key", "admin"))
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d (called=%v)", rec.Code, called)
	}
}

func TestAdminJWTRejectsNonAdminRole(t *testing.T) {
	rec, called := callAdminJWT("s3cret", "Bearer "+adminToken(t, "s3cret", "viewer"))
	if called || rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer role, got %d (called=%v)", rec.Code, called)
	}
}

func TestAdminJWTAcceptsAdminAndExposesClaims(t *testing.T) {
	var got AdminClaims
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = AdminClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/admin/settlements", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "s3cret", "admin"))
	rec := httptest.NewRecorder()
	AdminJWT("s3cret")(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !ok {
		t.Fatalf("expected claims in context")
	}
	if got.Subject != "ops@tibacloud" || got.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", got)
	}
}
