package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	secret := []byte("test-secret")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ViewerForbiddenMarkPaid(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "school-a", "viewer")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/pay-1/pay", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_OperatorForbiddenGenerate(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "school-a", "operator")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))
	handler := mw.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/generate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_InjectsSchool(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "school-a", "viewer")
	mw := NewMiddleware(secret, NewDefaultPolicy(nil, nil))

	var (
		gotSchool string
		got       Identity
		found     bool
	)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSchool = SchoolIDFromContext(r.Context())
		got, found = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/students/stu-1/statement", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !found || gotSchool != "school-a" || got.Role != RoleViewer {
		t.Fatalf("identity not injected: school=%q identity=%+v", gotSchool, got)
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil))
	handler := mw.Wrap(okHandler())

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.Code)
		}
	}
}

func TestSignJWTRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignJWT(secret, "school-b", RoleAdmin, "admin-1", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := ParseJWT(token, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.SchoolID != "school-b" || claims.Role != "admin" || claims.Subject != "admin-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := ParseJWT(token, []byte("other-secret")); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func mustToken(t *testing.T, secret []byte, schoolID, role string) string {
	t.Helper()
	claims := Claims{
		SchoolID: schoolID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestIdentityFromContext(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatalf("anonymous context should carry no identity")
	}
	if got := SchoolIDFromContext(context.Background()); got != "" {
		t.Fatalf("anonymous school = %q", got)
	}

	ctx := WithIdentity(context.Background(), "school-a", RoleOperator, "secretary-1")
	id, ok := IdentityFromContext(ctx)
	if !ok || id.SchoolID != "school-a" || id.Actor() != "secretary-1" {
		t.Fatalf("identity = %+v", id)
	}
	if id := (Identity{Role: RoleAdmin}); id.Actor() != "admin" {
		t.Fatalf("actor without subject = %q", id.Actor())
	}
}
