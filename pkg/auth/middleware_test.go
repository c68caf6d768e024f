package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/glytch-labs/ucp/core/pkg/auth"
	"github.com/glytch-labs/ucp/core/pkg/kernel"
)

var testSecret = []byte("unit-test-signing-secret")

func createTestToken(t *testing.T, secret []byte, sub string, roles []string, expiry time.Time) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "ucp-test",
		},
		Roles: roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestMiddleware_ValidJWT(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewJWTValidator(testSecret))

	var capturedPrincipal auth.Principal
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		if err != nil {
			t.Errorf("expected principal in context: %v", err)
		}
		capturedPrincipal = p
		w.WriteHeader(http.StatusOK)
	}))

	token := createTestToken(t, testSecret, "user-123", []string{"admin"}, time.Now().Add(1*time.Hour))

	req := httptest.NewRequest("POST", "/compile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if capturedPrincipal == nil {
		t.Fatal("principal was not set in context")
	}
	if capturedPrincipal.GetID() != "user-123" {
		t.Errorf("expected subject 'user-123', got %q", capturedPrincipal.GetID())
	}
	if !capturedPrincipal.IsAdmin() {
		t.Error("expected admin role to be carried")
	}
}

func TestMiddleware_ExpiredJWT(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewJWTValidator(testSecret))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for expired token")
	}))

	token := createTestToken(t, testSecret, "user-123", nil, time.Now().Add(-1*time.Hour))

	req := httptest.NewRequest("POST", "/compile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewJWTValidator(testSecret))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without auth header")
	}))

	req := httptest.NewRequest("POST", "/compile", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_InvalidSignature(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewJWTValidator([]byte("other-secret")))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for invalid signature")
	}))

	token := createTestToken(t, testSecret, "user-123", nil, time.Now().Add(1*time.Hour))

	req := httptest.NewRequest("POST", "/compile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_PublicPathsBypass(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewJWTValidator(testSecret))

	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should be called for public paths without auth")
	}
}

func TestMiddleware_NilValidator_FailClosed(t *testing.T) {
	middleware := auth.NewMiddleware(nil)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called when validator is nil")
	}))

	req := httptest.NewRequest("POST", "/compile", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_MissingSubjectClaim(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewJWTValidator(testSecret))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for missing subject claim")
	}))

	token := createTestToken(t, testSecret, "", []string{"admin"}, time.Now().Add(1*time.Hour))
	req := httptest.NewRequest("POST", "/compile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRateLimitMiddleware_Blocks(t *testing.T) {
	store := kernel.NewInMemoryLimiterStore()
	policy := kernel.WindowPolicy{Limit: 2, Window: time.Minute}
	middleware := auth.RateLimitMiddleware(store, policy)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/compile", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("POST", "/compile", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

func TestGetRequestID_ExtractsFromContext(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/runs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got == "" {
		t.Fatal("expected non-empty request id from context")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
}
