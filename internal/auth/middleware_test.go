package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:svc-a:asker|qa_curator, k2:ops:operator")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Subject != "svc-a" {
		t.Fatalf("Subject = %q", identity.Subject)
	}
	if !identity.HasRole(RoleCurator) || !identity.HasRole(RoleAsker) {
		t.Fatalf("Roles = %v", identity.Roles)
	}
	if validator.Len() != 2 {
		t.Fatalf("Len() = %d", validator.Len())
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{"invalid", "k1::asker", "k1:svc:|"} {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("expected parse error for %q", spec)
		}
	}
}

func TestJWTValidatorRoundTrip(t *testing.T) {
	validator, err := NewJWTValidator("jwt-secret", "querydb")
	if err != nil {
		t.Fatalf("NewJWTValidator() error = %v", err)
	}
	token, err := validator.Issue("alice", []string{RoleAsker}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), token)
	if !ok {
		t.Fatal("expected token to be valid")
	}
	if identity.Subject != "alice" || !identity.HasRole(RoleAsker) {
		t.Fatalf("identity = %#v", identity)
	}
}

func TestJWTValidatorRejectsExpiredAndForeignTokens(t *testing.T) {
	validator, _ := NewJWTValidator("jwt-secret", "querydb")
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	validator.now = func() time.Time { return now }
	token, err := validator.Issue("alice", []string{RoleAsker}, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, ok := validator.Validate(context.Background(), token); ok {
		t.Fatal("expired token should be rejected")
	}

	other, _ := NewJWTValidator("other-secret", "querydb")
	foreign, _ := other.Issue("mallory", []string{RoleOperator}, time.Hour)
	validator.now = time.Now
	if _, ok := validator.Validate(context.Background(), foreign); ok {
		t.Fatal("token signed with another secret should be rejected")
	}

	wrongIssuer, _ := NewJWTValidator("jwt-secret", "someone-else")
	misissued, _ := wrongIssuer.Issue("bob", []string{RoleAsker}, time.Hour)
	if _, ok := validator.Validate(context.Background(), misissued); ok {
		t.Fatal("token from another issuer should be rejected")
	}
}

func TestChainTriesEachValidator(t *testing.T) {
	static, _ := NewStaticAPIKeyValidator("k1:svc:asker")
	jwtValidator, _ := NewJWTValidator("jwt-secret", "")
	token, _ := jwtValidator.Issue("alice", []string{RoleCurator}, time.Hour)
	chain := Chain{static, nil, jwtValidator}

	if identity, ok := chain.Validate(context.Background(), "k1"); !ok || identity.Subject != "svc" {
		t.Fatalf("static key: identity=%#v ok=%v", identity, ok)
	}
	if identity, ok := chain.Validate(context.Background(), token); !ok || identity.Subject != "alice" {
		t.Fatalf("jwt: identity=%#v ok=%v", identity, ok)
	}
	if _, ok := chain.Validate(context.Background(), "nope"); ok {
		t.Fatal("unknown credential should be rejected")
	}
}

func TestMiddlewareRequiresCredential(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:svc:asker")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator, "/v1/health")
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("public path status = %d", rr.Code)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:svc:asker")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.Subject != "svc" {
			t.Fatalf("Subject = %q", identity.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
	req.Header.Set("Authorization", "Bearer k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleCurator, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPut, "/v1/qa", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{Subject: "svc", Roles: []string{RoleAsker}}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/v1/qa", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("anonymous status = %d, want pass-through", rr.Code)
	}
}
