package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/services/auth"
)

type staticValidator struct {
	claims *auth.Claims
	err    error
}

func (v staticValidator) ValidateAccess(context.Context, string) (*auth.Claims, error) {
	return v.claims, v.err
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	m := NewAuthMiddleware(staticValidator{}, logging.Nop(), nil)
	var called bool
	rec := httptest.NewRecorder()
	m.Handler(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil))

	if called {
		t.Fatal("handler ran without credentials")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	m := NewAuthMiddleware(staticValidator{}, logging.Nop(), nil)
	var called bool
	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	m.Handler(okHandler(&called)).ServeHTTP(rec, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("called=%v status=%d, want rejected", called, rec.Code)
	}
}

func TestAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	m := NewAuthMiddleware(staticValidator{err: errors.Unauthorized("token is invalid")}, logging.Nop(), nil)
	var called bool
	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec := httptest.NewRecorder()
	m.Handler(okHandler(&called)).ServeHTTP(rec, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("called=%v status=%d, want rejected", called, rec.Code)
	}
}

func TestAuthMiddlewarePopulatesIdentity(t *testing.T) {
	claims := &auth.Claims{
		UserID:      "u-1",
		Username:    "alice",
		Roles:       []string{"admin"},
		Permissions: []string{"*"},
	}
	m := NewAuthMiddleware(staticValidator{claims: claims}, logging.Nop(), nil)

	var gotUser, gotName string
	var gotPerms []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
		gotName = GetUsername(r.Context())
		gotPerms = GetPermissions(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	m.Handler(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotUser != "u-1" || gotName != "alice" {
		t.Fatalf("identity = %q/%q", gotUser, gotName)
	}
	if len(gotPerms) != 1 || gotPerms[0] != "*" {
		t.Fatalf("permissions = %v", gotPerms)
	}
}

func TestAuthMiddlewareAcceptsQueryToken(t *testing.T) {
	claims := &auth.Claims{UserID: "u-1", Username: "alice"}
	m := NewAuthMiddleware(staticValidator{claims: claims}, logging.Nop(), nil)

	var called bool
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token=good-token", nil)
	m.Handler(okHandler(&called)).ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("called=%v status=%d, want accepted", called, rec.Code)
	}
}

func TestAuthMiddlewareSkipsConfiguredPaths(t *testing.T) {
	m := NewAuthMiddleware(staticValidator{err: errors.Unauthorized("nope")}, logging.Nop(), []string{"/healthz"})
	var called bool
	rec := httptest.NewRecorder()
	m.Handler(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("called=%v status=%d, want pass-through", called, rec.Code)
	}
}

func TestRequirePermission(t *testing.T) {
	m := NewAuthMiddleware(staticValidator{}, logging.Nop(), nil)
	guard := m.RequirePermission("connections.write")

	var called bool
	handler := guard(okHandler(&called))

	// viewer permissions do not cover writes
	req := httptest.NewRequest(http.MethodPost, "/api/v1/connections", nil)
	req = req.WithContext(WithTestUser(req.Context(), "u-1", "viewer", []string{"connections.read"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if called || rec.Code != http.StatusForbidden {
		t.Fatalf("called=%v status=%d, want 403", called, rec.Code)
	}

	// a resource wildcard does
	req = httptest.NewRequest(http.MethodPost, "/api/v1/connections", nil)
	req = req.WithContext(WithTestUser(req.Context(), "u-2", "operator", []string{"connections.*"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("called=%v status=%d, want granted", called, rec.Code)
	}
}
