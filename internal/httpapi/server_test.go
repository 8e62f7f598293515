package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/cams-platform/cams/internal/cache"
	"github.com/cams-platform/cams/internal/domain/record"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/metrics"
	"github.com/cams-platform/cams/internal/realtime"
	"github.com/cams-platform/cams/internal/services/apps"
	"github.com/cams-platform/cams/internal/services/audit"
	"github.com/cams-platform/cams/internal/services/auth"
	"github.com/cams-platform/cams/internal/services/connections"
	"github.com/cams-platform/cams/internal/services/imports"
	"github.com/cams-platform/cams/internal/services/roles"
	"github.com/cams-platform/cams/internal/services/users"
	"github.com/cams-platform/cams/internal/storage/memory"
)

type testEnv struct {
	router http.Handler
	store  *memory.Store
	audit  *audit.Service
}

func newTestEnv(t *testing.T, cfgs ...Config) *testEnv {
	t.Helper()
	store := memory.New()
	log := logging.Nop()
	ctx := context.Background()

	roleSvc := roles.New(store, log)
	if err := roleSvc.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	userSvc := users.New(store, store, log, users.WithBcryptCost(bcrypt.MinCost))
	appSvc := apps.New(store, log)
	connSvc := connections.New(store, store, nil, log)
	auditSvc := audit.New(store, log)
	authSvc := auth.New(store, roleSvc, cache.NewMemory(), auditSvc, auth.Config{
		Secret: []byte("integration-test-secret-32-bytes!"),
	}, log)
	stats := metrics.New()
	hub := realtime.NewHub(log, stats)
	importSvc := imports.New(store, store, roleSvc, userSvc, appSvc, connSvc, log)

	for _, seed := range []struct{ username, roleName string }{
		{"root", roles.RoleAdmin},
		{"reader", roles.RoleViewer},
	} {
		r, err := roleSvc.GetByName(ctx, seed.roleName)
		if err != nil {
			t.Fatalf("GetByName %s: %v", seed.roleName, err)
		}
		if _, err := userSvc.Create(ctx, users.CreateParams{
			Username: seed.username,
			Email:    seed.username + "@example.com",
			Password: "passw0rd1",
			RoleIDs:  []string{r.ID},
		}); err != nil {
			t.Fatalf("create %s: %v", seed.username, err)
		}
	}

	server := NewServer(Services{
		Apps:        appSvc,
		Connections: connSvc,
		Users:       userSvc,
		Roles:       roleSvc,
		Auth:        authSvc,
		Audit:       auditSvc,
		Imports:     importSvc,
		Hub:         hub,
	}, stats, store, log)

	cfg := Config{RequestsPerSecond: 1000, Burst: 1000}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	return &testEnv{
		router: server.Router(cfg),
		store:  store,
		audit:  auditSvc,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:1234"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d body = %s", username, rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("login returned no access token")
	}
	return resp.AccessToken
}

func TestHealthEndpointsAreOpen(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "root",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAPIRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/applications", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestApplicationLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "root", "passw0rd1")

	rec := env.do(t, http.MethodPost, "/api/v1/applications", token, map[string]string{
		"name":        "billing",
		"environment": "prod",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID     string `json:"id"`
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created application: %v", err)
	}
	if created.ID == "" || created.APIKey == "" {
		t.Fatalf("created = %+v", created)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/applications/"+created.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/applications/%s/connections", created.ID), token, map[string]interface{}{
		"name":     "primary",
		"driver":   "postgres",
		"host":     "db.internal",
		"port":     5432,
		"username": "app",
		"password": "s3cret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create connection: status = %d body = %s", rec.Code, rec.Body.String())
	}

	// Passwords never leave the API.
	if bytes.Contains(rec.Body.Bytes(), []byte("s3cret")) {
		t.Fatal("connection response leaked the password")
	}

	// Mutations leave an audit trail.
	recs, err := env.audit.Query(context.Background(), record.Query{Kind: record.KindAudit})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) < 2 {
		t.Fatalf("audit records = %d, want one per mutation", len(recs))
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/applications/"+created.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/applications/"+created.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d", rec.Code)
	}
}

func TestViewerCannotWrite(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "reader", "passw0rd1")

	rec := env.do(t, http.MethodGet, "/api/v1/applications", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d, viewer should read", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/applications", token, map[string]string{
		"name":        "sneaky",
		"environment": "prod",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("create: status = %d, want 403", rec.Code)
	}
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error.Code != "forbidden" {
		t.Fatalf("error code = %q, want forbidden", resp.Error.Code)
	}
}

func TestUnknownRecordKindRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "root", "passw0rd1")

	rec := env.do(t, http.MethodGet, "/api/v1/records?kind=telemetry", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestImportBodyCapIsConfigurable(t *testing.T) {
	env := newTestEnv(t, Config{RequestsPerSecond: 1000, Burst: 1000, ImportMaxBytes: 256})
	token := env.login(t, "root", "passw0rd1")

	doc := map[string]interface{}{
		"roles": []map[string]interface{}{{
			"name":        "bulk",
			"description": strings.Repeat("x", 512),
			"permissions": []string{"applications.read"},
		}},
	}
	rec := env.do(t, http.MethodPost, "/api/v1/imports", token, doc)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s, want 400 for an oversized document", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "exceeds 256 bytes") {
		t.Fatalf("body = %s, want the configured limit in the message", rec.Body.String())
	}
}
