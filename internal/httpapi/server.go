// Package httpapi assembles the REST API on gorilla/mux.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cams-platform/cams/internal/httputil"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/metrics"
	"github.com/cams-platform/cams/internal/middleware"
	"github.com/cams-platform/cams/internal/realtime"
	"github.com/cams-platform/cams/internal/services/apps"
	"github.com/cams-platform/cams/internal/services/audit"
	"github.com/cams-platform/cams/internal/services/auth"
	"github.com/cams-platform/cams/internal/services/connections"
	"github.com/cams-platform/cams/internal/services/imports"
	"github.com/cams-platform/cams/internal/services/roles"
	"github.com/cams-platform/cams/internal/services/users"
)

// Pinger reports storage health for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles everything the API serves.
type Services struct {
	Apps        *apps.Service
	Connections *connections.Service
	Users       *users.Service
	Roles       *roles.Service
	Auth        *auth.Service
	Audit       *audit.Service
	Imports     *imports.Service
	Hub         *realtime.Hub
}

// Config carries the router's middleware settings.
type Config struct {
	CORSOrigins       []string
	RequestsPerSecond int
	Burst             int
	ImportMaxBytes    int64
	// Limiter, when set, is used instead of constructing one from
	// RequestsPerSecond/Burst. Main registers it as a managed service so
	// its cleanup loop runs.
	Limiter *middleware.RateLimiter
}

// Server holds the handlers and their dependencies.
type Server struct {
	svc            Services
	stats          *metrics.Metrics
	logger         *logging.Logger
	pinger         Pinger
	importMaxBytes int64
}

// NewServer creates the API server.
func NewServer(svc Services, stats *metrics.Metrics, pinger Pinger, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDefault("httpapi")
	}
	return &Server{svc: svc, stats: stats, logger: logger, pinger: pinger}
}

// Router assembles the full middleware chain and route table.
func (s *Server) Router(cfg Config) *mux.Router {
	s.importMaxBytes = cfg.ImportMaxBytes

	r := mux.NewRouter()

	authMW := middleware.NewAuthMiddleware(s.svc.Auth, s.logger, []string{
		"/healthz",
		"/readyz",
		"/metrics",
		"/api/v1/auth/login",
		"/api/v1/auth/refresh",
	})
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst, s.logger, s.svc.Audit)
	}

	r.Use(middleware.RecoveryMiddleware(s.logger))
	r.Use(middleware.NewTracingMiddleware().Handler)
	r.Use(middleware.LoggingMiddleware(s.logger))
	r.Use(middleware.MetricsMiddleware(s.stats))
	r.Use(middleware.NewCORSMiddleware(cfg.CORSOrigins).Handler)
	r.Use(limiter.Handler)
	r.Use(authMW.Handler)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", s.stats.Handler()).Methods(http.MethodGet)
	r.Handle("/ws", s.svc.Hub).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Auth.
	api.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", s.refresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.logout).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.me).Methods(http.MethodGet)

	perm := authMW.RequirePermission
	handle := func(path, permission string, fn http.HandlerFunc, methods ...string) {
		api.Handle(path, perm(permission)(fn)).Methods(methods...)
	}

	// Applications.
	handle("/applications", "applications.read", s.listApplications, http.MethodGet)
	handle("/applications", "applications.write", s.createApplication, http.MethodPost)
	handle("/applications/{id}", "applications.read", s.getApplication, http.MethodGet)
	handle("/applications/{id}", "applications.write", s.updateApplication, http.MethodPut)
	handle("/applications/{id}", "applications.write", s.deleteApplication, http.MethodDelete)
	handle("/applications/{id}/rotate-key", "applications.write", s.rotateAPIKey, http.MethodPost)
	handle("/applications/{id}/active", "applications.write", s.setApplicationActive, http.MethodPut)

	// Connections, nested under their application for listing and creation.
	handle("/applications/{id}/connections", "connections.read", s.listConnections, http.MethodGet)
	handle("/applications/{id}/connections", "connections.write", s.createConnection, http.MethodPost)
	handle("/connections/{id}", "connections.read", s.getConnection, http.MethodGet)
	handle("/connections/{id}", "connections.write", s.updateConnection, http.MethodPut)
	handle("/connections/{id}", "connections.write", s.deleteConnection, http.MethodDelete)
	handle("/connections/{id}/test", "connections.test", s.testConnection, http.MethodPost)

	// Users.
	handle("/users", "users.read", s.listUsers, http.MethodGet)
	handle("/users", "users.write", s.createUser, http.MethodPost)
	handle("/users/{id}", "users.read", s.getUser, http.MethodGet)
	handle("/users/{id}", "users.write", s.updateUser, http.MethodPut)
	handle("/users/{id}", "users.write", s.deleteUser, http.MethodDelete)
	handle("/users/{id}/password", "users.write", s.setUserPassword, http.MethodPut)
	handle("/users/{id}/roles", "users.write", s.assignUserRoles, http.MethodPut)
	handle("/users/{id}/active", "users.write", s.setUserActive, http.MethodPut)
	handle("/users/{id}/unlock", "users.write", s.unlockUser, http.MethodPost)

	// Roles.
	handle("/roles", "roles.read", s.listRoles, http.MethodGet)
	handle("/roles", "roles.write", s.createRole, http.MethodPost)
	handle("/roles/{id}", "roles.read", s.getRole, http.MethodGet)
	handle("/roles/{id}", "roles.write", s.updateRole, http.MethodPut)
	handle("/roles/{id}", "roles.write", s.deleteRole, http.MethodDelete)

	// Records.
	handle("/records", "records.read", s.queryRecords, http.MethodGet)

	// Imports.
	handle("/imports", "imports.read", s.listImportJobs, http.MethodGet)
	handle("/imports", "imports.write", s.submitImport, http.MethodPost)
	handle("/imports/{id}", "imports.read", s.getImportJob, http.MethodGet)

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "storage unreachable",
			})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// recordAudit writes one audit record for a successful mutation.
func (s *Server) recordAudit(r *http.Request, action, entityType, entityID, summary string) {
	if s.svc.Audit == nil {
		return
	}
	s.svc.Audit.RecordAudit(r.Context(), action, entityType, entityID, summary)
}
