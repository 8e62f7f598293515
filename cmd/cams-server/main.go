// Package main runs the CAMS API server: application and connection
// management, user auth, audit logging, the connection-test scheduler and
// the bulk-import pipeline behind one HTTP listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cams-platform/cams/internal/cache"
	"github.com/cams-platform/cams/internal/config"
	"github.com/cams-platform/cams/internal/httpapi"
	"github.com/cams-platform/cams/internal/httputil"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/metrics"
	"github.com/cams-platform/cams/internal/middleware"
	"github.com/cams-platform/cams/internal/realtime"
	"github.com/cams-platform/cams/internal/services/apps"
	"github.com/cams-platform/cams/internal/services/audit"
	"github.com/cams-platform/cams/internal/services/auth"
	"github.com/cams-platform/cams/internal/services/connections"
	importsvc "github.com/cams-platform/cams/internal/services/imports"
	"github.com/cams-platform/cams/internal/services/roles"
	"github.com/cams-platform/cams/internal/services/scheduler"
	"github.com/cams-platform/cams/internal/services/users"
	"github.com/cams-platform/cams/internal/storage"
	"github.com/cams-platform/cams/internal/storage/memory"
	"github.com/cams-platform/cams/internal/storage/postgres"
	"github.com/cams-platform/cams/internal/sysinfo"
	"github.com/cams-platform/cams/internal/system"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New("cams-server", cfg.Logging.Level, cfg.Logging.Format)
	stats := metrics.New()

	// Storage: postgres when a DSN is configured, in-memory otherwise.
	var store storage.Store
	var pinger httpapi.Pinger
	if cfg.Database.DSN != "" {
		db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(db.DB); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		pg := postgres.New(db)
		store, pinger = pg, pg
		logger.Info("using postgres storage")
	} else {
		mem := memory.New()
		store, pinger = mem, mem
		logger.Warn("no database configured, using in-memory storage")
	}

	// Cache: redis when configured, process memory otherwise.
	var tokenCache cache.Cache
	if cfg.Redis.Addr != "" {
		tokenCache, err = cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.WithError(err).Warn("redis unreachable, falling back to in-memory cache")
			tokenCache = cache.NewMemory()
		}
	} else {
		tokenCache = cache.NewMemory()
	}
	defer tokenCache.Close()

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set CAMS_JWT_SECRET)")
	}

	// Services.
	auditSvc := audit.New(store, logger.WithField("component", "audit"))
	roleSvc := roles.New(store, logger.WithField("component", "roles"))
	userSvc := users.New(store, store, logger.WithField("component", "users"),
		users.WithBcryptCost(cfg.Auth.BcryptCost))
	authSvc := auth.New(store, roleSvc, tokenCache, auditSvc, auth.Config{
		Secret:          []byte(cfg.Auth.JWTSecret),
		AccessTTL:       cfg.Auth.AccessTokenTTL,
		RefreshTTL:      cfg.Auth.RefreshTokenTTL,
		MaxFailedLogins: cfg.Auth.MaxFailedLogins,
		LockoutDuration: cfg.Auth.LockoutDuration,
	}, logger.WithField("component", "auth"))
	appSvc := apps.New(store, logger.WithField("component", "apps"))

	hub := realtime.NewHub(logger.WithField("component", "realtime"), stats)

	cipher, err := buildCipher(cfg.Auth.EncryptionKey, logger)
	if err != nil {
		return err
	}
	connOpts := []connections.Option{
		connections.WithTester(connections.DialTester{Timeout: cfg.Scheduler.TestTimeout}),
		connections.WithPerformanceRecorder(auditSvc),
		connections.WithEventPublisher(hub),
		connections.WithMetrics(stats),
	}
	if cfg.Scheduler.AlertWebhook != "" {
		connOpts = append(connOpts, connections.WithAlerts(
			httputil.NewClient(httputil.Config{}),
			connections.AlertConfig{
				WebhookURL: cfg.Scheduler.AlertWebhook,
				Threshold:  cfg.Scheduler.AlertThreshold,
			},
		))
	}
	connSvc := connections.New(store, store, cipher,
		logger.WithField("component", "connections"), connOpts...)

	importSvc := importsvc.New(store, store, roleSvc, userSvc, appSvc, connSvc,
		logger.WithField("component", "imports"),
		importsvc.WithEventPublisher(hub),
		importsvc.WithMetrics(stats),
		importsvc.WithMaxErrors(cfg.Imports.MaxErrors))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := roleSvc.Seed(ctx); err != nil {
		return fmt.Errorf("seed system roles: %w", err)
	}

	// Background services.
	manager := system.NewManager(logger.WithField("component", "system"))
	manager.Register(hub)
	if cfg.Scheduler.Enabled {
		manager.Register(scheduler.New(store, store, connSvc, stats, scheduler.Config{
			PollInterval: cfg.Scheduler.PollInterval,
			Concurrency:  cfg.Scheduler.Concurrency,
		}, logger.WithField("component", "scheduler")))
	}
	retention := time.Duration(cfg.Retention.Days) * 24 * time.Hour
	manager.Register(audit.NewRetention(auditSvc, retention, cfg.Retention.SweepInterval,
		logger.WithField("component", "retention")))
	manager.Register(audit.NewHostSampler(auditSvc, sysinfo.HostSampler{}, time.Minute,
		logger.WithField("component", "host-sampler")))
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst,
		logger.WithField("component", "ratelimit"), auditSvc)
	manager.Register(limiter)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	// HTTP server.
	api := httpapi.NewServer(httpapi.Services{
		Apps:        appSvc,
		Connections: connSvc,
		Users:       userSvc,
		Roles:       roleSvc,
		Auth:        authSvc,
		Audit:       auditSvc,
		Imports:     importSvc,
		Hub:         hub,
	}, stats, pinger, logger.WithField("component", "httpapi"))

	server := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Router(httpapi.Config{
			CORSOrigins:    cfg.CORS.AllowedOrigins,
			Limiter:        limiter,
			ImportMaxBytes: int64(cfg.Imports.MaxPayloadMB) << 20,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	manager.Stop(shutdownCtx)

	logger.Info("stopped")
	return nil
}

func buildCipher(key string, logger *logging.Logger) (connections.Cipher, error) {
	if key == "" {
		logger.Warn("no encryption key configured, connection passwords stored unencrypted")
		return connections.NewNoopCipher(), nil
	}
	cipher, err := connections.NewAESCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	return cipher, nil
}
