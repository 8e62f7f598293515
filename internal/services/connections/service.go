// Package connections manages database connections and their tests.
package connections

import (
	"context"
	"strings"
	"time"

	"github.com/cams-platform/cams/internal/domain/connection"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/httputil"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/metrics"
	"github.com/cams-platform/cams/internal/storage"
)

// EventChannel is the realtime channel carrying connection test events.
const EventChannel = "connections"

// PerformanceRecorder receives test timing records for the performance log.
type PerformanceRecorder interface {
	RecordPerformance(ctx context.Context, source, entityID string, duration time.Duration, cpuPercent, memPercent float64)
}

// EventPublisher broadcasts events to realtime subscribers.
type EventPublisher interface {
	Publish(channel, event string, payload interface{})
}

// AlertConfig configures webhook alerting for repeatedly failing
// connections.
type AlertConfig struct {
	WebhookURL string
	Threshold  int
}

// Service manages connections.
type Service struct {
	store  storage.ConnectionStore
	apps   storage.ApplicationStore
	cipher Cipher
	tester Tester
	perf   PerformanceRecorder
	events EventPublisher
	stats  *metrics.Metrics
	alerts *httputil.Client
	alert  AlertConfig
	log    *logging.Logger
}

// Option customises the service.
type Option func(*Service)

// WithTester overrides the connectivity tester.
func WithTester(t Tester) Option {
	return func(s *Service) { s.tester = t }
}

// WithPerformanceRecorder wires the performance log.
func WithPerformanceRecorder(p PerformanceRecorder) Option {
	return func(s *Service) { s.perf = p }
}

// WithEventPublisher wires the realtime hub.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithMetrics wires the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.stats = m }
}

// WithAlerts enables webhook alerts when a connection crosses the failure
// threshold.
func WithAlerts(client *httputil.Client, cfg AlertConfig) Option {
	return func(s *Service) {
		s.alerts = client
		s.alert = cfg
	}
}

// New constructs a connection service. A nil cipher stores passwords
// unencrypted.
func New(store storage.ConnectionStore, apps storage.ApplicationStore, cipher Cipher, log *logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.NewDefault("connections")
	}
	if cipher == nil {
		cipher = NewNoopCipher()
	}
	s := &Service{
		store:  store,
		apps:   apps,
		cipher: cipher,
		tester: DialTester{},
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams carries the fields for a new connection.
type CreateParams struct {
	ApplicationID string
	Name          string
	Driver        string
	Host          string
	Port          int
	DatabaseName  string
	Username      string
	Password      string
	Options       map[string]string
}

// Create validates and stores a new connection, encrypting the password.
func (s *Service) Create(ctx context.Context, p CreateParams) (connection.Connection, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Host = strings.TrimSpace(p.Host)

	if p.ApplicationID == "" {
		return connection.Connection{}, errors.Validation("application_id is required")
	}
	if s.apps != nil {
		if _, err := s.apps.GetApplication(ctx, p.ApplicationID); err != nil {
			return connection.Connection{}, err
		}
	}
	if p.Name == "" {
		return connection.Connection{}, errors.Validation("name is required")
	}
	driver := connection.Driver(strings.ToLower(strings.TrimSpace(p.Driver)))
	if !driver.Valid() {
		return connection.Connection{}, errors.Validation("driver %q is not supported", p.Driver)
	}
	if p.Host == "" {
		return connection.Connection{}, errors.Validation("host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return connection.Connection{}, errors.Validation("port %d out of range", p.Port)
	}

	encrypted, err := s.cipher.Encrypt(p.Password)
	if err != nil {
		return connection.Connection{}, errors.Internal(err)
	}

	created, err := s.store.CreateConnection(ctx, connection.Connection{
		ApplicationID:  p.ApplicationID,
		Name:           p.Name,
		Driver:         driver,
		Host:           p.Host,
		Port:           p.Port,
		DatabaseName:   strings.TrimSpace(p.DatabaseName),
		Username:       strings.TrimSpace(p.Username),
		Password:       encrypted,
		Options:        p.Options,
		IsActive:       true,
		LastTestStatus: connection.TestNever,
	})
	if err != nil {
		return connection.Connection{}, err
	}
	s.log.WithField("connection_id", created.ID).
		WithField("application_id", created.ApplicationID).
		WithField("name", created.Name).
		Info("connection created")
	return created, nil
}

// UpdateParams carries optional field changes; nil means unchanged. A
// non-nil Password replaces the stored credential.
type UpdateParams struct {
	Name         *string
	Driver       *string
	Host         *string
	Port         *int
	DatabaseName *string
	Username     *string
	Password     *string
	Options      map[string]string
	IsActive     *bool
}

// Update applies partial modifications to a connection.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (connection.Connection, error) {
	conn, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return connection.Connection{}, err
	}

	if p.Name != nil {
		trimmed := strings.TrimSpace(*p.Name)
		if trimmed == "" {
			return connection.Connection{}, errors.Validation("name cannot be empty")
		}
		conn.Name = trimmed
	}
	if p.Driver != nil {
		driver := connection.Driver(strings.ToLower(strings.TrimSpace(*p.Driver)))
		if !driver.Valid() {
			return connection.Connection{}, errors.Validation("driver %q is not supported", *p.Driver)
		}
		conn.Driver = driver
	}
	if p.Host != nil {
		host := strings.TrimSpace(*p.Host)
		if host == "" {
			return connection.Connection{}, errors.Validation("host cannot be empty")
		}
		conn.Host = host
	}
	if p.Port != nil {
		if *p.Port <= 0 || *p.Port > 65535 {
			return connection.Connection{}, errors.Validation("port %d out of range", *p.Port)
		}
		conn.Port = *p.Port
	}
	if p.DatabaseName != nil {
		conn.DatabaseName = strings.TrimSpace(*p.DatabaseName)
	}
	if p.Username != nil {
		conn.Username = strings.TrimSpace(*p.Username)
	}
	if p.Password != nil {
		encrypted, err := s.cipher.Encrypt(*p.Password)
		if err != nil {
			return connection.Connection{}, errors.Internal(err)
		}
		conn.Password = encrypted
	}
	if p.Options != nil {
		conn.Options = p.Options
	}
	if p.IsActive != nil {
		conn.IsActive = *p.IsActive
	}

	updated, err := s.store.UpdateConnection(ctx, conn)
	if err != nil {
		return connection.Connection{}, err
	}
	s.log.WithField("connection_id", id).Info("connection updated")
	return updated, nil
}

// Get fetches a connection by ID.
func (s *Service) Get(ctx context.Context, id string) (connection.Connection, error) {
	return s.store.GetConnection(ctx, id)
}

// ListByApplication returns connections for an application.
func (s *Service) ListByApplication(ctx context.Context, applicationID string) ([]connection.Connection, error) {
	return s.store.ListConnections(ctx, applicationID)
}

// Delete removes a connection.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteConnection(ctx, id); err != nil {
		return err
	}
	s.log.WithField("connection_id", id).Info("connection deleted")
	return nil
}

// Test runs a connectivity test and records the result on the connection.
func (s *Service) Test(ctx context.Context, id string) (connection.TestResult, error) {
	conn, err := s.store.GetConnection(ctx, id)
	if err != nil {
		return connection.TestResult{}, err
	}
	return s.RunTest(ctx, conn), nil
}

// RunTest executes the tester against the connection, persists the outcome,
// updates metrics and the performance log, publishes a realtime event, and
// fires a webhook alert when the failure threshold is crossed. It is shared
// by the on-demand endpoint and the scheduler.
func (s *Service) RunTest(ctx context.Context, conn connection.Connection) connection.TestResult {
	password, err := s.cipher.Decrypt(conn.Password)
	if err != nil {
		s.log.WithError(err).WithField("connection_id", conn.ID).Error("credential decrypt failed")
		password = ""
	}

	result := s.tester.Test(ctx, conn, password)

	conn.LastTestAt = result.TestedAt
	conn.LastTestLatencyMs = result.Latency.Milliseconds()
	conn.LastTestError = result.Error
	if result.Passed {
		conn.LastTestStatus = connection.TestPassed
		conn.ConsecutiveFailures = 0
	} else {
		conn.LastTestStatus = connection.TestFailed
		conn.ConsecutiveFailures++
	}
	if _, err := s.store.UpdateConnection(ctx, conn); err != nil {
		s.log.WithError(err).WithField("connection_id", conn.ID).Warn("failed to persist test result")
	}

	if s.stats != nil {
		s.stats.RecordConnectionTest(result.Passed, result.Latency)
	}
	if s.perf != nil {
		s.perf.RecordPerformance(ctx, "connection_test", conn.ID, result.Latency, 0, 0)
	}
	if s.events != nil {
		s.events.Publish(EventChannel, "connection.test", result)
	}
	if !result.Passed {
		s.log.WithField("connection_id", conn.ID).
			WithField("failures", conn.ConsecutiveFailures).
			WithField("error", result.Error).
			Warn("connection test failed")
		s.maybeAlert(ctx, conn, result)
	}
	return result
}

func (s *Service) maybeAlert(ctx context.Context, conn connection.Connection, result connection.TestResult) {
	if s.alerts == nil || s.alert.WebhookURL == "" || s.alert.Threshold <= 0 {
		return
	}
	// fire once, when the threshold is first reached
	if conn.ConsecutiveFailures != s.alert.Threshold {
		return
	}
	payload := map[string]interface{}{
		"type":                 "connection_failure",
		"connection_id":        conn.ID,
		"application_id":       conn.ApplicationID,
		"name":                 conn.Name,
		"address":              conn.Address(),
		"consecutive_failures": conn.ConsecutiveFailures,
		"error":                result.Error,
		"tested_at":            result.TestedAt,
	}
	if err := s.alerts.PostJSON(ctx, s.alert.WebhookURL, payload); err != nil {
		s.log.WithError(err).WithField("connection_id", conn.ID).Warn("alert webhook failed")
	}
}
