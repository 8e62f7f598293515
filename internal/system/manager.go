// Package system manages component lifecycles. All long-running CAMS modules
// implement Service so the manager can start and stop them deterministically.
package system

import (
	"context"
	"fmt"

	"github.com/cams-platform/cams/internal/logging"
)

// Service represents a lifecycle-managed component.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	log      *logging.Logger
	services []Service
	started  []Service
}

// NewManager creates an empty manager.
func NewManager(log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewDefault("system")
	}
	return &Manager{log: log}
}

// Register adds a service. Must be called before Start.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// Start starts every registered service. On failure the already-started
// services are stopped before returning.
func (m *Manager) Start(ctx context.Context) error {
	for _, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			m.log.WithError(err).WithField("component", svc.Name()).Error("component start failed")
			m.stopStarted(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.started = append(m.started, svc)
		m.log.WithField("component", svc.Name()).Info("component started")
	}
	return nil
}

// Stop stops started services in reverse order, continuing past failures.
func (m *Manager) Stop(ctx context.Context) {
	m.stopStarted(ctx)
}

func (m *Manager) stopStarted(ctx context.Context) {
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("component", svc.Name()).Warn("component stop failed")
		} else {
			m.log.WithField("component", svc.Name()).Info("component stopped")
		}
	}
	m.started = nil
}
