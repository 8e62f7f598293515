// Package apps manages registered applications.
package apps

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cams-platform/cams/internal/domain/application"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/schedule"
	"github.com/cams-platform/cams/internal/storage"
)

// Service manages applications.
type Service struct {
	store storage.ApplicationStore
	log   *logging.Logger
	now   func() time.Time
}

// New constructs an application service.
func New(store storage.ApplicationStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("apps")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// CreateParams carries the fields for a new application.
type CreateParams struct {
	Name         string
	Description  string
	Environment  string
	TestSchedule string
}

// Create validates and stores a new application with a fresh API key.
func (s *Service) Create(ctx context.Context, p CreateParams) (application.Application, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.TestSchedule = strings.TrimSpace(p.TestSchedule)

	if p.Name == "" {
		return application.Application{}, errors.Validation("name is required")
	}
	env := application.Environment(strings.ToLower(strings.TrimSpace(p.Environment)))
	if !env.Valid() {
		return application.Application{}, errors.Validation("environment %q is not one of dev, staging, prod", p.Environment)
	}
	if err := schedule.Validate(p.TestSchedule); err != nil {
		return application.Application{}, errors.Validation("test_schedule %q is not a valid cron expression: %v", p.TestSchedule, err)
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return application.Application{}, errors.Internal(err)
	}

	app := application.Application{
		Name:         p.Name,
		Description:  strings.TrimSpace(p.Description),
		Environment:  env,
		APIKey:       apiKey,
		IsActive:     true,
		TestSchedule: p.TestSchedule,
	}
	if app.TestSchedule != "" {
		next, err := schedule.Next(app.TestSchedule, s.now().UTC())
		if err != nil {
			return application.Application{}, errors.Validation("test_schedule: %v", err)
		}
		app.NextTestDue = next
	}

	created, err := s.store.CreateApplication(ctx, app)
	if err != nil {
		return application.Application{}, err
	}
	s.log.WithField("application_id", created.ID).
		WithField("name", created.Name).
		WithField("environment", created.Environment).
		Info("application created")
	return created, nil
}

// UpdateParams carries optional field changes; nil means unchanged.
type UpdateParams struct {
	Name         *string
	Description  *string
	Environment  *string
	TestSchedule *string
}

// Update applies partial modifications to an application.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (application.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, err
	}

	if p.Name != nil {
		trimmed := strings.TrimSpace(*p.Name)
		if trimmed == "" {
			return application.Application{}, errors.Validation("name cannot be empty")
		}
		app.Name = trimmed
	}
	if p.Description != nil {
		app.Description = strings.TrimSpace(*p.Description)
	}
	if p.Environment != nil {
		env := application.Environment(strings.ToLower(strings.TrimSpace(*p.Environment)))
		if !env.Valid() {
			return application.Application{}, errors.Validation("environment %q is not one of dev, staging, prod", *p.Environment)
		}
		app.Environment = env
	}
	if p.TestSchedule != nil {
		expr := strings.TrimSpace(*p.TestSchedule)
		if err := schedule.Validate(expr); err != nil {
			return application.Application{}, errors.Validation("test_schedule %q is not a valid cron expression: %v", expr, err)
		}
		app.TestSchedule = expr
		if expr == "" {
			app.NextTestDue = time.Time{}
		} else {
			next, err := schedule.Next(expr, s.now().UTC())
			if err != nil {
				return application.Application{}, errors.Validation("test_schedule: %v", err)
			}
			app.NextTestDue = next
		}
	}

	updated, err := s.store.UpdateApplication(ctx, app)
	if err != nil {
		return application.Application{}, err
	}
	s.log.WithField("application_id", id).Info("application updated")
	return updated, nil
}

// Get fetches an application by ID.
func (s *Service) Get(ctx context.Context, id string) (application.Application, error) {
	return s.store.GetApplication(ctx, id)
}

// GetByAPIKey fetches an application by its API key.
func (s *Service) GetByAPIKey(ctx context.Context, apiKey string) (application.Application, error) {
	if strings.TrimSpace(apiKey) == "" {
		return application.Application{}, errors.Validation("api key is required")
	}
	return s.store.GetApplicationByAPIKey(ctx, apiKey)
}

// List returns applications matching the filter.
func (s *Service) List(ctx context.Context, environment string, activeOnly bool) ([]application.Application, error) {
	filter := storage.ApplicationFilter{ActiveOnly: activeOnly}
	if environment != "" {
		env := application.Environment(strings.ToLower(environment))
		if !env.Valid() {
			return nil, errors.Validation("environment %q is not one of dev, staging, prod", environment)
		}
		filter.Environment = env
	}
	return s.store.ListApplications(ctx, filter)
}

// Delete removes an application and its connections.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteApplication(ctx, id); err != nil {
		return err
	}
	s.log.WithField("application_id", id).Info("application deleted")
	return nil
}

// RotateAPIKey replaces the application's API key.
func (s *Service) RotateAPIKey(ctx context.Context, id string) (application.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, err
	}
	apiKey, err := generateAPIKey()
	if err != nil {
		return application.Application{}, errors.Internal(err)
	}
	app.APIKey = apiKey
	updated, err := s.store.UpdateApplication(ctx, app)
	if err != nil {
		return application.Application{}, err
	}
	s.log.WithField("application_id", id).Info("api key rotated")
	return updated, nil
}

// SetActive toggles the active flag. Deactivating clears the next test due
// time so the scheduler skips the application.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (application.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return application.Application{}, err
	}
	if app.IsActive == active {
		return app, nil
	}
	app.IsActive = active
	if !active {
		app.NextTestDue = time.Time{}
	} else if app.TestSchedule != "" {
		next, err := schedule.Next(app.TestSchedule, s.now().UTC())
		if err == nil {
			app.NextTestDue = next
		}
	}
	updated, err := s.store.UpdateApplication(ctx, app)
	if err != nil {
		return application.Application{}, err
	}
	s.log.WithField("application_id", id).WithField("active", active).Info("application state changed")
	return updated, nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "cams_" + hex.EncodeToString(buf), nil
}
