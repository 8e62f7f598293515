// Package application defines the registered client systems managed by CAMS.
package application

import "time"

// Environment classifies where an application runs.
type Environment string

const (
	EnvDevelopment Environment = "dev"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "prod"
)

// Valid reports whether the environment is one of the known values.
func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// Application represents a registered client system. TestSchedule is a
// standard 5-field cron expression; when set on an active application the
// scheduler runs its connection tests each time the schedule fires.
type Application struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Environment  Environment `json:"environment"`
	APIKey       string      `json:"api_key,omitempty"`
	IsActive     bool        `json:"is_active"`
	TestSchedule string      `json:"test_schedule,omitempty"`
	NextTestDue  time.Time   `json:"next_test_due,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Scheduled reports whether the application participates in scheduled tests.
func (a Application) Scheduled() bool {
	return a.IsActive && a.TestSchedule != ""
}
