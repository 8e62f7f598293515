// Package imports defines bulk-import jobs and their payload shape.
package imports

import "time"

// Status is the lifecycle state of an import job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Sections are applied in dependency order.
const (
	SectionRoles        = "roles"
	SectionUsers        = "users"
	SectionApplications = "applications"
	SectionConnections  = "connections"
)

// SectionOrder is the order sections are applied in.
var SectionOrder = []string{SectionRoles, SectionUsers, SectionApplications, SectionConnections}

// RecordError describes one record that failed to import.
type RecordError struct {
	Section string `json:"section"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Job tracks one bulk-import run.
type Job struct {
	ID          string         `json:"id"`
	Status      Status         `json:"status"`
	SubmittedBy string         `json:"submitted_by,omitempty"`
	Totals      map[string]int `json:"totals,omitempty"`
	Imported    int            `json:"imported"`
	Failed      int            `json:"failed"`
	Errors      []RecordError  `json:"errors,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	FinishedAt  time.Time      `json:"finished_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Progress is the event payload streamed while a job runs.
type Progress struct {
	JobID     string `json:"job_id"`
	Section   string `json:"section"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Imported  int    `json:"imported"`
	Failed    int    `json:"failed"`
	Done      bool   `json:"done"`
}

// Payload is the decoded import document.
type Payload struct {
	Roles        []RoleRecord        `json:"roles,omitempty"`
	Users        []UserRecord        `json:"users,omitempty"`
	Applications []ApplicationRecord `json:"applications,omitempty"`
	Connections  []ConnectionRecord  `json:"connections,omitempty"`
}

// RoleRecord is one role in an import document.
type RoleRecord struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// UserRecord is one user in an import document.
type UserRecord struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name,omitempty"`
	Password string   `json:"password"`
	Roles    []string `json:"roles,omitempty"`
}

// ApplicationRecord is one application in an import document.
type ApplicationRecord struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Environment  string `json:"environment"`
	TestSchedule string `json:"test_schedule,omitempty"`
}

// ConnectionRecord is one connection in an import document. Application
// references the application by name within the same document or an existing
// one.
type ConnectionRecord struct {
	Application  string            `json:"application"`
	Name         string            `json:"name"`
	Driver       string            `json:"driver"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	DatabaseName string            `json:"database_name"`
	Username     string            `json:"username"`
	Password     string            `json:"password"`
	Options      map[string]string `json:"options,omitempty"`
}
