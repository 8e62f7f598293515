// Package storage defines the persistence interfaces implemented by the
// memory and postgres stores.
package storage

import (
	"context"
	"time"

	"github.com/cams-platform/cams/internal/domain/application"
	"github.com/cams-platform/cams/internal/domain/connection"
	"github.com/cams-platform/cams/internal/domain/imports"
	"github.com/cams-platform/cams/internal/domain/record"
	"github.com/cams-platform/cams/internal/domain/role"
	"github.com/cams-platform/cams/internal/domain/user"
)

// ApplicationFilter narrows ListApplications.
type ApplicationFilter struct {
	Environment application.Environment
	ActiveOnly  bool
}

// ApplicationStore persists registered applications.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app application.Application) (application.Application, error)
	UpdateApplication(ctx context.Context, app application.Application) (application.Application, error)
	GetApplication(ctx context.Context, id string) (application.Application, error)
	GetApplicationByName(ctx context.Context, name string) (application.Application, error)
	GetApplicationByAPIKey(ctx context.Context, apiKey string) (application.Application, error)
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]application.Application, error)
	// ListDueApplications returns active applications with a schedule whose
	// NextTestDue is at or before now.
	ListDueApplications(ctx context.Context, now time.Time) ([]application.Application, error)
	DeleteApplication(ctx context.Context, id string) error
}

// ConnectionStore persists database connections.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn connection.Connection) (connection.Connection, error)
	UpdateConnection(ctx context.Context, conn connection.Connection) (connection.Connection, error)
	GetConnection(ctx context.Context, id string) (connection.Connection, error)
	ListConnections(ctx context.Context, applicationID string) ([]connection.Connection, error)
	DeleteConnection(ctx context.Context, id string) error
	DeleteConnectionsByApplication(ctx context.Context, applicationID string) error
}

// UserStore persists administrative users.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// RoleStore persists roles.
type RoleStore interface {
	CreateRole(ctx context.Context, r role.Role) (role.Role, error)
	UpdateRole(ctx context.Context, r role.Role) (role.Role, error)
	GetRole(ctx context.Context, id string) (role.Role, error)
	GetRoleByName(ctx context.Context, name string) (role.Role, error)
	ListRoles(ctx context.Context) ([]role.Role, error)
	DeleteRole(ctx context.Context, id string) error
	// CountUsersWithRole reports how many users reference the role.
	CountUsersWithRole(ctx context.Context, roleID string) (int, error)
}

// RecordStore persists audit, security, and performance records.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec record.Record) (record.Record, error)
	QueryRecords(ctx context.Context, q record.Query) ([]record.Record, error)
	PurgeRecordsBefore(ctx context.Context, kind record.Kind, cutoff time.Time) (int64, error)
}

// ImportStore persists bulk-import jobs.
type ImportStore interface {
	CreateImportJob(ctx context.Context, job imports.Job) (imports.Job, error)
	UpdateImportJob(ctx context.Context, job imports.Job) (imports.Job, error)
	GetImportJob(ctx context.Context, id string) (imports.Job, error)
	ListImportJobs(ctx context.Context, limit int) ([]imports.Job, error)
}

// Store aggregates every interface; both backends implement it.
type Store interface {
	ApplicationStore
	ConnectionStore
	UserStore
	RoleStore
	RecordStore
	ImportStore
}
