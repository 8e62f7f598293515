// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cams-platform/cams/internal/domain/application"
	"github.com/cams-platform/cams/internal/domain/connection"
	"github.com/cams-platform/cams/internal/domain/imports"
	"github.com/cams-platform/cams/internal/domain/record"
	"github.com/cams-platform/cams/internal/domain/role"
	"github.com/cams-platform/cams/internal/domain/user"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/storage"
)

// Store is the in-memory backend.
type Store struct {
	mu sync.RWMutex

	applications map[string]application.Application
	appsByKey    map[string]string
	connections  map[string]connection.Connection
	users        map[string]user.User
	roles        map[string]role.Role
	records      []record.Record
	importJobs   map[string]imports.Job
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		applications: make(map[string]application.Application),
		appsByKey:    make(map[string]string),
		connections:  make(map[string]connection.Connection),
		users:        make(map[string]user.User),
		roles:        make(map[string]role.Role),
		importJobs:   make(map[string]imports.Job),
	}
}

// Ping always succeeds; the store lives in process memory.
func (s *Store) Ping(context.Context) error { return nil }

// ApplicationStore implementation ---------------------------------------------

func (s *Store) CreateApplication(_ context.Context, app application.Application) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if app.ID == "" {
		app.ID = uuid.NewString()
	} else if _, exists := s.applications[app.ID]; exists {
		return application.Application{}, errors.Conflict("application %s already exists", app.ID)
	}
	for _, other := range s.applications {
		if strings.EqualFold(other.Name, app.Name) {
			return application.Application{}, errors.Conflict("application name %q already in use", app.Name)
		}
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	s.applications[app.ID] = app
	if app.APIKey != "" {
		s.appsByKey[app.APIKey] = app.ID
	}
	return app, nil
}

func (s *Store) UpdateApplication(_ context.Context, app application.Application) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.applications[app.ID]
	if !ok {
		return application.Application{}, errors.NotFound("application", app.ID)
	}
	for id, other := range s.applications {
		if id != app.ID && strings.EqualFold(other.Name, app.Name) {
			return application.Application{}, errors.Conflict("application name %q already in use", app.Name)
		}
	}
	app.CreatedAt = existing.CreatedAt
	app.UpdatedAt = time.Now().UTC()
	if existing.APIKey != app.APIKey {
		delete(s.appsByKey, existing.APIKey)
	}
	s.applications[app.ID] = app
	if app.APIKey != "" {
		s.appsByKey[app.APIKey] = app.ID
	}
	return app, nil
}

func (s *Store) GetApplication(_ context.Context, id string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return application.Application{}, errors.NotFound("application", id)
	}
	return app, nil
}

func (s *Store) GetApplicationByName(_ context.Context, name string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, app := range s.applications {
		if strings.EqualFold(app.Name, name) {
			return app, nil
		}
	}
	return application.Application{}, errors.NotFound("application", name)
}

func (s *Store) GetApplicationByAPIKey(_ context.Context, apiKey string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.appsByKey[apiKey]
	if !ok {
		return application.Application{}, errors.NotFound("application", "by api key")
	}
	return s.applications[id], nil
}

func (s *Store) ListApplications(_ context.Context, filter storage.ApplicationFilter) ([]application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]application.Application, 0, len(s.applications))
	for _, app := range s.applications {
		if filter.Environment != "" && app.Environment != filter.Environment {
			continue
		}
		if filter.ActiveOnly && !app.IsActive {
			continue
		}
		out = append(out, app)
	}
	sortApplications(out)
	return out, nil
}

func (s *Store) ListDueApplications(_ context.Context, now time.Time) ([]application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []application.Application
	for _, app := range s.applications {
		if !app.Scheduled() {
			continue
		}
		if app.NextTestDue.IsZero() || !app.NextTestDue.After(now) {
			out = append(out, app)
		}
	}
	sortApplications(out)
	return out, nil
}

func (s *Store) DeleteApplication(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.applications[id]
	if !ok {
		return errors.NotFound("application", id)
	}
	delete(s.applications, id)
	delete(s.appsByKey, app.APIKey)
	for connID, conn := range s.connections {
		if conn.ApplicationID == id {
			delete(s.connections, connID)
		}
	}
	return nil
}

func sortApplications(apps []application.Application) {
	sort.Slice(apps, func(i, j int) bool {
		return strings.ToLower(apps[i].Name) < strings.ToLower(apps[j].Name)
	})
}

// ConnectionStore implementation ----------------------------------------------

func (s *Store) CreateConnection(_ context.Context, conn connection.Connection) (connection.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.applications[conn.ApplicationID]; !ok {
		return connection.Connection{}, errors.NotFound("application", conn.ApplicationID)
	}
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	} else if _, exists := s.connections[conn.ID]; exists {
		return connection.Connection{}, errors.Conflict("connection %s already exists", conn.ID)
	}
	for _, other := range s.connections {
		if other.ApplicationID == conn.ApplicationID && strings.EqualFold(other.Name, conn.Name) {
			return connection.Connection{}, errors.Conflict("connection name %q already in use", conn.Name)
		}
	}
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	if conn.LastTestStatus == "" {
		conn.LastTestStatus = connection.TestNever
	}
	s.connections[conn.ID] = cloneConnection(conn)
	return conn, nil
}

func (s *Store) UpdateConnection(_ context.Context, conn connection.Connection) (connection.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.connections[conn.ID]
	if !ok {
		return connection.Connection{}, errors.NotFound("connection", conn.ID)
	}
	for id, other := range s.connections {
		if id != conn.ID && other.ApplicationID == conn.ApplicationID && strings.EqualFold(other.Name, conn.Name) {
			return connection.Connection{}, errors.Conflict("connection name %q already in use", conn.Name)
		}
	}
	conn.CreatedAt = existing.CreatedAt
	conn.UpdatedAt = time.Now().UTC()
	s.connections[conn.ID] = cloneConnection(conn)
	return conn, nil
}

func (s *Store) GetConnection(_ context.Context, id string) (connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[id]
	if !ok {
		return connection.Connection{}, errors.NotFound("connection", id)
	}
	return cloneConnection(conn), nil
}

func (s *Store) ListConnections(_ context.Context, applicationID string) ([]connection.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []connection.Connection
	for _, conn := range s.connections {
		if applicationID == "" || conn.ApplicationID == applicationID {
			out = append(out, cloneConnection(conn))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (s *Store) DeleteConnection(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.connections[id]; !ok {
		return errors.NotFound("connection", id)
	}
	delete(s.connections, id)
	return nil
}

func (s *Store) DeleteConnectionsByApplication(_ context.Context, applicationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, conn := range s.connections {
		if conn.ApplicationID == applicationID {
			delete(s.connections, id)
		}
	}
	return nil
}

func cloneConnection(conn connection.Connection) connection.Connection {
	if conn.Options != nil {
		opts := make(map[string]string, len(conn.Options))
		for k, v := range conn.Options {
			opts[k] = v
		}
		conn.Options = opts
	}
	return conn
}

// UserStore implementation -----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, errors.Conflict("user %s already exists", u.ID)
	}
	for _, other := range s.users {
		if strings.EqualFold(other.Username, u.Username) {
			return user.User{}, errors.Conflict("username %q already in use", u.Username)
		}
		if strings.EqualFold(other.Email, u.Email) {
			return user.User{}, errors.Conflict("email %q already in use", u.Email)
		}
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = cloneUser(u)
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	if !ok {
		return user.User{}, errors.NotFound("user", u.ID)
	}
	for id, other := range s.users {
		if id == u.ID {
			continue
		}
		if strings.EqualFold(other.Username, u.Username) {
			return user.User{}, errors.Conflict("username %q already in use", u.Username)
		}
		if strings.EqualFold(other.Email, u.Email) {
			return user.User{}, errors.Conflict("email %q already in use", u.Email)
		}
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = cloneUser(u)
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, errors.NotFound("user", id)
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return cloneUser(u), nil
		}
	}
	return user.User{}, errors.NotFound("user", username)
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return user.User{}, errors.NotFound("user", email)
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	return out, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return errors.NotFound("user", id)
	}
	delete(s.users, id)
	return nil
}

func cloneUser(u user.User) user.User {
	if u.RoleIDs != nil {
		roles := make([]string, len(u.RoleIDs))
		copy(roles, u.RoleIDs)
		u.RoleIDs = roles
	}
	return u
}

// RoleStore implementation -----------------------------------------------------

func (s *Store) CreateRole(_ context.Context, r role.Role) (role.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	} else if _, exists := s.roles[r.ID]; exists {
		return role.Role{}, errors.Conflict("role %s already exists", r.ID)
	}
	for _, other := range s.roles {
		if strings.EqualFold(other.Name, r.Name) {
			return role.Role{}, errors.Conflict("role name %q already in use", r.Name)
		}
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.roles[r.ID] = cloneRole(r)
	return r, nil
}

func (s *Store) UpdateRole(_ context.Context, r role.Role) (role.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.roles[r.ID]
	if !ok {
		return role.Role{}, errors.NotFound("role", r.ID)
	}
	for id, other := range s.roles {
		if id != r.ID && strings.EqualFold(other.Name, r.Name) {
			return role.Role{}, errors.Conflict("role name %q already in use", r.Name)
		}
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	s.roles[r.ID] = cloneRole(r)
	return r, nil
}

func (s *Store) GetRole(_ context.Context, id string) (role.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[id]
	if !ok {
		return role.Role{}, errors.NotFound("role", id)
	}
	return cloneRole(r), nil
}

func (s *Store) GetRoleByName(_ context.Context, name string) (role.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return cloneRole(r), nil
		}
	}
	return role.Role{}, errors.NotFound("role", name)
}

func (s *Store) ListRoles(_ context.Context) ([]role.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]role.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[id]; !ok {
		return errors.NotFound("role", id)
	}
	delete(s.roles, id)
	return nil
}

func (s *Store) CountUsersWithRole(_ context.Context, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, u := range s.users {
		for _, id := range u.RoleIDs {
			if id == roleID {
				count++
				break
			}
		}
	}
	return count, nil
}

func cloneRole(r role.Role) role.Role {
	if r.Permissions != nil {
		perms := make([]string, len(r.Permissions))
		copy(perms, r.Permissions)
		r.Permissions = perms
	}
	return r
}

// RecordStore implementation ---------------------------------------------------

func (s *Store) CreateRecord(_ context.Context, rec record.Record) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *Store) QueryRecords(_ context.Context, q record.Query) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []record.Record
	for _, rec := range s.records {
		if q.Kind != "" && rec.Kind != q.Kind {
			continue
		}
		if !q.Since.IsZero() && rec.At.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && rec.At.After(q.Until) {
			continue
		}
		if q.Actor != "" && rec.Actor != q.Actor {
			continue
		}
		if q.Event != "" && rec.Event != q.Event {
			continue
		}
		if q.EntityType != "" && rec.EntityType != q.EntityType {
			continue
		}
		if q.EntityID != "" && rec.EntityID != q.EntityID {
			continue
		}
		matched = append(matched, rec)
	}
	// newest first
	sort.Slice(matched, func(i, j int) bool { return matched[i].At.After(matched[j].At) })

	offset := q.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *Store) PurgeRecordsBefore(_ context.Context, kind record.Kind, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var purged int64
	for _, rec := range s.records {
		if (kind == "" || rec.Kind == kind) && rec.At.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return purged, nil
}

// ImportStore implementation ---------------------------------------------------

func (s *Store) CreateImportJob(_ context.Context, job imports.Job) (imports.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	} else if _, exists := s.importJobs[job.ID]; exists {
		return imports.Job{}, errors.Conflict("import job %s already exists", job.ID)
	}
	job.CreatedAt = time.Now().UTC()
	if job.Status == "" {
		job.Status = imports.StatusPending
	}
	s.importJobs[job.ID] = cloneJob(job)
	return job, nil
}

func (s *Store) UpdateImportJob(_ context.Context, job imports.Job) (imports.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.importJobs[job.ID]
	if !ok {
		return imports.Job{}, errors.NotFound("import job", job.ID)
	}
	job.CreatedAt = existing.CreatedAt
	s.importJobs[job.ID] = cloneJob(job)
	return job, nil
}

func (s *Store) GetImportJob(_ context.Context, id string) (imports.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.importJobs[id]
	if !ok {
		return imports.Job{}, errors.NotFound("import job", id)
	}
	return cloneJob(job), nil
}

func (s *Store) ListImportJobs(_ context.Context, limit int) ([]imports.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]imports.Job, 0, len(s.importJobs))
	for _, job := range s.importJobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneJob(job imports.Job) imports.Job {
	if job.Errors != nil {
		errs := make([]imports.RecordError, len(job.Errors))
		copy(errs, job.Errors)
		job.Errors = errs
	}
	if job.Totals != nil {
		totals := make(map[string]int, len(job.Totals))
		for k, v := range job.Totals {
			totals[k] = v
		}
		job.Totals = totals
	}
	return job
}
