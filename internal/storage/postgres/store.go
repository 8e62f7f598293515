// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cams-platform/cams/internal/domain/application"
	"github.com/cams-platform/cams/internal/domain/connection"
	"github.com/cams-platform/cams/internal/domain/imports"
	"github.com/cams-platform/cams/internal/domain/record"
	"github.com/cams-platform/cams/internal/domain/role"
	"github.com/cams-platform/cams/internal/domain/user"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/storage"
)

// Store implements storage.Store over a PostgreSQL database.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Open connects to PostgreSQL, applies pool settings, and verifies the
// connection with a ping.
func Open(dsn string, maxOpen, maxIdle, maxLifetimeSeconds int) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetimeSeconds > 0 {
		db.SetConnMaxLifetime(time.Duration(maxLifetimeSeconds) * time.Second)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

// --- ApplicationStore --------------------------------------------------------

type applicationRow struct {
	ID           string       `db:"id"`
	Name         string       `db:"name"`
	Description  string       `db:"description"`
	Environment  string       `db:"environment"`
	APIKey       string       `db:"api_key"`
	IsActive     bool         `db:"is_active"`
	TestSchedule string       `db:"test_schedule"`
	NextTestDue  sql.NullTime `db:"next_test_due"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func (r applicationRow) toDomain() application.Application {
	return application.Application{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Environment:  application.Environment(r.Environment),
		APIKey:       r.APIKey,
		IsActive:     r.IsActive,
		TestSchedule: r.TestSchedule,
		NextTestDue:  fromNullTime(r.NextTestDue),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

const applicationColumns = `id, name, description, environment, api_key, is_active, test_schedule, next_test_due, created_at, updated_at`

func (s *Store) CreateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (id, name, description, environment, api_key, is_active, test_schedule, next_test_due, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		app.ID, app.Name, app.Description, string(app.Environment), app.APIKey,
		app.IsActive, app.TestSchedule, nullTime(app.NextTestDue), app.CreatedAt, app.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return application.Application{}, errors.Conflict("application name %q already in use", app.Name)
		}
		return application.Application{}, err
	}
	return app, nil
}

func (s *Store) UpdateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	app.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE applications
		SET name = $2, description = $3, environment = $4, api_key = $5, is_active = $6,
		    test_schedule = $7, next_test_due = $8, updated_at = $9
		WHERE id = $1`,
		app.ID, app.Name, app.Description, string(app.Environment), app.APIKey,
		app.IsActive, app.TestSchedule, nullTime(app.NextTestDue), app.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return application.Application{}, errors.Conflict("application name %q already in use", app.Name)
		}
		return application.Application{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return application.Application{}, errors.NotFound("application", app.ID)
	}
	return s.GetApplication(ctx, app.ID)
}

func (s *Store) GetApplication(ctx context.Context, id string) (application.Application, error) {
	var row applicationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return application.Application{}, errors.NotFound("application", id)
	}
	if err != nil {
		return application.Application{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetApplicationByName(ctx context.Context, name string) (application.Application, error) {
	var row applicationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+applicationColumns+` FROM applications WHERE LOWER(name) = LOWER($1)`, name)
	if stderrors.Is(err, sql.ErrNoRows) {
		return application.Application{}, errors.NotFound("application", name)
	}
	if err != nil {
		return application.Application{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetApplicationByAPIKey(ctx context.Context, apiKey string) (application.Application, error) {
	var row applicationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+applicationColumns+` FROM applications WHERE api_key = $1 AND api_key <> ''`, apiKey)
	if stderrors.Is(err, sql.ErrNoRows) {
		return application.Application{}, errors.NotFound("application", "by api key")
	}
	if err != nil {
		return application.Application{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListApplications(ctx context.Context, filter storage.ApplicationFilter) ([]application.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE 1=1`
	var args []interface{}
	if filter.Environment != "" {
		args = append(args, string(filter.Environment))
		query += fmt.Sprintf(" AND environment = $%d", len(args))
	}
	if filter.ActiveOnly {
		query += " AND is_active"
	}
	query += " ORDER BY LOWER(name)"

	var rows []applicationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]application.Application, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) ListDueApplications(ctx context.Context, now time.Time) ([]application.Application, error) {
	var rows []applicationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+applicationColumns+` FROM applications
		WHERE is_active AND test_schedule <> '' AND (next_test_due IS NULL OR next_test_due <= $1)
		ORDER BY LOWER(name)`, now.UTC())
	if err != nil {
		return nil, err
	}
	out := make([]application.Application, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteApplication(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("application", id)
	}
	return nil
}

// --- ConnectionStore ---------------------------------------------------------

type connectionRow struct {
	ID                  string       `db:"id"`
	ApplicationID       string       `db:"application_id"`
	Name                string       `db:"name"`
	Driver              string       `db:"driver"`
	Host                string       `db:"host"`
	Port                int          `db:"port"`
	DatabaseName        string       `db:"database_name"`
	Username            string       `db:"username"`
	PasswordEnc         string       `db:"password_enc"`
	Options             []byte       `db:"options"`
	IsActive            bool         `db:"is_active"`
	LastTestAt          sql.NullTime `db:"last_test_at"`
	LastTestStatus      string       `db:"last_test_status"`
	LastTestLatencyMs   int64        `db:"last_test_latency_ms"`
	LastTestError       string       `db:"last_test_error"`
	ConsecutiveFailures int          `db:"consecutive_failures"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
}

func (r connectionRow) toDomain() (connection.Connection, error) {
	var options map[string]string
	if len(r.Options) > 0 {
		if err := json.Unmarshal(r.Options, &options); err != nil {
			return connection.Connection{}, fmt.Errorf("decode connection options: %w", err)
		}
	}
	return connection.Connection{
		ID:                  r.ID,
		ApplicationID:       r.ApplicationID,
		Name:                r.Name,
		Driver:              connection.Driver(r.Driver),
		Host:                r.Host,
		Port:                r.Port,
		DatabaseName:        r.DatabaseName,
		Username:            r.Username,
		Password:            r.PasswordEnc,
		Options:             options,
		IsActive:            r.IsActive,
		LastTestAt:          fromNullTime(r.LastTestAt),
		LastTestStatus:      connection.TestStatus(r.LastTestStatus),
		LastTestLatencyMs:   r.LastTestLatencyMs,
		LastTestError:       r.LastTestError,
		ConsecutiveFailures: r.ConsecutiveFailures,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}, nil
}

const connectionColumns = `id, application_id, name, driver, host, port, database_name, username, password_enc, options, is_active, last_test_at, last_test_status, last_test_latency_ms, last_test_error, consecutive_failures, created_at, updated_at`

func marshalOptions(options map[string]string) ([]byte, error) {
	if len(options) == 0 {
		return nil, nil
	}
	return json.Marshal(options)
}

func (s *Store) CreateConnection(ctx context.Context, conn connection.Connection) (connection.Connection, error) {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.LastTestStatus == "" {
		conn.LastTestStatus = connection.TestNever
	}
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	options, err := marshalOptions(conn.Options)
	if err != nil {
		return connection.Connection{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections (id, application_id, name, driver, host, port, database_name, username,
		                         password_enc, options, is_active, last_test_at, last_test_status,
		                         last_test_latency_ms, last_test_error, consecutive_failures, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		conn.ID, conn.ApplicationID, conn.Name, string(conn.Driver), conn.Host, conn.Port,
		conn.DatabaseName, conn.Username, conn.Password, options, conn.IsActive,
		nullTime(conn.LastTestAt), string(conn.LastTestStatus), conn.LastTestLatencyMs,
		conn.LastTestError, conn.ConsecutiveFailures, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return connection.Connection{}, errors.Conflict("connection name %q already in use", conn.Name)
		}
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23503" {
			return connection.Connection{}, errors.NotFound("application", conn.ApplicationID)
		}
		return connection.Connection{}, err
	}
	return conn, nil
}

func (s *Store) UpdateConnection(ctx context.Context, conn connection.Connection) (connection.Connection, error) {
	conn.UpdatedAt = time.Now().UTC()
	options, err := marshalOptions(conn.Options)
	if err != nil {
		return connection.Connection{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE connections
		SET name = $2, driver = $3, host = $4, port = $5, database_name = $6, username = $7,
		    password_enc = $8, options = $9, is_active = $10, last_test_at = $11,
		    last_test_status = $12, last_test_latency_ms = $13, last_test_error = $14,
		    consecutive_failures = $15, updated_at = $16
		WHERE id = $1`,
		conn.ID, conn.Name, string(conn.Driver), conn.Host, conn.Port, conn.DatabaseName,
		conn.Username, conn.Password, options, conn.IsActive, nullTime(conn.LastTestAt),
		string(conn.LastTestStatus), conn.LastTestLatencyMs, conn.LastTestError,
		conn.ConsecutiveFailures, conn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return connection.Connection{}, errors.Conflict("connection name %q already in use", conn.Name)
		}
		return connection.Connection{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return connection.Connection{}, errors.NotFound("connection", conn.ID)
	}
	return s.GetConnection(ctx, conn.ID)
}

func (s *Store) GetConnection(ctx context.Context, id string) (connection.Connection, error) {
	var row connectionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return connection.Connection{}, errors.NotFound("connection", id)
	}
	if err != nil {
		return connection.Connection{}, err
	}
	return row.toDomain()
}

func (s *Store) ListConnections(ctx context.Context, applicationID string) ([]connection.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections`
	var args []interface{}
	if applicationID != "" {
		query += ` WHERE application_id = $1`
		args = append(args, applicationID)
	}
	query += ` ORDER BY LOWER(name)`

	var rows []connectionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]connection.Connection, 0, len(rows))
	for _, row := range rows {
		conn, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, nil
}

func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("connection", id)
	}
	return nil
}

func (s *Store) DeleteConnectionsByApplication(ctx context.Context, applicationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE application_id = $1`, applicationID)
	return err
}

// --- UserStore ---------------------------------------------------------------

type userRow struct {
	ID           string         `db:"id"`
	Username     string         `db:"username"`
	Email        string         `db:"email"`
	FullName     string         `db:"full_name"`
	PasswordHash string         `db:"password_hash"`
	IsActive     bool           `db:"is_active"`
	FailedLogins int            `db:"failed_logins"`
	LockedUntil  sql.NullTime   `db:"locked_until"`
	LastLoginAt  sql.NullTime   `db:"last_login_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	RoleIDs      pq.StringArray `db:"role_ids"`
}

func (r userRow) toDomain() user.User {
	return user.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		FullName:     r.FullName,
		PasswordHash: r.PasswordHash,
		RoleIDs:      []string(r.RoleIDs),
		IsActive:     r.IsActive,
		FailedLogins: r.FailedLogins,
		LockedUntil:  fromNullTime(r.LockedUntil),
		LastLoginAt:  fromNullTime(r.LastLoginAt),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

const userSelect = `
	SELECT u.id, u.username, u.email, u.full_name, u.password_hash, u.is_active,
	       u.failed_logins, u.locked_until, u.last_login_at, u.created_at, u.updated_at,
	       COALESCE(ARRAY_AGG(ur.role_id::text) FILTER (WHERE ur.role_id IS NOT NULL), '{}') AS role_ids
	FROM users u
	LEFT JOIN user_roles ur ON ur.user_id = u.id`

const userGroup = ` GROUP BY u.id`

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return user.User{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, full_name, password_hash, is_active,
		                   failed_logins, locked_until, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Username, u.Email, u.FullName, u.PasswordHash, u.IsActive,
		u.FailedLogins, nullTime(u.LockedUntil), nullTime(u.LastLoginAt), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, errors.Conflict("username or email already in use")
		}
		return user.User{}, err
	}
	if err := insertUserRoles(ctx, tx, u.ID, u.RoleIDs); err != nil {
		return user.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return user.User{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET username = $2, email = $3, full_name = $4, password_hash = $5, is_active = $6,
		    failed_logins = $7, locked_until = $8, last_login_at = $9, updated_at = $10
		WHERE id = $1`,
		u.ID, u.Username, u.Email, u.FullName, u.PasswordHash, u.IsActive,
		u.FailedLogins, nullTime(u.LockedUntil), nullTime(u.LastLoginAt), u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, errors.Conflict("username or email already in use")
		}
		return user.User{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, errors.NotFound("user", u.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, u.ID); err != nil {
		return user.User{}, err
	}
	if err := insertUserRoles(ctx, tx, u.ID, u.RoleIDs); err != nil {
		return user.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return user.User{}, err
	}
	return u, nil
}

func insertUserRoles(ctx context.Context, tx *sqlx.Tx, userID string, roleIDs []string) error {
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, roleID); err != nil {
			var pqErr *pq.Error
			if stderrors.As(err, &pqErr) && pqErr.Code == "23503" {
				return errors.NotFound("role", roleID)
			}
			return err
		}
	}
	return nil
}

func (s *Store) getUserWhere(ctx context.Context, where string, arg interface{}) (user.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, userSelect+` WHERE `+where+userGroup, arg)
	if stderrors.Is(err, sql.ErrNoRows) {
		return user.User{}, errors.NotFound("user", fmt.Sprintf("%v", arg))
	}
	if err != nil {
		return user.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.getUserWhere(ctx, `u.id = $1`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return s.getUserWhere(ctx, `LOWER(u.username) = LOWER($1)`, username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return s.getUserWhere(ctx, `LOWER(u.email) = LOWER($1)`, email)
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, userSelect+userGroup+` ORDER BY LOWER(u.username)`); err != nil {
		return nil, err
	}
	out := make([]user.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("user", id)
	}
	return nil
}

// --- RoleStore ---------------------------------------------------------------

type roleRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Permissions []byte    `db:"permissions"`
	IsSystem    bool      `db:"is_system"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r roleRow) toDomain() (role.Role, error) {
	var perms []string
	if len(r.Permissions) > 0 {
		if err := json.Unmarshal(r.Permissions, &perms); err != nil {
			return role.Role{}, fmt.Errorf("decode role permissions: %w", err)
		}
	}
	return role.Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Permissions: perms,
		IsSystem:    r.IsSystem,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

const roleColumns = `id, name, description, permissions, is_system, created_at, updated_at`

func (s *Store) CreateRole(ctx context.Context, r role.Role) (role.Role, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	perms, err := json.Marshal(r.Permissions)
	if err != nil {
		return role.Role{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, permissions, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.Name, r.Description, perms, r.IsSystem, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return role.Role{}, errors.Conflict("role name %q already in use", r.Name)
		}
		return role.Role{}, err
	}
	return r, nil
}

func (s *Store) UpdateRole(ctx context.Context, r role.Role) (role.Role, error) {
	r.UpdatedAt = time.Now().UTC()
	perms, err := json.Marshal(r.Permissions)
	if err != nil {
		return role.Role{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles SET name = $2, description = $3, permissions = $4, updated_at = $5
		WHERE id = $1`,
		r.ID, r.Name, r.Description, perms, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return role.Role{}, errors.Conflict("role name %q already in use", r.Name)
		}
		return role.Role{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return role.Role{}, errors.NotFound("role", r.ID)
	}
	return s.GetRole(ctx, r.ID)
}

func (s *Store) GetRole(ctx context.Context, id string) (role.Role, error) {
	var row roleRow
	err := s.db.GetContext(ctx, &row, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return role.Role{}, errors.NotFound("role", id)
	}
	if err != nil {
		return role.Role{}, err
	}
	return row.toDomain()
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (role.Role, error) {
	var row roleRow
	err := s.db.GetContext(ctx, &row, `SELECT `+roleColumns+` FROM roles WHERE LOWER(name) = LOWER($1)`, name)
	if stderrors.Is(err, sql.ErrNoRows) {
		return role.Role{}, errors.NotFound("role", name)
	}
	if err != nil {
		return role.Role{}, err
	}
	return row.toDomain()
}

func (s *Store) ListRoles(ctx context.Context) ([]role.Role, error) {
	var rows []roleRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+roleColumns+` FROM roles ORDER BY LOWER(name)`); err != nil {
		return nil, err
	}
	out := make([]role.Role, 0, len(rows))
	for _, row := range rows {
		r, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("role", id)
	}
	return nil
}

func (s *Store) CountUsersWithRole(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(DISTINCT user_id) FROM user_roles WHERE role_id = $1`, roleID)
	return count, err
}

// --- RecordStore -------------------------------------------------------------

type recordRow struct {
	ID         string       `db:"id"`
	Kind       string       `db:"kind"`
	At         time.Time    `db:"at"`
	TraceID    string       `db:"trace_id"`
	Actor      string       `db:"actor"`
	RemoteAddr string       `db:"remote_addr"`
	Action     string       `db:"action"`
	EntityType string       `db:"entity_type"`
	EntityID   string       `db:"entity_id"`
	Summary    string       `db:"summary"`
	Event      string       `db:"event"`
	Detail     []byte       `db:"detail"`
	Source     string       `db:"source"`
	DurationMs int64        `db:"duration_ms"`
	CPUPercent float64      `db:"cpu_percent"`
	MemPercent float64      `db:"mem_percent"`
}

func (r recordRow) toDomain() (record.Record, error) {
	var detail map[string]string
	if len(r.Detail) > 0 {
		if err := json.Unmarshal(r.Detail, &detail); err != nil {
			return record.Record{}, fmt.Errorf("decode record detail: %w", err)
		}
	}
	return record.Record{
		ID:         r.ID,
		Kind:       record.Kind(r.Kind),
		At:         r.At,
		TraceID:    r.TraceID,
		Actor:      r.Actor,
		RemoteAddr: r.RemoteAddr,
		Action:     r.Action,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Summary:    r.Summary,
		Event:      r.Event,
		Detail:     detail,
		Source:     r.Source,
		DurationMs: r.DurationMs,
		CPUPercent: r.CPUPercent,
		MemPercent: r.MemPercent,
	}, nil
}

func (s *Store) CreateRecord(ctx context.Context, rec record.Record) (record.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	var detail []byte
	if len(rec.Detail) > 0 {
		var err error
		detail, err = json.Marshal(rec.Detail)
		if err != nil {
			return record.Record{}, err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, kind, at, trace_id, actor, remote_addr, action, entity_type,
		                     entity_id, summary, event, detail, source, duration_ms, cpu_percent, mem_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, string(rec.Kind), rec.At, rec.TraceID, rec.Actor, rec.RemoteAddr, rec.Action,
		rec.EntityType, rec.EntityID, rec.Summary, rec.Event, detail, rec.Source,
		rec.DurationMs, rec.CPUPercent, rec.MemPercent)
	if err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

func (s *Store) QueryRecords(ctx context.Context, q record.Query) ([]record.Record, error) {
	query := `SELECT id, kind, at, trace_id, actor, remote_addr, action, entity_type, entity_id,
	                 summary, event, detail, source, duration_ms, cpu_percent, mem_percent
	          FROM records WHERE 1=1`
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		query += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}
	if q.Kind != "" {
		add("kind =", string(q.Kind))
	}
	if !q.Since.IsZero() {
		add("at >=", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		add("at <=", q.Until.UTC())
	}
	if q.Actor != "" {
		add("actor =", q.Actor)
	}
	if q.Event != "" {
		add("event =", q.Event)
	}
	if q.EntityType != "" {
		add("entity_type =", q.EntityType)
	}
	if q.EntityID != "" {
		add("entity_id =", q.EntityID)
	}
	query += " ORDER BY at DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) PurgeRecordsBefore(ctx context.Context, kind record.Kind, cutoff time.Time) (int64, error) {
	var res sql.Result
	var err error
	if kind == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM records WHERE at < $1`, cutoff.UTC())
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM records WHERE kind = $1 AND at < $2`, string(kind), cutoff.UTC())
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- ImportStore -------------------------------------------------------------

type importJobRow struct {
	ID          string       `db:"id"`
	Status      string       `db:"status"`
	SubmittedBy string       `db:"submitted_by"`
	Totals      []byte       `db:"totals"`
	Imported    int          `db:"imported"`
	Failed      int          `db:"failed"`
	Errors      []byte       `db:"errors"`
	StartedAt   sql.NullTime `db:"started_at"`
	FinishedAt  sql.NullTime `db:"finished_at"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (r importJobRow) toDomain() (imports.Job, error) {
	job := imports.Job{
		ID:          r.ID,
		Status:      imports.Status(r.Status),
		SubmittedBy: r.SubmittedBy,
		Imported:    r.Imported,
		Failed:      r.Failed,
		StartedAt:   fromNullTime(r.StartedAt),
		FinishedAt:  fromNullTime(r.FinishedAt),
		CreatedAt:   r.CreatedAt,
	}
	if len(r.Totals) > 0 {
		if err := json.Unmarshal(r.Totals, &job.Totals); err != nil {
			return imports.Job{}, fmt.Errorf("decode job totals: %w", err)
		}
	}
	if len(r.Errors) > 0 {
		if err := json.Unmarshal(r.Errors, &job.Errors); err != nil {
			return imports.Job{}, fmt.Errorf("decode job errors: %w", err)
		}
	}
	return job, nil
}

func marshalJob(job imports.Job) (totals, errs []byte, err error) {
	if len(job.Totals) > 0 {
		if totals, err = json.Marshal(job.Totals); err != nil {
			return nil, nil, err
		}
	}
	if len(job.Errors) > 0 {
		if errs, err = json.Marshal(job.Errors); err != nil {
			return nil, nil, err
		}
	}
	return totals, errs, nil
}

func (s *Store) CreateImportJob(ctx context.Context, job imports.Job) (imports.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = imports.StatusPending
	}
	job.CreatedAt = time.Now().UTC()

	totals, errs, err := marshalJob(job)
	if err != nil {
		return imports.Job{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_jobs (id, status, submitted_by, totals, imported, failed, errors, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, string(job.Status), job.SubmittedBy, totals, job.Imported, job.Failed, errs,
		nullTime(job.StartedAt), nullTime(job.FinishedAt), job.CreatedAt)
	if err != nil {
		return imports.Job{}, err
	}
	return job, nil
}

func (s *Store) UpdateImportJob(ctx context.Context, job imports.Job) (imports.Job, error) {
	totals, errs, err := marshalJob(job)
	if err != nil {
		return imports.Job{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET status = $2, totals = $3, imported = $4, failed = $5, errors = $6, started_at = $7, finished_at = $8
		WHERE id = $1`,
		job.ID, string(job.Status), totals, job.Imported, job.Failed, errs,
		nullTime(job.StartedAt), nullTime(job.FinishedAt))
	if err != nil {
		return imports.Job{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return imports.Job{}, errors.NotFound("import job", job.ID)
	}
	return s.GetImportJob(ctx, job.ID)
}

func (s *Store) GetImportJob(ctx context.Context, id string) (imports.Job, error) {
	var row importJobRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, status, submitted_by, totals, imported, failed, errors, started_at, finished_at, created_at
		FROM import_jobs WHERE id = $1`, id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return imports.Job{}, errors.NotFound("import job", id)
	}
	if err != nil {
		return imports.Job{}, err
	}
	return row.toDomain()
}

func (s *Store) ListImportJobs(ctx context.Context, limit int) ([]imports.Job, error) {
	query := `SELECT id, status, submitted_by, totals, imported, failed, errors, started_at, finished_at, created_at
	          FROM import_jobs ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	var rows []importJobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]imports.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}
