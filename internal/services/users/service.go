// Package users manages administrative user accounts.
package users

import (
	"context"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/cams-platform/cams/internal/domain/user"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/storage"
)

// Service manages users.
type Service struct {
	store      storage.UserStore
	roles      storage.RoleStore
	log        *logging.Logger
	bcryptCost int
}

// Option customises the service.
type Option func(*Service)

// WithBcryptCost overrides the hash cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// New constructs a user service.
func New(store storage.UserStore, roles storage.RoleStore, log *logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.NewDefault("users")
	}
	s := &Service{store: store, roles: roles, log: log, bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams carries the fields for a new user.
type CreateParams struct {
	Username string
	Email    string
	FullName string
	Password string
	RoleIDs  []string
}

// Create validates and stores a new user.
func (s *Service) Create(ctx context.Context, p CreateParams) (user.User, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Email = strings.TrimSpace(p.Email)

	if p.Username == "" {
		return user.User{}, errors.Validation("username is required")
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return user.User{}, errors.Validation("email %q is invalid", p.Email)
	}
	if err := CheckPasswordPolicy(p.Password); err != nil {
		return user.User{}, err
	}
	if err := s.validateRoleIDs(ctx, p.RoleIDs); err != nil {
		return user.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), s.bcryptCost)
	if err != nil {
		return user.User{}, errors.Internal(err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Username:     p.Username,
		Email:        p.Email,
		FullName:     strings.TrimSpace(p.FullName),
		PasswordHash: string(hash),
		RoleIDs:      p.RoleIDs,
		IsActive:     true,
	})
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", created.ID).
		WithField("username", created.Username).
		Info("user created")
	return created, nil
}

// UpdateParams carries optional field changes; nil means unchanged.
type UpdateParams struct {
	Email    *string
	FullName *string
}

// Update applies partial modifications to a user.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return user.User{}, errors.Validation("email %q is invalid", email)
		}
		u.Email = email
	}
	if p.FullName != nil {
		u.FullName = strings.TrimSpace(*p.FullName)
	}
	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", id).Info("user updated")
	return updated, nil
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// GetByUsername fetches a user by username.
func (s *Service) GetByUsername(ctx context.Context, username string) (user.User, error) {
	return s.store.GetUserByUsername(ctx, username)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// Delete removes a user.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.WithField("user_id", id).Info("user deleted")
	return nil
}

// SetPassword replaces a user's password.
func (s *Service) SetPassword(ctx context.Context, id, password string) error {
	if err := CheckPasswordPolicy(password); err != nil {
		return err
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return errors.Internal(err)
	}
	u.PasswordHash = string(hash)
	u.FailedLogins = 0
	u.LockedUntil = time.Time{}
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.log.WithField("user_id", id).Info("password changed")
	return nil
}

// AssignRoles replaces a user's role set.
func (s *Service) AssignRoles(ctx context.Context, id string, roleIDs []string) (user.User, error) {
	if err := s.validateRoleIDs(ctx, roleIDs); err != nil {
		return user.User{}, err
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	u.RoleIDs = roleIDs
	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", id).
		WithField("roles", len(roleIDs)).
		Info("user roles assigned")
	return updated, nil
}

// SetActive toggles a user's active flag.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	if u.IsActive == active {
		return u, nil
	}
	u.IsActive = active
	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", id).WithField("active", active).Info("user state changed")
	return updated, nil
}

// Unlock clears a lockout immediately.
func (s *Service) Unlock(ctx context.Context, id string) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	u.FailedLogins = 0
	u.LockedUntil = time.Time{}
	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", id).Info("user unlocked")
	return updated, nil
}

func (s *Service) validateRoleIDs(ctx context.Context, roleIDs []string) error {
	if s.roles == nil {
		return nil
	}
	for _, roleID := range roleIDs {
		if _, err := s.roles.GetRole(ctx, roleID); err != nil {
			if errors.IsCode(err, errors.CodeNotFound) {
				return errors.Validation("role %q does not exist", roleID)
			}
			return err
		}
	}
	return nil
}

// CheckPasswordPolicy enforces the minimum password requirements: at least
// eight characters including a letter and a digit.
func CheckPasswordPolicy(password string) error {
	if len(password) < 8 {
		return errors.Validation("password must be at least 8 characters")
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return errors.Validation("password must contain a letter and a digit")
	}
	return nil
}
