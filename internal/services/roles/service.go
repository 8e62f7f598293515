// Package roles manages role records and their permission sets.
package roles

import (
	"context"
	"regexp"
	"strings"

	"github.com/cams-platform/cams/internal/domain/role"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/storage"
)

// System role names seeded at startup.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var permissionPattern = regexp.MustCompile(`^(\*|[a-z_]+\.(\*|[a-z_]+))$`)

// Service manages roles.
type Service struct {
	store storage.RoleStore
	log   *logging.Logger
}

// New constructs a role service.
func New(store storage.RoleStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("roles")
	}
	return &Service{store: store, log: log}
}

// Create validates and stores a new role.
func (s *Service) Create(ctx context.Context, name, description string, permissions []string) (role.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return role.Role{}, errors.Validation("name is required")
	}
	perms, err := normalizePermissions(permissions)
	if err != nil {
		return role.Role{}, err
	}

	created, err := s.store.CreateRole(ctx, role.Role{
		Name:        name,
		Description: strings.TrimSpace(description),
		Permissions: perms,
	})
	if err != nil {
		return role.Role{}, err
	}
	s.log.WithField("role_id", created.ID).
		WithField("name", created.Name).
		Info("role created")
	return created, nil
}

// Update applies partial modifications to a role. System roles accept only
// description changes.
func (s *Service) Update(ctx context.Context, id string, name, description *string, permissions []string) (role.Role, error) {
	r, err := s.store.GetRole(ctx, id)
	if err != nil {
		return role.Role{}, err
	}

	if r.IsSystem && (name != nil || permissions != nil) {
		return role.Role{}, errors.Validation("system role %q allows only description changes", r.Name)
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return role.Role{}, errors.Validation("name cannot be empty")
		}
		r.Name = trimmed
	}
	if description != nil {
		r.Description = strings.TrimSpace(*description)
	}
	if permissions != nil {
		perms, err := normalizePermissions(permissions)
		if err != nil {
			return role.Role{}, err
		}
		r.Permissions = perms
	}

	updated, err := s.store.UpdateRole(ctx, r)
	if err != nil {
		return role.Role{}, err
	}
	s.log.WithField("role_id", id).Info("role updated")
	return updated, nil
}

// Get fetches a role by ID.
func (s *Service) Get(ctx context.Context, id string) (role.Role, error) {
	return s.store.GetRole(ctx, id)
}

// GetByName fetches a role by name.
func (s *Service) GetByName(ctx context.Context, name string) (role.Role, error) {
	return s.store.GetRoleByName(ctx, name)
}

// List returns all roles.
func (s *Service) List(ctx context.Context) ([]role.Role, error) {
	return s.store.ListRoles(ctx)
}

// Delete removes a role. System roles and roles still assigned to users are
// refused.
func (s *Service) Delete(ctx context.Context, id string) error {
	r, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if r.IsSystem {
		return errors.Validation("system role %q cannot be deleted", r.Name)
	}
	inUse, err := s.store.CountUsersWithRole(ctx, id)
	if err != nil {
		return err
	}
	if inUse > 0 {
		return errors.Conflict("role %q is assigned to %d user(s)", r.Name, inUse)
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.log.WithField("role_id", id).WithField("name", r.Name).Info("role deleted")
	return nil
}

// Seed ensures the system roles exist.
func (s *Service) Seed(ctx context.Context) error {
	seeds := []role.Role{
		{Name: RoleAdmin, Description: "Full access", Permissions: []string{"*"}, IsSystem: true},
		{Name: RoleOperator, Description: "Manage applications and connections", Permissions: []string{
			"applications.*", "connections.*", "imports.*", "records.read",
		}, IsSystem: true},
		{Name: RoleViewer, Description: "Read-only access", Permissions: []string{
			"applications.read", "connections.read", "users.read", "roles.read", "records.read", "imports.read",
		}, IsSystem: true},
	}
	for _, seed := range seeds {
		if _, err := s.store.GetRoleByName(ctx, seed.Name); err == nil {
			continue
		} else if !errors.IsCode(err, errors.CodeNotFound) {
			return err
		}
		if _, err := s.store.CreateRole(ctx, seed); err != nil {
			if errors.IsCode(err, errors.CodeConflict) {
				continue
			}
			return err
		}
		s.log.WithField("name", seed.Name).Info("system role seeded")
	}
	return nil
}

// PermissionsFor resolves the union of permissions across the given role IDs.
// Unknown role IDs are skipped.
func (s *Service) PermissionsFor(ctx context.Context, roleIDs []string) ([]string, []string, error) {
	var names []string
	var lists [][]string
	for _, id := range roleIDs {
		r, err := s.store.GetRole(ctx, id)
		if err != nil {
			if errors.IsCode(err, errors.CodeNotFound) {
				continue
			}
			return nil, nil, err
		}
		names = append(names, r.Name)
		lists = append(lists, r.Permissions)
	}
	return names, role.Union(lists...), nil
}

func normalizePermissions(permissions []string) ([]string, error) {
	perms := role.Union(permissions)
	if len(perms) == 0 {
		return nil, errors.Validation("at least one permission is required")
	}
	for _, p := range perms {
		if !permissionPattern.MatchString(p) {
			return nil, errors.Validation("permission %q is not resource.action form", p)
		}
	}
	return perms, nil
}
