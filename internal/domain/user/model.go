// Package user defines CAMS administrative users.
package user

import "time"

// User represents an operator account. PasswordHash is a bcrypt digest and
// never leaves the backend.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	RoleIDs      []string  `json:"role_ids"`
	IsActive     bool      `json:"is_active"`
	FailedLogins int       `json:"-"`
	LockedUntil  time.Time `json:"locked_until,omitempty"`
	LastLoginAt  time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Locked reports whether the account is currently locked out.
func (u User) Locked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && now.Before(u.LockedUntil)
}

// HasRole reports whether the given role ID is assigned.
func (u User) HasRole(roleID string) bool {
	for _, id := range u.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
