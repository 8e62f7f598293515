// Package role defines roles and their permission sets.
package role

import (
	"strings"
	"time"
)

// Role groups permissions for assignment to users. System roles are seeded at
// startup and cannot be deleted.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permissions use dotted resource.action form ("connections.test"). A role
// holding "*" is unrestricted; "connections.*" grants every action on the
// resource.
func Allows(permissions []string, required string) bool {
	required = strings.ToLower(strings.TrimSpace(required))
	for _, p := range permissions {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "*" || p == required {
			return true
		}
		if resource, ok := strings.CutSuffix(p, ".*"); ok {
			if strings.HasPrefix(required, resource+".") {
				return true
			}
		}
	}
	return false
}

// Allows reports whether the role grants the required permission.
func (r Role) Allows(required string) bool {
	return Allows(r.Permissions, required)
}

// Union merges permission lists, deduplicated, preserving first appearance.
func Union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, p := range list {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
