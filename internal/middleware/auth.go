// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cams-platform/cams/internal/domain/role"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/httputil"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/services/auth"
)

type contextKey string

const (
	usernameKey    contextKey = "username"
	permissionsKey contextKey = "permissions"
)

// TokenValidator checks an access token and returns its claims.
type TokenValidator interface {
	ValidateAccess(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware authenticates requests with a bearer access token.
type AuthMiddleware struct {
	validator TokenValidator
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates the authentication middleware. Requests to the
// listed paths pass through unauthenticated.
func NewAuthMiddleware(validator TokenValidator, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{validator: validator, logger: logger, skipPaths: skip}
}

// Handler returns the authentication middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := bearerToken(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		claims, err := m.validator.ValidateAccess(r.Context(), token)
		if err != nil {
			m.logger.LogSecurityEvent(r.Context(), "token_rejected", map[string]interface{}{
				"path": r.URL.Path,
			})
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), logging.UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, usernameKey, claims.Username)
		ctx = context.WithValue(ctx, permissionsKey, claims.Permissions)
		if len(claims.Roles) > 0 {
			ctx = context.WithValue(ctx, logging.RoleKey, claims.Roles[0])
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission guards a handler behind a permission such as
// "connections.write". The authenticated user's permission set may carry
// wildcards.
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			granted := GetPermissions(r.Context())
			if !role.Allows(granted, permission) {
				m.logger.LogSecurityEvent(r.Context(), "permission_denied", map[string]interface{}{
					"permission": permission,
					"path":       r.URL.Path,
				})
				httputil.WriteError(w, errors.Forbidden(permission))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		// Browser WebSocket clients cannot set headers.
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, nil
		}
		return "", errors.Unauthorized("authorization header is required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.Unauthorized("authorization header must be a bearer token")
	}
	return parts[1], nil
}

// GetUserID returns the authenticated user ID from the context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(logging.UserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetUsername returns the authenticated username from the context.
func GetUsername(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// GetPermissions returns the authenticated user's permissions.
func GetPermissions(ctx context.Context) []string {
	if v, ok := ctx.Value(permissionsKey).([]string); ok {
		return v
	}
	return nil
}

// WithTestUser injects identity into a context. Test helper.
func WithTestUser(ctx context.Context, userID, username string, permissions []string) context.Context {
	ctx = context.WithValue(ctx, logging.UserIDKey, userID)
	ctx = context.WithValue(ctx, usernameKey, username)
	return context.WithValue(ctx, permissionsKey, permissions)
}
