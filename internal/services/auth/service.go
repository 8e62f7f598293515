// Package auth implements login, token issuance and revocation.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cams-platform/cams/internal/cache"
	"github.com/cams-platform/cams/internal/domain/record"
	"github.com/cams-platform/cams/internal/domain/user"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/storage"
)

const blacklistPrefix = "auth:blacklist:"

// Claims is the CAMS JWT payload.
type Claims struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair is the login/refresh response body.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// PermissionResolver resolves role names and the permission union for a
// user's role IDs.
type PermissionResolver interface {
	PermissionsFor(ctx context.Context, roleIDs []string) (names []string, permissions []string, err error)
}

// SecurityRecorder receives security events for the security log.
type SecurityRecorder interface {
	RecordSecurity(ctx context.Context, event, actor, remoteAddr string, detail map[string]string)
}

// Service issues and validates tokens.
type Service struct {
	users     storage.UserStore
	resolver  PermissionResolver
	blacklist cache.Cache
	security  SecurityRecorder
	log       *logging.Logger

	secret          []byte
	accessTTL       time.Duration
	refreshTTL      time.Duration
	maxFailedLogins int
	lockoutDuration time.Duration
	now             func() time.Time
}

// Config carries auth policy settings.
type Config struct {
	Secret          []byte
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	MaxFailedLogins int
	LockoutDuration time.Duration
}

// New constructs an auth service. Blacklist and security recorder may be nil;
// revocation and security logging are then disabled.
func New(users storage.UserStore, resolver PermissionResolver, blacklist cache.Cache, security SecurityRecorder, cfg Config, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("auth")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.MaxFailedLogins == 0 {
		cfg.MaxFailedLogins = 5
	}
	if cfg.LockoutDuration == 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	return &Service{
		users:           users,
		resolver:        resolver,
		blacklist:       blacklist,
		security:        security,
		log:             log,
		secret:          cfg.Secret,
		accessTTL:       cfg.AccessTTL,
		refreshTTL:      cfg.RefreshTTL,
		maxFailedLogins: cfg.MaxFailedLogins,
		lockoutDuration: cfg.LockoutDuration,
		now:             time.Now,
	}
}

// Login verifies credentials and issues a token pair. Repeated failures lock
// the account.
func (s *Service) Login(ctx context.Context, username, password, remoteAddr string) (TokenPair, user.User, error) {
	username = strings.TrimSpace(username)
	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		// burn a hash comparison so unknown users cost the same as bad passwords
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000uGZLKQyDiEC1/ZqSXn0z8Hx1nLXW3G2"), []byte(password))
		s.recordSecurity(ctx, record.EventLoginFailed, username, remoteAddr, map[string]string{"reason": "unknown_user"})
		return TokenPair{}, user.User{}, errors.Unauthorized("invalid credentials")
	}

	now := s.now().UTC()
	if u.Locked(now) {
		s.recordSecurity(ctx, record.EventLoginLocked, u.Username, remoteAddr, map[string]string{
			"locked_until": u.LockedUntil.Format(time.RFC3339),
		})
		return TokenPair{}, user.User{}, errors.Locked("account is temporarily locked")
	}
	if !u.IsActive {
		s.recordSecurity(ctx, record.EventLoginFailed, u.Username, remoteAddr, map[string]string{"reason": "inactive"})
		return TokenPair{}, user.User{}, errors.Unauthorized("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		u.FailedLogins++
		detail := map[string]string{"reason": "bad_password"}
		if u.FailedLogins >= s.maxFailedLogins {
			u.LockedUntil = now.Add(s.lockoutDuration)
			u.FailedLogins = 0
			detail["locked_until"] = u.LockedUntil.Format(time.RFC3339)
			s.recordSecurity(ctx, record.EventLoginLocked, u.Username, remoteAddr, detail)
		} else {
			s.recordSecurity(ctx, record.EventLoginFailed, u.Username, remoteAddr, detail)
		}
		if _, uerr := s.users.UpdateUser(ctx, u); uerr != nil {
			s.log.WithError(uerr).WithField("user_id", u.ID).Warn("failed to persist login failure")
		}
		return TokenPair{}, user.User{}, errors.Unauthorized("invalid credentials")
	}

	u.FailedLogins = 0
	u.LockedUntil = time.Time{}
	u.LastLoginAt = now
	if u, err = s.users.UpdateUser(ctx, u); err != nil {
		return TokenPair{}, user.User{}, err
	}

	pair, err := s.issueTokens(ctx, u)
	if err != nil {
		return TokenPair{}, user.User{}, err
	}
	s.log.WithField("user_id", u.ID).WithField("username", u.Username).Info("user logged in")
	return pair, u, nil
}

// Refresh validates a refresh token, rotates it, and issues a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.parse(ctx, refreshToken, "refresh")
	if err != nil {
		return TokenPair{}, err
	}

	u, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return TokenPair{}, errors.InvalidToken(err)
	}
	if !u.IsActive || u.Locked(s.now().UTC()) {
		return TokenPair{}, errors.Unauthorized("account is not active")
	}

	// rotate: the presented refresh token is single-use
	s.revoke(ctx, claims)

	pair, err := s.issueTokens(ctx, u)
	if err != nil {
		return TokenPair{}, err
	}
	s.log.WithField("user_id", u.ID).Debug("tokens refreshed")
	return pair, nil
}

// Logout revokes the presented refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.parse(ctx, refreshToken, "refresh")
	if err != nil {
		return err
	}
	s.revoke(ctx, claims)
	s.log.WithField("user_id", claims.UserID).Info("user logged out")
	return nil
}

// RevokeUserTokens is called when a user is deleted or deactivated; with a
// shared blacklist it marks the user so outstanding refresh tokens die.
func (s *Service) RevokeUserTokens(ctx context.Context, userID string) {
	if s.blacklist == nil {
		return
	}
	key := blacklistPrefix + "user:" + userID
	if err := s.blacklist.Set(ctx, key, s.now().UTC().Format(time.RFC3339), s.refreshTTL); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("failed to revoke user tokens")
	}
}

// ValidateAccess validates an access token for the HTTP middleware.
func (s *Service) ValidateAccess(ctx context.Context, token string) (*Claims, error) {
	return s.parse(ctx, token, "access")
}

func (s *Service) issueTokens(ctx context.Context, u user.User) (TokenPair, error) {
	var roleNames, permissions []string
	if s.resolver != nil {
		var err error
		roleNames, permissions, err = s.resolver.PermissionsFor(ctx, u.RoleIDs)
		if err != nil {
			return TokenPair{}, err
		}
	}

	now := s.now().UTC()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	access, err := s.sign(Claims{
		UserID:      u.ID,
		Username:    u.Username,
		Roles:       roleNames,
		Permissions: permissions,
		TokenType:   "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(Claims{
		UserID:    u.ID,
		Username:  u.Username,
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Internal(err)
	}
	return signed, nil
}

func (s *Service) parse(ctx context.Context, tokenString, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.InvalidToken(nil)
	}
	if claims.TokenType != wantType {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "wrong token type")
	}
	if s.blacklist != nil {
		_, found, err := s.blacklist.Get(ctx, blacklistPrefix+claims.ID)
		if err != nil {
			// Revocation must not fail open when the cache is unreachable.
			s.log.WithError(err).Error("token revocation check failed")
			return nil, errors.Internal(err)
		}
		if found {
			return nil, errors.InvalidToken(nil).WithDetails("reason", "revoked")
		}
		revokedAt, found, err := s.blacklist.Get(ctx, blacklistPrefix+"user:"+claims.UserID)
		if err != nil {
			s.log.WithError(err).Error("token revocation check failed")
			return nil, errors.Internal(err)
		}
		if found {
			if cutoff, perr := time.Parse(time.RFC3339, revokedAt); perr == nil {
				// issued at or before the revocation instant; timestamps
				// have second granularity, so same-second tokens die too
				if claims.IssuedAt != nil && !claims.IssuedAt.Time.After(cutoff) {
					return nil, errors.InvalidToken(nil).WithDetails("reason", "revoked")
				}
			}
		}
	}
	return claims, nil
}

func (s *Service) revoke(ctx context.Context, claims *Claims) {
	if s.blacklist == nil || claims.ExpiresAt == nil {
		return
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return
	}
	if err := s.blacklist.Set(ctx, blacklistPrefix+claims.ID, "1", ttl); err != nil {
		s.log.WithError(err).Warn("failed to blacklist token")
	}
}

func (s *Service) recordSecurity(ctx context.Context, event, actor, remoteAddr string, detail map[string]string) {
	if s.security == nil {
		return
	}
	s.security.RecordSecurity(ctx, event, actor, remoteAddr, detail)
}
