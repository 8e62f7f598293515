package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/httputil"
	"github.com/cams-platform/cams/internal/logging"
)

// SecurityRecorder persists security events raised by middleware.
type SecurityRecorder interface {
	RecordSecurity(ctx context.Context, event, actor, remoteAddr string, detail map[string]string)
}

// RateLimiter applies a per-client token bucket. Authenticated requests are
// keyed by user ID, anonymous ones by client IP.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	logger   *logging.Logger
	security SecurityRecorder
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond sustained
// with the given burst.
func NewRateLimiter(requestsPerSecond, burst int, logger *logging.Logger, security SecurityRecorder) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		logger:   logger,
		security: security,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Handler returns the rate limiting middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := GetUserID(r.Context())
		if key == "" {
			key = clientIP(r)
		}

		if !rl.getLimiter(key).Allow() {
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"key":    key,
				"path":   r.URL.Path,
				"method": r.Method,
			})
			if rl.security != nil {
				rl.security.RecordSecurity(r.Context(), "rate_limit_exceeded", key, clientIP(r), map[string]string{
					"path": r.URL.Path,
				})
			}
			httputil.WriteError(w, errors.RateLimitExceeded(int(rl.rate), "1s"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops all limiters once the map grows past a bound. Buckets refill
// quickly, so losing state is harmless.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// cleanupInterval is how often the limiter map is bounded.
const cleanupInterval = time.Minute

// Name implements system.Service.
func (rl *RateLimiter) Name() string { return "rate-limiter" }

// Start implements system.Service; it runs the cleanup loop until the
// context is cancelled.
func (rl *RateLimiter) Start(ctx context.Context) error {
	rl.StartCleanup(ctx, cleanupInterval)
	return nil
}

// Stop implements system.Service; the cleanup loop exits with the start
// context.
func (rl *RateLimiter) Stop(context.Context) error { return nil }

// StartCleanup runs Cleanup on an interval until the context is cancelled.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
