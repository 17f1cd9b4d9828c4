package http

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/time/rate"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// Per-client token buckets in front of the lifecycle writes.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the refill rate per client. Zero disables limiting.
	RequestsPerMinute int

	// BurstSize is the bucket capacity.
	BurstSize int

	// IdleTTL drops buckets of clients not seen for this long.
	IdleTTL time.Duration

	Clock clock.Clock
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
		IdleTTL:           10 * time.Minute,
		Clock:             clock.WallClock,
	}
}

// RateLimiter keeps one rate.Limiter per client address.
type RateLimiter struct {
	config RateLimitConfig

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	return &RateLimiter{
		config:    config,
		clients:   make(map[string]*client),
		lastSweep: config.Clock.Now(),
	}
}

// Enabled reports whether requests are limited at all.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.config.RequestsPerMinute > 0
}

// Allow consumes a token for key. When none is left it returns how long
// until the next one.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if !rl.Enabled() {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Clock.Now()
	rl.sweep(now)

	c, ok := rl.clients[key]
	if !ok {
		perSecond := rate.Limit(float64(rl.config.RequestsPerMinute) / 60.0)
		c = &client{limiter: rate.NewLimiter(perSecond, rl.config.BurstSize)}
		rl.clients[key] = c
	}
	c.lastSeen = now

	if c.limiter.AllowN(now, 1) {
		return true, 0
	}
	missing := 1 - c.limiter.TokensAt(now)
	return false, time.Duration(missing / float64(c.limiter.Limit()) * float64(time.Second))
}

// sweep drops clients idle for IdleTTL whose limiter has refilled, at most
// once per IdleTTL. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.config.IdleTTL {
		return
	}
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) >= rl.config.IdleTTL && c.limiter.TokensAt(now) >= float64(c.limiter.Burst()) {
			delete(rl.clients, key)
		}
	}
	rl.lastSweep = now
}

// Middleware rejects clients that ran out of tokens with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.Allow(clientKey(r))
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeJSONError(w, r, http.StatusTooManyRequests, codeRateLimited,
				"too many requests, slow down", map[string]any{"retry_after_seconds": seconds})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey is the client address; chi's RealIP has already applied
// X-Forwarded-For when present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
