package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// Buckets that have not been touched for this long are dropped during
// the periodic sweep so the map does not grow with every IP ever seen.
const (
	bucketIdleExpiry = 10 * time.Minute
	sweepInterval    = time.Minute
)

// bucket tracks the remaining request allowance for one caller.
type bucket struct {
	remaining float64
	updatedAt time.Time
}

// limiter is a token-bucket rate limiter keyed by caller identity.
// Buckets refill continuously at RequestsPerSecond up to BurstSize.
type limiter struct {
	mu        sync.Mutex
	cfg       RateLimitConfig
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{
		cfg:       cfg,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// take consumes one token from key's bucket. When the bucket is empty it
// returns false plus the whole seconds to wait until the next token.
func (l *limiter) take(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{remaining: float64(l.cfg.BurstSize), updatedAt: now}
		l.buckets[key] = b
	} else {
		b.remaining += now.Sub(b.updatedAt).Seconds() * l.cfg.RequestsPerSecond
		if max := float64(l.cfg.BurstSize); b.remaining > max {
			b.remaining = max
		}
		b.updatedAt = now
	}

	if b.remaining >= 1 {
		b.remaining--
		return true, 0
	}
	if l.cfg.RequestsPerSecond <= 0 {
		return false, 1
	}
	return false, int((1-b.remaining)/l.cfg.RequestsPerSecond) + 1
}

func (l *limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.updatedAt) > bucketIdleExpiry {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// RateLimit returns a rate limiting middleware.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	lim := newLimiter(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Buckets are keyed by client IP. A signaling client that
			// identifies itself gets its own bucket so one chatty peer
			// behind a shared NAT cannot starve the other.
			key := c.RealIP()
			if userID := c.QueryParam("user_id"); userID != "" {
				key = userID + ":" + key
			}

			ok, retryAfter := lim.take(key)
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
