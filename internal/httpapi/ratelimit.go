package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/arbiterlabs/specd/internal/config"
	"github.com/arbiterlabs/specd/internal/specerr"
)

// RateLimitConfig mirrors config.RateLimit so httpapi doesn't force callers
// to import internal/config for a three-field struct.
type RateLimitConfig = config.RateLimit

// bucket is one caller identity's token bucket, per spec.md §6/§8:
// capacity tokens, refilled at refillPerSec, starting full.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter is a per-identity token-bucket rate limiter, grounded on spec.md
// §8's exact testable property: "the (capacity+1)-th request inside one
// window is denied; after 1/refillPerSec seconds one new request is
// admitted."
type Limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLimiter builds a Limiter. A non-positive capacity falls back to 10
// tokens and a non-positive refill rate to 1 token per second.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.RefillPerSec <= 0 {
		cfg.RefillPerSec = 1
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// Allow reports whether identity may make one more request now, consuming a
// token if so.
func (l *Limiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Capacity), lastRefill: now}
		l.buckets[identity] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * l.cfg.RefillPerSec
	if b.tokens > float64(l.cfg.Capacity) {
		b.tokens = float64(l.cfg.Capacity)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// rateLimited wraps next with per-identity rate limiting, denying with an
// RFC 7807 429 problem document on exhaustion (SPEC_FULL.md §6).
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, err := s.cfg.AuthResolver(r)
		if err != nil {
			writeProblemf(w, specerr.KindAuthDenied, err.Error())
			return
		}
		if !s.limiter.Allow(auth.Identity()) {
			writeProblemf(w, specerr.KindRateLimited, "rate limit exceeded")
			return
		}
		r = r.WithContext(withAuth(r.Context(), auth))
		next.ServeHTTP(w, r)
	})
}
