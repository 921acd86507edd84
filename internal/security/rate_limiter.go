package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig controls per-client HTTP rate limiting.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// RateLimiter applies a token-bucket limit per client IP.
type RateLimiter struct {
	config   *RateLimitConfig
	limiters map[string]*clientLimiter
	mu       sync.RWMutex
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:   cfg,
		limiters: make(map[string]*clientLimiter),
	}
}

// Allow checks if a request from the given client IP is allowed
func (r *RateLimiter) Allow(clientIP string) bool {
	if !r.config.Enabled {
		return true
	}
	return r.getLimiter(clientIP).Allow()
}

// getLimiter gets or creates the limiter for a client IP
func (r *RateLimiter) getLimiter(clientIP string) *rate.Limiter {
	now := time.Now()

	r.mu.RLock()
	cl, exists := r.limiters[clientIP]
	r.mu.RUnlock()

	if exists {
		r.mu.Lock()
		cl.lastSeen = now
		r.mu.Unlock()
		return cl.limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cl, exists := r.limiters[clientIP]; exists {
		cl.lastSeen = now
		return cl.limiter
	}

	burst := r.config.Burst
	if burst < 1 {
		burst = r.config.RequestsPerMinute
	}
	cl = &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(float64(r.config.RequestsPerMinute)/60.0), burst),
		lastSeen: now,
	}
	r.limiters[clientIP] = cl
	return cl.limiter
}

// CleanupOldLimiters removes idle client entries to prevent unbounded
// growth.
func (r *RateLimiter) CleanupOldLimiters() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	for ip, cl := range r.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(r.limiters, ip)
		}
	}
}

// StartCleanupRoutine starts a background routine to clean up idle
// client entries.
func (r *RateLimiter) StartCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			r.CleanupOldLimiters()
		}
	}()
}
