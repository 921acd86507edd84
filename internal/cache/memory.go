package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/raaihank/compliance-sentinel/internal/logger"
)

// ComputeFunc produces the value for a cache key on miss
type ComputeFunc func(ctx context.Context) (interface{}, error)

type entry struct {
	value      interface{}
	writtenAt  time.Time
	lastAccess time.Time
}

// MemoryCache memoizes per-jurisdiction rule snapshots and check results.
// At most one computation runs per key: concurrent callers share the
// in-flight result or serialize behind it. Invalidation is synchronous and
// visible to any GetOrCompute issued after it returns; flights are keyed by
// (key, generation), so a call made after an invalidation can never join a
// pre-invalidation flight, and a pre-invalidation flight's result is
// discarded instead of stored.
//
// Keys are "jurisdiction" or "jurisdiction:suffix"; Invalidate removes every
// key under the given jurisdiction.
type MemoryCache struct {
	config Config
	logger *logger.Logger

	mu        sync.RWMutex
	entries   map[string]*entry
	gens      map[string]uint64
	globalGen uint64

	group singleflight.Group

	hits   int64
	misses int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates the cache and starts its cleanup routine
func NewMemoryCache(config Config, log *logger.Logger) *MemoryCache {
	c := &MemoryCache{
		config:  config,
		logger:  log.WithComponent("cache"),
		entries: make(map[string]*entry),
		gens:    make(map[string]uint64),
		stopCh:  make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

// Key builds the canonical cache key for a jurisdiction-scoped value
func Key(jurisdiction, suffix string) string {
	if suffix == "" {
		return jurisdiction
	}
	return jurisdiction + ":" + suffix
}

// Fingerprint derives a stable content identifier from the given parts.
// Equal inputs always produce the same fingerprint, so it is safe to use
// as a cache key for document-derived results.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func jurisdictionOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// GetOrCompute returns the cached value for key, or runs fn to produce it.
// A compute failure is returned to every waiting caller as a ComputeError
// and nothing is stored. Expiry windows are advisory; entries past their TTL
// or idle window are treated as misses.
func (c *MemoryCache) GetOrCompute(ctx context.Context, key string, fn ComputeFunc) (interface{}, error) {
	now := time.Now()

	c.mu.RLock()
	if e, ok := c.entries[key]; ok && !c.expired(e, now) {
		value := e.value
		c.mu.RUnlock()
		atomic.AddInt64(&c.hits, 1)
		c.touch(key, now)
		return value, nil
	}
	c.mu.RUnlock()

	atomic.AddInt64(&c.misses, 1)

	flightKey, jurisGen, globalGen := c.flightKey(key)
	value, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, &ComputeError{Key: key, Cause: err}
	}

	// Store only if no invalidation happened while this flight was running
	c.mu.Lock()
	if c.globalGen == globalGen && c.gens[jurisdictionOf(key)] == jurisGen {
		written := time.Now()
		c.entries[key] = &entry{value: value, writtenAt: written, lastAccess: written}
	}
	c.mu.Unlock()

	return value, nil
}

// Invalidate synchronously removes every entry under the jurisdiction and
// detaches any in-flight computation for it from future callers.
func (c *MemoryCache) Invalidate(jurisdiction string) {
	c.mu.Lock()
	c.gens[jurisdiction]++
	removed := 0
	for k := range c.entries {
		if jurisdictionOf(k) == jurisdiction {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	c.logger.Debug("Cache invalidated",
		zap.String("jurisdiction", jurisdiction),
		zap.Int("removed", removed),
	)
}

// InvalidateAll synchronously drops every entry
func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	c.globalGen++
	removed := len(c.entries)
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	c.logger.Info("Cache cleared", zap.Int("removed", removed))
}

// GetStats returns hit/miss counters and the current entry count
func (c *MemoryCache) GetStats() Stats {
	c.mu.RLock()
	entries := int64(len(c.entries))
	c.mu.RUnlock()

	stats := Stats{
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Entries: entries,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// Stop terminates the cleanup routine
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *MemoryCache) flightKey(key string) (string, uint64, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	jurisGen := c.gens[jurisdictionOf(key)]
	return fmt.Sprintf("%s#%d.%d", key, c.globalGen, jurisGen), jurisGen, c.globalGen
}

func (c *MemoryCache) touch(key string, now time.Time) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.lastAccess = now
	}
	c.mu.Unlock()
}

func (c *MemoryCache) expired(e *entry, now time.Time) bool {
	if c.config.TTL > 0 && now.Sub(e.writtenAt) > c.config.TTL {
		return true
	}
	if c.config.IdleTTL > 0 && now.Sub(e.lastAccess) > c.config.IdleTTL {
		return true
	}
	return false
}

// cleanupLoop sweeps expired entries. Expiry correctness does not depend on
// the sweep; it only bounds memory.
func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			removed := 0
			for k, e := range c.entries {
				if c.expired(e, now) {
					delete(c.entries, k)
					removed++
				}
			}
			c.mu.Unlock()
			if removed > 0 {
				c.logger.Debug("Expired cache entries removed", zap.Int("removed", removed))
			}

		case <-c.stopCh:
			return
		}
	}
}
