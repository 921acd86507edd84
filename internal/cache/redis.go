package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AIResultCache is the distributed tier for AI operation results, keyed by
// operation fingerprint. Payloads are opaque JSON produced by the AI
// adapter. Lookup failures degrade to cache misses; the adapter then
// recomputes.
type AIResultCache struct {
	client *redis.Client
	config *RedisConfig
	logger *zap.Logger

	hits   int64
	misses int64
}

// NewAIResultCache connects to Redis and verifies the connection
func NewAIResultCache(config *RedisConfig, logger *zap.Logger) (*AIResultCache, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns
	opts.MaxConnAge = config.ConnMaxLifetime

	client := redis.NewClient(opts)

	cache := &AIResultCache{
		client: client,
		config: config,
		logger: logger,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("AI result cache initialized",
		zap.String("redis_url", maskRedisURL(config.URL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// Get returns the cached payload for a fingerprint key, or false on miss.
// Transport errors are logged and reported as misses.
func (c *AIResultCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.config.KeyPrefix+key).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&c.misses, 1)
		c.logger.Debug("AI cache miss", zap.String("key", key))
		return nil, false
	} else if err != nil {
		atomic.AddInt64(&c.misses, 1)
		c.logger.Error("AI cache lookup failed", zap.Error(err))
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	c.logger.Debug("AI cache hit", zap.String("key", key))
	return data, true
}

// Set stores a payload under the fingerprint key with the default TTL
func (c *AIResultCache) Set(ctx context.Context, key string, payload []byte) error {
	err := c.client.Set(ctx, c.config.KeyPrefix+key, payload, c.config.DefaultTTL).Err()
	if err != nil {
		c.logger.Error("Failed to cache AI result", zap.Error(err))
		return fmt.Errorf("failed to cache AI result: %w", err)
	}
	return nil
}

// GetStats returns cache performance statistics
func (c *AIResultCache) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	keys, err := c.client.DBSize(ctx).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get Redis key count: %w", err)
	}
	stats.Entries = keys

	return stats, nil
}

// Clear removes all cached AI results under this cache's prefix
func (c *AIResultCache) Clear(ctx context.Context) error {
	pattern := c.config.KeyPrefix + "*"

	// Use SCAN to find all keys with our prefix
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			c.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("AI result cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (c *AIResultCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
