package cache

import (
	"fmt"
	"time"
)

// Config contains in-memory compliance cache configuration
type Config struct {
	TTL             time.Duration `yaml:"ttl" mapstructure:"ttl"`
	IdleTTL         time.Duration `yaml:"idle_ttl" mapstructure:"idle_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// RedisConfig contains the AI result cache tier configuration
type RedisConfig struct {
	URL             string        `yaml:"url" mapstructure:"url"`
	KeyPrefix       string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	DefaultTTL      time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns    int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// Stats reports cache performance
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int64   `json:"entries"`
}

// ComputeError wraps a failed cache computation. Every caller waiting on the
// in-flight computation receives it; the entry is not populated and the next
// call retries.
type ComputeError struct {
	Key   string
	Cause error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("cache compute for %q failed: %v", e.Key, e.Cause)
}

func (e *ComputeError) Unwrap() error { return e.Cause }
