package cache

import "time"

// Config holds configuration for the response caching layer.
type Config struct {
	// Enabled controls whether caching is active. When false, no middleware
	// is applied and all requests pass through uncached.
	Enabled bool

	// HierarchyTTL is the TTL for hierarchy read responses.
	HierarchyTTL time.Duration

	// MaxSize is the maximum number of entries in the cache.
	MaxSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		HierarchyTTL: 30 * time.Second,
		MaxSize:      1000,
	}
}
