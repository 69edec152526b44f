package cache

import "time"

// CacheConfig holds cache TTL configuration
type CacheConfig struct {
	EventTTL   time.Duration `mapstructure:"event_ttl"`
	ProfileTTL time.Duration `mapstructure:"profile_ttl"`
	ThreadTTL  time.Duration `mapstructure:"thread_ttl"`
	FeedTTL    time.Duration `mapstructure:"feed_ttl"`

	// Memory backend
	MaxEntries      int           `mapstructure:"max_entries"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// Redis backend, used when RedisURL is set
	RedisURL    string `mapstructure:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		EventTTL:        30 * time.Minute,
		ProfileTTL:      1 * time.Hour, // Profiles rarely change hourly
		ThreadTTL:       30 * time.Minute,
		FeedTTL:         5 * time.Minute,
		MaxEntries:      10000,
		CleanupInterval: 2 * time.Minute,
		RedisPrefix:     "nostr:",
	}
}
