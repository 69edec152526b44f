package subscription

import (
	"time"

	"nostr-subs/internal/tracker"
)

// NoExpiry marks a subscription that never expires on its own.
const NoExpiry time.Duration = -1

// Config holds manager defaults.
type Config struct {
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	DedupeSize    int           `mapstructure:"dedupe_size"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    5 * time.Minute,
		SweepInterval: 15 * time.Second,
		DedupeSize:    2048,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultTTL == 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = d.DedupeSize
	}
	return c
}

// Options tune a single subscription.
type Options struct {
	// TTL is the lifetime before the expiry sweep closes or renews the
	// subscription. Zero uses Config.DefaultTTL; NoExpiry never expires.
	TTL        time.Duration
	Renewable  bool
	ConsumerID string
	Category   tracker.Category
	Priority   int

	// Dedupe drops events whose id was already delivered, typically the same
	// event arriving from several relays.
	Dedupe bool
	// CacheEvents writes delivered events to the event cache.
	CacheEvents bool
}
