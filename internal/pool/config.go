package pool

import (
	"time"

	"nostr-subs/internal/nostr"
)

// Config holds pool limits and timings.
type Config struct {
	MaxConnections int           `mapstructure:"max_connections"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PruneInterval  time.Duration `mapstructure:"prune_interval"`
	MaxIdle        int           `mapstructure:"max_idle"`
	EventBuffer    int           `mapstructure:"event_buffer"`

	// URLCheck rejects relay URLs before dialing. Defaults to nostr.IsRelayURLSafe.
	URLCheck func(string) bool `mapstructure:"-"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConnections: 15,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
		PruneInterval:  60 * time.Second,
		MaxIdle:        5,
		EventBuffer:    100,
		URLCheck:       nostr.IsRelayURLSafe,
	}
}

// withDefaults fills zero fields. A negative PruneInterval disables pruning.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PruneInterval == 0 {
		c.PruneInterval = d.PruneInterval
	}
	if c.MaxIdle < 0 {
		c.MaxIdle = 0
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.URLCheck == nil {
		c.URLCheck = d.URLCheck
	}
	return c
}
