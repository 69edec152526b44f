// Package config loads the settings of every component from an optional
// file plus environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"nostr-subs/internal/cache"
	"nostr-subs/internal/fetch"
	"nostr-subs/internal/nostr"
	"nostr-subs/internal/pool"
	"nostr-subs/internal/subscription"
	"nostr-subs/internal/tracker"
)

// EnvPrefix prefixes every environment override, e.g. RELAYPOOL_POOL_MAX_CONNECTIONS.
const EnvPrefix = "RELAYPOOL"

// DefaultPath is read when no path is given and RELAYPOOL_CONFIG is unset.
const DefaultPath = "config/relaypool.json"

type Config struct {
	Log          LogConfig           `mapstructure:"log"`
	Relays       []string            `mapstructure:"relays"`
	Pool         pool.Config         `mapstructure:"pool"`
	Tracker      tracker.Config      `mapstructure:"tracker"`
	Subscription subscription.Config `mapstructure:"subscription"`
	Cache        cache.CacheConfig   `mapstructure:"cache"`
	Fetch        fetch.Config        `mapstructure:"fetch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:          LogConfig{Level: "info", Format: "json"},
		Relays:       []string{"wss://relay.damus.io", "wss://nos.lol", "wss://relay.nostr.band"},
		Pool:         pool.DefaultConfig(),
		Tracker:      tracker.DefaultConfig(),
		Subscription: subscription.DefaultConfig(),
		Cache:        cache.DefaultCacheConfig(),
		Fetch:        fetch.DefaultConfig(),
	}
}

// Load reads path (or RELAYPOOL_CONFIG, or DefaultPath when it exists) and
// applies environment overrides on top of the defaults. An explicitly named
// file that cannot be read is an error; a missing default file is not.
func Load(path string) (*Config, error) {
	v := viper.New()

	if err := setDefaults(v, Default()); err != nil {
		return nil, fmt.Errorf("setting defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// bare names kept for compatibility with existing deployments
	if err := v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("cache.redis_url", EnvPrefix+"_CACHE_REDIS_URL", "REDIS_URL"); err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		slog.Debug("loaded config file", "path", path)
	} else if _, err := os.Stat(DefaultPath); err == nil {
		v.SetConfigFile(DefaultPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", DefaultPath, err)
		}
		slog.Debug("loaded config file", "path", DefaultPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not stat default config, using defaults", "path", DefaultPath, "error", err)
	}

	// every default is registered with viper, so decode into a zero value
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Pool.URLCheck = nostr.IsRelayURLSafe
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every leaf key of d so environment overrides apply
// to keys that appear in no file.
func setDefaults(v *viper.Viper, d *Config) error {
	var tree map[string]interface{}
	if err := mapstructure.Decode(d, &tree); err != nil {
		return err
	}
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]interface{}); ok {
				walk(key, sub)
				continue
			}
			if val == nil || reflect.ValueOf(val).Kind() == reflect.Func {
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Pool.MaxConnections < 1 {
		errs = append(errs, fmt.Errorf("pool.max_connections must be at least 1, got %d", c.Pool.MaxConnections))
	}
	if c.Tracker.MaxSubscriptions < 1 {
		errs = append(errs, fmt.Errorf("tracker.max_subscriptions must be at least 1, got %d", c.Tracker.MaxSubscriptions))
	}
	if c.Tracker.MaxPerConsumer < 1 {
		errs = append(errs, fmt.Errorf("tracker.max_per_consumer must be at least 1, got %d", c.Tracker.MaxPerConsumer))
	}
	if c.Subscription.DefaultTTL == 0 {
		errs = append(errs, errors.New("subscription.default_ttl must be non-zero"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
