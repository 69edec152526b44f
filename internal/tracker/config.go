package tracker

import "time"

// Category groups subscriptions for staleness thresholds.
type Category string

const (
	CategoryProfile Category = "profile"
	CategoryFeed    Category = "feed"
	CategoryChat    Category = "chat"
	CategoryRelay   Category = "relay"
	CategoryOther   Category = "other"
)

// Priority bounds. Lower numbers are more important.
const (
	PriorityHighest = 1
	PriorityLowest  = 10
	PriorityDefault = 5
)

// Config holds tracker limits and sweep timings.
type Config struct {
	MaxSubscriptions int `mapstructure:"max_subscriptions"`
	MaxPerConsumer   int `mapstructure:"max_per_consumer"`

	// Creation-rate guard: warn when more than RateLimit registrations
	// happen inside RateWindow.
	RateLimit         int           `mapstructure:"rate_limit"`
	RateWindow        time.Duration `mapstructure:"rate_window"`
	RateCheckInterval time.Duration `mapstructure:"rate_check_interval"`

	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	ProfileStaleAfter time.Duration `mapstructure:"profile_stale_after"`
	RelayStaleAfter   time.Duration `mapstructure:"relay_stale_after"`
	DefaultStaleAfter time.Duration `mapstructure:"default_stale_after"`

	// DuplicateWindow is the creation-time bucket used by CleanupDuplicates.
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
	// SweepDuplicates runs CleanupDuplicates on every staleness sweep.
	SweepDuplicates bool `mapstructure:"sweep_duplicates"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxSubscriptions:  75,
		MaxPerConsumer:    15,
		RateLimit:         30,
		RateWindow:        60 * time.Second,
		RateCheckInterval: 30 * time.Second,
		SweepInterval:     15 * time.Second,
		ProfileStaleAfter: 2 * time.Minute,
		RelayStaleAfter:   30 * time.Second,
		DefaultStaleAfter: 5 * time.Minute,
		DuplicateWindow:   time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = d.MaxSubscriptions
	}
	if c.MaxPerConsumer <= 0 {
		c.MaxPerConsumer = d.MaxPerConsumer
	}
	if c.RateLimit <= 0 {
		c.RateLimit = d.RateLimit
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.RateCheckInterval <= 0 {
		c.RateCheckInterval = d.RateCheckInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.ProfileStaleAfter <= 0 {
		c.ProfileStaleAfter = d.ProfileStaleAfter
	}
	if c.RelayStaleAfter <= 0 {
		c.RelayStaleAfter = d.RelayStaleAfter
	}
	if c.DefaultStaleAfter <= 0 {
		c.DefaultStaleAfter = d.DefaultStaleAfter
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = d.DuplicateWindow
	}
	return c
}

// staleAfter returns the staleness threshold for a category.
func (c Config) staleAfter(cat Category) time.Duration {
	switch cat {
	case CategoryProfile:
		return c.ProfileStaleAfter
	case CategoryRelay:
		return c.RelayStaleAfter
	default:
		return c.DefaultStaleAfter
	}
}
