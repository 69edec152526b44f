package cache

import (
	"errors"
	"log/slog"

	"nostr-subs/internal/types"
)

// ContentCache bundles the four independent stores consulted before relay queries.
// It never touches the network itself.
type ContentCache struct {
	Events   *Store[types.Event]
	Profiles *Store[types.ProfileInfo]
	Threads  *Store[types.Thread]
	Feeds    *Store[types.FeedPage]

	backends    []CacheBackend
	backendType string
}

// New builds a Redis-backed cache when cfg.RedisURL is set, otherwise memory.
// A Redis connection failure falls back to memory.
func New(cfg CacheConfig) *ContentCache {
	if cfg.RedisURL != "" {
		slog.Info("initializing Redis cache")
		c, err := NewRedisContentCache(cfg)
		if err == nil {
			slog.Info("Redis cache initialized")
			return c
		}
		slog.Warn("Redis connection failed, using memory cache", "error", err)
	}
	return NewMemoryContentCache(cfg)
}

// NewMemoryContentCache gives each store its own MemoryCache.
func NewMemoryContentCache(cfg CacheConfig) *ContentCache {
	slog.Info("initializing in-memory cache")
	mk := func() CacheBackend { return NewMemoryCache(cfg.MaxEntries, cfg.CleanupInterval) }
	return newContentCache(cfg, "memory", mk(), mk(), mk(), mk())
}

// NewRedisContentCache shares one Redis client across the four stores,
// namespaced by prefix.
func NewRedisContentCache(cfg CacheConfig) (*ContentCache, error) {
	client, err := NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	owner := &RedisCache{client: client, prefix: cfg.RedisPrefix + "event:", ownsClient: true}
	return newContentCache(cfg, "redis",
		owner,
		NewRedisCacheFromClient(client, cfg.RedisPrefix+"profile:"),
		NewRedisCacheFromClient(client, cfg.RedisPrefix+"thread:"),
		NewRedisCacheFromClient(client, cfg.RedisPrefix+"feed:"),
	), nil
}

func newContentCache(cfg CacheConfig, backendType string, events, profiles, threads, feeds CacheBackend) *ContentCache {
	return &ContentCache{
		Events:      NewStore[types.Event]("event", events, cfg.EventTTL),
		Profiles:    NewStore[types.ProfileInfo]("profile", profiles, cfg.ProfileTTL),
		Threads:     NewStore[types.Thread]("thread", threads, cfg.ThreadTTL),
		Feeds:       NewStore[types.FeedPage]("feed", feeds, cfg.FeedTTL),
		backends:    []CacheBackend{events, profiles, threads, feeds},
		backendType: backendType,
	}
}

// BackendType reports "memory" or "redis".
func (c *ContentCache) BackendType() string {
	return c.backendType
}

// GetFeed looks up a feed page by its canonical key. A page fetched with a
// smaller limit than q.Limit is a miss. A non-positive q.Limit accepts any page.
func (c *ContentCache) GetFeed(q types.FeedQuery) ([]types.Event, bool) {
	page, ok := c.Feeds.Get(FeedKey(q))
	if !ok || page.Limit < q.Limit {
		return nil, false
	}
	return page.Events, true
}

// PutFeed stores a feed page fetched with q.Limit under its canonical key.
func (c *ContentCache) PutFeed(q types.FeedQuery, events []types.Event) {
	c.Feeds.Put(FeedKey(q), types.FeedPage{Events: events, Limit: q.Limit})
}

// SweepExpired reclaims expired entries in every store.
func (c *ContentCache) SweepExpired() int {
	return c.Events.SweepExpired() + c.Profiles.SweepExpired() + c.Threads.SweepExpired() + c.Feeds.SweepExpired()
}

// ClearAll empties every store.
func (c *ContentCache) ClearAll() {
	c.Events.Clear()
	c.Profiles.Clear()
	c.Threads.Clear()
	c.Feeds.Clear()
}

// Close stops background sweeps and releases backend connections.
// The owning backend is closed last so shared clients outlive their users.
func (c *ContentCache) Close() error {
	var errs []error
	for i := len(c.backends) - 1; i >= 0; i-- {
		if err := c.backends[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
