package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"nostr-subs/internal/metrics"
)

// Store provides typed access to one backend. Values are stored as JSON.
type Store[T any] struct {
	name    string
	backend CacheBackend
	ttl     time.Duration
}

// NewStore wraps backend. ttl is applied when Put is called without one.
func NewStore[T any](name string, backend CacheBackend, ttl time.Duration) *Store[T] {
	return &Store[T]{name: name, backend: backend, ttl: ttl}
}

// Name is the store name used in metrics and logs.
func (s *Store[T]) Name() string { return s.name }

// TTL is the default time-to-live for Put.
func (s *Store[T]) TTL() time.Duration { return s.ttl }

// Get returns the value for key if it is present and not expired.
func (s *Store[T]) Get(key string) (T, bool) {
	var zero T
	data, found, err := s.backend.Get(context.Background(), key)
	if err != nil {
		slog.Debug("cache get failed", "store", s.name, "error", err)
	}
	if err != nil || !found {
		metrics.CacheMiss(s.name)
		return zero, false
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		metrics.CacheMiss(s.name)
		return zero, false
	}
	metrics.CacheHit(s.name)
	return v, true
}

// Put stores value under key with the store's default TTL, overwriting any previous value.
func (s *Store[T]) Put(key string, value T) {
	s.PutTTL(key, value, s.ttl)
}

// PutTTL stores value with an explicit TTL. A non-positive ttl uses the default.
func (s *Store[T]) PutTTL(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("cache encode failed", "store", s.name, "error", err)
		return
	}
	if err := s.backend.Set(context.Background(), key, data, ttl); err != nil {
		slog.Debug("cache set failed", "store", s.name, "error", err)
	}
}

// GetMultiple retrieves multiple values, returning found ones and the keys that missed.
func (s *Store[T]) GetMultiple(keys []string) (found map[string]T, missing []string) {
	found = make(map[string]T)
	results, err := s.backend.GetMultiple(context.Background(), keys)
	if err != nil {
		return found, keys
	}

	for _, key := range keys {
		data, ok := results[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			missing = append(missing, key)
			continue
		}
		found[key] = v
	}

	if len(found) > 0 {
		metrics.CacheRequests.WithLabelValues(s.name, "hit").Add(float64(len(found)))
	}
	if len(missing) > 0 {
		metrics.CacheRequests.WithLabelValues(s.name, "miss").Add(float64(len(missing)))
	}
	return found, missing
}

// PutMultiple stores several values with the default TTL.
func (s *Store[T]) PutMultiple(items map[string]T) {
	if len(items) == 0 {
		return
	}
	encoded := make(map[string][]byte, len(items))
	for key, v := range items {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		encoded[key] = data
	}
	if err := s.backend.SetMultiple(context.Background(), encoded, s.ttl); err != nil {
		slog.Debug("cache set failed", "store", s.name, "error", err)
	}
}

// Invalidate removes key.
func (s *Store[T]) Invalidate(key string) {
	s.backend.Delete(context.Background(), key)
}

// SweepExpired reclaims memory held by expired entries.
func (s *Store[T]) SweepExpired() int {
	n, err := s.backend.SweepExpired(context.Background())
	if err != nil {
		slog.Debug("cache sweep failed", "store", s.name, "error", err)
	}
	return n
}

// Clear drops every entry in the store.
func (s *Store[T]) Clear() {
	if err := s.backend.Clear(context.Background()); err != nil {
		slog.Warn("cache clear failed", "store", s.name, "error", err)
	}
}
