package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCache implements CacheBackend using sync.Map
type MemoryCache struct {
	data            sync.Map
	maxSize         int
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

type memoryCacheEntry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache. A cleanupInterval of zero
// disables the background sweep; expiry is still enforced on read.
func NewMemoryCache(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	mc := &MemoryCache{
		maxSize:         maxSize,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go mc.cleanupLoop()
	}
	return mc
}

func (e *memoryCacheEntry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok := m.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := val.(*memoryCacheEntry)
	if entry.expired(time.Now()) {
		m.data.CompareAndDelete(key, entry)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	m.data.Store(key, &memoryCacheEntry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	})
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

func (m *MemoryCache) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	now := time.Now()
	for _, key := range keys {
		val, ok := m.data.Load(key)
		if !ok {
			continue
		}
		entry := val.(*memoryCacheEntry)
		if entry.expired(now) {
			m.data.CompareAndDelete(key, entry)
			continue
		}
		result[key] = entry.value
	}
	return result, nil
}

func (m *MemoryCache) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	now := time.Now()
	for key, value := range items {
		m.data.Store(key, &memoryCacheEntry{
			value:     value,
			createdAt: now,
			expiresAt: now.Add(ttl),
		})
	}
	return nil
}

func (m *MemoryCache) SweepExpired(ctx context.Context) (int, error) {
	return m.cleanup(), nil
}

func (m *MemoryCache) Clear(ctx context.Context) error {
	m.data.Clear()
	return nil
}

// Len counts live and not-yet-reclaimed entries.
func (m *MemoryCache) Len() int {
	n := 0
	m.data.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	return nil
}

func (m *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup removes expired entries, then trims to maxSize by dropping the
// entries closest to expiry. Returns the number of entries removed.
func (m *MemoryCache) cleanup() int {
	now := time.Now()
	removed := 0
	var entries []struct {
		key       string
		expiresAt time.Time
	}

	m.data.Range(func(key, value interface{}) bool {
		k := key.(string)
		entry := value.(*memoryCacheEntry)
		if entry.expired(now) {
			if m.data.CompareAndDelete(k, entry) {
				removed++
			}
		} else {
			entries = append(entries, struct {
				key       string
				expiresAt time.Time
			}{k, entry.expiresAt})
		}
		return true
	})

	if m.maxSize > 0 && len(entries) > m.maxSize {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].expiresAt.Before(entries[j].expiresAt)
		})
		toRemove := len(entries) - m.maxSize
		for i := 0; i < toRemove; i++ {
			m.data.Delete(entries[i].key)
			removed++
		}
	}
	return removed
}
