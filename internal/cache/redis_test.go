package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests run only when REDIS_URL points at a disposable instance.
func newTestRedis(t *testing.T) *RedisCache {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	r, err := NewRedisCache(url, "nostr-subs-test:"+t.Name()+":")
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Clear(context.Background())
		r.Close()
	})
	return r
}

func TestRedisCacheRoundTrip(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Minute))
	got, found, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, r.SetMultiple(ctx, map[string][]byte{"a": []byte("1")}, time.Minute))
	multi, err := r.GetMultiple(ctx, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1")}, multi)

	require.NoError(t, r.Clear(ctx))
	_, found, err = r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCacheExpiry(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("v"), 100*time.Millisecond))
	time.Sleep(250 * time.Millisecond)
	_, found, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}
