package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-subs/internal/pool"
	"nostr-subs/internal/pool/pooltest"
	"nostr-subs/internal/types"
)

func TestWebsocketRelayEndToEnd(t *testing.T) {
	relay := pooltest.NewRelay(
		types.Event{ID: "a1", PubKey: "alice", Kind: 1, CreatedAt: 100, Content: "first"},
		types.Event{ID: "a0", PubKey: "alice", Kind: 0, CreatedAt: 90, Content: "{}"},
	)
	defer relay.Close()

	cfg := pool.DefaultConfig()
	cfg.PruneInterval = -1
	cfg.ConnectTimeout = 2 * time.Second
	p := pool.New(cfg, nil)
	defer p.Close()

	ctx := context.Background()
	got := p.ConnectMany(ctx, []string{relay.URL, "ws://127.0.0.1:1"})
	assert.Equal(t, []string{relay.URL}, got)

	sub, err := p.Subscribe(ctx, relay.URL, "live", types.Filter{Kinds: []int{1}})
	require.NoError(t, err)

	select {
	case evt := <-sub.Events:
		assert.Equal(t, "a1", evt.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("stored event not received")
	}
	select {
	case <-sub.EOSE:
	case <-time.After(2 * time.Second):
		t.Fatal("EOSE not received")
	}

	relay.Publish(types.Event{ID: "a2", PubKey: "alice", Kind: 1, CreatedAt: 110, Content: "second"})
	select {
	case evt := <-sub.Events:
		assert.Equal(t, "a2", evt.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("live event not received")
	}

	p.Unsubscribe(sub)
	assert.True(t, sub.Closed())
	assert.Equal(t, 1, relay.Requests())
}
