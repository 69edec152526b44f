package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-subs/internal/cache"
	"nostr-subs/internal/pool"
	"nostr-subs/internal/pool/pooltest"
	"nostr-subs/internal/types"
)

func newWebsocketFetcher(t *testing.T) (*Fetcher, *cache.ContentCache) {
	t.Helper()
	cfg := pool.DefaultConfig()
	cfg.PruneInterval = -1
	p := pool.New(cfg, nil)
	c := cache.NewMemoryContentCache(cache.DefaultCacheConfig())
	t.Cleanup(func() {
		p.Close()
		c.Close()
	})

	fcfg := DefaultConfig()
	fcfg.Timeout = 2 * time.Second
	return New(fcfg, p, c), c
}

func eventIDs(events []types.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}

func TestEventFetchesOnceThenCaches(t *testing.T) {
	relay := pooltest.NewRelay(types.Event{ID: "e1", PubKey: "alice", Kind: 1, Content: "hello"})
	defer relay.Close()
	f, c := newWebsocketFetcher(t)
	ctx := context.Background()

	evt := f.Event(ctx, []string{relay.URL}, "e1")
	require.NotNil(t, evt)
	assert.Equal(t, "hello", evt.Content)
	assert.Equal(t, 1, relay.Requests())

	_, ok := c.Events.Get("e1")
	assert.True(t, ok)

	evt = f.Event(ctx, []string{relay.URL}, "e1")
	require.NotNil(t, evt)
	assert.Equal(t, 1, relay.Requests())
}

func TestEventNotFound(t *testing.T) {
	relay := pooltest.NewRelay()
	defer relay.Close()
	f, _ := newWebsocketFetcher(t)

	start := time.Now()
	assert.Nil(t, f.Event(context.Background(), []string{relay.URL}, "missing"))
	assert.Less(t, time.Since(start), time.Second, "EOSE should end the query early")
	assert.Nil(t, f.Event(context.Background(), []string{relay.URL}, ""))
}

func TestQueryTimesOutOnSilentRelay(t *testing.T) {
	tr := pooltest.NewTransport()
	pcfg := pool.DefaultConfig()
	pcfg.PruneInterval = -1
	pcfg.URLCheck = func(string) bool { return true }
	p := pool.New(pcfg, tr)
	defer p.Close()
	c := cache.NewMemoryContentCache(cache.DefaultCacheConfig())
	defer c.Close()

	f := New(Config{Timeout: 50 * time.Millisecond}, p, c)

	start := time.Now()
	assert.Nil(t, f.Event(context.Background(), []string{"wss://silent"}, "e1"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConcurrentEventLookupsShareOneQuery(t *testing.T) {
	tr := pooltest.NewTransport()
	tr.OnDial = func(url string, c *pooltest.Conn) {
		c.OnWrite(func(frame []interface{}) {
			if frame[0] != "REQ" {
				return
			}
			subID := frame[1].(string)
			go func() {
				time.Sleep(50 * time.Millisecond)
				c.Deliver("EVENT", subID, types.Event{ID: "e1", Kind: 1})
				c.Deliver("EOSE", subID)
			}()
		})
	}
	pcfg := pool.DefaultConfig()
	pcfg.PruneInterval = -1
	pcfg.URLCheck = func(string) bool { return true }
	p := pool.New(pcfg, tr)
	defer p.Close()
	c := cache.NewMemoryContentCache(cache.DefaultCacheConfig())
	defer c.Close()
	f := New(DefaultConfig(), p, c)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evt := f.Event(context.Background(), []string{"wss://a"}, "e1")
			assert.NotNil(t, evt)
		}()
	}
	wg.Wait()

	reqs := 0
	for _, frame := range tr.Last("wss://a").Written() {
		if frame[0] == "REQ" {
			reqs++
		}
	}
	assert.Equal(t, 1, reqs)
}

func TestProfilesNewestWinsAndCacheIsUsed(t *testing.T) {
	older := pooltest.NewRelay(types.Event{ID: "p1", PubKey: "alice", Kind: 0, CreatedAt: 100, Content: `{"name":"old"}`})
	defer older.Close()
	newer := pooltest.NewRelay(
		types.Event{ID: "p2", PubKey: "alice", Kind: 0, CreatedAt: 200, Content: `{"name":"new"}`},
		types.Event{ID: "p3", PubKey: "dave", Kind: 0, CreatedAt: 50, Content: `not json`},
	)
	defer newer.Close()

	f, c := newWebsocketFetcher(t)
	c.Profiles.Put("bob", types.ProfileInfo{Name: "cached bob", PubKey: "bob"})

	relays := []string{older.URL, newer.URL}
	got := f.Profiles(context.Background(), relays, []string{"alice", "bob", "carol", "dave", "alice"})

	require.Contains(t, got, "alice")
	assert.Equal(t, "new", got["alice"].Name)
	assert.Equal(t, int64(200), got["alice"].UpdatedAt)
	assert.Equal(t, "cached bob", got["bob"].Name)
	assert.NotContains(t, got, "carol")
	assert.NotContains(t, got, "dave")

	cached, ok := c.Profiles.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "new", cached.Name)

	// everything cached now except the unknown keys
	requests := newer.Requests()
	f.Profiles(context.Background(), relays, []string{"alice", "bob"})
	assert.Equal(t, requests, newer.Requests())

	assert.Nil(t, f.Profiles(context.Background(), relays, nil))
}

func TestThreadCollectsSortedReplies(t *testing.T) {
	root := types.Event{ID: "root", PubKey: "alice", Kind: 1, CreatedAt: 100, Content: "question"}
	r1 := types.Event{ID: "r1", PubKey: "bob", Kind: 1, CreatedAt: 120, Tags: [][]string{{"e", "root"}}}
	r2 := types.Event{ID: "r2", PubKey: "carol", Kind: 1, CreatedAt: 110, Tags: [][]string{{"e", "root"}}}
	nested := types.Event{ID: "r3", PubKey: "alice", Kind: 1, CreatedAt: 130, Tags: [][]string{{"e", "root"}, {"e", "r1"}}}
	reaction := types.Event{ID: "x", PubKey: "dave", Kind: 7, CreatedAt: 140, Tags: [][]string{{"e", "root"}}}
	unrelated := types.Event{ID: "u", PubKey: "erin", Kind: 1, CreatedAt: 150}

	a := pooltest.NewRelay(root, r1, reaction, unrelated)
	defer a.Close()
	b := pooltest.NewRelay(r1, r2, nested)
	defer b.Close()

	f, c := newWebsocketFetcher(t)
	th := f.Thread(context.Background(), []string{a.URL, b.URL}, "root")
	require.NotNil(t, th)
	assert.Equal(t, "question", th.Root.Content)
	assert.Equal(t, []string{"r2", "r1", "r3"}, eventIDs(th.Replies))

	_, ok := c.Threads.Get("root")
	assert.True(t, ok)

	assert.Nil(t, f.Thread(context.Background(), []string{a.URL}, "missing-root"))
}

func TestFeedDedupesSortsAndCaches(t *testing.T) {
	relay := pooltest.NewRelay(
		types.Event{ID: "a1", PubKey: "alice", Kind: 1, CreatedAt: 100, Content: "gm", Tags: [][]string{{"t", "nostr"}}},
		types.Event{ID: "a2", PubKey: "alice", Kind: 1, CreatedAt: 300, Content: " gm ", Tags: [][]string{{"t", "nostr"}}},
		types.Event{ID: "b1", PubKey: "bob", Kind: 1, CreatedAt: 200, Content: "hello", Tags: [][]string{{"t", "nostr"}}},
		types.Event{ID: "b2", PubKey: "bob", Kind: 1, CreatedAt: 250, Content: "off topic"},
		types.Event{ID: "c1", PubKey: "carol", Kind: 1, CreatedAt: 400, Content: "not followed", Tags: [][]string{{"t", "nostr"}}},
	)
	defer relay.Close()
	f, c := newWebsocketFetcher(t)
	ctx := context.Background()

	q := types.FeedQuery{Authors: []string{"bob", "alice"}, Hashtag: "#Nostr", Limit: 10}
	got := f.Feed(ctx, []string{relay.URL}, q)
	assert.Equal(t, []string{"a2", "b1"}, eventIDs(got))

	cached, ok := c.GetFeed(types.FeedQuery{Authors: []string{"alice", "bob"}, Hashtag: "nostr"})
	require.True(t, ok)
	assert.Len(t, cached, 2)

	requests := relay.Requests()
	got = f.Feed(ctx, []string{relay.URL}, types.FeedQuery{Authors: []string{"alice", "bob"}, Hashtag: "nostr", Limit: 1})
	assert.Equal(t, []string{"a2"}, eventIDs(got))
	assert.Equal(t, requests, relay.Requests())
}

func TestFeedMediaOnly(t *testing.T) {
	relay := pooltest.NewRelay(
		types.Event{ID: "txt", PubKey: "alice", Kind: 1, CreatedAt: 300, Content: "just words"},
		types.Event{ID: "img", PubKey: "alice", Kind: 1, CreatedAt: 200, Content: "https://cdn.example.com/cat.png"},
		types.Event{ID: "vid", PubKey: "alice", Kind: 1, CreatedAt: 100, Tags: [][]string{{"imeta", "url https://cdn.example.com/v.mp4"}}},
	)
	defer relay.Close()
	f, _ := newWebsocketFetcher(t)

	got := f.Feed(context.Background(), []string{relay.URL}, types.FeedQuery{Authors: []string{"alice"}, MediaOnly: true})
	assert.Equal(t, []string{"img", "vid"}, eventIDs(got))
}

func TestFeedSmallPageDoesNotShadowLargerOne(t *testing.T) {
	relay := pooltest.NewRelay(
		types.Event{ID: "a1", PubKey: "alice", Kind: 1, CreatedAt: 400, Content: "one"},
		types.Event{ID: "a2", PubKey: "alice", Kind: 1, CreatedAt: 300, Content: "two"},
		types.Event{ID: "a3", PubKey: "alice", Kind: 1, CreatedAt: 200, Content: "three"},
		types.Event{ID: "a4", PubKey: "alice", Kind: 1, CreatedAt: 100, Content: "four"},
	)
	defer relay.Close()
	f, c := newWebsocketFetcher(t)
	f.cfg.FeedLimit = 2
	ctx := context.Background()
	relays := []string{relay.URL}

	small := f.Feed(ctx, relays, types.FeedQuery{Authors: []string{"alice"}, Limit: 1})
	assert.Equal(t, []string{"a1"}, eventIDs(small))
	assert.Equal(t, 1, relay.Requests())

	// the first page was fetched at FeedLimit, so a two-event page is a hit
	two := f.Feed(ctx, relays, types.FeedQuery{Authors: []string{"alice"}, Limit: 2})
	assert.Equal(t, []string{"a1", "a2"}, eventIDs(two))
	assert.Equal(t, 1, relay.Requests())

	big := f.Feed(ctx, relays, types.FeedQuery{Authors: []string{"alice"}, Limit: 4})
	assert.Equal(t, []string{"a1", "a2", "a3", "a4"}, eventIDs(big))
	assert.Equal(t, 2, relay.Requests())

	cached, ok := c.GetFeed(types.FeedQuery{Authors: []string{"alice"}, Limit: 4})
	require.True(t, ok)
	assert.Len(t, cached, 4)
	_, ok = c.GetFeed(types.FeedQuery{Authors: []string{"alice"}, Limit: 5})
	assert.False(t, ok)
}

func TestBuildBatchKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t,
		buildBatchKey("p", []string{"wss://b", "wss://a"}, []string{"y", "x"}),
		buildBatchKey("p", []string{"wss://a", "wss://b"}, []string{"x", "y"}))
}

func TestConcurrentProfileLookupsShareOneQuery(t *testing.T) {
	relay := pooltest.NewRelay(
		types.Event{ID: "p1", PubKey: "alice", Kind: 0, CreatedAt: 1, Content: `{"name":"alice"}`},
		types.Event{ID: "p2", PubKey: "bob", Kind: 0, CreatedAt: 1, Content: `{"name":"bob"}`},
		types.Event{ID: "p3", PubKey: "carol", Kind: 0, CreatedAt: 1, Content: `{"name":"carol"}`},
	)
	defer relay.Close()

	cfg := pool.DefaultConfig()
	cfg.PruneInterval = -1
	p := pool.New(cfg, nil)
	defer p.Close()
	c := cache.NewMemoryContentCache(cache.DefaultCacheConfig())
	defer c.Close()
	f := New(Config{BatchWindow: 100 * time.Millisecond}, p, c)

	// connect first so the only REQ counted is the profile query
	require.True(t, p.Connect(context.Background(), relay.URL))

	var wg sync.WaitGroup
	results := make([]map[string]*types.ProfileInfo, 2)
	for i, keys := range [][]string{{"alice", "bob"}, {"bob", "carol"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.Profiles(context.Background(), []string{relay.URL}, keys)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, relay.Requests())
	require.Len(t, results[0], 2)
	require.Len(t, results[1], 2)
	assert.Equal(t, "carol", results[1]["carol"].Name)
}
