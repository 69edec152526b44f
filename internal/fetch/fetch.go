// Package fetch answers one-shot lookups (an event, profiles, a thread, a
// feed page) from the content cache, falling back to a bounded relay query.
// Concurrent identical lookups share a single query.
package fetch

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"nostr-subs/internal/cache"
	"nostr-subs/internal/dedup"
	"nostr-subs/internal/logging"
	"nostr-subs/internal/nostr"
	"nostr-subs/internal/pool"
	"nostr-subs/internal/types"
	"nostr-subs/internal/util"
)

// Config holds lookup timeouts and limits.
type Config struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	ThreadReplyLimit int           `mapstructure:"thread_reply_limit"`
	FeedLimit        int           `mapstructure:"feed_limit"`

	// Profile lookups arriving within BatchWindow share one relay query of
	// at most MaxBatch authors.
	BatchWindow time.Duration `mapstructure:"batch_window"`
	MaxBatch    int           `mapstructure:"max_batch"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		ThreadReplyLimit: 500,
		FeedLimit:        50,
		BatchWindow:      50 * time.Millisecond,
		MaxBatch:         100,
	}
}

// RelayPool is the part of *pool.Pool lookups use.
type RelayPool interface {
	Subscribe(ctx context.Context, relayURL, subID string, filter types.Filter) (*pool.Subscription, error)
	Unsubscribe(sub *pool.Subscription)
}

// Fetcher runs lookups. It is safe for concurrent use.
type Fetcher struct {
	cfg   Config
	pool  RelayPool
	cache *cache.ContentCache
	log   *slog.Logger

	group singleflight.Group

	batchMu  sync.Mutex
	batchers map[string]*Batcher[types.ProfileInfo]
}

// New creates a fetcher backed by relays and c.
func New(cfg Config, relays RelayPool, c *cache.ContentCache) *Fetcher {
	d := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.ThreadReplyLimit <= 0 {
		cfg.ThreadReplyLimit = d.ThreadReplyLimit
	}
	if cfg.FeedLimit <= 0 {
		cfg.FeedLimit = d.FeedLimit
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = d.BatchWindow
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = d.MaxBatch
	}
	return &Fetcher{
		cfg:   cfg,
		pool:  relays,
		cache: c,
		log:   logging.Component("fetch"),

		batchers: make(map[string]*Batcher[types.ProfileInfo]),
	}
}

// buildBatchKey creates a stable key for singleflight deduplication.
// Sorts both slices to ensure identical batches produce identical keys.
func buildBatchKey(prefix string, relays, ids []string) string {
	sortedRelays := util.SortedCopy(relays)
	sortedIDs := util.SortedCopy(ids)
	return prefix + ":" + strings.Join(sortedRelays, "|") + ":" + strings.Join(sortedIDs, ",")
}

// Query sends filter to every relay and collects events until each relay
// has sent EOSE or the timeout passes. Results are deduplicated by id, in
// no particular order. Relays that fail simply contribute nothing.
func (f *Fetcher) Query(ctx context.Context, relays []string, filter types.Filter) []types.Event {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	subID := "q-" + uuid.NewString()

	var mu sync.Mutex
	var all []types.Event

	g, gctx := errgroup.WithContext(ctx)
	for _, relay := range util.UniqueStrings(relays) {
		g.Go(func() error {
			events := f.queryRelay(gctx, relay, subID, filter)
			mu.Lock()
			all = append(all, events...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		f.log.Debug("query timed out", "relays", len(relays), "events", len(all))
	}
	return dedup.ByID(all)
}

func (f *Fetcher) queryRelay(ctx context.Context, relay, subID string, filter types.Filter) []types.Event {
	sub, err := f.pool.Subscribe(ctx, relay, subID, filter)
	if err != nil {
		f.log.Debug("relay query failed", "relay", relay, "error", err)
		return nil
	}
	defer f.pool.Unsubscribe(sub)

	var out []types.Event
	collect := func(evt types.Event) {
		if filter.Matches(evt) {
			out = append(out, evt)
		}
	}
	for {
		select {
		case evt := <-sub.Events:
			collect(evt)
		case <-sub.EOSE:
			// events sent before EOSE may still be buffered
			for {
				select {
				case evt := <-sub.Events:
					collect(evt)
				default:
					return out
				}
			}
		case <-sub.Done:
			return out
		case <-ctx.Done():
			return out
		}
	}
}

// Event returns the event with id, or nil if no relay has it before the timeout.
func (f *Fetcher) Event(ctx context.Context, relays []string, id string) *types.Event {
	if id == "" {
		return nil
	}
	if evt, ok := f.cache.Events.Get(id); ok {
		return &evt
	}

	result, _, shared := f.group.Do(buildBatchKey("event", relays, []string{id}), func() (interface{}, error) {
		for _, evt := range f.Query(ctx, relays, types.Filter{IDs: []string{id}, Limit: 1}) {
			if evt.ID == id {
				f.cache.Events.Put(id, evt)
				return &evt, nil
			}
		}
		return (*types.Event)(nil), nil
	})
	if shared {
		f.log.Debug("singleflight: shared event fetch", "event", nostr.ShortID(id))
	}
	return result.(*types.Event)
}

// Profiles returns the newest profile of each pubkey that could be found.
// Cached profiles are returned without a relay query; misses from
// concurrent calls against the same relays are merged into one query.
func (f *Fetcher) Profiles(ctx context.Context, relays []string, pubkeys []string) map[string]*types.ProfileInfo {
	pubkeys = util.UniqueStrings(pubkeys)
	if len(pubkeys) == 0 {
		return nil
	}

	cached, missing := f.cache.Profiles.GetMultiple(pubkeys)
	result := make(map[string]*types.ProfileInfo, len(pubkeys))
	for pk, p := range cached {
		result[pk] = &p
	}
	if len(missing) == 0 {
		return result
	}
	f.log.Debug("profile cache", "hits", len(cached), "misses", len(missing))

	for pk, p := range f.profileBatcher(relays).GetMultiple(ctx, missing) {
		result[pk] = &p
	}
	return result
}

// profileBatcher returns the batcher for one relay set, creating it on first use.
func (f *Fetcher) profileBatcher(relays []string) *Batcher[types.ProfileInfo] {
	key := buildBatchKey("profiles", relays, nil)

	f.batchMu.Lock()
	defer f.batchMu.Unlock()
	if b, ok := f.batchers[key]; ok {
		return b
	}
	relays = util.SortedCopy(relays)
	b := NewBatcher(key, func(pubkeys []string) map[string]types.ProfileInfo {
		return f.queryProfiles(relays, pubkeys)
	}, f.cfg.BatchWindow, f.cfg.MaxBatch)
	f.batchers[key] = b
	return b
}

// queryProfiles runs one kind 0 query for pubkeys and caches what it finds.
// It is detached from any single caller's context since several callers
// wait on it.
func (f *Fetcher) queryProfiles(relays, pubkeys []string) map[string]types.ProfileInfo {
	events := f.Query(context.Background(), relays, types.Filter{Authors: pubkeys, Kinds: []int{0}, Limit: len(pubkeys)})

	newest := make(map[string]types.Event)
	for _, evt := range events {
		if cur, ok := newest[evt.PubKey]; !ok || evt.CreatedAt > cur.CreatedAt {
			newest[evt.PubKey] = evt
		}
	}

	profiles := make(map[string]types.ProfileInfo, len(newest))
	for pk, evt := range newest {
		if p, ok := nostr.ParseProfile(evt); ok {
			profiles[pk] = *p
		}
	}
	if len(profiles) > 0 {
		f.cache.Profiles.PutMultiple(profiles)
	}
	return profiles
}

// Thread returns the root event and every kind 1 reply referencing it,
// replies sorted oldest first. Nil if the root cannot be found.
func (f *Fetcher) Thread(ctx context.Context, relays []string, rootID string) *types.Thread {
	if rootID == "" {
		return nil
	}
	if th, ok := f.cache.Threads.Get(rootID); ok {
		return &th
	}

	result, _, _ := f.group.Do(buildBatchKey("thread", relays, []string{rootID}), func() (interface{}, error) {
		root := f.Event(ctx, relays, rootID)
		if root == nil {
			return (*types.Thread)(nil), nil
		}

		var replies []types.Event
		for _, evt := range f.Query(ctx, relays, types.Filter{Kinds: []int{1}, ETags: []string{rootID}, Limit: f.cfg.ThreadReplyLimit}) {
			if evt.ID != rootID {
				replies = append(replies, evt)
			}
		}
		sort.SliceStable(replies, func(i, j int) bool {
			if replies[i].CreatedAt != replies[j].CreatedAt {
				return replies[i].CreatedAt < replies[j].CreatedAt
			}
			return replies[i].ID < replies[j].ID
		})

		th := &types.Thread{Root: *root, Replies: replies}
		f.cache.Threads.Put(rootID, *th)
		return th, nil
	})
	return result.(*types.Thread)
}

// Feed returns a page of kind 1 events for q, newest first, deduplicated by
// id and by content. Pages are cached under the query's canonical key and are
// always fetched with at least FeedLimit events, so a small page never
// shadows a larger one.
func (f *Fetcher) Feed(ctx context.Context, relays []string, q types.FeedQuery) []types.Event {
	if q.Limit <= 0 {
		q.Limit = f.cfg.FeedLimit
	}
	if events, ok := f.cache.GetFeed(q); ok {
		return util.LimitSlice(events, q.Limit)
	}

	fetch := q
	fetch.Limit = max(q.Limit, f.cfg.FeedLimit)
	key := buildBatchKey(cache.FeedKey(fetch)+"|limit="+strconv.Itoa(fetch.Limit), relays, nil)
	result, _, _ := f.group.Do(key, func() (interface{}, error) {
		filter := fetch.Filter()
		if fetch.MediaOnly {
			// most notes carry no media; ask for more to fill the page
			filter.Limit = fetch.Limit * 2
		}

		events := dedup.ByContentHash(f.Query(ctx, relays, filter))
		if fetch.MediaOnly {
			media := events[:0]
			for _, evt := range events {
				if nostr.HasMedia(evt) {
					media = append(media, evt)
				}
			}
			events = media
		}

		// Sort by created_at DESC, then by ID DESC for tie-break
		sort.Slice(events, func(i, j int) bool {
			if events[i].CreatedAt != events[j].CreatedAt {
				return events[i].CreatedAt > events[j].CreatedAt
			}
			return events[i].ID > events[j].ID
		})
		events = util.LimitSlice(events, fetch.Limit)

		if len(events) > 0 {
			f.cache.PutFeed(fetch, events)
		}
		return events, nil
	})
	return util.LimitSlice(result.([]types.Event), q.Limit)
}
