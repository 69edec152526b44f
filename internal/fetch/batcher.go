package fetch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nostr-subs/internal/logging"
)

// Batcher collects keys requested within a time window and resolves them
// with one call. Overlapping requests such as [a,b,c], [a,d] and [b,e]
// become a single lookup of [a,b,c,d,e].
type Batcher[V any] struct {
	name     string
	batchFn  func(keys []string) map[string]V
	window   time.Duration
	maxBatch int
	log      *slog.Logger

	mu       sync.Mutex
	pending  map[string][]*batchWaiter[V]
	timer    *time.Timer
	timerSet bool
}

type batchWaiter[V any] struct {
	keys   []string
	result chan map[string]V
}

// NewBatcher creates a batcher. A batch runs early once maxBatch keys are
// pending and batchFn never sees more than maxBatch keys at once. maxBatch 0
// means no limit.
func NewBatcher[V any](name string, batchFn func(keys []string) map[string]V, window time.Duration, maxBatch int) *Batcher[V] {
	return &Batcher[V]{
		name:     name,
		batchFn:  batchFn,
		window:   window,
		maxBatch: maxBatch,
		log:      logging.Component("batcher"),
		pending:  make(map[string][]*batchWaiter[V]),
	}
}

// GetMultiple waits for the batch containing keys and returns the values
// found for them. If ctx ends first the batch still runs for other callers
// and GetMultiple returns nil.
func (b *Batcher[V]) GetMultiple(ctx context.Context, keys []string) map[string]V {
	if len(keys) == 0 {
		return nil
	}
	waiter := &batchWaiter[V]{
		keys:   keys,
		result: make(chan map[string]V, 1),
	}

	b.mu.Lock()
	for _, key := range keys {
		b.pending[key] = append(b.pending[key], waiter)
	}
	if !b.timerSet {
		b.timerSet = true
		b.timer = time.AfterFunc(b.window, b.executeBatch)
	}
	if b.maxBatch > 0 && len(b.pending) >= b.maxBatch {
		b.timer.Stop()
		b.mu.Unlock()
		go b.executeBatch()
	} else {
		b.mu.Unlock()
	}

	select {
	case result := <-waiter.result:
		return result
	case <-ctx.Done():
		return nil
	}
}

func (b *Batcher[V]) executeBatch() {
	b.mu.Lock()
	keys := make([]string, 0, len(b.pending))
	waiters := make(map[*batchWaiter[V]]struct{})
	for key, ws := range b.pending {
		keys = append(keys, key)
		for _, w := range ws {
			waiters[w] = struct{}{}
		}
	}
	b.pending = make(map[string][]*batchWaiter[V])
	b.timerSet = false
	b.mu.Unlock()

	// a stopped timer may still fire after a size-triggered run
	if len(keys) == 0 {
		return
	}

	b.log.Debug("executing batch", "name", b.name, "keys", len(keys), "waiters", len(waiters))
	results := b.run(keys)

	for w := range waiters {
		out := make(map[string]V, len(w.keys))
		for _, key := range w.keys {
			if val, ok := results[key]; ok {
				out[key] = val
			}
		}
		w.result <- out
	}
}

// run calls batchFn in chunks of at most maxBatch keys, concurrently, and
// merges the results.
func (b *Batcher[V]) run(keys []string) map[string]V {
	if b.maxBatch <= 0 || len(keys) <= b.maxBatch {
		return b.batchFn(keys)
	}
	sort.Strings(keys)

	var mu sync.Mutex
	results := make(map[string]V, len(keys))
	var g errgroup.Group
	for start := 0; start < len(keys); start += b.maxBatch {
		chunk := keys[start:min(start+b.maxBatch, len(keys))]
		g.Go(func() error {
			found := b.batchFn(chunk)
			mu.Lock()
			for k, v := range found {
				results[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// Stats returns the number of keys and callers waiting for the next batch.
func (b *Batcher[V]) Stats() (pendingKeys int, pendingWaiters int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	waiters := make(map[*batchWaiter[V]]struct{})
	for _, ws := range b.pending {
		for _, w := range ws {
			waiters[w] = struct{}{}
		}
	}
	return len(b.pending), len(waiters)
}
