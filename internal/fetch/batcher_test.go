package fetch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *batchRecorder) fn(keys []string) map[string]int {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	r.mu.Lock()
	r.batches = append(r.batches, sorted)
	r.mu.Unlock()

	out := make(map[string]int, len(keys))
	for _, k := range keys {
		if k != "missing" {
			out[k] = len(k)
		}
	}
	return out
}

func (r *batchRecorder) calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.batches...)
}

func TestBatcherMergesOverlappingRequests(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher("test", rec.fn, 100*time.Millisecond, 0)

	requests := [][]string{{"a", "bb", "ccc"}, {"a", "dddd"}, {"bb", "missing"}}
	results := make([]map[string]int, len(requests))

	var wg sync.WaitGroup
	for i, keys := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = b.GetMultiple(context.Background(), keys)
		}()
	}
	wg.Wait()

	calls := rec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"a", "bb", "ccc", "dddd", "missing"}, calls[0])

	assert.Equal(t, map[string]int{"a": 1, "bb": 2, "ccc": 3}, results[0])
	assert.Equal(t, map[string]int{"a": 1, "dddd": 4}, results[1])
	assert.Equal(t, map[string]int{"bb": 2}, results[2])
}

func TestBatcherRunsEarlyAtMaxBatch(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher("test", rec.fn, time.Hour, 2)

	start := time.Now()
	got := b.GetMultiple(context.Background(), []string{"x", "yy"})
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, map[string]int{"x": 1, "yy": 2}, got)
	assert.Len(t, rec.calls(), 1)

	keys, waiters := b.Stats()
	assert.Zero(t, keys)
	assert.Zero(t, waiters)
}

func TestBatcherSplitsLargeRequestIntoChunks(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher("test", rec.fn, time.Hour, 100)

	keys := make([]string, 250)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%03d", i)
	}
	got := b.GetMultiple(context.Background(), keys)
	assert.Len(t, got, 250)

	calls := rec.calls()
	require.Len(t, calls, 3)
	seen := 0
	for _, batch := range calls {
		assert.LessOrEqual(t, len(batch), 100)
		seen += len(batch)
	}
	assert.Equal(t, 250, seen)
}

func TestBatcherCallerContext(t *testing.T) {
	rec := &batchRecorder{}
	b := NewBatcher("test", rec.fn, 200*time.Millisecond, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Nil(t, b.GetMultiple(ctx, []string{"a"}))

	keys, waiters := b.Stats()
	assert.Equal(t, 1, keys)
	assert.Equal(t, 1, waiters)

	// the abandoned batch still runs
	assert.Eventually(t, func() bool { return len(rec.calls()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Nil(t, b.GetMultiple(context.Background(), nil))
}
