package tracker

import (
	"context"
	"time"
)

// Start launches the staleness sweep and the creation-rate check.
func (t *Tracker) Start() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if t.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true

	go t.loop(ctx, t.done)
}

// Stop halts the background loop and waits for it to exit. Registered
// subscriptions are left in place.
func (t *Tracker) Stop() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.cancel()
	<-t.done
}

func (t *Tracker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	sweep := time.NewTicker(t.cfg.SweepInterval)
	defer sweep.Stop()
	rateCheck := time.NewTicker(t.cfg.RateCheckInterval)
	defer rateCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			renewed, evicted := t.Sweep()
			if renewed+evicted > 0 {
				t.log.Debug("staleness sweep", "renewed", renewed, "evicted", evicted)
			}
			if t.cfg.SweepDuplicates {
				t.CleanupDuplicates()
			}
		case <-rateCheck.C:
			t.CheckRate()
		}
	}
}

// Sweep handles subscriptions older than their category's staleness
// threshold: renewable ones are renewed, the rest evicted.
func (t *Tracker) Sweep() (renewed, evicted int) {
	now := t.now()

	t.mu.Lock()
	var victims []victim
	var renewable []string
	for _, e := range t.entries {
		if now.Sub(e.renewedAt) < t.cfg.staleAfter(e.category) {
			continue
		}
		if e.renewable {
			renewable = append(renewable, e.id)
			continue
		}
		t.removeLocked(e)
		victims = append(victims, victim{e, "stale"})
	}
	renewer := t.renewer
	t.mu.Unlock()

	t.runCleanups(victims)
	evicted = len(victims)

	for _, id := range renewable {
		if renewer == nil || renewer(id) {
			if t.Touch(id) {
				renewed++
			}
			continue
		}
		if t.evict(id, "stale") {
			evicted++
		}
	}
	return renewed, evicted
}

// CleanupDuplicates groups subscriptions by consumer and creation time
// bucket (DuplicateWindow). In each group with more than one member only the
// newest survives. Returns the number evicted.
func (t *Tracker) CleanupDuplicates() int {
	window := t.cfg.DuplicateWindow

	t.mu.Lock()
	type bucket struct {
		consumer string
		at       int64
	}
	groups := make(map[bucket][]*entry)
	for _, e := range t.entries {
		k := bucket{e.consumer, e.createdAt.Truncate(window).UnixNano()}
		groups[k] = append(groups[k], e)
	}

	var victims []victim
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		newest := group[0]
		for _, e := range group[1:] {
			if e.createdAt.After(newest.createdAt) || (e.createdAt.Equal(newest.createdAt) && e.seq > newest.seq) {
				newest = e
			}
		}
		for _, e := range group {
			if e == newest {
				continue
			}
			t.removeLocked(e)
			victims = append(victims, victim{e, "duplicate"})
		}
	}
	t.mu.Unlock()

	if len(victims) > 0 {
		t.log.Warn("evicted duplicate subscriptions", "count", len(victims))
	}
	t.runCleanups(victims)
	return len(victims)
}

// CheckRate returns the number of registrations inside the rate window and
// warns when it exceeds the limit.
func (t *Tracker) CheckRate() int {
	t.mu.Lock()
	total, worst, worstCount := t.rateLocked(t.now())
	t.mu.Unlock()

	if total > t.cfg.RateLimit {
		t.warnRate(total, worst, worstCount)
	}
	return total
}

// rateLocked drops registrations older than the window and returns the
// process-wide count plus the consumer with the most.
func (t *Tracker) rateLocked(now time.Time) (total int, worst string, worstCount int) {
	cutoff := now.Add(-t.cfg.RateWindow)
	for consumer, times := range t.creations {
		i := 0
		for i < len(times) && !times[i].After(cutoff) {
			i++
		}
		times = times[i:]
		if len(times) == 0 {
			delete(t.creations, consumer)
			continue
		}
		t.creations[consumer] = times
		total += len(times)
		if len(times) > worstCount || (len(times) == worstCount && consumer < worst) {
			worst, worstCount = consumer, len(times)
		}
	}
	return total, worst, worstCount
}

func (t *Tracker) warnRate(total int, worst string, worstCount int) {
	t.rateWarn.Do(func() {
		t.log.Warn("subscription creation rate high",
			"created", total,
			"window", t.cfg.RateWindow.String(),
			"limit", t.cfg.RateLimit,
			"worst_consumer", worst,
			"worst_count", worstCount)
	})
}
