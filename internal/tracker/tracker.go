// Package tracker is the registry every live subscription is recorded in.
//
// The tracker enforces a global ceiling and a per-consumer ceiling by
// evicting existing subscriptions, watches the creation rate, and sweeps
// stale and duplicate subscriptions in the background. Each subscription
// carries a cleanup closure that the tracker invokes exactly once, whichever
// path removes it.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nostr-subs/internal/logging"
	"nostr-subs/internal/metrics"
	"nostr-subs/internal/nostr"
)

// DefaultConsumer owns subscriptions registered without a consumer id.
const DefaultConsumer = "unknown"

var (
	ErrEmptyID     = errors.New("empty subscription id")
	ErrDuplicateID = errors.New("subscription id already registered")
)

// Clock returns the current time.
type Clock func() time.Time

// State is the tracker's view of a subscription.
type State int

const (
	StateRegistered State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "registered"
}

// Options describe a subscription at registration.
type Options struct {
	Category  Category
	Priority  int // 1 (highest) to 10 (lowest); 0 means PriorityDefault
	Renewable bool
}

// Info is a snapshot of one registered subscription.
type Info struct {
	ID         string
	ConsumerID string
	Category   Category
	Priority   int
	Renewable  bool
	State      State
	CreatedAt  time.Time
	RenewedAt  time.Time
}

// Stats summarises the registry.
type Stats struct {
	Total      int
	ByCategory map[Category]int
	ByConsumer map[string]int
}

type entry struct {
	id        string
	consumer  string
	category  Category
	priority  int
	renewable bool
	state     State
	createdAt time.Time
	renewedAt time.Time
	seq       uint64
	cleanup   func()
}

func (e *entry) info() Info {
	return Info{
		ID:         e.id,
		ConsumerID: e.consumer,
		Category:   e.category,
		Priority:   e.priority,
		Renewable:  e.renewable,
		State:      e.state,
		CreatedAt:  e.createdAt,
		RenewedAt:  e.renewedAt,
	}
}

type victim struct {
	e      *entry
	reason string
}

// Tracker is safe for concurrent use.
type Tracker struct {
	cfg Config
	now Clock
	log *slog.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	creations map[string][]time.Time // consumer -> registration times inside the rate window
	seq       uint64
	renewer   func(id string) bool

	rateWarn rate.Sometimes

	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a tracker. A nil clock uses time.Now.
func New(cfg Config, clock Clock) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		cfg:       cfg.withDefaults(),
		now:       clock,
		log:       logging.Component("tracker"),
		entries:   make(map[string]*entry),
		creations: make(map[string][]time.Time),
		rateWarn:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// SetRenewer installs the callback used by the staleness sweep for
// renewable subscriptions. Returning false evicts the subscription.
func (t *Tracker) SetRenewer(fn func(id string) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renewer = fn
}

// Register records a subscription and its cleanup closure. Before admitting
// it, the global and per-consumer ceilings are enforced by eviction and the
// creation rate is checked.
func (t *Tracker) Register(id string, cleanup func(), consumerID string, opts Options) error {
	if id == "" {
		return ErrEmptyID
	}
	if consumerID == "" {
		consumerID = DefaultConsumer
	}
	if opts.Category == "" {
		opts.Category = CategoryOther
	}
	now := t.now()

	t.mu.Lock()
	if _, exists := t.entries[id]; exists {
		t.mu.Unlock()
		return ErrDuplicateID
	}

	var victims []victim
	if n := len(t.entries); n >= t.cfg.MaxSubscriptions {
		evict := max(1, n/3)
		for _, e := range pickVictims(t.allLocked(), evict) {
			t.removeLocked(e)
			victims = append(victims, victim{e, "global"})
		}
		t.log.Warn("subscription limit reached, evicting lowest priority",
			"active", n, "limit", t.cfg.MaxSubscriptions, "evicted", evict)
	}

	if owned := t.ownedLocked(consumerID); len(owned) >= t.cfg.MaxPerConsumer {
		evict := max(1, len(owned)/3)
		for _, e := range pickVictims(owned, evict) {
			t.removeLocked(e)
			victims = append(victims, victim{e, "consumer"})
		}
		t.log.Warn("consumer subscription limit reached, evicting oldest",
			"consumer", consumerID, "active", len(owned), "limit", t.cfg.MaxPerConsumer, "evicted", evict)
	}

	t.seq++
	t.entries[id] = &entry{
		id:        id,
		consumer:  consumerID,
		category:  opts.Category,
		priority:  clampPriority(opts.Priority),
		renewable: opts.Renewable,
		state:     StateRegistered,
		createdAt: now,
		renewedAt: now,
		seq:       t.seq,
		cleanup:   cleanup,
	}
	t.creations[consumerID] = append(t.creations[consumerID], now)
	total, worst, worstCount := t.rateLocked(now)
	metrics.SubscriptionsActive.Set(float64(len(t.entries)))
	t.mu.Unlock()

	t.runCleanups(victims)
	if total > t.cfg.RateLimit {
		t.warnRate(total, worst, worstCount)
	}
	return nil
}

// Activate moves a registered subscription to active.
func (t *Tracker) Activate(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[id]
	if e == nil {
		return false
	}
	e.state = StateActive
	return true
}

// Touch restarts the staleness clock of a subscription.
func (t *Tracker) Touch(id string) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[id]
	if e == nil {
		return false
	}
	e.renewedAt = now
	return true
}

// Unregister removes a subscription and runs its cleanup. Unknown ids are a
// no-op and report false.
func (t *Tracker) Unregister(id string) bool {
	return t.evict(id, "")
}

func (t *Tracker) evict(id, reason string) bool {
	t.mu.Lock()
	e := t.entries[id]
	if e != nil {
		t.removeLocked(e)
	}
	t.mu.Unlock()

	if e == nil {
		return false
	}
	t.runCleanups([]victim{{e, reason}})
	return true
}

// CleanupForComponent removes every subscription owned by consumerID and
// returns how many were removed.
func (t *Tracker) CleanupForComponent(consumerID string) int {
	if consumerID == "" {
		consumerID = DefaultConsumer
	}
	t.mu.Lock()
	owned := t.ownedLocked(consumerID)
	victims := make([]victim, 0, len(owned))
	for _, e := range owned {
		t.removeLocked(e)
		victims = append(victims, victim{e, "component"})
	}
	t.mu.Unlock()

	if len(victims) > 0 {
		t.log.Debug("cleaned up consumer subscriptions", "consumer", consumerID, "count", len(victims))
	}
	t.runCleanups(victims)
	return len(victims)
}

// Has reports whether id is registered.
func (t *Tracker) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Info returns a snapshot of one subscription.
func (t *Tracker) Info(id string) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[id]
	if e == nil {
		return Info{}, false
	}
	return e.info(), true
}

// Count returns the number of registered subscriptions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// ConsumerCount returns the number of subscriptions consumerID holds.
func (t *Tracker) ConsumerCount(consumerID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ownedLocked(consumerID))
}

// Stats returns counts by category and consumer.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{
		Total:      len(t.entries),
		ByCategory: make(map[Category]int),
		ByConsumer: make(map[string]int),
	}
	for _, e := range t.entries {
		s.ByCategory[e.category]++
		s.ByConsumer[e.consumer]++
	}
	return s
}

func (t *Tracker) allLocked() []*entry {
	all := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		all = append(all, e)
	}
	return all
}

func (t *Tracker) ownedLocked(consumerID string) []*entry {
	var owned []*entry
	for _, e := range t.entries {
		if e.consumer == consumerID {
			owned = append(owned, e)
		}
	}
	return owned
}

func (t *Tracker) removeLocked(e *entry) {
	delete(t.entries, e.id)
	metrics.SubscriptionsActive.Set(float64(len(t.entries)))
}

// runCleanups invokes cleanup closures outside the lock. A panicking
// closure is logged and does not stop the others.
func (t *Tracker) runCleanups(victims []victim) {
	for _, v := range victims {
		if v.reason != "" {
			metrics.SubscriptionEvictions.WithLabelValues(v.reason).Inc()
			t.log.Debug("evicting subscription", "sub", nostr.ShortID(v.e.id), "consumer", v.e.consumer, "reason", v.reason)
		}
		t.safeCleanup(v.e)
	}
}

func (t *Tracker) safeCleanup(e *entry) {
	if e.cleanup == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("subscription cleanup panicked", "sub", nostr.ShortID(e.id), "panic", r)
		}
	}()
	e.cleanup()
}
