// Package subscription is the consumer-facing entry point: it turns a set
// of relays and filters into live event delivery, keeps each subscription
// registered with the tracker, and closes it on unsubscribe, expiry or
// eviction through a single release path.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"nostr-subs/internal/logging"
	"nostr-subs/internal/metrics"
	"nostr-subs/internal/nostr"
	"nostr-subs/internal/pool"
	"nostr-subs/internal/tracker"
	"nostr-subs/internal/types"
)

// Handler receives events. Calls for one subscription are serialized.
type Handler func(types.Event)

// RelayPool is the part of *pool.Pool the manager uses.
type RelayPool interface {
	ConnectMany(ctx context.Context, relayURLs []string) []string
	Subscribe(ctx context.Context, relayURL, subID string, filter types.Filter) (*pool.Subscription, error)
	Unsubscribe(sub *pool.Subscription)
}

// EventCache stores delivered events by id. *cache.Store[types.Event] satisfies it.
type EventCache interface {
	Put(key string, value types.Event)
}

// Details is a snapshot of one subscription.
type Details struct {
	ID         string
	ConsumerID string
	Relays     []string
	Filters    []types.Filter
	Category   tracker.Category
	Priority   int
	Renewable  bool // as tracked, so indefinite subscriptions report true
	CreatedAt  time.Time
	ExpiresAt  *time.Time // nil when indefinite
	Handles    int        // open per-relay, per-filter deliveries
}

type subscription struct {
	id        string
	relays    []string
	filters   []types.Filter
	onEvent   Handler
	opts      Options
	createdAt time.Time

	// guarded by Manager.mu
	ttl       time.Duration
	expiresAt *time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handles []*pool.Subscription
	closed  bool
	opened  bool // every relay and filter has been tried
	lost    sync.Once

	deliverMu sync.Mutex
	seen      *lru.Cache[string, struct{}]
}

// addHandle records h unless the subscription was already released.
func (s *subscription) addHandle(h *pool.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.handles = append(s.handles, h)
	return true
}

// close marks the subscription closed and returns its handles.
func (s *subscription) close() []*pool.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	handles := s.handles
	s.handles = nil
	return handles
}

func (s *subscription) markOpened() {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
}

// lostAll reports whether every delivery the subscription opened has closed.
func (s *subscription) lostAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened || len(s.handles) == 0 {
		return false
	}
	for _, h := range s.handles {
		if !h.Closed() {
			return false
		}
	}
	return true
}

func (s *subscription) openHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.handles {
		if !h.Closed() {
			n++
		}
	}
	return n
}

// Manager owns subscriptions. Construct one per process and share it.
type Manager struct {
	cfg     Config
	pool    RelayPool
	tracker *tracker.Tracker
	events  EventCache
	now     tracker.Clock
	log     *slog.Logger

	// admit is held shared by Subscribe from the disposed check until its
	// delivery goroutine is counted, and exclusively by Dispose to flip
	// disposed. No subscription can register after Dispose takes its snapshot.
	admit sync.RWMutex

	mu       sync.Mutex
	subs     map[string]*subscription
	disposed bool

	wg sync.WaitGroup

	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New wires a manager to its pool and tracker. events may be nil, in which
// case CacheEvents is ignored. A nil clock uses time.Now.
func New(cfg Config, relays RelayPool, reg *tracker.Tracker, events EventCache, clock tracker.Clock) *Manager {
	if clock == nil {
		clock = time.Now
	}
	m := &Manager{
		cfg:     cfg.withDefaults(),
		pool:    relays,
		tracker: reg,
		events:  events,
		now:     clock,
		log:     logging.Component("subscriptions"),
		subs:    make(map[string]*subscription),
	}
	reg.SetRenewer(func(id string) bool {
		return m.RenewSubscription(id, 0)
	})
	return m
}

// Subscribe opens a subscription and returns its id, or "" when relays or
// filters are empty, onEvent is nil, or the manager was disposed. Relay
// connections are established in the background; each filter becomes its
// own REQ on every relay that connects.
func (m *Manager) Subscribe(relays []string, filters []types.Filter, onEvent Handler, opts Options) string {
	if len(relays) == 0 || len(filters) == 0 || onEvent == nil {
		m.log.Error("invalid subscribe request",
			"relays", len(relays), "filters", len(filters), "handler", onEvent != nil, "consumer", opts.ConsumerID)
		return ""
	}
	if opts.ConsumerID == "" {
		opts.ConsumerID = tracker.DefaultConsumer
	}

	now := m.now()
	ttl := opts.TTL
	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}
	var expiresAt *time.Time
	if ttl > 0 {
		at := now.Add(ttl)
		expiresAt = &at
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		id:        uuid.NewString(),
		relays:    append([]string(nil), relays...),
		filters:   append([]types.Filter(nil), filters...),
		onEvent:   onEvent,
		opts:      opts,
		createdAt: now,
		ttl:       ttl,
		expiresAt: expiresAt,
		ctx:       ctx,
		cancel:    cancel,
	}
	if opts.Dedupe {
		s.seen, _ = lru.New[string, struct{}](m.cfg.DedupeSize)
	}

	m.admit.RLock()
	defer m.admit.RUnlock()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		cancel()
		m.log.Error("subscribe after dispose", "consumer", opts.ConsumerID)
		return ""
	}
	m.subs[s.id] = s
	m.mu.Unlock()

	// Indefinite subscriptions are renewable as far as staleness goes.
	err := m.tracker.Register(s.id, func() { m.release(s.id) }, opts.ConsumerID, tracker.Options{
		Category:  opts.Category,
		Priority:  opts.Priority,
		Renewable: opts.Renewable || expiresAt == nil,
	})
	if err != nil {
		m.release(s.id)
		m.log.Error("subscription registration failed", "error", err)
		return ""
	}
	m.tracker.Activate(s.id)

	m.log.Debug("subscription opened",
		"sub", nostr.ShortID(s.id), "consumer", opts.ConsumerID, "relays", len(relays), "filters", len(filters))

	m.wg.Add(1)
	go m.open(s)
	return s.id
}

// open connects to the relays and starts one delivery per relay and filter.
func (m *Manager) open(s *subscription) {
	defer m.wg.Done()

	defer func() {
		s.markOpened()
		m.checkLost(s)
	}()

	connected := m.pool.ConnectMany(s.ctx, s.relays)
	if len(connected) == 0 {
		if s.ctx.Err() == nil {
			m.log.Warn("no relays reachable for subscription", "sub", nostr.ShortID(s.id), "relays", len(s.relays))
		}
		return
	}

	for _, relay := range connected {
		for i, f := range s.filters {
			if s.ctx.Err() != nil {
				return
			}
			h, err := m.pool.Subscribe(s.ctx, relay, fmt.Sprintf("%s:%d", s.id, i), f)
			if err != nil {
				m.log.Debug("relay subscribe failed", "sub", nostr.ShortID(s.id), "relay", relay, "error", err)
				continue
			}
			if !s.addHandle(h) {
				m.pool.Unsubscribe(h)
				return
			}
			m.wg.Add(1)
			go m.pump(s, h)
		}
	}
}

func (m *Manager) pump(s *subscription, h *pool.Subscription) {
	defer m.wg.Done()
	for {
		select {
		case evt := <-h.Events:
			m.deliver(s, evt)
		case <-h.Done:
			m.checkLost(s)
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// checkLost warns once when an open subscription has had deliveries and all
// of them are gone, typically after its connections were evicted or dropped.
// The subscription stays registered until it expires or is closed.
func (m *Manager) checkLost(s *subscription) {
	if s.ctx.Err() != nil || !s.lostAll() {
		return
	}
	s.lost.Do(func() {
		m.log.Warn("subscription lost every relay delivery",
			"sub", nostr.ShortID(s.id), "consumer", s.opts.ConsumerID, "relays", len(s.relays))
	})
}

// deliver hands evt to the consumer. A panicking handler is logged and the
// subscription keeps running.
func (m *Manager) deliver(s *subscription, evt types.Event) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if s.seen != nil {
		if dup, _ := s.seen.ContainsOrAdd(evt.ID, struct{}{}); dup {
			return
		}
	}
	if s.opts.CacheEvents && m.events != nil {
		m.events.Put(evt.ID, evt)
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.CallbackPanics.Inc()
			m.log.Error("event handler panicked", "sub", nostr.ShortID(s.id), "event", nostr.ShortID(evt.ID), "panic", r)
		}
	}()
	s.onEvent(evt)
}

// release is the only path that closes a subscription's deliveries. The
// tracker calls it through the cleanup closure, whatever the trigger.
func (m *Manager) release(id string) {
	m.mu.Lock()
	s := m.subs[id]
	delete(m.subs, id)
	m.mu.Unlock()

	if s == nil {
		return
	}
	for _, h := range s.close() {
		m.pool.Unsubscribe(h)
	}
	m.log.Debug("subscription closed", "sub", nostr.ShortID(id))
}

// Unsubscribe closes a subscription. Unknown or already closed ids are a
// no-op and report false.
func (m *Manager) Unsubscribe(id string) bool {
	return m.tracker.Unregister(id)
}

// RenewSubscription pushes the expiry of id forward by ttl from now. Zero
// reuses the subscription's own TTL and NoExpiry makes it indefinite.
func (m *Manager) RenewSubscription(id string, ttl time.Duration) bool {
	now := m.now()

	m.mu.Lock()
	s := m.subs[id]
	if s == nil {
		m.mu.Unlock()
		return false
	}
	if ttl == 0 {
		ttl = s.ttl
	}
	if ttl > 0 {
		at := now.Add(ttl)
		s.expiresAt = &at
	} else {
		s.expiresAt = nil
	}
	s.ttl = ttl
	m.mu.Unlock()

	m.tracker.Touch(id)
	return true
}

// CleanupForComponent closes every subscription owned by consumerID.
func (m *Manager) CleanupForComponent(consumerID string) int {
	return m.tracker.CleanupForComponent(consumerID)
}

// SweepExpired renews expired renewable subscriptions and closes the rest.
func (m *Manager) SweepExpired() (renewed, expired int) {
	now := m.now()

	m.mu.Lock()
	var renew, closeIDs []string
	for id, s := range m.subs {
		if s.expiresAt == nil || now.Before(*s.expiresAt) {
			continue
		}
		if s.opts.Renewable {
			renew = append(renew, id)
		} else {
			closeIDs = append(closeIDs, id)
		}
	}
	m.mu.Unlock()

	for _, id := range renew {
		if m.RenewSubscription(id, 0) {
			renewed++
		}
	}
	for _, id := range closeIDs {
		if m.tracker.Unregister(id) {
			metrics.SubscriptionEvictions.WithLabelValues("expired").Inc()
			expired++
		}
	}
	if renewed+expired > 0 {
		m.log.Debug("expiry sweep", "renewed", renewed, "expired", expired)
	}
	return renewed, expired
}

// HasSubscription reports whether id is open.
func (m *Manager) HasSubscription(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[id]
	return ok
}

// ActiveSubscriptionIDs lists open subscription ids, sorted.
func (m *Manager) ActiveSubscriptionIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// SubscriptionAge returns how long id has been open.
func (m *Manager) SubscriptionAge(id string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.subs[id]
	if s == nil {
		return 0, false
	}
	return m.now().Sub(s.createdAt), true
}

// SubscriptionTimeRemaining returns the time until id expires, never
// negative. The duration is nil for indefinite subscriptions.
func (m *Manager) SubscriptionTimeRemaining(id string) (*time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.subs[id]
	if s == nil {
		return nil, false
	}
	if s.expiresAt == nil {
		return nil, true
	}
	remaining := max(s.expiresAt.Sub(m.now()), 0)
	return &remaining, true
}

// SubscriptionDetails returns a snapshot of id.
func (m *Manager) SubscriptionDetails(id string) (Details, bool) {
	m.mu.Lock()
	s := m.subs[id]
	var expiresAt *time.Time
	if s != nil && s.expiresAt != nil {
		at := *s.expiresAt
		expiresAt = &at
	}
	m.mu.Unlock()
	if s == nil {
		return Details{}, false
	}

	d := Details{
		ID:         s.id,
		ConsumerID: s.opts.ConsumerID,
		Relays:     append([]string(nil), s.relays...),
		Filters:    append([]types.Filter(nil), s.filters...),
		Category:   s.opts.Category,
		Priority:   s.opts.Priority,
		Renewable:  s.opts.Renewable,
		CreatedAt:  s.createdAt,
		ExpiresAt:  expiresAt,
		Handles:    s.openHandles(),
	}
	if info, ok := m.tracker.Info(id); ok {
		d.Category = info.Category
		d.Priority = info.Priority
		d.Renewable = info.Renewable
	}
	return d, true
}

// Start launches the expiry sweep.
func (m *Manager) Start() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.sweepLoop(ctx, m.done)
}

func (m *Manager) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepExpired()
		}
	}
}

// Dispose stops the expiry sweep, closes every subscription and waits for
// delivery goroutines to exit. Later Subscribe calls fail. Idempotent.
func (m *Manager) Dispose() {
	m.lifecycle.Lock()
	if m.running {
		m.running = false
		m.cancel()
		<-m.done
	}
	m.lifecycle.Unlock()

	m.admit.Lock()
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		m.admit.Unlock()
		return
	}
	m.disposed = true
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	m.admit.Unlock()

	for _, id := range ids {
		if !m.tracker.Unregister(id) {
			m.release(id)
		}
	}
	m.wg.Wait()
	m.log.Info("subscription manager disposed", "closed", len(ids))
}
