// Package pool keeps a bounded set of relay connections and multiplexes
// per-filter subscriptions over them.
//
// Connections are opened lazily and shared. When the pool is full a new
// connection evicts the least recently used one, preferring connections that
// carry no subscriptions. A background prune keeps at most MaxIdle idle
// connections open.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"nostr-subs/internal/logging"
	"nostr-subs/internal/metrics"
	"nostr-subs/internal/nostr"
	"nostr-subs/internal/types"
)

var (
	ErrInvalidURL   = errors.New("invalid relay URL")
	ErrUnsafeURL    = errors.New("relay URL blocked: unsafe destination")
	ErrPoolClosed   = errors.New("relay pool closed")
	ErrNotConnected = errors.New("relay not connected")
)

// Pool manages connections to multiple relays
type Pool struct {
	cfg       Config
	transport Transport
	log       *slog.Logger

	mu        sync.Mutex
	conns     map[string]*relayConn
	endpoints map[string]*endpointRecord
	recent    *simplelru.LRU[string, struct{}] // live connections, oldest first
	closed    bool

	dials singleflight.Group

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a pool and starts its prune loop. A nil transport dials
// real websockets.
func New(cfg Config, transport Transport) *Pool {
	cfg = cfg.withDefaults()
	if transport == nil {
		transport = NewWebsocketTransport(cfg.ConnectTimeout)
	}

	// Capacity leaves headroom so Add never evicts on its own; eviction is
	// done explicitly in makeRoomLocked.
	recent, _ := simplelru.NewLRU[string, struct{}](cfg.MaxConnections+1, nil)

	p := &Pool{
		cfg:       cfg,
		transport: transport,
		log:       logging.Component("pool"),
		conns:     make(map[string]*relayConn),
		endpoints: make(map[string]*endpointRecord),
		recent:    recent,
		stopCh:    make(chan struct{}),
	}
	if cfg.PruneInterval > 0 {
		p.wg.Add(1)
		go p.pruneLoop()
	}
	return p
}

// Connect ensures a live connection to relayURL. It returns true at once if
// one exists. Failures are recorded on the endpoint and never returned.
func (p *Pool) Connect(ctx context.Context, relayURL string) bool {
	_, err := p.getOrCreateConn(ctx, relayURL)
	return err == nil
}

// ConnectMany connects to every relay concurrently and returns the ones that
// succeeded, normalized, in input order. Partial failure is normal.
func (p *Pool) ConnectMany(ctx context.Context, relayURLs []string) []string {
	ok := make([]bool, len(relayURLs))

	var g errgroup.Group
	for i, u := range relayURLs {
		g.Go(func() error {
			ok[i] = p.Connect(ctx, u)
			return nil
		})
	}
	g.Wait()

	seen := make(map[string]bool, len(relayURLs))
	var connected []string
	for i, u := range relayURLs {
		n := nostr.NormalizeRelayURL(u)
		if !ok[i] || seen[n] {
			continue
		}
		seen[n] = true
		connected = append(connected, n)
	}
	return connected
}

// getOrCreateConn gets an existing connection or creates a new one.
// Concurrent callers for the same relay share one dial.
func (p *Pool) getOrCreateConn(ctx context.Context, relayURL string) (*relayConn, error) {
	url := nostr.NormalizeRelayURL(relayURL)
	if url == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, relayURL)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if rc := p.liveLocked(url); rc != nil {
		p.mu.Unlock()
		return rc, nil
	}
	p.mu.Unlock()

	ch := p.dials.DoChan(url, func() (interface{}, error) {
		return p.dial(url)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*relayConn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// liveLocked returns the open connection for url and marks it recently used.
func (p *Pool) liveLocked(url string) *relayConn {
	rc := p.conns[url]
	if rc == nil || rc.isClosed() {
		return nil
	}
	p.recent.Get(url)
	return rc
}

func (p *Pool) endpointLocked(url string) *endpointRecord {
	rec := p.endpoints[url]
	if rec == nil {
		rec = &endpointRecord{}
		p.endpoints[url] = rec
	}
	return rec
}

// dial performs the single network attempt for url. The dial has its own
// timeout so that one caller giving up does not fail the others.
func (p *Pool) dial(url string) (*relayConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if rc := p.liveLocked(url); rc != nil {
		p.mu.Unlock()
		return rc, nil
	}
	rec := p.endpointLocked(url)
	rec.status = StatusConnecting
	rec.lastAttempt = time.Now()
	p.mu.Unlock()

	if !p.cfg.URLCheck(url) {
		p.recordFailure(rec)
		return nil, fmt.Errorf("%w: %s", ErrUnsafeURL, url)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
	defer cancel()

	p.log.Debug("creating new connection", "relay", url)
	conn, err := p.transport.Dial(ctx, url)
	if err != nil {
		metrics.ConnectAttempts.WithLabelValues("error").Inc()
		p.recordFailure(rec)
		p.log.Debug("connection failed", "relay", url, "error", err)
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	metrics.ConnectAttempts.WithLabelValues("ok").Inc()

	rc := newRelayConn(url, conn, p.log, p.cfg.WriteTimeout, p.handleClosed)

	p.mu.Lock()
	if p.closed {
		rec.status = StatusDisconnected
		p.mu.Unlock()
		conn.Close()
		return nil, ErrPoolClosed
	}
	stale := p.removeLocked(url)
	victims := p.makeRoomLocked()
	p.conns[url] = rc
	p.recent.Add(url, struct{}{})
	rec.status = StatusConnected
	metrics.ConnectionsActive.Set(float64(len(p.conns)))
	p.mu.Unlock()

	if stale != nil {
		stale.markClosed()
	}
	for _, v := range victims {
		p.log.Debug("evicting connection", "relay", v.url, "subscriptions", v.subscriptionCount())
		metrics.ConnectionEvictions.WithLabelValues("lru").Inc()
		v.markClosed()
	}

	go rc.readLoop()
	return rc, nil
}

func (p *Pool) recordFailure(rec *endpointRecord) {
	p.mu.Lock()
	rec.failures++
	rec.status = StatusDisconnected
	p.mu.Unlock()
}

// makeRoomLocked removes connections until one more fits under
// MaxConnections. The least recently used idle connection goes first,
// then the least recently used overall. Callers close the returned
// connections after releasing the lock.
func (p *Pool) makeRoomLocked() []*relayConn {
	var victims []*relayConn
	for len(p.conns) >= p.cfg.MaxConnections {
		keys := p.recent.Keys()
		if len(keys) == 0 {
			break
		}
		victim := keys[0]
		for _, k := range keys {
			if rc := p.conns[k]; rc != nil && rc.idle() {
				victim = k
				break
			}
		}
		if rc := p.removeLocked(victim); rc != nil {
			victims = append(victims, rc)
		}
	}
	return victims
}

// removeLocked drops url from the live set and returns its connection.
func (p *Pool) removeLocked(url string) *relayConn {
	rc := p.conns[url]
	delete(p.conns, url)
	p.recent.Remove(url)
	if rec := p.endpoints[url]; rec != nil {
		rec.status = StatusDisconnected
	}
	metrics.ConnectionsActive.Set(float64(len(p.conns)))
	return rc
}

// handleClosed runs when a connection's read loop ends.
func (p *Pool) handleClosed(rc *relayConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[rc.url] == rc {
		p.removeLocked(rc.url)
	}
}

// Subscribe sends a REQ for filter on relayURL, connecting if needed.
// A subID already open on that connection is replaced.
func (p *Pool) Subscribe(ctx context.Context, relayURL, subID string, filter types.Filter) (*Subscription, error) {
	const maxRetries = 3

	var rc *relayConn
	var sub *Subscription
	for attempt := 0; attempt < maxRetries && sub == nil; attempt++ {
		var err error
		rc, err = p.getOrCreateConn(ctx, relayURL)
		if err != nil {
			return nil, err
		}

		rc.mu.Lock()
		if rc.closed {
			// Lost the connection between lookup and registration; retry.
			rc.mu.Unlock()
			continue
		}
		if prev := rc.subs[subID]; prev != nil {
			prev.Close()
		}
		sub = newSubscription(subID, rc, p.cfg.EventBuffer)
		rc.subs[subID] = sub
		rc.lastActivity = time.Now()
		rc.mu.Unlock()
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, relayURL)
	}

	if err := rc.write([]interface{}{"REQ", subID, filter}); err != nil {
		rc.mu.Lock()
		if rc.subs[subID] == sub {
			delete(rc.subs, subID)
		}
		rc.mu.Unlock()
		sub.Close()
		rc.markClosed()
		return nil, fmt.Errorf("send REQ to %s: %w", rc.url, err)
	}
	return sub, nil
}

// Unsubscribe sends CLOSE for sub and closes its Done channel.
// Safe to call more than once and after the connection is gone.
func (p *Pool) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	rc := sub.rc

	rc.mu.Lock()
	shouldSendClose := !rc.closed && rc.subs[sub.ID] == sub
	if shouldSendClose {
		delete(rc.subs, sub.ID)
	}
	rc.mu.Unlock()

	// best effort, connection may be closing
	if shouldSendClose {
		rc.write([]interface{}{"CLOSE", sub.ID})
	}

	sub.Close()
}

// Disconnect closes the connection to relayURL, if any.
func (p *Pool) Disconnect(relayURL string) {
	url := nostr.NormalizeRelayURL(relayURL)

	p.mu.Lock()
	rc := p.removeLocked(url)
	p.mu.Unlock()

	if rc != nil {
		rc.markClosed()
	}
}

// DisconnectAll closes every connection. The pool stays usable.
func (p *Pool) DisconnectAll() {
	p.mu.Lock()
	var all []*relayConn
	for url := range p.conns {
		all = append(all, p.removeLocked(url))
	}
	p.mu.Unlock()

	for _, rc := range all {
		rc.markClosed()
	}
}

// Metrics reports endpoint, live and maximum connection counts.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Metrics{
		Total:  len(p.endpoints),
		Active: len(p.conns),
		Max:    p.cfg.MaxConnections,
	}
}

// ConnectedEndpoints lists live relay URLs, sorted.
func (p *Pool) ConnectedEndpoints() []string {
	p.mu.Lock()
	urls := make([]string, 0, len(p.conns))
	for url := range p.conns {
		urls = append(urls, url)
	}
	p.mu.Unlock()
	sort.Strings(urls)
	return urls
}

// Endpoint returns the pool's record for relayURL.
func (p *Pool) Endpoint(relayURL string) (Endpoint, bool) {
	url := nostr.NormalizeRelayURL(relayURL)

	p.mu.Lock()
	defer p.mu.Unlock()
	rec := p.endpoints[url]
	if rec == nil {
		return Endpoint{}, false
	}
	return Endpoint{
		URL:         url,
		Status:      rec.status,
		Failures:    rec.failures,
		LastAttempt: rec.lastAttempt,
	}, true
}

func (p *Pool) pruneLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Prune()
		}
	}
}

// Prune closes idle connections beyond the MaxIdle most recently used.
// It returns the number closed.
func (p *Pool) Prune() int {
	p.mu.Lock()
	var idle []string
	for _, url := range p.recent.Keys() {
		if rc := p.conns[url]; rc != nil && rc.idle() {
			idle = append(idle, url)
		}
	}

	var victims []*relayConn
	if excess := len(idle) - p.cfg.MaxIdle; excess > 0 {
		for _, url := range idle[:excess] {
			victims = append(victims, p.removeLocked(url))
		}
	}
	p.mu.Unlock()

	for _, rc := range victims {
		p.log.Debug("closing idle connection", "relay", rc.url)
		metrics.ConnectionEvictions.WithLabelValues("idle").Inc()
		rc.markClosed()
	}
	return len(victims)
}

// Close stops the prune loop and closes every connection. Idempotent.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.stopCh)
		p.DisconnectAll()
		p.wg.Wait()
	})
}
