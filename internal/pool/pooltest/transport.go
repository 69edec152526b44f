// Package pooltest provides in-memory and in-process relays for tests of
// code built on the pool.
package pooltest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"nostr-subs/internal/pool"
)

// Transport is a pool.Transport that never touches the network.
// Every Dial succeeds unless the URL was marked with Fail.
type Transport struct {
	mu    sync.Mutex
	dials map[string]int
	fail  map[string]error
	conns map[string][]*Conn
	delay time.Duration

	// OnDial, if set, receives every new connection before Dial returns.
	OnDial func(url string, c *Conn)
}

func NewTransport() *Transport {
	return &Transport{
		dials: make(map[string]int),
		fail:  make(map[string]error),
		conns: make(map[string][]*Conn),
	}
}

// Fail makes dials to url return err.
func (t *Transport) Fail(url string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail[url] = err
}

// SetDelay makes every dial wait d before completing.
func (t *Transport) SetDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay = d
}

// Dials counts dial attempts to url.
func (t *Transport) Dials(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials[url]
}

// Last returns the most recent connection dialed to url.
func (t *Transport) Last(url string) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := t.conns[url]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func (t *Transport) Dial(ctx context.Context, url string) (pool.Conn, error) {
	t.mu.Lock()
	t.dials[url]++
	err := t.fail[url]
	delay := t.delay
	onDial := t.OnDial
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := NewConn()
	t.mu.Lock()
	t.conns[url] = append(t.conns[url], c)
	t.mu.Unlock()
	if onDial != nil {
		onDial(url, c)
	}
	return c, nil
}

// ErrConnClosed is returned by a closed Conn.
var ErrConnClosed = errors.New("pooltest: connection closed")

// Conn is an in-memory pool.Conn. Frames pushed with Deliver are returned
// by ReadJSON; frames written by the pool are recorded.
type Conn struct {
	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]interface{}
	onWrite func(frame []interface{})
}

func NewConn() *Conn {
	return &Conn{
		inbox:  make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

// Deliver queues a frame for the pool to read.
func (c *Conn) Deliver(frame ...interface{}) {
	data, _ := json.Marshal(frame)
	select {
	case c.inbox <- data:
	case <-c.closed:
	}
}

// OnWrite installs a hook called with every frame the pool writes.
func (c *Conn) OnWrite(fn func(frame []interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

// Written returns the frames written so far, decoded.
func (c *Conn) Written() [][]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]interface{}(nil), c.written...)
}

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) ReadJSON(v interface{}) error {
	select {
	case data := <-c.inbox:
		return json.Unmarshal(data, v)
	case <-c.closed:
		return io.EOF
	}
}

func (c *Conn) WriteJSON(v interface{}) error {
	if c.IsClosed() {
		return ErrConnClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame []interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}

	c.mu.Lock()
	c.written = append(c.written, frame)
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return nil
}

func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
