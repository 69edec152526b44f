package pooltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"nostr-subs/internal/types"
)

// Relay is a minimal relay served over a real websocket. It answers REQ
// frames from its stored events, sends EOSE, then streams matching events
// passed to Publish until CLOSE.
type Relay struct {
	URL    string
	server *httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	events   []types.Event
	clients  map[*relayClient]struct{}
	requests int
}

type relayClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[string][]types.Filter
}

func (c *relayClient) send(frame ...interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

// NewRelay starts a relay holding events.
func NewRelay(events ...types.Event) *Relay {
	r := &Relay{
		events:  append([]types.Event(nil), events...),
		clients: make(map[*relayClient]struct{}),
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	r.URL = "ws" + strings.TrimPrefix(r.server.URL, "http")
	return r
}

// Requests counts REQ frames received.
func (r *Relay) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

// Publish stores evt and pushes it to every open subscription it matches.
func (r *Relay) Publish(evt types.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	clients := make([]*relayClient, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		var matched []string
		for subID, filters := range c.subs {
			if matchesAny(filters, evt) {
				matched = append(matched, subID)
			}
		}
		c.mu.Unlock()
		for _, subID := range matched {
			c.send("EVENT", subID, evt)
		}
	}
}

// Close shuts the server and drops every client.
func (r *Relay) Close() {
	r.mu.Lock()
	for c := range r.clients {
		c.conn.Close()
	}
	r.mu.Unlock()
	r.server.CloseClientConnections()
	r.server.Close()
}

func (r *Relay) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	c := &relayClient{conn: conn, subs: make(map[string][]types.Filter)}

	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.clients, c)
		r.mu.Unlock()
		conn.Close()
	}()

	for {
		var frame []json.RawMessage
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if len(frame) < 2 {
			continue
		}
		var msgType, subID string
		json.Unmarshal(frame[0], &msgType)
		json.Unmarshal(frame[1], &subID)

		switch msgType {
		case "REQ":
			filters := make([]types.Filter, 0, len(frame)-2)
			for _, raw := range frame[2:] {
				var f types.Filter
				if json.Unmarshal(raw, &f) == nil {
					filters = append(filters, f)
				}
			}
			c.mu.Lock()
			c.subs[subID] = filters
			c.mu.Unlock()

			for _, evt := range r.stored(filters) {
				c.send("EVENT", subID, evt)
			}
			c.send("EOSE", subID)

		case "CLOSE":
			c.mu.Lock()
			delete(c.subs, subID)
			c.mu.Unlock()
		}
	}
}

func (r *Relay) stored(filters []types.Filter) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++

	var out []types.Event
	for _, f := range filters {
		n := 0
		for _, evt := range r.events {
			if !f.Matches(evt) {
				continue
			}
			out = append(out, evt)
			n++
			if f.Limit > 0 && n >= f.Limit {
				break
			}
		}
	}
	return out
}

func matchesAny(filters []types.Filter, evt types.Event) bool {
	for _, f := range filters {
		if f.Matches(evt) {
			return true
		}
	}
	return false
}
