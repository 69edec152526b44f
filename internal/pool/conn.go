package pool

import (
	"log/slog"
	"sync"
	"time"

	"nostr-subs/internal/metrics"
	"nostr-subs/internal/nostr"
)

// relayConn manages a single connection carrying many subscriptions.
type relayConn struct {
	conn    Conn
	url     string
	log     *slog.Logger
	onClose func(*relayConn)

	writeTimeout time.Duration

	mu           sync.Mutex
	writeMu      sync.Mutex
	subs         map[string]*Subscription
	closed       bool
	lastActivity time.Time
}

func newRelayConn(url string, conn Conn, log *slog.Logger, writeTimeout time.Duration, onClose func(*relayConn)) *relayConn {
	return &relayConn{
		conn:         conn,
		url:          url,
		log:          log.With("relay", url),
		onClose:      onClose,
		writeTimeout: writeTimeout,
		subs:         make(map[string]*Subscription),
		lastActivity: time.Now(),
	}
}

// write sends a frame with a deadline.
func (rc *relayConn) write(v interface{}) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()

	rc.conn.SetWriteDeadline(time.Now().Add(rc.writeTimeout))
	defer rc.conn.SetWriteDeadline(time.Time{})

	return rc.conn.WriteJSON(v)
}

func (rc *relayConn) isClosed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

func (rc *relayConn) idle() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.subs) == 0
}

func (rc *relayConn) subscriptionCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.subs)
}

func (rc *relayConn) lookup(subID string) *Subscription {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.subs[subID]
}

// readLoop continuously reads from the connection and routes messages
func (rc *relayConn) readLoop() {
	defer func() {
		rc.markClosed()
		if rc.onClose != nil {
			rc.onClose(rc)
		}
	}()

	for {
		var msg []interface{}
		if err := rc.conn.ReadJSON(&msg); err != nil {
			if !rc.isClosed() {
				rc.log.Debug("relay read error", "error", err)
			}
			return
		}

		rc.mu.Lock()
		rc.lastActivity = time.Now()
		rc.mu.Unlock()

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}
		subID, _ := msg[1].(string)

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			evt, ok := nostr.ParseEventFromInterface(msg[2])
			if !ok {
				continue
			}
			evt.RelaysSeen = []string{rc.url}

			sub := rc.lookup(subID)
			if sub == nil {
				continue
			}
			select {
			case sub.Events <- evt:
			case <-sub.Done:
			default:
				metrics.EventsDropped.Inc()
			}

		case "EOSE":
			if sub := rc.lookup(subID); sub != nil {
				select {
				case sub.EOSE <- true:
				default:
				}
			}

		case "CLOSED":
			rc.mu.Lock()
			sub := rc.subs[subID]
			delete(rc.subs, subID)
			rc.mu.Unlock()
			if sub != nil {
				if len(msg) >= 3 {
					sub.Reason, _ = msg[2].(string)
				}
				rc.log.Debug("subscription closed by relay", "sub", subID, "reason", sub.Reason)
				sub.Close()
			}

		case "NOTICE":
			rc.log.Warn("relay notice", "notice", subID)
		}
	}
}

// markClosed marks the connection as closed and cleans up
func (rc *relayConn) markClosed() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}

	rc.closed = true
	rc.conn.Close()

	for _, sub := range rc.subs {
		sub.Close()
	}
	rc.subs = make(map[string]*Subscription)
}
