package pool

import (
	"sync"

	"nostr-subs/internal/types"
)

// Subscription is one REQ on one relay connection.
// Done is closed exactly once: on Unsubscribe, on a CLOSED frame from the
// relay, or when the connection goes away.
type Subscription struct {
	ID     string
	Relay  string
	Events chan types.Event
	EOSE   chan bool
	Done   chan struct{}

	// Reason is set before Done closes when the relay sent CLOSED.
	Reason string

	rc        *relayConn
	closeOnce sync.Once
}

func newSubscription(id string, rc *relayConn, buffer int) *Subscription {
	return &Subscription{
		ID:     id,
		Relay:  rc.url,
		Events: make(chan types.Event, buffer),
		EOSE:   make(chan bool, 1),
		Done:   make(chan struct{}),
		rc:     rc,
	}
}

// Close safely closes the Done channel exactly once
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.Done)
	})
}

// Closed reports whether Done has been closed.
func (s *Subscription) Closed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}
