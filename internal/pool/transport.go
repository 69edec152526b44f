package pool

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a websocket connection the pool relies on.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Transport opens connections to relays.
type Transport interface {
	Dial(ctx context.Context, relayURL string) (Conn, error)
}

// WebsocketTransport dials relays with gorilla/websocket.
type WebsocketTransport struct {
	Dialer *websocket.Dialer
}

// NewWebsocketTransport returns a transport whose handshake is bounded by timeout.
func NewWebsocketTransport(timeout time.Duration) *WebsocketTransport {
	return &WebsocketTransport{
		Dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: timeout,
		},
	}
}

func (t *WebsocketTransport) Dial(ctx context.Context, relayURL string) (Conn, error) {
	conn, resp, err := t.Dialer.DialContext(ctx, relayURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
