package pool

import "time"

// Status is the connection state of a relay endpoint.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Endpoint is a snapshot of what the pool knows about one relay.
type Endpoint struct {
	URL         string
	Status      Status
	Failures    int
	LastAttempt time.Time
}

type endpointRecord struct {
	status      Status
	failures    int
	lastAttempt time.Time
}

// Metrics summarises pool occupancy.
type Metrics struct {
	Total  int // endpoints ever referenced
	Active int // live connections
	Max    int
}
