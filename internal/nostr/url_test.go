package nostr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRelayURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"wss://Relay.Damus.io/", "wss://relay.damus.io"},
		{"  wss://nos.lol  ", "wss://nos.lol"},
		{"ws://localhost:7777", "ws://localhost:7777"},
		{"wss://relay.example.com/nostr/", "wss://relay.example.com/nostr"},
		{"wss://a", "wss://a"},
		{"https://relay.damus.io", ""},
		{"relay.damus.io", ""},
		{"wss://https://relay.damus.io", ""},
		{"wss://bad%20host", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRelayURL(tt.in), "input %q", tt.in)
	}
}

func TestIsRelayURLSafe(t *testing.T) {
	assert.True(t, IsRelayURLSafe("ws://localhost:7777"))
	assert.True(t, IsRelayURLSafe("ws://127.0.0.1:7777"))
	assert.False(t, IsRelayURLSafe("https://relay.damus.io"))
	assert.False(t, IsRelayURLSafe("wss://relay.internal"))
	assert.False(t, IsRelayURLSafe("wss://10.0.0.1"))
	assert.False(t, IsRelayURLSafe("wss://169.254.169.254"))
}

func TestIsRelayIPSafe(t *testing.T) {
	assert.True(t, isRelayIPSafe(net.ParseIP("127.0.0.1")))
	assert.True(t, isRelayIPSafe(net.ParseIP("8.8.8.8")))
	assert.False(t, isRelayIPSafe(net.ParseIP("192.168.1.1")))
	assert.False(t, isRelayIPSafe(net.ParseIP("0.0.0.0")))
	assert.False(t, isRelayIPSafe(nil))
}
