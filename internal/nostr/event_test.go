package nostr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventFromInterface(t *testing.T) {
	raw := `{"id":"abc","pubkey":"pk","created_at":1700000000,"kind":1,"tags":[["e","root"],["t","go"]],"content":"hi","sig":"s"}`
	var data interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &data))

	evt, ok := ParseEventFromInterface(data)
	require.True(t, ok)
	assert.Equal(t, "abc", evt.ID)
	assert.Equal(t, int64(1700000000), evt.CreatedAt)
	assert.Equal(t, 1, evt.Kind)
	assert.Equal(t, [][]string{{"e", "root"}, {"t", "go"}}, evt.Tags)
}

func TestParseEventRejectsMissingID(t *testing.T) {
	_, ok := ParseEventFromInterface(map[string]interface{}{"content": "x"})
	assert.False(t, ok)

	_, ok = ParseEventFromInterface("not an object")
	assert.False(t, ok)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", ShortID("0123456789abcdef"))
	assert.Equal(t, "short", ShortID("short"))
}
