package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterWireEncoding(t *testing.T) {
	since := int64(100)
	f := Filter{Kinds: []int{1}, Authors: []string{"abc"}, Since: &since, TTags: []string{"nostr"}, Limit: 20}

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, []interface{}{float64(1)}, wire["kinds"])
	assert.Equal(t, []interface{}{"nostr"}, wire["#t"])
	assert.Equal(t, float64(100), wire["since"])
	assert.Equal(t, float64(20), wire["limit"])
	assert.NotContains(t, wire, "ids")
	assert.NotContains(t, wire, "until")

	var back Filter
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, f, back)
}

func TestFilterMatches(t *testing.T) {
	since := int64(50)
	evt := Event{ID: "x", PubKey: "alice", Kind: 1, CreatedAt: 60, Tags: [][]string{{"e", "root"}}}

	assert.True(t, Filter{Kinds: []int{1}}.Matches(evt))
	assert.True(t, Filter{Authors: []string{"alice"}, Since: &since}.Matches(evt))
	assert.True(t, Filter{ETags: []string{"root"}}.Matches(evt))
	assert.False(t, Filter{Kinds: []int{0}}.Matches(evt))
	assert.False(t, Filter{ETags: []string{"other"}}.Matches(evt))
	assert.False(t, Filter{IDs: []string{"y"}}.Matches(evt))
}

func TestFeedQueryFilter(t *testing.T) {
	q := FeedQuery{Authors: []string{"a"}, Hashtag: "go", Limit: 10}
	f := q.Filter()

	assert.Equal(t, []int{1}, f.Kinds)
	assert.Equal(t, []string{"go"}, f.TTags)
	assert.Equal(t, 10, f.Limit)
}

func TestNormalizeHashtag(t *testing.T) {
	assert.Equal(t, "nostr", NormalizeHashtag(" #Nostr "))
	assert.Equal(t, []string{"golang"}, FeedQuery{Hashtag: "#GoLang"}.Filter().TTags)
	assert.Nil(t, FeedQuery{}.Filter().TTags)
}
