package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nostr-subs/internal/types"
)

func TestFeedKeyIgnoresAuthorOrder(t *testing.T) {
	since := int64(1700000000)
	a := types.FeedQuery{Authors: []string{"bob", "alice", "bob"}, Hashtag: "#Nostr", Since: &since, Limit: 20}
	b := types.FeedQuery{Authors: []string{"alice", "bob"}, Hashtag: "nostr", Since: &since, Limit: 50}

	assert.Equal(t, FeedKey(a), FeedKey(b))
}

func TestFeedKeyDistinguishesQueries(t *testing.T) {
	since := int64(1)
	base := types.FeedQuery{Authors: []string{"alice"}}

	keys := map[string]bool{
		FeedKey(base): true,
		FeedKey(types.FeedQuery{Authors: []string{"bob"}}):                    true,
		FeedKey(types.FeedQuery{Authors: []string{"alice"}, Hashtag: "go"}):   true,
		FeedKey(types.FeedQuery{Authors: []string{"alice"}, Since: &since}):   true,
		FeedKey(types.FeedQuery{Authors: []string{"alice"}, Until: &since}):   true,
		FeedKey(types.FeedQuery{Authors: []string{"alice"}, MediaOnly: true}): true,
	}
	assert.Len(t, keys, 6)
}
