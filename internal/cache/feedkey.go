package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"nostr-subs/internal/types"
	"nostr-subs/internal/util"
)

// FeedKey derives the feed store key from a query. Authors are deduplicated
// and sorted and the hashtag is case-folded, so argument order never changes
// the key. Limit is not part of the key.
func FeedKey(q types.FeedQuery) string {
	authors := util.SortedCopy(util.UniqueStrings(q.Authors))

	var b strings.Builder
	b.WriteString("authors=")
	b.WriteString(strings.Join(authors, ","))
	b.WriteString("|tag=")
	b.WriteString(types.NormalizeHashtag(q.Hashtag))
	b.WriteString("|since=")
	if q.Since != nil {
		b.WriteString(strconv.FormatInt(*q.Since, 10))
	}
	b.WriteString("|until=")
	if q.Until != nil {
		b.WriteString(strconv.FormatInt(*q.Until, 10))
	}
	b.WriteString("|media=")
	b.WriteString(strconv.FormatBool(q.MediaOnly))

	sum := sha256.Sum256([]byte(b.String()))
	return "feed:" + hex.EncodeToString(sum[:16])
}
