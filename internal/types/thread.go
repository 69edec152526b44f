package types

import "strings"

// Thread is a root event with its direct and nested kind 1 replies,
// replies sorted oldest first.
type Thread struct {
	Root    Event   `json:"root"`
	Replies []Event `json:"replies"`
}

// FeedQuery describes a feed page. Field order is irrelevant to caching:
// logically identical queries produce the same cache key.
type FeedQuery struct {
	Authors   []string
	Hashtag   string
	Since     *int64
	Until     *int64
	MediaOnly bool
	Limit     int
}

// FeedPage is a cached feed page. Limit is the page size it was fetched
// with, so a page shorter than Limit holds every matching event.
type FeedPage struct {
	Events []Event `json:"events"`
	Limit  int     `json:"limit"`
}

// Filter converts the query to a kind 1 relay filter.
func (q FeedQuery) Filter() Filter {
	f := Filter{
		Authors: q.Authors,
		Kinds:   []int{1},
		Limit:   q.Limit,
		Since:   q.Since,
		Until:   q.Until,
	}
	if tag := NormalizeHashtag(q.Hashtag); tag != "" {
		f.TTags = []string{tag}
	}
	return f
}

// NormalizeHashtag lowercases a hashtag and strips a leading '#'.
func NormalizeHashtag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}
