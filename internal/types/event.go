// Package types provides shared type definitions used across internal packages.
package types

import (
	"encoding/json"
	"slices"
)

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"-"`
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	ETags   []string `json:"-"`                // #e tag filter (replies, reactions)
	PTags   []string `json:"-"`                // #p tag filter (mentions)
	TTags   []string `json:"-"`                // #t tag filter (hashtags)
	Search  string   `json:"search,omitempty"` // NIP-50
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}

// MarshalJSON encodes the filter as the object relays expect in a REQ frame.
func (f Filter) MarshalJSON() ([]byte, error) {
	req := map[string]interface{}{}
	if len(f.IDs) > 0 {
		req["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		req["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		req["kinds"] = f.Kinds
	}
	if f.Limit > 0 {
		req["limit"] = f.Limit
	}
	if f.Since != nil {
		req["since"] = *f.Since
	}
	if f.Until != nil {
		req["until"] = *f.Until
	}
	if len(f.ETags) > 0 {
		req["#e"] = f.ETags
	}
	if len(f.PTags) > 0 {
		req["#p"] = f.PTags
	}
	if len(f.TTags) > 0 {
		req["#t"] = f.TTags
	}
	if f.Search != "" {
		req["search"] = f.Search
	}
	return json.Marshal(req)
}

// UnmarshalJSON accepts the wire form, including "#x" tag keys.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw struct {
		IDs     []string `json:"ids"`
		Authors []string `json:"authors"`
		Kinds   []int    `json:"kinds"`
		Limit   int      `json:"limit"`
		Since   *int64   `json:"since"`
		Until   *int64   `json:"until"`
		ETags   []string `json:"#e"`
		PTags   []string `json:"#p"`
		TTags   []string `json:"#t"`
		Search  string   `json:"search"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Filter{
		IDs:     raw.IDs,
		Authors: raw.Authors,
		Kinds:   raw.Kinds,
		Limit:   raw.Limit,
		Since:   raw.Since,
		Until:   raw.Until,
		ETags:   raw.ETags,
		PTags:   raw.PTags,
		TTags:   raw.TTags,
		Search:  raw.Search,
	}
	return nil
}

// Matches reports whether evt satisfies every populated field of the filter.
// Limit and Search are relay-side concerns and are ignored.
func (f Filter) Matches(evt Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, evt.ID) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, evt.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, evt.Kind) {
		return false
	}
	if f.Since != nil && evt.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && evt.CreatedAt > *f.Until {
		return false
	}
	if !tagMatches(evt.Tags, "e", f.ETags) || !tagMatches(evt.Tags, "p", f.PTags) || !tagMatches(evt.Tags, "t", f.TTags) {
		return false
	}
	return true
}

func tagMatches(tags [][]string, name string, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name && slices.Contains(want, tag[1]) {
			return true
		}
	}
	return false
}
