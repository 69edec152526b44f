// Package dedup collapses events that arrive more than once, usually from
// several relays answering the same query. Every function is pure: inputs are
// never modified and equal inputs give equal outputs.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"nostr-subs/internal/types"
)

// ByID keeps the first occurrence of each event id, in first-seen order.
func ByID(events []types.Event) []types.Event {
	if events == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(events))
	out := make([]types.Event, 0, len(events))
	for _, evt := range events {
		if _, ok := seen[evt.ID]; ok {
			continue
		}
		seen[evt.ID] = struct{}{}
		out = append(out, evt)
	}
	return out
}

// ContentHash identifies an event by author and trimmed content.
func ContentHash(evt types.Event) string {
	h := sha256.New()
	h.Write([]byte(evt.PubKey))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(evt.Content)))
	return hex.EncodeToString(h.Sum(nil))
}

// ByContentHash collapses events with the same author and trimmed content,
// keeping the one with the greatest created_at. The survivor takes the slot
// where its group was first seen; ties keep the earlier event.
func ByContentHash(events []types.Event) []types.Event {
	if events == nil {
		return nil
	}
	index := make(map[string]int, len(events))
	out := make([]types.Event, 0, len(events))
	for _, evt := range events {
		key := ContentHash(evt)
		if i, ok := index[key]; ok {
			if evt.CreatedAt > out[i].CreatedAt {
				out[i] = evt
			}
			continue
		}
		index[key] = len(out)
		out = append(out, evt)
	}
	return out
}

// Merge appends incoming to existing and drops repeated ids, as when a
// second page of results arrives.
func Merge(existing, incoming []types.Event) []types.Event {
	all := make([]types.Event, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	return ByID(all)
}
