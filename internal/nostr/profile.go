package nostr

import (
	"encoding/json"

	"nostr-subs/internal/types"
)

// ParseProfile decodes the metadata JSON of a kind 0 event.
func ParseProfile(evt types.Event) (*types.ProfileInfo, bool) {
	if evt.Kind != 0 {
		return nil, false
	}
	var profile types.ProfileInfo
	if err := json.Unmarshal([]byte(evt.Content), &profile); err != nil {
		return nil, false
	}
	profile.PubKey = evt.PubKey
	profile.UpdatedAt = evt.CreatedAt
	return &profile, true
}
