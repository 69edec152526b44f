package nostr

import (
	"regexp"

	"nostr-subs/internal/types"
	"nostr-subs/internal/util"
)

var (
	urlRegex      = regexp.MustCompile(`https?://[^\s<>"]+`)
	imageExtRegex = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp)(\?.*)?$`)
	videoExtRegex = regexp.MustCompile(`(?i)\.(mp4|webm|mov|m4v)(\?.*)?$`)
)

// HasMedia reports whether an event carries an image or video, either as
// an imeta tag or as a media URL in its content.
func HasMedia(evt types.Event) bool {
	if util.HasTag(evt.Tags, "imeta") {
		return true
	}
	for _, u := range urlRegex.FindAllString(evt.Content, -1) {
		if imageExtRegex.MatchString(u) || videoExtRegex.MatchString(u) {
			return true
		}
	}
	return false
}
