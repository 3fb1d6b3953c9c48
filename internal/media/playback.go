package media

import "strings"

// DefaultPlayableTypes are the containers the webview preview plays.
var DefaultPlayableTypes = []string{
	"video/webm",
	"video/mp4",
	"audio/ogg",
	"audio/aac",
	"audio/mpeg",
	"audio/wav",
}

// PlaybackList answers CanPlay from a fixed set of base content types.
type PlaybackList struct {
	types map[string]bool
}

func NewPlaybackList(types []string) *PlaybackList {
	if len(types) == 0 {
		types = DefaultPlayableTypes
	}
	list := &PlaybackList{types: make(map[string]bool, len(types))}
	for _, contentType := range types {
		contentType = baseType(strings.TrimSpace(contentType))
		if contentType != "" {
			list.types[contentType] = true
		}
	}
	return list
}

func (p *PlaybackList) CanPlay(contentType string) bool {
	return p.types[baseType(contentType)]
}
