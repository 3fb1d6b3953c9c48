package capture

import (
	"mime"
	"strings"

	"zjobly/internal/ports"
)

// Ordered preference lists; the first entry the stream can encode and the
// preview surface can play is used.
var (
	DefaultVideoFormats = []string{
		"video/webm;codecs=vp9,opus",
		"video/webm;codecs=vp8,opus",
		"video/webm",
		"video/mp4;codecs=avc1,mp4a",
		"video/mp4",
		"video/mp2t",
	}
	DefaultAudioFormats = []string{
		"audio/webm;codecs=opus",
		"audio/ogg;codecs=opus",
		"audio/ogg",
		"audio/aac",
	}
)

const (
	FallbackVideoFormat = "video/webm"
	FallbackAudioFormat = "audio/webm"
)

// SelectFormat skips formats the surface cannot play back so a take is
// always reviewable.
func SelectFormat(preferences []string, stream ports.MediaStream, playback ports.PlaybackSupport, timesliced bool, fallback string) string {
	for _, candidate := range preferences {
		if !stream.CanEncode(candidate, timesliced) {
			continue
		}
		if playback != nil && !playback.CanPlay(candidate) {
			continue
		}
		return candidate
	}
	return fallback
}

// BaseType strips codec parameters from a content type.
func BaseType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if idx := strings.Index(contentType, ";"); idx >= 0 {
			return strings.ToLower(strings.TrimSpace(contentType[:idx]))
		}
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// Extension picks a file extension for uploads of the given content type.
func Extension(contentType string) string {
	switch BaseType(contentType) {
	case "video/webm", "audio/webm":
		return ".webm"
	case "video/mp4", "audio/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/mp2t":
		return ".ts"
	case "audio/ogg":
		return ".ogg"
	case "audio/aac":
		return ".aac"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".bin"
	}
}
