package capture

import (
	"testing"

	"zjobly/internal/ports"
)

func TestSelectFormatSkipsUnplayable(t *testing.T) {
	t.Parallel()

	stream := newFakeStream("s", ports.TrackKindVideo)
	stream.whole = map[string]bool{"video/webm": true, "video/mp4": true}

	got := SelectFormat(DefaultVideoFormats, stream, fakePlayback{"video/mp4": true}, false, FallbackVideoFormat)
	if got != "video/mp4" {
		t.Fatalf("expected video/mp4, got %q", got)
	}
}

func TestSelectFormatFallsBack(t *testing.T) {
	t.Parallel()

	stream := newFakeStream("s", ports.TrackKindVideo)
	stream.whole = map[string]bool{}

	if got := SelectFormat(DefaultVideoFormats, stream, nil, false, FallbackVideoFormat); got != FallbackVideoFormat {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestBaseTypeAndExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		base        string
		ext         string
	}{
		{"video/webm;codecs=vp9,opus", "video/webm", ".webm"},
		{"video/mp4; codecs=\"avc1,mp4a\"", "video/mp4", ".mp4"},
		{"VIDEO/QuickTime", "video/quicktime", ".mov"},
		{"audio/ogg;codecs=opus", "audio/ogg", ".ogg"},
		{"video/mp2t", "video/mp2t", ".ts"},
		{"application/x-unknown", "application/x-unknown", ".bin"},
	}
	for _, tt := range tests {
		if got := BaseType(tt.contentType); got != tt.base {
			t.Fatalf("BaseType(%q) = %q, want %q", tt.contentType, got, tt.base)
		}
		if got := Extension(tt.contentType); got != tt.ext {
			t.Fatalf("Extension(%q) = %q, want %q", tt.contentType, got, tt.ext)
		}
	}
}
