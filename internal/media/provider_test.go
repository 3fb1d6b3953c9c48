package media

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

func TestProvidersRankedOrder(t *testing.T) {
	t.Parallel()

	providers := Providers(ProviderConfig{}, clock.NewMock(), quietLogger())
	want := []string{"ffmpeg-v4l2", "ffmpeg-avfoundation", "ffmpeg-dshow"}
	if len(providers) != len(want) {
		t.Fatalf("expected %d providers, got %d", len(want), len(providers))
	}
	for i, name := range want {
		if providers[i].Name() != name {
			t.Fatalf("provider %d: expected %s, got %s", i, name, providers[i].Name())
		}
	}
}

func TestProviderAvailability(t *testing.T) {
	t.Parallel()

	found := func(string) (string, error) { return "/usr/bin/ffmpeg", nil }
	missing := func(string) (string, error) { return "", exec.ErrNotFound }

	tests := []struct {
		name     string
		format   inputFormat
		cfg      ProviderConfig
		goos     string
		lookPath func(string) (string, error)
		want     bool
	}{
		{name: "matching platform", format: inputFormats[0], goos: "linux", lookPath: found, want: true},
		{name: "other platform", format: inputFormats[0], goos: "darwin", lookPath: found, want: false},
		{name: "missing binary", format: inputFormats[1], goos: "darwin", lookPath: missing, want: false},
		{name: "dshow needs devices", format: inputFormats[2], goos: "windows", lookPath: found, want: false},
		{name: "dshow with device", format: inputFormats[2], cfg: ProviderConfig{AudioDevice: "Microphone"}, goos: "windows", lookPath: found, want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider := newProvider(tt.format, tt.cfg, clock.NewMock(), quietLogger())
			provider.goos = tt.goos
			provider.lookPath = tt.lookPath
			if got := provider.Available(); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestProviderOpenMapsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		script string
		want   error
	}{
		{name: "permission", script: "#!/usr/bin/env bash\necho '/dev/video0: Permission denied' 1>&2\nexit 1\n", want: domain.ErrPermissionDenied},
		{name: "macos consent", script: "#!/usr/bin/env bash\necho 'Failed to create AV capture input device: Application is not authorized' 1>&2\nexit 1\n", want: domain.ErrPermissionDenied},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider := newProvider(inputFormats[0], ProviderConfig{Command: writeScript(t, "ffmpeg.sh", tt.script)}, clock.NewMock(), quietLogger())
			_, err := provider.Open(context.Background(), ports.CaptureConstraints{Video: true, Audio: true})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("device busy is a plain failure", func(t *testing.T) {
		t.Parallel()
		script := writeScript(t, "ffmpeg.sh", "#!/usr/bin/env bash\necho 'Device or resource busy' 1>&2\nexit 1\n")
		provider := newProvider(inputFormats[0], ProviderConfig{Command: script}, clock.NewMock(), quietLogger())
		_, err := provider.Open(context.Background(), ports.CaptureConstraints{Video: true})
		if err == nil || errors.Is(err, domain.ErrPermissionDenied) || !strings.Contains(err.Error(), "busy") {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		t.Parallel()
		provider := newProvider(inputFormats[0], ProviderConfig{Command: "/nonexistent/ffmpeg"}, clock.NewMock(), quietLogger())
		_, err := provider.Open(context.Background(), ports.CaptureConstraints{Video: true})
		if !errors.Is(err, domain.ErrUnsupportedEnvironment) {
			t.Fatalf("expected unsupported environment, got %v", err)
		}
	})
}

func TestProviderOpenReturnsLiveStream(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "ffmpeg.sh", "#!/usr/bin/env bash\nexit 0\n")
	provider := newProvider(inputFormats[0], ProviderConfig{Command: script, VideoDevice: "/dev/video2"}, clock.NewMock(), quietLogger())

	stream, err := provider.Open(context.Background(), ports.CaptureConstraints{Video: true, Audio: true})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	tracks := stream.Tracks()
	if len(tracks) != 2 || tracks[0].Label() != "/dev/video2" || tracks[1].Kind() != ports.TrackKindAudio {
		t.Fatalf("unexpected tracks %+v", tracks)
	}

	if !stream.CanEncode("video/webm;codecs=vp9,opus", false) {
		t.Fatalf("expected webm to be encodable")
	}
	if stream.CanEncode("video/webm", true) {
		t.Fatalf("webm cannot be timesliced")
	}
	if !stream.CanEncode("audio/ogg;codecs=opus", true) {
		t.Fatalf("expected ogg chunks to be encodable")
	}
	if stream.CanEncode("video/x-matroska", false) {
		t.Fatalf("unknown type must not be encodable")
	}

	for _, track := range tracks {
		track.Stop()
	}
	if _, err := stream.NewEncoder(ports.EncoderConfig{ContentType: "video/webm"}); !errors.Is(err, domain.ErrStreamReleased) {
		t.Fatalf("expected released stream error, got %v", err)
	}
}

func TestStreamEncodeArgs(t *testing.T) {
	t.Parallel()

	stream := newStream("ffmpeg", inputFormats[0], "/dev/video0", "default", clock.NewMock(), quietLogger())

	audio := strings.Join(stream.encodeArgs(encodings["audio/ogg"], "audio/ogg", false, true), " ")
	if !strings.Contains(audio, "-f pulse -i default") || strings.Contains(audio, "v4l2") || !strings.Contains(audio, "-vn") || !strings.HasSuffix(audio, "-f ogg") {
		t.Fatalf("unexpected audio args: %s", audio)
	}

	vp8 := strings.Join(stream.encodeArgs(encodings["video/webm"], "video/webm;codecs=vp8,opus", true, true), " ")
	if !strings.Contains(vp8, "-c:v libvpx ") || !strings.Contains(vp8, "-c:a libopus") {
		t.Fatalf("unexpected vp8 args: %s", vp8)
	}

	mac := newStream("ffmpeg", inputFormats[1], "0", "", clock.NewMock(), quietLogger())
	args := strings.Join(mac.encodeArgs(encodings["video/mp4"], "video/mp4", true, false), " ")
	if !strings.Contains(args, "-f avfoundation -i 0:none") || !strings.Contains(args, "-an") {
		t.Fatalf("unexpected avfoundation args: %s", args)
	}
}

func TestStreamNewEncoderPicksMode(t *testing.T) {
	t.Parallel()

	stream := newStream("ffmpeg", inputFormats[0], "/dev/video0", "default", clock.NewMock(), quietLogger())

	whole, err := stream.NewEncoder(ports.EncoderConfig{ContentType: "video/webm"})
	if err != nil {
		t.Fatalf("whole encoder: %v", err)
	}
	if _, ok := whole.(*segmentEncoder); !ok {
		t.Fatalf("expected segment encoder, got %T", whole)
	}

	sliced, err := stream.NewEncoder(ports.EncoderConfig{ContentType: "audio/ogg", Kinds: []ports.TrackKind{ports.TrackKindAudio}, Timeslice: 5e9})
	if err != nil {
		t.Fatalf("sliced encoder: %v", err)
	}
	if _, ok := sliced.(*slicedEncoder); !ok {
		t.Fatalf("expected sliced encoder, got %T", sliced)
	}

	if _, err := stream.NewEncoder(ports.EncoderConfig{ContentType: "video/mp4", Timeslice: 5e9}); err == nil {
		t.Fatalf("mp4 cannot be timesliced")
	}
}
