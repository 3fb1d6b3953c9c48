package media

import (
	"fmt"
	"mime"
	"strings"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

// encoding maps a content type to ffmpeg output options.
type encoding struct {
	format    string
	ext       string
	video     []string
	audio     []string
	extra     []string
	audioOnly bool
	// streamable containers can be cut into timesliced fragments written to a pipe.
	streamable bool
	// concatenable containers play back correctly when segments are joined byte for byte.
	concatenable bool
}

var (
	h264Args = []string{"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p"}
	opusArgs = []string{"-c:a", "libopus", "-b:a", "96k"}
	aacArgs  = []string{"-c:a", "aac", "-b:a", "128k"}
)

var encodings = map[string]encoding{
	"video/webm": {format: "webm", ext: ".webm", video: []string{"-c:v", "libvpx-vp9", "-deadline", "realtime", "-b:v", "1M"}, audio: opusArgs},
	"video/mp4":  {format: "mp4", ext: ".mp4", video: h264Args, audio: aacArgs, extra: []string{"-movflags", "+faststart"}},
	"video/mp2t": {format: "mpegts", ext: ".ts", video: h264Args, audio: aacArgs, concatenable: true},
	"audio/webm": {format: "webm", ext: ".webm", audio: opusArgs, audioOnly: true},
	"audio/ogg":  {format: "ogg", ext: ".ogg", audio: opusArgs, audioOnly: true, streamable: true, concatenable: true},
	"audio/aac":  {format: "adts", ext: ".aac", audio: aacArgs, audioOnly: true, streamable: true, concatenable: true},
}

// Stream is a set of opened capture devices. Each encoder runs its own ffmpeg
// process against the devices it needs.
type Stream struct {
	id      string
	command string
	format  inputFormat
	video   string
	audio   string
	tracks  []*track
	clock   clock.Clock
	log     logrus.FieldLogger
}

func newStream(command string, format inputFormat, video string, audio string, clk clock.Clock, log logrus.FieldLogger) *Stream {
	stream := &Stream{
		id:      uuid.NewString(),
		command: command,
		format:  format,
		video:   video,
		audio:   audio,
		clock:   clk,
		log:     log,
	}
	if video != "" {
		stream.tracks = append(stream.tracks, newTrack(ports.TrackKindVideo, video))
	}
	if audio != "" {
		stream.tracks = append(stream.tracks, newTrack(ports.TrackKindAudio, audio))
	}
	return stream
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []ports.Track {
	tracks := make([]ports.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	return tracks
}

func (s *Stream) CanEncode(contentType string, timesliced bool) bool {
	enc, ok := encodings[baseType(contentType)]
	if !ok {
		return false
	}
	if timesliced && !enc.streamable {
		return false
	}
	if !s.hasLive(ports.TrackKindAudio) && enc.audioOnly {
		return false
	}
	if !enc.audioOnly && !s.hasLive(ports.TrackKindVideo) {
		return false
	}
	return true
}

func (s *Stream) NewEncoder(cfg ports.EncoderConfig) (ports.Encoder, error) {
	if s.released() {
		return nil, domain.ErrStreamReleased
	}
	enc, ok := encodings[baseType(cfg.ContentType)]
	if !ok {
		return nil, fmt.Errorf("unsupported encoder content type %q", cfg.ContentType)
	}

	video := s.hasLive(ports.TrackKindVideo) && wants(cfg.Kinds, ports.TrackKindVideo) && !enc.audioOnly
	audio := s.hasLive(ports.TrackKindAudio) && wants(cfg.Kinds, ports.TrackKindAudio)
	if !video && !audio {
		return nil, fmt.Errorf("no live track to encode as %s", cfg.ContentType)
	}

	args := s.encodeArgs(enc, cfg.ContentType, video, audio)
	log := s.log.WithFields(logrus.Fields{"stream_id": s.id, "content_type": cfg.ContentType})
	if cfg.Timeslice > 0 {
		if !enc.streamable {
			return nil, fmt.Errorf("%s cannot be recorded in timeslices", cfg.ContentType)
		}
		return newSlicedEncoder(s.command, args, cfg.Timeslice, s.clock, log), nil
	}
	return newSegmentEncoder(s.command, args, enc, log), nil
}

// encodeArgs builds everything but the output target.
func (s *Stream) encodeArgs(enc encoding, contentType string, video bool, audio bool) []string {
	var videoDevice, audioDevice string
	if video {
		videoDevice = s.video
	}
	if audio {
		audioDevice = s.audio
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "warning"}
	args = append(args, s.format.inputs(videoDevice, audioDevice)...)
	if video {
		args = append(args, videoCodec(enc, contentType)...)
	} else {
		args = append(args, "-vn")
	}
	if audio {
		args = append(args, enc.audio...)
	} else {
		args = append(args, "-an")
	}
	args = append(args, enc.extra...)
	return append(args, "-f", enc.format)
}

func (s *Stream) hasLive(kind ports.TrackKind) bool {
	for _, t := range s.tracks {
		if t.kind == kind && t.Live() {
			return true
		}
	}
	return false
}

func (s *Stream) released() bool {
	for _, t := range s.tracks {
		if t.Live() {
			return false
		}
	}
	return true
}

func videoCodec(enc encoding, contentType string) []string {
	if enc.format == "webm" && strings.Contains(codecs(contentType), "vp8") {
		return []string{"-c:v", "libvpx", "-deadline", "realtime", "-b:v", "1M"}
	}
	return enc.video
}

func wants(kinds []ports.TrackKind, kind ports.TrackKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func baseType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if idx := strings.Index(contentType, ";"); idx >= 0 {
			contentType = contentType[:idx]
		}
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// codecs returns the raw codecs parameter; unquoted lists like vp9,opus are
// not valid MIME parameters so it is read by hand.
func codecs(contentType string) string {
	lowered := strings.ToLower(contentType)
	idx := strings.Index(lowered, "codecs=")
	if idx < 0 {
		return ""
	}
	return strings.Trim(lowered[idx+len("codecs="):], "\" ")
}

type track struct {
	kind  ports.TrackKind
	label string
	live  atomic.Bool
}

func newTrack(kind ports.TrackKind, label string) *track {
	t := &track{kind: kind, label: label}
	t.live.Store(true)
	return t
}

func (t *track) Kind() ports.TrackKind { return t.kind }
func (t *track) Label() string         { return t.label }
func (t *track) Live() bool            { return t.live.Load() }
func (t *track) Stop()                 { t.live.Store(false) }
