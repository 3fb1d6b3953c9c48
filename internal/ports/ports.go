package ports

import (
	"context"
	"time"

	"zjobly/internal/domain"
)

// TrackKind distinguishes camera and microphone tracks.
type TrackKind string

const (
	TrackKindVideo TrackKind = "video"
	TrackKindAudio TrackKind = "audio"
)

// Track is one live capture track of a media stream.
type Track interface {
	Kind() TrackKind
	Label() string
	Live() bool
	Stop()
}

// CaptureConstraints selects which devices a provider should open.
type CaptureConstraints struct {
	Video bool
	Audio bool
}

// EncoderConfig describes one recorder attached to a stream.
type EncoderConfig struct {
	ContentType string
	Kinds       []TrackKind
	// Timeslice > 0 emits a fragment every interval; 0 emits everything on Stop.
	Timeslice time.Duration
}

// Encoder turns live tracks into encoded fragments.
type Encoder interface {
	Start(ctx context.Context) error
	Pause() error
	Resume() error
	// Stop flushes buffered media; Fragments is closed once the last fragment is delivered.
	Stop() error
	Fragments() <-chan []byte
}

// MediaStream is an acquired camera/microphone capture.
type MediaStream interface {
	ID() string
	Tracks() []Track
	CanEncode(contentType string, timesliced bool) bool
	NewEncoder(cfg EncoderConfig) (Encoder, error)
}

// CaptureProvider is one way of acquiring a stream, tried in ranked order.
type CaptureProvider interface {
	Name() string
	Available() bool
	Open(ctx context.Context, constraints CaptureConstraints) (MediaStream, error)
}

// PlaybackSupport reports what the preview surface can play.
type PlaybackSupport interface {
	CanPlay(contentType string) bool
}

// DurationProbe reads the duration of a media file.
type DurationProbe interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// PreviewStore owns process-local preview URLs for takes.
type PreviewStore interface {
	Create(data []byte, contentType string) (string, error)
	Release(url string) error
}

// Transferer PUTs raw bytes to a presigned destination.
type Transferer interface {
	Transfer(ctx context.Context, target domain.UploadTarget, contentType string, data []byte, progress func(percent int)) error
}

// MediaAPI is the backend contract for take uploads.
type MediaAPI interface {
	Transferer
	RequestUpload(ctx context.Context, fileName string, contentType string) (domain.UploadTarget, error)
	ConfirmUpload(ctx context.Context, objectKey string, durationSeconds float64, source domain.Provenance) (string, error)
}

// AudioSessionAPI is the backend contract for chunked audio transcription.
type AudioSessionAPI interface {
	Transferer
	RequestChunkUpload(ctx context.Context, sessionID string, index int, contentType string) (domain.UploadTarget, error)
	ConfirmChunk(ctx context.Context, sessionID string, index int, objectKey string) error
	FinalizeSession(ctx context.Context, sessionID string, totalChunks int) error
	PollTranscript(ctx context.Context, sessionID string) (domain.Transcript, error)
}

// DraftGenerator produces draft form fields from a transcript or an uploaded video.
type DraftGenerator interface {
	GenerateDraft(ctx context.Context, req domain.DraftRequest) (domain.Draft, error)
}

// ProcessingStatusSource answers one processing status poll.
type ProcessingStatusSource interface {
	Status(ctx context.Context, objectKey string, attempt int) (domain.ProcessingStatus, error)
}

// StreamingConfig describes provider-agnostic live caption settings.
type StreamingConfig struct {
	ContentType    string
	Encoding       string
	SampleRate     int
	Channels       int
	InterimResults bool
}

// StreamingSession is an active live caption session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// CaptionProvider starts live caption sessions.
type CaptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// TranscriptRules normalizes transcript text before drafting.
type TranscriptRules interface {
	Apply(text string) (string, error)
}

// EventSink emits studio state to the UI.
type EventSink interface {
	RecordingStateChanged(state domain.RecordingState)
	ElapsedChanged(seconds float64)
	TakeAdded(take domain.Take)
	UploadStateChanged(state domain.UploadState, progress int)
	ProcessingStatusChanged(objectKey string, status domain.ProcessingStatus)
	TranscriptUpdated(transcript domain.Transcript)
	CaptionPartial(text string)
	DraftApplied(form domain.FormSnapshot)
	StudioError(code domain.ErrorCode, detail string)
	Notice(code domain.ErrorCode, detail string)
}
