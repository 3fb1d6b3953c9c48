package capture

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

// StreamSource hands the shared stream to one recorder at a time.
type StreamSource interface {
	AttachRecorder(ctx context.Context) (ports.MediaStream, func(), error)
}

// Labeler numbers takes per provenance and purpose.
type Labeler interface {
	NextLabel(source domain.Provenance, purpose string) string
}

// AudioFragmentSink receives audio-only fragments in capture order.
type AudioFragmentSink interface {
	PushAudio(fragment []byte)
}

// RecorderConfig controls format selection and the duration cap.
type RecorderConfig struct {
	MaxDuration        time.Duration
	VideoFormats       []string
	AudioFormats       []string
	AudioChunkInterval time.Duration
	TickInterval       time.Duration
}

// RecorderCallbacks are invoked outside the recorder lock.
type RecorderCallbacks struct {
	OnState    func(state domain.RecordingState)
	OnElapsed  func(seconds float64)
	OnAutoStop func(take *domain.Take, err error)
}

// StartOptions describe one take.
type StartOptions struct {
	Purpose string
	// AudioSink, when set and the stream has audio, receives a parallel audio-only recording.
	AudioSink      AudioFragmentSink
	AudioSessionID string
}

// Recorder drives one record/pause/resume/stop cycle at a time.
type Recorder struct {
	cfg       RecorderConfig
	playback  ports.PlaybackSupport
	previews  ports.PreviewStore
	labels    Labeler
	clock     clock.Clock
	callbacks RecorderCallbacks
	log       logrus.FieldLogger

	mu     sync.Mutex
	active *activeRecording
	// starting is set while Start attaches outside mu. Abort and Stop bump
	// epoch so a start in flight is discarded instead of installed.
	starting bool
	epoch    uint64
}

type activeRecording struct {
	state       domain.RecordingState
	purpose     string
	contentType string
	sessionID   string
	detach      func()
	cancel      context.CancelFunc
	duration    *DurationClock

	encoder       ports.Encoder
	collectorDone chan struct{}
	partsMu       sync.Mutex
	parts         [][]byte

	audioEncoder ports.Encoder
	audioDone    chan struct{}
}

func NewRecorder(
	cfg RecorderConfig,
	playback ports.PlaybackSupport,
	previews ports.PreviewStore,
	labels Labeler,
	clk clock.Clock,
	callbacks RecorderCallbacks,
	log logrus.FieldLogger,
) *Recorder {
	if len(cfg.VideoFormats) == 0 {
		cfg.VideoFormats = DefaultVideoFormats
	}
	if len(cfg.AudioFormats) == 0 {
		cfg.AudioFormats = DefaultAudioFormats
	}
	if cfg.AudioChunkInterval <= 0 {
		cfg.AudioChunkInterval = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{
		cfg:       cfg,
		playback:  playback,
		previews:  previews,
		labels:    labels,
		clock:     clk,
		callbacks: callbacks,
		log:       log.WithField("component", "recorder"),
	}
}

// Start attaches to the stream and begins recording. The stream is attached
// without holding the state lock, so State and ElapsedSeconds answer while a
// slow source opens.
func (r *Recorder) Start(ctx context.Context, source StreamSource, opts StartOptions) error {
	r.mu.Lock()
	if r.active != nil || r.starting {
		r.mu.Unlock()
		return domain.ErrAlreadyRecording
	}
	r.starting = true
	epoch := r.epoch
	r.mu.Unlock()

	active, err := r.open(ctx, source, opts)

	r.mu.Lock()
	r.starting = false
	if err == nil && r.epoch != epoch {
		err = context.Canceled
	}
	if err != nil {
		r.mu.Unlock()
		if active != nil {
			r.discard(active)
		}
		return err
	}
	active.duration.Start()
	r.active = active
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"content_type": active.contentType, "purpose": opts.Purpose}).Info("recording started")
	r.emitState(domain.RecordingStateRecording)
	return nil
}

// open attaches to the stream and starts the encoders. On error nothing is
// left running.
func (r *Recorder) open(ctx context.Context, source StreamSource, opts StartOptions) (*activeRecording, error) {
	stream, detach, err := source.AttachRecorder(ctx)
	if err != nil {
		return nil, err
	}

	contentType := SelectFormat(r.cfg.VideoFormats, stream, r.playback, false, FallbackVideoFormat)
	encoder, err := stream.NewEncoder(ports.EncoderConfig{ContentType: contentType, Kinds: trackKinds(stream)})
	if err != nil {
		detach()
		return nil, fmt.Errorf("open encoder for %s: %w", contentType, err)
	}

	recCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	active := &activeRecording{
		state:         domain.RecordingStateRecording,
		purpose:       opts.Purpose,
		contentType:   contentType,
		detach:        detach,
		cancel:        cancel,
		encoder:       encoder,
		collectorDone: make(chan struct{}),
	}
	active.duration = NewDurationClock(r.clock, ClockOptions{
		Max:          r.cfg.MaxDuration,
		TickInterval: r.cfg.TickInterval,
		OnTick:       r.elapsedCallback(),
		OnLimit:      func() { go r.autoStop(active) },
	})

	if err := encoder.Start(recCtx); err != nil {
		cancel()
		detach()
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	go collectFragments(encoder, active)

	if opts.AudioSink != nil && HasTrack(stream, ports.TrackKindAudio) {
		if err := r.startAudio(recCtx, stream, active, opts.AudioSink); err != nil {
			r.log.WithError(err).Warn("parallel audio recording unavailable")
		} else {
			active.sessionID = opts.AudioSessionID
		}
	}
	return active, nil
}

func (r *Recorder) startAudio(ctx context.Context, stream ports.MediaStream, active *activeRecording, sink AudioFragmentSink) error {
	audioType := SelectFormat(r.cfg.AudioFormats, stream, nil, true, FallbackAudioFormat)
	if !stream.CanEncode(audioType, true) {
		return fmt.Errorf("no chunkable audio format available")
	}
	encoder, err := stream.NewEncoder(ports.EncoderConfig{
		ContentType: audioType,
		Kinds:       []ports.TrackKind{ports.TrackKindAudio},
		Timeslice:   r.cfg.AudioChunkInterval,
	})
	if err != nil {
		return err
	}
	if err := encoder.Start(ctx); err != nil {
		return err
	}
	active.audioEncoder = encoder
	active.audioDone = make(chan struct{})
	go forwardAudio(encoder, sink, active.audioDone)
	return nil
}

// Pause is a no-op unless recording.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	active := r.active
	if active == nil || active.state != domain.RecordingStateRecording {
		r.mu.Unlock()
		return nil
	}
	if err := active.encoder.Pause(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("pause encoder: %w", err)
	}
	if active.audioEncoder != nil {
		if err := active.audioEncoder.Pause(); err != nil {
			r.log.WithError(err).Warn("pause audio encoder")
		}
	}
	active.duration.Pause()
	active.state = domain.RecordingStatePaused
	r.mu.Unlock()

	r.emitState(domain.RecordingStatePaused)
	return nil
}

// Resume is a no-op unless paused.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	active := r.active
	if active == nil || active.state != domain.RecordingStatePaused {
		r.mu.Unlock()
		return nil
	}
	if err := active.encoder.Resume(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("resume encoder: %w", err)
	}
	if active.audioEncoder != nil {
		if err := active.audioEncoder.Resume(); err != nil {
			r.log.WithError(err).Warn("resume audio encoder")
		}
	}
	active.duration.Resume()
	active.state = domain.RecordingStateRecording
	r.mu.Unlock()

	r.emitState(domain.RecordingStateRecording)
	return nil
}

// Stop finishes the take. Stopping an idle recorder returns (nil, nil).
func (r *Recorder) Stop() (*domain.Take, error) {
	r.mu.Lock()
	active := r.active
	r.active = nil
	if active == nil && r.starting {
		r.epoch++
	}
	r.mu.Unlock()

	if active == nil {
		return nil, nil
	}
	return r.finish(active)
}

// Abort discards the active recording, or one still starting, without
// producing a take.
func (r *Recorder) Abort() {
	r.mu.Lock()
	active := r.active
	r.active = nil
	r.epoch++
	r.mu.Unlock()

	if active == nil {
		return
	}
	r.discard(active)
	r.emitState(domain.RecordingStateIdle)
}

func (r *Recorder) discard(active *activeRecording) {
	active.duration.Reset()
	active.cancel()
	_ = active.encoder.Stop()
	<-active.collectorDone
	if active.audioEncoder != nil {
		_ = active.audioEncoder.Stop()
		<-active.audioDone
	}
	active.detach()
}

func (r *Recorder) State() domain.RecordingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return domain.RecordingStateIdle
	}
	return r.active.state
}

func (r *Recorder) ElapsedSeconds() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return 0
	}
	return r.active.duration.ElapsedSeconds()
}

func (r *Recorder) autoStop(active *activeRecording) {
	r.mu.Lock()
	if r.active != active {
		r.mu.Unlock()
		return
	}
	r.active = nil
	r.mu.Unlock()

	r.log.WithField("max_seconds", r.cfg.MaxDuration.Seconds()).Info("duration cap reached, stopping")
	take, err := r.finish(active)
	if r.callbacks.OnAutoStop != nil {
		r.callbacks.OnAutoStop(take, err)
	}
}

func (r *Recorder) finish(active *activeRecording) (*domain.Take, error) {
	active.duration.Pause()
	elapsed := active.duration.Elapsed()
	active.duration.Reset()
	defer active.cancel()
	defer active.detach()
	defer r.emitState(domain.RecordingStateIdle)

	stopErr := active.encoder.Stop()
	<-active.collectorDone
	if active.audioEncoder != nil {
		if err := active.audioEncoder.Stop(); err != nil {
			r.log.WithError(err).Warn("stop audio encoder")
		}
		<-active.audioDone
	}

	if r.cfg.MaxDuration > 0 && elapsed > r.cfg.MaxDuration {
		elapsed = r.cfg.MaxDuration
	}
	if elapsed <= 0 {
		return nil, domain.ErrInvalidDuration
	}

	active.partsMu.Lock()
	media := bytes.Join(active.parts, nil)
	active.partsMu.Unlock()
	if len(media) == 0 {
		if stopErr != nil {
			return nil, fmt.Errorf("stop encoder: %w", stopErr)
		}
		return nil, fmt.Errorf("recording produced no media")
	}
	if stopErr != nil {
		r.log.WithError(stopErr).Warn("encoder stopped uncleanly")
	}

	previewURL, err := r.previews.Create(media, active.contentType)
	if err != nil {
		return nil, fmt.Errorf("create preview: %w", err)
	}

	id := uuid.NewString()
	take := &domain.Take{
		ID:              id,
		Media:           media,
		ContentType:     active.contentType,
		FileName:        "take-" + id + Extension(active.contentType),
		PreviewURL:      previewURL,
		DurationSeconds: elapsed.Seconds(),
		Label:           r.labels.NextLabel(domain.ProvenanceRecording, active.purpose),
		Purpose:         active.purpose,
		Source:          domain.ProvenanceRecording,
		AudioSessionID:  active.sessionID,
		CreatedAt:       r.clock.Now(),
	}
	r.log.WithFields(logrus.Fields{"take_id": take.ID, "duration": take.DurationSeconds, "bytes": len(media)}).Info("take recorded")
	return take, nil
}

func (r *Recorder) elapsedCallback() func(time.Duration) {
	if r.callbacks.OnElapsed == nil {
		return nil
	}
	return func(elapsed time.Duration) { r.callbacks.OnElapsed(elapsed.Seconds()) }
}

func (r *Recorder) emitState(state domain.RecordingState) {
	if r.callbacks.OnState != nil {
		r.callbacks.OnState(state)
	}
}

func collectFragments(encoder ports.Encoder, active *activeRecording) {
	defer close(active.collectorDone)
	for fragment := range encoder.Fragments() {
		if len(fragment) == 0 {
			continue
		}
		active.partsMu.Lock()
		active.parts = append(active.parts, fragment)
		active.partsMu.Unlock()
	}
}

func forwardAudio(encoder ports.Encoder, sink AudioFragmentSink, done chan struct{}) {
	defer close(done)
	for fragment := range encoder.Fragments() {
		if len(fragment) == 0 {
			continue
		}
		sink.PushAudio(fragment)
	}
}

func trackKinds(stream ports.MediaStream) []ports.TrackKind {
	seen := map[ports.TrackKind]bool{}
	kinds := make([]ports.TrackKind, 0, 2)
	for _, track := range stream.Tracks() {
		if seen[track.Kind()] {
			continue
		}
		seen[track.Kind()] = true
		kinds = append(kinds, track.Kind())
	}
	return kinds
}
