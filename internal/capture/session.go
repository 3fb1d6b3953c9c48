package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

// Session owns the camera/microphone stream shared by the live preview and
// at most one recorder.
type Session struct {
	providers   []ports.CaptureProvider
	constraints ports.CaptureConstraints
	origin      string
	log         logrus.FieldLogger

	mu               sync.Mutex
	stream           ports.MediaStream
	providerName     string
	previewConsumers int
	recorderAttached bool
}

// SessionConfig configures stream acquisition.
type SessionConfig struct {
	Constraints ports.CaptureConstraints
	// Origin is the surface origin the capture is requested from; empty means native.
	Origin string
}

// NewSession tries providers in the given order; the first available one wins.
func NewSession(providers []ports.CaptureProvider, cfg SessionConfig, log logrus.FieldLogger) *Session {
	if !cfg.Constraints.Video && !cfg.Constraints.Audio {
		cfg.Constraints = ports.CaptureConstraints{Video: true, Audio: true}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		providers:   providers,
		constraints: cfg.Constraints,
		origin:      cfg.Origin,
		log:         log.WithField("component", "capture"),
	}
}

// Acquire returns the live stream, reusing an active one instead of prompting again.
func (s *Session) Acquire(ctx context.Context) (ports.MediaStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquireLocked(ctx)
}

func (s *Session) acquireLocked(ctx context.Context) (ports.MediaStream, error) {
	if s.stream != nil && streamLive(s.stream) {
		return s.stream, nil
	}
	if s.stream != nil {
		stopTracks(s.stream)
		s.stream = nil
	}

	if err := CheckSecureContext(s.origin); err != nil {
		return nil, err
	}

	var lastErr error
	for _, provider := range s.providers {
		if !provider.Available() {
			continue
		}
		stream, err := provider.Open(ctx, s.constraints)
		if err != nil {
			if errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			s.log.WithError(err).WithField("provider", provider.Name()).Warn("capture provider failed")
			lastErr = err
			continue
		}
		s.stream = stream
		s.providerName = provider.Name()
		s.log.WithFields(logrus.Fields{"provider": provider.Name(), "stream_id": stream.ID()}).Info("stream acquired")
		return stream, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedEnvironment, lastErr)
	}
	return nil, domain.ErrUnsupportedEnvironment
}

// AttachPreview registers a preview consumer. The returned release func is idempotent.
func (s *Session) AttachPreview(ctx context.Context) (ports.MediaStream, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.acquireLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.previewConsumers++

	var once sync.Once
	return stream, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.previewConsumers > 0 {
				s.previewConsumers--
			}
			s.releaseIfUnusedLocked(stream)
		})
	}, nil
}

// AttachRecorder hands the stream to a single recorder.
func (s *Session) AttachRecorder(ctx context.Context) (ports.MediaStream, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recorderAttached {
		return nil, nil, domain.ErrRecorderAttached
	}
	stream, err := s.acquireLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.recorderAttached = true

	var once sync.Once
	return stream, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.recorderAttached = false
			s.releaseIfUnusedLocked(stream)
		})
	}, nil
}

// Release stops every track regardless of consumers; used when the screen unmounts.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return
	}
	stopTracks(s.stream)
	s.log.WithField("stream_id", s.stream.ID()).Info("stream released")
	s.stream = nil
	s.previewConsumers = 0
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil && streamLive(s.stream)
}

func (s *Session) ProviderName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerName
}

func (s *Session) releaseIfUnusedLocked(stream ports.MediaStream) {
	if s.stream != stream || s.previewConsumers > 0 || s.recorderAttached {
		return
	}
	stopTracks(stream)
	s.log.WithField("stream_id", stream.ID()).Info("stream released, no consumers left")
	s.stream = nil
}

func stopTracks(stream ports.MediaStream) {
	for _, track := range stream.Tracks() {
		track.Stop()
	}
}

func streamLive(stream ports.MediaStream) bool {
	tracks := stream.Tracks()
	if len(tracks) == 0 {
		return false
	}
	for _, track := range tracks {
		if !track.Live() {
			return false
		}
	}
	return true
}

// HasTrack reports whether the stream carries a live track of the given kind.
func HasTrack(stream ports.MediaStream, kind ports.TrackKind) bool {
	for _, track := range stream.Tracks() {
		if track.Kind() == kind && track.Live() {
			return true
		}
	}
	return false
}

// CheckSecureContext rejects capture from plain-http origins other than local development hosts.
func CheckSecureContext(origin string) error {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("%w: invalid origin %q", domain.ErrInsecureContext, origin)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https", "wss", "wails", "file":
		return nil
	}
	if isLocalHost(parsed.Hostname()) {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrInsecureContext, origin)
}

func isLocalHost(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
