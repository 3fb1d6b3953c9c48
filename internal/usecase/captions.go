package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

const captionDrainTimeout = 4 * time.Second

type captionAggregator struct {
	mu         sync.Mutex
	finals     []string
	lastSpoken string
}

func newCaptionAggregator() *captionAggregator {
	return &captionAggregator{}
}

func (a *captionAggregator) Add(event domain.TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
	}
}

// Text joins the final segments. A trailing partial that never became final
// is kept when it carries more than the finals do.
func (a *captionAggregator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSpoken
	}
	if a.lastSpoken == "" || strings.HasSuffix(joined, a.lastSpoken) {
		return joined
	}
	if len(a.lastSpoken) > len(joined) {
		return strings.TrimSpace(joined + " " + a.lastSpoken)
	}
	return joined
}

// captionSession streams the parallel audio recording to the caption
// provider. Send failures disable the session for the rest of the take.
type captionSession struct {
	session    ports.StreamingSession
	aggregator *captionAggregator
	events     ports.EventSink
	log        logrus.FieldLogger
	eventsDone chan struct{}

	mu     sync.Mutex
	failed bool
}

func newCaptionSession(session ports.StreamingSession, events ports.EventSink, log logrus.FieldLogger) *captionSession {
	c := &captionSession{
		session:    session,
		aggregator: newCaptionAggregator(),
		events:     events,
		log:        log,
		eventsDone: make(chan struct{}),
	}
	go consumeCaptionEvents(session, c.aggregator, events, c.eventsDone)
	return c
}

func (c *captionSession) PushAudio(fragment []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return
	}
	if err := c.session.SendAudio(fragment); err != nil {
		c.failed = true
		c.log.WithError(err).Warn("live captions stopped")
		c.events.Notice(domain.ErrorCodeCaptions, err.Error())
	}
}

// Finish closes the send side and waits for the provider to flush its last
// results. It returns the aggregated caption text.
func (c *captionSession) Finish() string {
	_ = c.session.CloseSend()
	if err := waitForStream(c.session, captionDrainTimeout); err != nil && !domain.IsAborted(err) {
		c.log.WithError(err).Warn("caption stream ended with error")
	}
	<-c.eventsDone
	return c.aggregator.Text()
}

// Abort drops the session without waiting for pending results.
func (c *captionSession) Abort() {
	_ = c.session.Close()
	<-c.eventsDone
}

func consumeCaptionEvents(
	session ports.StreamingSession,
	aggregator *captionAggregator,
	events ports.EventSink,
	done chan struct{},
) {
	defer close(done)

	for event := range session.Events() {
		text := strings.TrimSpace(event.Text)
		if text == "" {
			continue
		}
		aggregator.Add(event)
		if event.Kind == domain.TranscriptKindPartial {
			events.CaptionPartial(text)
		}
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}

// audioFanout hands every audio fragment to each consumer in order.
type audioFanout []interface{ PushAudio([]byte) }

func (f audioFanout) PushAudio(fragment []byte) {
	for _, sink := range f {
		sink.PushAudio(fragment)
	}
}
