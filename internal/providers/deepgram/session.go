package deepgram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
)

var (
	closeStreamMessage = []byte(`{"type":"CloseStream"}`)
	keepAliveMessage   = []byte(`{"type":"KeepAlive"}`)

	errSendClosed = errors.New("caption audio already closed")
)

type session struct {
	conn      *websocket.Conn
	keepAlive time.Duration
	log       logrus.FieldLogger

	events chan domain.TranscriptEvent
	audio  chan []byte
	stop   chan struct{}
	reader chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	sendMu     sync.RWMutex
	sendClosed bool

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, keepAlive time.Duration, log logrus.FieldLogger) *session {
	s := &session{
		conn:      conn,
		keepAlive: keepAlive,
		log:       log,
		events:    make(chan domain.TranscriptEvent, 64),
		audio:     make(chan []byte, 32),
		stop:      make(chan struct{}),
		reader:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

// SendAudio queues one encoded fragment. It blocks while the send buffer is
// full and fails once the socket is gone.
func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errSendClosed
	}

	select {
	case s.audio <- append([]byte(nil), chunk...):
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("caption session closed")
	}
}

// CloseSend asks Deepgram to flush the remaining results and close.
func (s *session) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.audio)
	}
	return nil
}

func (s *session) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *session) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close drops the socket without waiting for pending results.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *session) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// setErr records the first failure. Orderly closes are not failures.
func (s *session) setErr(err error) {
	if err == nil || orderlyClose(err) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) writeLoop() {
	defer s.wg.Done()

	idle := time.NewTicker(s.keepAlive)
	defer idle.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.reader:
			return
		case chunk, ok := <-s.audio:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, closeStreamMessage); err != nil {
					s.setErr(fmt.Errorf("close caption stream: %w", err))
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("send caption audio: %w", err))
				return
			}
			idle.Reset(s.keepAlive)
		case <-idle.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, keepAliveMessage); err != nil {
				s.setErr(fmt.Errorf("send keepalive: %w", err))
				return
			}
		}
	}
}

func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.reader)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
			default:
				if !orderlyClose(err) {
					s.setErr(fmt.Errorf("read caption event: %w", err))
				}
			}
			return
		}

		event, ok, err := decodeMessage(payload)
		if err != nil {
			s.setErr(err)
			return
		}
		if !ok {
			continue
		}
		if !s.deliver(event) {
			return
		}
	}
}

// deliver hands an event to the reader. Partials are dropped when the buffer
// is full; finals wait for room until the session is closed. It reports
// false once the session is closed.
func (s *session) deliver(event domain.TranscriptEvent) bool {
	if event.Kind != domain.TranscriptKindFinal {
		select {
		case s.events <- event:
		default:
			s.log.Debug("caption partial dropped")
		}
		return true
	}
	select {
	case s.events <- event:
		return true
	case <-s.stop:
		return false
	}
}

func orderlyClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}

// listenMessage is the subset of Deepgram's streaming responses the studio reads.
type listenMessage struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// decodeMessage turns one socket frame into a caption event. Frames without
// text (metadata, speech markers, unparsable payloads) report ok=false.
func decodeMessage(payload []byte) (domain.TranscriptEvent, bool, error) {
	var msg listenMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.TranscriptEvent{}, false, nil
	}

	switch strings.ToLower(msg.Type) {
	case "error":
		detail := strings.TrimSpace(msg.Description)
		if detail == "" {
			detail = strings.TrimSpace(msg.Message)
		}
		if detail == "" {
			detail = "unknown error"
		}
		return domain.TranscriptEvent{}, false, fmt.Errorf("deepgram: %s", detail)
	case "", "results":
	default:
		return domain.TranscriptEvent{}, false, nil
	}

	if len(msg.Channel.Alternatives) == 0 {
		return domain.TranscriptEvent{}, false, nil
	}
	text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
	if text == "" {
		return domain.TranscriptEvent{}, false, nil
	}

	kind := domain.TranscriptKindPartial
	if msg.IsFinal || msg.SpeechFinal {
		kind = domain.TranscriptKindFinal
	}
	return domain.TranscriptEvent{Kind: kind, Text: text, IsSpeechFinal: msg.SpeechFinal}, true, nil
}
