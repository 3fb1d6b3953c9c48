package audiosession

import (
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

// Config controls chunk uploads and transcript polling.
type Config struct {
	ContentType  string
	PollInterval time.Duration
}

// Callbacks are invoked from pipeline goroutines, never under a pipeline lock.
type Callbacks struct {
	OnTranscript func(transcript domain.Transcript)
	OnChunkError func(err error)
	OnPollError  func(err error)
}

// Pipeline starts one Run per recording that has audio chunking enabled.
type Pipeline struct {
	api       ports.AudioSessionAPI
	cfg       Config
	clock     clock.Clock
	callbacks Callbacks
	log       logrus.FieldLogger

	mu      sync.Mutex
	results map[string]domain.Transcript
}

func NewPipeline(api ports.AudioSessionAPI, cfg Config, clk clock.Clock, callbacks Callbacks, log logrus.FieldLogger) *Pipeline {
	if cfg.ContentType == "" {
		cfg.ContentType = "audio/ogg"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		api:       api,
		cfg:       cfg,
		clock:     clk,
		callbacks: callbacks,
		log:       log.WithField("component", "audiosession"),
		results:   map[string]domain.Transcript{},
	}
}

// Transcript returns the latest stored poll result for a session.
func (p *Pipeline) Transcript(sessionID string) (domain.Transcript, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	transcript, ok := p.results[sessionID]
	return transcript, ok
}

// Forget drops stored results for sessions that are no longer shown.
func (p *Pipeline) Forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.results, sessionID)
}

// Begin mints a session id and starts transcript polling immediately.
func (p *Pipeline) Begin(ctx context.Context) *Run {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	head := make(chan struct{})
	close(head)

	run := &Run{
		pipeline: p,
		id:       uuid.NewString(),
		ctx:      runCtx,
		cancel:   cancel,
		tail:     head,
		pollDone: make(chan struct{}),
	}
	run.log = p.log.WithField("session_id", run.id)

	p.mu.Lock()
	p.results[run.id] = domain.Transcript{SessionID: run.id, Status: domain.TranscriptStatusPending}
	p.mu.Unlock()

	ticker := p.clock.Ticker(p.cfg.PollInterval)
	go run.pollLoop(ticker)
	run.log.Info("audio session started")
	return run
}

// Run is one audio session: serialized chunk uploads, finalize and polling.
type Run struct {
	pipeline *Pipeline
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	log      logrus.FieldLogger

	mu        sync.Mutex
	nextIndex int
	tail      chan struct{}
	cancelled bool
	finished  bool

	pollDone chan struct{}
}

func (r *Run) ID() string {
	return r.id
}

// PushAudio assigns the next chunk index and queues the upload behind every
// earlier chunk, whether those succeed or fail.
func (r *Run) PushAudio(fragment []byte) {
	r.mu.Lock()
	if r.cancelled || r.finished {
		r.mu.Unlock()
		return
	}
	index := r.nextIndex
	r.nextIndex++
	previous := r.tail
	done := make(chan struct{})
	r.tail = done
	r.mu.Unlock()

	data := append([]byte(nil), fragment...)
	go func() {
		defer close(done)
		<-previous
		if r.ctx.Err() != nil {
			return
		}
		if err := r.uploadChunk(index, data); err != nil {
			if domain.IsAborted(err) {
				return
			}
			chunkErr := &domain.AudioChunkUploadError{SessionID: r.id, Index: index, Err: err}
			r.log.WithError(err).WithField("chunk_index", index).Warn("audio chunk upload failed")
			if r.pipeline.callbacks.OnChunkError != nil {
				r.pipeline.callbacks.OnChunkError(chunkErr)
			}
		}
	}()
}

// ChunkCount is the number of chunks queued so far.
func (r *Run) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIndex
}

// Finish waits for queued chunks to settle and finalizes the session once.
// Finalize failures are logged only. Polling continues until the transcript is final.
func (r *Run) Finish(ctx context.Context) {
	r.mu.Lock()
	if r.cancelled || r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	tail := r.tail
	total := r.nextIndex
	r.mu.Unlock()

	select {
	case <-tail:
	case <-ctx.Done():
		return
	case <-r.ctx.Done():
		return
	}

	if total == 0 {
		r.log.Info("no audio chunks recorded, skipping finalize")
		return
	}
	if err := r.pipeline.api.FinalizeSession(r.ctx, r.id, total); err != nil {
		if domain.IsAborted(err) {
			return
		}
		r.log.WithError(err).WithField("total_chunks", total).Warn("finalize audio session failed")
		return
	}
	r.log.WithField("total_chunks", total).Info("audio session finalized")
}

// Cancel stops polling and pending uploads and waits for them to exit.
// Poll results resolving after Cancel are discarded.
func (r *Run) Cancel() {
	r.Stop()

	r.mu.Lock()
	tail := r.tail
	r.mu.Unlock()
	<-r.pollDone
	<-tail
}

// Stop marks the run cancelled without waiting for its goroutines. Poll
// results that resolve afterwards are dropped.
func (r *Run) Stop() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
}

func (r *Run) uploadChunk(index int, data []byte) error {
	api := r.pipeline.api
	contentType := r.pipeline.cfg.ContentType

	target, err := api.RequestChunkUpload(r.ctx, r.id, index, contentType)
	if err != nil {
		return fmt.Errorf("presign chunk: %w", err)
	}
	if err := api.Transfer(r.ctx, target, contentType, data, nil); err != nil {
		return fmt.Errorf("transfer chunk: %w", err)
	}
	if err := api.ConfirmChunk(r.ctx, r.id, index, target.ObjectKey); err != nil {
		return fmt.Errorf("confirm chunk: %w", err)
	}
	r.log.WithFields(logrus.Fields{"chunk_index": index, "bytes": len(data)}).Debug("audio chunk confirmed")
	return nil
}

func (r *Run) pollLoop(ticker *clock.Ticker) {
	defer close(r.pollDone)
	defer ticker.Stop()

	if r.pollOnce() {
		return
	}
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
		if r.pollOnce() {
			return
		}
	}
}

// pollOnce reports whether polling should stop.
func (r *Run) pollOnce() bool {
	transcript, err := r.pipeline.api.PollTranscript(r.ctx, r.id)
	if err != nil {
		if r.ctx.Err() != nil {
			return true
		}
		pollErr := &domain.TranscriptPollError{SessionID: r.id, Err: err}
		r.log.WithError(err).Warn("transcript poll failed")
		if r.pipeline.callbacks.OnPollError != nil {
			r.pipeline.callbacks.OnPollError(pollErr)
		}
		return false
	}
	transcript.SessionID = r.id

	r.mu.Lock()
	if r.cancelled || r.ctx.Err() != nil {
		r.mu.Unlock()
		return true
	}
	r.pipeline.mu.Lock()
	r.pipeline.results[r.id] = transcript
	r.pipeline.mu.Unlock()
	r.mu.Unlock()

	if r.pipeline.callbacks.OnTranscript != nil {
		r.pipeline.callbacks.OnTranscript(transcript)
	}
	if transcript.Status == domain.TranscriptStatusFinal {
		r.log.WithField("chars", len(transcript.Text)).Info("transcript final")
		return true
	}
	return false
}
