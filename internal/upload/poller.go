package upload

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

// StatusFunc observes processing status for an object key.
type StatusFunc func(objectKey string, status domain.ProcessingStatus)

// Poller polls processing status for the most recent upload. Starting a new
// poll or calling Stop tears the previous loop down before returning.
type Poller struct {
	source   ports.ProcessingStatusSource
	interval time.Duration
	clock    clock.Clock
	onStatus StatusFunc
	log      logrus.FieldLogger

	startMu sync.Mutex
	mu      sync.Mutex
	current *pollRun
}

type pollRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(source ports.ProcessingStatusSource, interval time.Duration, clk clock.Clock, onStatus StatusFunc, log logrus.FieldLogger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Poller{
		source:   source,
		interval: interval,
		clock:    clk,
		onStatus: onStatus,
		log:      log.WithField("component", "processing"),
	}
}

func (p *Poller) Start(ctx context.Context, objectKey string) {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	p.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	run := &pollRun{cancel: cancel, done: make(chan struct{})}
	ticker := p.clock.Ticker(p.interval)

	p.mu.Lock()
	p.current = run
	p.mu.Unlock()

	p.emit(runCtx, objectKey, domain.ProcessingStatusProcessing)
	go p.loop(runCtx, run, ticker, objectKey)
}

// Stop cancels the active loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	run := p.current
	p.current = nil
	p.mu.Unlock()

	if run == nil {
		return
	}
	run.cancel()
	<-run.done
}

func (p *Poller) loop(ctx context.Context, run *pollRun, ticker *clock.Ticker, objectKey string) {
	defer close(run.done)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attempt++
		status, err := p.source.Status(ctx, objectKey, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.WithError(err).WithFields(logrus.Fields{"object_key": objectKey, "attempt": attempt}).Warn("processing status poll failed")
			continue
		}
		if !p.emit(ctx, objectKey, status) {
			return
		}
		if status == domain.ProcessingStatusSuccess || status == domain.ProcessingStatusFailed {
			p.log.WithFields(logrus.Fields{"object_key": objectKey, "status": status, "attempts": attempt}).Info("processing settled")
			return
		}
	}
}

func (p *Poller) emit(ctx context.Context, objectKey string, status domain.ProcessingStatus) bool {
	if ctx.Err() != nil {
		return false
	}
	if p.onStatus != nil {
		p.onStatus(objectKey, status)
	}
	return true
}

// StubStatusSource reports success once the given number of polls has been made.
type StubStatusSource struct {
	SuccessAfter int
}

func (s StubStatusSource) Status(ctx context.Context, _ string, attempt int) (domain.ProcessingStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if attempt >= s.SuccessAfter {
		return domain.ProcessingStatusSuccess, nil
	}
	return domain.ProcessingStatusProcessing, nil
}
