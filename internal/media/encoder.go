package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

const concatTimeout = 30 * time.Second

// segmentEncoder records into temporary files. Every pause closes the
// current segment and resume opens a new one; Stop joins the segments and
// emits the whole take as a single fragment.
type segmentEncoder struct {
	command   string
	args      []string
	enc       encoding
	log       logrus.FieldLogger
	fragments chan []byte

	mu       sync.Mutex
	ctx      context.Context
	dir      string
	current  *process
	segments []string
	stopped  bool
}

func newSegmentEncoder(command string, args []string, enc encoding, log logrus.FieldLogger) *segmentEncoder {
	return &segmentEncoder{
		command:   command,
		args:      args,
		enc:       enc,
		log:       log,
		fragments: make(chan []byte, 1),
	}
}

func (e *segmentEncoder) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dir != "" || e.stopped {
		return fmt.Errorf("encoder already started")
	}
	dir, err := os.MkdirTemp("", "zjobly-take-")
	if err != nil {
		return fmt.Errorf("create segment directory: %w", err)
	}
	e.ctx = ctx
	e.dir = dir
	if err := e.startSegmentLocked(); err != nil {
		_ = os.RemoveAll(dir)
		e.dir = ""
		return err
	}
	return nil
}

func (e *segmentEncoder) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return nil
	}
	err := e.current.stop()
	e.current = nil
	return err
}

func (e *segmentEncoder) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || e.dir == "" || e.current != nil {
		return nil
	}
	return e.startSegmentLocked()
}

func (e *segmentEncoder) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	current := e.current
	e.current = nil
	dir := e.dir
	segments := append([]string(nil), e.segments...)
	e.mu.Unlock()

	defer close(e.fragments)
	if dir == "" {
		return nil
	}
	defer os.RemoveAll(dir)

	var stopErr error
	if current != nil {
		stopErr = current.stop()
	}

	data, err := e.join(dir, segments)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		e.fragments <- data
	}
	return stopErr
}

func (e *segmentEncoder) Fragments() <-chan []byte { return e.fragments }

func (e *segmentEncoder) startSegmentLocked() error {
	path := filepath.Join(e.dir, "segment-"+strconv.Itoa(len(e.segments))+e.enc.ext)
	args := append(append([]string(nil), e.args...), "-y", path)
	proc, err := startProcess(e.ctx, e.command, args, nil)
	if err != nil {
		return err
	}
	e.current = proc
	e.segments = append(e.segments, path)
	e.log.WithField("segment", len(e.segments)-1).Debug("segment started")
	return nil
}

func (e *segmentEncoder) join(dir string, segments []string) ([]byte, error) {
	var parts [][]byte
	var written []string
	for _, path := range segments {
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			continue
		}
		parts = append(parts, data)
		written = append(written, path)
	}

	switch {
	case len(parts) == 0:
		return nil, nil
	case len(parts) == 1 || e.enc.concatenable:
		return bytes.Join(parts, nil), nil
	}
	return e.concat(dir, written)
}

// concat remuxes segments of containers that cannot be joined byte for byte.
func (e *segmentEncoder) concat(dir string, segments []string) ([]byte, error) {
	var list strings.Builder
	for _, path := range segments {
		list.WriteString("file '" + strings.ReplaceAll(path, "'", `'\''`) + "'\n")
	}
	listPath := filepath.Join(dir, "segments.txt")
	if err := os.WriteFile(listPath, []byte(list.String()), 0o600); err != nil {
		return nil, fmt.Errorf("write segment list: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), concatTimeout)
	defer cancel()

	output := filepath.Join(dir, "take"+e.enc.ext)
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-f", e.enc.format, "-y", output}
	if out, err := exec.CommandContext(ctx, e.command, args...).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("concatenate %d segments: %w: %s", len(segments), err, trimOutput(string(out)))
	}
	data, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("read concatenated take: %w", err)
	}
	e.log.WithField("segments", len(segments)).Debug("segments concatenated")
	return data, nil
}

// slicedEncoder streams ffmpeg output through a pipe and emits whatever has
// accumulated every timeslice. Fragments concatenate in emission order.
type slicedEncoder struct {
	command   string
	args      []string
	timeslice time.Duration
	clock     clock.Clock
	log       logrus.FieldLogger
	fragments chan []byte

	buf    syncBuffer
	sendMu sync.Mutex

	mu       sync.Mutex
	ctx      context.Context
	current  *process
	ticker   *clock.Ticker
	quit     chan struct{}
	tickDone chan struct{}
	started  bool
	stopped  bool
}

func newSlicedEncoder(command string, args []string, timeslice time.Duration, clk clock.Clock, log logrus.FieldLogger) *slicedEncoder {
	if clk == nil {
		clk = clock.New()
	}
	return &slicedEncoder{
		command:   command,
		args:      append(append([]string(nil), args...), "-"),
		timeslice: timeslice,
		clock:     clk,
		log:       log,
		fragments: make(chan []byte, 16),
	}
}

func (e *slicedEncoder) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.stopped {
		return fmt.Errorf("encoder already started")
	}
	proc, err := startProcess(ctx, e.command, e.args, &e.buf)
	if err != nil {
		return err
	}
	e.ctx = ctx
	e.current = proc
	e.started = true
	e.ticker = e.clock.Ticker(e.timeslice)
	e.quit = make(chan struct{})
	e.tickDone = make(chan struct{})
	go e.tickLoop(e.ticker, e.quit, e.tickDone)
	return nil
}

func (e *slicedEncoder) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return nil
	}
	err := e.current.stop()
	e.current = nil
	return err
}

func (e *slicedEncoder) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.stopped || e.current != nil {
		return nil
	}
	proc, err := startProcess(e.ctx, e.command, e.args, &e.buf)
	if err != nil {
		return err
	}
	e.current = proc
	return nil
}

func (e *slicedEncoder) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	current := e.current
	e.current = nil
	started := e.started
	e.mu.Unlock()

	defer close(e.fragments)
	if !started {
		return nil
	}

	e.ticker.Stop()
	close(e.quit)
	<-e.tickDone

	var stopErr error
	if current != nil {
		stopErr = current.stop()
	}
	e.flush()
	return stopErr
}

func (e *slicedEncoder) Fragments() <-chan []byte { return e.fragments }

func (e *slicedEncoder) tickLoop(ticker *clock.Ticker, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

func (e *slicedEncoder) flush() {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	data := e.buf.take()
	if len(data) == 0 {
		return
	}
	e.fragments <- data
	e.log.WithField("bytes", len(data)).Debug("fragment emitted")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	data := append([]byte(nil), b.buf.Bytes()...)
	b.buf.Reset()
	return data
}
