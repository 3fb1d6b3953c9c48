package drafts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

const DefaultMaxKeywords = 20

// Config tunes when drafting triggers and how results are shaped.
type Config struct {
	MinTranscriptChars int
	MaxKeywords        int
	Language           string
}

// Callbacks run outside the coordinator lock.
type Callbacks struct {
	OnApplied func(form domain.FormSnapshot)
	OnFailed  func(err error)
}

// Coordinator owns the draft target form and applies generated drafts only
// to fields that are empty and untouched by the user.
type Coordinator struct {
	generator ports.DraftGenerator
	rules     ports.TranscriptRules
	cfg       Config
	callbacks Callbacks
	log       logrus.FieldLogger

	mu       sync.Mutex
	form     form
	drafted  map[string]bool
	inflight *generation
}

type generation struct {
	key    string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCoordinator(generator ports.DraftGenerator, rules ports.TranscriptRules, kind domain.FormKind, cfg Config, callbacks Callbacks, log logrus.FieldLogger) *Coordinator {
	if cfg.MinTranscriptChars <= 0 {
		cfg.MinTranscriptChars = 30
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = DefaultMaxKeywords
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		generator: generator,
		rules:     rules,
		cfg:       cfg,
		callbacks: callbacks,
		log:       log.WithField("component", "drafts"),
		form:      newForm(kind),
		drafted:   map[string]bool{},
	}
}

// TranscriptReady starts draft generation the first time the transcript for
// key reaches the minimum length. It reports whether generation started.
// Transcripts arriving with a cancelled ctx leave the form untouched.
func (c *Coordinator) TranscriptReady(ctx context.Context, key string, text string) bool {
	if ctx.Err() != nil {
		return false
	}
	cleaned := c.normalize(text)
	if utf8.RuneCountInString(cleaned) < c.cfg.MinTranscriptChars {
		return false
	}

	c.mu.Lock()
	if c.drafted[key] {
		c.mu.Unlock()
		return false
	}
	c.drafted[key] = true
	if !c.form.edited[domain.FieldTranscript] {
		c.form.transcript = cleaned
	}
	req := domain.DraftRequest{Kind: c.form.kind, Transcript: cleaned, Language: c.cfg.Language}
	previous := c.startLocked(ctx, key, req)
	c.mu.Unlock()

	stopGeneration(previous)
	return true
}

// DraftFromVideo is the fallback when no transcript is available for an
// uploaded job video; the backend transcribes and drafts in one call.
func (c *Coordinator) DraftFromVideo(ctx context.Context, objectKey string) bool {
	if ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	if c.form.kind != domain.FormKindJob || c.form.transcript != "" || c.drafted[objectKey] {
		c.mu.Unlock()
		return false
	}
	c.drafted[objectKey] = true
	req := domain.DraftRequest{Kind: c.form.kind, ObjectKey: objectKey, Language: c.cfg.Language}
	previous := c.startLocked(ctx, objectKey, req)
	c.mu.Unlock()

	stopGeneration(previous)
	return true
}

// EditField records a user edit. Editing a draftable field cancels any
// generation still in flight.
func (c *Coordinator) EditField(field domain.Field, value string) (domain.FormSnapshot, error) {
	c.mu.Lock()
	if !c.form.accepts(field) {
		c.mu.Unlock()
		return domain.FormSnapshot{}, fmt.Errorf("field %q is not part of the %s form", field, c.form.kind)
	}
	c.form.set(field, value, c.cfg.MaxKeywords)
	c.form.edited[field] = true

	cancelled := c.inflight
	c.inflight = nil
	snapshot := c.form.snapshot(false)
	c.mu.Unlock()

	if cancelled != nil {
		c.log.WithFields(logrus.Fields{"field": field, "key": cancelled.key}).Info("user edit cancelled in-flight draft")
		stopGeneration(cancelled)
	}
	return snapshot, nil
}

// Reset cancels generation and clears the form for a new kind.
func (c *Coordinator) Reset(kind domain.FormKind) {
	c.mu.Lock()
	previous := c.inflight
	c.inflight = nil
	c.form = newForm(kind)
	c.drafted = map[string]bool{}
	c.mu.Unlock()

	stopGeneration(previous)
}

// Stop cancels an in-flight generation and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	previous := c.inflight
	c.inflight = nil
	c.mu.Unlock()

	stopGeneration(previous)
}

func (c *Coordinator) Snapshot() domain.FormSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form.snapshot(c.inflight != nil)
}

func (c *Coordinator) startLocked(ctx context.Context, key string, req domain.DraftRequest) *generation {
	previous := c.inflight
	genCtx, cancel := context.WithCancel(ctx)
	gen := &generation{key: key, cancel: cancel, done: make(chan struct{})}
	c.inflight = gen

	go c.run(genCtx, gen, req)
	return previous
}

func (c *Coordinator) run(ctx context.Context, gen *generation, req domain.DraftRequest) {
	defer close(gen.done)
	defer gen.cancel()
	log := c.log.WithField("key", gen.key)

	draft, err := c.generator.GenerateDraft(ctx, req)
	if err == nil {
		draft.Keywords = NormalizeKeywords(draft.Keywords, c.cfg.MaxKeywords)
		err = validate(req.Kind, draft)
	}

	c.mu.Lock()
	if c.inflight != gen || ctx.Err() != nil {
		c.mu.Unlock()
		log.Debug("draft superseded or cancelled, dropping result")
		return
	}
	c.inflight = nil
	if err != nil {
		c.mu.Unlock()
		if domain.IsAborted(err) {
			return
		}
		log.WithError(err).Warn("draft generation failed")
		if c.callbacks.OnFailed != nil {
			c.callbacks.OnFailed(&domain.DraftGenerationError{Err: err})
		}
		return
	}
	applied := c.form.apply(draft)
	snapshot := c.form.snapshot(false)
	c.mu.Unlock()

	log.WithField("applied", applied).Info("draft applied")
	if c.callbacks.OnApplied != nil {
		c.callbacks.OnApplied(snapshot)
	}
}

func (c *Coordinator) normalize(text string) string {
	text = strings.TrimSpace(text)
	if c.rules == nil {
		return text
	}
	cleaned, err := c.rules.Apply(text)
	if err != nil {
		c.log.WithError(err).Warn("transcript rules failed, using raw transcript")
		return text
	}
	return strings.TrimSpace(cleaned)
}

func validate(kind domain.FormKind, draft domain.Draft) error {
	switch kind {
	case domain.FormKindJob:
		if draft.Title == "" || draft.Description == "" {
			return errors.New("draft is missing a title or description")
		}
	case domain.FormKindCandidate:
		if draft.Headline == "" && draft.Summary == "" {
			return errors.New("draft is missing a headline and summary")
		}
	}
	return nil
}

func stopGeneration(gen *generation) {
	if gen == nil {
		return
	}
	gen.cancel()
	<-gen.done
}

// NormalizeKeywords trims, drops empties, de-duplicates case-insensitively
// keeping the first spelling, and caps the list.
func NormalizeKeywords(keywords []string, max int) []string {
	if max <= 0 {
		max = DefaultMaxKeywords
	}
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.Join(strings.Fields(keyword), " ")
		if keyword == "" {
			continue
		}
		folded := strings.ToLower(keyword)
		if seen[folded] {
			continue
		}
		seen[folded] = true
		out = append(out, keyword)
		if len(out) == max {
			break
		}
	}
	return out
}
