package drafts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
)

const longTranscript = "I am a backend engineer with eight years of Go experience in Antwerp."

func TestCoordinatorAppliesDraftToEmptyFields(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{draft: domain.Draft{
		Headline: "Senior Go engineer",
		Summary:  "Builds reliable services.",
		Location: "Antwerp",
		Keywords: []string{"Go", "go", " Kubernetes ", ""},
	}}
	applied := make(chan domain.FormSnapshot, 1)
	coordinator := NewCoordinator(generator, nil, domain.FormKindCandidate, Config{}, Callbacks{
		OnApplied: func(form domain.FormSnapshot) { applied <- form },
	}, quietLogger())

	if !coordinator.TranscriptReady(context.Background(), "sess-1", longTranscript) {
		t.Fatalf("expected generation to start")
	}
	form := waitForm(t, applied)
	if form.Values[domain.FieldHeadline] != "Senior Go engineer" || form.Values[domain.FieldLocation] != "Antwerp" {
		t.Fatalf("unexpected form %+v", form)
	}
	if len(form.Keywords) != 2 || form.Keywords[0] != "Go" || form.Keywords[1] != "Kubernetes" {
		t.Fatalf("unexpected keywords %v", form.Keywords)
	}
	if generator.lastRequest().Kind != domain.FormKindCandidate {
		t.Fatalf("expected candidate draft request")
	}
}

func TestCoordinatorNeverClobbersEditedHeadline(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{draft: domain.Draft{Headline: "Generated headline", Summary: "Generated summary"}}
	applied := make(chan domain.FormSnapshot, 1)
	coordinator := NewCoordinator(generator, nil, domain.FormKindCandidate, Config{}, Callbacks{
		OnApplied: func(form domain.FormSnapshot) { applied <- form },
	}, quietLogger())

	if _, err := coordinator.EditField(domain.FieldHeadline, "My own headline"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	coordinator.TranscriptReady(context.Background(), "sess-1", longTranscript)
	form := waitForm(t, applied)

	if form.Values[domain.FieldHeadline] != "My own headline" {
		t.Fatalf("edited headline was overwritten: %q", form.Values[domain.FieldHeadline])
	}
	if form.Values[domain.FieldSummary] != "Generated summary" {
		t.Fatalf("expected summary to be drafted, got %q", form.Values[domain.FieldSummary])
	}
}

func TestCoordinatorEditedButClearedFieldStaysUntouched(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{draft: domain.Draft{Title: "Barista", Description: "Make coffee.", Keywords: []string{"coffee"}}}
	applied := make(chan domain.FormSnapshot, 1)
	coordinator := NewCoordinator(generator, nil, domain.FormKindJob, Config{}, Callbacks{
		OnApplied: func(form domain.FormSnapshot) { applied <- form },
	}, quietLogger())

	_, _ = coordinator.EditField(domain.FieldTitle, "")
	_, _ = coordinator.EditField(domain.FieldKeywords, "")
	coordinator.TranscriptReady(context.Background(), "sess-1", longTranscript)
	form := waitForm(t, applied)

	if form.Values[domain.FieldTitle] != "" {
		t.Fatalf("user-cleared title must stay empty, got %q", form.Values[domain.FieldTitle])
	}
	if len(form.Keywords) != 0 {
		t.Fatalf("user-cleared keywords must stay empty, got %v", form.Keywords)
	}
	if form.Values[domain.FieldDescription] != "Make coffee." {
		t.Fatalf("expected description to be drafted")
	}
}

func TestCoordinatorDraftsOncePerKey(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{draft: domain.Draft{Title: "Barista", Description: "Make coffee."}}
	applied := make(chan domain.FormSnapshot, 4)
	coordinator := NewCoordinator(generator, nil, domain.FormKindJob, Config{}, Callbacks{
		OnApplied: func(form domain.FormSnapshot) { applied <- form },
	}, quietLogger())

	if !coordinator.TranscriptReady(context.Background(), "sess-1", longTranscript) {
		t.Fatalf("first readiness should start a draft")
	}
	waitForm(t, applied)
	for i := 0; i < 3; i++ {
		if coordinator.TranscriptReady(context.Background(), "sess-1", longTranscript+" more") {
			t.Fatalf("repeated poll must not start another draft")
		}
	}
	if got := generator.callCount(); got != 1 {
		t.Fatalf("expected one generation, got %d", got)
	}
}

func TestCoordinatorIgnoresShortTranscripts(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{}
	rules := fakeRules(func(text string) string { return strings.ReplaceAll(text, "um ", "") })
	coordinator := NewCoordinator(generator, rules, domain.FormKindJob, Config{MinTranscriptChars: 30}, Callbacks{}, quietLogger())

	// Long enough raw, below the minimum once fillers are removed.
	if coordinator.TranscriptReady(context.Background(), "s", "um um um um um hiring a barista") {
		t.Fatalf("short transcript must not trigger drafting")
	}
	if generator.callCount() != 0 {
		t.Fatalf("generator must not be called")
	}
	if coordinator.TranscriptReady(context.Background(), "s", "") {
		t.Fatalf("empty transcript must not trigger drafting")
	}
}

func TestCoordinatorIgnoresTranscriptAfterCancel(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{draft: domain.Draft{Headline: "Generated"}}
	coordinator := NewCoordinator(generator, nil, domain.FormKindJob, Config{}, Callbacks{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if coordinator.TranscriptReady(ctx, "sess-1", longTranscript) {
		t.Fatalf("expected a cancelled transcript to be ignored")
	}
	if coordinator.DraftFromVideo(ctx, "videos/a.webm") {
		t.Fatalf("expected a cancelled video draft to be ignored")
	}
	if got := coordinator.Snapshot().Transcript; got != "" {
		t.Fatalf("expected transcript to stay empty, got %q", got)
	}
	if generator.callCount() != 0 {
		t.Fatalf("expected no generation, got %d calls", generator.callCount())
	}
	if !coordinator.TranscriptReady(context.Background(), "sess-1", longTranscript) {
		t.Fatalf("expected the key to stay draftable")
	}
	coordinator.Stop()
}

func TestCoordinatorEditCancelsInFlightDraft(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{block: true, draft: domain.Draft{Headline: "late", Summary: "late"}}
	var mu sync.Mutex
	callbacks := 0
	coordinator := NewCoordinator(generator, nil, domain.FormKindCandidate, Config{}, Callbacks{
		OnApplied: func(domain.FormSnapshot) { mu.Lock(); callbacks++; mu.Unlock() },
		OnFailed:  func(error) { mu.Lock(); callbacks++; mu.Unlock() },
	}, quietLogger())

	coordinator.TranscriptReady(context.Background(), "sess-1", longTranscript)
	generator.waitStarted(t)
	if !coordinator.Snapshot().Drafting {
		t.Fatalf("expected drafting flag while generation is in flight")
	}

	form, err := coordinator.EditField(domain.FieldSummary, "typed by hand")
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if form.Drafting {
		t.Fatalf("drafting must stop after the edit")
	}
	if !generator.sawCancel() {
		t.Fatalf("expected the generation request to be cancelled")
	}

	mu.Lock()
	defer mu.Unlock()
	if callbacks != 0 {
		t.Fatalf("cancelled draft must not surface results or errors")
	}
	snapshot := coordinator.Snapshot()
	if snapshot.Values[domain.FieldHeadline] != "" || snapshot.Values[domain.FieldSummary] != "typed by hand" {
		t.Fatalf("cancelled draft mutated the form: %+v", snapshot.Values)
	}
}

func TestCoordinatorReportsInvalidDraft(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{draft: domain.Draft{Title: "Only a title"}}
	failed := make(chan error, 1)
	coordinator := NewCoordinator(generator, nil, domain.FormKindJob, Config{}, Callbacks{
		OnFailed: func(err error) { failed <- err },
	}, quietLogger())

	coordinator.TranscriptReady(context.Background(), "s", longTranscript)
	select {
	case err := <-failed:
		var draftErr *domain.DraftGenerationError
		if !errors.As(err, &draftErr) {
			t.Fatalf("expected DraftGenerationError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected failure callback")
	}
	if coordinator.Snapshot().Values[domain.FieldTitle] != "" {
		t.Fatalf("invalid draft must not be applied")
	}
}

func TestCoordinatorDraftFromVideoStoresTranscript(t *testing.T) {
	t.Parallel()

	generator := &fakeGenerator{draft: domain.Draft{Title: "Chef", Description: "Cook.", Transcript: "we need a chef"}}
	applied := make(chan domain.FormSnapshot, 1)
	coordinator := NewCoordinator(generator, nil, domain.FormKindJob, Config{}, Callbacks{
		OnApplied: func(form domain.FormSnapshot) { applied <- form },
	}, quietLogger())

	if !coordinator.DraftFromVideo(context.Background(), "k2") {
		t.Fatalf("expected video draft to start")
	}
	form := waitForm(t, applied)
	if form.Transcript != "we need a chef" || form.Values[domain.FieldTitle] != "Chef" {
		t.Fatalf("unexpected form %+v", form)
	}
	if generator.lastRequest().ObjectKey != "k2" {
		t.Fatalf("expected object key in request")
	}
	if coordinator.DraftFromVideo(context.Background(), "k3") {
		t.Fatalf("video fallback must not run once a transcript exists")
	}
}

func TestCoordinatorResetSwitchesKind(t *testing.T) {
	t.Parallel()

	coordinator := NewCoordinator(&fakeGenerator{}, nil, domain.FormKindJob, Config{}, Callbacks{}, quietLogger())
	_, _ = coordinator.EditField(domain.FieldTitle, "x")
	coordinator.Reset(domain.FormKindCandidate)

	snapshot := coordinator.Snapshot()
	if snapshot.Kind != domain.FormKindCandidate || len(snapshot.Values) != 0 || len(snapshot.Edited) != 0 {
		t.Fatalf("unexpected snapshot after reset %+v", snapshot)
	}
	if _, err := coordinator.EditField(domain.FieldTitle, "x"); err == nil {
		t.Fatalf("title is not a candidate field")
	}
}

func TestNormalizeKeywords(t *testing.T) {
	t.Parallel()

	input := []string{"Go", "GO", "  go ", "Remote  work", "remote work"}
	for i := 0; i < 30; i++ {
		input = append(input, "skill"+strings.Repeat("x", i))
	}
	got := NormalizeKeywords(input, 20)
	if len(got) != 20 {
		t.Fatalf("expected cap of 20, got %d", len(got))
	}
	if got[0] != "Go" || got[1] != "Remote work" {
		t.Fatalf("unexpected dedupe result %v", got[:2])
	}
}

func waitForm(t *testing.T, applied <-chan domain.FormSnapshot) domain.FormSnapshot {
	t.Helper()
	select {
	case form := <-applied:
		return form
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for draft")
		return domain.FormSnapshot{}
	}
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type fakeRules func(string) string

func (f fakeRules) Apply(text string) (string, error) { return f(text), nil }

type fakeGenerator struct {
	draft domain.Draft
	err   error
	block bool

	mu        sync.Mutex
	calls     int
	last      domain.DraftRequest
	cancelled bool
	started   chan struct{}
	once      sync.Once
}

func (f *fakeGenerator) GenerateDraft(ctx context.Context, req domain.DraftRequest) (domain.Draft, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	if f.started == nil {
		f.started = make(chan struct{})
	}
	started := f.started
	f.mu.Unlock()
	f.once.Do(func() { close(started) })

	if f.block {
		<-ctx.Done()
		f.mu.Lock()
		f.cancelled = true
		f.mu.Unlock()
		// Resolve with a result anyway, as a late network response would.
		return f.draft, nil
	}
	return f.draft, f.err
}

func (f *fakeGenerator) waitStarted(t *testing.T) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		f.mu.Lock()
		started := f.started
		f.mu.Unlock()
		if started != nil {
			select {
			case <-started:
				return
			case <-deadline:
				t.Fatalf("generation never started")
			}
		}
		select {
		case <-deadline:
			t.Fatalf("generation never started")
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeGenerator) sawCancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGenerator) lastRequest() domain.DraftRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
