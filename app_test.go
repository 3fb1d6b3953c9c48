package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"zjobly/internal/domain"
)

func TestRecordingStateMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.RecordingState]string{
		domain.RecordingStateIdle:      "Ready to record",
		domain.RecordingStateRecording: "Recording",
		domain.RecordingStatePaused:    "Paused",
	}
	for state, want := range cases {
		state := state
		want := want
		t.Run(string(state), func(t *testing.T) {
			t.Parallel()
			if got := recordingStateMessage(state); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := recordingStateMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown state message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:         "Startup failed",
		domain.ErrorCodePermission:      "Camera or microphone access was denied",
		domain.ErrorCodeInsecureContext: "Recording needs a secure origin",
		domain.ErrorCodeUnsupported:     "Recording is not supported on this device",
		domain.ErrorCodeMediaType:       "This video format cannot be played here",
		domain.ErrorCodeDuration:        "Video is longer than the allowed duration",
		domain.ErrorCodeNoSelection:     "Select a take first",
		domain.ErrorCodeUpload:          "Upload failed",
		domain.ErrorCodeDraft:           "Could not generate a draft",
		domain.ErrorCodeAudioChunk:      "Part of the audio could not be uploaded",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StartRecording("intro"); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from bound method, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.Recording != domain.RecordingStateIdle || status.Upload != domain.UploadStateIdle {
		t.Fatalf("unexpected status: %+v", status)
	}
	if takes := app.ListTakes(); takes == nil || len(takes) != 0 {
		t.Fatalf("expected empty take list, got %v", takes)
	}

	app.bootErr = errors.New("boot")
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("unexpected runtime info: %v", info)
	}
}

func TestFailEmitsBlockingErrorsOnly(t *testing.T) {
	t.Parallel()

	recorder := &emitRecorder{}
	app := &App{ctx: context.Background(), emit: recorder.emit}

	upload := &domain.UploadError{Step: domain.UploadStepPresign, Reason: "HTTP 500"}
	if err := app.fail(upload); !errors.Is(err, upload) {
		t.Fatalf("expected error passthrough, got %v", err)
	}
	_ = app.fail(fmt.Errorf("upload: %w", context.Canceled))

	events := recorder.snapshot()
	if len(events) != 1 || events[0].name != eventError {
		t.Fatalf("expected one error event, got %+v", events)
	}
	payload := events[0].data.(map[string]string)
	if payload["code"] != string(domain.ErrorCodeUpload) || payload["message"] != "Upload failed" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestEventSinkEmitsStudioEvents(t *testing.T) {
	t.Parallel()

	recorder := &emitRecorder{}
	app := &App{ctx: context.Background(), emit: recorder.emit}

	app.RecordingStateChanged(domain.RecordingStateRecording)
	app.ElapsedChanged(1.5)
	app.TakeAdded(domain.Take{ID: "t1"})
	app.UploadStateChanged(domain.UploadStateUploading, 40)
	app.ProcessingStatusChanged("k1", domain.ProcessingStatusSuccess)
	app.TranscriptUpdated(domain.Transcript{SessionID: "s1", Status: domain.TranscriptStatusFinal})
	app.CaptionPartial("hello")
	app.DraftApplied(domain.FormSnapshot{Kind: domain.FormKindJob})
	app.StudioError(domain.ErrorCodeCapture, "boom")
	app.Notice(domain.ErrorCodeDraft, "later")

	want := []string{
		eventRecording, eventElapsed, eventTake, eventUpload, eventProcessing,
		eventTranscript, eventCaption, eventDraft, eventError, eventNotice,
	}
	events := recorder.snapshot()
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, name := range want {
		if events[i].name != name {
			t.Fatalf("event %d: expected %s, got %s", i, name, events[i].name)
		}
	}
}

func TestEventsDroppedBeforeStartup(t *testing.T) {
	t.Parallel()

	recorder := &emitRecorder{}
	app := &App{emit: recorder.emit}
	app.Notice(domain.ErrorCodeDraft, "early")
	if events := recorder.snapshot(); len(events) != 0 {
		t.Fatalf("expected no events without a runtime context, got %+v", events)
	}
}

func TestAssetHandlerRoutesFrontendAndPreviews(t *testing.T) {
	t.Parallel()

	frontend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("frontend"))
	})
	handler := (&App{}).assetHandler(frontend)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	if rec.Body.String() != "frontend" {
		t.Fatalf("expected frontend response, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before startup, got %d", rec.Code)
	}
}

type emitted struct {
	name string
	data interface{}
}

type emitRecorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *emitRecorder) emit(_ context.Context, name string, data ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payload interface{}
	if len(data) > 0 {
		payload = data[0]
	}
	r.events = append(r.events, emitted{name: name, data: payload})
}

func (r *emitRecorder) snapshot() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}
