package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"zjobly/internal/bootstrap"
	"zjobly/internal/config"
	"zjobly/internal/domain"
	"zjobly/internal/preview"
	"zjobly/internal/usecase"
)

const (
	eventRecording  = "studio:recording"
	eventElapsed    = "studio:elapsed"
	eventTake       = "studio:take"
	eventUpload     = "studio:upload"
	eventProcessing = "studio:processing"
	eventTranscript = "studio:transcript"
	eventCaption    = "studio:caption"
	eventDraft      = "studio:draft"
	eventError      = "studio:error"
	eventNotice     = "studio:notice"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.StudioController
	services   bootstrap.Services
	cfg        config.Config
	bootErr    error
	previews   atomic.Pointer[preview.Store]

	// emit is swapped out in tests.
	emit func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.StudioError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.previews.Store(services.Previews)
	a.cfg = services.Config
	a.controller = services.Controller
	a.RecordingStateChanged(domain.RecordingStateIdle)
}

func (a *App) shutdown(context.Context) {
	if err := a.services.Close(); err != nil && a.services.Logger != nil {
		a.services.Logger.WithError(err).Warn("shutdown")
	}
}

// assetHandler serves preview URLs. Everything else goes to the frontend.
func (a *App) assetHandler(frontend http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(preview.PathPrefix, func(w http.ResponseWriter, r *http.Request) {
		previews := a.previews.Load()
		if previews == nil {
			http.NotFound(w, r)
			return
		}
		previews.ServeHTTP(w, r)
	})
	if frontend != nil {
		mux.Handle("/", frontend)
	}
	return mux
}

// SwitchRole changes the acting role and clears the studio when it differs.
func (a *App) SwitchRole(role string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.SwitchRole(domain.Role(strings.ToLower(strings.TrimSpace(role)))); err != nil {
		return domain.Status{}, err
	}
	return a.controller.GetStatus(), nil
}

// Acquire opens the camera and microphone for the live preview.
func (a *App) Acquire() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Acquire(a.ctx); err != nil {
		return domain.Status{}, a.fail(err)
	}
	return a.controller.GetStatus(), nil
}

// ReleaseStream stops the live preview when nothing is recording.
func (a *App) ReleaseStream() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.ReleaseStream()
	return nil
}

// StartRecording begins a new take. A running take is stopped and kept.
func (a *App) StartRecording(purpose string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.StartRecording(a.ctx, purpose); err != nil {
		return domain.Status{}, a.fail(err)
	}
	return a.controller.GetStatus(), nil
}

// PauseRecording pauses the running take.
func (a *App) PauseRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.PauseRecording(); err != nil {
		return domain.Status{}, a.fail(err)
	}
	return a.controller.GetStatus(), nil
}

// ResumeRecording resumes a paused take.
func (a *App) ResumeRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.ResumeRecording(); err != nil {
		return domain.Status{}, a.fail(err)
	}
	return a.controller.GetStatus(), nil
}

// StopRecording finalizes the running take. It returns nil when idle.
func (a *App) StopRecording() (*domain.Take, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	take, err := a.controller.StopRecording()
	if err != nil {
		return nil, a.fail(err)
	}
	return take, nil
}

// PickMediaFile opens a native file dialog and returns the chosen path.
func (a *App) PickMediaFile() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Choose a video",
		Filters: []runtime.FileFilter{
			{DisplayName: "Video files", Pattern: "*.webm;*.mp4;*.mov;*.m4v;*.mkv;*.ts"},
			{DisplayName: "All files", Pattern: "*"},
		},
	})
}

// ImportFile validates a local file and adds it as an uploaded take.
func (a *App) ImportFile(path string, declaredType string, purpose string) (*domain.Take, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	take, err := a.controller.ImportFile(a.ctx, path, declaredType, purpose)
	if err != nil {
		return nil, a.fail(err)
	}
	return take, nil
}

// ListTakes returns the takes, newest first.
func (a *App) ListTakes() []domain.Take {
	if a.controller == nil {
		return []domain.Take{}
	}
	return a.controller.ListTakes()
}

// SelectTake marks a take for upload.
func (a *App) SelectTake(id string) (bool, error) {
	if err := a.requireReady(); err != nil {
		return false, err
	}
	return a.controller.SelectTake(id), nil
}

// UploadSelected uploads the selected take and starts processing polls.
func (a *App) UploadSelected() (domain.ObjectReference, error) {
	if err := a.requireReady(); err != nil {
		return domain.ObjectReference{}, err
	}
	ref, err := a.controller.UploadSelected(a.ctx)
	if err != nil {
		return domain.ObjectReference{}, a.fail(err)
	}
	return ref, nil
}

// EditField stores a user edit; later drafts leave the field alone.
func (a *App) EditField(field string, value string) (domain.FormSnapshot, error) {
	if err := a.requireReady(); err != nil {
		return domain.FormSnapshot{}, err
	}
	return a.controller.EditField(domain.Field(field), value)
}

// GetForm returns the draft form.
func (a *App) GetForm() domain.FormSnapshot {
	if a.controller == nil {
		return domain.FormSnapshot{}
	}
	return a.controller.GetForm()
}

// GetStatus returns the studio status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		return domain.Status{Recording: domain.RecordingStateIdle, Upload: domain.UploadStateIdle, Processing: domain.ProcessingStatusIdle}
	}
	return a.controller.GetStatus()
}

// LeaveScreen cancels everything scoped to the studio view.
func (a *App) LeaveScreen() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.LeaveScreen()
	return nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	captions := "off"
	if a.cfg.Deepgram.APIKey != "" {
		captions = "Deepgram " + a.cfg.Deepgram.Model
	}
	return map[string]string{
		"api":           a.cfg.API.BaseURL,
		"draftProvider": a.cfg.Drafts.Provider,
		"maxDuration":   a.cfg.Capture.MaxDuration.String(),
		"audioChunking": fmt.Sprintf("%t", a.cfg.Audio.Chunking),
		"captions":      captions,
		"rulesFile":     a.cfg.Rules.Path,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// fail reports a blocking error to the UI. Aborted operations stay quiet.
func (a *App) fail(err error) error {
	if !domain.IsAborted(err) {
		a.StudioError(domain.CodeForError(err), err.Error())
	}
	return err
}

func (a *App) send(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

// RecordingStateChanged emits recorder transitions.
func (a *App) RecordingStateChanged(state domain.RecordingState) {
	a.send(eventRecording, map[string]string{
		"state":   string(state),
		"message": recordingStateMessage(state),
	})
}

func (a *App) ElapsedChanged(seconds float64) {
	a.send(eventElapsed, map[string]float64{"seconds": seconds})
}

func (a *App) TakeAdded(take domain.Take) {
	a.send(eventTake, take)
}

func (a *App) UploadStateChanged(state domain.UploadState, progress int) {
	a.send(eventUpload, map[string]interface{}{"state": string(state), "progress": progress})
}

func (a *App) ProcessingStatusChanged(objectKey string, status domain.ProcessingStatus) {
	a.send(eventProcessing, map[string]string{"objectKey": objectKey, "status": string(status)})
}

func (a *App) TranscriptUpdated(transcript domain.Transcript) {
	a.send(eventTranscript, transcript)
}

// CaptionPartial emits live caption text.
func (a *App) CaptionPartial(text string) {
	a.send(eventCaption, map[string]string{"text": text})
}

func (a *App) DraftApplied(form domain.FormSnapshot) {
	a.send(eventDraft, form)
}

// StudioError emits blocking errors.
func (a *App) StudioError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// Notice emits dismissible background failures.
func (a *App) Notice(code domain.ErrorCode, detail string) {
	a.send(eventNotice, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func recordingStateMessage(state domain.RecordingState) string {
	switch state {
	case domain.RecordingStateIdle:
		return "Ready to record"
	case domain.RecordingStateRecording:
		return "Recording"
	case domain.RecordingStatePaused:
		return "Paused"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCapture:
		return "Recording failed"
	case domain.ErrorCodePermission:
		return "Camera or microphone access was denied"
	case domain.ErrorCodeInsecureContext:
		return "Recording needs a secure origin"
	case domain.ErrorCodeUnsupported:
		return "Recording is not supported on this device"
	case domain.ErrorCodeMediaType:
		return "This video format cannot be played here"
	case domain.ErrorCodeDuration:
		return "Video is longer than the allowed duration"
	case domain.ErrorCodeNoSelection:
		return "Select a take first"
	case domain.ErrorCodeUpload:
		return "Upload failed"
	case domain.ErrorCodeTranscript:
		return "Transcript is not ready yet"
	case domain.ErrorCodeDraft:
		return "Could not generate a draft"
	case domain.ErrorCodeAudioChunk:
		return "Part of the audio could not be uploaded"
	case domain.ErrorCodeCaptions:
		return "Live captions stopped"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
