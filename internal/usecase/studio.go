package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"zjobly/internal/audiosession"
	"zjobly/internal/capture"
	"zjobly/internal/domain"
	"zjobly/internal/drafts"
	"zjobly/internal/ports"
	"zjobly/internal/takes"
	"zjobly/internal/upload"
)

const defaultAudioContentType = "audio/ogg;codecs=opus"

// RoleStore persists the process-wide role between launches.
type RoleStore interface {
	Role() (domain.Role, bool)
	SetRole(role domain.Role) error
}

// Config controls the studio pipeline.
type Config struct {
	MaxDuration            time.Duration
	AudioChunking          bool
	AudioChunkInterval     time.Duration
	AudioContentType       string
	TranscriptPollInterval time.Duration
	ProcessingPollInterval time.Duration
	CaptureOrigin          string
	VideoFormats           []string
	TickInterval           time.Duration
	// VideoDraftFallback drafts from the uploaded video when no transcript exists.
	VideoDraftFallback bool
	Drafts             drafts.Config
	Captions           ports.StreamingConfig
}

// Dependencies are the adapters the studio runs against. Captions, Rules and
// Roles are optional.
type Dependencies struct {
	Providers  []ports.CaptureProvider
	Playback   ports.PlaybackSupport
	Probe      ports.DurationProbe
	Sniffer    capture.ContentSniffer
	Previews   ports.PreviewStore
	Media      ports.MediaAPI
	AudioAPI   ports.AudioSessionAPI
	Drafts     ports.DraftGenerator
	Processing ports.ProcessingStatusSource
	Captions   ports.CaptionProvider
	Rules      ports.TranscriptRules
	Roles      RoleStore
	Events     ports.EventSink
	Clock      clock.Clock
}

// StudioController orchestrates capture, takes, upload, transcripts and
// drafts for the recording screen.
//
// Components that wait on their own goroutines (audio runs, the draft
// coordinator, the poller, the recorder) are never called while mu is held.
// Run.Stop and context cancel functions do not wait and are safe under mu.
//
// generation counts screen lifetimes. Work started for one generation
// (takes, transcripts, finalize goroutines) is dropped once LeaveScreen has
// moved past it.
type StudioController struct {
	cfg      Config
	events   ports.EventSink
	roles    RoleStore
	previews ports.PreviewStore
	captions ports.CaptionProvider
	log      logrus.FieldLogger

	session  *capture.Session
	recorder *capture.Recorder
	importer *capture.Importer
	catalog  *takes.Catalog
	uploads  *upload.Pipeline
	poller   *upload.Poller
	audio    *audiosession.Pipeline
	drafts   *drafts.Coordinator

	startMu sync.Mutex
	// deliverMu orders transcript delivery against LeaveScreen. It is taken
	// before mu.
	deliverMu sync.Mutex

	mu             sync.Mutex
	role           domain.Role
	generation     uint64
	screenCtx      context.Context
	screenCancel   context.CancelFunc
	active         *takeInProgress
	runs           map[string]*audiosession.Run
	lastSessionID  string
	objectKey      string
	processing     domain.ProcessingStatus
	releasePreview func()

	background sync.WaitGroup
}

type takeInProgress struct {
	purpose    string
	screen     context.Context
	generation uint64
	run        *audiosession.Run
	captions   *captionSession
}

func NewStudioController(deps Dependencies, cfg Config, log logrus.FieldLogger) *StudioController {
	if cfg.AudioContentType == "" {
		cfg.AudioContentType = defaultAudioContentType
	}
	if cfg.Captions.ContentType == "" && cfg.Captions.Encoding == "" {
		cfg.Captions.ContentType = capture.BaseType(cfg.AudioContentType)
		cfg.Captions.InterimResults = true
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &StudioController{
		cfg:        cfg,
		events:     deps.Events,
		roles:      deps.Roles,
		previews:   deps.Previews,
		captions:   deps.Captions,
		log:        log.WithField("component", "studio"),
		runs:       map[string]*audiosession.Run{},
		processing: domain.ProcessingStatusIdle,
	}
	if deps.Roles != nil {
		if role, ok := deps.Roles.Role(); ok {
			c.role = role
		}
	}

	c.session = capture.NewSession(deps.Providers, capture.SessionConfig{Origin: cfg.CaptureOrigin}, log)
	c.catalog = takes.NewCatalog(deps.Previews, log)
	c.recorder = capture.NewRecorder(
		capture.RecorderConfig{
			MaxDuration:        cfg.MaxDuration,
			VideoFormats:       cfg.VideoFormats,
			AudioFormats:       []string{cfg.AudioContentType},
			AudioChunkInterval: cfg.AudioChunkInterval,
			TickInterval:       cfg.TickInterval,
		},
		deps.Playback,
		deps.Previews,
		c.catalog.Labels(),
		deps.Clock,
		capture.RecorderCallbacks{
			OnState:    c.events.RecordingStateChanged,
			OnElapsed:  c.events.ElapsedChanged,
			OnAutoStop: c.onAutoStop,
		},
		log,
	)
	c.importer = capture.NewImporter(cfg.MaxDuration, deps.Playback, deps.Probe, deps.Sniffer, deps.Previews, c.catalog.Labels(), deps.Clock, log)
	c.uploads = upload.NewPipeline(deps.Media, cfg.MaxDuration, c.events.UploadStateChanged, log)
	c.poller = upload.NewPoller(deps.Processing, cfg.ProcessingPollInterval, deps.Clock, c.onProcessingStatus, log)
	if cfg.AudioChunking && deps.AudioAPI != nil {
		c.audio = audiosession.NewPipeline(deps.AudioAPI, audiosession.Config{
			ContentType:  capture.BaseType(cfg.AudioContentType),
			PollInterval: cfg.TranscriptPollInterval,
		}, deps.Clock, audiosession.Callbacks{
			OnTranscript: c.onSessionTranscript,
			OnChunkError: func(err error) { c.events.Notice(domain.ErrorCodeAudioChunk, err.Error()) },
			OnPollError: func(err error) {
				c.log.WithError(err).Debug("transcript poll will retry")
			},
		}, log)
	}
	c.drafts = drafts.NewCoordinator(deps.Drafts, deps.Rules, domain.FormKindForRole(c.role), cfg.Drafts, drafts.Callbacks{
		OnApplied: c.events.DraftApplied,
		OnFailed:  func(err error) { c.events.Notice(domain.ErrorCodeDraft, err.Error()) },
	}, log)
	return c
}

// SwitchRole persists the role. A different role clears the studio and
// switches the draft form.
func (c *StudioController) SwitchRole(role domain.Role) error {
	if c.roles != nil {
		if err := c.roles.SetRole(role); err != nil {
			return err
		}
	} else if role != domain.RoleEmployer && role != domain.RoleCandidate {
		return fmt.Errorf("unknown role %q", role)
	}

	c.mu.Lock()
	previous := c.role
	c.role = role
	c.mu.Unlock()

	if previous == role {
		return nil
	}
	c.LeaveScreen()
	c.drafts.Reset(domain.FormKindForRole(role))
	c.log.WithFields(logrus.Fields{"from": previous, "to": role}).Info("role switched")
	return nil
}

// Acquire opens the stream for the live preview, reusing an active one.
func (c *StudioController) Acquire(ctx context.Context) error {
	c.mu.Lock()
	attached := c.releasePreview != nil
	c.mu.Unlock()
	if attached {
		return nil
	}

	_, release, err := c.session.AttachPreview(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.releasePreview != nil {
		c.mu.Unlock()
		release()
		return nil
	}
	c.releasePreview = release
	c.mu.Unlock()
	return nil
}

// ReleaseStream detaches the preview. Tracks stop once no recorder uses them.
func (c *StudioController) ReleaseStream() {
	c.mu.Lock()
	release := c.releasePreview
	c.releasePreview = nil
	c.mu.Unlock()

	if release != nil {
		release()
	}
}

// StartRecording begins a take. A recording still in progress is stopped
// and kept as a take first.
func (c *StudioController) StartRecording(ctx context.Context, purpose string) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.recorder.State() != domain.RecordingStateIdle {
		if _, err := c.StopRecording(); err != nil && !domain.IsAborted(err) {
			c.log.WithError(err).Warn("previous recording could not be kept")
		}
	}

	stream, err := c.session.Acquire(ctx)
	if err != nil {
		return err
	}
	screen, generation := c.screen()
	progress := &takeInProgress{purpose: purpose, screen: screen, generation: generation}
	opts := capture.StartOptions{Purpose: purpose}

	if capture.HasTrack(stream, ports.TrackKindAudio) {
		var sinks audioFanout
		if c.audio != nil {
			// The run is registered before its first poll can resolve.
			c.mu.Lock()
			if c.generation != generation {
				c.mu.Unlock()
				return context.Canceled
			}
			progress.run = c.audio.Begin(screen)
			c.runs[progress.run.ID()] = progress.run
			c.lastSessionID = progress.run.ID()
			c.mu.Unlock()
			opts.AudioSessionID = progress.run.ID()
			sinks = append(sinks, progress.run)
		}
		if c.captions != nil {
			progress.captions = c.startCaptions(screen)
			if progress.captions != nil {
				sinks = append(sinks, progress.captions)
			}
		}
		if len(sinks) > 0 {
			opts.AudioSink = sinks
		}
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		c.discard(progress)
		return context.Canceled
	}
	c.active = progress
	c.mu.Unlock()

	if err := c.recorder.Start(screen, c.session, opts); err != nil {
		c.discard(c.detachActive(progress))
		return err
	}
	return nil
}

func (c *StudioController) PauseRecording() error {
	return c.recorder.Pause()
}

func (c *StudioController) ResumeRecording() error {
	return c.recorder.Resume()
}

// StopRecording finishes the take and adds it to the catalog. Stopping while
// idle returns (nil, nil).
func (c *StudioController) StopRecording() (*domain.Take, error) {
	take, err := c.recorder.Stop()
	if take == nil && err == nil {
		return nil, nil
	}
	return c.completeTake(c.detachActive(nil), take, err)
}

// ImportFile validates a picked file and adds it as an upload take.
func (c *StudioController) ImportFile(ctx context.Context, path string, declaredType string, purpose string) (*domain.Take, error) {
	generation := c.currentGeneration()
	take, err := c.importer.Import(ctx, path, declaredType, purpose)
	if err != nil {
		return nil, err
	}
	if err := c.addTake(*take, generation, nil); err != nil {
		c.releaseTakePreview(*take)
		return nil, err
	}
	return take, nil
}

// ListTakes returns the catalog newest first.
func (c *StudioController) ListTakes() []domain.Take {
	return c.catalog.Takes()
}

// SelectTake ignores unknown ids.
func (c *StudioController) SelectTake(id string) bool {
	return c.catalog.Select(id)
}

// UploadSelected runs presign, transfer and confirm for the selected take,
// then starts processing polling. A take without a transcript drafts from
// the uploaded video when the fallback is enabled.
func (c *StudioController) UploadSelected(ctx context.Context) (domain.ObjectReference, error) {
	take, ok := c.catalog.Selected()
	if !ok {
		return domain.ObjectReference{}, domain.ErrNoSelectedTake
	}

	screen, generation := c.screen()
	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(screen, cancel)
	defer stop()

	c.poller.Stop()
	ref, err := c.uploads.Upload(uploadCtx, take)
	if err != nil {
		return domain.ObjectReference{}, err
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return domain.ObjectReference{}, context.Canceled
	}
	c.objectKey = ref.ObjectKey
	c.mu.Unlock()

	c.poller.Start(screen, ref.ObjectKey)
	if c.cfg.VideoDraftFallback && take.AudioSessionID == "" {
		c.drafts.DraftFromVideo(screen, ref.ObjectKey)
	}
	return ref, nil
}

// EditField records a user edit to the draft form.
func (c *StudioController) EditField(field domain.Field, value string) (domain.FormSnapshot, error) {
	return c.drafts.EditField(field, value)
}

func (c *StudioController) GetForm() domain.FormSnapshot {
	return c.drafts.Snapshot()
}

func (c *StudioController) GetStatus() domain.Status {
	uploadState, progress := c.uploads.State()
	status := domain.Status{
		Recording:      c.recorder.State(),
		ElapsedSeconds: c.recorder.ElapsedSeconds(),
		Upload:         uploadState,
		UploadProgress: progress,
		SelectedTakeID: c.catalog.SelectedID(),
		TakeCount:      c.catalog.Len(),
		StreamActive:   c.session.Active(),
	}

	c.mu.Lock()
	status.Role = c.role
	status.Processing = c.processing
	status.ObjectKey = c.objectKey
	status.AudioSessionID = c.lastSessionID
	c.mu.Unlock()

	if c.audio != nil && status.AudioSessionID != "" {
		if transcript, ok := c.audio.Transcript(status.AudioSessionID); ok {
			status.TranscriptStatus = transcript.Status
		}
	}
	return status
}

// LeaveScreen tears down everything scoped to the recording screen: the
// recording, audio sessions, polling, uploads in flight, draft generation,
// the takes and the stream.
func (c *StudioController) LeaveScreen() {
	c.deliverMu.Lock()
	c.mu.Lock()
	c.generation++
	active := c.active
	c.active = nil
	runs := c.runs
	c.runs = map[string]*audiosession.Run{}
	for _, run := range runs {
		run.Stop()
	}
	if c.screenCancel != nil {
		c.screenCancel()
	}
	c.screenCtx = nil
	c.screenCancel = nil
	release := c.releasePreview
	c.releasePreview = nil
	c.lastSessionID = ""
	c.objectKey = ""
	c.processing = domain.ProcessingStatusIdle
	c.mu.Unlock()
	c.deliverMu.Unlock()

	c.recorder.Abort()
	if active != nil && active.captions != nil {
		active.captions.Abort()
	}
	for id, run := range runs {
		run.Cancel()
		c.audio.Forget(id)
	}
	c.background.Wait()
	c.poller.Stop()
	c.uploads.Reset()
	c.drafts.Stop()
	c.catalog.RemoveAll()
	if release != nil {
		release()
	}
	c.session.Release()
	c.log.Info("screen left")
}

// Close releases everything on shutdown.
func (c *StudioController) Close() {
	c.LeaveScreen()
}

// screen returns the context shared by every screen-scoped operation and
// the generation it belongs to.
func (c *StudioController) screen() (context.Context, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screenCtx == nil {
		c.screenCtx, c.screenCancel = context.WithCancel(context.Background())
	}
	return c.screenCtx, c.generation
}

func (c *StudioController) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *StudioController) startCaptions(ctx context.Context) *captionSession {
	session, err := c.captions.StartStreaming(ctx, c.cfg.Captions)
	if err != nil {
		if !domain.IsAborted(err) {
			c.log.WithError(err).Warn("live captions unavailable")
			c.events.Notice(domain.ErrorCodeCaptions, err.Error())
		}
		return nil
	}
	return newCaptionSession(session, c.events, c.log.WithField("feature", "captions"))
}

// detachActive clears the take in progress. When want is set, only that take
// is cleared.
func (c *StudioController) detachActive(want *takeInProgress) *takeInProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.active
	if active == nil || (want != nil && active != want) {
		return nil
	}
	c.active = nil
	return active
}

func (c *StudioController) onAutoStop(take *domain.Take, err error) {
	active := c.detachActive(nil)
	if active == nil {
		if take != nil {
			c.releaseTakePreview(*take)
		}
		return
	}
	if _, err := c.completeTake(active, take, err); err != nil && !domain.IsAborted(err) {
		c.events.StudioError(domain.CodeForError(err), err.Error())
	}
}

func (c *StudioController) completeTake(active *takeInProgress, take *domain.Take, err error) (*domain.Take, error) {
	var captionText string
	if active != nil && active.captions != nil {
		captionText = active.captions.Finish()
	}
	if err != nil || take == nil {
		c.discard(active)
		return nil, err
	}
	if active == nil {
		// LeaveScreen detached the take while the recorder was finishing.
		c.releaseTakePreview(*take)
		return nil, context.Canceled
	}
	if active.run != nil && take.AudioSessionID == "" {
		c.discardRun(active.run)
	}

	var finish func()
	if take.AudioSessionID != "" && active.run != nil {
		run, screen := active.run, active.screen
		finish = func() { run.Finish(screen) }
	}
	if err := c.addTake(*take, active.generation, finish); err != nil {
		c.releaseTakePreview(*take)
		if active.run != nil {
			c.discardRun(active.run)
		}
		return nil, err
	}

	if finish == nil && captionText != "" {
		c.deliverTranscript(active.generation, domain.Transcript{SessionID: take.ID, Status: domain.TranscriptStatusFinal, Text: captionText})
	}
	return take, nil
}

// addTake adds the take unless the screen it was made on has been left.
// finish, when set, runs in the background and LeaveScreen waits for it.
func (c *StudioController) addTake(take domain.Take, generation uint64, finish func()) error {
	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return context.Canceled
	}
	if err := c.catalog.Add(take); err != nil {
		c.mu.Unlock()
		return err
	}
	c.catalog.Select(take.ID)
	if finish != nil {
		c.background.Add(1)
	}
	c.mu.Unlock()

	c.events.TakeAdded(take)
	if finish != nil {
		go func() {
			defer c.background.Done()
			finish()
		}()
	}
	return nil
}

func (c *StudioController) discard(active *takeInProgress) {
	if active == nil {
		return
	}
	if active.captions != nil {
		active.captions.Abort()
	}
	if active.run != nil {
		c.discardRun(active.run)
	}
}

func (c *StudioController) discardRun(run *audiosession.Run) {
	c.mu.Lock()
	delete(c.runs, run.ID())
	if c.lastSessionID == run.ID() {
		c.lastSessionID = ""
	}
	c.mu.Unlock()

	run.Cancel()
	c.audio.Forget(run.ID())
}

func (c *StudioController) releaseTakePreview(take domain.Take) {
	if take.PreviewURL == "" {
		return
	}
	if err := c.previews.Release(take.PreviewURL); err != nil {
		c.log.WithError(err).WithField("take_id", take.ID).Warn("release preview")
	}
}

// onSessionTranscript drops results for runs no longer registered. LeaveScreen
// and discarded takes unregister their runs.
func (c *StudioController) onSessionTranscript(transcript domain.Transcript) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	_, registered := c.runs[transcript.SessionID]
	screen := c.screenCtx
	c.mu.Unlock()
	if !registered || screen == nil {
		return
	}
	c.transcriptReady(screen, transcript)
}

// deliverTranscript hands a transcript to the drafts while generation is
// still the current screen.
func (c *StudioController) deliverTranscript(generation uint64, transcript domain.Transcript) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	screen := c.screenCtx
	current := c.generation == generation && screen != nil
	c.mu.Unlock()
	if !current {
		return
	}
	c.transcriptReady(screen, transcript)
}

func (c *StudioController) transcriptReady(ctx context.Context, transcript domain.Transcript) {
	c.events.TranscriptUpdated(transcript)
	if transcript.Status == domain.TranscriptStatusPending || transcript.Text == "" {
		return
	}
	c.drafts.TranscriptReady(ctx, transcript.SessionID, transcript.Text)
}

func (c *StudioController) onProcessingStatus(objectKey string, status domain.ProcessingStatus) {
	c.mu.Lock()
	c.processing = status
	c.mu.Unlock()
	c.events.ProcessingStatusChanged(objectKey, status)
}
