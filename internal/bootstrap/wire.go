package bootstrap

import (
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"zjobly/internal/api"
	"zjobly/internal/appsession"
	"zjobly/internal/config"
	"zjobly/internal/drafts"
	"zjobly/internal/logging"
	"zjobly/internal/media"
	"zjobly/internal/ports"
	"zjobly/internal/preview"
	"zjobly/internal/providers/deepgram"
	"zjobly/internal/providers/llm"
	"zjobly/internal/rules"
	"zjobly/internal/upload"
	"zjobly/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.StudioController
	Previews   *preview.Store
	Config     config.Config
	Logger     *logrus.Logger

	logCloser io.Closer
}

// Close shuts the studio down and flushes the log file.
func (s Services) Close() error {
	if s.Controller != nil {
		s.Controller.Close()
	}
	if s.logCloser != nil {
		return s.logCloser.Close()
	}
	return nil
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
	}, os.Stderr)
	if err != nil {
		return Services{}, err
	}

	normalizer, err := rules.Load(cfg.Rules.Path, rules.Options{MaxPasses: cfg.Rules.MaxPasses, StripFillers: true})
	if err != nil {
		_ = logCloser.Close()
		return Services{}, err
	}

	client := api.NewClient(api.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout}, logger)
	generator, err := draftGenerator(cfg, client, logger)
	if err != nil {
		_ = logCloser.Close()
		return Services{}, err
	}

	var captions ports.CaptionProvider
	if cfg.Deepgram.APIKey != "" {
		captions = deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		}, logger)
	}

	roles := appsession.NewStore(cfg.Session.Path, logger)
	roles.Load()

	clk := clock.New()
	previews := preview.NewStore(logger)
	controller := usecase.NewStudioController(usecase.Dependencies{
		Providers: media.Providers(media.ProviderConfig{
			Command:     cfg.Capture.FFmpegCommand,
			VideoDevice: cfg.Capture.VideoDevice,
			AudioDevice: cfg.Capture.AudioDevice,
		}, clk, logger),
		Playback:   media.NewPlaybackList(cfg.Capture.PlayableTypes),
		Probe:      media.NewFFProbe(cfg.Capture.FFprobeCommand),
		Sniffer:    media.Sniffer{},
		Previews:   previews,
		Media:      client,
		AudioAPI:   client,
		Drafts:     generator,
		Processing: upload.StubStatusSource{SuccessAfter: cfg.Processing.SuccessAfter},
		Captions:   captions,
		Rules:      normalizer,
		Roles:      roles,
		Events:     eventSink,
		Clock:      clk,
	}, usecase.Config{
		MaxDuration:            cfg.Capture.MaxDuration,
		AudioChunking:          cfg.Audio.Chunking,
		AudioChunkInterval:     cfg.Audio.ChunkInterval,
		TranscriptPollInterval: cfg.Audio.PollInterval,
		ProcessingPollInterval: cfg.Processing.PollInterval,
		CaptureOrigin:          cfg.Capture.Origin,
		VideoDraftFallback:     cfg.Drafts.Provider == config.DraftProviderAPI,
		Drafts: drafts.Config{
			MinTranscriptChars: cfg.Drafts.MinTranscriptChars,
			MaxKeywords:        cfg.Drafts.MaxKeywords,
			Language:           cfg.Drafts.Language,
		},
	}, logger)

	logger.WithFields(logrus.Fields{
		"api":            cfg.API.BaseURL,
		"draft_provider": cfg.Drafts.Provider,
		"audio_chunking": cfg.Audio.Chunking,
		"captions":       captions != nil,
	}).Info("studio ready")

	return Services{
		Controller: controller,
		Previews:   previews,
		Config:     cfg,
		Logger:     logger,
		logCloser:  logCloser,
	}, nil
}

func draftGenerator(cfg config.Config, client *api.Client, log logrus.FieldLogger) (ports.DraftGenerator, error) {
	if cfg.Drafts.Provider != config.DraftProviderLLM {
		return client, nil
	}
	generator, err := llm.NewOpenAI(llm.Config{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model}, log)
	if err != nil {
		return nil, fmt.Errorf("draft provider %q: %w", config.DraftProviderLLM, err)
	}
	return generator, nil
}
