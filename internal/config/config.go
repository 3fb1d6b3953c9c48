package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the studio.
type Config struct {
	API        APIConfig
	Capture    CaptureConfig
	Audio      AudioConfig
	Processing ProcessingConfig
	Drafts     DraftsConfig
	LLM        LLMConfig
	Deepgram   DeepgramConfig
	Rules      RulesConfig
	Session    SessionConfig
	Log        LogConfig
	// FrontendDir is the directory the webview assets are served from.
	FrontendDir string
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type CaptureConfig struct {
	MaxDuration    time.Duration
	FFmpegCommand  string
	FFprobeCommand string
	VideoDevice    string
	AudioDevice    string
	PlayableTypes  []string
	Origin         string
}

type AudioConfig struct {
	Chunking      bool
	ChunkInterval time.Duration
	PollInterval  time.Duration
}

type ProcessingConfig struct {
	PollInterval time.Duration
	SuccessAfter int
}

type DraftsConfig struct {
	Provider           string
	Language           string
	MinTranscriptChars int
	MaxKeywords        int
}

type LLMConfig struct {
	APIKey string
	Model  string
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

type RulesConfig struct {
	Path      string
	MaxPasses int
}

type SessionConfig struct {
	Path string
}

type LogConfig struct {
	Level  string
	Format string
	Dir    string
}

const (
	DraftProviderAPI = "api"
	DraftProviderLLM = "llm"
)

// Load resolves configuration. Precedence is environment, then .env, then
// runtime.json, then defaults.
func Load() (Config, error) {
	if err := loadDotEnv(envOrDefault("ZJOBLY_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Config{}, errors.New("could not determine config directory")
	}
	appDir := filepath.Join(configDir, "zjobly")

	runtimePath := strings.TrimSpace(os.Getenv("ZJOBLY_RUNTIME_CONFIG"))
	if runtimePath == "" {
		if dir := strings.TrimSpace(os.Getenv("ZJOBLY_CONFIG_DIR")); dir != "" {
			runtimePath = filepath.Join(dir, "runtime.json")
		}
	}
	runtime, err := loadRuntime(runtimePath)
	if err != nil {
		return Config{}, err
	}

	rulesPath := strings.TrimSpace(os.Getenv("ZJOBLY_RULES_FILE"))
	if rulesPath == "" {
		rulesPath = firstExisting(filepath.Join(appDir, "transcript.rules"))
	}

	cfg := Config{
		API: APIConfig{
			BaseURL: strings.TrimRight(envOrDefault("ZJOBLY_API_BASE", "http://localhost:8000"), "/"),
			Timeout: millis("ZJOBLY_API_TIMEOUT_MS", 15000),
		},
		Capture: CaptureConfig{
			MaxDuration:    time.Duration(envOrDefaultInt("ZJOBLY_MAX_DURATION_SEC", runtime.intValue("capture", "max_duration_sec", 180))) * time.Second,
			FFmpegCommand:  envOrDefault("ZJOBLY_FFMPEG_COMMAND", "ffmpeg"),
			FFprobeCommand: envOrDefault("ZJOBLY_FFPROBE_COMMAND", "ffprobe"),
			VideoDevice:    strings.TrimSpace(os.Getenv("ZJOBLY_VIDEO_DEVICE")),
			AudioDevice:    strings.TrimSpace(os.Getenv("ZJOBLY_AUDIO_DEVICE")),
			PlayableTypes:  splitList(os.Getenv("ZJOBLY_PLAYABLE_TYPES")),
			Origin:         strings.TrimSpace(os.Getenv("ZJOBLY_APP_ORIGIN")),
		},
		Audio: AudioConfig{
			Chunking:      envOrDefaultBool("ZJOBLY_AUDIO_CHUNKING", runtime.boolValue("capture", "audio_chunking", false)),
			ChunkInterval: millis("ZJOBLY_AUDIO_CHUNK_MS", runtime.intValue("capture", "audio_chunk_ms", 5000)),
			PollInterval:  millis("ZJOBLY_TRANSCRIPT_POLL_MS", runtime.intValue("capture", "transcript_poll_ms", 3000)),
		},
		Processing: ProcessingConfig{
			PollInterval: millis("ZJOBLY_PROCESSING_POLL_MS", runtime.intValue("processing", "poll_ms", 2000)),
			SuccessAfter: envOrDefaultInt("ZJOBLY_PROCESSING_SUCCESS_AFTER", runtime.intValue("processing", "success_after", 3)),
		},
		Drafts: DraftsConfig{
			Provider:           strings.ToLower(envOrDefault("ZJOBLY_DRAFT_PROVIDER", DraftProviderAPI)),
			Language:           strings.TrimSpace(os.Getenv("ZJOBLY_DRAFT_LANGUAGE")),
			MinTranscriptChars: envOrDefaultInt("ZJOBLY_MIN_TRANSCRIPT_CHARS", runtime.intValue("drafts", "min_transcript_chars", 30)),
			MaxKeywords:        envOrDefaultInt("ZJOBLY_MAX_KEYWORDS", runtime.intValue("drafts", "max_keywords", 20)),
		},
		LLM: LLMConfig{
			APIKey: strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Model:  envOrDefault("LLM_MODEL", "gpt-4o-mini"),
		},
		Deepgram: DeepgramConfig{
			APIKey:      strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:  envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:       envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:    strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
			SmartFormat: envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
		},
		Rules: RulesConfig{
			Path:      rulesPath,
			MaxPasses: envOrDefaultInt("ZJOBLY_RULE_MAX_PASSES", 10),
		},
		Session: SessionConfig{
			Path: envOrDefault("ZJOBLY_SESSION_FILE", filepath.Join(appDir, "session.json")),
		},
		Log: LogConfig{
			Level:  envOrDefault("ZJOBLY_LOG_LEVEL", "info"),
			Format: envOrDefault("ZJOBLY_LOG_FORMAT", "text"),
			Dir:    strings.TrimSpace(os.Getenv("ZJOBLY_LOG_DIR")),
		},
		FrontendDir: envOrDefault("ZJOBLY_FRONTEND_DIR", "frontend"),
	}

	if cfg.API.Timeout < time.Second {
		cfg.API.Timeout = 15 * time.Second
	}
	if cfg.Capture.MaxDuration <= 0 {
		cfg.Capture.MaxDuration = 180 * time.Second
	}
	if cfg.Audio.ChunkInterval < time.Second {
		cfg.Audio.ChunkInterval = time.Second
	}
	if cfg.Audio.PollInterval < 500*time.Millisecond {
		cfg.Audio.PollInterval = 500 * time.Millisecond
	}
	if cfg.Processing.PollInterval < 500*time.Millisecond {
		cfg.Processing.PollInterval = 500 * time.Millisecond
	}
	if cfg.Processing.SuccessAfter <= 0 {
		cfg.Processing.SuccessAfter = 3
	}
	if cfg.Drafts.Provider != DraftProviderLLM {
		cfg.Drafts.Provider = DraftProviderAPI
	}
	if cfg.Drafts.MinTranscriptChars <= 0 {
		cfg.Drafts.MinTranscriptChars = 30
	}
	if cfg.Drafts.MaxKeywords <= 0 {
		cfg.Drafts.MaxKeywords = 20
	}
	if cfg.Rules.MaxPasses <= 0 {
		cfg.Rules.MaxPasses = 10
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// runtimeFile is the optional runtime.json overlay, grouped by section.
type runtimeFile map[string]map[string]json.RawMessage

func loadRuntime(path string) (runtimeFile, error) {
	if path == "" {
		return runtimeFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return runtimeFile{}, nil
		}
		return nil, fmt.Errorf("read runtime config: %w", err)
	}
	var parsed runtimeFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse runtime config %s: %w", path, err)
	}
	return parsed, nil
}

// intValue returns a positive number from the overlay or the fallback.
func (r runtimeFile) intValue(section string, key string, fallback int) int {
	raw, ok := r[section][key]
	if !ok {
		return fallback
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil || value <= 0 {
		return fallback
	}
	return int(value)
}

func (r runtimeFile) boolValue(section string, key string, fallback bool) bool {
	raw, ok := r[section][key]
	if !ok {
		return fallback
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		return fallback
	}
	return value
}

func millis(key string, fallback int) time.Duration {
	return time.Duration(envOrDefaultInt(key, fallback)) * time.Millisecond
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
