package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Capture.MaxDuration != 180*time.Second {
		t.Fatalf("unexpected max duration: %s", cfg.Capture.MaxDuration)
	}
	if cfg.Audio.Chunking || cfg.Audio.ChunkInterval != 5*time.Second || cfg.Audio.PollInterval != 3*time.Second {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Processing.PollInterval != 2*time.Second || cfg.Processing.SuccessAfter != 3 {
		t.Fatalf("unexpected processing config: %+v", cfg.Processing)
	}
	if cfg.Drafts.Provider != DraftProviderAPI || cfg.Drafts.MinTranscriptChars != 30 || cfg.Drafts.MaxKeywords != 20 {
		t.Fatalf("unexpected drafts config: %+v", cfg.Drafts)
	}
	if cfg.Capture.FFmpegCommand != "ffmpeg" || cfg.Capture.FFprobeCommand != "ffprobe" {
		t.Fatalf("unexpected capture commands: %+v", cfg.Capture)
	}
	if filepath.Base(cfg.Session.Path) != "session.json" {
		t.Fatalf("unexpected session path: %q", cfg.Session.Path)
	}
	if cfg.Rules.Path != "" {
		t.Fatalf("expected no rules file, got %q", cfg.Rules.Path)
	}
}

func TestLoadRespectsOverridesAndClamps(t *testing.T) {
	isolate(t)

	t.Setenv("ZJOBLY_API_BASE", "https://api.zjobly.test/")
	t.Setenv("ZJOBLY_API_TIMEOUT_MS", "10")
	t.Setenv("ZJOBLY_MAX_DURATION_SEC", "90")
	t.Setenv("ZJOBLY_AUDIO_CHUNKING", "yes")
	t.Setenv("ZJOBLY_AUDIO_CHUNK_MS", "200")
	t.Setenv("ZJOBLY_TRANSCRIPT_POLL_MS", "1500")
	t.Setenv("ZJOBLY_DRAFT_PROVIDER", "LLM")
	t.Setenv("ZJOBLY_PLAYABLE_TYPES", "video/webm, video/quicktime ,")
	t.Setenv("ZJOBLY_MAX_KEYWORDS", "-4")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.API.BaseURL != "https://api.zjobly.test" || cfg.API.Timeout != 15*time.Second {
		t.Fatalf("unexpected api config: %+v", cfg.API)
	}
	if cfg.Capture.MaxDuration != 90*time.Second {
		t.Fatalf("unexpected max duration: %s", cfg.Capture.MaxDuration)
	}
	if !cfg.Audio.Chunking || cfg.Audio.ChunkInterval != time.Second || cfg.Audio.PollInterval != 1500*time.Millisecond {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Drafts.Provider != DraftProviderLLM || cfg.Drafts.MaxKeywords != 20 {
		t.Fatalf("unexpected drafts config: %+v", cfg.Drafts)
	}
	if len(cfg.Capture.PlayableTypes) != 2 || cfg.Capture.PlayableTypes[1] != "video/quicktime" {
		t.Fatalf("unexpected playable types: %v", cfg.Capture.PlayableTypes)
	}
	if cfg.Deepgram.SmartFormat {
		t.Fatalf("expected smart format off")
	}
}

func TestLoadRuntimeOverlay(t *testing.T) {
	dir := isolate(t)

	runtimePath := filepath.Join(dir, "runtime.json")
	contents := `{"capture":{"max_duration_sec":120,"audio_chunk_ms":4000,"audio_chunking":true},"drafts":{"max_keywords":0}}`
	if err := os.WriteFile(runtimePath, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("ZJOBLY_CONFIG_DIR", dir)
	t.Setenv("ZJOBLY_AUDIO_CHUNK_MS", "6000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Capture.MaxDuration != 120*time.Second || !cfg.Audio.Chunking {
		t.Fatalf("runtime overlay not applied: %+v %+v", cfg.Capture, cfg.Audio)
	}
	if cfg.Audio.ChunkInterval != 6*time.Second {
		t.Fatalf("environment must win over runtime.json, got %s", cfg.Audio.ChunkInterval)
	}
	if cfg.Drafts.MaxKeywords != 20 {
		t.Fatalf("non-positive overlay values fall back, got %d", cfg.Drafts.MaxKeywords)
	}

	if err := os.WriteFile(runtimePath, []byte("{"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed runtime.json")
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := isolate(t)

	envPath := filepath.Join(dir, "studio.env")
	if err := os.WriteFile(envPath, []byte("ZJOBLY_TEST_DRAFT_HINT=from-file\nZJOBLY_MAX_DURATION_SEC=30\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("ZJOBLY_ENV_FILE", envPath)
	t.Setenv("ZJOBLY_MAX_DURATION_SEC", "60")
	t.Cleanup(func() { _ = os.Unsetenv("ZJOBLY_TEST_DRAFT_HINT") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if os.Getenv("ZJOBLY_TEST_DRAFT_HINT") != "from-file" {
		t.Fatalf("expected .env values to be loaded")
	}
	if cfg.Capture.MaxDuration != 60*time.Second {
		t.Fatalf("environment must win over .env, got %s", cfg.Capture.MaxDuration)
	}
}

func TestLoadFindsRulesInConfigDir(t *testing.T) {
	dir := isolate(t)

	rules := filepath.Join(dir, "zjobly", "transcript.rules")
	if err := os.MkdirAll(filepath.Dir(rules), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(rules, []byte("um =>\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Rules.Path != rules {
		t.Fatalf("expected rules in config dir, got %q", cfg.Rules.Path)
	}
}

// isolate points every config source at an empty temp directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("ZJOBLY_ENV_FILE", filepath.Join(dir, "missing.env"))
	for _, key := range []string{
		"ZJOBLY_RUNTIME_CONFIG", "ZJOBLY_CONFIG_DIR", "ZJOBLY_RULES_FILE", "ZJOBLY_SESSION_FILE",
		"ZJOBLY_API_BASE", "ZJOBLY_API_TIMEOUT_MS", "ZJOBLY_MAX_DURATION_SEC", "ZJOBLY_AUDIO_CHUNKING",
		"ZJOBLY_AUDIO_CHUNK_MS", "ZJOBLY_TRANSCRIPT_POLL_MS", "ZJOBLY_PROCESSING_POLL_MS",
		"ZJOBLY_PROCESSING_SUCCESS_AFTER", "ZJOBLY_DRAFT_PROVIDER", "ZJOBLY_MIN_TRANSCRIPT_CHARS",
		"ZJOBLY_MAX_KEYWORDS", "ZJOBLY_PLAYABLE_TYPES", "ZJOBLY_FFMPEG_COMMAND", "ZJOBLY_FFPROBE_COMMAND",
	} {
		t.Setenv(key, "")
	}
	return dir
}
