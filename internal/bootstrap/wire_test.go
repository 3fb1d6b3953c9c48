package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"zjobly/internal/domain"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("ZJOBLY_ENV_FILE", filepath.Join(home, "missing.env"))
	t.Setenv("ZJOBLY_RULES_FILE", "")
	t.Setenv("ZJOBLY_DRAFT_PROVIDER", "")
	t.Setenv("ZJOBLY_LOG_DIR", "")
	t.Setenv("DEEPGRAM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return home
}

func TestBuildSuccess(t *testing.T) {
	home := isolate(t)
	t.Setenv("DEEPGRAM_API_KEY", "test-key")
	t.Setenv("ZJOBLY_SESSION_FILE", filepath.Join(home, "session.json"))

	services, err := Build(noopEventSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Controller == nil || services.Previews == nil || services.Logger == nil {
		t.Fatalf("expected assembled services, got %+v", services)
	}
	if status := services.Controller.GetStatus(); status.Recording != domain.RecordingStateIdle {
		t.Fatalf("expected idle studio, got %+v", status)
	}
}

func TestBuildRestoresPersistedRole(t *testing.T) {
	home := isolate(t)
	session := filepath.Join(home, "session.json")
	if err := os.WriteFile(session, []byte(`{"role":"candidate"}`), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("ZJOBLY_SESSION_FILE", session)

	services, err := Build(noopEventSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if role := services.Controller.GetStatus().Role; role != domain.RoleCandidate {
		t.Fatalf("expected candidate role, got %q", role)
	}
	if kind := services.Controller.GetForm().Kind; kind != domain.FormKindCandidate {
		t.Fatalf("expected candidate form, got %q", kind)
	}
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	home := isolate(t)
	rules := filepath.Join(home, "bad.rules")
	if err := os.WriteFile(rules, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("ZJOBLY_RULES_FILE", rules)

	if _, err := Build(noopEventSink{}); err == nil {
		t.Fatalf("expected build error due to invalid rules")
	}
}

func TestBuildRequiresKeyForLLMDrafts(t *testing.T) {
	isolate(t)
	t.Setenv("ZJOBLY_DRAFT_PROVIDER", "llm")

	_, err := Build(noopEventSink{})
	if err == nil || !strings.Contains(err.Error(), "llm") {
		t.Fatalf("expected llm provider error, got %v", err)
	}
}

func TestBuildWritesRotatedLogFile(t *testing.T) {
	home := isolate(t)
	logDir := filepath.Join(home, "logs")
	t.Setenv("ZJOBLY_LOG_DIR", logDir)

	services, err := Build(noopEventSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if err := services.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected a log file in %s: %v", logDir, err)
	}
}

type noopEventSink struct{}

func (noopEventSink) RecordingStateChanged(domain.RecordingState)             {}
func (noopEventSink) ElapsedChanged(float64)                                  {}
func (noopEventSink) TakeAdded(domain.Take)                                   {}
func (noopEventSink) UploadStateChanged(domain.UploadState, int)              {}
func (noopEventSink) ProcessingStatusChanged(string, domain.ProcessingStatus) {}
func (noopEventSink) TranscriptUpdated(domain.Transcript)                     {}
func (noopEventSink) CaptionPartial(string)                                   {}
func (noopEventSink) DraftApplied(domain.FormSnapshot)                        {}
func (noopEventSink) StudioError(domain.ErrorCode, string)                    {}
func (noopEventSink) Notice(domain.ErrorCode, string)                         {}
