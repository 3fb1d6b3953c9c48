package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDefaultsToInfoText(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, closer, err := New(Options{Level: "loud"}, &out)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	defer closer.Close()

	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", logger.GetLevel())
	}
	logger.Debug("hidden")
	logger.WithField("take_id", "t1").Info("visible")
	if strings.Contains(out.String(), "hidden") || !strings.Contains(out.String(), "take_id=t1") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestNewJSONFormat(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger, closer, err := New(Options{Level: "debug", Format: "JSON"}, &out)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	defer closer.Close()

	logger.WithField("step", "presign").Debug("upload step")
	var entry map[string]any
	if err := json.Unmarshal(out.Bytes(), &entry); err != nil {
		t.Fatalf("expected json line, got %q", out.String())
	}
	if entry["step"] != "presign" || entry["level"] != "debug" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewWritesRotatingFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "logs")
	var out bytes.Buffer
	logger, closer, err := New(Options{Dir: dir}, &out)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	logger.Info("persisted")
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "persisted") || !strings.Contains(out.String(), "persisted") {
		t.Fatalf("expected the entry in both sinks")
	}
}
