package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// FFProbe reads container durations with ffprobe.
type FFProbe struct {
	command string
	timeout time.Duration
}

func NewFFProbe(command string) *FFProbe {
	if command == "" {
		command = "ffprobe"
	}
	return &FFProbe{command: command, timeout: defaultProbeTimeout}
}

func (p *FFProbe) Probe(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path}
	output, err := exec.CommandContext(ctx, p.command, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, fmt.Errorf("ffprobe failed: %w: %s", err, trimOutput(string(exitErr.Stderr)))
		}
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	value := strings.TrimSpace(string(output))
	if idx := strings.IndexByte(value, '\n'); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe reported no duration (%q)", value)
	}
	return seconds, nil
}
