package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

const defaultProbeTimeout = 10 * time.Second

// ProviderConfig locates ffmpeg and the capture devices. Empty devices use
// the platform default.
type ProviderConfig struct {
	Command      string
	VideoDevice  string
	AudioDevice  string
	ProbeTimeout time.Duration
}

// inputFormat is one ffmpeg capture backend.
type inputFormat struct {
	name         string
	goos         string
	defaultVideo string
	defaultAudio string
	inputs       func(video string, audio string) []string
}

var inputFormats = []inputFormat{
	{
		name:         "ffmpeg-v4l2",
		goos:         "linux",
		defaultVideo: "/dev/video0",
		defaultAudio: "default",
		inputs: func(video string, audio string) []string {
			var args []string
			if video != "" {
				args = append(args, "-f", "v4l2", "-i", video)
			}
			if audio != "" {
				args = append(args, "-f", "pulse", "-i", audio)
			}
			return args
		},
	},
	{
		name:         "ffmpeg-avfoundation",
		goos:         "darwin",
		defaultVideo: "0",
		defaultAudio: "0",
		inputs: func(video string, audio string) []string {
			if video == "" {
				video = "none"
			}
			if audio == "" {
				audio = "none"
			}
			return []string{"-f", "avfoundation", "-i", video + ":" + audio}
		},
	},
	{
		name: "ffmpeg-dshow",
		goos: "windows",
		inputs: func(video string, audio string) []string {
			var devices []string
			if video != "" {
				devices = append(devices, "video="+video)
			}
			if audio != "" {
				devices = append(devices, "audio="+audio)
			}
			return []string{"-f", "dshow", "-i", strings.Join(devices, ":")}
		},
	},
}

// Providers returns the ffmpeg capture backends in ranked order. Only the one
// matching the running platform reports itself available.
func Providers(cfg ProviderConfig, clk clock.Clock, log logrus.FieldLogger) []ports.CaptureProvider {
	providers := make([]ports.CaptureProvider, 0, len(inputFormats))
	for _, format := range inputFormats {
		providers = append(providers, newProvider(format, cfg, clk, log))
	}
	return providers
}

// Provider opens camera and microphone through one ffmpeg input format.
type Provider struct {
	format   inputFormat
	cfg      ProviderConfig
	goos     string
	lookPath func(string) (string, error)
	clock    clock.Clock
	log      logrus.FieldLogger
}

func newProvider(format inputFormat, cfg ProviderConfig, clk clock.Clock, log logrus.FieldLogger) *Provider {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provider{
		format:   format,
		cfg:      cfg,
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		clock:    clk,
		log:      log.WithFields(logrus.Fields{"component": "media", "provider": format.name}),
	}
}

func (p *Provider) Name() string { return p.format.name }

func (p *Provider) Available() bool {
	if p.goos != p.format.goos {
		return false
	}
	if p.videoDevice() == "" && p.audioDevice() == "" {
		return false
	}
	_, err := p.lookPath(p.cfg.Command)
	return err == nil
}

// Open probes the devices with a short ffmpeg run so permission and device
// errors surface before the first recording.
func (p *Provider) Open(ctx context.Context, constraints ports.CaptureConstraints) (ports.MediaStream, error) {
	if _, err := p.lookPath(p.cfg.Command); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsupportedEnvironment, err)
	}

	var video, audio string
	if constraints.Video {
		video = p.videoDevice()
	}
	if constraints.Audio {
		audio = p.audioDevice()
	}
	if video == "" && audio == "" {
		return nil, fmt.Errorf("%w: no capture device configured for %s", domain.ErrUnsupportedEnvironment, p.format.name)
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	args = append(args, p.format.inputs(video, audio)...)
	args = append(args, "-t", "0.2", "-f", "null", "-")
	output, err := exec.CommandContext(probeCtx, p.cfg.Command, args...).CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyProbeError(p.format.name, err, string(output))
	}

	stream := newStream(p.cfg.Command, p.format, video, audio, p.clock, p.log)
	p.log.WithFields(logrus.Fields{"video": video, "audio": audio}).Debug("capture devices opened")
	return stream, nil
}

func (p *Provider) videoDevice() string {
	if p.cfg.VideoDevice != "" {
		return p.cfg.VideoDevice
	}
	return p.format.defaultVideo
}

func (p *Provider) audioDevice() string {
	if p.cfg.AudioDevice != "" {
		return p.cfg.AudioDevice
	}
	return p.format.defaultAudio
}

var permissionMarkers = []string{"permission denied", "not authorized", "operation not permitted"}

func classifyProbeError(name string, err error, output string) error {
	lowered := strings.ToLower(output)
	for _, marker := range permissionMarkers {
		if strings.Contains(lowered, marker) {
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, trimOutput(output))
		}
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrUnsupportedEnvironment, err)
	}
	return fmt.Errorf("%s probe failed: %w: %s", name, err, trimOutput(output))
}
