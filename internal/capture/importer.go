package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

// ContentSniffer detects a content type from file bytes.
type ContentSniffer interface {
	Sniff(data []byte) string
}

// Importer turns a picked file into an upload-provenance take.
type Importer struct {
	maxDuration time.Duration
	playback    ports.PlaybackSupport
	probe       ports.DurationProbe
	sniffer     ContentSniffer
	previews    ports.PreviewStore
	labels      Labeler
	clock       clock.Clock
	log         logrus.FieldLogger
}

func NewImporter(
	maxDuration time.Duration,
	playback ports.PlaybackSupport,
	probe ports.DurationProbe,
	sniffer ContentSniffer,
	previews ports.PreviewStore,
	labels Labeler,
	clk clock.Clock,
	log logrus.FieldLogger,
) *Importer {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Importer{
		maxDuration: maxDuration,
		playback:    playback,
		probe:       probe,
		sniffer:     sniffer,
		previews:    previews,
		labels:      labels,
		clock:       clk,
		log:         log.WithField("component", "importer"),
	}
}

// Import validates the file and creates a take. The preview created for
// probing is released again whenever the file is rejected.
func (i *Importer) Import(ctx context.Context, path string, declaredType string, purpose string) (*domain.Take, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrUnsupportedMediaType)
	}

	contentType := strings.TrimSpace(declaredType)
	if isGenericType(contentType) && i.sniffer != nil {
		contentType = i.sniffer.Sniff(data)
	}
	if contentType == "" || !i.playback.CanPlay(contentType) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedMediaType, contentType)
	}

	previewURL, err := i.previews.Create(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("create preview: %w", err)
	}

	seconds, err := i.probe.Probe(ctx, path)
	if err != nil {
		i.releasePreview(previewURL)
		return nil, fmt.Errorf("probe duration: %w", err)
	}
	if seconds <= 0 {
		i.releasePreview(previewURL)
		return nil, domain.ErrInvalidDuration
	}
	if i.maxDuration > 0 && seconds > i.maxDuration.Seconds() {
		i.releasePreview(previewURL)
		return nil, fmt.Errorf("%w: %.1fs > %.0fs", domain.ErrDurationExceeded, seconds, i.maxDuration.Seconds())
	}

	fileName := filepath.Base(path)
	if fileName == "." || fileName == string(filepath.Separator) {
		fileName = "upload" + Extension(contentType)
	}
	take := &domain.Take{
		ID:              uuid.NewString(),
		Media:           data,
		ContentType:     contentType,
		FileName:        fileName,
		PreviewURL:      previewURL,
		DurationSeconds: seconds,
		Label:           i.labels.NextLabel(domain.ProvenanceUpload, purpose),
		Purpose:         purpose,
		Source:          domain.ProvenanceUpload,
		CreatedAt:       i.clock.Now(),
	}
	i.log.WithFields(logrus.Fields{"take_id": take.ID, "content_type": contentType, "duration": seconds}).Info("file imported")
	return take, nil
}

func (i *Importer) releasePreview(url string) {
	if err := i.previews.Release(url); err != nil {
		i.log.WithError(err).WithField("preview_url", url).Warn("release rejected preview")
	}
}

func isGenericType(contentType string) bool {
	switch BaseType(contentType) {
	case "", "application/octet-stream", "binary/octet-stream":
		return true
	}
	return false
}
