package upload

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

// StateFunc observes upload state transitions and transfer progress (0-100).
type StateFunc func(state domain.UploadState, progress int)

// Pipeline runs presign -> transfer -> confirm for one take at a time per call.
// Steps are never retried automatically.
type Pipeline struct {
	api         ports.MediaAPI
	maxDuration time.Duration
	onState     StateFunc
	log         logrus.FieldLogger

	mu         sync.Mutex
	generation int
	state      domain.UploadState
	progress   int
}

func NewPipeline(api ports.MediaAPI, maxDuration time.Duration, onState StateFunc, log logrus.FieldLogger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		api:         api,
		maxDuration: maxDuration,
		onState:     onState,
		log:         log.WithField("component", "upload"),
		state:       domain.UploadStateIdle,
	}
}

// Upload returns the canonical object reference for the take. Cancellation
// returns the pipeline to idle without reporting an error state.
func (p *Pipeline) Upload(ctx context.Context, take domain.Take) (domain.ObjectReference, error) {
	generation := p.begin()
	log := p.log.WithField("take_id", take.ID)

	if err := p.validate(take); err != nil {
		p.transition(generation, domain.UploadStateError, 0)
		return domain.ObjectReference{}, err
	}

	p.transition(generation, domain.UploadStatePresigning, 0)
	target, err := p.api.RequestUpload(ctx, fileName(take), take.ContentType)
	if err != nil {
		return domain.ObjectReference{}, p.fail(ctx, generation, domain.UploadStepPresign, err, log)
	}
	if target.UploadURL == "" || target.ObjectKey == "" {
		return domain.ObjectReference{}, p.fail(ctx, generation, domain.UploadStepPresign, errors.New("presign response missing upload url or object key"), log)
	}

	p.transition(generation, domain.UploadStateUploading, 0)
	err = p.api.Transfer(ctx, target, take.ContentType, take.Media, func(percent int) {
		p.transition(generation, domain.UploadStateUploading, clampPercent(percent))
	})
	if err != nil {
		return domain.ObjectReference{}, p.fail(ctx, generation, domain.UploadStepTransfer, err, log)
	}
	p.transition(generation, domain.UploadStateUploading, 100)

	p.transition(generation, domain.UploadStateConfirming, 100)
	canonical, err := p.api.ConfirmUpload(ctx, target.ObjectKey, take.DurationSeconds, take.Source)
	if err != nil {
		return domain.ObjectReference{}, p.fail(ctx, generation, domain.UploadStepConfirm, err, log)
	}
	if strings.TrimSpace(canonical) == "" {
		canonical = target.ObjectKey
	}

	p.transition(generation, domain.UploadStateSuccess, 100)
	log.WithField("object_key", canonical).Info("upload confirmed")
	return domain.ObjectReference{ObjectKey: canonical, TakeID: take.ID}, nil
}

// Reset returns the pipeline to idle; transitions from uploads still in
// flight are ignored afterwards.
func (p *Pipeline) Reset() {
	generation := p.begin()
	p.transition(generation, domain.UploadStateIdle, 0)
}

func (p *Pipeline) State() (domain.UploadState, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.progress
}

func (p *Pipeline) validate(take domain.Take) error {
	if take.DurationSeconds <= 0 {
		return &domain.UploadError{Step: domain.UploadStepValidate, Reason: "media duration must be positive", Err: domain.ErrInvalidDuration}
	}
	if p.maxDuration > 0 && take.DurationSeconds > p.maxDuration.Seconds() {
		return &domain.UploadError{Step: domain.UploadStepValidate, Reason: "media exceeds the maximum duration", Err: domain.ErrDurationExceeded}
	}
	if len(take.Media) == 0 {
		return &domain.UploadError{Step: domain.UploadStepValidate, Reason: "take has no media"}
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, generation int, step domain.UploadStep, err error, log logrus.FieldLogger) error {
	if domain.IsAborted(err) || ctx.Err() != nil {
		log.WithField("step", step).Debug("upload aborted")
		p.transition(generation, domain.UploadStateIdle, 0)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	log.WithError(err).WithField("step", step).Warn("upload failed")
	p.transition(generation, domain.UploadStateError, 0)
	return &domain.UploadError{Step: step, Reason: err.Error(), Err: err}
}

func (p *Pipeline) begin() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	return p.generation
}

func (p *Pipeline) transition(generation int, state domain.UploadState, progress int) {
	p.mu.Lock()
	if generation != p.generation {
		p.mu.Unlock()
		return
	}
	if p.state == state && p.progress == progress {
		p.mu.Unlock()
		return
	}
	p.state = state
	p.progress = progress
	p.mu.Unlock()

	if p.onState != nil {
		p.onState(state, progress)
	}
}

func fileName(take domain.Take) string {
	if name := strings.TrimSpace(take.FileName); name != "" {
		return name
	}
	return "upload.bin"
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
