package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/providers/image"
	"mediaforge/internal/providers/prompt"
	"mediaforge/internal/providers/video"
)

// BlobStore persists asset bytes and resolves their public URLs.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	URL(key string) string
}

// Providers bundles the external capabilities the pipeline steps call.
type Providers struct {
	Enhancer prompt.Enhancer
	Image    image.Generator
	Video    video.Generator
	Store    BlobStore
}

// ExecutorOptions tunes timeout and retry policy.
type ExecutorOptions struct {
	StepTimeout time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Sleep is swapped out in tests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

const (
	defaultStepTimeout = 5 * time.Minute
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 8 * time.Second
)

// StepScratch carries raw inter-step assets that never touch the job
// record: provider output bytes live here until the matching upload step
// persists them. Scratch survives pause/resume within a process; after a
// restart it is empty and upload steps fall back to provider-hosted URLs.
type StepScratch struct {
	Image *image.Asset
	Video *video.Asset
}

// Executor runs one pipeline step at a time: per-step timeout, bounded
// exponential backoff on transient provider errors, immediate failure on
// terminal ones. Progress events are emitted at step start and completion.
type Executor struct {
	providers   Providers
	jobs        domain.JobRepository
	broker      *Broker
	logger      infra.Logger
	stepTimeout time.Duration
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewExecutor wires an executor with its collaborators.
func NewExecutor(providers Providers, jobs domain.JobRepository, broker *Broker, logger infra.Logger, opts ExecutorOptions) *Executor {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Executor{
		providers:   providers,
		jobs:        jobs,
		broker:      broker,
		logger:      logger,
		stepTimeout: opts.StepTimeout,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		sleep:       opts.Sleep,
	}
}

// Execute runs one step for the job, mutating job.ResultRefs on success and
// persisting them through a status-guarded update. A pause or cancel that
// lands while the provider call is in flight surfaces here as
// domain.ErrStatusConflict from that guarded update: the result is
// discarded and the caller re-reads the job at the step boundary.
func (e *Executor) Execute(ctx context.Context, job *domain.Job, step domain.StepDefinition, scratch *StepScratch, idx, total int) error {
	e.emit(job, step, domain.EventProgress, Progress(job.Type, step.Status), map[string]string{"state": "started", "attempts": fmt.Sprint(e.maxAttempts)})

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
		err := e.invoke(callCtx, job, step, scratch)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			e.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("step", string(step.ID)).
				Str("provider", string(step.Provider)).
				Msg("executor: step failed terminally")
			return err
		}
		lastErr = err
		if attempt == e.maxAttempts {
			break
		}
		delay := e.backoff(attempt)
		e.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("step", string(step.ID)).
			Str("provider", string(step.Provider)).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("executor: transient step error, retrying")
		if serr := e.sleep(ctx, delay); serr != nil {
			return ctx.Err()
		}
	}
	if lastErr != nil {
		return fmt.Errorf("retry budget exhausted after %d attempts: %w", e.maxAttempts, lastErr)
	}

	percent := (idx + 1) * 100 / total
	refs := job.ResultRefs
	if err := e.jobs.UpdateIfStatus(ctx, job.ID, step.Status, domain.JobPatch{
		ResultRefs:      &refs,
		ProgressPercent: &percent,
	}); err != nil {
		return err
	}
	job.ProgressPercent = percent
	e.emit(job, step, domain.EventStepComplete, percent, nil)
	e.logger.Info().
		Str("job_id", job.ID).
		Str("step", string(step.ID)).
		Int("progress", percent).
		Msg("executor: step complete")
	return nil
}

func (e *Executor) invoke(ctx context.Context, job *domain.Job, step domain.StepDefinition, scratch *StepScratch) error {
	switch step.ID {
	case domain.StepEnhancePrompt:
		return e.enhancePrompt(ctx, job)
	case domain.StepGenerateImage:
		return e.generateImage(ctx, job, scratch)
	case domain.StepUploadImage:
		return e.uploadImage(ctx, job, scratch)
	case domain.StepGenerateVideo:
		return e.generateVideo(ctx, job, scratch)
	case domain.StepUploadVideo:
		return e.uploadVideo(ctx, job, scratch)
	case domain.StepFinalize:
		return e.finalize(job)
	default:
		return fmt.Errorf("%w: unknown step %q", domain.ErrProviderTerminal, step.ID)
	}
}

func (e *Executor) enhancePrompt(ctx context.Context, job *domain.Job) error {
	res, err := e.providers.Enhancer.Enhance(ctx, prompt.EnhanceRequest{
		Prompt:    job.Config.PromptText(),
		RequestID: job.ID,
	})
	if err != nil {
		return err
	}
	job.ResultRefs.EnhancedPrompt = res.Text
	job.ResultRefs.SetMeta("prompt_provider", res.Provider)
	return nil
}

func (e *Executor) generateImage(ctx context.Context, job *domain.Job, scratch *StepScratch) error {
	text := job.ResultRefs.EnhancedPrompt
	if text == "" {
		text = job.Config.PromptText()
	}
	cfg := job.Config.ImageSettings()
	asset, err := e.providers.Image.Generate(ctx, image.GenerateRequest{
		Prompt:      text,
		AspectRatio: cfg.AspectRatio,
		Style:       cfg.Style,
		Quality:     cfg.Quality,
		RequestID:   job.ID,
	})
	if err != nil {
		return err
	}
	scratch.Image = asset
	job.ResultRefs.ActualCostCredits += asset.CostCredits
	job.ResultRefs.SetMeta("image_format", asset.Format)
	if asset.URL != "" {
		job.ResultRefs.ImageURL = asset.URL
	}
	return nil
}

func (e *Executor) uploadImage(ctx context.Context, job *domain.Job, scratch *StepScratch) error {
	if job.Type == domain.WorkflowVideoFromImage {
		src := strings.TrimSpace(job.Config.SourceImageURL())
		if src == "" {
			return fmt.Errorf("%w: source image url missing", domain.ErrProviderTerminal)
		}
		job.ResultRefs.ImageURL = src
		return nil
	}
	if scratch.Image != nil && len(scratch.Image.Data) > 0 {
		key := scratch.Image.StorageKey
		if key == "" {
			key = fmt.Sprintf("generated/images/%s/image%s", job.ID, extensionForMIME(scratch.Image.Format))
		}
		saved, err := e.providers.Store.Write(ctx, key, scratch.Image.Data)
		if err != nil {
			return fmt.Errorf("%w: persist image: %v", domain.ErrProviderTransient, err)
		}
		job.ResultRefs.ImageURL = e.providers.Store.URL(saved)
		return nil
	}
	// No inline bytes: a provider-hosted URL recorded by the generate
	// step is good enough.
	if job.ResultRefs.ImageURL != "" {
		return nil
	}
	return fmt.Errorf("%w: image asset unavailable", domain.ErrProviderTerminal)
}

func (e *Executor) generateVideo(ctx context.Context, job *domain.Job, scratch *StepScratch) error {
	text := job.ResultRefs.EnhancedPrompt
	if text == "" {
		text = job.Config.PromptText()
	}
	cfg := job.Config.VideoSettings()
	asset, err := e.providers.Video.Generate(ctx, video.GenerateRequest{
		Prompt:          text,
		SourceImageURL:  job.ResultRefs.ImageURL,
		AspectRatio:     cfg.AspectRatio,
		DurationSeconds: cfg.DurationSeconds,
		RequestID:       job.ID,
	})
	if err != nil {
		return err
	}
	scratch.Video = asset
	job.ResultRefs.ActualCostCredits += asset.CostCredits
	job.ResultRefs.SetMeta("video_format", asset.Format)
	if asset.URL != "" {
		job.ResultRefs.VideoURL = asset.URL
	}
	return nil
}

func (e *Executor) uploadVideo(ctx context.Context, job *domain.Job, scratch *StepScratch) error {
	if scratch.Video != nil && len(scratch.Video.Data) > 0 {
		key := scratch.Video.StorageKey
		if key == "" {
			key = fmt.Sprintf("generated/videos/%s/video%s", job.ID, extensionForMIME(scratch.Video.Format))
		}
		saved, err := e.providers.Store.Write(ctx, key, scratch.Video.Data)
		if err != nil {
			return fmt.Errorf("%w: persist video: %v", domain.ErrProviderTransient, err)
		}
		job.ResultRefs.VideoURL = e.providers.Store.URL(saved)
		return nil
	}
	if job.ResultRefs.VideoURL != "" {
		return nil
	}
	return fmt.Errorf("%w: video asset unavailable", domain.ErrProviderTerminal)
}

// finalize verifies every required artifact exists. A COMPLETED job must
// carry real provider output for every step of its pipeline.
func (e *Executor) finalize(job *domain.Job) error {
	switch job.Type {
	case domain.WorkflowComplete:
		if job.ResultRefs.ImageURL == "" || job.ResultRefs.VideoURL == "" {
			return fmt.Errorf("%w: incomplete result refs", domain.ErrProviderTerminal)
		}
	case domain.WorkflowImageOnly:
		if job.ResultRefs.ImageURL == "" {
			return fmt.Errorf("%w: incomplete result refs", domain.ErrProviderTerminal)
		}
	case domain.WorkflowVideoFromImage:
		if job.ResultRefs.VideoURL == "" {
			return fmt.Errorf("%w: incomplete result refs", domain.ErrProviderTerminal)
		}
	}
	return nil
}

func (e *Executor) emit(job *domain.Job, step domain.StepDefinition, typ domain.EventType, percent int, payload map[string]string) {
	e.broker.Publish(domain.ProgressEvent{
		JobID:           job.ID,
		Step:            step.ID,
		Type:            typ,
		ProgressPercent: percent,
		Payload:         payload,
		Timestamp:       time.Now().UTC(),
	})
}

// backoff doubles the base delay per attempt, caps it, and applies +-50%
// jitter.
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.baseDelay << (attempt - 1)
	if d > e.maxDelay {
		d = e.maxDelay
	}
	half := int64(d) / 2
	return time.Duration(half + rand.Int63n(int64(d)))
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrProviderTransient) || errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
