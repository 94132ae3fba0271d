package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
)

// DefaultMaxConcurrentJobs bounds simultaneous provider-calling jobs when
// the caller does not configure a limit.
const DefaultMaxConcurrentJobs = 4

const settleTimeout = 30 * time.Second

// StartInput is an admission request.
type StartInput struct {
	UserID    string
	ProjectID string
	Config    domain.JobConfig
}

// StartResult is returned to the caller on successful admission.
type StartResult struct {
	JobID                    string
	EstimatedCostCredits     int
	EstimatedDurationSeconds int
}

// Orchestrator owns the per-job state machine. It admits workflows behind
// the credit gate, runs one worker goroutine per job through the step
// executor, and serves pause/resume/cancel under a per-job guard. Job
// records are mutated only through status-guarded updates, so even a
// control command racing a worker at a step boundary resolves to exactly
// one winner.
type Orchestrator struct {
	jobs   domain.JobRepository
	ledger domain.LedgerRepository
	exec   *Executor
	broker *Broker
	logger infra.Logger
	sem    *semaphore.Weighted

	mu      sync.Mutex
	guards  map[string]*sync.Mutex
	handles map[string]*jobHandle

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// jobHandle is the in-process control surface for one running worker.
type jobHandle struct {
	cancelStep context.CancelFunc
	resume     chan struct{}
	cancelled  atomic.Bool
}

// NewOrchestrator wires the orchestrator with its collaborators.
func NewOrchestrator(jobs domain.JobRepository, ledger domain.LedgerRepository, exec *Executor, broker *Broker, logger infra.Logger, maxConcurrent int64) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		jobs:    jobs,
		ledger:  ledger,
		exec:    exec,
		broker:  broker,
		logger:  logger,
		sem:     semaphore.NewWeighted(maxConcurrent),
		guards:  make(map[string]*sync.Mutex),
		handles: make(map[string]*jobHandle),
		baseCtx: ctx,
		stop:    stop,
	}
}

// StartWorkflow validates the request, debits the full estimated cost and
// creates the job. A failed credit check creates no job and mutates
// nothing. The job worker is launched before returning.
func (o *Orchestrator) StartWorkflow(ctx context.Context, in StartInput) (*StartResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidConfig)
	}
	if err := in.Config.Validate(); err != nil {
		return nil, err
	}
	kind, err := in.Config.Kind()
	if err != nil {
		return nil, err
	}
	steps, err := domain.StepsFor(kind)
	if err != nil {
		return nil, err
	}
	cost := domain.EstimateCost(steps)

	job := &domain.Job{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		ProjectID:        in.ProjectID,
		Type:             kind,
		Status:           domain.JobStatusQueued,
		Config:           in.Config,
		TotalCostCredits: cost,
		CreatedAt:        time.Now().UTC(),
	}

	if err := o.ledger.ReserveAndDebit(ctx, in.UserID, cost, job.ID); err != nil {
		return nil, err
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		// The job never existed: reverse the debit.
		if rerr := o.ledger.Refund(ctx, in.UserID, cost, job.ID); rerr != nil {
			o.logger.Error().Err(rerr).Str("job_id", job.ID).Msg("orchestrator: compensating refund after create failure also failed")
		}
		return nil, err
	}

	o.launch(job)
	o.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Str("workflow", string(kind)).
		Int("cost_credits", cost).
		Msg("orchestrator: workflow admitted")

	return &StartResult{
		JobID:                    job.ID,
		EstimatedCostCredits:     cost,
		EstimatedDurationSeconds: int(domain.EstimateDuration(steps).Seconds()),
	}, nil
}

func (o *Orchestrator) launch(job *domain.Job) {
	runCtx, cancel := context.WithCancel(o.baseCtx)
	h := &jobHandle{cancelStep: cancel, resume: make(chan struct{}, 1)}

	o.mu.Lock()
	o.handles[job.ID] = h
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer func() {
			o.mu.Lock()
			delete(o.handles, job.ID)
			o.mu.Unlock()
		}()
		o.runJob(runCtx, job.ID, h)
	}()
}

// runJob drives one job through its pipeline. Each iteration re-reads the
// job record at a step boundary, which is the only place pause and cancel
// take deterministic effect.
func (o *Orchestrator) runJob(ctx context.Context, jobID string, h *jobHandle) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		if h.cancelled.Load() {
			o.settleCancelled(jobID)
		}
		return
	}
	defer o.sem.Release(1)

	scratch := &StepScratch{}
	for {
		if h.cancelled.Load() {
			o.settleCancelled(jobID)
			return
		}
		if ctx.Err() != nil {
			// Shutdown: leave the record as-is for restart recovery.
			return
		}
		job, err := o.jobs.GetByID(ctx, jobID)
		if err != nil {
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: worker could not load job")
			return
		}
		if job.Status.Terminal() {
			return
		}
		if job.Status == domain.JobStatusPaused {
			o.waitResume(ctx, h)
			continue
		}

		steps, err := domain.StepsFor(job.Type)
		if err != nil {
			o.settleFailed(jobID, err)
			return
		}
		idx := 0
		if job.Status != domain.JobStatusQueued {
			idx = sequenceIndex(steps, job.Status)
			if idx < 0 {
				o.settleFailed(jobID, fmt.Errorf("%w: status %s not in %s pipeline", domain.ErrIllegalTransition, job.Status, job.Type))
				return
			}
		}
		step := steps[idx]

		if job.Status != step.Status {
			started := time.Now().UTC()
			patch := domain.JobPatch{Status: &step.Status}
			if job.StartedAt == nil {
				patch.StartedAt = &started
			}
			if err := o.jobs.UpdateIfStatus(ctx, jobID, job.Status, patch); err != nil {
				if errors.Is(err, domain.ErrStatusConflict) {
					continue
				}
				o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: enter-step update failed")
				return
			}
			job.Status = step.Status
		}

		if err := o.exec.Execute(ctx, job, step, scratch, idx, len(steps)); err != nil {
			switch {
			case errors.Is(err, domain.ErrStatusConflict):
				// A pause or cancel landed while the call was in
				// flight. The step result is discarded; on resume
				// the step is re-invoked.
				continue
			case ctx.Err() != nil:
				if h.cancelled.Load() {
					o.settleCancelled(jobID)
				}
				return
			default:
				o.settleFailed(jobID, err)
				return
			}
		}

		if idx == len(steps)-1 {
			if o.settleCompleted(job) {
				return
			}
			continue
		}
		next := steps[idx+1].Status
		if err := o.jobs.UpdateIfStatus(ctx, jobID, step.Status, domain.JobPatch{Status: &next}); err != nil {
			if errors.Is(err, domain.ErrStatusConflict) {
				continue
			}
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: advance-step update failed")
			return
		}
	}
}

func (o *Orchestrator) waitResume(ctx context.Context, h *jobHandle) {
	select {
	case <-h.resume:
	case <-ctx.Done():
	}
}

// settleCompleted commits the COMPLETED transition. Returns false when the
// transition was beaten by a concurrent command (e.g. a pause landing
// during FINALIZING), in which case the worker loop carries on.
func (o *Orchestrator) settleCompleted(job *domain.Job) bool {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	completed := domain.JobStatusCompleted
	done := time.Now().UTC()
	hundred := 100
	err := o.jobs.UpdateIfStatus(ctx, job.ID, domain.JobStatusFinalizing, domain.JobPatch{
		Status:          &completed,
		CompletedAt:     &done,
		ProgressPercent: &hundred,
	})
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return false
		}
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: complete update failed")
		return true
	}

	payload := map[string]string{}
	if job.ResultRefs.ImageURL != "" {
		payload["image_url"] = job.ResultRefs.ImageURL
	}
	if job.ResultRefs.VideoURL != "" {
		payload["video_url"] = job.ResultRefs.VideoURL
	}
	o.broker.Publish(domain.ProgressEvent{
		JobID:           job.ID,
		Type:            domain.EventWorkflowComplete,
		ProgressPercent: 100,
		Payload:         payload,
		Timestamp:       done,
	})
	o.logger.Info().Str("job_id", job.ID).Msg("orchestrator: workflow completed")
	o.dropGuard(job.ID)
	return true
}

func (o *Orchestrator) settleFailed(jobID string, cause error) {
	o.settleTerminal(jobID, domain.JobStatusFailed, cause)
}

func (o *Orchestrator) settleCancelled(jobID string) {
	o.settleTerminal(jobID, domain.JobStatusCancelled, nil)
}

// settleTerminal drives a job into FAILED or CANCELLED with the
// compensating refund. Order matters: a durable refund-pending intent is
// written first, then the idempotent ledger refund, then the terminal
// status. A crash at any point leaves state the reconciliation sweep can
// repair without double-refunding.
func (o *Orchestrator) settleTerminal(jobID string, status domain.JobStatus, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	for {
		job, err := o.jobs.GetByID(ctx, jobID)
		if err != nil {
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: settle could not load job")
			return
		}
		if job.Status.Terminal() {
			o.dropGuard(jobID)
			return
		}

		pending := true
		if err := o.jobs.UpdateIfStatus(ctx, jobID, job.Status, domain.JobPatch{RefundPending: &pending}); err != nil {
			if errors.Is(err, domain.ErrStatusConflict) {
				continue
			}
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: refund intent write failed")
			return
		}

		refundErr := o.ledger.Refund(ctx, job.UserID, job.TotalCostCredits, job.ID)
		if refundErr != nil {
			// Intent stays durable; the sweep reissues the refund.
			o.logger.Error().Err(refundErr).Str("job_id", jobID).Msg("orchestrator: refund failed, left for reconciliation")
		}

		done := time.Now().UTC()
		patch := domain.JobPatch{Status: &status, CompletedAt: &done, ClearPause: true}
		if refundErr == nil {
			settled := false
			patch.RefundPending = &settled
		}
		if cause != nil {
			msg := cause.Error()
			patch.ErrorMessage = &msg
		}
		if err := o.jobs.UpdateIfStatus(ctx, jobID, job.Status, patch); err != nil {
			if errors.Is(err, domain.ErrStatusConflict) {
				continue
			}
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("orchestrator: terminal update failed")
			return
		}

		payload := map[string]string{}
		if status == domain.JobStatusCancelled {
			payload["reason"] = "cancelled"
		} else if cause != nil {
			payload["error"] = cause.Error()
		}
		o.broker.Publish(domain.ProgressEvent{
			JobID:           jobID,
			Type:            domain.EventWorkflowError,
			ProgressPercent: job.ProgressPercent,
			Payload:         payload,
			Timestamp:       done,
		})
		o.logger.Info().
			Str("job_id", jobID).
			Str("status", string(status)).
			Int("refund_credits", job.TotalCostCredits).
			Msg("orchestrator: workflow settled")
		o.dropGuard(jobID)
		return
	}
}

// Pause transitions a running job to PAUSED, recording the state to resume
// into. Pause takes effect at the job's next step boundary; a provider
// call already in flight is never preempted.
func (o *Orchestrator) Pause(ctx context.Context, jobID string) (*domain.Job, error) {
	g := o.guard(jobID)
	g.Lock()
	defer g.Unlock()

	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !CanPause(job.Status) {
		return nil, fmt.Errorf("%w: cannot pause from %s", domain.ErrIllegalTransition, job.Status)
	}
	paused := domain.JobStatusPaused
	meta := &domain.PauseMetadata{PausedFromStatus: job.Status, PausedAt: time.Now().UTC()}
	if err := o.jobs.UpdateIfStatus(ctx, jobID, job.Status, domain.JobPatch{Status: &paused, Pause: meta}); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: job state changed concurrently", domain.ErrIllegalTransition)
		}
		return nil, err
	}
	job.Status = paused
	job.Pause = meta
	o.logger.Info().Str("job_id", jobID).Str("paused_from", string(meta.PausedFromStatus)).Msg("orchestrator: workflow paused")
	return job, nil
}

// Resume returns a paused job to the step it was paused from. The step's
// provider work is re-invoked: third-party generation APIs have no true
// mid-call pause, and a completed job must carry real provider output for
// every step.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (*domain.Job, error) {
	g := o.guard(jobID)
	g.Lock()
	defer g.Unlock()

	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !CanResume(job.Status) {
		return nil, fmt.Errorf("%w: cannot resume from %s", domain.ErrIllegalTransition, job.Status)
	}
	target, err := resumeTarget(job)
	if err != nil {
		return nil, err
	}
	if !Legal(job.Type, job.Status, target) {
		return nil, fmt.Errorf("%w: cannot resume %s job into %s", domain.ErrIllegalTransition, job.Type, target)
	}
	if err := o.jobs.UpdateIfStatus(ctx, jobID, domain.JobStatusPaused, domain.JobPatch{Status: &target, ClearPause: true}); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: job state changed concurrently", domain.ErrIllegalTransition)
		}
		return nil, err
	}
	job.Status = target
	job.Pause = nil
	if !o.signalResume(jobID) {
		// No live worker for this job (process restarted while paused):
		// start one at the current step.
		o.launch(job)
	}
	o.logger.Info().Str("job_id", jobID).Str("resumed_into", string(target)).Msg("orchestrator: workflow resumed")
	return job, nil
}

// Cancel requests cooperative cancellation. A worker in a provider call
// finalizes CANCELLED once that call returns; a QUEUED job cancels without
// any provider call ever being issued.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*domain.Job, error) {
	g := o.guard(jobID)
	g.Lock()
	defer g.Unlock()

	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !CanCancel(job.Status) {
		return nil, fmt.Errorf("%w: cannot cancel from %s", domain.ErrIllegalTransition, job.Status)
	}

	o.mu.Lock()
	h := o.handles[jobID]
	o.mu.Unlock()

	if h != nil {
		h.cancelled.Store(true)
		h.cancelStep()
		return job, nil
	}
	// No live worker (restart left the job parked): settle inline.
	o.settleCancelled(jobID)
	return o.jobs.GetByID(ctx, jobID)
}

// GetStatus returns the last durably committed view of a job.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	return o.jobs.GetByID(ctx, jobID)
}

// ListByUser returns a user's recent jobs, newest first.
func (o *Orchestrator) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	return o.jobs.ListByUser(ctx, userID, limit)
}

// Subscribe attaches to a job's progress stream.
func (o *Orchestrator) Subscribe(jobID string) (<-chan domain.ProgressEvent, func()) {
	return o.broker.Subscribe(jobID)
}

// RecoverInterrupted restarts QUEUED jobs and fails jobs left mid-step by
// a previous process: their in-flight provider work is gone, so they are
// settled as FAILED with the usual refund. Called once at startup.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	interrupted, err := o.jobs.ListInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	for i := range interrupted {
		job := interrupted[i]
		if job.Status == domain.JobStatusQueued {
			o.launch(&job)
			continue
		}
		o.settleFailed(job.ID, errors.New("interrupted by restart"))
	}
	return len(interrupted), nil
}

// Shutdown stops admission of new step work and waits for workers to reach
// a boundary, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) guard(jobID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	g, ok := o.guards[jobID]
	if !ok {
		g = &sync.Mutex{}
		o.guards[jobID] = g
	}
	return g
}

// dropGuard forgets a settled job's control mutex so the map does not
// grow for the life of the process. A control call racing the settle may
// re-create the entry, but it then fails the terminal-status check, so a
// stray entry stays idle and is bounded by in-flight control calls.
func (o *Orchestrator) dropGuard(jobID string) {
	o.mu.Lock()
	delete(o.guards, jobID)
	o.mu.Unlock()
}

func (o *Orchestrator) signalResume(jobID string) bool {
	o.mu.Lock()
	h := o.handles[jobID]
	o.mu.Unlock()
	if h == nil {
		return false
	}
	select {
	case h.resume <- struct{}{}:
	default:
	}
	return true
}
