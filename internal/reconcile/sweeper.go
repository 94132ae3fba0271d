package reconcile

import (
	"context"
	"errors"
	"time"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
)

// Sweeper repairs the refund side of crashed or interrupted settlements:
// any FAILED/CANCELLED job without a refund transaction, and any job whose
// refund-pending intent is stuck, gets its refund reissued. Refunds are
// idempotent by job id, so sweeping is safe to repeat.
type Sweeper struct {
	jobs   domain.JobRepository
	ledger domain.LedgerRepository
	logger infra.Logger
	minAge time.Duration
}

// DefaultMinAge keeps the sweep away from settlements still in flight.
const DefaultMinAge = 5 * time.Minute

// NewSweeper wires a sweeper. minAge guards against racing a live
// settlement; zero applies DefaultMinAge.
func NewSweeper(jobs domain.JobRepository, ledger domain.LedgerRepository, logger infra.Logger, minAge time.Duration) *Sweeper {
	if minAge <= 0 {
		minAge = DefaultMinAge
	}
	return &Sweeper{jobs: jobs, ledger: ledger, logger: logger, minAge: minAge}
}

// Sweep reissues missing refunds and finalizes stuck intents. Returns the
// number of jobs repaired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	candidates, err := s.jobs.ListRefundCandidates(ctx, s.minAge)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for i := range candidates {
		job := candidates[i]
		if err := s.repair(ctx, &job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("reconcile: repair failed")
			continue
		}
		repaired++
	}
	if repaired > 0 {
		s.logger.Info().Int("repaired", repaired).Msg("reconcile: sweep reissued refunds")
	}
	return repaired, nil
}

func (s *Sweeper) repair(ctx context.Context, job *domain.Job) error {
	if err := s.ledger.Refund(ctx, job.UserID, job.TotalCostCredits, job.ID); err != nil {
		return err
	}
	settled := false
	patch := domain.JobPatch{RefundPending: &settled}
	if !job.Status.Terminal() {
		// Intent was written but the process died before the terminal
		// mark: the job's in-flight work is long gone.
		failed := domain.JobStatusFailed
		done := time.Now().UTC()
		msg := "settled by refund reconciliation"
		patch.Status = &failed
		patch.CompletedAt = &done
		patch.ErrorMessage = &msg
		patch.ClearPause = true
	}
	err := s.jobs.UpdateIfStatus(ctx, job.ID, job.Status, patch)
	if err != nil && !errors.Is(err, domain.ErrStatusConflict) {
		return err
	}
	// A conflict means the job moved since we listed it; the refund is
	// idempotent and the next sweep re-evaluates.
	return nil
}
