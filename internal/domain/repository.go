package domain

import (
	"context"
	"time"
)

// JobPatch carries the fields a status-guarded update may change. Nil
// pointers leave the stored value untouched.
type JobPatch struct {
	Status          *JobStatus
	Pause           *PauseMetadata
	ClearPause      bool
	ResultRefs      *ResultRefs
	ProgressPercent *int
	RefundPending   *bool
	ErrorMessage    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// JobRepository defines persistence for jobs. UpdateIfStatus is the only
// mutation path after Create: an update is rejected with ErrStatusConflict
// when the stored status no longer matches expected, which is what makes
// concurrent control commands and the job worker safe against each other.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	UpdateIfStatus(ctx context.Context, jobID string, expected JobStatus, patch JobPatch) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Job, error)
	// ListInterrupted returns jobs left in QUEUED or a running state,
	// typically after a process restart.
	ListInterrupted(ctx context.Context) ([]Job, error)
	// ListRefundCandidates returns jobs whose refund intent is still
	// pending past minAge, plus FAILED/CANCELLED jobs with no matching
	// refund transaction.
	ListRefundCandidates(ctx context.Context, minAge time.Duration) ([]Job, error)
}

// LedgerRepository defines the credit ledger collaborator. Balance checks
// and mutations are atomic on the ledger side; nothing is locked in-process.
type LedgerRepository interface {
	// ReserveAndDebit atomically checks the user's balance and debits
	// amount, recording a debit transaction keyed by jobID. Returns
	// ErrInsufficientCredits without any mutation when the balance is
	// too low.
	ReserveAndDebit(ctx context.Context, userID string, amount int, jobID string) error
	// Refund credits amount back to the user. Idempotent by jobID: a
	// second call for the same job changes nothing.
	Refund(ctx context.Context, userID string, amount int, jobID string) error
	Balance(ctx context.Context, userID string) (int, error)
	HasRefund(ctx context.Context, jobID string) (bool, error)
}
