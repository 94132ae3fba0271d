package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. All
// mutations after Create go through UpdateIfStatus, whose WHERE clause
// carries the expected status: optimistic concurrency at the row level.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, user_id, project_id, workflow_type, status, config, total_cost_credits,
progress_percent, result_refs, paused_from_status, paused_at, refund_pending, error_message,
created_at, started_at, completed_at, updated_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	refs, err := json.Marshal(job.ResultRefs)
	if err != nil {
		return fmt.Errorf("encode result refs: %w", err)
	}
	query := `
INSERT INTO jobs (id, user_id, project_id, workflow_type, status, config, total_cost_credits, progress_percent, result_refs, error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.ProjectID,
		job.Type,
		job.Status,
		config,
		job.TotalCostCredits,
		job.ProgressPercent,
		refs,
		job.ErrorMessage,
		job.CreatedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdateIfStatus applies the patch only when the stored status still
// matches expected. Returns domain.ErrStatusConflict when another actor
// transitioned the job first.
func (r *JobRepositoryPG) UpdateIfStatus(ctx context.Context, jobID string, expected domain.JobStatus, patch domain.JobPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{jobID, expected}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Pause != nil {
		add("paused_from_status", string(patch.Pause.PausedFromStatus))
		add("paused_at", patch.Pause.PausedAt)
	}
	if patch.ClearPause {
		sets = append(sets, "paused_from_status = NULL", "paused_at = NULL")
	}
	if patch.ResultRefs != nil {
		encoded, err := json.Marshal(patch.ResultRefs)
		if err != nil {
			return fmt.Errorf("encode result refs: %w", err)
		}
		add("result_refs", encoded)
	}
	if patch.ProgressPercent != nil {
		add("progress_percent", *patch.ProgressPercent)
	}
	if patch.RefundPending != nil {
		add("refund_pending", *patch.RefundPending)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}
	if patch.StartedAt != nil {
		add("started_at", *patch.StartedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $1 AND status = $2;`, strings.Join(sets, ", "))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1);`, jobID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrStatusConflict
	}
	return nil
}

// ListByUser returns a user's jobs, newest first.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListInterrupted returns jobs left QUEUED or mid-step, typically after a
// process restart.
func (r *JobRepositoryPG) ListInterrupted(ctx context.Context) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE status IN ('QUEUED', 'ENHANCING_PROMPT', 'GENERATING_IMAGE', 'UPLOADING_IMAGE', 'GENERATING_VIDEO', 'UPLOADING_VIDEO', 'FINALIZING')
ORDER BY created_at;
`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListRefundCandidates returns jobs whose refund intent is stuck past
// minAge, plus terminal FAILED/CANCELLED jobs with no refund transaction.
func (r *JobRepositoryPG) ListRefundCandidates(ctx context.Context, minAge time.Duration) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs j
WHERE (j.refund_pending AND j.updated_at < NOW() - ($1 * INTERVAL '1 second'))
   OR (j.status IN ('FAILED', 'CANCELLED')
       AND NOT EXISTS (
           SELECT 1 FROM ledger_transactions t
           WHERE t.job_id = j.id AND t.type = 'refund'))
ORDER BY j.created_at;
`
	rows, err := r.pool.Query(ctx, query, minAge.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job          domain.Job
		config, refs []byte
		pausedFrom   *string
		pausedAt     *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.ProjectID,
		&job.Type,
		&job.Status,
		&config,
		&job.TotalCostCredits,
		&job.ProgressPercent,
		&refs,
		&pausedFrom,
		&pausedAt,
		&job.RefundPending,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(config, &job.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &job.ResultRefs); err != nil {
			return nil, fmt.Errorf("decode result refs: %w", err)
		}
	}
	if pausedFrom != nil && pausedAt != nil {
		job.Pause = &domain.PauseMetadata{
			PausedFromStatus: domain.JobStatus(*pausedFrom),
			PausedAt:         *pausedAt,
		}
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
