package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the orchestration tables. Idempotent, applied at
// startup.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    project_id         TEXT NOT NULL DEFAULT '',
    workflow_type      TEXT NOT NULL,
    status             TEXT NOT NULL,
    config             JSONB NOT NULL,
    total_cost_credits INTEGER NOT NULL,
    progress_percent   INTEGER NOT NULL DEFAULT 0,
    result_refs        JSONB NOT NULL DEFAULT '{}'::jsonb,
    paused_from_status TEXT,
    paused_at          TIMESTAMPTZ,
    refund_pending     BOOLEAN NOT NULL DEFAULT FALSE,
    error_message      TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at         TIMESTAMPTZ,
    completed_at       TIMESTAMPTZ,
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);

CREATE TABLE IF NOT EXISTS credit_accounts (
    user_id    TEXT PRIMARY KEY,
    balance    INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    amount     INTEGER NOT NULL,
    type       TEXT NOT NULL,
    job_id     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_job_type
    ON ledger_transactions (job_id, type) WHERE job_id <> '';
CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_transactions (user_id, created_at DESC);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
