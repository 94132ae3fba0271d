package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/internal/domain"
)

// LedgerRepositoryPG implements domain.LedgerRepository on PostgreSQL.
// Balance mutations happen inside single transactions against the
// account row; the ledger itself is append-only, with (job_id, type)
// unique so job-scoped entries apply at most once.
type LedgerRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a ledger repository backed by PostgreSQL.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{pool: pool}
}

// ReserveAndDebit atomically checks the balance and debits amount,
// recording a debit transaction keyed by jobID. A retried call for the
// same job changes nothing.
func (r *LedgerRepositoryPG) ReserveAndDebit(ctx context.Context, userID string, amount int, jobID string) error {
	if amount < 0 {
		return fmt.Errorf("negative debit amount %d", amount)
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	inserted, err := insertJobEntry(ctx, tx, userID, -amount, domain.TransactionDebit, jobID)
	if err != nil {
		return err
	}
	if !inserted {
		// Same jobID already debited: idempotent replay.
		return tx.Commit(ctx)
	}

	tag, err := tx.Exec(ctx, `
UPDATE credit_accounts
SET balance = balance - $2, updated_at = NOW()
WHERE user_id = $1 AND balance >= $2;
`, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientCredits
	}
	return tx.Commit(ctx)
}

// Refund credits amount back to userID. Idempotent by jobID: the refund
// entry inserts at most once, and the balance moves only when it does.
func (r *LedgerRepositoryPG) Refund(ctx context.Context, userID string, amount int, jobID string) error {
	if amount < 0 {
		return fmt.Errorf("negative refund amount %d", amount)
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	inserted, err := insertJobEntry(ctx, tx, userID, amount, domain.TransactionRefund, jobID)
	if err != nil {
		return err
	}
	if !inserted {
		return tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO credit_accounts (user_id, balance, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = NOW();
`, userID, amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// TopUp grants credits outside any job, recording a top_up entry. Used by
// operational tooling.
func (r *LedgerRepositoryPG) TopUp(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("top up amount must be positive, got %d", amount)
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO ledger_transactions (id, user_id, amount, type, job_id)
VALUES ($1, $2, $3, $4, '');
`, uuid.NewString(), userID, amount, domain.TransactionTopUp); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO credit_accounts (user_id, balance, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = NOW();
`, userID, amount); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListTransactions returns a user's most recent ledger entries, newest
// first.
func (r *LedgerRepositoryPG) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.LedgerTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, amount, type, job_id, created_at
FROM ledger_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerTransaction
	for rows.Next() {
		var entry domain.LedgerTransaction
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Amount, &entry.Type, &entry.JobID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Balance returns the user's current credit balance.
func (r *LedgerRepositoryPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `SELECT balance FROM credit_accounts WHERE user_id = $1;`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// HasRefund reports whether a refund transaction exists for jobID.
func (r *LedgerRepositoryPG) HasRefund(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM ledger_transactions WHERE job_id = $1 AND type = $2);
`, jobID, domain.TransactionRefund).Scan(&exists)
	return exists, err
}

func insertJobEntry(ctx context.Context, tx pgx.Tx, userID string, amount int, typ domain.TransactionType, jobID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
INSERT INTO ledger_transactions (id, user_id, amount, type, job_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id, type) WHERE job_id <> '' DO NOTHING;
`, uuid.NewString(), userID, amount, typ, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var _ domain.LedgerRepository = (*LedgerRepositoryPG)(nil)
