package domain

import "time"

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TransactionDebit  TransactionType = "debit"
	TransactionRefund TransactionType = "refund"
	TransactionTopUp  TransactionType = "top_up"
)

// LedgerTransaction is one append-only entry in a user's credit ledger.
// Amount is signed: debits are negative, refunds and top-ups positive.
// JobID doubles as the idempotency key for job-scoped entries.
type LedgerTransaction struct {
	ID        string
	UserID    string
	Amount    int
	Type      TransactionType
	JobID     string
	CreatedAt time.Time
}
