// Package ledger defines the token balance and transaction entities.
//
// Balances are mutated only through debit/credit operations that are atomic
// with respect to concurrent runs for the same user. Every mutation appends
// exactly one immutable Transaction row capturing the balance as it was at
// mutation time, so the transaction log is an authoritative audit trail
// independent of the live balance column.
package ledger

import "time"

// TransactionType classifies a ledger mutation.
type TransactionType string

const (
	TransactionSpend  TransactionType = "spend"
	TransactionRefund TransactionType = "refund"
)

// Balance is a user's live token count.
type Balance struct {
	UserID    string    `json:"user_id"`
	Tokens    int       `json:"tokens"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is one immutable ledger mutation. Amount is signed: negative
// for spends, positive for refunds. BalanceAfter is the balance produced by
// this mutation, captured when it committed.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         TransactionType `json:"type"`
	Amount       int             `json:"amount"`
	BalanceAfter int             `json:"balance_after"`
	RunID        string          `json:"run_id,omitempty"`
	Reason       string          `json:"reason"`
	CreatedAt    time.Time       `json:"created_at"`
}
