package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vibecheck-ai/vibecheck/internal/domain/ledger"
)

func (s *Store) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM ledger_balances WHERE user_id = $1`, userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No balance row yet means a zero balance, not a missing user.
			return 0, nil
		}
		return 0, fmt.Errorf("get balance for %s: %w", userID, err)
	}
	return balance, nil
}

// Credit adds tokens to the user's balance and appends the matching refund
// transaction, atomically. It upserts the balance row so refunding a user
// who never held tokens still works.
func (s *Store) Credit(ctx context.Context, userID string, amount int, runID, reason string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var balance int
	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_balances (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = ledger_balances.balance + $2, updated_at = now()
		RETURNING balance`, userID, amount,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_transactions (id, user_id, type, amount, balance_after, run_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), userID, ledger.TransactionRefund, amount, balance, nullIfEmpty(runID), reason)
	if err != nil {
		return 0, fmt.Errorf("insert refund transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit credit: %w", err)
	}
	return balance, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, amount, balance_after, COALESCE(run_id::text, ''), reason, created_at
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.RunID, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
