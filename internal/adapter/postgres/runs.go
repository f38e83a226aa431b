package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vibecheck-ai/vibecheck/internal/domain"
	"github.com/vibecheck-ai/vibecheck/internal/domain/ledger"
	"github.com/vibecheck-ai/vibecheck/internal/domain/run"
)

// Rough per-candidate dialogue budget used for the completion estimate
// surfaced to clients. Purely advisory.
const perCandidateEstimate = 30 * time.Second

// CreateRun opens a new run for req.UserID: it debits the token cost,
// inserts the run row and appends the spend transaction in one database
// transaction. The conditional debit enforces the non-negative balance and
// the one_active_run_per_user index enforces single-flight, so two racing
// requests can never both debit.
func (s *Store) CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error) {
	cost := req.Kind.TokenCost()
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var balance int
	err = tx.QueryRow(ctx, `
		UPDATE ledger_balances
		SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance`, req.UserID, cost,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("debit %d tokens for %s: %w", cost, req.UserID, domain.ErrInsufficientFunds)
		}
		return nil, fmt.Errorf("debit tokens: %w", err)
	}

	r := run.Run{
		ID:                    uuid.NewString(),
		UserID:                req.UserID,
		Kind:                  req.Kind,
		ConnectionType:        req.ConnectionType,
		Status:                run.StatusProcessing,
		WeekBucket:            run.WeekBucket(now),
		CreatedAt:             now,
		EstimatedCompletionAt: now.Add(time.Duration(req.Kind.CandidateCount()) * perCandidateEstimate),
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO vibe_check_runs (id, user_id, kind, connection_type, status, week_bucket, created_at, estimated_completion_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.UserID, r.Kind, nullIfEmpty(r.ConnectionType), r.Status, r.WeekBucket, r.CreatedAt, r.EstimatedCompletionAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "one_active_run_per_user" {
			return nil, fmt.Errorf("create run for %s: %w", req.UserID, domain.ErrRunInFlight)
		}
		return nil, fmt.Errorf("insert run: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_transactions (id, user_id, type, amount, balance_after, run_id, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), req.UserID, ledger.TransactionSpend, -cost, balance, r.ID,
		fmt.Sprintf("vibe check run (%s)", req.Kind))
	if err != nil {
		return nil, fmt.Errorf("insert spend transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit run: %w", err)
	}
	return &r, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, kind, COALESCE(connection_type, ''), status, week_bucket,
		       discoveries_count, tokens_refunded, refund_percent, created_at,
		       estimated_completion_at, completed_at
		FROM vibe_check_runs WHERE id = $1`, id)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

func scanRun(row scannable) (run.Run, error) {
	var r run.Run
	err := row.Scan(&r.ID, &r.UserID, &r.Kind, &r.ConnectionType, &r.Status, &r.WeekBucket,
		&r.DiscoveriesCount, &r.TokensRefunded, &r.RefundPercent, &r.CreatedAt,
		&r.EstimatedCompletionAt, &r.CompletedAt)
	if err != nil {
		return run.Run{}, err
	}
	return r, nil
}

// FinalizeRun moves a run into a terminal status and settles its refund. The
// status transition, the balance credit and the refund transaction commit or
// roll back together, so a run can never record a refund the ledger does not
// hold. The status guard makes the transition one-way: a run already
// completed or failed is left untouched and the call reports ErrNotFound.
func (s *Store) FinalizeRun(ctx context.Context, id string, fin run.Finalization) error {
	if !fin.Status.Terminal() {
		return fmt.Errorf("finalize run %s: %q is not a terminal status", id, fin.Status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var userID string
	err = tx.QueryRow(ctx, `
		UPDATE vibe_check_runs
		SET status = $2, discoveries_count = $3, tokens_refunded = $4, refund_percent = $5, completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING user_id`,
		id, fin.Status, fin.Discoveries, fin.TokensRefunded, fin.RefundPercent,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("finalize run %s: no active run: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("finalize run %s: %w", id, err)
	}

	if fin.TokensRefunded > 0 {
		var balance int
		err = tx.QueryRow(ctx, `
			INSERT INTO ledger_balances (user_id, balance, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (user_id) DO UPDATE
			SET balance = ledger_balances.balance + $2, updated_at = now()
			RETURNING balance`, userID, fin.TokensRefunded,
		).Scan(&balance)
		if err != nil {
			return fmt.Errorf("refund run %s: %w", id, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_transactions (id, user_id, type, amount, balance_after, run_id, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.NewString(), userID, ledger.TransactionRefund, fin.TokensRefunded, balance, id, fin.RefundReason)
		if err != nil {
			return fmt.Errorf("insert refund transaction: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

// CountWeeklyRuns counts the user's runs in the given ISO week bucket.
// Fully refunded runs do not count against the weekly quota.
func (s *Store) CountWeeklyRuns(ctx context.Context, userID string, weekBucket int) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM vibe_check_runs
		WHERE user_id = $1 AND week_bucket = $2 AND refund_percent < 100`,
		userID, weekBucket,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count weekly runs: %w", err)
	}
	return count, nil
}

func (s *Store) LatestFinishedRun(ctx context.Context, userID string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, kind, COALESCE(connection_type, ''), status, week_bucket,
		       discoveries_count, tokens_refunded, refund_percent, created_at,
		       estimated_completion_at, completed_at
		FROM vibe_check_runs
		WHERE user_id = $1 AND status IN ('completed', 'failed')
		ORDER BY created_at DESC
		LIMIT 1`, userID)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("latest finished run for %s: %w", userID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("latest finished run: %w", err)
	}
	return &r, nil
}

func (s *Store) HasActiveRun(ctx context.Context, userID string) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM vibe_check_runs
			WHERE user_id = $1 AND status IN ('pending', 'processing')
		)`, userID,
	).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("check active run: %w", err)
	}
	return active, nil
}
