// Package store defines the persistence port for the matching engine.
package store

import (
	"context"
	"time"

	"github.com/vibecheck-ai/vibecheck/internal/domain/agent"
	"github.com/vibecheck-ai/vibecheck/internal/domain/conversation"
	"github.com/vibecheck-ai/vibecheck/internal/domain/discovery"
	"github.com/vibecheck-ai/vibecheck/internal/domain/ledger"
	"github.com/vibecheck-ai/vibecheck/internal/domain/run"
	"github.com/vibecheck-ai/vibecheck/internal/domain/user"
)

// Candidate is an active user with a configured agent, as returned by the
// candidate pool query.
type Candidate struct {
	User  user.User
	Agent agent.Agent
}

// Store is the port interface for all persistent state.
type Store interface {
	// Users and agents
	GetUser(ctx context.Context, id string) (*user.User, error)
	// GetAgentByUser returns the agent owned by userID, or domain.ErrNotFound.
	GetAgentByUser(ctx context.Context, userID string) (*agent.Agent, error)

	// Ledger. Credit always succeeds (refunds are not rejected) and appends
	// a refund transaction capturing the resulting balance.
	Balance(ctx context.Context, userID string) (int, error)
	Credit(ctx context.Context, userID string, amount int, runID, reason string) (int, error)
	ListTransactions(ctx context.Context, userID string) ([]ledger.Transaction, error)

	// Runs. CreateRun performs the conditional debit, the spend transaction
	// and the run insert in one atomic operation; it returns
	// domain.ErrInsufficientFunds when the debit would go negative and
	// domain.ErrRunInFlight when a non-terminal run already exists for the
	// user. Either failure persists nothing.
	CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error)
	GetRun(ctx context.Context, id string) (*run.Run, error)
	// FinalizeRun moves a processing run to a terminal status and, when the
	// finalization carries a refund, credits the balance and appends the
	// refund transaction in the same atomic operation. Either everything is
	// recorded or nothing is; finalizing an already-terminal run is an error.
	FinalizeRun(ctx context.Context, id string, fin run.Finalization) error
	// CountWeeklyRuns counts the user's runs in the given ISO week bucket,
	// excluding fully-refunded ones.
	CountWeeklyRuns(ctx context.Context, userID string, weekBucket int) (int, error)
	// LatestFinishedRun returns the most recent completed or failed run for
	// the user, or domain.ErrNotFound.
	LatestFinishedRun(ctx context.Context, userID string) (*run.Run, error)
	HasActiveRun(ctx context.Context, userID string) (bool, error)

	// Candidate pool
	ActiveMatchUserIDs(ctx context.Context, userID string) ([]string, error)
	// DiscoveredUserIDs returns users the given user already holds an
	// undismissed (new/interested/saved) discovery of.
	DiscoveredUserIDs(ctx context.Context, userID string) ([]string, error)
	// ListCandidates returns up to limit active users with an agent,
	// excluding the given user ids. Ordering is stable for a given query.
	ListCandidates(ctx context.Context, exclude []string, limit int) ([]Candidate, error)

	// Dialogue outcomes
	CreateConversation(ctx context.Context, c *conversation.Conversation) error
	CreateDiscovery(ctx context.Context, d *discovery.Discovery) error
	ListRunDiscoveries(ctx context.Context, runID string) ([]discovery.Discovery, error)
	// ListActiveDiscoveries returns the user's unexpired discoveries as of
	// now. Expiry is applied at read time.
	ListActiveDiscoveries(ctx context.Context, userID string, now time.Time) ([]discovery.Discovery, error)
}
