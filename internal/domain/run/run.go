// Package run defines the VibeCheckRun entity and its state machine.
package run

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the current state of a run.
//
// Lifecycle: pending (transient, before persistence) -> processing ->
// completed | failed. Terminal states are final; a run never re-enters
// processing. Once terminal, the run is immutable except for the refund
// fields set during finalization.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind selects the run tier, fixing token cost and candidate count.
type Kind string

const (
	KindStandard Kind = "standard"
	KindExtended Kind = "extended"
)

// Per-kind pricing and sizing.
const (
	StandardCost       = 10
	ExtendedCost       = 20
	StandardCandidates = 3
	ExtendedCandidates = 5
)

// Policy limits applied by the eligibility gate.
const (
	WeeklyLimit     = 3
	Cooldown        = 24 * time.Hour
	MinProfileScore = 30
)

// ParseKind validates and converts a raw kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindStandard, KindExtended:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown run kind %q", s)
	}
}

// TokenCost returns the number of tokens a run of this kind debits.
func (k Kind) TokenCost() int {
	if k == KindExtended {
		return ExtendedCost
	}
	return StandardCost
}

// CandidateCount returns how many counterparts a run of this kind pairs with.
func (k Kind) CandidateCount() int {
	if k == KindExtended {
		return ExtendedCandidates
	}
	return StandardCandidates
}

// Run is one bounded matching attempt: it consumes tokens and produces zero
// or more discoveries.
type Run struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	Kind                  Kind       `json:"kind"`
	ConnectionType        string     `json:"connection_type,omitempty"`
	Status                Status     `json:"status"`
	WeekBucket            int        `json:"week_bucket"`
	DiscoveriesCount      int        `json:"discoveries_count"`
	TokensRefunded        int        `json:"tokens_refunded"`
	RefundPercent         int        `json:"refund_percent"`
	CreatedAt             time.Time  `json:"created_at"`
	EstimatedCompletionAt time.Time  `json:"estimated_completion_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

// Validate checks run fields ahead of persistence.
func (r *Run) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	switch r.Status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("invalid status %q", r.Status)
	}
	return nil
}

// CreateRequest holds the fields needed to open a new run. The store inserts
// the run and debits TokenCost in a single atomic operation.
type CreateRequest struct {
	UserID         string `json:"user_id"`
	Kind           Kind   `json:"kind"`
	ConnectionType string `json:"connection_type,omitempty"`
}

// Finalization carries a run's terminal state together with its refund
// bookkeeping. The store applies the status transition, the balance credit
// and the refund transaction as a single atomic operation, so the run row
// and the ledger can never disagree about a refund.
type Finalization struct {
	Status         Status
	Discoveries    int
	TokensRefunded int
	RefundPercent  int
	RefundReason   string
}

// EligibilityReport itemizes every condition blocking a prospective run.
// Reasons are accumulated, not short-circuited: the caller sees all blocking
// conditions at once. CanRun is true iff Reasons is empty.
type EligibilityReport struct {
	Eligible               bool     `json:"eligible"`
	CanRun                 bool     `json:"can_run"`
	Reasons                []string `json:"reasons"`
	TokenBalance           int      `json:"token_balance"`
	TokensNeeded           int      `json:"tokens_needed"`
	WeeklyCount            int      `json:"weekly_count"`
	WeeklyLimit            int      `json:"weekly_limit"`
	CooldownHoursRemaining float64  `json:"cooldown_hours_remaining"`
}
