package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vibecheck-ai/vibecheck/internal/domain"
	"github.com/vibecheck-ai/vibecheck/internal/domain/run"
	"github.com/vibecheck-ai/vibecheck/internal/domain/user"
	"github.com/vibecheck-ai/vibecheck/internal/port/profile"
	"github.com/vibecheck-ai/vibecheck/internal/port/store"
)

// EligibilityGate decides whether a user may start a vibe check run. Every
// check is independent and reasons are accumulated, so a caller sees all
// blocking conditions at once rather than just the first.
//
// The gate is advisory: the check and the run-creation debit are not atomic
// with each other, so RunLifecycle relies on the store's atomic debit+insert
// to close the race, not on this gate.
type EligibilityGate struct {
	store    store.Store
	profiles profile.Provider
	now      func() time.Time
}

// NewEligibilityGate creates a gate backed by the given store and
// profile-completeness provider.
func NewEligibilityGate(st store.Store, profiles profile.Provider) *EligibilityGate {
	return &EligibilityGate{store: st, profiles: profiles, now: time.Now}
}

// Check evaluates all eligibility conditions for a run of the given kind and
// optional connection-type filter. A non-nil report with CanRun=false is a
// normal outcome; an error means a dependency failed (or the user does not
// exist) and nothing can be said about eligibility.
func (g *EligibilityGate) Check(ctx context.Context, userID string, kind run.Kind, connType user.ConnectionType) (*run.EligibilityReport, error) {
	now := g.now()
	report := &run.EligibilityReport{
		Reasons:      []string{},
		TokensNeeded: kind.TokenCost(),
		WeeklyLimit:  run.WeeklyLimit,
	}

	u, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("eligibility: load user: %w", err)
	}
	if !u.Active {
		report.Reasons = append(report.Reasons, "account is deactivated")
	}

	if connType != "" && !user.ValidConnectionTypes[connType] {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("unknown connection type %q", connType))
	}

	if _, err := g.store.GetAgentByUser(ctx, userID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("eligibility: load agent: %w", err)
		}
		report.Reasons = append(report.Reasons, "no agent configured for this account")
	}

	balance, err := g.store.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("eligibility: load balance: %w", err)
	}
	report.TokenBalance = balance
	if balance < report.TokensNeeded {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("insufficient tokens: have %d, need %d", balance, report.TokensNeeded))
	}

	weekly, err := g.store.CountWeeklyRuns(ctx, userID, run.WeekBucket(now))
	if err != nil {
		return nil, fmt.Errorf("eligibility: count weekly runs: %w", err)
	}
	report.WeeklyCount = weekly
	if weekly >= run.WeeklyLimit {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("weekly limit reached: %d of %d vibe checks used this week", weekly, run.WeeklyLimit))
	}

	last, err := g.store.LatestFinishedRun(ctx, userID)
	switch {
	case err == nil:
		if elapsed := now.Sub(last.CreatedAt); elapsed < run.Cooldown {
			remaining := (run.Cooldown - elapsed).Hours()
			report.CooldownHoursRemaining = remaining
			report.Reasons = append(report.Reasons,
				fmt.Sprintf("cooldown active: %.1f hours until the next vibe check", remaining))
		}
	case errors.Is(err, domain.ErrNotFound):
		// First run ever; no cooldown.
	default:
		return nil, fmt.Errorf("eligibility: load latest run: %w", err)
	}

	active, err := g.store.HasActiveRun(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("eligibility: check active run: %w", err)
	}
	if active {
		report.Reasons = append(report.Reasons, "a vibe check is already in progress")
	}

	score, err := g.profiles.Score(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("eligibility: profile completeness: %w", err)
	}
	if score < run.MinProfileScore {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("profile completeness %d is below the required %d", score, run.MinProfileScore))
	}

	report.Eligible = len(report.Reasons) == 0
	report.CanRun = report.Eligible
	return report, nil
}
