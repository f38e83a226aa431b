package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vibecheck-ai/vibecheck/internal/domain"
	"github.com/vibecheck-ai/vibecheck/internal/domain/discovery"
	"github.com/vibecheck-ai/vibecheck/internal/domain/run"
	"github.com/vibecheck-ai/vibecheck/internal/domain/user"
	"github.com/vibecheck-ai/vibecheck/internal/port/events"
	"github.com/vibecheck-ai/vibecheck/internal/port/store"
)

// IneligibleError reports that a run may not start, with every blocking
// reason. Nothing has been persisted and no tokens have moved when it is
// returned.
type IneligibleError struct {
	Reasons []string
}

func (e *IneligibleError) Error() string {
	return "not eligible: " + strings.Join(e.Reasons, "; ")
}

// RunResult is the caller-facing outcome of a vibe check request.
// DialogueFailures counts collaborator calls that failed and were skipped;
// it feeds instrumentation and is not part of the response body.
type RunResult struct {
	Success          bool                  `json:"success"`
	RunID            string                `json:"run_id,omitempty"`
	Discoveries      []discovery.Discovery `json:"discoveries,omitempty"`
	Message          string                `json:"message,omitempty"`
	Error            string                `json:"error,omitempty"`
	DialogueFailures int                   `json:"-"`
}

// RunLifecycle is the state machine tying the engine together: it creates
// the run, drives it to completion and applies the refund policy.
//
// Refunds are binary: 100% when the run produced no discoveries (including
// the no-candidates path — the token buys a chance at a discovery, not the
// search attempt), 0% when it produced at least one.
type RunLifecycle struct {
	store        store.Store
	gate         *EligibilityGate
	selector     *CandidateSelector
	orchestrator *DialogueOrchestrator
	publisher    events.Publisher
	now          func() time.Time
}

// NewRunLifecycle wires the engine's services together.
func NewRunLifecycle(st store.Store, gate *EligibilityGate, sel *CandidateSelector, orch *DialogueOrchestrator, pub events.Publisher) *RunLifecycle {
	return &RunLifecycle{
		store:        st,
		gate:         gate,
		selector:     sel,
		orchestrator: orch,
		publisher:    pub,
		now:          time.Now,
	}
}

// Execute runs one full vibe check for the user. Expected negative outcomes
// (ineligible, lost debit race) come back as *IneligibleError; "ran but found
// nothing" comes back as a successful call with a refund message; only
// dependency failures are plain errors.
func (l *RunLifecycle) Execute(ctx context.Context, userID string, kind run.Kind, connType user.ConnectionType) (*RunResult, error) {
	report, err := l.gate.Check(ctx, userID, kind, connType)
	if err != nil {
		return nil, err
	}
	if !report.CanRun {
		return nil, &IneligibleError{Reasons: report.Reasons}
	}

	requester, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	requesterAgent, err := l.store.GetAgentByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}

	// The eligibility check above is advisory. The debit, its spend
	// transaction and the run insert happen as one atomic store operation,
	// which is what actually closes the race between two concurrent
	// requests that both passed the gate.
	r, err := l.store.CreateRun(ctx, run.CreateRequest{
		UserID:         userID,
		Kind:           kind,
		ConnectionType: string(connType),
	})
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return nil, &IneligibleError{Reasons: []string{
			fmt.Sprintf("insufficient tokens: %d needed", kind.TokenCost()),
		}}
	case errors.Is(err, domain.ErrRunInFlight):
		return nil, &IneligibleError{Reasons: []string{"a vibe check is already in progress"}}
	case err != nil:
		return nil, fmt.Errorf("create run: %w", err)
	}

	slog.Info("vibe check started",
		"run_id", r.ID, "user_id", userID, "kind", kind, "connection_type", connType)
	l.publishRunEvent(ctx, events.SubjectRunCreated, r)

	candidates, err := l.selector.Select(ctx, requester, kind, connType)
	if err != nil {
		return nil, l.failAndRefund(ctx, r, 0, err)
	}

	if len(candidates) == 0 {
		if err := l.finalize(ctx, r, run.StatusFailed, 0, 100); err != nil {
			return nil, err
		}
		return &RunResult{
			Success: false,
			RunID:   r.ID,
			Error:   "No eligible candidates found",
			Message: fmt.Sprintf("Your %d tokens were refunded.", kind.TokenCost()),
		}, nil
	}

	outcome, err := l.orchestrator.Run(ctx, r, requesterAgent, candidates)
	if err != nil {
		return nil, l.failAndRefund(ctx, r, len(outcome.Discoveries()), err)
	}

	discoveries := outcome.Discoveries()
	if len(discoveries) == 0 {
		if err := l.finalize(ctx, r, run.StatusCompleted, 0, 100); err != nil {
			return nil, err
		}
		return &RunResult{
			Success:          true,
			RunID:            r.ID,
			Message:          fmt.Sprintf("No discoveries this time. Your %d tokens were refunded.", kind.TokenCost()),
			DialogueFailures: outcome.Failures(),
		}, nil
	}

	if err := l.finalize(ctx, r, run.StatusCompleted, len(discoveries), 0); err != nil {
		return nil, err
	}
	for _, d := range discoveries {
		l.publishDiscoveryEvent(ctx, &d)
	}
	return &RunResult{
		Success:          true,
		RunID:            r.ID,
		Discoveries:      discoveries,
		Message:          fmt.Sprintf("Found %d new discoveries.", len(discoveries)),
		DialogueFailures: outcome.Failures(),
	}, nil
}

// finalize moves the run to a terminal status, applies the refund policy and
// publishes the matching lifecycle event. The terminal transition and the
// refund settle in one store operation: a refund is never recorded on the run
// without the ledger holding it, and vice versa.
func (l *RunLifecycle) finalize(ctx context.Context, r *run.Run, status run.Status, discoveries, refundPercent int) error {
	refunded := 0
	reason := ""
	if refundPercent == 100 {
		refunded = r.Kind.TokenCost()
		reason = "vibe check refund: no discoveries"
		if status == run.StatusFailed {
			reason = "vibe check refund: no eligible candidates"
		}
	}

	err := l.store.FinalizeRun(ctx, r.ID, run.Finalization{
		Status:         status,
		Discoveries:    discoveries,
		TokensRefunded: refunded,
		RefundPercent:  refundPercent,
		RefundReason:   reason,
	})
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", r.ID, err)
	}

	r.Status = status
	r.DiscoveriesCount = discoveries
	r.TokensRefunded = refunded
	r.RefundPercent = refundPercent

	subject := events.SubjectRunCompleted
	if status == run.StatusFailed {
		subject = events.SubjectRunFailed
	}
	l.publishRunEvent(ctx, subject, r)

	slog.Info("vibe check finished",
		"run_id", r.ID,
		"status", status,
		"discoveries", discoveries,
		"tokens_refunded", refunded,
	)
	return nil
}

// failAndRefund compensates for a datastore failure mid-run: the run is
// marked failed and the debited tokens are returned, atomically, so the
// ledger is never left debited for a run that did not deliver. Discoveries
// persisted before the abort stay: they are real verdicts with their own TTL,
// and the run row records them so the two never disagree. The refund is still
// full because the run never completed.
func (l *RunLifecycle) failAndRefund(ctx context.Context, r *run.Run, persisted int, cause error) error {
	err := l.store.FinalizeRun(ctx, r.ID, run.Finalization{
		Status:         run.StatusFailed,
		Discoveries:    persisted,
		TokensRefunded: r.Kind.TokenCost(),
		RefundPercent:  100,
		RefundReason:   "vibe check refund: run aborted",
	})
	if err != nil {
		slog.Error("failed to settle aborted run", "run_id", r.ID, "error", err)
		return fmt.Errorf("run %s aborted and refund failed (%v): %w", r.ID, err, cause)
	}
	r.Status = run.StatusFailed
	r.DiscoveriesCount = persisted
	r.TokensRefunded = r.Kind.TokenCost()
	r.RefundPercent = 100
	l.publishRunEvent(ctx, events.SubjectRunFailed, r)
	return fmt.Errorf("run %s aborted: %w", r.ID, cause)
}

// publishRunEvent publishes best-effort: a broker outage never fails a run.
func (l *RunLifecycle) publishRunEvent(ctx context.Context, subject string, r *run.Run) {
	if l.publisher == nil {
		return
	}
	data, err := json.Marshal(events.RunEvent{
		RunID:            r.ID,
		UserID:           r.UserID,
		Kind:             string(r.Kind),
		Status:           string(r.Status),
		DiscoveriesCount: r.DiscoveriesCount,
		TokensRefunded:   r.TokensRefunded,
		At:               l.now(),
	})
	if err != nil {
		slog.Error("marshal run event", "run_id", r.ID, "error", err)
		return
	}
	if err := l.publisher.Publish(ctx, subject, data); err != nil {
		slog.Error("publish run event", "run_id", r.ID, "subject", subject, "error", err)
	}
}

func (l *RunLifecycle) publishDiscoveryEvent(ctx context.Context, d *discovery.Discovery) {
	if l.publisher == nil {
		return
	}
	data, err := json.Marshal(events.DiscoveryEvent{
		DiscoveryID:      d.ID,
		RunID:            d.RunID,
		DiscovererUserID: d.DiscovererUserID,
		DiscoveredUserID: d.DiscoveredUserID,
		Score:            d.Highlights.Score,
		At:               l.now(),
	})
	if err != nil {
		slog.Error("marshal discovery event", "discovery_id", d.ID, "error", err)
		return
	}
	if err := l.publisher.Publish(ctx, events.SubjectDiscoveryCreated, data); err != nil {
		slog.Error("publish discovery event", "discovery_id", d.ID, "error", err)
	}
}
