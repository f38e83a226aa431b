package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vibecheck-ai/vibecheck/internal/domain/agent"
	"github.com/vibecheck-ai/vibecheck/internal/domain/conversation"
	"github.com/vibecheck-ai/vibecheck/internal/domain/discovery"
	"github.com/vibecheck-ai/vibecheck/internal/domain/run"
	"github.com/vibecheck-ai/vibecheck/internal/port/dialogue"
	"github.com/vibecheck-ai/vibecheck/internal/port/store"
)

// PairingResult records one attempted pairing within a run. Exactly one of
// Conversation or Err is set; Discovery is set only for a yes verdict.
type PairingResult struct {
	Candidate    store.Candidate
	Conversation *conversation.Conversation
	Discovery    *discovery.Discovery
	Err          error
}

// DialogueOutcome is the inspectable aggregate of a run's fan-out: every
// pairing attempted, succeeded or not, in the order it was tried.
type DialogueOutcome struct {
	Attempted []PairingResult
}

// Discoveries returns the discoveries produced by yes verdicts.
func (o *DialogueOutcome) Discoveries() []discovery.Discovery {
	var ds []discovery.Discovery
	for _, p := range o.Attempted {
		if p.Discovery != nil {
			ds = append(ds, *p.Discovery)
		}
	}
	return ds
}

// Failures returns how many pairings failed at the collaborator.
func (o *DialogueOutcome) Failures() int {
	n := 0
	for _, p := range o.Attempted {
		if p.Err != nil {
			n++
		}
	}
	return n
}

// DialogueOrchestrator drives the per-candidate dialogue fan-out for a run.
//
// Candidates are processed sequentially: the run is one logical unit of work
// and the reference behavior has no parallel fan-out. A collaborator failure
// (including timeout) for one candidate never aborts the run; the candidate
// is skipped and the failure stays visible in the outcome. Failed attempts
// are not persisted; only successful verdicts become conversation rows.
type DialogueOrchestrator struct {
	dialogues dialogue.Service
	store     store.Store
	now       func() time.Time
}

// NewDialogueOrchestrator creates an orchestrator backed by the given
// dialogue collaborator and store.
func NewDialogueOrchestrator(d dialogue.Service, st store.Store) *DialogueOrchestrator {
	return &DialogueOrchestrator{dialogues: d, store: st, now: time.Now}
}

// Run converses the requester's agent with each candidate and persists the
// results. A returned error is a datastore failure; collaborator failures
// are folded into the outcome instead.
func (dr *DialogueOrchestrator) Run(ctx context.Context, r *run.Run, requester *agent.Agent, candidates []store.Candidate) (*DialogueOutcome, error) {
	outcome := &DialogueOutcome{}

	for _, cand := range candidates {
		res := PairingResult{Candidate: cand}

		verdict, err := dr.dialogues.Converse(ctx, dialogue.Request{
			A:        dialogue.ProfileFromAgent(requester),
			B:        dialogue.ProfileFromAgent(&cand.Agent),
			TypeHint: r.ConnectionType,
		})
		if err != nil {
			slog.Warn("dialogue failed, skipping candidate",
				"run_id", r.ID,
				"candidate_user_id", cand.User.ID,
				"error", err,
			)
			res.Err = err
			outcome.Attempted = append(outcome.Attempted, res)
			continue
		}

		conv := &conversation.Conversation{
			ID:          uuid.NewString(),
			RunID:       r.ID,
			AgentAID:    requester.ID,
			AgentBID:    cand.Agent.ID,
			UserAID:     requester.UserID,
			UserBID:     cand.User.ID,
			Verdict:     verdict,
			Status:      "completed",
			CompletedAt: dr.now(),
		}
		if err := dr.store.CreateConversation(ctx, conv); err != nil {
			return outcome, fmt.Errorf("persist conversation: %w", err)
		}
		res.Conversation = conv

		if verdict.Decision == conversation.DecisionYes {
			d := discovery.FromVerdict(r.ID, conv.ID, requester, &cand.Agent, verdict, dr.now())
			d.ID = uuid.NewString()
			if err := dr.store.CreateDiscovery(ctx, &d); err != nil {
				return outcome, fmt.Errorf("persist discovery: %w", err)
			}
			res.Discovery = &d
		}

		outcome.Attempted = append(outcome.Attempted, res)
	}

	return outcome, nil
}
