// Package conversation defines the AgentConversation entity: the persisted
// record of one simulated dialogue between two agents within a run.
package conversation

import (
	"fmt"
	"time"
)

// Decision is the yes/no outcome of a dialogue.
type Decision string

const (
	DecisionYes Decision = "yes"
	DecisionNo  Decision = "no"
)

// Verdict is the structured outcome of one simulated dialogue. Narrative is
// required iff Decision is yes.
type Verdict struct {
	Transcript         string   `json:"transcript"`
	Summary            string   `json:"summary"`
	CompatibilityScore int      `json:"compatibility_score"` // 0-100
	Decision           Decision `json:"decision"`
	Narrative          string   `json:"narrative,omitempty"`
}

// Validate checks the verdict honors the collaborator contract.
func (v *Verdict) Validate() error {
	if v.CompatibilityScore < 0 || v.CompatibilityScore > 100 {
		return fmt.Errorf("compatibility score %d out of range [0,100]", v.CompatibilityScore)
	}
	switch v.Decision {
	case DecisionYes:
		if v.Narrative == "" {
			return fmt.Errorf("narrative is required for a yes decision")
		}
	case DecisionNo:
	default:
		return fmt.Errorf("unknown decision %q", v.Decision)
	}
	return nil
}

// Conversation is one (run, candidate) pairing that produced a verdict.
// Immutable once written.
type Conversation struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	AgentAID    string    `json:"agent_a_id"`
	AgentBID    string    `json:"agent_b_id"`
	UserAID     string    `json:"user_a_id"`
	UserBID     string    `json:"user_b_id"`
	Verdict     Verdict   `json:"verdict"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completed_at"`
}
