// Package dialogue defines the port for the Dialogue Service collaborator,
// which simulates a conversation between two agents and scores their
// compatibility.
package dialogue

import (
	"context"

	"github.com/vibecheck-ai/vibecheck/internal/domain/agent"
	"github.com/vibecheck-ai/vibecheck/internal/domain/conversation"
)

// Profile is the explicit request shape for one party of a dialogue. The
// collaborator never receives raw datastore rows.
type Profile struct {
	AgentID            string   `json:"agent_id"`
	UserID             string   `json:"user_id"`
	DisplayName        string   `json:"display_name"`
	Persona            string   `json:"persona"`
	Values             []string `json:"values,omitempty"`
	Interests          []string `json:"interests,omitempty"`
	CommunicationStyle string   `json:"communication_style,omitempty"`
}

// ProfileFromAgent converts a domain agent into the collaborator's request shape.
func ProfileFromAgent(a *agent.Agent) Profile {
	return Profile{
		AgentID:            a.ID,
		UserID:             a.UserID,
		DisplayName:        a.DisplayName,
		Persona:            a.Persona,
		Values:             a.Values,
		Interests:          a.Interests,
		CommunicationStyle: a.CommunicationStyle,
	}
}

// Request pairs two profiles with an optional connection-type focus.
type Request struct {
	A        Profile `json:"agent_a"`
	B        Profile `json:"agent_b"`
	TypeHint string  `json:"type_hint,omitempty"`
}

// Service is the collaborator contract. A returned error covers both
// transport failures and timeouts; callers treat them identically (skip the
// candidate, continue the run). A nil error guarantees the verdict passed
// conversation.Verdict.Validate.
type Service interface {
	Converse(ctx context.Context, req Request) (conversation.Verdict, error)
}
