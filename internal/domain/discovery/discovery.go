// Package discovery defines the Discovery entity: the user-visible record of
// a positive match outcome, time-boxed by an expiry.
package discovery

import (
	"time"

	"github.com/vibecheck-ai/vibecheck/internal/domain/agent"
	"github.com/vibecheck-ai/vibecheck/internal/domain/conversation"
)

// TTL is how long a discovery stays visible after creation. Expiry is a
// read-time filter, not a destructive event: expired discoveries are inert
// but not deleted by this core.
const TTL = 7 * 24 * time.Hour

// Status values owned by this core. Later lifecycle states (interested,
// saved, dismissed) belong to the downstream UI.
const (
	StatusNew        = "new"
	StatusInterested = "interested"
	StatusSaved      = "saved"
)

// Highlights summarizes why two agents were judged compatible.
type Highlights struct {
	Score        int      `json:"score"`
	SharedValues []string `json:"shared_values,omitempty"`
	Summary      string   `json:"summary"`
}

// Discovery is created only from a yes verdict.
type Discovery struct {
	ID               string     `json:"id"`
	RunID            string     `json:"run_id"`
	ConversationID   string     `json:"conversation_id"`
	DiscovererUserID string     `json:"discoverer_user_id"`
	DiscoveredUserID string     `json:"discovered_user_id"`
	Narrative        string     `json:"narrative"`
	Highlights       Highlights `json:"highlights"`
	Status           string     `json:"status"`
	ExpiresAt        time.Time  `json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Expired reports whether the discovery is past its expiry at the given time.
func (d *Discovery) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// FromVerdict builds a Discovery from a yes verdict between the two agents.
// The caller assigns IDs and persists it.
func FromVerdict(runID, conversationID string, discoverer, discovered *agent.Agent, v conversation.Verdict, now time.Time) Discovery {
	return Discovery{
		RunID:            runID,
		ConversationID:   conversationID,
		DiscovererUserID: discoverer.UserID,
		DiscoveredUserID: discovered.UserID,
		Narrative:        v.Narrative,
		Highlights: Highlights{
			Score:        v.CompatibilityScore,
			SharedValues: agent.SharedValues(discoverer, discovered),
			Summary:      v.Summary,
		},
		Status:    StatusNew,
		ExpiresAt: now.Add(TTL),
		CreatedAt: now,
	}
}
