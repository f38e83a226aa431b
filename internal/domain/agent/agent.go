// Package agent defines the Agent domain entity: a user's configured persona
// used as the input to simulated compatibility dialogues.
package agent

import (
	"errors"
	"time"
)

// Agent belongs to exactly one user. It is created once and updated in
// place; it is never deleted while the owning user is active.
type Agent struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	DisplayName        string    `json:"display_name"`
	Persona            string    `json:"persona"`
	Values             []string  `json:"values"`    // ordered, duplicate-free
	Interests          []string  `json:"interests"` // ordered, duplicate-free
	CommunicationStyle string    `json:"communication_style"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Validate checks that the agent has the fields dialogue generation needs.
func (a *Agent) Validate() error {
	if a.UserID == "" {
		return errors.New("user_id is required")
	}
	if a.DisplayName == "" {
		return errors.New("display_name is required")
	}
	if a.Persona == "" {
		return errors.New("persona is required")
	}
	return nil
}

// SharedValues returns the values present in both agents' value lists, in
// a's order. Comparison is exact string equality; no case folding or
// normalization is applied.
func SharedValues(a, b *Agent) []string {
	if a == nil || b == nil {
		return nil
	}
	other := make(map[string]bool, len(b.Values))
	for _, v := range b.Values {
		other[v] = true
	}
	var shared []string
	for _, v := range a.Values {
		if other[v] {
			shared = append(shared, v)
		}
	}
	return shared
}
