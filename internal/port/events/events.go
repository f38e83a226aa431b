// Package events defines the domain-event publisher port. Run and discovery
// lifecycle events are published for downstream consumers (notification
// pipelines, analytics); delivery to end users is not this core's concern.
package events

import (
	"context"
	"time"
)

// Publisher sends a serialized event to the given subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	IsConnected() bool
	Close() error
}

// Subjects for vibe check lifecycle events.
const (
	SubjectRunCreated       = "vibechecks.run.created"
	SubjectRunCompleted     = "vibechecks.run.completed"
	SubjectRunFailed        = "vibechecks.run.failed"
	SubjectDiscoveryCreated = "vibechecks.discovery.created"
)

// RunEvent is the payload for run lifecycle subjects.
type RunEvent struct {
	RunID            string    `json:"run_id"`
	UserID           string    `json:"user_id"`
	Kind             string    `json:"kind"`
	Status           string    `json:"status"`
	DiscoveriesCount int       `json:"discoveries_count"`
	TokensRefunded   int       `json:"tokens_refunded"`
	At               time.Time `json:"at"`
}

// DiscoveryEvent is the payload for SubjectDiscoveryCreated.
type DiscoveryEvent struct {
	DiscoveryID      string    `json:"discovery_id"`
	RunID            string    `json:"run_id"`
	DiscovererUserID string    `json:"discoverer_user_id"`
	DiscoveredUserID string    `json:"discovered_user_id"`
	Score            int       `json:"score"`
	At               time.Time `json:"at"`
}
