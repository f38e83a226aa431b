package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vibecheck-ai/vibecheck/internal/domain/conversation"
	"github.com/vibecheck-ai/vibecheck/internal/domain/discovery"
)

func (s *Store) CreateConversation(ctx context.Context, c *conversation.Conversation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_conversations (id, run_id, agent_a_id, agent_b_id, user_a_id, user_b_id,
			transcript, summary, compatibility_score, decision, narrative, status, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.RunID, c.AgentAID, c.AgentBID, c.UserAID, c.UserBID,
		c.Verdict.Transcript, c.Verdict.Summary, c.Verdict.CompatibilityScore,
		c.Verdict.Decision, c.Verdict.Narrative, c.Status, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *Store) CreateDiscovery(ctx context.Context, d *discovery.Discovery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO discoveries (id, run_id, conversation_id, discoverer_user_id, discovered_user_id,
			narrative, compatibility_score, shared_values, summary, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.RunID, d.ConversationID, d.DiscovererUserID, d.DiscoveredUserID,
		d.Narrative, d.Highlights.Score, pgTextArray(d.Highlights.SharedValues),
		d.Highlights.Summary, d.Status, d.ExpiresAt, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create discovery: %w", err)
	}
	return nil
}

func (s *Store) ListRunDiscoveries(ctx context.Context, runID string) ([]discovery.Discovery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, conversation_id, discoverer_user_id, discovered_user_id,
		       narrative, compatibility_score, shared_values, summary, status, expires_at, created_at
		FROM discoveries
		WHERE run_id = $1
		ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run discoveries: %w", err)
	}
	defer rows.Close()
	return collectDiscoveries(rows)
}

func (s *Store) ListActiveDiscoveries(ctx context.Context, userID string, now time.Time) ([]discovery.Discovery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, conversation_id, discoverer_user_id, discovered_user_id,
		       narrative, compatibility_score, shared_values, summary, status, expires_at, created_at
		FROM discoveries
		WHERE discoverer_user_id = $1 AND expires_at > $2
		ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list active discoveries: %w", err)
	}
	defer rows.Close()
	return collectDiscoveries(rows)
}

func collectDiscoveries(rows pgx.Rows) ([]discovery.Discovery, error) {
	var out []discovery.Discovery
	for rows.Next() {
		var d discovery.Discovery
		err := rows.Scan(&d.ID, &d.RunID, &d.ConversationID, &d.DiscovererUserID, &d.DiscoveredUserID,
			&d.Narrative, &d.Highlights.Score, &d.Highlights.SharedValues, &d.Highlights.Summary,
			&d.Status, &d.ExpiresAt, &d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan discovery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
