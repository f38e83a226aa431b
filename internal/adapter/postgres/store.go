package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vibecheck-ai/vibecheck/internal/domain"
	"github.com/vibecheck-ai/vibecheck/internal/domain/agent"
	"github.com/vibecheck-ai/vibecheck/internal/domain/user"
	"github.com/vibecheck-ai/vibecheck/internal/port/store"
)

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// pgTextArray converts a string slice to a pgx-compatible text array.
// nil slices become empty arrays to avoid SQL NULL.
func pgTextArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullIfEmpty returns nil for empty strings (for nullable UUID columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- Users ---

func (s *Store) GetUser(ctx context.Context, id string) (*user.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, display_name, active, connection_preferences, created_at
		FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get user %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func scanUser(row scannable) (user.User, error) {
	var (
		u     user.User
		prefs []string
	)
	err := row.Scan(&u.ID, &u.DisplayName, &u.Active, &prefs, &u.CreatedAt)
	if err != nil {
		return user.User{}, err
	}
	for _, p := range prefs {
		u.ConnectionPreferences = append(u.ConnectionPreferences, user.ConnectionType(p))
	}
	return u, nil
}

// --- Agents ---

func (s *Store) GetAgentByUser(ctx context.Context, userID string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, display_name, persona, agent_values, interests, communication_style, created_at, updated_at
		FROM agents WHERE user_id = $1`, userID)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get agent for user %s: %w", userID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get agent for user: %w", err)
	}
	return &a, nil
}

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	err := row.Scan(&a.ID, &a.UserID, &a.DisplayName, &a.Persona, &a.Values, &a.Interests, &a.CommunicationStyle, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return agent.Agent{}, err
	}
	return a, nil
}

// --- Candidate pool ---

func (s *Store) ActiveMatchUserIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT CASE WHEN user_a = $1 THEN user_b ELSE user_a END
		FROM matches
		WHERE (user_a = $1 OR user_b = $1) AND status = 'active'`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active matches: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan match user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) DiscoveredUserIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT discovered_user_id
		FROM discoveries
		WHERE discoverer_user_id = $1 AND status IN ('new', 'interested', 'saved')`, userID)
	if err != nil {
		return nil, fmt.Errorf("list discovered user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan discovered user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListCandidates(ctx context.Context, exclude []string, limit int) ([]store.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.display_name, u.active, u.connection_preferences, u.created_at,
		       a.id, a.user_id, a.display_name, a.persona, a.agent_values, a.interests, a.communication_style, a.created_at, a.updated_at
		FROM users u
		JOIN agents a ON a.user_id = u.id
		WHERE u.active AND NOT (u.id::text = ANY($1::text[]))
		ORDER BY u.created_at DESC
		LIMIT $2`, pgTextArray(exclude), limit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var candidates []store.Candidate
	for rows.Next() {
		var (
			c     store.Candidate
			prefs []string
		)
		err := rows.Scan(
			&c.User.ID, &c.User.DisplayName, &c.User.Active, &prefs, &c.User.CreatedAt,
			&c.Agent.ID, &c.Agent.UserID, &c.Agent.DisplayName, &c.Agent.Persona,
			&c.Agent.Values, &c.Agent.Interests, &c.Agent.CommunicationStyle,
			&c.Agent.CreatedAt, &c.Agent.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		for _, p := range prefs {
			c.User.ConnectionPreferences = append(c.User.ConnectionPreferences, user.ConnectionType(p))
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
