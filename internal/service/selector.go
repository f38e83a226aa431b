package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vibecheck-ai/vibecheck/internal/domain/run"
	"github.com/vibecheck-ai/vibecheck/internal/domain/user"
	"github.com/vibecheck-ai/vibecheck/internal/port/store"
)

// overFetchFactor is how many times the target candidate count the pool
// query fetches, to leave headroom for preference filtering.
const overFetchFactor = 3

// CandidateSelector picks the counterpart users a run will pair with.
type CandidateSelector struct {
	store store.Store
}

// NewCandidateSelector creates a selector backed by the given store.
func NewCandidateSelector(st store.Store) *CandidateSelector {
	return &CandidateSelector{store: st}
}

// Select returns up to kind.CandidateCount() candidates for the requester.
//
// Excluded: the requester, anyone in an active match with them (either
// side), and anyone they already hold an undismissed discovery of. The
// remaining pool is filtered by connection-type overlap against the explicit
// filter when given, else the requester's full preference set. An empty
// result is a valid outcome, not an error.
func (s *CandidateSelector) Select(ctx context.Context, requester *user.User, kind run.Kind, connType user.ConnectionType) ([]store.Candidate, error) {
	exclude := []string{requester.ID}

	matched, err := s.store.ActiveMatchUserIDs(ctx, requester.ID)
	if err != nil {
		return nil, fmt.Errorf("selector: active matches: %w", err)
	}
	exclude = append(exclude, matched...)

	discovered, err := s.store.DiscoveredUserIDs(ctx, requester.ID)
	if err != nil {
		return nil, fmt.Errorf("selector: discovered users: %w", err)
	}
	exclude = append(exclude, discovered...)

	targets := requester.ConnectionPreferences
	if connType != "" {
		targets = []user.ConnectionType{connType}
	}

	count := kind.CandidateCount()
	pool, err := s.store.ListCandidates(ctx, exclude, count*overFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("selector: list candidates: %w", err)
	}

	var picked []store.Candidate
	for _, c := range pool {
		if !c.User.OpenTo(targets) {
			continue
		}
		picked = append(picked, c)
		if len(picked) == count {
			break
		}
	}

	slog.Debug("candidates selected",
		"user_id", requester.ID,
		"pool", len(pool),
		"picked", len(picked),
		"excluded", len(exclude)-1,
	)
	return picked, nil
}
