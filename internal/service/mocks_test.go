package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vibecheck-ai/vibecheck/internal/domain"
	"github.com/vibecheck-ai/vibecheck/internal/domain/agent"
	"github.com/vibecheck-ai/vibecheck/internal/domain/conversation"
	"github.com/vibecheck-ai/vibecheck/internal/domain/discovery"
	"github.com/vibecheck-ai/vibecheck/internal/domain/ledger"
	"github.com/vibecheck-ai/vibecheck/internal/domain/run"
	"github.com/vibecheck-ai/vibecheck/internal/domain/user"
	"github.com/vibecheck-ai/vibecheck/internal/port/dialogue"
	"github.com/vibecheck-ai/vibecheck/internal/port/store"
)

// mockStore implements store.Store in memory, including the atomic
// debit+insert semantics of CreateRun.
type mockStore struct {
	mu sync.Mutex

	users    map[string]*user.User
	agents   map[string]*agent.Agent // keyed by owning user id
	balances map[string]int

	transactions  []ledger.Transaction
	runs          map[string]*run.Run
	runSeq        int
	candidates    []store.Candidate
	matched       map[string][]string
	discovered    map[string][]string
	conversations []conversation.Conversation
	discoveries   []discovery.Discovery

	listCandidatesErr error
	createConvErr     error
	createDiscErr     error
	finalizeErr       error
}

func newMockStore() *mockStore {
	return &mockStore{
		users:      map[string]*user.User{},
		agents:     map[string]*agent.Agent{},
		balances:   map[string]int{},
		runs:       map[string]*run.Run{},
		matched:    map[string][]string{},
		discovered: map[string][]string{},
	}
}

// seedUser adds an active user with an agent and a balance.
func (m *mockStore) seedUser(id string, balance int, prefs ...user.ConnectionType) {
	m.users[id] = &user.User{ID: id, DisplayName: id, Active: true, ConnectionPreferences: prefs}
	m.agents[id] = &agent.Agent{
		ID: "agent-" + id, UserID: id, DisplayName: id, Persona: "persona of " + id,
		Values: []string{"honesty", "curiosity"},
	}
	m.balances[id] = balance
}

func (m *mockStore) GetUser(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (m *mockStore) GetAgentByUser(_ context.Context, userID string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (m *mockStore) Balance(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *mockStore) Credit(_ context.Context, userID string, amount int, runID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	m.transactions = append(m.transactions, ledger.Transaction{
		ID:           fmt.Sprintf("txn-%d", len(m.transactions)+1),
		UserID:       userID,
		Type:         ledger.TransactionRefund,
		Amount:       amount,
		BalanceAfter: m.balances[userID],
		RunID:        runID,
		Reason:       reason,
		CreatedAt:    time.Now(),
	})
	return m.balances[userID], nil
}

func (m *mockStore) ListTransactions(_ context.Context, userID string) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Transaction
	for _, t := range m.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) CreateRun(_ context.Context, req run.CreateRequest) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.runs {
		if r.UserID == req.UserID && !r.Status.Terminal() {
			return nil, domain.ErrRunInFlight
		}
	}
	cost := req.Kind.TokenCost()
	if m.balances[req.UserID] < cost {
		return nil, domain.ErrInsufficientFunds
	}
	m.balances[req.UserID] -= cost
	m.transactions = append(m.transactions, ledger.Transaction{
		ID:           fmt.Sprintf("txn-%d", len(m.transactions)+1),
		UserID:       req.UserID,
		Type:         ledger.TransactionSpend,
		Amount:       -cost,
		BalanceAfter: m.balances[req.UserID],
		Reason:       "vibe check " + string(req.Kind),
		CreatedAt:    time.Now(),
	})

	m.runSeq++
	now := time.Now()
	r := &run.Run{
		ID:             fmt.Sprintf("run-%d", m.runSeq),
		UserID:         req.UserID,
		Kind:           req.Kind,
		ConnectionType: req.ConnectionType,
		Status:         run.StatusProcessing,
		WeekBucket:     run.WeekBucket(now),
		CreatedAt:      now,
	}
	m.runs[r.ID] = r
	return r, nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

// FinalizeRun mirrors the store's all-or-nothing semantics: the terminal
// transition and any refund settle together or not at all.
func (m *mockStore) FinalizeRun(_ context.Context, id string, fin run.Finalization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	r, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status.Terminal() {
		return fmt.Errorf("run %s is already %s", id, r.Status)
	}
	if fin.TokensRefunded > 0 {
		m.balances[r.UserID] += fin.TokensRefunded
		m.transactions = append(m.transactions, ledger.Transaction{
			ID:           fmt.Sprintf("txn-%d", len(m.transactions)+1),
			UserID:       r.UserID,
			Type:         ledger.TransactionRefund,
			Amount:       fin.TokensRefunded,
			BalanceAfter: m.balances[r.UserID],
			RunID:        id,
			Reason:       fin.RefundReason,
			CreatedAt:    time.Now(),
		})
	}
	now := time.Now()
	r.Status = fin.Status
	r.DiscoveriesCount = fin.Discoveries
	r.TokensRefunded = fin.TokensRefunded
	r.RefundPercent = fin.RefundPercent
	r.CompletedAt = &now
	return nil
}

func (m *mockStore) CountWeeklyRuns(_ context.Context, userID string, weekBucket int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.runs {
		if r.UserID == userID && r.WeekBucket == weekBucket && r.RefundPercent < 100 {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) LatestFinishedRun(_ context.Context, userID string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *run.Run
	for _, r := range m.runs {
		if r.UserID != userID || !r.Status.Terminal() {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (m *mockStore) HasActiveRun(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.UserID == userID && !r.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) ActiveMatchUserIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matched[userID], nil
}

func (m *mockStore) DiscoveredUserIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discovered[userID], nil
}

func (m *mockStore) ListCandidates(_ context.Context, exclude []string, limit int) ([]store.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listCandidatesErr != nil {
		return nil, m.listCandidatesErr
	}
	skip := map[string]bool{}
	for _, id := range exclude {
		skip[id] = true
	}
	var out []store.Candidate
	for _, c := range m.candidates {
		if skip[c.User.ID] {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) CreateConversation(_ context.Context, c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createConvErr != nil {
		return m.createConvErr
	}
	m.conversations = append(m.conversations, *c)
	return nil
}

func (m *mockStore) CreateDiscovery(_ context.Context, d *discovery.Discovery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createDiscErr != nil {
		return m.createDiscErr
	}
	m.discoveries = append(m.discoveries, *d)
	return nil
}

func (m *mockStore) ListRunDiscoveries(_ context.Context, runID string) ([]discovery.Discovery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []discovery.Discovery
	for _, d := range m.discoveries {
		if d.RunID == runID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) ListActiveDiscoveries(_ context.Context, userID string, now time.Time) ([]discovery.Discovery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []discovery.Discovery
	for _, d := range m.discoveries {
		if d.DiscovererUserID == userID && !d.Expired(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

// candidate builds a pool entry with the given values on its agent.
func candidate(userID string, prefs []user.ConnectionType, values ...string) store.Candidate {
	if values == nil {
		values = []string{"honesty"}
	}
	return store.Candidate{
		User: user.User{ID: userID, DisplayName: userID, Active: true, ConnectionPreferences: prefs},
		Agent: agent.Agent{
			ID: "agent-" + userID, UserID: userID, DisplayName: userID,
			Persona: "persona of " + userID, Values: values,
		},
	}
}

// mockProfiles implements profile.Provider with a fixed score per user.
type mockProfiles struct {
	scores   map[string]int
	fallback int
	err      error
}

func (p *mockProfiles) Score(_ context.Context, userID string) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if s, ok := p.scores[userID]; ok {
		return s, nil
	}
	return p.fallback, nil
}

func okProfiles() *mockProfiles { return &mockProfiles{fallback: 80} }

// mockDialogue implements dialogue.Service. Verdicts are keyed by the
// candidate's user id; a missing entry fails the call.
type mockDialogue struct {
	verdicts map[string]conversation.Verdict
	errs     map[string]error
	calls    []string
}

func (d *mockDialogue) Converse(_ context.Context, req dialogue.Request) (conversation.Verdict, error) {
	d.calls = append(d.calls, req.B.UserID)
	if err, ok := d.errs[req.B.UserID]; ok {
		return conversation.Verdict{}, err
	}
	if v, ok := d.verdicts[req.B.UserID]; ok {
		return v, nil
	}
	return conversation.Verdict{}, fmt.Errorf("no scripted verdict for %s", req.B.UserID)
}

func yesVerdict(score int) conversation.Verdict {
	return conversation.Verdict{
		Transcript:         "A: hi\nB: hi",
		Summary:            "they hit it off",
		CompatibilityScore: score,
		Decision:           conversation.DecisionYes,
		Narrative:          "an easy back-and-forth from the first message",
	}
}

func noVerdict(score int) conversation.Verdict {
	return conversation.Verdict{
		Transcript:         "A: hi\nB: hello",
		Summary:            "polite but flat",
		CompatibilityScore: score,
		Decision:           conversation.DecisionNo,
	}
}

// mockPublisher implements events.Publisher and records published subjects.
type mockPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *mockPublisher) Publish(_ context.Context, subject string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, subject)
	return nil
}

func (p *mockPublisher) IsConnected() bool { return true }
func (p *mockPublisher) Close() error      { return nil }
