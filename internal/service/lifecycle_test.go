package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vibecheck-ai/vibecheck/internal/domain"
	"github.com/vibecheck-ai/vibecheck/internal/domain/conversation"
	"github.com/vibecheck-ai/vibecheck/internal/domain/discovery"
	"github.com/vibecheck-ai/vibecheck/internal/domain/ledger"
	"github.com/vibecheck-ai/vibecheck/internal/domain/run"
	"github.com/vibecheck-ai/vibecheck/internal/port/events"
	"github.com/vibecheck-ai/vibecheck/internal/port/store"
)

func newLifecycle(st store.Store, dlg *mockDialogue, pub *mockPublisher) *RunLifecycle {
	gate := NewEligibilityGate(st, okProfiles())
	return NewRunLifecycle(st, gate, NewCandidateSelector(st), NewDialogueOrchestrator(dlg, st), pub)
}

func TestLifecycle_HappyPath(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 15)
	prior := time.Now().Add(-25 * time.Hour)
	priorDone := prior.Add(time.Minute)
	st.runs["prior"] = &run.Run{
		ID: "prior", UserID: "u1", Kind: run.KindStandard,
		Status: run.StatusCompleted, WeekBucket: run.WeekBucket(prior),
		DiscoveriesCount: 1, CreatedAt: prior, CompletedAt: &priorDone,
	}
	st.candidates = append(st.candidates,
		candidate("c1", nil), candidate("c2", nil), candidate("c3", nil))
	dlg := &mockDialogue{verdicts: map[string]conversation.Verdict{
		"c1": yesVerdict(85), "c2": yesVerdict(78), "c3": noVerdict(25),
	}}
	pub := &mockPublisher{}

	res, err := newLifecycle(st, dlg, pub).Execute(context.Background(), "u1", run.KindStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(res.Discoveries) != 2 {
		t.Fatalf("expected 2 discoveries, got %d", len(res.Discoveries))
	}
	if st.balances["u1"] != 5 {
		t.Fatalf("expected balance 5, got %d", st.balances["u1"])
	}
	r := st.runs[res.RunID]
	if r.Status != run.StatusCompleted || r.TokensRefunded != 0 || r.DiscoveriesCount != 2 {
		t.Fatalf("wrong final run state: %+v", r)
	}

	var sawCreated, sawCompleted, sawDiscovery bool
	for _, s := range pub.published {
		switch s {
		case events.SubjectRunCreated:
			sawCreated = true
		case events.SubjectRunCompleted:
			sawCompleted = true
		case events.SubjectDiscoveryCreated:
			sawDiscovery = true
		}
	}
	if !sawCreated || !sawCompleted || !sawDiscovery {
		t.Fatalf("missing lifecycle events, published: %v", pub.published)
	}
}

func TestLifecycle_NoCandidates(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 15)
	pub := &mockPublisher{}

	res, err := newLifecycle(st, &mockDialogue{}, pub).Execute(context.Background(), "u1", run.KindStandard, "")
	if err != nil {
		t.Fatalf("no candidates is a soft failure, not an error: %v", err)
	}
	if res.Success {
		t.Fatal("expected success=false")
	}
	if res.Error != "No eligible candidates found" {
		t.Fatalf("wrong error message: %q", res.Error)
	}
	if st.balances["u1"] != 15 {
		t.Fatalf("expected balance restored to 15, got %d", st.balances["u1"])
	}
	r := st.runs[res.RunID]
	if r.Status != run.StatusFailed || r.TokensRefunded != 10 || r.RefundPercent != 100 {
		t.Fatalf("wrong final run state: %+v", r)
	}
}

func TestLifecycle_AllNoVerdicts(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 15)
	st.candidates = append(st.candidates,
		candidate("c1", nil), candidate("c2", nil), candidate("c3", nil))
	dlg := &mockDialogue{verdicts: map[string]conversation.Verdict{
		"c1": noVerdict(10), "c2": noVerdict(20), "c3": noVerdict(30),
	}}

	res, err := newLifecycle(st, dlg, &mockPublisher{}).Execute(context.Background(), "u1", run.KindStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(res.Discoveries) != 0 {
		t.Fatalf("expected no discoveries, got %d", len(res.Discoveries))
	}
	if !strings.Contains(res.Message, "refunded") {
		t.Fatalf("message must mention the refund, got %q", res.Message)
	}
	if st.balances["u1"] != 15 {
		t.Fatalf("expected balance restored to 15, got %d", st.balances["u1"])
	}
	r := st.runs[res.RunID]
	if r.Status != run.StatusCompleted || r.TokensRefunded != 10 {
		t.Fatalf("wrong final run state: %+v", r)
	}
}

func TestLifecycle_InsufficientFunds(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 5)

	_, err := newLifecycle(st, &mockDialogue{}, &mockPublisher{}).Execute(context.Background(), "u1", run.KindStandard, "")
	var inel *IneligibleError
	if !errors.As(err, &inel) {
		t.Fatalf("expected IneligibleError, got %v", err)
	}
	if !hasReasonContaining(inel.Reasons, "insufficient tokens") {
		t.Fatalf("expected a balance reason, got %v", inel.Reasons)
	}
	if len(st.runs) != 0 {
		t.Fatal("no run may be created for an ineligible user")
	}
	if st.balances["u1"] != 5 {
		t.Fatalf("balance must be untouched, got %d", st.balances["u1"])
	}
}

func TestLifecycle_SingleFlight(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 100)
	st.runs["active"] = &run.Run{
		ID: "active", UserID: "u1", Kind: run.KindStandard,
		Status: run.StatusProcessing, WeekBucket: run.WeekBucket(time.Now()),
		CreatedAt: time.Now(),
	}

	_, err := newLifecycle(st, &mockDialogue{}, &mockPublisher{}).Execute(context.Background(), "u1", run.KindStandard, "")
	var inel *IneligibleError
	if !errors.As(err, &inel) {
		t.Fatalf("expected IneligibleError, got %v", err)
	}
	active := 0
	for _, r := range st.runs {
		if r.UserID == "u1" && !r.Status.Terminal() {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one non-terminal run, got %d", active)
	}
}

// raceStore simulates losing the debit race after the gate passed.
type raceStore struct {
	*mockStore
	createErr error
}

func (s *raceStore) CreateRun(ctx context.Context, req run.CreateRequest) (*run.Run, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.mockStore.CreateRun(ctx, req)
}

func TestLifecycle_LostDebitRaceSurfacesAsIneligible(t *testing.T) {
	inner := newMockStore()
	inner.seedUser("u1", 100)

	for _, raceErr := range []error{domain.ErrInsufficientFunds, domain.ErrRunInFlight} {
		st := &raceStore{mockStore: inner, createErr: raceErr}
		_, err := newLifecycle(st, &mockDialogue{}, &mockPublisher{}).Execute(context.Background(), "u1", run.KindStandard, "")
		var inel *IneligibleError
		if !errors.As(err, &inel) {
			t.Fatalf("race %v: expected IneligibleError, got %v", raceErr, err)
		}
	}
}

func TestLifecycle_CompensatingRefundOnMidRunFailure(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 15)
	st.candidates = append(st.candidates, candidate("c1", nil))
	st.createConvErr = errors.New("datastore unavailable")
	dlg := &mockDialogue{verdicts: map[string]conversation.Verdict{"c1": yesVerdict(90)}}

	_, err := newLifecycle(st, dlg, &mockPublisher{}).Execute(context.Background(), "u1", run.KindStandard, "")
	if err == nil {
		t.Fatal("expected error")
	}
	// The debit must have been compensated: no money leaks.
	if st.balances["u1"] != 15 {
		t.Fatalf("expected balance restored to 15, got %d", st.balances["u1"])
	}
	for _, r := range st.runs {
		if !r.Status.Terminal() {
			t.Fatalf("run left non-terminal after failure: %+v", r)
		}
	}
}

func TestLifecycle_RefundSettlementIsAllOrNothing(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 15)
	st.finalizeErr = errors.New("datastore unavailable")

	// No candidates forces the finalize-with-full-refund path.
	_, err := newLifecycle(st, &mockDialogue{}, &mockPublisher{}).Execute(context.Background(), "u1", run.KindStandard, "")
	if err == nil {
		t.Fatal("expected error when finalization cannot be committed")
	}
	// Nothing half-applied: the run row must not claim a refund the ledger
	// never received, and no refund transaction may exist without the run
	// transition.
	for _, r := range st.runs {
		if r.Status.Terminal() || r.TokensRefunded != 0 || r.RefundPercent != 0 {
			t.Fatalf("run settled despite failed finalization: %+v", r)
		}
	}
	for _, txn := range st.transactions {
		if txn.Type == ledger.TransactionRefund {
			t.Fatalf("refund transaction recorded without finalization: %+v", txn)
		}
	}
	// Only the debit stands; the balance matches the transaction log.
	if st.balances["u1"] != 5 {
		t.Fatalf("expected balance 5 (debit only), got %d", st.balances["u1"])
	}
}

func TestLifecycle_RefundTransactionAppendedOnEmptyRun(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 15)
	st.candidates = append(st.candidates, candidate("c1", nil))
	dlg := &mockDialogue{verdicts: map[string]conversation.Verdict{"c1": noVerdict(20)}}

	res, err := newLifecycle(st, dlg, &mockPublisher{}).Execute(context.Background(), "u1", run.KindStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var refunds int
	for _, txn := range st.transactions {
		if txn.Type == ledger.TransactionRefund {
			refunds++
			if txn.RunID != res.RunID {
				t.Fatalf("refund not tied to the run: %+v", txn)
			}
			if txn.Amount != run.StandardCost {
				t.Fatalf("expected refund of %d, got %d", run.StandardCost, txn.Amount)
			}
		}
	}
	if refunds != 1 {
		t.Fatalf("expected exactly one refund transaction, got %d", refunds)
	}
}

// flakyDiscoveryStore fails CreateDiscovery after the first succeeds,
// simulating a datastore dropping out partway through the fan-out.
type flakyDiscoveryStore struct {
	*mockStore
	calls int
}

func (s *flakyDiscoveryStore) CreateDiscovery(ctx context.Context, d *discovery.Discovery) error {
	s.calls++
	if s.calls > 1 {
		return errors.New("datastore unavailable")
	}
	return s.mockStore.CreateDiscovery(ctx, d)
}

func TestLifecycle_AbortKeepsPersistedDiscoveries(t *testing.T) {
	inner := newMockStore()
	inner.seedUser("u1", 15)
	inner.candidates = append(inner.candidates, candidate("c1", nil), candidate("c2", nil))
	st := &flakyDiscoveryStore{mockStore: inner}
	dlg := &mockDialogue{verdicts: map[string]conversation.Verdict{
		"c1": yesVerdict(85), "c2": yesVerdict(80),
	}}

	_, err := newLifecycle(st, dlg, &mockPublisher{}).Execute(context.Background(), "u1", run.KindStandard, "")
	if err == nil {
		t.Fatal("expected error")
	}
	// The first discovery was persisted before the abort and stays visible.
	listed, err := inner.ListActiveDiscoveries(context.Background(), "u1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected the persisted discovery to survive, got %d", len(listed))
	}
	// The run row agrees with the discovery table and still refunds in full:
	// an aborted run never delivered its result.
	for _, r := range inner.runs {
		if r.Status != run.StatusFailed {
			t.Fatalf("expected failed run, got %+v", r)
		}
		if r.DiscoveriesCount != 1 {
			t.Fatalf("run row must record the persisted discovery, got %+v", r)
		}
		if r.TokensRefunded != run.StandardCost {
			t.Fatalf("aborted run must refund in full, got %+v", r)
		}
	}
	if inner.balances["u1"] != 15 {
		t.Fatalf("expected balance restored to 15, got %d", inner.balances["u1"])
	}
}

func TestLifecycle_SurfacesDialogueFailureCount(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 15)
	st.candidates = append(st.candidates,
		candidate("c1", nil), candidate("c2", nil), candidate("c3", nil))
	dlg := &mockDialogue{
		verdicts: map[string]conversation.Verdict{"c1": yesVerdict(85)},
		errs: map[string]error{
			"c2": errors.New("collaborator timeout"),
			"c3": errors.New("collaborator timeout"),
		},
	}

	res, err := newLifecycle(st, dlg, &mockPublisher{}).Execute(context.Background(), "u1", run.KindStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DialogueFailures != 2 {
		t.Fatalf("expected 2 dialogue failures surfaced, got %d", res.DialogueFailures)
	}
	if len(res.Discoveries) != 1 {
		t.Fatalf("expected 1 discovery, got %d", len(res.Discoveries))
	}
}

func TestLifecycle_LedgerConservation(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 100)
	st.candidates = append(st.candidates,
		candidate("c1", nil), candidate("c2", nil), candidate("c3", nil))
	dlg := &mockDialogue{verdicts: map[string]conversation.Verdict{
		"c1": yesVerdict(85), "c2": noVerdict(20), "c3": noVerdict(30),
	}}
	gate := NewEligibilityGate(st, okProfiles())
	gate.now = func() time.Time { return time.Now() }
	lc := NewRunLifecycle(st, gate, NewCandidateSelector(st), NewDialogueOrchestrator(dlg, st), &mockPublisher{})

	// One run with a discovery. Further runs would sit behind the cooldown,
	// which is fine: conservation is about the committed transactions.
	if _, err := lc.Execute(context.Background(), "u1", run.KindStandard, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	net := 0
	for _, txn := range st.transactions {
		net += txn.Amount
	}
	if got := 100 + net; got != st.balances["u1"] {
		t.Fatalf("ledger not conserved: initial+net=%d, balance=%d", got, st.balances["u1"])
	}
	// Every run has a matching spend transaction.
	spends := 0
	for _, txn := range st.transactions {
		if txn.Amount < 0 {
			spends++
		}
	}
	if spends != len(st.runs) {
		t.Fatalf("expected %d spend transactions, got %d", len(st.runs), spends)
	}
	// Transactions captured the balance at mutation time.
	for _, txn := range st.transactions {
		if txn.BalanceAfter < 0 {
			t.Fatalf("negative balance recorded: %+v", txn)
		}
	}
}

func TestLifecycle_RefundInvariant(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 100)
	pub := &mockPublisher{}

	// Run 1: no candidates, failed, 100% refund.
	if _, err := newLifecycle(st, &mockDialogue{}, pub).Execute(context.Background(), "u1", run.KindStandard, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Run 2: a discovery, 0% refund. The prior fully-refunded failed run
	// does not trip the cooldown check because cooldown keys off the most
	// recent finished run; bypass it with a gate pinned to a later time.
	st.candidates = append(st.candidates, candidate("c1", nil))
	dlg := &mockDialogue{verdicts: map[string]conversation.Verdict{"c1": yesVerdict(80)}}
	gate := NewEligibilityGate(st, okProfiles())
	gate.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	lc := NewRunLifecycle(st, gate, NewCandidateSelector(st), NewDialogueOrchestrator(dlg, st), pub)
	if _, err := lc.Execute(context.Background(), "u1", run.KindStandard, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, r := range st.runs {
		if !r.Status.Terminal() {
			t.Fatalf("non-terminal run left behind: %+v", r)
		}
		cost := r.Kind.TokenCost()
		if r.DiscoveriesCount == 0 && r.TokensRefunded != cost {
			t.Fatalf("zero discoveries must refund %d, got %+v", cost, r)
		}
		if r.DiscoveriesCount > 0 && r.TokensRefunded != 0 {
			t.Fatalf("discoveries must not refund, got %+v", r)
		}
	}
}

func TestLifecycle_PublisherOutageDoesNotFailRun(t *testing.T) {
	st := newMockStore()
	st.seedUser("u1", 15)
	st.candidates = append(st.candidates, candidate("c1", nil))
	dlg := &mockDialogue{verdicts: map[string]conversation.Verdict{"c1": yesVerdict(80)}}
	pub := &mockPublisher{err: errors.New("broker down")}

	res, err := newLifecycle(st, dlg, pub).Execute(context.Background(), "u1", run.KindStandard, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success despite broker outage, got %+v", res)
	}
}
