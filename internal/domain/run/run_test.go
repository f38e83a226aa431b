package run_test

import (
	"testing"

	"github.com/vibecheck-ai/vibecheck/internal/domain/run"
)

func TestKindPricing(t *testing.T) {
	if got := run.KindStandard.TokenCost(); got != 10 {
		t.Fatalf("standard cost: expected 10, got %d", got)
	}
	if got := run.KindExtended.TokenCost(); got != 20 {
		t.Fatalf("extended cost: expected 20, got %d", got)
	}
	if got := run.KindStandard.CandidateCount(); got != 3 {
		t.Fatalf("standard candidates: expected 3, got %d", got)
	}
	if got := run.KindExtended.CandidateCount(); got != 5 {
		t.Fatalf("extended candidates: expected 5, got %d", got)
	}
}

func TestParseKind(t *testing.T) {
	if _, err := run.ParseKind("standard"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := run.ParseKind("deluxe"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestStatusTerminal(t *testing.T) {
	if run.StatusProcessing.Terminal() {
		t.Fatal("processing must not be terminal")
	}
	if !run.StatusCompleted.Terminal() || !run.StatusFailed.Terminal() {
		t.Fatal("completed and failed must be terminal")
	}
}

func TestRunValidate_Valid(t *testing.T) {
	r := &run.Run{UserID: "u1", Kind: run.KindStandard, Status: run.StatusProcessing}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected valid, got: %v", err)
	}
}

func TestRunValidate_MissingUser(t *testing.T) {
	r := &run.Run{Kind: run.KindStandard, Status: run.StatusProcessing}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for missing user_id")
	}
}

func TestRunValidate_InvalidStatus(t *testing.T) {
	r := &run.Run{UserID: "u1", Kind: run.KindStandard, Status: "paused"}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for invalid status")
	}
}
