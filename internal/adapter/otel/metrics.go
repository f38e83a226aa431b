package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "vibecheck"

// Metrics holds all matching engine metric instruments.
type Metrics struct {
	RunsStarted      metric.Int64Counter
	RunsCompleted    metric.Int64Counter
	RunsFailed       metric.Int64Counter
	Discoveries      metric.Int64Counter
	TokensSpent      metric.Int64Counter
	TokensRefunded   metric.Int64Counter
	DialogueFailures metric.Int64Counter
	RunDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("vibecheck.runs.started",
		metric.WithDescription("Number of vibe check runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("vibecheck.runs.completed",
		metric.WithDescription("Number of vibe check runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("vibecheck.runs.failed",
		metric.WithDescription("Number of vibe check runs failed"))
	if err != nil {
		return nil, err
	}

	m.Discoveries, err = meter.Int64Counter("vibecheck.discoveries",
		metric.WithDescription("Number of discoveries created"))
	if err != nil {
		return nil, err
	}

	m.TokensSpent, err = meter.Int64Counter("vibecheck.tokens.spent",
		metric.WithDescription("Tokens debited for runs"))
	if err != nil {
		return nil, err
	}

	m.TokensRefunded, err = meter.Int64Counter("vibecheck.tokens.refunded",
		metric.WithDescription("Tokens refunded for empty or failed runs"))
	if err != nil {
		return nil, err
	}

	m.DialogueFailures, err = meter.Int64Counter("vibecheck.dialogue.failures",
		metric.WithDescription("Dialogue attempts that errored and were skipped"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("vibecheck.run.duration_seconds",
		metric.WithDescription("End-to-end run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
