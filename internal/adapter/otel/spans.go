package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "vibecheck"

// StartRunSpan starts a span covering one vibe check run.
func StartRunSpan(ctx context.Context, userID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "vibecheck.run",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("run.kind", kind),
		),
	)
}

// StartDialogueSpan starts a span for one simulated dialogue between two agents.
func StartDialogueSpan(ctx context.Context, agentAID, agentBID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "vibecheck.dialogue",
		trace.WithAttributes(
			attribute.String("agent.a_id", agentAID),
			attribute.String("agent.b_id", agentBID),
		),
	)
}
