package http

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vibecheck-ai/vibecheck/internal/adapter/otel"
	"github.com/vibecheck-ai/vibecheck/internal/domain/discovery"
	"github.com/vibecheck-ai/vibecheck/internal/domain/run"
	"github.com/vibecheck-ai/vibecheck/internal/domain/user"
	"github.com/vibecheck-ai/vibecheck/internal/port/events"
	"github.com/vibecheck-ai/vibecheck/internal/port/store"
	"github.com/vibecheck-ai/vibecheck/internal/resilience"
	"github.com/vibecheck-ai/vibecheck/internal/service"
)

// Pinger is the slice of pgxpool.Pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Lifecycle *service.RunLifecycle
	Gate      *service.EligibilityGate
	Store     store.Store
	DB        Pinger
	Publisher events.Publisher
	Breakers  []*resilience.Breaker
	Metrics   *otel.Metrics
	Version   string
}

type vibeCheckRequest struct {
	UserID         string `json:"user_id"`
	Kind           string `json:"kind"`
	ConnectionType string `json:"connection_type,omitempty"`
}

// parseRunParams validates the kind and connection type shared by the run
// and eligibility endpoints. It writes the error response itself.
func parseRunParams(w http.ResponseWriter, rawKind, rawConnType string) (run.Kind, user.ConnectionType, bool) {
	if rawKind == "" {
		rawKind = string(run.KindStandard)
	}
	kind, err := run.ParseKind(rawKind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}

	connType := user.ConnectionType(rawConnType)
	if rawConnType != "" && !user.ValidConnectionTypes[connType] {
		writeError(w, http.StatusBadRequest, "unknown connection type "+rawConnType)
		return "", "", false
	}
	return kind, connType, true
}

// RunVibeCheck starts a full vibe check run and blocks until it finishes.
func (h *Handlers) RunVibeCheck(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[vibeCheckRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}
	kind, connType, ok := parseRunParams(w, req.Kind, req.ConnectionType)
	if !ok {
		return
	}

	ctx, span := otel.StartRunSpan(r.Context(), req.UserID, string(kind))
	defer span.End()

	start := time.Now()
	h.count(ctx, h.metricsOrNil().RunsStarted, 1, attribute.String("kind", string(kind)))

	result, err := h.Lifecycle.Execute(ctx, req.UserID, kind, connType)
	if err != nil {
		h.count(ctx, h.metricsOrNil().RunsFailed, 1)
		writeDomainError(w, err, "user not found")
		return
	}

	h.recordRunMetrics(ctx, kind, result, time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

// CheckEligibility reports every condition currently blocking a run for the
// user, without starting one.
func (h *Handlers) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}
	kind, connType, ok := parseRunParams(w, r.URL.Query().Get("kind"), r.URL.Query().Get("connection_type"))
	if !ok {
		return
	}

	report, err := h.Gate.Check(r.Context(), userID, kind, connType)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetRun returns a run and the discoveries it produced.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	rn, err := h.Store.GetRun(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	discoveries, err := h.Store.ListRunDiscoveries(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":         rn,
		"discoveries": discoveries,
	})
}

// ListUserDiscoveries returns the user's active (unexpired) discoveries.
func (h *Handlers) ListUserDiscoveries(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "id")

	discoveries, err := h.Store.ListActiveDiscoveries(r.Context(), userID, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	if discoveries == nil {
		discoveries = []discovery.Discovery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"discoveries": discoveries})
}

// GetUserLedger returns the user's live balance and full transaction log.
func (h *Handlers) GetUserLedger(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "id")

	balance, err := h.Store.Balance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	transactions, err := h.Store.ListTransactions(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"balance":      balance,
		"transactions": transactions,
	})
}

// Health reports the status of the service and its dependencies.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{}

	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			checks["postgres"] = "down: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.Publisher != nil {
		if h.Publisher.IsConnected() {
			checks["nats"] = "ok"
		} else {
			checks["nats"] = "disconnected"
		}
	}
	for _, b := range h.Breakers {
		checks["breaker."+b.Name()] = string(b.State())
	}

	writeJSON(w, status, map[string]any{
		"status":  http.StatusText(status),
		"version": h.Version,
		"checks":  checks,
	})
}

// --- metrics plumbing ---

func (h *Handlers) metricsOrNil() *otel.Metrics {
	if h.Metrics == nil {
		return &otel.Metrics{}
	}
	return h.Metrics
}

func (h *Handlers) count(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}

func (h *Handlers) recordRunMetrics(ctx context.Context, kind run.Kind, result *service.RunResult, elapsed time.Duration) {
	m := h.metricsOrNil()
	kindAttr := attribute.String("kind", string(kind))

	if result.Success {
		h.count(ctx, m.RunsCompleted, 1, kindAttr)
	} else {
		h.count(ctx, m.RunsFailed, 1, kindAttr)
	}
	h.count(ctx, m.Discoveries, int64(len(result.Discoveries)), kindAttr)
	if result.DialogueFailures > 0 {
		h.count(ctx, m.DialogueFailures, int64(result.DialogueFailures), kindAttr)
	}
	h.count(ctx, m.TokensSpent, int64(kind.TokenCost()), kindAttr)
	if len(result.Discoveries) == 0 {
		h.count(ctx, m.TokensRefunded, int64(kind.TokenCost()), kindAttr)
	}
	if m.RunDuration != nil {
		m.RunDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(kindAttr))
	}
}
