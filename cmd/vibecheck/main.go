package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	vcdialogue "github.com/vibecheck-ai/vibecheck/internal/adapter/dialogue"
	vchttp "github.com/vibecheck-ai/vibecheck/internal/adapter/http"
	vcnats "github.com/vibecheck-ai/vibecheck/internal/adapter/nats"
	vcotel "github.com/vibecheck-ai/vibecheck/internal/adapter/otel"
	"github.com/vibecheck-ai/vibecheck/internal/adapter/postgres"
	vcprofile "github.com/vibecheck-ai/vibecheck/internal/adapter/profile"
	"github.com/vibecheck-ai/vibecheck/internal/adapter/ristretto"
	"github.com/vibecheck-ai/vibecheck/internal/config"
	"github.com/vibecheck-ai/vibecheck/internal/logger"
	"github.com/vibecheck-ai/vibecheck/internal/resilience"
	"github.com/vibecheck-ai/vibecheck/internal/service"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownTelemetry, err := vcotel.Init(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := vcotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	publisher, err := vcnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = publisher.Close() }()

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- Collaborators ---
	dialogueBreaker := resilience.NewBreaker("dialogue", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	dialogueClient := vcdialogue.NewClient(cfg.Dialogue)
	dialogueClient.SetBreaker(dialogueBreaker)

	profileBreaker := resilience.NewBreaker("profile", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	profileClient := vcprofile.NewClient(cfg.Profile)
	profileClient.SetBreaker(profileBreaker)
	profiles := vcprofile.NewCachedProvider(profileClient, cache, cfg.Profile.CacheTTL, slog.Default())

	// --- Services ---
	st := postgres.NewStore(pool)
	gate := service.NewEligibilityGate(st, profiles)
	selector := service.NewCandidateSelector(st)
	orchestrator := service.NewDialogueOrchestrator(dialogueClient, st)
	lifecycle := service.NewRunLifecycle(st, gate, selector, orchestrator, publisher)

	// --- HTTP ---
	handlers := &vchttp.Handlers{
		Lifecycle: lifecycle,
		Gate:      gate,
		Store:     st,
		DB:        pool,
		Publisher: publisher,
		Breakers:  []*resilience.Breaker{dialogueBreaker, profileBreaker},
		Metrics:   metrics,
		Version:   version,
	}

	r := chi.NewRouter()
	r.Use(vchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RequestID)
	r.Use(vchttp.RequestID)
	r.Use(vchttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	if cfg.Telemetry.Enabled {
		r.Use(vcotel.HTTPMiddleware(cfg.Logging.Service))
	}

	vchttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * cfg.Server.RequestTimeout,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
