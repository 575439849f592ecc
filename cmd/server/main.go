// Package main is the entrypoint for the trustgate pipeline server. Every
// instance serves the API; only the lease holder runs the worker pools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/api"
	"github.com/kiranshivaraju/trustgate/internal/api/handler"
	mw "github.com/kiranshivaraju/trustgate/internal/api/middleware"
	"github.com/kiranshivaraju/trustgate/internal/api/response"
	"github.com/kiranshivaraju/trustgate/internal/approval"
	"github.com/kiranshivaraju/trustgate/internal/cache"
	"github.com/kiranshivaraju/trustgate/internal/config"
	"github.com/kiranshivaraju/trustgate/internal/coord"
	"github.com/kiranshivaraju/trustgate/internal/extraction"
	"github.com/kiranshivaraju/trustgate/internal/extractor"
	"github.com/kiranshivaraju/trustgate/internal/leader"
	"github.com/kiranshivaraju/trustgate/internal/metrics"
	"github.com/kiranshivaraju/trustgate/internal/patterns"
	"github.com/kiranshivaraju/trustgate/internal/pipeline"
	"github.com/kiranshivaraju/trustgate/internal/queue"
	"github.com/kiranshivaraju/trustgate/internal/records"
	"github.com/kiranshivaraju/trustgate/internal/review"
	"github.com/kiranshivaraju/trustgate/internal/store"
	"github.com/kiranshivaraju/trustgate/internal/worker"
	"github.com/kiranshivaraju/trustgate/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "extraction_provider", cfg.Extraction.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Connect to Redis; shared by the cache and the leader lease
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create extraction provider
	provider, err := extractor.NewProvider(cfg.Extraction)
	if err != nil {
		return fmt.Errorf("create extraction provider: %w", err)
	}
	slog.Info("extraction provider initialized", "provider", provider.Name())

	// 6. Domain services
	pgStore := store.NewPostgresStore(pool)
	jobs := queue.NewPostgresQueue(pool, queue.Options{
		MaxAttempts: cfg.Worker.MaxAttempts,
		Backoff:     queue.Backoff{Base: cfg.Worker.BackoffBase, Max: cfg.Worker.BackoffMax},
		Notifier:    redisCache,
	})
	engine := extraction.NewEngine(pgStore, provider, cfg.Extraction)
	patternSvc := patterns.NewService(pgStore, cfg.Patterns.MinOccurrences)
	reviews := review.NewService(pgStore, patternSvc)
	workflow := approval.NewWorkflow(pgStore, reviews, patternSvc)
	recordsClient := records.NewHTTPClient(cfg.Records)
	gateDefaults := models.GatePolicy{
		AutoActivateThreshold: cfg.Gate.AutoActivateThreshold,
		BlockingThreshold:     cfg.Gate.BlockingThreshold,
	}

	// 7. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 8. Worker pools, run only while this instance holds the lease
	holderID := instanceID()
	observer := worker.Observers(m, pipeline.NewFailureReporter(recordsClient), pipeline.NewStatusTracker(redisCache))
	extractionHandler := pipeline.NewExtractionHandler(pgStore, pipeline.FileLoader{Root: cfg.Documents.Root}, engine, recordsClient, m).
		WithDefaultPolicy(gateDefaults)
	workers := worker.NewSet(jobs, cfg.Worker.SweepSchedule, cfg.Worker.StaleAfter,
		worker.NewPool(worker.PoolConfig{
			Type:         models.JobTypeExtraction,
			Concurrency:  cfg.Worker.ExtractionConcurrency,
			PollInterval: cfg.Worker.PollInterval,
			WorkerID:     holderID,
		}, jobs, extractionHandler, redisCache, observer),
		worker.NewPool(worker.PoolConfig{
			Type:         models.JobTypeDistribution,
			Concurrency:  cfg.Worker.DistributionConcurrency,
			PollInterval: cfg.Worker.PollInterval,
			WorkerID:     holderID,
		}, jobs, pipeline.NewDistributionHandler(recordsClient), redisCache, observer),
	)

	supervisor := leader.New(leader.Config{
		Key:             cfg.Worker.LeaseKey,
		HolderID:        holderID,
		TTL:             cfg.Worker.LeaseTTL,
		RenewInterval:   cfg.Worker.RenewInterval,
		AcquireInterval: cfg.Worker.AcquireInterval,
		OnStateChange:   func(s leader.State) { m.SetLeadership(string(s)) },
	}, coord.NewRedisLocker(redisCache.Client()), workers)
	m.SetLeadership(string(supervisor.State()))

	// 9. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RequestsPerMin),

		HealthHandler:  healthHandler(pgStore, redisCache, supervisor),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),

		ListReviewItems:    handler.NewListReviewItemsHandler(reviews),
		GetReviewItem:      handler.NewGetReviewItemHandler(reviews),
		ConfirmReviewItem:  handler.NewConfirmReviewItemHandler(reviews),
		RejectReviewItem:   handler.NewRejectReviewItemHandler(reviews),
		ResolveDispute:     handler.NewResolveDisputeHandler(reviews),
		GetApprovalStatus:  handler.NewGetApprovalWorkflowHandler(workflow),
		PostApprovalAction: handler.NewPostApprovalWorkflowHandler(workflow),

		ListSharedPatterns:   handler.NewListSharedPatternsHandler(patternSvc),
		PromotePattern:       handler.NewPromotePatternHandler(patternSvc),
		CandidateEligibility: handler.NewCandidateEligibilityHandler(patternSvc),
		ApproveCandidate:     handler.NewApproveCandidateHandler(patternSvc),

		ExtractDocument:    handler.NewExtractHandler(jobs, redisCache),
		DistributePack:     handler.NewDistributeHandler(jobs, redisCache),
		GetJob:             handler.NewGetJobHandler(jobs, redisCache),
		ExtractionComplete: handler.NewExtractionCompleteHandler(pgStore),

		ListDeadLetters:  handler.NewListDeadLettersHandler(jobs),
		RetryDeadLetter:  handler.NewRetryDeadLetterHandler(jobs, redisCache),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
		GetGatePolicy:    handler.NewGetGatePolicyHandler(pgStore, gateDefaults),
		UpdateGatePolicy: handler.NewUpdateGatePolicyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 10. Start leader supervisor in background
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("leader supervisor stopped", "error", err)
		}
	}()

	// 11. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "holder_id", holderID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = err
		stop()
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	select {
	case <-supervisorDone:
	case <-shutdownCtx.Done():
		slog.Warn("worker pools did not stop before the shutdown timeout")
	}

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// instanceID names this process in the leader lease and on claimed jobs.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "trustgate"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Pinger is a dependency the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Leadership reports this instance's leader election state.
type Leadership interface {
	State() leader.State
	Holder() string
}

// healthHandler checks database and cache connectivity and reports leadership.
// Leadership never degrades health; followers are healthy.
func healthHandler(s Pinger, c Pinger, l Leadership) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
			"leadership": map[string]string{
				"state":     string(l.State()),
				"holder_id": l.Holder(),
			},
		})
	}
}
