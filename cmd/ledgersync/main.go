package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/config"
	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/handler"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/cache"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/client"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/observability"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/resilience"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/scheduler"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/supabase"
	"github.com/boddenberg/pj-ledger-sync-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("provider_base_url", cfg.ProviderBaseURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("sync_workers", cfg.SyncWorkers),
		zap.Int("sync_queue_size", cfg.SyncQueueSize),
		zap.Duration("accounts_cache_ttl", cfg.AccountsCacheTTL),
		zap.Duration("report_cache_ttl", cfg.ReportCacheTTL),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "pj-ledger-sync")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Caches ---
	accountsCache := cache.New[[]domain.Account](cfg.AccountsCacheTTL)
	reportCache := cache.New[*domain.ReconciliationReport](cfg.ReportCacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("aggregation-provider")
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	if cfg.SupabaseURL == "" {
		logger.Fatal("SUPABASE_URL is required: items, transactions and statement lines live in Supabase")
	}
	store := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		logger,
	)

	providerClient := client.NewProviderClient(
		httpClient,
		cfg.ProviderBaseURL,
		cfg.ProviderClientID,
		cfg.ProviderSecret,
		cb,
		resilienceCfg,
		bulkhead,
	)

	// --- Services ---
	authSvc := service.NewAuthService(store, cfg.JWTSecret, cfg.JWTAccessTTL, logger)
	syncSvc := service.NewSyncService(providerClient, store, store, reportCache, metrics, logger)

	// Background sync jobs run on a bounded pool; the queue wraps the
	// sync service so webhook and connect triggers share the runner.
	pool := scheduler.NewWorkerPool(cfg.SyncWorkers, cfg.SyncQueueSize, cfg.SyncJobDelay, logger, metrics)
	pool.Start()
	queue := scheduler.NewSyncQueue(pool, syncSvc, logger)

	connSvc := service.NewConnectionsService(providerClient, store, store, queue, accountsCache, metrics, logger)
	ledgerSvc := service.NewLedgerService(store, store, accountsCache, metrics, logger)
	stmtSvc := service.NewStatementsService(store, reportCache, metrics, logger)
	reconSvc := service.NewReconciliationService(store, store, reportCache, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(authSvc, connSvc, syncSvc, ledgerSvc, stmtSvc, reconSvc, cfg.WebhookSecret, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	// In-flight sync jobs checkpoint per page; cutting them off mid-run
	// only costs a resumable page.
	pool.ShutdownWithTimeout(10 * time.Second)

	logger.Info("server stopped")
}
