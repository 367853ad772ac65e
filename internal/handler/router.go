package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/observability"
	"github.com/boddenberg/pj-ledger-sync-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(
	authSvc *service.AuthService,
	connSvc *service.ConnectionsService,
	syncSvc *service.SyncService,
	ledgerSvc *service.LedgerService,
	stmtSvc *service.StatementsService,
	reconSvc *service.ReconciliationService,
	webhookSecret string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.CorrelationMiddleware)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/health", healthHandler(ledgerSvc, logger))
	r.Get("/health/ready", readyHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// Public: token issuance and provider webhooks.
		r.Post("/auth/token", tokenHandler(authSvc, logger))
		r.Post("/webhooks/provider", providerWebhookHandler(connSvc, webhookSecret, logger))

		// Everything else requires a Bearer token.
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(authSvc, logger))

			// ============================================
			// Connections & items
			// POST   /v1/connections
			// GET    /v1/items
			// GET    /v1/items/{itemID}
			// DELETE /v1/items/{itemID}
			// POST   /v1/items/{itemID}/sync
			// ============================================
			r.Post("/connections", connectHandler(connSvc, logger))
			r.Get("/items", listItemsHandler(connSvc, logger))
			r.Get("/items/{itemID}", getItemHandler(connSvc, logger))
			r.Delete("/items/{itemID}", revokeItemHandler(connSvc, logger))
			r.Post("/items/{itemID}/sync", syncItemHandler(connSvc, syncSvc, logger))

			// ============================================
			// Ledger reads
			// GET /v1/accounts
			// GET /v1/transactions
			// ============================================
			r.Get("/accounts", listAccountsHandler(ledgerSvc, logger))
			r.Get("/transactions", listTransactionsHandler(ledgerSvc, logger))

			// ============================================
			// Statements & reconciliation
			// POST /v1/statements
			// POST /v1/statements/import
			// GET  /v1/reconciliation/report
			// ============================================
			r.Post("/statements", uploadStatementsHandler(stmtSvc, logger))
			r.Post("/statements/import", importStatementsHandler(stmtSvc, logger))
			r.Get("/reconciliation/report", reconciliationReportHandler(reconSvc, logger))

			// ============================================
			// Metrics snapshot
			// GET /v1/metrics/sync
			// ============================================
			r.Get("/metrics/sync", syncMetricsHandler(metrics))
		})
	})

	return r
}

// ============================================================
// Operational handlers
// ============================================================

func healthHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "ledgersync-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if ledgerSvc != nil {
			start := time.Now()
			_, err := ledgerSvc.ListAccounts(ctx, "health-check", "")
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "supabase", Status: status, LatencyMs: latency, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func syncMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSyncSnapshot())
	}
}
