package handler

import (
	"net/http"

	"github.com/boddenberg/pj-ledger-sync-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Reconciliation Handlers
// ============================================================

func reconciliationReportHandler(reconSvc *service.ReconciliationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/reconciliation/report")
		defer span.End()

		report, err := reconSvc.Report(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
