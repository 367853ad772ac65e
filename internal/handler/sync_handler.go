package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Sync Handlers — manual trigger + provider webhook
// ============================================================

func syncItemHandler(connSvc *service.ConnectionsService, syncSvc *service.SyncService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/items/{itemID}/sync")
		defer span.End()

		itemID := chi.URLParam(r, "itemID")
		userID := UserIDFromContext(ctx)

		// The route is keyed on the internal item id; the sync runner is
		// keyed on the provider's external id. Resolving here also enforces
		// the user scope before any provider call.
		item, err := connSvc.GetItem(ctx, userID, itemID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("item.external_id", item.ExternalItemID))

		result, err := syncSvc.Run(ctx, userID, item.ExternalItemID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		status := "completed"
		if !result.Completed {
			status = "partial"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       status,
			"pages":        result.Pages,
			"applied":      result.Applied,
			"skipped":      result.Skipped,
			"failed":       result.Failed,
			"final_cursor": result.FinalCursor,
			"completed":    result.Completed,
		})
	}
}

func providerWebhookHandler(connSvc *service.ConnectionsService, webhookSecret string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/webhooks/provider")
		defer span.End()

		if webhookSecret != "" {
			got := r.Header.Get("X-Webhook-Secret")
			if subtle.ConstantTimeCompare([]byte(got), []byte(webhookSecret)) != 1 {
				logger.Warn("webhook: bad shared secret", zap.String("remote_addr", r.RemoteAddr))
				writeError(w, http.StatusUnauthorized, "invalid webhook secret")
				return
			}
		}

		var hook domain.ProviderWebhook
		if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(
			attribute.String("webhook.event_type", hook.EventType),
			attribute.String("item.external_id", hook.ExternalItemID),
		)

		if err := connSvc.HandleProviderWebhook(ctx, &hook); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		// The provider only needs to know the event was taken; the sync
		// itself runs on the worker pool.
		writeJSON(w, http.StatusAccepted, domain.SuccessResponse{Message: "accepted"})
	}
}
