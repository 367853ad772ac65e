package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Connection & Item Handlers
// ============================================================

func connectHandler(connSvc *service.ConnectionsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/connections")
		defer span.End()

		var req domain.ConnectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		userID := UserIDFromContext(ctx)
		resp, err := connSvc.Connect(ctx, userID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Bool("connection.is_duplicate", resp.IsDuplicate))

		// Reconnecting a known institution login updates the existing item.
		status := http.StatusCreated
		if resp.IsDuplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	}
}

func listItemsHandler(connSvc *service.ConnectionsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/items")
		defer span.End()

		items, err := connSvc.ListItems(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Item]{Data: items, Total: len(items)})
	}
}

func getItemHandler(connSvc *service.ConnectionsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/items/{itemID}")
		defer span.End()

		itemID := chi.URLParam(r, "itemID")
		item, err := connSvc.GetItem(ctx, UserIDFromContext(ctx), itemID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func revokeItemHandler(connSvc *service.ConnectionsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/items/{itemID}")
		defer span.End()

		itemID := chi.URLParam(r, "itemID")
		if err := connSvc.RevokeItem(ctx, UserIDFromContext(ctx), itemID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "item revoked", ID: itemID})
	}
}
