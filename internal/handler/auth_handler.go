package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Auth Handlers
// ============================================================

func tokenHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/token")
		defer span.End()

		var req domain.TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := authSvc.IssueToken(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
