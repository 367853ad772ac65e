package handler

import (
	"net/http"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Ledger Handlers — accounts and synced transactions
// ============================================================

func listAccountsHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts")
		defer span.End()

		itemID := r.URL.Query().Get("item_id")
		accounts, err := ledgerSvc.ListAccounts(ctx, UserIDFromContext(ctx), itemID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Account]{Data: accounts, Total: len(accounts)})
	}
}

func listTransactionsHandler(ledgerSvc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions")
		defer span.End()

		q := domain.TransactionQuery{
			ExternalAccountID: r.URL.Query().Get("account_id"),
			From:              r.URL.Query().Get("from"),
			To:                r.URL.Query().Get("to"),
			Limit:             queryInt(r, "limit", 0),
		}
		transactions, err := ledgerSvc.ListTransactions(ctx, UserIDFromContext(ctx), q)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Transaction]{Data: transactions, Total: len(transactions)})
	}
}
