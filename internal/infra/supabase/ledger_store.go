package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// TransactionStore implementation — the synced ledger
// ============================================================
//
// Uniqueness on external_transaction_id is enforced here, atomically, via
// PostgREST on_conflict targets. There is no read-then-write anywhere in the
// apply path, so concurrent runs cannot race a duplicate past the store.

// InsertTransaction inserts the row unless one with the same
// external_transaction_id already exists. The ignore-duplicates resolution
// returns an empty representation for the skip case.
func (c *Client) InsertTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InsertTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.external_id", tx.ExternalTransactionID))

	row := map[string]any{
		"user_id":                 tx.UserID,
		"external_transaction_id": tx.ExternalTransactionID,
		"external_account_id":     tx.ExternalAccountID,
		"amount":                  tx.Amount,
		"date":                    tx.Date,
		"name":                    tx.Name,
		"merchant_name":           tx.MerchantName,
		"pending":                 tx.Pending,
		"category":                tx.Category,
	}

	body, err := c.doPost(ctx, "transactions?on_conflict=external_transaction_id", row, preferInsertOrSkip)
	if err != nil {
		return false, &domain.ErrPersistence{Op: "transactions.insert", Err: err}
	}

	n, err := rowCount(body)
	if err != nil {
		return false, &domain.ErrPersistence{Op: "transactions.insert", Err: err}
	}
	return n > 0, nil
}

// UpdateTransactionByExternalID mutates the row with the given external id.
// Returns false when no row matched: a modify arriving before its add is a
// no-op, not an error.
func (c *Client) UpdateTransactionByExternalID(ctx context.Context, userID, externalID string, mut *domain.TransactionMutation) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateTransactionByExternalID")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.external_id", externalID))

	path := fmt.Sprintf("transactions?user_id=eq.%s&external_transaction_id=eq.%s",
		url.QueryEscape(userID), url.QueryEscape(externalID))
	body, err := c.doPatch(ctx, path, map[string]any{
		"amount":        mut.Amount,
		"date":          mut.Date,
		"name":          mut.Name,
		"merchant_name": mut.MerchantName,
		"pending":       mut.Pending,
		"category":      mut.Category,
		"updated_at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, &domain.ErrPersistence{Op: "transactions.update", Err: err}
	}

	n, err := rowCount(body)
	if err != nil {
		return false, &domain.ErrPersistence{Op: "transactions.update", Err: err}
	}
	return n > 0, nil
}

// DeleteTransactionByExternalID removes the row with the given external id.
// Returns false when no row matched.
func (c *Client) DeleteTransactionByExternalID(ctx context.Context, userID, externalID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteTransactionByExternalID")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.external_id", externalID))

	path := fmt.Sprintf("transactions?user_id=eq.%s&external_transaction_id=eq.%s",
		url.QueryEscape(userID), url.QueryEscape(externalID))
	body, err := c.doDelete(ctx, path)
	if err != nil {
		return false, &domain.ErrPersistence{Op: "transactions.delete", Err: err}
	}

	n, err := rowCount(body)
	if err != nil {
		return false, &domain.ErrPersistence{Op: "transactions.delete", Err: err}
	}
	return n > 0, nil
}

// ListTransactions returns ledger rows for a user in date order, optionally
// bounded by account and an inclusive date window.
func (c *Client) ListTransactions(ctx context.Context, userID string, q domain.TransactionQuery) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTransactions")
	defer span.End()

	var sb strings.Builder
	fmt.Fprintf(&sb, "transactions?user_id=eq.%s", url.QueryEscape(userID))
	if q.ExternalAccountID != "" {
		fmt.Fprintf(&sb, "&external_account_id=eq.%s", url.QueryEscape(q.ExternalAccountID))
	}
	if q.From != "" {
		fmt.Fprintf(&sb, "&date=gte.%s", url.QueryEscape(q.From))
	}
	if q.To != "" {
		fmt.Fprintf(&sb, "&date=lte.%s", url.QueryEscape(q.To))
	}
	sb.WriteString("&order=date.asc,created_at.asc")
	if q.Limit > 0 {
		fmt.Fprintf(&sb, "&limit=%d", q.Limit)
	}

	body, err := c.doGet(ctx, sb.String())
	if err != nil {
		return nil, &domain.ErrPersistence{Op: "transactions.list", Err: err}
	}

	var rows []domain.Transaction
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: "transactions.list", Err: fmt.Errorf("decode transactions: %w", err)}
	}
	return rows, nil
}
