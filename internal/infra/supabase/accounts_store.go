package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// AccountStore implementation — upserted by external_account_id
// ============================================================

// UpsertAccount inserts or updates the row keyed by external_account_id.
// Connecting the same bank twice can never create a second row.
func (c *Client) UpsertAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.external_id", account.ExternalAccountID))

	row := map[string]any{
		"user_id":             account.UserID,
		"item_id":             account.ItemID,
		"external_account_id": account.ExternalAccountID,
		"name":                account.Name,
		"type":                account.Type,
		"current_balance":     account.CurrentBalance,
		"available_balance":   account.AvailableBalance,
		"currency":            account.Currency,
		"last_synced_at":      time.Now().UTC().Format(time.RFC3339),
		"updated_at":          time.Now().UTC().Format(time.RFC3339),
	}

	body, err := c.doPost(ctx, "accounts?on_conflict=external_account_id", row, preferUpsert)
	if err != nil {
		return nil, &domain.ErrPersistence{Op: "accounts.upsert", Err: err}
	}

	var rows []domain.Account
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: "accounts.upsert", Err: fmt.Errorf("decode account: %w", err)}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrPersistence{Op: "accounts.upsert", Err: fmt.Errorf("no row returned from accounts upsert")}
	}
	return &rows[0], nil
}

func (c *Client) ListAccounts(ctx context.Context, userID string) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAccounts")
	defer span.End()

	path := fmt.Sprintf("accounts?user_id=eq.%s&order=created_at.asc", url.QueryEscape(userID))
	return c.listAccounts(ctx, path)
}

func (c *Client) ListAccountsByItem(ctx context.Context, userID, itemID string) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAccountsByItem")
	defer span.End()

	path := fmt.Sprintf("accounts?user_id=eq.%s&item_id=eq.%s&order=created_at.asc",
		url.QueryEscape(userID), url.QueryEscape(itemID))
	return c.listAccounts(ctx, path)
}

func (c *Client) listAccounts(ctx context.Context, path string) ([]domain.Account, error) {
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrPersistence{Op: "accounts.list", Err: err}
	}

	var rows []domain.Account
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: "accounts.list", Err: fmt.Errorf("decode accounts: %w", err)}
	}
	return rows, nil
}
