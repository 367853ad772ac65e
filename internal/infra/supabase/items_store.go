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
// ItemStore implementation — one row per external connection
// ============================================================

// itemRow maps the items table, including columns the domain type never
// serializes outward (credential_ref).
type itemRow struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ExternalItemID  string     `json:"external_item_id"`
	InstitutionID   string     `json:"institution_id"`
	InstitutionName string     `json:"institution_name"`
	CredentialRef   string     `json:"credential_ref"`
	Status          string     `json:"status"`
	ContextTag      string     `json:"context_tag"`
	SyncCursor      string     `json:"sync_cursor"`
	LastSyncedAt    *time.Time `json:"last_synced_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (r *itemRow) toDomain() *domain.Item {
	return &domain.Item{
		ID:              r.ID,
		UserID:          r.UserID,
		ExternalItemID:  r.ExternalItemID,
		InstitutionID:   r.InstitutionID,
		InstitutionName: r.InstitutionName,
		CredentialRef:   r.CredentialRef,
		Status:          r.Status,
		ContextTag:      r.ContextTag,
		SyncCursor:      r.SyncCursor,
		LastSyncedAt:    r.LastSyncedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// UpsertItem inserts or updates the row keyed by external_item_id. The
// on_conflict target makes reconnects update in place, never duplicate.
func (c *Client) UpsertItem(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertItem")
	defer span.End()
	span.SetAttributes(attribute.String("item.external_id", item.ExternalItemID))

	row := map[string]any{
		"user_id":          item.UserID,
		"external_item_id": item.ExternalItemID,
		"institution_id":   item.InstitutionID,
		"institution_name": item.InstitutionName,
		"credential_ref":   item.CredentialRef,
		"status":           item.Status,
		"context_tag":      item.ContextTag,
		"updated_at":       time.Now().UTC().Format(time.RFC3339),
	}

	body, err := c.doPost(ctx, "items?on_conflict=external_item_id", row, preferUpsert)
	if err != nil {
		return nil, &domain.ErrPersistence{Op: "items.upsert", Err: err}
	}

	var rows []itemRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: "items.upsert", Err: fmt.Errorf("decode item: %w", err)}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrPersistence{Op: "items.upsert", Err: fmt.Errorf("no row returned from items upsert")}
	}
	return rows[0].toDomain(), nil
}

func (c *Client) GetItem(ctx context.Context, userID, itemID string) (*domain.Item, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetItem")
	defer span.End()

	path := fmt.Sprintf("items?user_id=eq.%s&id=eq.%s&limit=1", url.QueryEscape(userID), url.QueryEscape(itemID))
	return c.getItem(ctx, path, itemID)
}

func (c *Client) GetItemByExternalID(ctx context.Context, userID, externalItemID string) (*domain.Item, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetItemByExternalID")
	defer span.End()

	path := fmt.Sprintf("items?user_id=eq.%s&external_item_id=eq.%s&limit=1",
		url.QueryEscape(userID), url.QueryEscape(externalItemID))
	return c.getItem(ctx, path, externalItemID)
}

// FindItemByExternalID resolves a webhook's external id to an item. No user
// filter: webhooks carry no user identity.
func (c *Client) FindItemByExternalID(ctx context.Context, externalItemID string) (*domain.Item, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindItemByExternalID")
	defer span.End()

	path := fmt.Sprintf("items?external_item_id=eq.%s&limit=1", url.QueryEscape(externalItemID))
	return c.getItem(ctx, path, externalItemID)
}

func (c *Client) getItem(ctx context.Context, path, id string) (*domain.Item, error) {
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrPersistence{Op: "items.get", Err: err}
	}

	var rows []itemRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: "items.get", Err: fmt.Errorf("decode item: %w", err)}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "item", ID: id}
	}
	return rows[0].toDomain(), nil
}

func (c *Client) ListItems(ctx context.Context, userID string) ([]domain.Item, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListItems")
	defer span.End()

	path := fmt.Sprintf("items?user_id=eq.%s&order=created_at.asc", url.QueryEscape(userID))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrPersistence{Op: "items.list", Err: err}
	}

	var rows []itemRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: "items.list", Err: fmt.Errorf("decode items: %w", err)}
	}

	items := make([]domain.Item, 0, len(rows))
	for i := range rows {
		items = append(items, *rows[i].toDomain())
	}
	return items, nil
}

// UpdateItemCursor checkpoints the sync cursor. Called only after the page
// the cursor closes over has been fully applied.
func (c *Client) UpdateItemCursor(ctx context.Context, itemID, cursor string) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateItemCursor")
	defer span.End()

	path := fmt.Sprintf("items?id=eq.%s", url.QueryEscape(itemID))
	body, err := c.doPatch(ctx, path, map[string]any{
		"sync_cursor": cursor,
		"updated_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &domain.ErrPersistence{Op: "items.cursor", Err: err}
	}

	n, err := rowCount(body)
	if err != nil {
		return &domain.ErrPersistence{Op: "items.cursor", Err: err}
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: "item", ID: itemID}
	}
	return nil
}

// MarkItemSynced records a full uninterrupted pass over the change feed.
func (c *Client) MarkItemSynced(ctx context.Context, itemID string, syncedAt time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.MarkItemSynced")
	defer span.End()

	path := fmt.Sprintf("items?id=eq.%s", url.QueryEscape(itemID))
	_, err := c.doPatch(ctx, path, map[string]any{
		"last_synced_at": syncedAt.UTC().Format(time.RFC3339),
		"status":         domain.ItemStatusActive,
		"updated_at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &domain.ErrPersistence{Op: "items.mark_synced", Err: err}
	}
	return nil
}

func (c *Client) UpdateItemStatus(ctx context.Context, itemID, status string) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateItemStatus")
	defer span.End()

	path := fmt.Sprintf("items?id=eq.%s", url.QueryEscape(itemID))
	_, err := c.doPatch(ctx, path, map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &domain.ErrPersistence{Op: "items.status", Err: err}
	}
	return nil
}

// RevokeItem marks the connection revoked and clears its credential
// reference so no further provider calls can be made with it.
func (c *Client) RevokeItem(ctx context.Context, userID, itemID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.RevokeItem")
	defer span.End()

	path := fmt.Sprintf("items?id=eq.%s&user_id=eq.%s", url.QueryEscape(itemID), url.QueryEscape(userID))
	body, err := c.doPatch(ctx, path, map[string]any{
		"status":         domain.ItemStatusRevoked,
		"credential_ref": "",
		"updated_at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return &domain.ErrPersistence{Op: "items.revoke", Err: err}
	}

	n, err := rowCount(body)
	if err != nil {
		return &domain.ErrPersistence{Op: "items.revoke", Err: err}
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: "item", ID: itemID}
	}
	return nil
}
