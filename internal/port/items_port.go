package port

import (
	"context"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
)

// ItemStore persists Items (external connections). The upsert is keyed on
// external_item_id, so repeated exchanges of the same connection update one
// row instead of inserting a second.
type ItemStore interface {
	UpsertItem(ctx context.Context, item *domain.Item) (*domain.Item, error)
	GetItem(ctx context.Context, userID, itemID string) (*domain.Item, error)
	GetItemByExternalID(ctx context.Context, userID, externalItemID string) (*domain.Item, error)

	// FindItemByExternalID looks up an item without a user scope. Webhooks
	// identify items by external id only.
	FindItemByExternalID(ctx context.Context, externalItemID string) (*domain.Item, error)
	ListItems(ctx context.Context, userID string) ([]domain.Item, error)
	UpdateItemCursor(ctx context.Context, itemID, cursor string) error
	MarkItemSynced(ctx context.Context, itemID string, syncedAt time.Time) error
	UpdateItemStatus(ctx context.Context, itemID, status string) error
	RevokeItem(ctx context.Context, userID, itemID string) error
}

// AccountStore persists accounts, upserted by external_account_id.
type AccountStore interface {
	UpsertAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]domain.Account, error)
	ListAccountsByItem(ctx context.Context, userID, itemID string) ([]domain.Account, error)
}
