package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/observability"
	"github.com/boddenberg/pj-ledger-sync-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var connTracer = otel.Tracer("service/connections")

// ConnectionsService manages Items: the exchange flow that registers a
// provider connection, listing, and revocation. It also resolves provider
// webhooks to sync jobs.
type ConnectionsService struct {
	provider      port.ProviderClient
	items         port.ItemStore
	accounts      port.AccountStore
	queue         port.SyncQueue
	accountsCache port.Cache[[]domain.Account]
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// NewConnectionsService creates a connections service.
func NewConnectionsService(
	provider port.ProviderClient,
	items port.ItemStore,
	accounts port.AccountStore,
	queue port.SyncQueue,
	accountsCache port.Cache[[]domain.Account],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ConnectionsService {
	return &ConnectionsService{
		provider:      provider,
		items:         items,
		accounts:      accounts,
		queue:         queue,
		accountsCache: accountsCache,
		metrics:       metrics,
		logger:        logger,
	}
}

// Connect exchanges a public token for a connection and registers it.
// Reconnecting the same external item updates the existing row; the response
// flags that with IsDuplicate. The post-connect sync is queued best-effort
// and can never fail the request.
func (s *ConnectionsService) Connect(ctx context.Context, userID string, req *domain.ConnectRequest) (*domain.ConnectResponse, error) {
	ctx, span := connTracer.Start(ctx, "ConnectionsService.Connect")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("connect", time.Since(start)) }()

	if req.PublicToken == "" {
		return nil, &domain.ErrValidation{Field: "public_token", Message: "required"}
	}

	ex, err := s.provider.ExchangeToken(ctx, req.PublicToken)
	if err != nil {
		s.metrics.IncrProviderError("exchange")
		return nil, err
	}
	span.SetAttributes(attribute.String("item.external_id", ex.ExternalItemID))

	// The lookup only feeds the duplicate flag; the write below is an atomic
	// upsert keyed on external_item_id either way.
	isDuplicate := false
	if _, err := s.items.GetItemByExternalID(ctx, userID, ex.ExternalItemID); err == nil {
		isDuplicate = true
	} else {
		var notFound *domain.ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	item, err := s.items.UpsertItem(ctx, &domain.Item{
		UserID:          userID,
		ExternalItemID:  ex.ExternalItemID,
		InstitutionID:   req.InstitutionID,
		InstitutionName: req.InstitutionName,
		CredentialRef:   ex.CredentialRef,
		Status:          domain.ItemStatusActive,
		ContextTag:      req.ContextTag,
	})
	if err != nil {
		s.logger.Error("failed to upsert item",
			zap.String("user_id", userID),
			zap.String("external_item_id", ex.ExternalItemID),
			zap.Error(err),
		)
		return nil, err
	}

	snapshots, err := s.provider.GetAccounts(ctx, ex.CredentialRef)
	if err != nil {
		s.metrics.IncrProviderError("accounts")
		return nil, err
	}

	accounts := make([]domain.Account, 0, len(snapshots))
	for _, snap := range snapshots {
		acct, err := s.accounts.UpsertAccount(ctx, &domain.Account{
			UserID:            userID,
			ItemID:            item.ID,
			ExternalAccountID: snap.ExternalAccountID,
			Name:              snap.Name,
			Type:              snap.Type,
			CurrentBalance:    snap.CurrentBalance,
			AvailableBalance:  snap.AvailableBalance,
			Currency:          snap.Currency,
		})
		if err != nil {
			s.logger.Error("failed to upsert account",
				zap.String("item_id", item.ID),
				zap.String("external_account_id", snap.ExternalAccountID),
				zap.Error(err),
			)
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	s.accountsCache.Delete(accountsCacheKey(userID))

	// Best-effort initial sync. The connect response is already decided.
	if err := s.queue.EnqueueSync(userID, item.ExternalItemID); err != nil {
		s.logger.Warn("failed to enqueue post-connect sync",
			zap.String("external_item_id", item.ExternalItemID),
			zap.Error(err),
		)
	}

	s.logger.Info("connection registered",
		zap.String("user_id", userID),
		zap.String("item_id", item.ID),
		zap.String("external_item_id", item.ExternalItemID),
		zap.Int("accounts", len(accounts)),
		zap.Bool("is_duplicate", isDuplicate),
	)

	return &domain.ConnectResponse{
		Item:        *item,
		Accounts:    accounts,
		IsDuplicate: isDuplicate,
	}, nil
}

// ListItems returns the caller's connections.
func (s *ConnectionsService) ListItems(ctx context.Context, userID string) ([]domain.Item, error) {
	ctx, span := connTracer.Start(ctx, "ConnectionsService.ListItems")
	defer span.End()

	return s.items.ListItems(ctx, userID)
}

// GetItem returns one connection by its internal id.
func (s *ConnectionsService) GetItem(ctx context.Context, userID, itemID string) (*domain.Item, error) {
	ctx, span := connTracer.Start(ctx, "ConnectionsService.GetItem")
	defer span.End()

	return s.items.GetItem(ctx, userID, itemID)
}

// RevokeItem marks a connection revoked and clears its credential. Ledger
// rows already synced stay.
func (s *ConnectionsService) RevokeItem(ctx context.Context, userID, itemID string) error {
	ctx, span := connTracer.Start(ctx, "ConnectionsService.RevokeItem")
	defer span.End()

	if err := s.items.RevokeItem(ctx, userID, itemID); err != nil {
		return err
	}

	s.logger.Info("connection revoked",
		zap.String("user_id", userID),
		zap.String("item_id", itemID),
	)
	return nil
}

// HandleProviderWebhook reacts to a provider event: new transaction data
// queues a sync, an item error flags the connection. Unknown items and
// unknown event types are no-ops.
func (s *ConnectionsService) HandleProviderWebhook(ctx context.Context, hook *domain.ProviderWebhook) error {
	ctx, span := connTracer.Start(ctx, "ConnectionsService.HandleProviderWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.event_type", hook.EventType))

	if hook.ExternalItemID == "" {
		return &domain.ErrValidation{Field: "external_item_id", Message: "required"}
	}

	item, err := s.items.FindItemByExternalID(ctx, hook.ExternalItemID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			s.logger.Warn("webhook for unknown item",
				zap.String("external_item_id", hook.ExternalItemID),
				zap.String("event_type", hook.EventType),
			)
			return nil
		}
		return err
	}

	switch hook.EventType {
	case domain.WebhookTransactionsUpdated:
		if err := s.queue.EnqueueSync(item.UserID, item.ExternalItemID); err != nil {
			s.logger.Warn("failed to enqueue webhook sync",
				zap.String("external_item_id", item.ExternalItemID),
				zap.Error(err),
			)
		}
	case domain.WebhookItemError:
		if err := s.items.UpdateItemStatus(ctx, item.ID, domain.ItemStatusError); err != nil {
			return err
		}
		s.logger.Warn("item flagged errored by provider",
			zap.String("item_id", item.ID),
			zap.String("external_item_id", item.ExternalItemID),
		)
	default:
		s.logger.Debug("ignoring webhook event", zap.String("event_type", hook.EventType))
	}
	return nil
}

func accountsCacheKey(userID string) string {
	return fmt.Sprintf("accounts:%s", userID)
}
