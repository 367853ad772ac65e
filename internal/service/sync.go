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
	"golang.org/x/sync/singleflight"
)

var syncTracer = otel.Tracer("service/sync")

// SyncService pulls the provider's cursor-based change feed and applies it
// to the ledger. One page at a time: validate, apply added then modified
// then removed, checkpoint the cursor, repeat while the feed has more.
//
// The checkpoint only moves after a page is fully applied, and every apply
// is idempotent, so an aborted run replays at most one page's worth of
// already-applied records on the next trigger.
type SyncService struct {
	provider     port.ProviderClient
	items        port.ItemStore
	transactions port.TransactionStore
	reportCache  port.Cache[*domain.ReconciliationReport]
	metrics      *observability.Metrics
	logger       *zap.Logger
	inflight     singleflight.Group
}

// NewSyncService creates a sync service.
func NewSyncService(
	provider port.ProviderClient,
	items port.ItemStore,
	transactions port.TransactionStore,
	reportCache port.Cache[*domain.ReconciliationReport],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		provider:     provider,
		items:        items,
		transactions: transactions,
		reportCache:  reportCache,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run executes one sync pass for an item. Concurrent triggers for the same
// external item coalesce into a single in-flight run and share its result.
func (s *SyncService) Run(ctx context.Context, userID, externalItemID string) (*domain.SyncResult, error) {
	v, err, shared := s.inflight.Do(externalItemID, func() (any, error) {
		return s.run(ctx, userID, externalItemID)
	})
	if shared {
		s.logger.Debug("joined in-flight sync run",
			zap.String("external_item_id", externalItemID),
		)
	}

	result, _ := v.(*domain.SyncResult)
	return result, err
}

func (s *SyncService) run(ctx context.Context, userID, externalItemID string) (*domain.SyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "SyncService.Run")
	defer span.End()
	span.SetAttributes(attribute.String("item.external_id", externalItemID))

	item, err := s.items.GetItemByExternalID(ctx, userID, externalItemID)
	if err != nil {
		return nil, err
	}
	if item.Status == domain.ItemStatusRevoked {
		return nil, &domain.ErrValidation{Field: "item", Message: "connection is revoked"}
	}

	result := &domain.SyncResult{
		ItemID:         item.ID,
		ExternalItemID: item.ExternalItemID,
		FinalCursor:    item.SyncCursor,
	}

	start := time.Now()
	defer func() { s.metrics.ObserveSyncDuration(time.Since(start)) }()

	cursor := item.SyncCursor
	for {
		page, err := s.provider.GetChanges(ctx, item.CredentialRef, cursor)
		if err != nil {
			return result, s.abortRun(ctx, item, cursor, err)
		}
		if err := page.Validate(); err != nil {
			return result, s.abortRun(ctx, item, cursor, err)
		}

		records := s.applyPage(ctx, userID, page)
		pageResult := &domain.PageResult{NextCursor: page.NextCursor, Records: records}
		applied, skipped, failed := pageResult.Counts()

		// Checkpoint strictly after the whole page is applied. A failure
		// here leaves the cursor on the previous page; the replay is
		// idempotent.
		if err := s.items.UpdateItemCursor(ctx, item.ID, page.NextCursor); err != nil {
			return result, s.abortRun(ctx, item, cursor, err)
		}

		result.Pages++
		result.Applied += applied
		result.Skipped += skipped
		result.Failed += failed
		result.FinalCursor = page.NextCursor
		cursor = page.NextCursor
		s.metrics.IncrSyncPage()

		s.logger.Info("change page applied",
			zap.String("item_id", item.ID),
			zap.String("external_item_id", item.ExternalItemID),
			zap.String("correlation_id", observability.CorrelationID(ctx)),
			zap.Int("added", len(page.Added)),
			zap.Int("modified", len(page.Modified)),
			zap.Int("removed", len(page.Removed)),
			zap.Int("applied", applied),
			zap.Int("skipped", skipped),
			zap.Int("failed", failed),
			zap.Bool("has_more", page.HasMore),
		)

		if !page.HasMore {
			break
		}
	}

	// Everything is applied; last_synced_at is a freshness marker only, so a
	// failed write is logged, not surfaced as a run failure.
	if err := s.items.MarkItemSynced(ctx, item.ID, time.Now().UTC()); err != nil {
		s.logger.Error("failed to mark item synced",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
	result.Completed = true
	s.metrics.IncrSyncRun("completed")
	s.reportCache.Delete(reportCacheKey(userID))

	s.logger.Info("sync run completed",
		zap.String("item_id", item.ID),
		zap.String("external_item_id", item.ExternalItemID),
		zap.Int("pages", result.Pages),
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// abortRun classifies a run-terminating error. The cursor stays wherever the
// last fully applied page left it; last_synced_at is untouched.
func (s *SyncService) abortRun(ctx context.Context, item *domain.Item, cursor string, err error) error {
	var validation *domain.ErrValidation
	if errors.As(err, &validation) {
		s.metrics.IncrSyncRun("validation_error")
		s.logger.Warn("sync run aborted on malformed page",
			zap.String("item_id", item.ID),
			zap.String("cursor", cursor),
			zap.Error(err),
		)
		return err
	}

	var unauth *domain.ErrUnauthorized
	if errors.As(err, &unauth) {
		s.metrics.IncrSyncRun("error")
		if stErr := s.items.UpdateItemStatus(ctx, item.ID, domain.ItemStatusError); stErr != nil {
			s.logger.Error("failed to flag item errored",
				zap.String("item_id", item.ID),
				zap.Error(stErr),
			)
		}
		s.logger.Warn("provider rejected credential, item flagged errored",
			zap.String("item_id", item.ID),
			zap.String("external_item_id", item.ExternalItemID),
		)
		return err
	}

	var unavailable *domain.ErrProviderUnavailable
	if errors.As(err, &unavailable) {
		s.metrics.IncrSyncRun("provider_error")
		s.metrics.IncrProviderError(unavailable.Provider)
	} else {
		s.metrics.IncrSyncRun("error")
	}
	s.logger.Warn("sync run aborted, will resume from checkpoint",
		zap.String("item_id", item.ID),
		zap.String("cursor", cursor),
		zap.Error(err),
	)
	return err
}

// applyPage applies one validated page in the feed's documented order. A
// record that fails to persist is logged and stepped over; it never stops
// the page.
func (s *SyncService) applyPage(ctx context.Context, userID string, page *domain.ChangePage) []domain.RecordResult {
	records := make([]domain.RecordResult, 0, len(page.Added)+len(page.Modified)+len(page.Removed))

	for _, d := range page.Added {
		records = append(records, s.applyAdd(ctx, userID, d))
	}
	for _, d := range page.Modified {
		records = append(records, s.applyModify(ctx, userID, d))
	}
	for _, id := range page.Removed {
		records = append(records, s.applyRemove(ctx, userID, id))
	}
	return records
}

func (s *SyncService) applyAdd(ctx context.Context, userID string, d domain.TransactionDelta) domain.RecordResult {
	inserted, err := s.transactions.InsertTransaction(ctx, &domain.Transaction{
		UserID:                userID,
		ExternalTransactionID: d.ExternalTransactionID,
		ExternalAccountID:     d.ExternalAccountID,
		Amount:                d.Amount,
		Date:                  d.Date,
		Name:                  d.Name,
		MerchantName:          d.MerchantName,
		Pending:               d.Pending,
		Category:              d.Category,
	})
	if err != nil {
		return s.recordFailure(domain.OpAdd, d.ExternalTransactionID, err)
	}
	if !inserted {
		s.metrics.IncrSyncRecord(domain.OpAdd, domain.OutcomeSkipped)
		return domain.Skipped(domain.OpAdd, d.ExternalTransactionID, "exists")
	}
	s.metrics.IncrSyncRecord(domain.OpAdd, domain.OutcomeApplied)
	return domain.Applied(domain.OpAdd, d.ExternalTransactionID)
}

func (s *SyncService) applyModify(ctx context.Context, userID string, d domain.TransactionDelta) domain.RecordResult {
	updated, err := s.transactions.UpdateTransactionByExternalID(ctx, userID, d.ExternalTransactionID, &domain.TransactionMutation{
		Amount:       d.Amount,
		Date:         d.Date,
		Name:         d.Name,
		MerchantName: d.MerchantName,
		Pending:      d.Pending,
		Category:     d.Category,
	})
	if err != nil {
		return s.recordFailure(domain.OpModify, d.ExternalTransactionID, err)
	}
	if !updated {
		s.metrics.IncrSyncRecord(domain.OpModify, domain.OutcomeSkipped)
		return domain.Skipped(domain.OpModify, d.ExternalTransactionID, "absent")
	}
	s.metrics.IncrSyncRecord(domain.OpModify, domain.OutcomeApplied)
	return domain.Applied(domain.OpModify, d.ExternalTransactionID)
}

func (s *SyncService) applyRemove(ctx context.Context, userID, externalID string) domain.RecordResult {
	deleted, err := s.transactions.DeleteTransactionByExternalID(ctx, userID, externalID)
	if err != nil {
		return s.recordFailure(domain.OpRemove, externalID, err)
	}
	if !deleted {
		s.metrics.IncrSyncRecord(domain.OpRemove, domain.OutcomeSkipped)
		return domain.Skipped(domain.OpRemove, externalID, "absent")
	}
	s.metrics.IncrSyncRecord(domain.OpRemove, domain.OutcomeApplied)
	return domain.Applied(domain.OpRemove, externalID)
}

func (s *SyncService) recordFailure(op domain.ChangeOp, externalID string, err error) domain.RecordResult {
	s.metrics.IncrSyncRecord(op, domain.OutcomeFailed)
	s.logger.Error("record failed to persist, stepping over",
		zap.String("op", string(op)),
		zap.String("external_transaction_id", externalID),
		zap.Error(err),
	)
	return domain.Failed(op, externalID, err)
}

func reportCacheKey(userID string) string {
	return fmt.Sprintf("report:%s", userID)
}
