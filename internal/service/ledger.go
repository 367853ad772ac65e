package service

import (
	"context"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/observability"
	"github.com/boddenberg/pj-ledger-sync-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ledgerTracer = otel.Tracer("service/ledger")

// LedgerService is the read side of the synced data: accounts and
// transactions.
type LedgerService struct {
	accounts      port.AccountStore
	transactions  port.TransactionStore
	accountsCache port.Cache[[]domain.Account]
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// NewLedgerService creates a ledger service.
func NewLedgerService(
	accounts port.AccountStore,
	transactions port.TransactionStore,
	accountsCache port.Cache[[]domain.Account],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		accounts:      accounts,
		transactions:  transactions,
		accountsCache: accountsCache,
		metrics:       metrics,
		logger:        logger,
	}
}

// ListAccounts returns the user's accounts, optionally narrowed to one item.
// Only the unfiltered list is cached; connect invalidates it.
func (s *LedgerService) ListAccounts(ctx context.Context, userID, itemID string) ([]domain.Account, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListAccounts")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if itemID != "" {
		return s.accounts.ListAccountsByItem(ctx, userID, itemID)
	}

	key := accountsCacheKey(userID)
	if cached, ok := s.accountsCache.Get(key); ok {
		s.metrics.IncrCacheHit("accounts")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("accounts")

	accounts, err := s.accounts.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.accountsCache.Set(key, accounts)
	return accounts, nil
}

// ListTransactions returns ledger rows, optionally bounded by account and an
// inclusive date window.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, q domain.TransactionQuery) ([]domain.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if q.From != "" {
		if _, err := time.Parse(domain.DateLayout, q.From); err != nil {
			return nil, &domain.ErrValidation{Field: "from", Message: "bad date, want YYYY-MM-DD"}
		}
	}
	if q.To != "" {
		if _, err := time.Parse(domain.DateLayout, q.To); err != nil {
			return nil, &domain.ErrValidation{Field: "to", Message: "bad date, want YYYY-MM-DD"}
		}
	}
	if q.Limit < 0 {
		return nil, &domain.ErrValidation{Field: "limit", Message: "must not be negative"}
	}

	return s.transactions.ListTransactions(ctx, userID, q)
}
