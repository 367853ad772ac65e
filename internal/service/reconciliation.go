package service

import (
	"context"
	"math"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/observability"
	"github.com/boddenberg/pj-ledger-sync-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var reconTracer = otel.Tracer("service/reconciliation")

// ReconciliationService classifies uploaded statement lines against the
// synced ledger. Each line is classified independently, first match wins:
// exact (same date, amounts within tolerance), else partial (first same-date
// candidate in query order), else unmatched. The tie-break among same-date
// candidates is "first encountered", kept as documented behavior.
type ReconciliationService struct {
	transactions port.TransactionStore
	statements   port.StatementStore
	cache        port.Cache[*domain.ReconciliationReport]
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(
	transactions port.TransactionStore,
	statements port.StatementStore,
	cache port.Cache[*domain.ReconciliationReport],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		transactions: transactions,
		statements:   statements,
		cache:        cache,
		metrics:      metrics,
		logger:       logger,
	}
}

// Report builds the reconciliation report for one user. Storage failures
// degrade to an all-zero report, never an error; statement upload and sync
// completion invalidate the cached copy.
func (s *ReconciliationService) Report(ctx context.Context, userID string) (*domain.ReconciliationReport, error) {
	ctx, span := reconTracer.Start(ctx, "ReconciliationService.Report")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	start := time.Now()
	defer func() { s.metrics.ObserveReconciliationDuration(time.Since(start)) }()

	key := reportCacheKey(userID)
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.IncrCacheHit("report")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("report")

	var (
		lines  []domain.StatementLineItem
		ledger []domain.Transaction
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ls, err := s.statements.ListStatementLines(gCtx, userID)
		if err != nil {
			return err
		}
		lines = ls
		return nil
	})
	g.Go(func() error {
		txs, err := s.transactions.ListTransactions(gCtx, userID, domain.TransactionQuery{})
		if err != nil {
			return err
		}
		ledger = txs
		return nil
	})
	if err := g.Wait(); err != nil {
		s.metrics.IncrReconciliationRun("degraded")
		s.logger.Warn("reconciliation degraded to empty report",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return emptyReport(), nil
	}

	report := s.buildReport(lines, ledger)
	s.metrics.IncrReconciliationRun("completed")
	s.cache.Set(key, report)

	s.logger.Info("reconciliation report built",
		zap.String("user_id", userID),
		zap.Int("statement_items", report.Summary.TotalStatementItems),
		zap.Int("matched", report.Summary.MatchedCount),
		zap.Int("partial", report.Summary.PartialCount),
		zap.Int("unmatched", report.Summary.UnmatchedCount),
		zap.Float64("total_difference", report.Summary.TotalDifference),
	)
	return report, nil
}

// buildReport matches every statement line, preserving statement order.
// total_difference accumulates in decimal so repeated float adds cannot
// drift the reported sum.
func (s *ReconciliationService) buildReport(lines []domain.StatementLineItem, ledger []domain.Transaction) *domain.ReconciliationReport {
	items := make([]domain.ReconciliationItem, 0, len(lines))
	summary := domain.ReconciliationSummary{TotalStatementItems: len(lines)}
	total := decimal.Zero

	for _, line := range lines {
		item := classifyLine(line, ledger)

		switch item.Status {
		case domain.MatchStatusMatched:
			summary.MatchedCount++
		case domain.MatchStatusPartial:
			summary.PartialCount++
			total = total.Add(decimal.NewFromFloat(*item.Difference).Abs())
		default:
			summary.UnmatchedCount++
			total = total.Add(decimal.NewFromFloat(line.Amount).Abs())
		}
		s.metrics.IncrReconciliationLine(string(item.Status))

		if summary.StatementPeriodStart == nil || line.Date < *summary.StatementPeriodStart {
			d := line.Date
			summary.StatementPeriodStart = &d
		}
		if summary.StatementPeriodEnd == nil || line.Date > *summary.StatementPeriodEnd {
			d := line.Date
			summary.StatementPeriodEnd = &d
		}

		items = append(items, item)
	}

	summary.TotalDifference = total.Round(2).InexactFloat64()
	return &domain.ReconciliationReport{Items: items, Summary: summary}
}

// classifyLine scans the ledger twice: once for an exact match, once for the
// first same-date candidate. Lines never consume transactions; two lines may
// match the same row.
func classifyLine(line domain.StatementLineItem, ledger []domain.Transaction) domain.ReconciliationItem {
	item := domain.ReconciliationItem{
		ID:              line.ID,
		StatementDate:   line.Date,
		StatementAmount: line.Amount,
		Status:          domain.MatchStatusUnmatched,
		Description:     line.Description,
		AccountName:     line.AccountName,
	}

	for i := range ledger {
		tx := &ledger[i]
		if tx.Date != line.Date {
			continue
		}
		if math.Abs(math.Abs(tx.Amount)-math.Abs(line.Amount)) < domain.AmountTolerance {
			ingested := tx.Amount
			diff := 0.0
			item.IngestedAmount = &ingested
			item.Difference = &diff
			item.Status = domain.MatchStatusMatched
			return item
		}
	}

	for i := range ledger {
		tx := &ledger[i]
		if tx.Date != line.Date {
			continue
		}
		ingested := tx.Amount
		diff := math.Abs(line.Amount) - math.Abs(tx.Amount)
		item.IngestedAmount = &ingested
		item.Difference = &diff
		item.Status = domain.MatchStatusPartial
		return item
	}

	return item
}

func emptyReport() *domain.ReconciliationReport {
	return &domain.ReconciliationReport{
		Items:   make([]domain.ReconciliationItem, 0),
		Summary: domain.ReconciliationSummary{},
	}
}
