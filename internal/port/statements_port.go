package port

import (
	"context"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
)

// StatementStore persists uploaded statement lines. Lines are append-only:
// there is no update or delete surface.
type StatementStore interface {
	InsertStatementLines(ctx context.Context, lines []domain.StatementLineItem) (int, error)
	ListStatementLines(ctx context.Context, userID string) ([]domain.StatementLineItem, error)
}
