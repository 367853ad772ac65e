package port

import (
	"context"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
)

// TransactionStore persists ledger rows. Uniqueness on
// external_transaction_id is enforced by the store itself: inserts are
// atomic insert-or-skip, never read-then-write, so concurrent syncs of
// different Items cannot race a duplicate in.
type TransactionStore interface {
	// InsertTransaction inserts unless a row with the same
	// external_transaction_id exists. Returns false when skipped.
	InsertTransaction(ctx context.Context, tx *domain.Transaction) (bool, error)

	// UpdateTransactionByExternalID applies a mutation to the row with the
	// given external id. Returns false when no such row exists.
	UpdateTransactionByExternalID(ctx context.Context, userID, externalID string, mut *domain.TransactionMutation) (bool, error)

	// DeleteTransactionByExternalID removes the row with the given external
	// id. Returns false when no such row exists.
	DeleteTransactionByExternalID(ctx context.Context, userID, externalID string) (bool, error)

	// ListTransactions returns ledger rows for a user, optionally bounded to
	// an inclusive [from, to] date window and an account.
	ListTransactions(ctx context.Context, userID string, q domain.TransactionQuery) ([]domain.Transaction, error)
}
