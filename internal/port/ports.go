// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
)

// ProviderClient talks to the financial aggregation provider.
type ProviderClient interface {
	// ExchangeToken trades a short-lived public token for the connection's
	// stable identity and credential reference.
	ExchangeToken(ctx context.Context, publicToken string) (*domain.ExchangeResult, error)

	// GetAccounts lists the accounts the provider reports for a connection.
	GetAccounts(ctx context.Context, credentialRef string) ([]domain.AccountSnapshot, error)

	// GetChanges fetches one page of the transaction change feed. An empty
	// cursor requests full history from the beginning.
	GetChanges(ctx context.Context, credentialRef, cursor string) (*domain.ChangePage, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// SyncRunner runs one sync pass for an Item. Implementations must coalesce
// concurrent runs for the same Item into a single in-flight pass.
type SyncRunner interface {
	Run(ctx context.Context, userID, externalItemID string) (*domain.SyncResult, error)
}

// SyncQueue enqueues background sync work. Enqueue failures are advisory:
// callers log them and move on, they never fail the triggering action.
type SyncQueue interface {
	EnqueueSync(userID, externalItemID string) error
}
