package port

import (
	"context"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
)

// ClientStore looks up registered API clients for the token exchange.
type ClientStore interface {
	GetAPIClient(ctx context.Context, clientID string) (*domain.APIClient, error)
}
