package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
)

// ============================================================
// ClientStore implementation — registered API clients
// ============================================================

// clientRow maps the api_clients table, including the secret hash the domain
// type never serializes outward.
type clientRow struct {
	ClientID   string    `json:"client_id"`
	SecretHash string    `json:"secret_hash"`
	Name       string    `json:"name"`
	UserID     string    `json:"user_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetAPIClient looks up an active API client for the token exchange.
func (c *Client) GetAPIClient(ctx context.Context, clientID string) (*domain.APIClient, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetAPIClient")
	defer span.End()

	path := fmt.Sprintf("api_clients?client_id=eq.%s&active=is.true&limit=1", url.QueryEscape(clientID))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrPersistence{Op: "api_clients.get", Err: err}
	}

	var rows []clientRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: "api_clients.get", Err: fmt.Errorf("decode api client: %w", err)}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "api_client", ID: clientID}
	}

	r := rows[0]
	return &domain.APIClient{
		ClientID:   r.ClientID,
		SecretHash: r.SecretHash,
		Name:       r.Name,
		UserID:     r.UserID,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
	}, nil
}
