// Package client implements the HTTP client for the financial aggregation
// provider: token exchange, account listing and the transaction change feed.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// ProviderClient talks to the aggregation provider's REST API. All calls go
// through the shared circuit breaker, bounded retry, and a bulkhead capping
// concurrent calls across sync workers.
type ProviderClient struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
}

// NewProviderClient creates a ProviderClient.
func NewProviderClient(httpClient *http.Client, baseURL, clientID, secret string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, bulkhead *resilience.Bulkhead) *ProviderClient {
	return &ProviderClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		clientID:   clientID,
		secret:     secret,
		cb:         cb,
		cfg:        cfg,
		bulkhead:   bulkhead,
	}
}

// ============================================================
// Wire types — the provider serializes amounts as strings
// ============================================================

type exchangeRequest struct {
	PublicToken string `json:"public_token"`
}

type exchangeResponse struct {
	Success     bool   `json:"success"`
	ItemID      string `json:"item_id"`
	AccessToken string `json:"access_token"`
}

type wireAccount struct {
	AccountID        string `json:"account_id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	CurrentBalance   string `json:"current_balance"`
	AvailableBalance string `json:"available_balance"`
	Currency         string `json:"currency"`
}

type accountsResponse struct {
	Success bool          `json:"success"`
	Data    []wireAccount `json:"data"`
	Count   int           `json:"count"`
}

type wireTransaction struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Amount        string `json:"amount"`
	Date          string `json:"date"`
	Name          string `json:"name"`
	MerchantName  string `json:"merchant_name"`
	Pending       bool   `json:"pending"`
	Category      string `json:"category"`
}

type wireRemoved struct {
	TransactionID string `json:"transaction_id"`
}

type changesResponse struct {
	Success    bool              `json:"success"`
	Added      []wireTransaction `json:"added"`
	Modified   []wireTransaction `json:"modified"`
	Removed    []wireRemoved     `json:"removed"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseAmount(field, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &domain.ErrValidation{Field: field, Message: fmt.Sprintf("bad amount %q", s)}
	}
	return f, nil
}

func (w *wireTransaction) toDelta(set string, i int) (domain.TransactionDelta, error) {
	amount, err := parseAmount(fmt.Sprintf("%s[%d].amount", set, i), w.Amount)
	if err != nil {
		return domain.TransactionDelta{}, err
	}
	return domain.TransactionDelta{
		ExternalTransactionID: w.TransactionID,
		ExternalAccountID:     w.AccountID,
		Amount:                amount,
		Date:                  w.Date,
		Name:                  w.Name,
		MerchantName:          w.MerchantName,
		Pending:               w.Pending,
		Category:              w.Category,
	}, nil
}

func (r *changesResponse) toChangePage() (*domain.ChangePage, error) {
	page := &domain.ChangePage{
		Added:      make([]domain.TransactionDelta, 0, len(r.Added)),
		Modified:   make([]domain.TransactionDelta, 0, len(r.Modified)),
		Removed:    make([]string, 0, len(r.Removed)),
		NextCursor: r.NextCursor,
		HasMore:    r.HasMore,
	}
	for i, w := range r.Added {
		d, err := w.toDelta("added", i)
		if err != nil {
			return nil, err
		}
		page.Added = append(page.Added, d)
	}
	for i, w := range r.Modified {
		d, err := w.toDelta("modified", i)
		if err != nil {
			return nil, err
		}
		page.Modified = append(page.Modified, d)
	}
	for _, w := range r.Removed {
		page.Removed = append(page.Removed, w.TransactionID)
	}
	return page, nil
}

// ============================================================
// API calls
// ============================================================

// ExchangeToken trades a public token for the connection's identity and
// credential reference. Authenticated with the app's client id and secret.
func (c *ProviderClient) ExchangeToken(ctx context.Context, publicToken string) (*domain.ExchangeResult, error) {
	ctx, span := tracer.Start(ctx, "ProviderClient.ExchangeToken")
	defer span.End()

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	var wire exchangeResponse

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			payload, err := json.Marshal(exchangeRequest{PublicToken: publicToken})
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				fmt.Sprintf("%s/link/exchange", c.baseURL), bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Client-Id", c.clientID)
			req.Header.Set("X-Client-Secret", c.secret)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusUnauthorized {
				return resilience.Permanent(&domain.ErrUnauthorized{Message: "provider rejected app credentials"})
			}
			if resp.StatusCode != http.StatusOK {
				return decodeError(resp, "exchange")
			}

			return json.NewDecoder(resp.Body).Decode(&wire)
		})
	})
	if err != nil {
		return nil, wrapProviderErr("exchange", err)
	}

	if wire.ItemID == "" || wire.AccessToken == "" {
		return nil, &domain.ErrValidation{Field: "exchange", Message: "provider returned empty item_id or access_token"}
	}

	span.SetAttributes(attribute.String("item.external_id", wire.ItemID))
	return &domain.ExchangeResult{
		ExternalItemID: wire.ItemID,
		CredentialRef:  wire.AccessToken,
	}, nil
}

// GetAccounts lists the accounts the provider reports for a connection.
func (c *ProviderClient) GetAccounts(ctx context.Context, credentialRef string) ([]domain.AccountSnapshot, error) {
	ctx, span := tracer.Start(ctx, "ProviderClient.GetAccounts")
	defer span.End()

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	var wire accountsResponse

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet,
				fmt.Sprintf("%s/accounts", c.baseURL), nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", credentialRef))

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusUnauthorized {
				return resilience.Permanent(&domain.ErrUnauthorized{Message: "provider rejected credential"})
			}
			if resp.StatusCode != http.StatusOK {
				return decodeError(resp, "accounts")
			}

			return json.NewDecoder(resp.Body).Decode(&wire)
		})
	})
	if err != nil {
		return nil, wrapProviderErr("accounts", err)
	}

	snapshots := make([]domain.AccountSnapshot, 0, len(wire.Data))
	for i, a := range wire.Data {
		current, err := parseAmount(fmt.Sprintf("accounts[%d].current_balance", i), a.CurrentBalance)
		if err != nil {
			return nil, err
		}
		available, err := parseAmount(fmt.Sprintf("accounts[%d].available_balance", i), a.AvailableBalance)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, domain.AccountSnapshot{
			ExternalAccountID: a.AccountID,
			Name:              a.Name,
			Type:              a.Type,
			CurrentBalance:    current,
			AvailableBalance:  available,
			Currency:          a.Currency,
		})
	}
	return snapshots, nil
}

// GetChanges fetches one page of the transaction change feed. An empty
// cursor requests full history from the beginning.
func (c *ProviderClient) GetChanges(ctx context.Context, credentialRef, cursor string) (*domain.ChangePage, error) {
	ctx, span := tracer.Start(ctx, "ProviderClient.GetChanges")
	defer span.End()
	span.SetAttributes(attribute.Bool("cursor.initial", cursor == ""))

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	var wire changesResponse

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			u := fmt.Sprintf("%s/transactions/changes", c.baseURL)
			if cursor != "" {
				u = fmt.Sprintf("%s?cursor=%s", u, url.QueryEscape(cursor))
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", credentialRef))

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusUnauthorized {
				return resilience.Permanent(&domain.ErrUnauthorized{Message: "provider rejected credential"})
			}
			if resp.StatusCode != http.StatusOK {
				return decodeError(resp, "changes")
			}

			return json.NewDecoder(resp.Body).Decode(&wire)
		})
	})
	if err != nil {
		return nil, wrapProviderErr("changes", err)
	}

	return wire.toChangePage()
}

func decodeError(resp *http.Response, endpoint string) error {
	var e errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("provider %s returned %d: %s (%s)", endpoint, resp.StatusCode, e.Error, e.Message)
	}
	return fmt.Errorf("provider %s returned %d", endpoint, resp.StatusCode)
}

// wrapProviderErr classifies a failed call. Credential rejections pass
// through so callers can flag the connection; everything else is transient.
func wrapProviderErr(endpoint string, err error) error {
	var unauth *domain.ErrUnauthorized
	if errors.As(err, &unauth) {
		return unauth
	}
	return &domain.ErrProviderUnavailable{Provider: endpoint, Err: err}
}
