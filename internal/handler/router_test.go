package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/handler"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/cache"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/observability"
	"github.com/boddenberg/pj-ledger-sync-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================
// Stubs — canned stores behind the real services
// ============================================================

type stubProvider struct{}

func (stubProvider) ExchangeToken(context.Context, string) (*domain.ExchangeResult, error) {
	return &domain.ExchangeResult{ExternalItemID: "ext-item-1", CredentialRef: "cred-1"}, nil
}

func (stubProvider) GetAccounts(context.Context, string) ([]domain.AccountSnapshot, error) {
	return []domain.AccountSnapshot{
		{ExternalAccountID: "ext-acct-1", Name: "Checking", Type: "depository", CurrentBalance: 1200.55, Currency: "USD"},
	}, nil
}

func (stubProvider) GetChanges(context.Context, string, string) (*domain.ChangePage, error) {
	return &domain.ChangePage{NextCursor: "cur-1", HasMore: false}, nil
}

type stubItems struct {
	item *domain.Item
}

func (s *stubItems) UpsertItem(_ context.Context, item *domain.Item) (*domain.Item, error) {
	out := *item
	out.ID = "item-1"
	return &out, nil
}

func (s *stubItems) GetItem(_ context.Context, userID, itemID string) (*domain.Item, error) {
	if s.item == nil || s.item.ID != itemID || s.item.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "item", ID: itemID}
	}
	out := *s.item
	return &out, nil
}

func (s *stubItems) GetItemByExternalID(_ context.Context, userID, externalItemID string) (*domain.Item, error) {
	if s.item == nil || s.item.ExternalItemID != externalItemID || s.item.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "item", ID: externalItemID}
	}
	out := *s.item
	return &out, nil
}

func (s *stubItems) FindItemByExternalID(_ context.Context, externalItemID string) (*domain.Item, error) {
	if s.item == nil || s.item.ExternalItemID != externalItemID {
		return nil, &domain.ErrNotFound{Resource: "item", ID: externalItemID}
	}
	out := *s.item
	return &out, nil
}

func (s *stubItems) ListItems(context.Context, string) ([]domain.Item, error) {
	if s.item == nil {
		return nil, nil
	}
	return []domain.Item{*s.item}, nil
}

func (s *stubItems) UpdateItemCursor(context.Context, string, string) error        { return nil }
func (s *stubItems) MarkItemSynced(context.Context, string, time.Time) error      { return nil }
func (s *stubItems) UpdateItemStatus(context.Context, string, string) error       { return nil }
func (s *stubItems) RevokeItem(context.Context, string, string) error             { return nil }

type stubAccounts struct{}

func (stubAccounts) UpsertAccount(_ context.Context, a *domain.Account) (*domain.Account, error) {
	out := *a
	out.ID = "acct-1"
	return &out, nil
}
func (stubAccounts) ListAccounts(context.Context, string) ([]domain.Account, error) {
	return nil, nil
}
func (stubAccounts) ListAccountsByItem(context.Context, string, string) ([]domain.Account, error) {
	return nil, nil
}

type stubTxs struct{}

func (stubTxs) InsertTransaction(context.Context, *domain.Transaction) (bool, error) {
	return true, nil
}
func (stubTxs) UpdateTransactionByExternalID(context.Context, string, string, *domain.TransactionMutation) (bool, error) {
	return true, nil
}
func (stubTxs) DeleteTransactionByExternalID(context.Context, string, string) (bool, error) {
	return true, nil
}
func (stubTxs) ListTransactions(context.Context, string, domain.TransactionQuery) ([]domain.Transaction, error) {
	return nil, nil
}

type stubStmts struct{}

func (stubStmts) InsertStatementLines(_ context.Context, lines []domain.StatementLineItem) (int, error) {
	return len(lines), nil
}
func (stubStmts) ListStatementLines(context.Context, string) ([]domain.StatementLineItem, error) {
	return nil, nil
}

type stubClients struct {
	client *domain.APIClient
}

func (s *stubClients) GetAPIClient(_ context.Context, clientID string) (*domain.APIClient, error) {
	if s.client == nil || s.client.ClientID != clientID {
		return nil, &domain.ErrNotFound{Resource: "api_client", ID: clientID}
	}
	return s.client, nil
}

type stubQueue struct{}

func (stubQueue) EnqueueSync(string, string) error { return nil }

// ============================================================
// Fixture
// ============================================================

func newTestServer(t *testing.T, webhookSecret string) *httptest.Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	clients := &stubClients{client: &domain.APIClient{
		ClientID:   "cli-1",
		SecretHash: string(hash),
		UserID:     "user-1",
		Active:     true,
	}}
	items := &stubItems{item: &domain.Item{
		ID:             "item-1",
		UserID:         "user-1",
		ExternalItemID: "ext-item-1",
		InstitutionID:  "ins-9",
		CredentialRef:  "cred-1",
		Status:         domain.ItemStatusActive,
	}}

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	accountsCache := cache.New[[]domain.Account](time.Minute)
	reportCache := cache.New[*domain.ReconciliationReport](time.Minute)

	authSvc := service.NewAuthService(clients, "test-signing-secret", time.Hour, logger)
	connSvc := service.NewConnectionsService(stubProvider{}, items, stubAccounts{}, stubQueue{}, accountsCache, metrics, logger)
	syncSvc := service.NewSyncService(stubProvider{}, items, stubTxs{}, reportCache, metrics, logger)
	ledgerSvc := service.NewLedgerService(stubAccounts{}, stubTxs{}, accountsCache, metrics, logger)
	stmtSvc := service.NewStatementsService(stubStmts{}, reportCache, metrics, logger)
	reconSvc := service.NewReconciliationService(stubTxs{}, stubStmts{}, reportCache, metrics, logger)

	router := handler.NewRouter(authSvc, connSvc, syncSvc, ledgerSvc, stmtSvc, reconSvc, webhookSecret, metrics, logger)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func issueToken(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, srv, "/v1/auth/token", "", map[string]string{
		"client_id":     "cli-1",
		"client_secret": "s3cret",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token request returned %d", resp.StatusCode)
	}
	var body domain.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return body.AccessToken
}

func getJSON(t *testing.T, srv *httptest.Server, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func postJSON(t *testing.T, srv *httptest.Server, path, token string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func errorBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

// ============================================================
// Tests
// ============================================================

func TestRouter_Health(t *testing.T) {
	srv := newTestServer(t, "")

	resp := getJSON(t, srv, "/health", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status   string                 `json:"status"`
		Services []domain.ServiceHealth `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %q", body.Status)
	}
	if len(body.Services) != 2 {
		t.Errorf("expected 2 service entries, got %d", len(body.Services))
	}
}

func TestRouter_Ready(t *testing.T) {
	srv := newTestServer(t, "")

	resp := getJSON(t, srv, "/health/ready", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRouter_Metrics(t *testing.T) {
	srv := newTestServer(t, "")

	resp := getJSON(t, srv, "/metrics", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	if !strings.Contains(string(raw), "ledger_sync") {
		t.Error("expected ledger_sync metric families in exposition")
	}
}

func TestRouter_MissingTokenRejected(t *testing.T) {
	srv := newTestServer(t, "")

	resp := getJSON(t, srv, "/v1/items", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if got := errorBody(t, resp); got != "missing bearer token" {
		t.Errorf("unexpected error message %q", got)
	}
}

func TestRouter_MalformedAuthHeaderRejected(t *testing.T) {
	srv := newTestServer(t, "")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/items", nil)
	req.Header.Set("Authorization", "Token abc")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if got := errorBody(t, resp); got != "invalid authorization header format" {
		t.Errorf("unexpected error message %q", got)
	}
}

func TestRouter_GarbageTokenRejected(t *testing.T) {
	srv := newTestServer(t, "")

	resp := getJSON(t, srv, "/v1/items", "not-a-jwt")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRouter_TokenFlow(t *testing.T) {
	srv := newTestServer(t, "")
	token := issueToken(t, srv)

	resp := getJSON(t, srv, "/v1/items", token)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", resp.StatusCode)
	}
	var body domain.ListResponse[domain.Item]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode items: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 || body.Data[0].ID != "item-1" {
		t.Errorf("unexpected item list: %+v", body)
	}
}

func TestRouter_CorrelationIDEchoed(t *testing.T) {
	srv := newTestServer(t, "")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("expected caller correlation id echoed, got %q", got)
	}

	resp2 := getJSON(t, srv, "/health", "")
	resp2.Body.Close()
	if resp2.Header.Get("X-Correlation-ID") == "" {
		t.Error("expected a generated correlation id when the caller sends none")
	}
}

func TestRouter_WebhookSecretEnforced(t *testing.T) {
	srv := newTestServer(t, "hook-secret")
	hook := map[string]string{"event_type": "transactions.updated", "external_item_id": "ext-item-1"}

	payload, _ := json.Marshal(hook)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/provider", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", "wrong")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong webhook secret, got %d", resp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/provider", bytes.NewReader(payload))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-Webhook-Secret", "hook-secret")
	resp2, err := srv.Client().Do(req2)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for correct webhook secret, got %d", resp2.StatusCode)
	}
}

func TestRouter_WebhookWithoutConfiguredSecret(t *testing.T) {
	srv := newTestServer(t, "")

	resp := postJSON(t, srv, "/v1/webhooks/provider", "", map[string]string{
		"event_type":       "transactions.updated",
		"external_item_id": "ext-item-1",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 when no secret is configured, got %d", resp.StatusCode)
	}
}

func TestRouter_ItemNotFound(t *testing.T) {
	srv := newTestServer(t, "")
	token := issueToken(t, srv)

	resp := getJSON(t, srv, "/v1/items/unknown", token)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRouter_InvalidBodyRejected(t *testing.T) {
	srv := newTestServer(t, "")
	token := issueToken(t, srv)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/connections", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if got := errorBody(t, resp); got != "invalid request body" {
		t.Errorf("unexpected error message %q", got)
	}
}

func TestRouter_ConnectFlow(t *testing.T) {
	srv := newTestServer(t, "")
	token := issueToken(t, srv)

	resp := postJSON(t, srv, "/v1/connections", token, map[string]string{
		"public_token":     "public-tok-abc",
		"institution_id":   "ins-9",
		"institution_name": "First Platypus Bank",
	})
	defer resp.Body.Close()

	// The stub item store always reports an existing row for ext-item-1,
	// so the connect reads as a reconnection.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for duplicate connection, got %d", resp.StatusCode)
	}
	var body domain.ConnectResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode connect response: %v", err)
	}
	if !body.IsDuplicate {
		t.Error("expected is_duplicate true")
	}
	if len(body.Accounts) != 1 {
		t.Errorf("expected 1 account in response, got %d", len(body.Accounts))
	}
}

func TestRouter_SyncEndpoint(t *testing.T) {
	srv := newTestServer(t, "")
	token := issueToken(t, srv)

	resp := postJSON(t, srv, "/v1/items/item-1/sync", token, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status      string `json:"status"`
		Pages       int    `json:"pages"`
		FinalCursor string `json:"final_cursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode sync response: %v", err)
	}
	if body.Status != "completed" || body.Pages != 1 || body.FinalCursor != "cur-1" {
		t.Errorf("unexpected sync response: %+v", body)
	}
}

func TestRouter_ReconciliationReport(t *testing.T) {
	srv := newTestServer(t, "")
	token := issueToken(t, srv)

	resp := getJSON(t, srv, "/v1/reconciliation/report", token)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var report domain.ReconciliationReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Summary.TotalStatementItems != 0 || report.Summary.TotalDifference != 0 {
		t.Errorf("expected a zero report for empty storage, got %+v", report.Summary)
	}
}
