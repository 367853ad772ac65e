package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
)

// --- Mocks ---

// mockProvider serves canned exchange and account responses plus a change
// feed keyed by request cursor.
type mockProvider struct {
	mu sync.Mutex

	exchange    *domain.ExchangeResult
	exchangeErr error

	snapshots   []domain.AccountSnapshot
	accountsErr error

	pages       map[string]*domain.ChangePage
	pageErr     map[string]error
	changeCalls []string
}

func (m *mockProvider) ExchangeToken(_ context.Context, _ string) (*domain.ExchangeResult, error) {
	return m.exchange, m.exchangeErr
}

func (m *mockProvider) GetAccounts(_ context.Context, _ string) ([]domain.AccountSnapshot, error) {
	return m.snapshots, m.accountsErr
}

func (m *mockProvider) GetChanges(_ context.Context, _, cursor string) (*domain.ChangePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.changeCalls = append(m.changeCalls, cursor)
	if err, ok := m.pageErr[cursor]; ok {
		return nil, err
	}
	page, ok := m.pages[cursor]
	if !ok {
		return nil, &domain.ErrProviderUnavailable{Provider: "changes", Err: fmt.Errorf("no page for cursor %q", cursor)}
	}
	return page, nil
}

// memItemStore holds items keyed by external id with injectable write
// failures.
type memItemStore struct {
	mu sync.Mutex

	items map[string]*domain.Item // keyed by external_item_id

	upsertCalls  int
	upsertErr    error
	cursorWrites []string
	cursorErr    error
	statusWrites []string
	syncedAt     *time.Time
	syncedErr    error
}

func newMemItemStore(items ...*domain.Item) *memItemStore {
	s := &memItemStore{items: make(map[string]*domain.Item)}
	for _, it := range items {
		s.items[it.ExternalItemID] = it
	}
	return s
}

func (s *memItemStore) UpsertItem(_ context.Context, item *domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertCalls++
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	if existing, ok := s.items[item.ExternalItemID]; ok {
		existing.InstitutionID = item.InstitutionID
		existing.InstitutionName = item.InstitutionName
		existing.CredentialRef = item.CredentialRef
		existing.Status = item.Status
		existing.ContextTag = item.ContextTag
		existing.UpdatedAt = time.Now()
		cp := *existing
		return &cp, nil
	}
	stored := *item
	stored.ID = fmt.Sprintf("item-%d", len(s.items)+1)
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	s.items[item.ExternalItemID] = &stored
	cp := stored
	return &cp, nil
}

func (s *memItemStore) GetItem(_ context.Context, userID, itemID string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.ID == itemID && it.UserID == userID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "item", ID: itemID}
}

func (s *memItemStore) GetItemByExternalID(_ context.Context, userID, externalItemID string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.items[externalItemID]; ok && it.UserID == userID {
		cp := *it
		return &cp, nil
	}
	return nil, &domain.ErrNotFound{Resource: "item", ID: externalItemID}
}

func (s *memItemStore) FindItemByExternalID(_ context.Context, externalItemID string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.items[externalItemID]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, &domain.ErrNotFound{Resource: "item", ID: externalItemID}
}

func (s *memItemStore) ListItems(_ context.Context, userID string) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Item
	for _, it := range s.items {
		if it.UserID == userID {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (s *memItemStore) UpdateItemCursor(_ context.Context, itemID, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursorErr != nil {
		return s.cursorErr
	}
	for _, it := range s.items {
		if it.ID == itemID {
			it.SyncCursor = cursor
			s.cursorWrites = append(s.cursorWrites, cursor)
			return nil
		}
	}
	return &domain.ErrNotFound{Resource: "item", ID: itemID}
}

func (s *memItemStore) MarkItemSynced(_ context.Context, itemID string, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.syncedErr != nil {
		return s.syncedErr
	}
	for _, it := range s.items {
		if it.ID == itemID {
			it.LastSyncedAt = &syncedAt
			s.syncedAt = &syncedAt
			return nil
		}
	}
	return &domain.ErrNotFound{Resource: "item", ID: itemID}
}

func (s *memItemStore) UpdateItemStatus(_ context.Context, itemID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.ID == itemID {
			it.Status = status
			s.statusWrites = append(s.statusWrites, status)
			return nil
		}
	}
	return &domain.ErrNotFound{Resource: "item", ID: itemID}
}

func (s *memItemStore) RevokeItem(_ context.Context, userID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.ID == itemID && it.UserID == userID {
			it.Status = domain.ItemStatusRevoked
			it.CredentialRef = ""
			return nil
		}
	}
	return &domain.ErrNotFound{Resource: "item", ID: itemID}
}

// memAccountStore records upserts and serves canned lists.
type memAccountStore struct {
	mu sync.Mutex

	upserts   []domain.Account
	upsertErr error
	accounts  []domain.Account
	listErr   error
}

func (s *memAccountStore) UpsertAccount(_ context.Context, account *domain.Account) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	stored := *account
	stored.ID = fmt.Sprintf("acct-%d", len(s.upserts)+1)
	s.upserts = append(s.upserts, stored)
	return &stored, nil
}

func (s *memAccountStore) ListAccounts(_ context.Context, _ string) ([]domain.Account, error) {
	return s.accounts, s.listErr
}

func (s *memAccountStore) ListAccountsByItem(_ context.Context, _, itemID string) ([]domain.Account, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Account
	for _, a := range s.accounts {
		if a.ItemID == itemID {
			out = append(out, a)
		}
	}
	return out, nil
}

// memTransactionStore is an in-memory ledger keyed by external id. Writes
// are recorded in order; failures are injectable per external id.
type memTransactionStore struct {
	mu sync.Mutex

	rows      map[string]domain.Transaction
	order     []string
	ops       []string
	insertErr map[string]error
	updateErr map[string]error
	listErr   error
}

func newMemTransactionStore() *memTransactionStore {
	return &memTransactionStore{
		rows:      make(map[string]domain.Transaction),
		insertErr: make(map[string]error),
		updateErr: make(map[string]error),
	}
}

func (s *memTransactionStore) InsertTransaction(_ context.Context, tx *domain.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, "insert:"+tx.ExternalTransactionID)
	if err, ok := s.insertErr[tx.ExternalTransactionID]; ok {
		return false, err
	}
	if _, exists := s.rows[tx.ExternalTransactionID]; exists {
		return false, nil
	}
	stored := *tx
	stored.ID = fmt.Sprintf("tx-%d", len(s.rows)+1)
	s.rows[tx.ExternalTransactionID] = stored
	s.order = append(s.order, tx.ExternalTransactionID)
	return true, nil
}

func (s *memTransactionStore) UpdateTransactionByExternalID(_ context.Context, userID, externalID string, mut *domain.TransactionMutation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, "update:"+externalID)
	if err, ok := s.updateErr[externalID]; ok {
		return false, err
	}
	row, exists := s.rows[externalID]
	if !exists || row.UserID != userID {
		return false, nil
	}
	row.Amount = mut.Amount
	row.Date = mut.Date
	row.Name = mut.Name
	row.MerchantName = mut.MerchantName
	row.Pending = mut.Pending
	row.Category = mut.Category
	s.rows[externalID] = row
	return true, nil
}

func (s *memTransactionStore) DeleteTransactionByExternalID(_ context.Context, userID, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, "delete:"+externalID)
	row, exists := s.rows[externalID]
	if !exists || row.UserID != userID {
		return false, nil
	}
	delete(s.rows, externalID)
	for i, id := range s.order {
		if id == externalID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *memTransactionStore) ListTransactions(_ context.Context, userID string, q domain.TransactionQuery) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.Transaction, 0, len(s.order))
	for _, id := range s.order {
		row := s.rows[id]
		if row.UserID != userID {
			continue
		}
		if q.ExternalAccountID != "" && row.ExternalAccountID != q.ExternalAccountID {
			continue
		}
		if q.From != "" && row.Date < q.From {
			continue
		}
		if q.To != "" && row.Date > q.To {
			continue
		}
		out = append(out, row)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *memTransactionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// memStatementStore captures inserted statement lines and serves canned
// lists.
type memStatementStore struct {
	mu sync.Mutex

	inserted  []domain.StatementLineItem
	insertErr error
	lines     []domain.StatementLineItem
	listErr   error
}

func (s *memStatementStore) InsertStatementLines(_ context.Context, lines []domain.StatementLineItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.inserted = append(s.inserted, lines...)
	return len(lines), nil
}

func (s *memStatementStore) ListStatementLines(_ context.Context, _ string) ([]domain.StatementLineItem, error) {
	return s.lines, s.listErr
}

// mockSyncQueue records enqueued syncs.
type mockSyncQueue struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (q *mockSyncQueue) EnqueueSync(_, externalItemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return q.err
	}
	q.calls = append(q.calls, externalItemID)
	return nil
}

func (q *mockSyncQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.calls...)
}

// mockClientStore serves one canned API client.
type mockClientStore struct {
	client *domain.APIClient
	err    error
}

func (m *mockClientStore) GetAPIClient(_ context.Context, clientID string) (*domain.APIClient, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.client == nil || m.client.ClientID != clientID {
		return nil, &domain.ErrNotFound{Resource: "api_client", ID: clientID}
	}
	return m.client, nil
}

var errStorageDown = errors.New("storage unreachable")
