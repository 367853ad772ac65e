package domain

import "time"

// DateLayout is the calendar-date format used for transaction and statement
// dates throughout the service.
const DateLayout = "2006-01-02"

// ============================================================
// Transactions (the synced ledger)
// ============================================================

// Transaction is one ledger row synced from the provider's change feed.
// At most one stored row exists per external_transaction_id: "added" deltas
// insert-or-skip, "modified" deltas mutate in place, "removed" deltas delete.
type Transaction struct {
	ID                    string    `json:"id"`
	UserID                string    `json:"user_id"`
	ExternalTransactionID string    `json:"external_transaction_id"`
	ExternalAccountID     string    `json:"external_account_id"`
	Amount                float64   `json:"amount"`
	Date                  string    `json:"date"`
	Name                  string    `json:"name"`
	MerchantName          string    `json:"merchant_name,omitempty"`
	Pending               bool      `json:"pending"`
	Category              string    `json:"category,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// TransactionQuery bounds a ledger listing. Zero values mean unbounded.
type TransactionQuery struct {
	ExternalAccountID string
	From              string
	To                string
	Limit             int
}

// TransactionMutation carries the mutable fields applied by a "modified"
// delta. Identity fields (external ids, user) never change after insert.
type TransactionMutation struct {
	Amount       float64 `json:"amount"`
	Date         string  `json:"date"`
	Name         string  `json:"name"`
	MerchantName string  `json:"merchant_name,omitempty"`
	Pending      bool    `json:"pending"`
	Category     string  `json:"category,omitempty"`
}
