package domain

import "time"

// ============================================================
// Accounts
// ============================================================

// AccountSnapshot is an account as the provider reports it, before it is
// attached to an Item and stored.
type AccountSnapshot struct {
	ExternalAccountID string  `json:"external_account_id"`
	Name              string  `json:"name"`
	Type              string  `json:"type"`
	CurrentBalance    float64 `json:"current_balance"`
	AvailableBalance  float64 `json:"available_balance"`
	Currency          string  `json:"currency"`
}

// Account represents one external bank account under an Item. Rows are
// upserted by external_account_id on every connect and sync; balances are a
// snapshot of the provider's last report, not authoritative truth.
type Account struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	ItemID            string     `json:"item_id"`
	ExternalAccountID string     `json:"external_account_id"`
	Name              string     `json:"name"`
	Type              string     `json:"type"`
	CurrentBalance    float64    `json:"current_balance"`
	AvailableBalance  float64    `json:"available_balance"`
	Currency          string     `json:"currency"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
