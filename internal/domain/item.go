package domain

import "time"

// ============================================================
// Items (external bank connections)
// ============================================================

// Item statuses.
const (
	ItemStatusActive  = "active"
	ItemStatusError   = "error"
	ItemStatusRevoked = "revoked"
)

// Item represents one external bank connection: a single login's set of
// accounts at one institution. Exactly one Item exists per external_item_id;
// reconnecting the same institution updates the row instead of duplicating it.
type Item struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ExternalItemID  string     `json:"external_item_id"`
	InstitutionID   string     `json:"institution_id"`
	InstitutionName string     `json:"institution_name"`
	CredentialRef   string     `json:"-"`
	Status          string     `json:"status"`
	ContextTag      string     `json:"context_tag,omitempty"`
	SyncCursor      string     `json:"sync_cursor,omitempty"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ExchangeResult is what the provider returns for a successful public-token
// exchange: the stable connection identity plus an opaque credential
// reference for subsequent calls.
type ExchangeResult struct {
	ExternalItemID string
	CredentialRef  string
}

// ConnectRequest is the body for POST /v1/connections.
type ConnectRequest struct {
	PublicToken     string `json:"public_token"`
	InstitutionID   string `json:"institution_id"`
	InstitutionName string `json:"institution_name"`
	ContextTag      string `json:"context_tag,omitempty"`
}

// ConnectResponse is the body for 200/201 from POST /v1/connections.
// IsDuplicate is true when the exchange matched an existing Item, which was
// updated in place rather than duplicated.
type ConnectResponse struct {
	Item        Item      `json:"item"`
	Accounts    []Account `json:"accounts"`
	IsDuplicate bool      `json:"is_duplicate"`
}
