package domain

import "time"

// ============================================================
// Statement lines (uploaded evidence)
// ============================================================

// StatementLineItem is one line of an independently uploaded bank statement.
// Lines are append-only once created: they are the immutable evidence the
// ledger is reconciled against.
type StatementLineItem struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	AccountName string    `json:"account_name"`
	Date        string    `json:"date"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// StatementLineInput is one line in a statement upload request.
type StatementLineInput struct {
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	AccountName string  `json:"account_name"`
}

// StatementUploadRequest is the body for POST /v1/statements.
type StatementUploadRequest struct {
	Lines []StatementLineInput `json:"lines"`
}

// StatementUploadResponse reports how many lines were stored.
type StatementUploadResponse struct {
	Created int `json:"created"`
}
