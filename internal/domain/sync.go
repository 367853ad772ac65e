package domain

import (
	"fmt"
	"time"
)

// ============================================================
// Change feed
// ============================================================

// TransactionDelta is one transaction record inside a change-feed page,
// already converted from the provider's wire shape.
type TransactionDelta struct {
	ExternalTransactionID string  `json:"external_transaction_id"`
	ExternalAccountID     string  `json:"external_account_id"`
	Amount                float64 `json:"amount"`
	Date                  string  `json:"date"`
	Name                  string  `json:"name"`
	MerchantName          string  `json:"merchant_name,omitempty"`
	Pending               bool    `json:"pending"`
	Category              string  `json:"category,omitempty"`
}

// ChangePage is one page of the provider's cursor-based change feed. The
// added, modified and removed sets are disjoint; NextCursor marks everything
// up to and including this page and is valid even when HasMore is false.
type ChangePage struct {
	Added      []TransactionDelta `json:"added"`
	Modified   []TransactionDelta `json:"modified"`
	Removed    []string           `json:"removed"`
	NextCursor string             `json:"next_cursor"`
	HasMore    bool               `json:"has_more"`
}

// Validate checks a change page against the fixed feed schema before any of
// it is applied. A violation aborts the current sync run without advancing
// the checkpoint; the Item is not marked errored.
func (p *ChangePage) Validate() error {
	if p.NextCursor == "" {
		return &ErrValidation{Field: "next_cursor", Message: "missing cursor on change page"}
	}
	seen := make(map[string]string, len(p.Added)+len(p.Modified)+len(p.Removed))
	for i, d := range p.Added {
		if err := validateDelta("added", i, d, seen); err != nil {
			return err
		}
	}
	for i, d := range p.Modified {
		if err := validateDelta("modified", i, d, seen); err != nil {
			return err
		}
	}
	for i, id := range p.Removed {
		field := fmt.Sprintf("removed[%d]", i)
		if id == "" {
			return &ErrValidation{Field: field, Message: "missing external_transaction_id"}
		}
		if prev, ok := seen[id]; ok {
			return &ErrValidation{Field: field, Message: fmt.Sprintf("id %s already present in %s set", id, prev)}
		}
		seen[id] = "removed"
	}
	return nil
}

func validateDelta(set string, i int, d TransactionDelta, seen map[string]string) error {
	field := fmt.Sprintf("%s[%d]", set, i)
	if d.ExternalTransactionID == "" {
		return &ErrValidation{Field: field, Message: "missing external_transaction_id"}
	}
	if d.ExternalAccountID == "" {
		return &ErrValidation{Field: field, Message: "missing external_account_id"}
	}
	if _, err := time.Parse(DateLayout, d.Date); err != nil {
		return &ErrValidation{Field: field, Message: fmt.Sprintf("bad date %q", d.Date)}
	}
	if prev, ok := seen[d.ExternalTransactionID]; ok {
		return &ErrValidation{Field: field, Message: fmt.Sprintf("id %s already present in %s set", d.ExternalTransactionID, prev)}
	}
	seen[d.ExternalTransactionID] = set
	return nil
}

// ============================================================
// Per-record and per-run sync results
// ============================================================

// ChangeOp identifies which delta set a record came from.
type ChangeOp string

const (
	OpAdd    ChangeOp = "added"
	OpModify ChangeOp = "modified"
	OpRemove ChangeOp = "removed"
)

// RecordOutcome is the tagged outcome of applying one delta.
type RecordOutcome string

const (
	OutcomeApplied RecordOutcome = "applied"
	OutcomeSkipped RecordOutcome = "skipped"
	OutcomeFailed  RecordOutcome = "failed"
)

// RecordResult is the outcome of applying a single change-feed record.
// Skipped records carry a reason (already present, absent target); failed
// records carry the persistence error that was logged and stepped over.
type RecordResult struct {
	Op                    ChangeOp      `json:"op"`
	ExternalTransactionID string        `json:"external_transaction_id"`
	Outcome               RecordOutcome `json:"outcome"`
	Reason                string        `json:"reason,omitempty"`
	Err                   error         `json:"-"`
}

// Applied builds an applied result.
func Applied(op ChangeOp, externalID string) RecordResult {
	return RecordResult{Op: op, ExternalTransactionID: externalID, Outcome: OutcomeApplied}
}

// Skipped builds a skipped result with a reason.
func Skipped(op ChangeOp, externalID, reason string) RecordResult {
	return RecordResult{Op: op, ExternalTransactionID: externalID, Outcome: OutcomeSkipped, Reason: reason}
}

// Failed builds a failed result wrapping the record's error.
func Failed(op ChangeOp, externalID string, err error) RecordResult {
	return RecordResult{Op: op, ExternalTransactionID: externalID, Outcome: OutcomeFailed, Reason: err.Error(), Err: err}
}

// PageResult aggregates the record results of one fully applied page.
type PageResult struct {
	NextCursor string
	Records    []RecordResult
}

// Counts returns the applied/skipped/failed totals for the page.
func (p *PageResult) Counts() (applied, skipped, failed int) {
	for _, r := range p.Records {
		switch r.Outcome {
		case OutcomeApplied:
			applied++
		case OutcomeSkipped:
			skipped++
		case OutcomeFailed:
			failed++
		}
	}
	return
}

// SyncResult summarizes one sync run for an Item. Completed is true only for
// a full uninterrupted pass over the feed; an aborted run keeps the cursor of
// the last fully applied page so the next trigger resumes from there.
type SyncResult struct {
	ItemID         string `json:"item_id"`
	ExternalItemID string `json:"external_item_id"`
	Pages          int    `json:"pages"`
	Applied        int    `json:"applied"`
	Skipped        int    `json:"skipped"`
	Failed         int    `json:"failed"`
	FinalCursor    string `json:"final_cursor"`
	Completed      bool   `json:"completed"`
}

// SyncMetrics is a counter snapshot returned by GET /v1/metrics/sync.
type SyncMetrics struct {
	TotalRuns      int64   `json:"total_runs"`
	CompletedRuns  int64   `json:"completed_runs"`
	FailedRuns     int64   `json:"failed_runs"`
	RecordsApplied int64   `json:"records_applied"`
	RecordsSkipped int64   `json:"records_skipped"`
	RecordsFailed  int64   `json:"records_failed"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	Period         string  `json:"period"`
}

// ============================================================
// Provider webhook
// ============================================================

// Webhook event types the provider posts to /v1/webhooks/provider.
const (
	WebhookTransactionsUpdated = "transactions.updated"
	WebhookItemError           = "item.error"
)

// ProviderWebhook is the body the provider posts when an Item has new data.
type ProviderWebhook struct {
	EventType      string `json:"event_type"`
	ExternalItemID string `json:"external_item_id"`
}
