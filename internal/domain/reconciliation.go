package domain

// AmountTolerance is the currency tolerance under which two amounts are
// treated as equal when matching statement lines against the ledger.
const AmountTolerance = 0.01

// ============================================================
// Reconciliation (derived, never persisted)
// ============================================================

// Reconciliation statuses for a single statement line.
const (
	MatchStatusMatched   = "matched"
	MatchStatusPartial   = "partial"
	MatchStatusUnmatched = "unmatched"
)

// ReconciliationItem pairs one statement line with zero or one ledger
// transaction. IngestedAmount and Difference are null for unmatched lines.
type ReconciliationItem struct {
	ID              string   `json:"id"`
	StatementDate   string   `json:"statement_date"`
	StatementAmount float64  `json:"statement_amount"`
	IngestedAmount  *float64 `json:"ingested_amount"`
	Difference      *float64 `json:"difference"`
	Status          string   `json:"status"`
	Description     string   `json:"description"`
	AccountName     string   `json:"account_name"`
}

// ReconciliationSummary aggregates a report. The three counts always
// partition the statement lines, and TotalDifference accumulates absolute
// discrepancies, rounded to 2 decimals.
type ReconciliationSummary struct {
	TotalStatementItems  int     `json:"total_statement_items"`
	MatchedCount         int     `json:"matched_count"`
	UnmatchedCount       int     `json:"unmatched_count"`
	PartialCount         int     `json:"partial_count"`
	TotalDifference      float64 `json:"total_difference"`
	StatementPeriodStart *string `json:"statement_period_start"`
	StatementPeriodEnd   *string `json:"statement_period_end"`
}

// ReconciliationReport is the on-demand output of the matcher: one item per
// statement line, in statement order, plus the summary.
type ReconciliationReport struct {
	Items   []ReconciliationItem  `json:"items"`
	Summary ReconciliationSummary `json:"summary"`
}
