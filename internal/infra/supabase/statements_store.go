package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// StatementStore implementation — append-only uploaded evidence
// ============================================================

// InsertStatementLines stores a batch of uploaded lines. Lines are immutable
// once created; there is no conflict target because ids are fresh uuids.
func (c *Client) InsertStatementLines(ctx context.Context, lines []domain.StatementLineItem) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InsertStatementLines")
	defer span.End()
	span.SetAttributes(attribute.Int("statement.lines", len(lines)))

	if len(lines) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, map[string]any{
			"id":           l.ID,
			"user_id":      l.UserID,
			"account_name": l.AccountName,
			"date":         l.Date,
			"amount":       l.Amount,
			"description":  l.Description,
		})
	}

	body, err := c.doPost(ctx, "statement_lines", rows, preferRepresentation)
	if err != nil {
		return 0, &domain.ErrPersistence{Op: "statement_lines.insert", Err: err}
	}

	n, err := rowCount(body)
	if err != nil {
		return 0, &domain.ErrPersistence{Op: "statement_lines.insert", Err: err}
	}
	return n, nil
}

// ListStatementLines returns all of a user's uploaded lines in date order.
func (c *Client) ListStatementLines(ctx context.Context, userID string) ([]domain.StatementLineItem, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListStatementLines")
	defer span.End()

	path := fmt.Sprintf("statement_lines?user_id=eq.%s&order=date.asc,uploaded_at.asc", url.QueryEscape(userID))
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, &domain.ErrPersistence{Op: "statement_lines.list", Err: err}
	}

	var rows []domain.StatementLineItem
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrPersistence{Op: "statement_lines.list", Err: fmt.Errorf("decode statement lines: %w", err)}
	}
	return rows, nil
}
