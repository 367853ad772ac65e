package service

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/observability"
	"github.com/boddenberg/pj-ledger-sync-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var stmtTracer = otel.Tracer("service/statements")

// maxStatementLines caps one upload. Statements are monthly exports, not
// bulk history loads.
const maxStatementLines = 10000

// StatementsService ingests statement lines, from JSON bodies or CSV
// exports. Lines are validated, assigned ids and stored append-only.
type StatementsService struct {
	statements  port.StatementStore
	reportCache port.Cache[*domain.ReconciliationReport]
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewStatementsService creates a statements service.
func NewStatementsService(
	statements port.StatementStore,
	reportCache port.Cache[*domain.ReconciliationReport],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *StatementsService {
	return &StatementsService{
		statements:  statements,
		reportCache: reportCache,
		metrics:     metrics,
		logger:      logger,
	}
}

// Upload stores the request's statement lines for the user. Any invalid
// line rejects the whole upload.
func (s *StatementsService) Upload(ctx context.Context, userID string, req *domain.StatementUploadRequest) (*domain.StatementUploadResponse, error) {
	ctx, span := stmtTracer.Start(ctx, "StatementsService.Upload")
	defer span.End()
	span.SetAttributes(attribute.Int("lines", len(req.Lines)))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("statements_upload", time.Since(start)) }()

	if len(req.Lines) == 0 {
		return nil, &domain.ErrValidation{Field: "lines", Message: "at least one line required"}
	}
	if len(req.Lines) > maxStatementLines {
		return nil, &domain.ErrValidation{Field: "lines", Message: fmt.Sprintf("too many lines, max %d", maxStatementLines)}
	}

	for i, in := range req.Lines {
		if _, err := time.Parse(domain.DateLayout, in.Date); err != nil {
			return nil, &domain.ErrValidation{
				Field:   fmt.Sprintf("lines[%d].date", i),
				Message: fmt.Sprintf("bad date %q, want YYYY-MM-DD", in.Date),
			}
		}
	}

	return s.store(ctx, userID, req.Lines)
}

// ImportCSV parses a statement export and stores its lines. The header row
// maps columns by name: date and amount are required, description and
// account optional. Any malformed row rejects the whole import.
func (s *StatementsService) ImportCSV(ctx context.Context, userID string, r io.Reader) (*domain.StatementUploadResponse, error) {
	ctx, span := stmtTracer.Start(ctx, "StatementsService.ImportCSV")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("statements_import", time.Since(start)) }()

	lines, err := parseStatementCSV(r)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, &domain.ErrValidation{Field: "body", Message: "no data rows in CSV"}
	}
	if len(lines) > maxStatementLines {
		return nil, &domain.ErrValidation{Field: "body", Message: fmt.Sprintf("too many rows, max %d", maxStatementLines)}
	}

	return s.store(ctx, userID, lines)
}

func (s *StatementsService) store(ctx context.Context, userID string, inputs []domain.StatementLineInput) (*domain.StatementUploadResponse, error) {
	now := time.Now().UTC()
	lines := make([]domain.StatementLineItem, 0, len(inputs))
	for _, in := range inputs {
		lines = append(lines, domain.StatementLineItem{
			ID:          uuid.New().String(),
			UserID:      userID,
			AccountName: in.AccountName,
			Date:        in.Date,
			Amount:      in.Amount,
			Description: in.Description,
			UploadedAt:  now,
		})
	}

	created, err := s.statements.InsertStatementLines(ctx, lines)
	if err != nil {
		s.logger.Error("failed to store statement lines",
			zap.String("user_id", userID),
			zap.Int("lines", len(lines)),
			zap.Error(err),
		)
		return nil, err
	}
	s.reportCache.Delete(reportCacheKey(userID))

	s.logger.Info("statement lines stored",
		zap.String("user_id", userID),
		zap.Int("created", created),
	)
	return &domain.StatementUploadResponse{Created: created}, nil
}

// parseStatementCSV reads a header-mapped CSV into statement line inputs.
func parseStatementCSV(r io.Reader) ([]domain.StatementLineInput, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, &domain.ErrValidation{Field: "body", Message: "cannot read CSV header"}
	}

	columns := make(map[string]int, len(headers))
	for i, h := range headers {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"date", "amount"} {
		if _, ok := columns[required]; !ok {
			return nil, &domain.ErrValidation{Field: "body", Message: fmt.Sprintf("required column %q not found in CSV header", required)}
		}
	}

	var lines []domain.StatementLineInput
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("row %d", row), Message: err.Error()}
		}

		date := field(record, columns, "date")
		if _, err := time.Parse(domain.DateLayout, date); err != nil {
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("row %d", row), Message: fmt.Sprintf("bad date %q, want YYYY-MM-DD", date)}
		}

		amountStr := field(record, columns, "amount")
		amount, err := strconv.ParseFloat(amountStr, 64)
		if err != nil {
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("row %d", row), Message: fmt.Sprintf("bad amount %q", amountStr)}
		}

		lines = append(lines, domain.StatementLineInput{
			Date:        date,
			Amount:      amount,
			Description: field(record, columns, "description"),
			AccountName: field(record, columns, "account"),
		})
	}
	return lines, nil
}

func field(record []string, columns map[string]int, name string) string {
	i, ok := columns[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
