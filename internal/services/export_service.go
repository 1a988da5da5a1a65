package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/sheets"
)

// ExportService writes a user's time-bucketed transactions to a
// spreadsheet, one sheet per year.
type ExportService struct {
	txs    *TxService
	writer sheets.RowWriter
}

func NewExportService(txs *TxService, writer sheets.RowWriter) *ExportService {
	return &ExportService{txs: txs, writer: writer}
}

// ExportResult lists the sheet references written.
type ExportResult struct {
	Years []int    `json:"years"`
	Rows  int      `json:"rows"`
	Refs  []string `json:"refs"`
}

func (s *ExportService) Export(ctx context.Context, userID string) (ExportResult, error) {
	b, err := s.txs.Organize(ctx, userID)
	if err != nil {
		return ExportResult{}, fmt.Errorf("organize transactions: %w", err)
	}

	var res ExportResult
	for _, yr := range sheets.BuildRows(b, userID) {
		ref, err := s.writer.ReplaceRows(ctx, yr.Year, yr.Rows)
		if err != nil {
			return res, fmt.Errorf("export year %d: %w", yr.Year, err)
		}
		res.Years = append(res.Years, yr.Year)
		res.Refs = append(res.Refs, ref)
		res.Rows += len(yr.Rows)
	}

	slog.InfoContext(ctx, "Transactions exported", "user_id", userID, "years", len(res.Years), "rows", res.Rows)
	return res, nil
}
