// Package importer converts external transaction sources (bank CSV exports
// and the account-aggregation feed) into draft transactions.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"tally/internal/core"
)

const chaseDateLayout = "01/02/2006"

var ErrMissingColumn = errors.New("missing required column")

// chaseColumns maps normalized header names to the field they fill. Checking
// exports use "Posting Date"; credit card exports use "Transaction Date" and
// "Post Date".
var chaseColumns = map[string]string{
	"description":     "description",
	"amount":          "amount",
	"postingdate":     "posted",
	"postdate":        "posted",
	"transactiondate": "authorized",
	"category":        "category",
}

// ParseChaseCSV reads a Chase account export. Every row becomes a draft
// transaction owned by userID with one split and one category carrying the
// full amount. Amounts keep the sign used in the export.
func ParseChaseCSV(r io.Reader, userID string) ([]core.Tx, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int)
	for i, h := range header {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), " ", ""))
		if field, ok := chaseColumns[key]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = i
			}
		}
	}
	for _, required := range []string{"description", "amount"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}
	_, hasPosted := cols["posted"]
	_, hasAuthorized := cols["authorized"]
	if !hasPosted && !hasAuthorized {
		return nil, fmt.Errorf("%w: posting date", ErrMissingColumn)
	}

	var txs []core.Tx
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("error reading line %d: %w", line, err)
		}
		if blank(record) {
			continue
		}

		row := chaseRow{
			Description: field(record, cols, "description"),
			Amount:      field(record, cols, "amount"),
			PostingDate: field(record, cols, "posted"),
			TxDate:      field(record, cols, "authorized"),
			Category:    field(record, cols, "category"),
		}
		tx, err := row.toTx(userID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

type chaseRow struct {
	Description string
	Amount      string
	PostingDate string
	TxDate      string
	Category    string
}

func (r chaseRow) toTx(userID string) (core.Tx, error) {
	amount, err := core.ParseAmount(r.Amount)
	if err != nil {
		return core.Tx{}, fmt.Errorf("could not parse amount '%s': %w", r.Amount, err)
	}

	var posted, authorized time.Time
	if r.PostingDate != "" {
		if posted, err = time.Parse(chaseDateLayout, r.PostingDate); err != nil {
			return core.Tx{}, fmt.Errorf("could not parse posting date '%s': %w", r.PostingDate, err)
		}
	}
	if r.TxDate != "" {
		if authorized, err = time.Parse(chaseDateLayout, r.TxDate); err != nil {
			return core.Tx{}, fmt.Errorf("could not parse transaction date '%s': %w", r.TxDate, err)
		}
	}
	if authorized.IsZero() {
		authorized = posted
	}
	if authorized.IsZero() {
		return core.Tx{}, errors.New("row has no date")
	}

	var path []string
	if c := strings.TrimSpace(r.Category); c != "" {
		path = []string{c}
	}
	tx := core.NewSingleSplitTx(userID, r.Description, amount, authorized, path)
	if !posted.IsZero() {
		tx.PostedAt = &posted
	}
	if err := tx.Validate(); err != nil {
		return core.Tx{}, err
	}
	return tx, nil
}

func field(record []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
