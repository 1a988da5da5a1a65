// Package sheets turns time-bucketed transactions into spreadsheet rows and
// defines the port export adapters implement.
package sheets

import (
	"context"
	"time"
)

// Row is one exported line: a category portion of the user's share of a
// transaction.
type Row struct {
	Date     time.Time
	Name     string
	Category string
	Amount   float64
	Share    float64
	TxID     string
}

// Header is written above the rows of every exported sheet.
var Header = []string{"Date", "Name", "Category", "Amount", "Share", "Transaction"}

// Ports for outbound adapters.
type (
	// RowWriter replaces the exported rows of one year.
	RowWriter interface {
		ReplaceRows(ctx context.Context, year int, rows []Row) (ref string, err error)
	}
)
