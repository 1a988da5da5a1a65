package importer

import (
	"fmt"
	"strings"
	"time"

	"tally/internal/core"
)

// FeedTx is a transaction as reported by the account-aggregation API.
type FeedTx struct {
	TransactionID  string   `json:"transactionId"`
	AccountID      string   `json:"accountId"`
	Name           string   `json:"name"`
	Amount         float64  `json:"amount"`
	Category       []string `json:"category"`
	AuthorizedDate string   `json:"authorizedDate"`
	Datetime       *string  `json:"datetime,omitempty"`
}

// FromFeed converts a feed transaction into a draft owned by userID. The
// precise datetime wins over the authorized date when both are present.
func FromFeed(userID string, f FeedTx) (core.Tx, error) {
	if strings.TrimSpace(f.TransactionID) == "" {
		return core.Tx{}, fmt.Errorf("feed transaction without id")
	}
	at, err := f.authorizedAt()
	if err != nil {
		return core.Tx{}, fmt.Errorf("feed transaction %s: %w", f.TransactionID, err)
	}
	tx := core.NewSingleSplitTx(userID, f.Name, f.Amount, at, f.Category)
	tx.ExternalID = f.TransactionID
	if err := tx.Validate(); err != nil {
		return core.Tx{}, fmt.Errorf("feed transaction %s: %w", f.TransactionID, err)
	}
	return tx, nil
}

func (f FeedTx) authorizedAt() (time.Time, error) {
	if f.Datetime != nil && strings.TrimSpace(*f.Datetime) != "" {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(*f.Datetime))
		if err != nil {
			return time.Time{}, fmt.Errorf("could not parse datetime '%s': %w", *f.Datetime, err)
		}
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(f.AuthorizedDate))
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse authorized date '%s': %w", f.AuthorizedDate, err)
	}
	return t, nil
}
