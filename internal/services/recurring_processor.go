package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

// RecurringProcessor posts the next occurrence of recurring transactions.
// Transactions flagged recurring with the same owner and name form a
// series; when the series is due a copy of its latest occurrence, splits
// included, is stored dated today.
type RecurringProcessor struct {
	repo      storage.Repository
	frequency Frequency
	checker   DuenessChecker
}

func NewRecurringProcessor(repo storage.Repository, frequency Frequency) (*RecurringProcessor, error) {
	checker, err := GetDuenessChecker(frequency)
	if err != nil {
		return nil, err
	}
	return &RecurringProcessor{repo: repo, frequency: frequency, checker: checker}, nil
}

type series struct {
	first  time.Time
	latest core.Tx
}

// ProcessDue creates every due occurrence for userID and returns them.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, userID string, now time.Time) ([]core.Tx, error) {
	if p.repo == nil {
		return nil, fmt.Errorf("processor not properly initialized")
	}
	txs, err := p.repo.ListTxByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	byName := make(map[string]*series)
	for _, tx := range txs {
		if !tx.Recurring || tx.UserID != userID {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(tx.Name))
		s, ok := byName[key]
		if !ok {
			byName[key] = &series{first: tx.AuthorizedAt, latest: tx}
			continue
		}
		if tx.AuthorizedAt.Before(s.first) {
			s.first = tx.AuthorizedAt
		}
		if tx.AuthorizedAt.After(s.latest.AuthorizedAt) {
			s.latest = tx
		}
	}

	keys := make([]string, 0, len(byName))
	for k := range byName {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var created []core.Tx
	for _, k := range keys {
		s := byName[k]
		if !s.latest.AuthorizedAt.Before(now) || !p.checker.IsDue(s.latest.AuthorizedAt, now, s.first) {
			continue
		}
		next := nextOccurrence(s.latest, now)
		saved, err := p.repo.SaveTx(ctx, next)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to create recurring occurrence",
				"user_id", userID,
				"name", s.latest.Name,
				"error", err)
			continue
		}
		created = append(created, saved)
		slog.InfoContext(ctx, "Created recurring occurrence",
			"tx_id", saved.ID(),
			"name", saved.Name,
			"amount", saved.Amount,
			"frequency", p.frequency)
	}

	slog.InfoContext(ctx, "Recurring processing complete",
		"user_id", userID,
		"series", len(byName),
		"created", len(created))
	return created, nil
}

// nextOccurrence copies tx as a draft dated at the start of now's day.
func nextOccurrence(tx core.Tx, now time.Time) core.Tx {
	out := tx.Clone()
	out.Key = core.DraftKey()
	out.ExternalID = ""
	out.PostedAt = nil
	y, m, d := now.Date()
	out.AuthorizedAt = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	for i := range out.Splits {
		out.Splits[i].Key = core.DraftKey()
		for j := range out.Splits[i].Cats {
			out.Splits[i].Cats[j].Key = core.DraftKey()
		}
	}
	return out
}
