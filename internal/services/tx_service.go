package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"tally/internal/core"
	"tally/internal/importer"
	"tally/internal/storage"
)

var (
	ErrUnknownParticipant = errors.New("split participant is not part of the transaction")
	ErrNoParticipants     = errors.New("no participants given")
	ErrEmptySplits        = errors.New("transaction needs at least one split")
	ErrInvalidImport      = errors.New("invalid import file")
)

// TxService orchestrates transaction reads, edits and imports over a
// Repository.
type TxService struct {
	repo storage.Repository
}

func NewTxService(repo storage.Repository) *TxService {
	return &TxService{repo: repo}
}

// SaveResult is a persisted transaction with the split mismatch, if any.
type SaveResult struct {
	Tx      core.Tx `json:"transaction"`
	Warning string  `json:"warning,omitempty"`
}

// Create stores a new transaction. Without splits the owner gets one split
// carrying the full amount as Uncategorized.
func (s *TxService) Create(ctx context.Context, tx core.Tx) (SaveResult, error) {
	tx.Key = core.DraftKey()
	tx.Amount = core.Round2(tx.Amount)
	tx.Name = strings.TrimSpace(tx.Name)
	if len(tx.Splits) == 0 {
		tx.Splits = core.NewSingleSplitTx(tx.UserID, tx.Name, tx.Amount, tx.AuthorizedAt, nil).Splits
	}
	tx.Splits = normalizeSplits(tx.Splits)
	if err := tx.Validate(); err != nil {
		return SaveResult{}, err
	}

	saved, err := s.repo.SaveTx(ctx, tx)
	if err != nil {
		return SaveResult{}, fmt.Errorf("save transaction: %w", err)
	}
	slog.InfoContext(ctx, "Transaction created", "tx_id", saved.ID(), "user_id", saved.UserID, "amount", saved.Amount)
	return SaveResult{Tx: saved, Warning: core.MismatchWarning(saved.Splits, saved.Amount)}, nil
}

func (s *TxService) Get(ctx context.Context, txID string) (core.Tx, error) {
	return s.repo.GetTx(ctx, txID)
}

// List returns every transaction userID owns or shares, newest first.
func (s *TxService) List(ctx context.Context, userID string) ([]core.Tx, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, core.ErrEmptyUser
	}
	return s.repo.ListTxByUser(ctx, userID)
}

// Organize buckets the user's transactions by year, month and day.
func (s *TxService) Organize(ctx context.Context, userID string) (core.Buckets, error) {
	txs, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	return core.OrganizeTxByTime(txs), nil
}

// Locate resolves date to bucket indices within the user's organized
// transactions.
func (s *TxService) Locate(ctx context.Context, userID string, date time.Time, g core.Granularity) (core.ScopeIndex, error) {
	b, err := s.Organize(ctx, userID)
	if err != nil {
		return core.NotFound, err
	}
	return core.GetScopeIndex(b, date, g), nil
}

// MergedCategories folds every participant's categories of one transaction.
func (s *TxService) MergedCategories(ctx context.Context, txID string) ([]core.MergedCat, error) {
	tx, err := s.repo.GetTx(ctx, txID)
	if err != nil {
		return nil, err
	}
	return core.MergeSplitCategories(tx.Splits), nil
}

// CategoryTree aggregates the user's shares of all their transactions.
func (s *TxService) CategoryTree(ctx context.Context, userID string) (*core.CategoryTree, error) {
	txs, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	return core.BuildCategoryTree(txs, userID), nil
}

// SaveSplits replaces the splits of a transaction. Every split must belong
// to a current participant. Category names and amounts are normalized
// server side; a total that does not match is reported, not rejected.
func (s *TxService) SaveSplits(ctx context.Context, txID string, splits []core.Split) (SaveResult, error) {
	tx, err := s.repo.GetTx(ctx, txID)
	if err != nil {
		return SaveResult{}, err
	}
	if len(splits) == 0 {
		return SaveResult{}, ErrEmptySplits
	}
	for _, sp := range splits {
		if tx.SplitFor(sp.UserID) < 0 {
			return SaveResult{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, sp.UserID)
		}
	}
	tx.Splits = normalizeSplits(splits)
	return s.save(ctx, tx)
}

// Share divides the transaction evenly between the owner and participants.
func (s *TxService) Share(ctx context.Context, txID string, participants []string) (SaveResult, error) {
	tx, err := s.repo.GetTx(ctx, txID)
	if err != nil {
		return SaveResult{}, err
	}
	users := []string{tx.UserID}
	for _, p := range participants {
		if p = strings.TrimSpace(p); p != "" {
			users = append(users, p)
		}
	}
	if len(users) == 1 {
		return SaveResult{}, ErrNoParticipants
	}
	tx.Splits = core.EvenSplit(tx, users)
	slog.InfoContext(ctx, "Transaction shared", "tx_id", txID, "participants", len(tx.Splits))
	return s.save(ctx, tx)
}

// Reset collapses the transaction back to one owner split carrying the full
// amount under its first merged category.
func (s *TxService) Reset(ctx context.Context, txID string) (SaveResult, error) {
	tx, err := s.repo.GetTx(ctx, txID)
	if err != nil {
		return SaveResult{}, err
	}

	var path []string
	if merged := core.MergeSplitCategories(tx.Splits); len(merged) > 0 {
		path = merged[0].NamePath
	}
	fresh := core.NewSingleSplitTx(tx.UserID, tx.Name, tx.Amount, tx.AuthorizedAt, path)
	if i := tx.SplitFor(tx.UserID); i >= 0 {
		fresh.Splits[0].Key = tx.Splits[i].Key
	}
	tx.Splits = fresh.Splits
	return s.save(ctx, tx)
}

func (s *TxService) Delete(ctx context.Context, txID string) error {
	if err := s.repo.DeleteTx(ctx, txID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Transaction deleted", "tx_id", txID)
	return nil
}

// ImportResult summarizes a CSV import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Total    float64  `json:"total"`
	IDs      []string `json:"ids"`
}

// ImportChase parses a Chase export and stores every row for userID.
func (s *TxService) ImportChase(ctx context.Context, userID string, r io.Reader) (ImportResult, error) {
	if strings.TrimSpace(userID) == "" {
		return ImportResult{}, core.ErrEmptyUser
	}
	txs, err := importer.ParseChaseCSV(r, userID)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: %w", ErrInvalidImport, err)
	}

	res := ImportResult{IDs: make([]string, 0, len(txs))}
	var cents int64
	for _, tx := range txs {
		saved, err := s.repo.SaveTx(ctx, tx)
		if err != nil {
			return res, fmt.Errorf("save imported transaction %q: %w", tx.Name, err)
		}
		res.Imported++
		res.IDs = append(res.IDs, saved.ID())
		cents += core.ToCents(saved.Amount)
	}
	res.Total = core.FromCents(cents)
	slog.InfoContext(ctx, "Chase CSV imported", "user_id", userID, "count", res.Imported, "total", res.Total)
	return res, nil
}

func (s *TxService) save(ctx context.Context, tx core.Tx) (SaveResult, error) {
	saved, err := s.repo.SaveTx(ctx, tx)
	if err != nil {
		return SaveResult{}, fmt.Errorf("save transaction %s: %w", tx.ID(), err)
	}
	warning := core.MismatchWarning(saved.Splits, saved.Amount)
	if warning != "" {
		slog.WarnContext(ctx, "Saved splits do not match amount", "tx_id", saved.ID(), "warning", warning)
	}
	return SaveResult{Tx: saved, Warning: warning}, nil
}

// normalizeSplits rebuilds categories from their paths so names and cents
// are consistent, keeping existing keys. A split without categories gets an
// empty Uncategorized one.
func normalizeSplits(in []core.Split) []core.Split {
	out := make([]core.Split, len(in))
	for i, sp := range in {
		cats := make([]core.Cat, 0, len(sp.Cats))
		for _, c := range sp.Cats {
			nc := core.NewCat(c.NamePath, c.Amount)
			if len(nc.NamePath) == 0 {
				nc = core.NewCat([]string{core.UncategorizedName}, c.Amount)
			}
			nc.Key = c.Key
			cats = append(cats, nc)
		}
		if len(cats) == 0 {
			cats = append(cats, core.NewCat([]string{core.UncategorizedName}, 0))
		}
		out[i] = core.Split{Key: sp.Key, UserID: strings.TrimSpace(sp.UserID), Cats: cats}
	}
	return out
}
