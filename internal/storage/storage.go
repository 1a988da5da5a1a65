package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"tally/internal/core"
)

var ErrNotFound = errors.New("transaction not found")

// Repository persists transactions together with their splits and categories.
type Repository interface {
	// SaveTx writes the transaction, its splits and categories in one atomic
	// step. Draft keys are replaced by new ids; existing splits and
	// categories of the transaction are replaced wholesale.
	SaveTx(ctx context.Context, tx core.Tx) (core.Tx, error)
	GetTx(ctx context.Context, id string) (core.Tx, error)
	GetByExternalID(ctx context.Context, userID, externalID string) (core.Tx, error)
	// ListTxByUser returns transactions owned by userID or shared with
	// userID through a split, newest first.
	ListTxByUser(ctx context.Context, userID string) ([]core.Tx, error)
	DeleteTx(ctx context.Context, id string) error
	DeleteByExternalID(ctx context.Context, userID, externalID string) error
	Close() error
}

// assignKeys gives every draft entity of tx a fresh id.
func assignKeys(tx core.Tx) core.Tx {
	out := tx.Clone()
	if !out.Key.IsPersisted() {
		out.Key = core.PersistedKey(uuid.NewString())
	}
	for i := range out.Splits {
		s := &out.Splits[i]
		if !s.Key.IsPersisted() {
			s.Key = core.PersistedKey(uuid.NewString())
		}
		for j := range s.Cats {
			if !s.Cats[j].Key.IsPersisted() {
				s.Cats[j].Key = core.PersistedKey(uuid.NewString())
			}
		}
	}
	return out
}

func sharedWith(tx core.Tx, userID string) bool {
	return tx.UserID == userID || tx.SplitFor(userID) >= 0
}
