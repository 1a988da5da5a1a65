package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tally/internal/core"
)

// MemoryRepository keeps transactions in process memory. Used by the memory
// backend and by tests.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[string]core.Tx
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]core.Tx)}
}

func (r *MemoryRepository) SaveTx(_ context.Context, tx core.Tx) (core.Tx, error) {
	if err := tx.Validate(); err != nil {
		return core.Tx{}, err
	}
	saved := assignKeys(tx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if saved.ExternalID != "" {
		for id, existing := range r.items {
			if id != saved.ID() && existing.UserID == saved.UserID && existing.ExternalID == saved.ExternalID {
				return core.Tx{}, fmt.Errorf("external id %s already stored as %s", saved.ExternalID, id)
			}
		}
	}
	r.items[saved.ID()] = saved.Clone()
	return saved, nil
}

func (r *MemoryRepository) GetTx(_ context.Context, id string) (core.Tx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.items[id]
	if !ok {
		return core.Tx{}, ErrNotFound
	}
	return tx.Clone(), nil
}

func (r *MemoryRepository) GetByExternalID(_ context.Context, userID, externalID string) (core.Tx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.items {
		if tx.UserID == userID && tx.ExternalID == externalID && externalID != "" {
			return tx.Clone(), nil
		}
	}
	return core.Tx{}, ErrNotFound
}

func (r *MemoryRepository) ListTxByUser(_ context.Context, userID string) ([]core.Tx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Tx, 0)
	for _, tx := range r.items {
		if sharedWith(tx, userID) {
			out = append(out, tx.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AuthorizedAt.Equal(out[j].AuthorizedAt) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].AuthorizedAt.After(out[j].AuthorizedAt)
	})
	return out, nil
}

func (r *MemoryRepository) DeleteTx(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *MemoryRepository) DeleteByExternalID(_ context.Context, userID, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, tx := range r.items {
		if tx.UserID == userID && tx.ExternalID == externalID && externalID != "" {
			delete(r.items, id)
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRepository) Close() error {
	return nil
}
