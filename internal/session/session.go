// Package session holds per-user interactive state: the screen being
// viewed, the cached time-bucketed transaction list and in-progress split
// edits with their locked shares. Nothing here is persisted.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
)

type Screen string

const (
	ScreenTransactions Screen = "transactions"
	ScreenCategories   Screen = "categories"
	ScreenSplitEdit    Screen = "split-edit"
	ScreenImport       Screen = "import"
	ScreenSettings     Screen = "settings"
)

var ErrUnknownScreen = errors.New("unknown screen")

// ParseScreen validates a screen name.
func ParseScreen(s string) (Screen, error) {
	switch sc := Screen(s); sc {
	case ScreenTransactions, ScreenCategories, ScreenSplitEdit, ScreenImport, ScreenSettings:
		return sc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScreen, s)
}

// EditSession is a copy of one transaction's splits being edited, with the
// participants whose shares were set by hand.
type EditSession struct {
	TxID    string       `json:"txId"`
	Total   float64      `json:"total"`
	Splits  []core.Split `json:"splits"`
	Locked  core.LockSet `json:"locked"`
	Warning string       `json:"warning,omitempty"`
	Started time.Time    `json:"started"`
}

func (e *EditSession) clone() EditSession {
	out := *e
	out.Splits = make([]core.Split, len(e.Splits))
	for i, s := range e.Splits {
		out.Splits[i] = s.Clone()
	}
	out.Locked = e.Locked.Clone()
	return out
}

// State is one user's session. Create with New; Reset returns it to the
// freshly created condition. Safe for concurrent use.
type State struct {
	Token     string
	UserID    string
	CreatedAt time.Time

	mu        sync.Mutex
	screen    Screen
	organized core.Buckets
	edits     map[string]*EditSession
}

func New(userID string) *State {
	return &State{
		Token:     uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now(),
		screen:    ScreenTransactions,
		edits:     make(map[string]*EditSession),
	}
}

// Reset drops the cached list and every edit in progress.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen = ScreenTransactions
	s.organized = nil
	s.edits = make(map[string]*EditSession)
}

func (s *State) Screen() Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

func (s *State) SetScreen(sc Screen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen = sc
}

// Organized returns the cached buckets, calling load on a miss.
func (s *State) Organized(load func() (core.Buckets, error)) (core.Buckets, error) {
	s.mu.Lock()
	cached := s.organized
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	b, err := load()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.organized = b
	s.mu.Unlock()
	return b, nil
}

// InvalidateOrganized forgets the cached buckets after a write.
func (s *State) InvalidateOrganized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organized = nil
}

// edit returns the session for tx, starting a new one when none exists or
// the transaction amount changed underneath it. Caller holds s.mu.
func (s *State) edit(tx core.Tx) *EditSession {
	e, ok := s.edits[tx.ID()]
	if ok && core.ToCents(e.Total) == core.ToCents(tx.Amount) {
		return e
	}
	if ok {
		slog.Debug("Restarting edit session, amount changed",
			"component", "session", "tx_id", tx.ID(), "old", e.Total, "new", tx.Amount)
	}
	c := tx.Clone()
	e = &EditSession{
		TxID:    tx.ID(),
		Total:   tx.Amount,
		Splits:  c.Splits,
		Locked:  core.NewLockSet(),
		Started: time.Now(),
	}
	s.edits[tx.ID()] = e
	return e
}

// Rebalance sets userID's share of tx to amount within the edit session.
func (s *State) Rebalance(tx core.Tx, userID string, amount float64) EditSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.edit(tx)
	e.apply(core.Rebalance(e.Splits, e.Total, userID, amount, e.Locked))
	return e.clone()
}

// RebalanceByPercent sets userID's share of tx to pct percent of the total.
func (s *State) RebalanceByPercent(tx core.Tx, userID string, pct float64) EditSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.edit(tx)
	e.apply(core.RebalanceByPercent(e.Splits, e.Total, userID, pct, e.Locked))
	return e.clone()
}

func (e *EditSession) apply(r core.RebalanceResult) {
	e.Splits = r.Splits
	e.Locked = r.Locked
	e.Warning = r.Warning
}

// Draft returns a copy of the edit session for txID.
func (s *State) Draft(txID string) (EditSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edits[txID]
	if !ok {
		return EditSession{}, false
	}
	return e.clone(), true
}

// EndEdit discards the edit session for txID.
func (s *State) EndEdit(txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edits, txID)
}

// Edits reports how many edit sessions are open.
func (s *State) Edits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edits)
}
