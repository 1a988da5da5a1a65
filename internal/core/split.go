package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
)

// LockSet holds the participants whose share was edited in the current
// editing session. Locked shares are never overwritten by rebalancing.
type LockSet map[string]struct{}

// NewLockSet returns a set containing userIDs.
func NewLockSet(userIDs ...string) LockSet {
	ls := make(LockSet, len(userIDs))
	for _, id := range userIDs {
		ls[id] = struct{}{}
	}
	return ls
}

func (ls LockSet) Has(userID string) bool {
	_, ok := ls[userID]
	return ok
}

func (ls LockSet) Add(userID string) {
	ls[userID] = struct{}{}
}

func (ls LockSet) Len() int {
	return len(ls)
}

// Clone always returns a non-nil set.
func (ls LockSet) Clone() LockSet {
	out := make(LockSet, len(ls))
	for k := range ls {
		out[k] = struct{}{}
	}
	return out
}

// Slice returns the locked ids sorted.
func (ls LockSet) Slice() []string {
	out := make([]string, 0, len(ls))
	for k := range ls {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (ls LockSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ls.Slice())
}

func (ls *LockSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*ls = NewLockSet(ids...)
	return nil
}

// RebalanceResult is the outcome of an edit. Warning is non-empty when the
// splits no longer add up to the transaction amount.
type RebalanceResult struct {
	Splits  []Split `json:"splits"`
	Locked  LockSet `json:"locked"`
	Warning string  `json:"warning,omitempty"`
}

// SplitAmount sums a split's category amounts.
func SplitAmount(s Split) float64 {
	var cents int64
	for _, c := range s.Cats {
		cents += ToCents(c.Amount)
	}
	return FromCents(cents)
}

// SharePercent returns the split's share of total as a percentage.
func SharePercent(s Split, total float64) float64 {
	if ToCents(total) == 0 {
		return 0
	}
	return SplitAmount(s) / total * 100
}

// WithAmount returns a copy of s whose categories add up to amount. Category
// amounts are scaled proportionally and the last category absorbs rounding.
func (s Split) WithAmount(amount float64) Split {
	out := s.Clone()
	target := ToCents(amount)
	switch len(out.Cats) {
	case 0:
		out.Cats = []Cat{NewCat([]string{UncategorizedName}, FromCents(target))}
		return out
	case 1:
		out.Cats[0].Amount = FromCents(target)
		return out
	}

	var current int64
	for _, c := range out.Cats {
		current += ToCents(c.Amount)
	}
	if current == 0 {
		for i := range out.Cats {
			out.Cats[i].Amount = 0
		}
		out.Cats[0].Amount = FromCents(target)
		return out
	}

	var assigned int64
	last := len(out.Cats) - 1
	for i := range out.Cats {
		var c int64
		if i == last {
			c = target - assigned
		} else {
			c = int64(math.Round(float64(ToCents(out.Cats[i].Amount)) * float64(target) / float64(current)))
		}
		out.Cats[i].Amount = FromCents(c)
		assigned += c
	}
	return out
}

// Rebalance sets userID's share to amount and spreads the remainder of total
// evenly over the shares that are not locked. The edited share becomes
// locked. The last unlocked share takes whatever is left after equal
// division so the split total matches total to the cent.
//
// When no unlocked share is left the splits are returned as edited and the
// mismatch is reported in Warning.
func Rebalance(splits []Split, total float64, userID string, amount float64, locked LockSet) RebalanceResult {
	out := cloneSplits(splits)
	lk := locked.Clone()

	edited := -1
	for i, s := range out {
		if s.UserID == userID {
			edited = i
			break
		}
	}
	if edited < 0 {
		slog.Warn("Rebalance for unknown participant", "component", "core", "user_id", userID, "splits", len(splits))
		return RebalanceResult{Splits: out, Locked: lk, Warning: MismatchWarning(out, total)}
	}

	lo, hi := 0.0, total
	if hi < lo {
		lo, hi = hi, lo
	}
	amount = Round2(math.Min(math.Max(amount, lo), hi))
	out[edited] = out[edited].WithAmount(amount)
	lk.Add(userID)

	var lockedCents int64
	var unlocked []int
	for i, s := range out {
		if lk.Has(s.UserID) {
			lockedCents += ToCents(SplitAmount(s))
		} else {
			unlocked = append(unlocked, i)
		}
	}
	if len(unlocked) == 0 {
		return RebalanceResult{Splits: out, Locked: lk, Warning: MismatchWarning(out, total)}
	}

	rem := ToCents(total) - lockedCents
	n := int64(len(unlocked))
	base := rem / n
	for k, i := range unlocked {
		c := base
		if k == len(unlocked)-1 {
			c = rem - base*(n-1)
		}
		out[i] = out[i].WithAmount(FromCents(c))
	}
	return RebalanceResult{Splits: out, Locked: lk, Warning: MismatchWarning(out, total)}
}

// RebalanceByPercent converts pct of total to an amount and rebalances. If
// rounding to the cent leaves the amount unchanged while the percentage did
// change, the amount moves one cent in the direction of the change.
func RebalanceByPercent(splits []Split, total float64, userID string, pct float64, locked LockSet) RebalanceResult {
	amount := Round2(pct / 100 * total)
	for _, s := range splits {
		if s.UserID != userID {
			continue
		}
		current := SplitAmount(s)
		currentPct := SharePercent(s, total)
		if ToCents(amount) == ToCents(current) && pct != currentPct && ToCents(total) != 0 {
			dir := 1.0
			if pct < currentPct {
				dir = -1
			}
			if total < 0 {
				dir = -dir
			}
			amount = Round2(current + dir*0.01)
		}
		break
	}
	return Rebalance(splits, total, userID, amount, locked)
}

// MismatchWarning describes how far the splits are from total, or returns "".
func MismatchWarning(splits []Split, total float64) string {
	var cents int64
	for _, s := range splits {
		cents += ToCents(SplitAmount(s))
	}
	diff := cents - ToCents(total)
	if diff == 0 {
		return ""
	}
	if diff < 0 {
		diff = -diff
	}
	return fmt.Sprintf("split total differs from transaction amount by %s", FormatAmount(FromCents(diff)))
}

// EvenSplit shares tx between participants. Every merged category is
// divided evenly and the last participant absorbs the remainder. Existing
// split keys are kept for participants that already had a split.
func EvenSplit(tx Tx, participants []string) []Split {
	var users []string
	seen := map[string]struct{}{}
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		users = append(users, p)
	}
	if len(users) == 0 {
		slog.Warn("EvenSplit without participants", "component", "core", "tx_id", tx.Key.String())
		return cloneSplits(tx.Splits)
	}

	merged := MergeSplitCategories(tx.Splits)
	var mergedCents int64
	for _, mc := range merged {
		mergedCents += ToCents(mc.Amount)
	}
	if diff := ToCents(tx.Amount) - mergedCents; diff != 0 || len(merged) == 0 {
		merged = append(merged, MergedCat{
			Name:     UncategorizedName,
			NamePath: []string{UncategorizedName},
			Amount:   FromCents(diff),
		})
	}

	n := int64(len(users))
	out := make([]Split, len(users))
	for i, u := range users {
		key := DraftKey()
		if j := tx.SplitFor(u); j >= 0 {
			key = tx.Splits[j].Key
		}
		out[i] = Split{Key: key, UserID: u, Cats: make([]Cat, 0, len(merged))}
	}
	for _, mc := range merged {
		c := ToCents(mc.Amount)
		base := c / n
		for i := range out {
			share := base
			if i == len(out)-1 {
				share = c - base*(n-1)
			}
			out[i].Cats = append(out[i].Cats, NewCat(mc.NamePath, FromCents(share)))
		}
	}
	return out
}
