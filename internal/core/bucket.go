package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Buckets groups transactions as [year][month][day][tx], newest first.
type Buckets [][][][]Tx

// Granularity selects how deep GetScopeIndex resolves.
type Granularity string

const (
	GranularityYear  Granularity = "year"
	GranularityMonth Granularity = "month"
	GranularityDate  Granularity = "date"
)

// ScopeIndex is [year, month, day]; -1 marks an unresolved level.
type ScopeIndex [3]int

// NotFound is the scope index with no level resolved.
var NotFound = ScopeIndex{-1, -1, -1}

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case GranularityYear, GranularityMonth, GranularityDate:
		return g, nil
	case "day":
		return GranularityDate, nil
	default:
		return "", fmt.Errorf("invalid granularity %q: must be year, month or date", s)
	}
}

// OrganizeTxByTime sorts txs by authorization time, newest first, and nests
// them by the UTC year, month and day of that time. Only years, months and days that occur get a
// bucket. Empty input yields a single empty shell so callers can index
// [0][0][0] without checks. The input slice is not modified.
func OrganizeTxByTime(txs []Tx) Buckets {
	if len(txs) == 0 {
		return Buckets{{{{}}}}
	}
	sorted := make([]Tx, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AuthorizedAt.After(sorted[j].AuthorizedAt)
	})

	var out Buckets
	var prevY, prevD int
	var prevM time.Month
	for i, t := range sorted {
		y, m, d := bucketDate(t.AuthorizedAt)
		switch {
		case i == 0 || y != prevY:
			out = append(out, [][][]Tx{{{}}})
		case m != prevM:
			yi := len(out) - 1
			out[yi] = append(out[yi], [][]Tx{{}})
		case d != prevD:
			yi := len(out) - 1
			mi := len(out[yi]) - 1
			out[yi][mi] = append(out[yi][mi], []Tx{})
		}
		yi := len(out) - 1
		mi := len(out[yi]) - 1
		di := len(out[yi][mi]) - 1
		out[yi][mi][di] = append(out[yi][mi][di], t)
		prevY, prevM, prevD = y, m, d
	}
	return out
}

// Flatten returns every transaction in bucket order.
func (b Buckets) Flatten() []Tx {
	var out []Tx
	for _, y := range b {
		for _, m := range y {
			for _, d := range m {
				out = append(out, d...)
			}
		}
	}
	return out
}

// Len counts transactions across all buckets.
func (b Buckets) Len() int {
	n := 0
	for _, y := range b {
		for _, m := range y {
			for _, d := range m {
				n += len(d)
			}
		}
	}
	return n
}

// GetScopeIndex locates the bucket holding date. Levels finer than g are
// left at -1, and once a level fails to match the deeper levels are not
// searched. date is compared on its UTC calendar day, like the buckets.
func GetScopeIndex(b Buckets, date time.Time, g Granularity) ScopeIndex {
	idx := NotFound
	y, m, d := bucketDate(date)

	yi := indexOf(len(b), func(i int) (time.Time, bool) { return firstInYear(b[i]) }, func(t time.Time) bool {
		ty, _, _ := bucketDate(t)
		return ty == y
	})
	if yi < 0 {
		return idx
	}
	idx[0] = yi
	if g == GranularityYear {
		return idx
	}

	year := b[yi]
	mi := indexOf(len(year), func(i int) (time.Time, bool) { return firstInMonth(year[i]) }, func(t time.Time) bool {
		_, tm, _ := bucketDate(t)
		return tm == m
	})
	if mi < 0 {
		return idx
	}
	idx[1] = mi
	if g == GranularityMonth {
		return idx
	}

	month := year[mi]
	di := indexOf(len(month), func(i int) (time.Time, bool) { return firstInDay(month[i]) }, func(t time.Time) bool {
		_, _, td := bucketDate(t)
		return td == d
	})
	if di < 0 {
		return idx
	}
	idx[2] = di
	return idx
}

// bucketDate is the calendar day a time is filed under. Using one location
// keeps instant order and day order consistent across UTC offsets.
func bucketDate(t time.Time) (int, time.Month, int) {
	return t.UTC().Date()
}

func indexOf(n int, first func(int) (time.Time, bool), match func(time.Time) bool) int {
	for i := 0; i < n; i++ {
		if t, ok := first(i); ok && match(t) {
			return i
		}
	}
	return -1
}

func firstInYear(y [][][]Tx) (time.Time, bool) {
	for _, m := range y {
		if t, ok := firstInMonth(m); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstInMonth(m [][]Tx) (time.Time, bool) {
	for _, d := range m {
		if t, ok := firstInDay(d); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstInDay(d []Tx) (time.Time, bool) {
	if len(d) == 0 {
		return time.Time{}, false
	}
	return d[0].AuthorizedAt, true
}
