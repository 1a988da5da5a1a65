package services

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is how often a recurring transaction repeats.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := duenessStrategies[f]; !ok {
		return "", fmt.Errorf("unknown frequency: %q", s)
	}
	return f, nil
}

// DuenessChecker decides whether the next occurrence of a recurring
// transaction is due, given its latest occurrence and the first one.
type DuenessChecker interface {
	IsDue(last, now, first time.Time) bool
}

// DailyChecker is due once per calendar day.
type DailyChecker struct{}

func (DailyChecker) IsDue(last, now, _ time.Time) bool {
	if last.IsZero() {
		return true
	}
	ly, lm, ld := last.Date()
	ny, nm, nd := now.Date()
	return ly != ny || lm != nm || ld != nd
}

// WeeklyChecker is due 7 days after the latest occurrence.
type WeeklyChecker struct{}

func (WeeklyChecker) IsDue(last, now, _ time.Time) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= 7*24*time.Hour
}

// MonthlyChecker is due in a new month once the first occurrence's day of
// month is reached, clamped to the month's last day.
type MonthlyChecker struct{}

func (MonthlyChecker) IsDue(last, now, first time.Time) bool {
	if last.IsZero() {
		return true
	}
	if last.Year() == now.Year() && last.Month() == now.Month() {
		return false
	}
	return now.Day() >= clampDay(now.Year(), now.Month(), first.Day())
}

// YearlyChecker is due in a new year once the first occurrence's month and
// day are reached.
type YearlyChecker struct{}

func (YearlyChecker) IsDue(last, now, first time.Time) bool {
	if last.IsZero() {
		return true
	}
	if last.Year() == now.Year() {
		return false
	}
	switch {
	case now.Month() < first.Month():
		return false
	case now.Month() == first.Month():
		return now.Day() >= clampDay(now.Year(), now.Month(), first.Day())
	default:
		return true
	}
}

func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

var duenessStrategies = map[Frequency]DuenessChecker{
	Daily:   DailyChecker{},
	Weekly:  WeeklyChecker{},
	Monthly: MonthlyChecker{},
	Yearly:  YearlyChecker{},
}

// GetDuenessChecker returns the checker for a frequency.
func GetDuenessChecker(f Frequency) (DuenessChecker, error) {
	checker, ok := duenessStrategies[f]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", f)
	}
	return checker, nil
}
