package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tally/internal/sheets"
)

// Store keeps exported rows per year in memory.
type Store struct {
	mu     sync.Mutex
	years  map[int][]sheets.Row
	writes int
}

var _ sheets.RowWriter = (*Store)(nil)

func New() *Store {
	return &Store{years: make(map[int][]sheets.Row)}
}

// ReplaceRows stores a copy of rows and returns a synthetic sheet reference.
func (s *Store) ReplaceRows(_ context.Context, year int, rows []sheets.Row) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.years[year] = append([]sheets.Row(nil), rows...)
	s.writes++
	return fmt.Sprintf("mem:%d:%d", year, len(rows)), nil
}

// Rows returns the rows last written for year.
func (s *Store) Rows(year int) []sheets.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.Row(nil), s.years[year]...)
}

// Years lists exported years, newest first.
func (s *Store) Years() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.years))
	for y := range s.years {
		out = append(out, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// Writes counts ReplaceRows calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
