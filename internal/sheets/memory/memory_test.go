package memory

import (
	"context"
	"testing"
	"time"

	"tally/internal/sheets"
)

func TestMemoryStoreReplaceRows(t *testing.T) {
	s := New()
	rows := []sheets.Row{{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Name: "a", Share: 1}}

	ref, err := s.ReplaceRows(context.Background(), 2024, rows)
	if err != nil || ref != "mem:2024:1" {
		t.Fatalf("unexpected replace: ref=%q err=%v", ref, err)
	}
	rows[0].Name = "mutated"
	if got := s.Rows(2024); len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("stored rows should be a copy: %v", got)
	}

	if _, err := s.ReplaceRows(context.Background(), 2023, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReplaceRows(context.Background(), 2024, nil); err != nil {
		t.Fatal(err)
	}
	if got := s.Rows(2024); len(got) != 0 {
		t.Fatalf("expected rows replaced, got %v", got)
	}
	if years := s.Years(); len(years) != 2 || years[0] != 2024 || years[1] != 2023 {
		t.Fatalf("unexpected years: %v", years)
	}
	if s.Writes() != 3 {
		t.Fatalf("expected 3 writes, got %d", s.Writes())
	}
}
