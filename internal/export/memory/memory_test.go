package memory

import (
	"context"
	"errors"
	"testing"

	"kopilka/internal/export"
)

func TestAppendAndRows(t *testing.T) {
	s := New()

	row := export.Row{EntryID: 7, Name: "bread", PriceCents: 2500, Category: "food", Payer: "anton", Month: 8, Year: 2026}
	ref, err := s.Append(context.Background(), row)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ref != "mem:1" {
		t.Fatalf("ref = %q, want mem:1", ref)
	}

	rows := s.Rows()
	if len(rows) != 1 || rows[0].EntryID != 7 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestFailWith(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.FailWith(boom)

	if _, err := s.Append(context.Background(), export.Row{EntryID: 1}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	s.FailWith(nil)
	if _, err := s.Append(context.Background(), export.Row{EntryID: 2}); err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if len(s.Rows()) != 1 {
		t.Fatalf("rows = %d, want 1", len(s.Rows()))
	}
}
