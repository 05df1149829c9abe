package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"kopilka/internal/amqp"
	"kopilka/internal/core"
	"kopilka/internal/export/memory"
	"kopilka/internal/storage"
)

type fakeStore struct {
	rows   map[int64]storage.ExportRow
	states map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:   make(map[int64]storage.ExportRow),
		states: make(map[int64]string),
	}
}

func (f *fakeStore) add(id int64, name string) {
	f.rows[id] = storage.ExportRow{
		ID: id, Name: name, PriceCents: 2500, Category: "food", Payer: "anton",
		DisplayName: "Alice", Month: 8, Year: 2026,
		CreatedAt: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
	f.states[id] = "pending"
}

func (f *fakeStore) ExportRow(_ context.Context, id int64) (storage.ExportRow, error) {
	row, ok := f.rows[id]
	if !ok {
		return storage.ExportRow{}, core.ErrNotFound
	}
	return row, nil
}

func (f *fakeStore) PendingExportIDs(_ context.Context, limit int) ([]int64, error) {
	var ids []int64
	for id, state := range f.states {
		if state == "pending" {
			ids = append(ids, id)
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeStore) MarkExported(_ context.Context, id int64) error {
	f.states[id] = "synced"
	return nil
}

func (f *fakeStore) MarkExportError(_ context.Context, id int64) error {
	f.states[id] = "error"
	return nil
}

func TestHandleExportMessage(t *testing.T) {
	store := newFakeStore()
	store.add(1, "bread")
	sink := memory.New()
	w := NewExportWorker(store, sink, 10)

	msg := amqp.NewEntryExportMessage(1)
	if err := w.HandleExportMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleExportMessage: %v", err)
	}

	rows := sink.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Name != "bread" || rows[0].CreatedAt != "28.08.2026 12:00" {
		t.Fatalf("row = %+v", rows[0])
	}
	if store.states[1] != "synced" {
		t.Fatalf("state = %q, want synced", store.states[1])
	}
}

func TestHandleExportMessageMissingEntry(t *testing.T) {
	store := newFakeStore()
	w := NewExportWorker(store, memory.New(), 10)

	// Entry deleted before the worker got to it: ack without marking anything.
	if err := w.HandleExportMessage(context.Background(), amqp.NewEntryExportMessage(99)); err != nil {
		t.Fatalf("HandleExportMessage: %v", err)
	}
	if _, ok := store.states[99]; ok {
		t.Fatalf("state recorded for missing entry")
	}
}

func TestHandleExportMessageAppendFailure(t *testing.T) {
	store := newFakeStore()
	store.add(1, "bread")
	sink := memory.New()
	sink.FailWith(errors.New("quota exceeded"))
	w := NewExportWorker(store, sink, 10)

	if err := w.HandleExportMessage(context.Background(), amqp.NewEntryExportMessage(1)); err != nil {
		t.Fatalf("HandleExportMessage: %v", err)
	}
	if store.states[1] != "error" {
		t.Fatalf("state = %q, want error", store.states[1])
	}
}

func TestProcessPending(t *testing.T) {
	store := newFakeStore()
	store.add(1, "bread")
	store.add(2, "milk")
	store.states[3] = "error" // not retried by the scan

	sink := memory.New()
	w := NewExportWorker(store, sink, 10)

	n, err := w.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if n != 2 {
		t.Fatalf("exported = %d, want 2", n)
	}
	if store.states[1] != "synced" || store.states[2] != "synced" {
		t.Fatalf("states = %v", store.states)
	}
	if store.states[3] != "error" {
		t.Fatalf("error state was retried")
	}
}

func TestProcessPendingContinuesAfterFailure(t *testing.T) {
	store := newFakeStore()
	store.add(1, "bread")
	delete(store.rows, 1) // pending state with no row behind it
	store.add(2, "milk")

	sink := memory.New()
	w := NewExportWorker(store, sink, 10)

	n, err := w.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("exported = %d, want 1", n)
	}
	if store.states[1] != "error" {
		t.Fatalf("state[1] = %q, want error", store.states[1])
	}
	if store.states[2] != "synced" {
		t.Fatalf("state[2] = %q, want synced", store.states[2])
	}
}
