// Package worker moves committed entries from SQLite to the spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"kopilka/internal/amqp"
	"kopilka/internal/core"
	"kopilka/internal/export"
	"kopilka/internal/storage"
)

const exportTimeLayout = "02.01.2006 15:04"

// ExportStore is the slice of the repository the worker needs.
// *storage.Repository satisfies it.
type ExportStore interface {
	ExportRow(ctx context.Context, id int64) (storage.ExportRow, error)
	PendingExportIDs(ctx context.Context, limit int) ([]int64, error)
	MarkExported(ctx context.Context, id int64) error
	MarkExportError(ctx context.Context, id int64) error
}

// ExportWorker consumes export messages and runs the periodic pending scan.
type ExportWorker struct {
	store     ExportStore
	appender  export.RowAppender
	batchSize int
}

func NewExportWorker(store ExportStore, appender export.RowAppender, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ExportWorker{
		store:     store,
		appender:  appender,
		batchSize: batchSize,
	}
}

// HandleExportMessage exports a single entry referenced by a queue message.
// A missing entry (deleted before the worker got to it) is not an error.
// An append failure marks the entry and acks the message; requeueing would
// just loop on the same broken row.
func (w *ExportWorker) HandleExportMessage(ctx context.Context, msg *amqp.EntryExportMessage) error {
	slog.InfoContext(ctx, "Processing export message", "entry_id", msg.EntryID)

	if err := w.exportOne(ctx, msg.EntryID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			slog.WarnContext(ctx, "Entry gone before export, skipping", "entry_id", msg.EntryID)
			return nil
		}
		if markErr := w.store.MarkExportError(ctx, msg.EntryID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error",
				"entry_id", msg.EntryID, "error", markErr)
		}
		slog.ErrorContext(ctx, "Failed to export entry", "entry_id", msg.EntryID, "error", err)
		return nil
	}
	return nil
}

// ProcessPending exports up to one batch of entries still in pending state.
// It runs at startup and on a ticker so entries whose queue message was lost
// still reach the spreadsheet. Returns how many entries were exported.
func (w *ExportWorker) ProcessPending(ctx context.Context) (int, error) {
	ids, err := w.store.PendingExportIDs(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending exports: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Pending scan found entries to export", "count", len(ids))

	exported := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return exported, ctx.Err()
		}
		if err := w.exportOne(ctx, id); err != nil {
			if markErr := w.store.MarkExportError(ctx, id); markErr != nil {
				slog.ErrorContext(ctx, "Failed to mark export error", "entry_id", id, "error", markErr)
			}
			slog.ErrorContext(ctx, "Failed to export pending entry", "entry_id", id, "error", err)
			continue
		}
		exported++
	}
	return exported, nil
}

func (w *ExportWorker) exportOne(ctx context.Context, id int64) error {
	row, err := w.store.ExportRow(ctx, id)
	if err != nil {
		return fmt.Errorf("load entry %d: %w", id, err)
	}

	ref, err := w.appender.Append(ctx, export.Row{
		EntryID:     row.ID,
		Name:        row.Name,
		PriceCents:  row.PriceCents,
		Category:    row.Category,
		Payer:       row.Payer,
		DisplayName: row.DisplayName,
		Month:       row.Month,
		Year:        row.Year,
		CreatedAt:   row.CreatedAt.Format(exportTimeLayout),
	})
	if err != nil {
		return fmt.Errorf("append entry %d: %w", id, err)
	}

	if err := w.store.MarkExported(ctx, id); err != nil {
		return fmt.Errorf("mark entry %d exported: %w", id, err)
	}

	slog.InfoContext(ctx, "Entry exported", "entry_id", id, "ref", ref)
	return nil
}
