// Package services orchestrates operations that span storage and messaging.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"kopilka/internal/core"
	"kopilka/internal/storage"
)

// ExportPublisher enqueues a committed entry for the spreadsheet worker.
// *amqp.Client satisfies it; tests plug in a fake.
type ExportPublisher interface {
	PublishEntryExport(ctx context.Context, entryID int64) error
}

// EntryService commits entries and feeds the export pipeline. The database
// write is the source of truth; a publish failure is logged and left to the
// worker's pending scan, never surfaced to the user.
type EntryService struct {
	repo      *storage.Repository
	publisher ExportPublisher
}

func NewEntryService(repo *storage.Repository, publisher ExportPublisher) *EntryService {
	return &EntryService{
		repo:      repo,
		publisher: publisher,
	}
}

// CommitEntry implements the engine's EntryCommitter port.
func (s *EntryService) CommitEntry(ctx context.Context, who core.Identity, d core.Draft) (core.Entry, error) {
	entry, err := s.repo.CommitEntry(ctx, who, d)
	if err != nil {
		return core.Entry{}, fmt.Errorf("save entry: %w", err)
	}

	if s.publisher == nil {
		slog.DebugContext(ctx, "Export publisher not configured, relying on pending scan",
			"entry_id", entry.ID)
		return entry, nil
	}

	if err := s.publisher.PublishEntryExport(ctx, entry.ID); err != nil {
		// The entry is saved; the worker's periodic scan will pick it up.
		slog.ErrorContext(ctx, "Failed to publish export message",
			"entry_id", entry.ID, "error", err)
	}

	return entry, nil
}
