package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kopilka/internal/core"
)

// ExportRow is an entry with its references resolved to names, the shape the
// spreadsheet export wants.
type ExportRow struct {
	ID          int64
	Name        string
	PriceCents  int64
	Category    string
	Payer       string
	DisplayName string
	Month       int
	Year        int
	CreatedAt   time.Time
}

// ExportRow loads one entry with joined names for export.
func (r *Repository) ExportRow(ctx context.Context, id int64) (ExportRow, error) {
	var row ExportRow
	err := r.db.QueryRowContext(ctx,
		`SELECT e.id, e.name, e.price_cents, c.name, p.name, u.display_name,
		        pr.month, pr.year, e.created_at
		 FROM entries e
		 JOIN categories c ON c.id = e.category_id
		 JOIN payers p ON p.id = e.payer_id
		 JOIN users u ON u.id = e.user_id
		 JOIN periods pr ON pr.id = e.period_id
		 WHERE e.id = ?`, id).
		Scan(&row.ID, &row.Name, &row.PriceCents, &row.Category, &row.Payer,
			&row.DisplayName, &row.Month, &row.Year, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ExportRow{}, core.ErrNotFound
	}
	if err != nil {
		return ExportRow{}, fmt.Errorf("query export row: %w", err)
	}
	return row, nil
}

// PendingExportIDs returns entries still waiting for export, oldest first.
// The worker uses this at startup and on its periodic scan so entries whose
// queue message was lost still make it to the spreadsheet.
func (r *Repository) PendingExportIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM entries WHERE export_state = 'pending' ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending exports: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending export: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkExported flags an entry as synced to the spreadsheet.
func (r *Repository) MarkExported(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE entries SET export_state = 'synced' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	slog.InfoContext(ctx, "Entry marked as exported", "id", id)
	return nil
}

// MarkExportError flags an entry whose export failed; the periodic scan will
// not retry it until an operator resets the state.
func (r *Repository) MarkExportError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE entries SET export_state = 'error' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark export error: %w", err)
	}
	slog.WarnContext(ctx, "Entry marked with export error", "id", id)
	return nil
}
