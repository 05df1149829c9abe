// Package storage persists the ledger and capture sessions in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"kopilka/internal/core"

	sqlite3 "modernc.org/sqlite"
)

// Repository is the SQLite-backed ledger store. It implements the engine's
// ledger ports and the export queries the worker needs.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Sessions returns the capture-session store backed by the same database.
func (r *Repository) Sessions() *SessionStore {
	return &SessionStore{db: r.db}
}

// Categories returns all categories in seed order.
func (r *Repository) Categories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, budget_cents FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		var budget sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Name, &budget); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		if budget.Valid {
			c.BudgetCents = &budget.Int64
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Payers returns all payers in seed order.
func (r *Repository) Payers(ctx context.Context) ([]core.Payer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM payers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query payers: %w", err)
	}
	defer rows.Close()

	var out []core.Payer
	for rows.Next() {
		var p core.Payer
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan payer: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CurrentPeriod returns the most recently created period. All reporting and
// entry commits scope to this one; no other query decides activeness.
func (r *Repository) CurrentPeriod(ctx context.Context) (core.Period, error) {
	var p core.Period
	err := r.db.QueryRowContext(ctx,
		`SELECT id, month, year, opening_cents, created_at
		 FROM periods ORDER BY id DESC LIMIT 1`).
		Scan(&p.ID, &p.Month, &p.Year, &p.OpeningCents, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Period{}, core.ErrNotFound
	}
	if err != nil {
		return core.Period{}, fmt.Errorf("query current period: %w", err)
	}
	return p, nil
}

// CreatePeriod inserts a new period. The UNIQUE(month, year) constraint is
// the conflict check: a duplicate insert is rejected atomically instead of
// racing a read against a write.
func (r *Repository) CreatePeriod(ctx context.Context, month, year int, openingCents int64) (core.Period, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO periods (month, year, opening_cents, created_at) VALUES (?, ?, ?, ?)`,
		month, year, openingCents, now)
	if isUniqueViolation(err) {
		return core.Period{}, core.ErrDuplicatePeriod
	}
	if err != nil {
		return core.Period{}, fmt.Errorf("insert period: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Period{}, fmt.Errorf("period id: %w", err)
	}

	slog.InfoContext(ctx, "Period created", "id", id, "month", month, "year", year)
	return core.Period{ID: id, Month: month, Year: year, OpeningCents: openingCents, CreatedAt: now}, nil
}

// CommitEntry persists one validated draft in a single transaction: category
// and payer resolve to concrete rows, the user is created on first commit,
// and the entry lands in the active period. Any failure rolls back the lot.
func (r *Repository) CommitEntry(ctx context.Context, who core.Identity, d core.Draft) (core.Entry, error) {
	if err := d.Validate(); err != nil {
		return core.Entry{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Entry{}, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	var categoryID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM categories WHERE name = ?`, d.Category).Scan(&categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("resolve category %q: %w", d.Category, core.ErrUnknownCategory)
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("resolve category: %w", err)
	}

	var payerID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM payers WHERE name = ?`, d.Payer).Scan(&payerID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("resolve payer %q: %w", d.Payer, core.ErrUnknownPayer)
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("resolve payer: %w", err)
	}

	var periodID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM periods ORDER BY id DESC LIMIT 1`).Scan(&periodID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("resolve active period: %w", core.ErrNotFound)
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("resolve active period: %w", err)
	}

	userID, err := getOrCreateUser(ctx, tx, who)
	if err != nil {
		return core.Entry{}, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO entries (name, price_cents, category_id, payer_id, period_id, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.PriceCents, categoryID, payerID, periodID, userID, now)
	if err != nil {
		return core.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Entry{}, fmt.Errorf("entry id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Entry{}, fmt.Errorf("commit entry tx: %w", err)
	}

	slog.InfoContext(ctx, "Entry saved",
		"id", id, "chat_id", who.ChatID, "category", d.Category, "price_cents", d.PriceCents)

	return core.Entry{
		ID:         id,
		Name:       d.Name,
		PriceCents: d.PriceCents,
		CategoryID: categoryID,
		PayerID:    payerID,
		PeriodID:   periodID,
		UserID:     userID,
		CreatedAt:  now,
	}, nil
}

func getOrCreateUser(ctx context.Context, tx *sql.Tx, who core.Identity) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE chat_id = ?`, who.ChatID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("resolve user: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (chat_id, display_name) VALUES (?, ?)`,
		who.ChatID, who.DisplayName)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user id: %w", err)
	}
	return id, nil
}

// Report aggregates a user's entries within the period, grouped by category
// in category-id order. Unregistered users fail with core.ErrNotFound.
func (r *Repository) Report(ctx context.Context, chatID string, period core.Period) (core.Report, error) {
	userID, err := r.userID(ctx, chatID)
	if err != nil {
		return core.Report{}, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.budget_cents, SUM(e.price_cents)
		 FROM entries e
		 JOIN categories c ON c.id = e.category_id
		 WHERE e.user_id = ? AND e.period_id = ?
		 GROUP BY c.id
		 ORDER BY c.id`,
		userID, period.ID)
	if err != nil {
		return core.Report{}, fmt.Errorf("query category sums: %w", err)
	}
	defer rows.Close()

	report := core.Report{Period: period}
	for rows.Next() {
		var line core.CategorySpend
		var budget sql.NullInt64
		if err := rows.Scan(&line.CategoryID, &line.Category, &budget, &line.SpentCents); err != nil {
			return core.Report{}, fmt.Errorf("scan category sum: %w", err)
		}
		if budget.Valid {
			line.BudgetCents = &budget.Int64
		}
		report.Lines = append(report.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return core.Report{}, fmt.Errorf("iterate category sums: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(balance_cents), 0) FROM piggy_banks`).Scan(&report.SavingsCents)
	if err != nil {
		return core.Report{}, fmt.Errorf("query savings total: %w", err)
	}

	return report, nil
}

// RecentEntries returns the user's entries newest first, across periods.
func (r *Repository) RecentEntries(ctx context.Context, chatID string, limit int) ([]core.Entry, error) {
	userID, err := r.userID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, price_cents, category_id, payer_id, period_id, user_id, created_at
		 FROM entries WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent entries: %w", err)
	}
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		var e core.Entry
		if err := rows.Scan(&e.ID, &e.Name, &e.PriceCents, &e.CategoryID, &e.PayerID,
			&e.PeriodID, &e.UserID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEntry removes an entry only when it belongs to the caller. The
// ownership check is part of the DELETE itself, so someone else's id is
// indistinguishable from a missing one.
func (r *Repository) DeleteEntry(ctx context.Context, chatID string, entryID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM entries
		 WHERE id = ? AND user_id = (SELECT id FROM users WHERE chat_id = ?)`,
		entryID, chatID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entry rows: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}

	slog.InfoContext(ctx, "Entry deleted", "id", entryID, "chat_id", chatID)
	return nil
}

// SetCategoryBudget updates a category's planned budget.
func (r *Repository) SetCategoryBudget(ctx context.Context, category string, budgetCents int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE categories SET budget_cents = ? WHERE name = ?`, budgetCents, category)
	if err != nil {
		return fmt.Errorf("update budget: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update budget rows: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// SetPiggyBalance sets a savings pool's balance.
func (r *Repository) SetPiggyBalance(ctx context.Context, name string, balanceCents int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE piggy_banks SET balance_cents = ? WHERE name = ?`, balanceCents, name)
	if err != nil {
		return fmt.Errorf("update piggy balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update piggy rows: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *Repository) userID(ctx context.Context, chatID string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM users WHERE chat_id = ?`, chatID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve user: %w", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite3.Error
	if errors.As(err, &se) {
		// SQLITE_CONSTRAINT_UNIQUE and SQLITE_CONSTRAINT_PRIMARYKEY
		return se.Code() == 2067 || se.Code() == 1555
	}
	return false
}
