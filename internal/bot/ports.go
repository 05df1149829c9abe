package bot

import (
	"context"

	"kopilka/internal/core"
)

// Ports the conversation engine needs from its collaborators. The SQLite
// repository implements all of the ledger-side ports; the entry service
// implements EntryCommitter so commits also feed the export pipeline.
type (
	// TaxonomyReader lists the known categories and payers, in seed order.
	TaxonomyReader interface {
		Categories(ctx context.Context) ([]core.Category, error)
		Payers(ctx context.Context) ([]core.Payer, error)
	}

	// PeriodManager owns ReportPeriod creation; nothing else may create one.
	PeriodManager interface {
		// CurrentPeriod returns the most recently created period, or
		// core.ErrNotFound when no period exists yet.
		CurrentPeriod(ctx context.Context) (core.Period, error)
		// CreatePeriod inserts a period for (month, year); a duplicate pair
		// fails with core.ErrDuplicatePeriod without any state change.
		CreatePeriod(ctx context.Context, month, year int, openingCents int64) (core.Period, error)
	}

	// EntryCommitter persists one fully validated draft atomically,
	// resolving the user by identity and the active period.
	EntryCommitter interface {
		CommitEntry(ctx context.Context, who core.Identity, d core.Draft) (core.Entry, error)
	}

	// ReportReader aggregates a user's entries within a period.
	ReportReader interface {
		Report(ctx context.Context, chatID string, period core.Period) (core.Report, error)
	}

	// EntryBrowser lists and deletes a user's own entries. DeleteEntry must
	// scope the lookup to the owning user: an id owned by someone else is
	// core.ErrNotFound, never a cross-user delete.
	EntryBrowser interface {
		RecentEntries(ctx context.Context, chatID string, limit int) ([]core.Entry, error)
		DeleteEntry(ctx context.Context, chatID string, entryID int64) error
	}

	// BudgetEditor covers the operator commands.
	BudgetEditor interface {
		SetCategoryBudget(ctx context.Context, category string, budgetCents int64) error
		SetPiggyBalance(ctx context.Context, name string, balanceCents int64) error
	}

	// Sessions is the per-user capture state store. It must survive process
	// restarts; the engine treats Put/Clear as the serialization point for a
	// user's conversation.
	Sessions interface {
		Get(ctx context.Context, chatID string) (core.Capture, bool, error)
		Put(ctx context.Context, chatID string, c core.Capture) error
		Clear(ctx context.Context, chatID string) error
	}

	// Ledger bundles the storage-side ports for wiring convenience.
	Ledger interface {
		TaxonomyReader
		PeriodManager
		ReportReader
		EntryBrowser
		BudgetEditor
	}
)

// Reply is what goes back to the chat transport: plain text plus an optional
// ordered list of keyboard suggestions.
type Reply struct {
	Text     string   `json:"text"`
	Keyboard []string `json:"keyboard,omitempty"`
}
