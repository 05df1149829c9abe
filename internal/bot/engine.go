// Package bot drives the guided expense conversation: it routes commands,
// advances the capture state machine, and renders replies for the chat
// transport.
package bot

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"kopilka/internal/cache"
	"kopilka/internal/core"
	"kopilka/internal/log"
)

const (
	defaultRecentLimit = 20

	categoriesCacheKey = "categories"
	payersCacheKey     = "payers"
)

// Engine handles one inbound message at a time per user. Session state lives
// in the Sessions store so it survives restarts; the striped locks only
// serialize concurrent messages from the same user hitting this process.
type Engine struct {
	ledger    Ledger
	sessions  Sessions
	committer EntryCommitter
	keyboards cache.Cache[[]string]
	logger    *log.Logger
	now       func() time.Time

	locks [64]sync.Mutex
}

func New(ledger Ledger, sessions Sessions, committer EntryCommitter, keyboards cache.Cache[[]string], logger *log.Logger) *Engine {
	return &Engine{
		ledger:    ledger,
		sessions:  sessions,
		committer: committer,
		keyboards: keyboards,
		logger:    logger.WithComponent("bot"),
		now:       time.Now,
	}
}

// HandleMessage processes one inbound message and returns the reply to show
// the user. User mistakes come back as corrective replies, never as errors;
// a non-nil error means a store call failed unexpectedly.
func (e *Engine) HandleMessage(ctx context.Context, who core.Identity, text string) (Reply, error) {
	mu := e.lockFor(who.ChatID)
	mu.Lock()
	defer mu.Unlock()

	text = strings.TrimSpace(text)
	cmd, arg := splitCommand(text)

	sess, active, err := e.sessions.Get(ctx, who.ChatID)
	if err != nil {
		return Reply{}, fmt.Errorf("load session: %w", err)
	}

	// Starting over and cancelling work from any state.
	switch cmd {
	case "/add":
		return e.startCapture(ctx, who)
	case "/cancel":
		return e.cancelCapture(ctx, who, active)
	}

	// With a capture in progress every other input belongs to the current
	// step's validation rule.
	if active {
		return e.advanceCapture(ctx, who, sess, text)
	}

	switch cmd {
	case "/period":
		return e.showPeriod(ctx)
	case "/new_period":
		return e.advancePeriod(ctx, who, arg)
	case "/report":
		return e.showReport(ctx, who)
	case "/last":
		return e.listRecent(ctx, who, arg)
	case "/delete":
		return e.deleteEntry(ctx, who, arg)
	case "/budget":
		return e.setBudget(ctx, arg)
	case "/piggy":
		return e.setPiggy(ctx, arg)
	default:
		return Reply{Text: helpText}, nil
	}
}

func (e *Engine) startCapture(ctx context.Context, who core.Identity) (Reply, error) {
	cats, err := e.categoryNames(ctx)
	if err != nil {
		return Reply{}, err
	}
	// Overrides any prior in-progress capture with no storage side effect.
	if err := e.sessions.Put(ctx, who.ChatID, core.NewCapture()); err != nil {
		return Reply{}, fmt.Errorf("store session: %w", err)
	}
	return Reply{Text: "Choose a category:", Keyboard: cats}, nil
}

func (e *Engine) cancelCapture(ctx context.Context, who core.Identity, active bool) (Reply, error) {
	if !active {
		return Reply{Text: "Nothing to cancel."}, nil
	}
	if err := e.sessions.Clear(ctx, who.ChatID); err != nil {
		return Reply{}, fmt.Errorf("clear session: %w", err)
	}
	return Reply{Text: "Capture cancelled."}, nil
}

func (e *Engine) advanceCapture(ctx context.Context, who core.Identity, sess core.Capture, text string) (Reply, error) {
	switch sess.Step {
	case core.StepCategory:
		cats, err := e.categoryNames(ctx)
		if err != nil {
			return Reply{}, err
		}
		next, err := sess.ChooseCategory(text, cats)
		if err != nil {
			return Reply{Text: "Please pick a category using the keyboard below.", Keyboard: cats}, nil
		}
		if err := e.sessions.Put(ctx, who.ChatID, next); err != nil {
			return Reply{}, fmt.Errorf("store session: %w", err)
		}
		return Reply{Text: "Now enter the purchase name:"}, nil

	case core.StepName:
		next, err := sess.ChooseName(text)
		if err != nil {
			return Reply{Text: "Please enter a non-empty purchase name."}, nil
		}
		if err := e.sessions.Put(ctx, who.ChatID, next); err != nil {
			return Reply{}, fmt.Errorf("store session: %w", err)
		}
		return Reply{Text: fmt.Sprintf("Got %q in category %q.\nNow enter the price:", next.Name, next.Category)}, nil

	case core.StepPrice:
		next, err := sess.ChoosePrice(text)
		if err != nil {
			return Reply{Text: "Please enter a valid price, e.g. 154.20"}, nil
		}
		if err := e.sessions.Put(ctx, who.ChatID, next); err != nil {
			return Reply{}, fmt.Errorf("store session: %w", err)
		}
		payers, err := e.payerNames(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{
			Text:     fmt.Sprintf("Got %q in category %q for %s.\nWho paid?", next.Name, next.Category, core.Money{Cents: next.PriceCents}),
			Keyboard: payers,
		}, nil

	case core.StepPayer:
		payers, err := e.payerNames(ctx)
		if err != nil {
			return Reply{}, err
		}
		draft, err := sess.ChoosePayer(text, payers)
		if err != nil {
			return Reply{Text: "Please pick a payer using the keyboard below.", Keyboard: payers}, nil
		}
		return e.commit(ctx, who, draft)

	default:
		// Unknown step in a stored session: drop it rather than trap the user.
		if err := e.sessions.Clear(ctx, who.ChatID); err != nil {
			return Reply{}, fmt.Errorf("clear session: %w", err)
		}
		return Reply{Text: helpText}, nil
	}
}

func (e *Engine) commit(ctx context.Context, who core.Identity, draft core.Draft) (Reply, error) {
	entry, err := e.committer.CommitEntry(ctx, who, draft)
	if err != nil {
		// The session stays at the payer step so the user can retry the
		// final answer once the problem is fixed. Only a missing active
		// period is ErrNotFound here; a vanished category or payer comes
		// back as its own sentinel and gets the generic message.
		if errors.Is(err, core.ErrNotFound) {
			return Reply{Text: "No active period. Start one with /new_period <balance>, then send the payer again."}, nil
		}
		e.logger.ErrorContext(ctx, "Entry commit failed", "chat_id", who.ChatID, "error", err)
		return Reply{Text: "Unable to save the entry. Please try again."}, nil
	}

	if err := e.sessions.Clear(ctx, who.ChatID); err != nil {
		return Reply{}, fmt.Errorf("clear session: %w", err)
	}

	e.logger.InfoContext(ctx, "Entry committed",
		"chat_id", who.ChatID,
		"entry_id", entry.ID,
		"category", draft.Category,
		"price_cents", draft.PriceCents)

	return Reply{Text: fmt.Sprintf("Recorded %q in %q for %s, paid by %s.",
		draft.Name, draft.Category, core.Money{Cents: draft.PriceCents}, draft.Payer)}, nil
}

func (e *Engine) showPeriod(ctx context.Context) (Reply, error) {
	period, err := e.ledger.CurrentPeriod(ctx)
	if errors.Is(err, core.ErrNotFound) {
		return Reply{Text: "No active period yet. Start one with /new_period <balance>."}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("current period: %w", err)
	}
	return Reply{Text: period.Label()}, nil
}

func (e *Engine) advancePeriod(ctx context.Context, who core.Identity, arg string) (Reply, error) {
	cents, err := core.ParseBalanceCents(arg)
	if err != nil {
		return Reply{Text: "Usage: /new_period <opening balance>, e.g. /new_period 1500.00"}, nil
	}
	now := e.now()
	period, err := e.ledger.CreatePeriod(ctx, int(now.Month()), now.Year(), cents)
	if errors.Is(err, core.ErrDuplicatePeriod) {
		return Reply{Text: "The current period is not yet finished: this month already has one."}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("create period: %w", err)
	}
	e.logger.InfoContext(ctx, "Period advanced",
		"chat_id", who.ChatID, "month", period.Month, "year", period.Year,
		"opening_cents", period.OpeningCents)
	return Reply{Text: "Started " + period.Label() + "."}, nil
}

func (e *Engine) showReport(ctx context.Context, who core.Identity) (Reply, error) {
	period, err := e.ledger.CurrentPeriod(ctx)
	if errors.Is(err, core.ErrNotFound) {
		return Reply{Text: "No active period yet. Start one with /new_period <balance>."}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("current period: %w", err)
	}
	report, err := e.ledger.Report(ctx, who.ChatID, period)
	if errors.Is(err, core.ErrNotFound) {
		return Reply{Text: "You have no recorded entries yet. Add one with /add."}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("build report: %w", err)
	}
	return Reply{Text: RenderReport(report)}, nil
}

func (e *Engine) listRecent(ctx context.Context, who core.Identity, arg string) (Reply, error) {
	limit := defaultRecentLimit
	if n, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil && n > 0 {
		limit = n
	}
	entries, err := e.ledger.RecentEntries(ctx, who.ChatID, limit)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return Reply{}, fmt.Errorf("recent entries: %w", err)
	}
	if len(entries) == 0 {
		return Reply{Text: "No entries yet. Add one with /add."}, nil
	}
	return Reply{Text: RenderEntries(entries)}, nil
}

func (e *Engine) deleteEntry(ctx context.Context, who core.Identity, arg string) (Reply, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return Reply{Text: "Usage: /delete <entry id>"}, nil
	}
	err = e.ledger.DeleteEntry(ctx, who.ChatID, id)
	if errors.Is(err, core.ErrNotFound) {
		return Reply{Text: "Entry not found."}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("delete entry: %w", err)
	}
	e.logger.InfoContext(ctx, "Entry deleted", "chat_id", who.ChatID, "entry_id", id)
	return Reply{Text: fmt.Sprintf("Entry %d deleted.", id)}, nil
}

func (e *Engine) setBudget(ctx context.Context, arg string) (Reply, error) {
	name, cents, ok := splitNameAmount(arg)
	if !ok {
		return Reply{Text: "Usage: /budget <category> <amount>"}, nil
	}
	err := e.ledger.SetCategoryBudget(ctx, core.Normalize(name), cents)
	if errors.Is(err, core.ErrNotFound) {
		return Reply{Text: fmt.Sprintf("Unknown category %q.", core.Normalize(name))}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("set budget: %w", err)
	}
	return Reply{Text: fmt.Sprintf("Budget for %q set to %s.", core.Normalize(name), core.Money{Cents: cents})}, nil
}

func (e *Engine) setPiggy(ctx context.Context, arg string) (Reply, error) {
	name, cents, ok := splitNameAmount(arg)
	if !ok {
		return Reply{Text: "Usage: /piggy <name> <amount>"}, nil
	}
	err := e.ledger.SetPiggyBalance(ctx, core.Normalize(name), cents)
	if errors.Is(err, core.ErrNotFound) {
		return Reply{Text: fmt.Sprintf("Unknown piggy bank %q.", core.Normalize(name))}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("set piggy balance: %w", err)
	}
	return Reply{Text: fmt.Sprintf("Piggy bank %q set to %s.", core.Normalize(name), core.Money{Cents: cents})}, nil
}

func (e *Engine) categoryNames(ctx context.Context) ([]string, error) {
	if names, ok := e.keyboards.Get(categoriesCacheKey); ok {
		return names, nil
	}
	cats, err := e.ledger.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	e.keyboards.Set(categoriesCacheKey, names)
	return names, nil
}

func (e *Engine) payerNames(ctx context.Context) ([]string, error) {
	if names, ok := e.keyboards.Get(payersCacheKey); ok {
		return names, nil
	}
	payers, err := e.ledger.Payers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payers: %w", err)
	}
	names := make([]string, len(payers))
	for i, p := range payers {
		names[i] = p.Name
	}
	e.keyboards.Set(payersCacheKey, names)
	return names, nil
}

func (e *Engine) lockFor(chatID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(chatID))
	return &e.locks[h.Sum32()%uint32(len(e.locks))]
}

// splitCommand returns ("", text) for freeform input and the lowercased
// command plus the remainder for slash commands.
func splitCommand(text string) (cmd, arg string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	parts := strings.SplitN(text, " ", 2)
	cmd = strings.ToLower(parts[0])
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return cmd, arg
}

// splitNameAmount parses "<name possibly with spaces> <amount>".
func splitNameAmount(arg string) (string, int64, bool) {
	fields := strings.Fields(arg)
	if len(fields) < 2 {
		return "", 0, false
	}
	cents, err := core.ParseBalanceCents(fields[len(fields)-1])
	if err != nil {
		return "", 0, false
	}
	return strings.Join(fields[:len(fields)-1], " "), cents, true
}
