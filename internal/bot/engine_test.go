package bot

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"kopilka/internal/cache"
	"kopilka/internal/core"
	"kopilka/internal/log"
)

// fakeLedger is an in-memory implementation of the Ledger and EntryCommitter
// ports with the same semantics the SQLite repository provides.
type fakeLedger struct {
	mu         sync.Mutex
	categories []core.Category
	payers     []core.Payer
	periods    []core.Period
	users      []core.User
	entries    []core.Entry
	piggy      []core.PiggyBank
	nextID     int64

	lastRecentLimit int
	failCommit      bool
}

func newFakeLedger() *fakeLedger {
	budget := func(v int64) *int64 { return &v }
	return &fakeLedger{
		categories: []core.Category{
			{ID: 1, Name: "food", BudgetCents: budget(3000)},
			{ID: 2, Name: "transport", BudgetCents: budget(1000)},
			{ID: 3, Name: "gifts"},
		},
		payers: []core.Payer{
			{ID: 1, Name: "anton"},
			{ID: 2, Name: "natasha"},
			{ID: 3, Name: "shared"},
		},
		piggy:  []core.PiggyBank{{ID: 1, Name: "stash", BalanceCents: 0}},
		nextID: 100,
	}
}

func (f *fakeLedger) Categories(context.Context) ([]core.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Category(nil), f.categories...), nil
}

func (f *fakeLedger) Payers(context.Context) ([]core.Payer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Payer(nil), f.payers...), nil
}

func (f *fakeLedger) CurrentPeriod(context.Context) (core.Period, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentPeriodLocked()
}

func (f *fakeLedger) currentPeriodLocked() (core.Period, error) {
	if len(f.periods) == 0 {
		return core.Period{}, core.ErrNotFound
	}
	return f.periods[len(f.periods)-1], nil
}

func (f *fakeLedger) CreatePeriod(_ context.Context, month, year int, openingCents int64) (core.Period, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.periods {
		if p.Month == month && p.Year == year {
			return core.Period{}, core.ErrDuplicatePeriod
		}
	}
	f.nextID++
	p := core.Period{ID: f.nextID, Month: month, Year: year, OpeningCents: openingCents, CreatedAt: time.Now()}
	f.periods = append(f.periods, p)
	return p, nil
}

func (f *fakeLedger) CommitEntry(_ context.Context, who core.Identity, d core.Draft) (core.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCommit {
		return core.Entry{}, errors.New("storage unavailable")
	}
	if err := d.Validate(); err != nil {
		return core.Entry{}, err
	}
	var cat *core.Category
	for i := range f.categories {
		if f.categories[i].Name == d.Category {
			cat = &f.categories[i]
		}
	}
	if cat == nil {
		return core.Entry{}, core.ErrUnknownCategory
	}
	var payer *core.Payer
	for i := range f.payers {
		if f.payers[i].Name == d.Payer {
			payer = &f.payers[i]
		}
	}
	if payer == nil {
		return core.Entry{}, core.ErrUnknownPayer
	}
	period, err := f.currentPeriodLocked()
	if err != nil {
		return core.Entry{}, err
	}
	user := f.userLocked(who.ChatID)
	if user == nil {
		f.nextID++
		f.users = append(f.users, core.User{ID: f.nextID, ChatID: who.ChatID, DisplayName: who.DisplayName})
		user = &f.users[len(f.users)-1]
	}
	f.nextID++
	e := core.Entry{
		ID:         f.nextID,
		Name:       d.Name,
		PriceCents: d.PriceCents,
		CategoryID: cat.ID,
		PayerID:    payer.ID,
		PeriodID:   period.ID,
		UserID:     user.ID,
		CreatedAt:  time.Now(),
	}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeLedger) userLocked(chatID string) *core.User {
	for i := range f.users {
		if f.users[i].ChatID == chatID {
			return &f.users[i]
		}
	}
	return nil
}

func (f *fakeLedger) Report(_ context.Context, chatID string, period core.Period) (core.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.userLocked(chatID)
	if user == nil {
		return core.Report{}, core.ErrNotFound
	}
	spent := map[int64]int64{}
	for _, e := range f.entries {
		if e.UserID == user.ID && e.PeriodID == period.ID {
			spent[e.CategoryID] += e.PriceCents
		}
	}
	var lines []core.CategorySpend
	for _, c := range f.categories {
		if cents, ok := spent[c.ID]; ok {
			lines = append(lines, core.CategorySpend{
				CategoryID:  c.ID,
				Category:    c.Name,
				SpentCents:  cents,
				BudgetCents: c.BudgetCents,
			})
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].CategoryID < lines[j].CategoryID })
	var savings int64
	for _, p := range f.piggy {
		savings += p.BalanceCents
	}
	return core.Report{Period: period, Lines: lines, SavingsCents: savings}, nil
}

func (f *fakeLedger) RecentEntries(_ context.Context, chatID string, limit int) ([]core.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRecentLimit = limit
	user := f.userLocked(chatID)
	if user == nil {
		return nil, nil
	}
	var out []core.Entry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.entries[i].UserID == user.ID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeLedger) DeleteEntry(_ context.Context, chatID string, entryID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.userLocked(chatID)
	if user == nil {
		return core.ErrNotFound
	}
	for i, e := range f.entries {
		if e.ID == entryID && e.UserID == user.ID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return core.ErrNotFound
}

func (f *fakeLedger) SetCategoryBudget(_ context.Context, category string, budgetCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.categories {
		if f.categories[i].Name == category {
			f.categories[i].BudgetCents = &budgetCents
			return nil
		}
	}
	return core.ErrNotFound
}

func (f *fakeLedger) SetPiggyBalance(_ context.Context, name string, balanceCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.piggy {
		if f.piggy[i].Name == name {
			f.piggy[i].BalanceCents = balanceCents
			return nil
		}
	}
	return core.ErrNotFound
}

// memSessions is an in-memory Sessions store.
type memSessions struct {
	mu sync.Mutex
	m  map[string]core.Capture
}

func newMemSessions() *memSessions {
	return &memSessions{m: make(map[string]core.Capture)}
}

func (s *memSessions) Get(_ context.Context, chatID string) (core.Capture, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[chatID]
	return c, ok, nil
}

func (s *memSessions) Put(_ context.Context, chatID string, c core.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[chatID] = c
	return nil
}

func (s *memSessions) Clear(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, chatID)
	return nil
}

var (
	alice = core.Identity{ChatID: "chat-1", DisplayName: "Alice"}
	bob   = core.Identity{ChatID: "chat-2", DisplayName: "Bob"}
)

func newTestEngine(t *testing.T) (*Engine, *fakeLedger, *memSessions) {
	t.Helper()
	ledger := newFakeLedger()
	sessions := newMemSessions()
	e := New(ledger, sessions, ledger, cache.NewTTL[[]string](4, time.Minute), log.New("test"))
	e.now = func() time.Time { return time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC) }
	return e, ledger, sessions
}

func send(t *testing.T, e *Engine, who core.Identity, text string) Reply {
	t.Helper()
	r, err := e.HandleMessage(context.Background(), who, text)
	if err != nil {
		t.Fatalf("HandleMessage(%q): %v", text, err)
	}
	return r
}

func startPeriod(t *testing.T, e *Engine) {
	t.Helper()
	r := send(t, e, alice, "/new_period 100")
	if !strings.HasPrefix(r.Text, "Started") {
		t.Fatalf("period not started: %q", r.Text)
	}
}

func TestCaptureFlowCommitsOneEntry(t *testing.T) {
	e, ledger, sessions := newTestEngine(t)
	startPeriod(t, e)

	r := send(t, e, alice, "/add")
	if r.Text != "Choose a category:" || len(r.Keyboard) != 3 {
		t.Fatalf("unexpected start reply: %+v", r)
	}

	send(t, e, alice, "Food")
	send(t, e, alice, "Milk And Bread")
	send(t, e, alice, "154,20")
	r = send(t, e, alice, "ANTON")

	if !strings.Contains(r.Text, "Recorded") {
		t.Fatalf("expected commit confirmation, got %q", r.Text)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(ledger.entries))
	}
	got := ledger.entries[0]
	if got.Name != "milk and bread" || got.PriceCents != 15420 || got.CategoryID != 1 || got.PayerID != 1 {
		t.Fatalf("entry fields not normalized inputs: %+v", got)
	}
	if _, active, _ := sessions.Get(context.Background(), alice.ChatID); active {
		t.Fatal("session should be cleared after commit")
	}
}

func TestInvalidInputsDoNotAdvance(t *testing.T) {
	e, ledger, _ := newTestEngine(t)
	startPeriod(t, e)
	send(t, e, alice, "/add")

	r := send(t, e, alice, "spaceships")
	if !strings.Contains(r.Text, "pick a category") || len(r.Keyboard) == 0 {
		t.Fatalf("expected category re-prompt with keyboard, got %+v", r)
	}

	send(t, e, alice, "transport")
	send(t, e, alice, "bus ticket")

	r = send(t, e, alice, "abc")
	if !strings.Contains(r.Text, "valid price") {
		t.Fatalf("expected price re-prompt, got %q", r.Text)
	}

	send(t, e, alice, "5")
	r = send(t, e, alice, "stranger")
	if !strings.Contains(r.Text, "pick a payer") {
		t.Fatalf("expected payer re-prompt, got %q", r.Text)
	}
	if len(ledger.entries) != 0 {
		t.Fatal("no entry may be persisted before the payer step passes")
	}

	// A valid input at the same step proceeds normally.
	r = send(t, e, alice, "shared")
	if !strings.Contains(r.Text, "Recorded") || len(ledger.entries) != 1 {
		t.Fatalf("retry did not commit: %q (%d entries)", r.Text, len(ledger.entries))
	}
}

func TestStartCommandDiscardsInProgressCapture(t *testing.T) {
	e, ledger, _ := newTestEngine(t)
	startPeriod(t, e)

	send(t, e, alice, "/add")
	send(t, e, alice, "food")
	send(t, e, alice, "milk")

	r := send(t, e, alice, "/add")
	if r.Text != "Choose a category:" {
		t.Fatalf("restart should return to the category step, got %q", r.Text)
	}
	if len(ledger.entries) != 0 {
		t.Fatal("restart must not touch storage")
	}

	// The name captured earlier must be gone: entering the price directly
	// should not be possible.
	r = send(t, e, alice, "154.20")
	if !strings.Contains(r.Text, "pick a category") {
		t.Fatalf("stale state survived restart: %q", r.Text)
	}
}

func TestCancelAbandonsCapture(t *testing.T) {
	e, _, sessions := newTestEngine(t)
	startPeriod(t, e)

	if r := send(t, e, alice, "/cancel"); r.Text != "Nothing to cancel." {
		t.Fatalf("unexpected cancel reply: %q", r.Text)
	}
	send(t, e, alice, "/add")
	if r := send(t, e, alice, "/cancel"); r.Text != "Capture cancelled." {
		t.Fatalf("unexpected cancel reply: %q", r.Text)
	}
	if _, active, _ := sessions.Get(context.Background(), alice.ChatID); active {
		t.Fatal("session should be gone after cancel")
	}
}

func TestAdvancePeriodConflict(t *testing.T) {
	e, ledger, _ := newTestEngine(t)

	send(t, e, alice, "/new_period 100")
	r := send(t, e, alice, "/new_period 200")
	if !strings.Contains(r.Text, "not yet finished") {
		t.Fatalf("expected conflict message, got %q", r.Text)
	}
	p, err := ledger.CurrentPeriod(context.Background())
	if err != nil || p.OpeningCents != 10000 {
		t.Fatalf("active period should remain the first one: %+v, %v", p, err)
	}

	if r := send(t, e, alice, "/new_period nonsense"); !strings.Contains(r.Text, "Usage") {
		t.Fatalf("bad balance should be a corrective message, got %q", r.Text)
	}
}

func TestNoActivePeriodMessages(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if r := send(t, e, alice, "/period"); !strings.Contains(r.Text, "No active period") {
		t.Fatalf("unexpected /period reply: %q", r.Text)
	}
	if r := send(t, e, alice, "/report"); !strings.Contains(r.Text, "No active period") {
		t.Fatalf("unexpected /report reply: %q", r.Text)
	}

	// Committing without a period keeps the session at the payer step.
	send(t, e, alice, "/add")
	send(t, e, alice, "food")
	send(t, e, alice, "milk")
	send(t, e, alice, "10")
	r := send(t, e, alice, "anton")
	if !strings.Contains(r.Text, "No active period") {
		t.Fatalf("commit without period: %q", r.Text)
	}
	startPeriod(t, e)
	if r := send(t, e, alice, "anton"); !strings.Contains(r.Text, "Recorded") {
		t.Fatalf("retrying the payer step after fixing the period failed: %q", r.Text)
	}
}

func addEntry(t *testing.T, e *Engine, who core.Identity, category, name, price, payer string) {
	t.Helper()
	send(t, e, who, "/add")
	send(t, e, who, category)
	send(t, e, who, name)
	send(t, e, who, price)
	if r := send(t, e, who, payer); !strings.Contains(r.Text, "Recorded") {
		t.Fatalf("entry not recorded: %q", r.Text)
	}
}

func TestReportAggregationAndIdempotence(t *testing.T) {
	e, ledger, _ := newTestEngine(t)
	startPeriod(t, e)

	addEntry(t, e, alice, "food", "milk", "10", "anton")
	addEntry(t, e, alice, "food", "bread", "15", "anton")
	addEntry(t, e, alice, "transport", "bus", "5", "shared")
	ledger.piggy[0].BalanceCents = 2550

	r := send(t, e, alice, "/report")
	for _, want := range []string{
		"August 2026, opening 100.00",
		"25.00", // food spent
		"30.00", // food planned and total spent
		"total spent:      30.00",
		"period remaining: 70.00",
		"savings:          25.50",
		"available:        95.50",
		"food",
		"transport",
	} {
		if !strings.Contains(r.Text, want) {
			t.Fatalf("report missing %q:\n%s", want, r.Text)
		}
	}

	// Category order is seed order: food (id 1) before transport (id 2).
	if strings.Index(r.Text, "food") > strings.Index(r.Text, "transport") {
		t.Fatalf("categories out of seed order:\n%s", r.Text)
	}

	again := send(t, e, alice, "/report")
	if again.Text != r.Text {
		t.Fatalf("report not idempotent:\n%s\n---\n%s", r.Text, again.Text)
	}
}

func TestReportForUnregisteredUser(t *testing.T) {
	e, _, _ := newTestEngine(t)
	startPeriod(t, e)
	if r := send(t, e, bob, "/report"); !strings.Contains(r.Text, "no recorded entries") {
		t.Fatalf("unexpected reply for unregistered user: %q", r.Text)
	}
}

func TestRecentEntriesLimitFallback(t *testing.T) {
	e, ledger, _ := newTestEngine(t)
	startPeriod(t, e)
	addEntry(t, e, alice, "food", "milk", "10", "anton")

	send(t, e, alice, "/last")
	if ledger.lastRecentLimit != 20 {
		t.Fatalf("missing argument should default to 20, got %d", ledger.lastRecentLimit)
	}
	send(t, e, alice, "/last abc")
	if ledger.lastRecentLimit != 20 {
		t.Fatalf("non-numeric argument should default to 20, got %d", ledger.lastRecentLimit)
	}
	send(t, e, alice, "/last 5")
	if ledger.lastRecentLimit != 5 {
		t.Fatalf("numeric argument ignored, got %d", ledger.lastRecentLimit)
	}

	if r := send(t, e, bob, "/last"); !strings.Contains(r.Text, "No entries yet") {
		t.Fatalf("unexpected reply for empty listing: %q", r.Text)
	}
}

func TestDeleteEntryOwnershipIsolation(t *testing.T) {
	e, ledger, _ := newTestEngine(t)
	startPeriod(t, e)
	addEntry(t, e, alice, "food", "milk", "10", "anton")
	// Bob needs a user row so only ownership, not registration, is tested.
	addEntry(t, e, bob, "transport", "bus", "5", "shared")

	aliceEntry := ledger.entries[0].ID

	r := send(t, e, bob, "/delete "+itoa(aliceEntry))
	if r.Text != "Entry not found." {
		t.Fatalf("cross-user delete should be NotFound, got %q", r.Text)
	}
	if len(ledger.entries) != 2 {
		t.Fatal("cross-user delete must leave the entry intact")
	}

	r = send(t, e, alice, "/delete "+itoa(aliceEntry))
	if !strings.Contains(r.Text, "deleted") || len(ledger.entries) != 1 {
		t.Fatalf("owner delete failed: %q (%d entries)", r.Text, len(ledger.entries))
	}

	if r := send(t, e, alice, "/delete nonsense"); !strings.Contains(r.Text, "Usage") {
		t.Fatalf("bad id should be a corrective message, got %q", r.Text)
	}
}

func TestUnknownInputShowsHelp(t *testing.T) {
	e, _, _ := newTestEngine(t)
	r := send(t, e, alice, "what is this")
	if !strings.Contains(r.Text, "/add") || !strings.Contains(r.Text, "/report") {
		t.Fatalf("expected help listing, got %q", r.Text)
	}
	if r2 := send(t, e, alice, "/frobnicate"); r2.Text != r.Text {
		t.Fatalf("unknown command should show help, got %q", r2.Text)
	}
}

func TestCommitFailureKeepsSessionForRetry(t *testing.T) {
	e, ledger, sessions := newTestEngine(t)
	startPeriod(t, e)
	send(t, e, alice, "/add")
	send(t, e, alice, "food")
	send(t, e, alice, "milk")
	send(t, e, alice, "10")

	ledger.failCommit = true
	r := send(t, e, alice, "anton")
	if !strings.Contains(r.Text, "Unable to save") {
		t.Fatalf("expected generic failure message, got %q", r.Text)
	}
	sess, active, _ := sessions.Get(context.Background(), alice.ChatID)
	if !active || sess.Step != core.StepPayer {
		t.Fatalf("session must stay at the payer step, got %+v (active=%v)", sess, active)
	}

	ledger.failCommit = false
	if r := send(t, e, alice, "anton"); !strings.Contains(r.Text, "Recorded") {
		t.Fatalf("retry after failure should commit, got %q", r.Text)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected exactly one entry after retry, got %d", len(ledger.entries))
	}
}

func TestCategoryRemovedMidCaptureGetsGenericMessage(t *testing.T) {
	e, ledger, sessions := newTestEngine(t)
	startPeriod(t, e)
	send(t, e, alice, "/add")
	send(t, e, alice, "gifts")
	send(t, e, alice, "flowers")
	send(t, e, alice, "10")

	// The category disappears between the capture and the final step. A
	// period exists, so the reply must not claim one is missing.
	ledger.mu.Lock()
	ledger.categories = ledger.categories[:2]
	ledger.mu.Unlock()

	r := send(t, e, alice, "anton")
	if !strings.Contains(r.Text, "Unable to save") {
		t.Fatalf("expected generic failure message, got %q", r.Text)
	}
	if strings.Contains(r.Text, "period") {
		t.Fatalf("message must not mention a missing period, got %q", r.Text)
	}
	if _, active, _ := sessions.Get(context.Background(), alice.ChatID); !active {
		t.Fatalf("session must survive the failed commit")
	}
}

func TestBudgetAndPiggyCommands(t *testing.T) {
	e, ledger, _ := newTestEngine(t)

	if r := send(t, e, alice, "/budget gifts 50"); !strings.Contains(r.Text, "Budget") {
		t.Fatalf("budget command failed: %q", r.Text)
	}
	if ledger.categories[2].BudgetCents == nil || *ledger.categories[2].BudgetCents != 5000 {
		t.Fatalf("budget not applied: %+v", ledger.categories[2])
	}
	if r := send(t, e, alice, "/budget spaceships 50"); !strings.Contains(r.Text, "Unknown category") {
		t.Fatalf("unknown category should be reported: %q", r.Text)
	}

	if r := send(t, e, alice, "/piggy stash 25,50"); !strings.Contains(r.Text, "25.50") {
		t.Fatalf("piggy command failed: %q", r.Text)
	}
	if ledger.piggy[0].BalanceCents != 2550 {
		t.Fatalf("piggy balance not applied: %+v", ledger.piggy[0])
	}
	if r := send(t, e, alice, "/budget gifts"); !strings.Contains(r.Text, "Usage") {
		t.Fatalf("missing amount should be a corrective message: %q", r.Text)
	}
}

func TestSessionsAreIndependentAcrossUsers(t *testing.T) {
	e, ledger, _ := newTestEngine(t)
	startPeriod(t, e)

	send(t, e, alice, "/add")
	send(t, e, alice, "food")

	send(t, e, bob, "/add")
	send(t, e, bob, "transport")
	send(t, e, bob, "bus")
	send(t, e, bob, "5")
	send(t, e, bob, "shared")

	// Alice's capture is still at the name step.
	send(t, e, alice, "milk")
	send(t, e, alice, "10")
	r := send(t, e, alice, "anton")
	if !strings.Contains(r.Text, "Recorded") {
		t.Fatalf("interleaved sessions corrupted state: %q", r.Text)
	}
	if len(ledger.entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(ledger.entries))
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
