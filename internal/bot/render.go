package bot

import (
	"fmt"
	"strings"

	"kopilka/internal/core"
)

const helpText = `Commands:
/add - record a purchase step by step
/report - spending report for the current period
/last [n] - your latest entries (default 20)
/delete <id> - delete one of your entries
/period - show the current period
/new_period <balance> - start this month's period
/budget <category> <amount> - set a category budget
/piggy <name> <amount> - set a piggy bank balance
/cancel - abandon the current capture
/help - this listing`

const entryTimeLayout = "02.01.2006 15:04"

// RenderReport produces the fixed-width report table. Lines arrive ordered
// by category id, which keeps the layout stable between runs.
func RenderReport(r core.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", r.Period.Label())
	fmt.Fprintf(&b, "%10s %10s %10s  %s\n", "spent", "planned", "remaining", "category")
	for _, l := range r.Lines {
		planned := "-"
		remaining := "-"
		if l.BudgetCents != nil {
			planned = core.Money{Cents: *l.BudgetCents}.String()
			rem, _ := l.RemainingCents()
			remaining = core.Money{Cents: rem}.String()
		}
		fmt.Fprintf(&b, "%10s %10s %10s  %s\n",
			core.Money{Cents: l.SpentCents}, planned, remaining, l.Category)
	}
	fmt.Fprintf(&b, "\ntotal spent:      %s\n", core.Money{Cents: r.TotalSpentCents()})
	fmt.Fprintf(&b, "period remaining: %s\n", core.Money{Cents: r.PeriodRemainingCents()})
	fmt.Fprintf(&b, "savings:          %s\n", core.Money{Cents: r.SavingsCents})
	fmt.Fprintf(&b, "available:        %s", core.Money{Cents: r.GrandRemainingCents()})
	return b.String()
}

// RenderEntries lists entries newest first, one per line.
func RenderEntries(entries []core.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#%d  %s  %s  %s",
			e.ID, e.Name, core.Money{Cents: e.PriceCents}, e.CreatedAt.Format(entryTimeLayout))
	}
	return b.String()
}
