package core

// CategorySpend is one aggregated report line: what a user spent in a
// category within the period, next to the planned budget if one is set.
type CategorySpend struct {
	CategoryID  int64
	Category    string
	SpentCents  int64
	BudgetCents *int64
}

// RemainingCents is budget minus spent. The second return is false when no
// budget is planned for the category; the line then omits the figure rather
// than treating the plan as zero.
func (c CategorySpend) RemainingCents() (int64, bool) {
	if c.BudgetCents == nil {
		return 0, false
	}
	return *c.BudgetCents - c.SpentCents, true
}

// Report is the aggregation result for one user in one period. Lines are
// ordered by category ID (seed order) for a stable layout.
type Report struct {
	Period       Period
	Lines        []CategorySpend
	SavingsCents int64
}

func (r Report) TotalSpentCents() int64 {
	var total int64
	for _, l := range r.Lines {
		total += l.SpentCents
	}
	return total
}

// PeriodRemainingCents is the period's opening balance minus total spend.
func (r Report) PeriodRemainingCents() int64 {
	return r.Period.OpeningCents - r.TotalSpentCents()
}

// GrandRemainingCents adds the savings pools on top of the period remainder.
func (r Report) GrandRemainingCents() int64 {
	return r.PeriodRemainingCents() + r.SavingsCents
}
