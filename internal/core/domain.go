package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicatePeriod = errors.New("period already exists")
	ErrUnknownCategory = errors.New("unknown category")
	ErrUnknownPayer    = errors.New("unknown payer")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyName       = errors.New("empty name")
)

type (
	// Money is an amount in integer cents. All arithmetic happens in cents;
	// floats never enter the ledger.
	Money struct {
		Cents int64
	}

	// Identity is what the chat transport knows about the sender.
	Identity struct {
		ChatID      string
		DisplayName string
	}

	Category struct {
		ID   int64
		Name string
		// BudgetCents is the planned monthly budget; nil means no plan.
		BudgetCents *int64
	}

	Payer struct {
		ID   int64
		Name string
	}

	// Period is one accounting month. The active period is always the one
	// with the greatest ID; rows are never mutated after creation.
	Period struct {
		ID           int64
		Month        int // 1-12
		Year         int
		OpeningCents int64
		CreatedAt    time.Time
	}

	User struct {
		ID          int64
		ChatID      string
		DisplayName string
	}

	// Entry is one committed expense record.
	Entry struct {
		ID         int64
		Name       string
		PriceCents int64
		CategoryID int64
		PayerID    int64
		PeriodID   int64
		UserID     int64
		CreatedAt  time.Time
	}

	// PiggyBank is a savings pool tracked outside any period.
	PiggyBank struct {
		ID           int64
		Name         string
		BalanceCents int64
	}

	// Draft is a fully validated entry ready to be persisted. Category and
	// payer travel by normalized name; the store resolves them to concrete
	// rows inside the commit transaction.
	Draft struct {
		Category   string
		Name       string
		PriceCents int64
		Payer      string
	}
)

func (d Draft) Validate() error {
	if d.Category == "" {
		return ErrUnknownCategory
	}
	if d.Name == "" {
		return ErrEmptyName
	}
	if d.PriceCents <= 0 {
		return ErrInvalidAmount
	}
	if d.Payer == "" {
		return ErrUnknownPayer
	}
	return nil
}

// Label renders the period for humans, e.g. "August 2026, opening 1500.00".
func (p Period) Label() string {
	return fmt.Sprintf("%s %d, opening %s", time.Month(p.Month).String(), p.Year, Money{Cents: p.OpeningCents})
}
