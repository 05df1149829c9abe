package core

import "strings"

// Step names the point a capture session is waiting at. The zero value means
// no capture is in progress.
type Step string

const (
	StepNone     Step = ""
	StepCategory Step = "category"
	StepName     Step = "name"
	StepPrice    Step = "price"
	StepPayer    Step = "payer"
)

// Capture is the per-user state of an entry being built. Only the fields
// validated so far are populated; the transition methods below enforce step
// order, so a Capture obtained through them never carries a field its Step
// has not passed. The struct is flat so it serializes to the session store.
type Capture struct {
	Step       Step   `json:"step"`
	Category   string `json:"category,omitempty"`
	Name       string `json:"name,omitempty"`
	PriceCents int64  `json:"price_cents,omitempty"`
}

// NewCapture starts a fresh session at the category step, discarding
// whatever progress the previous value held.
func NewCapture() Capture {
	return Capture{Step: StepCategory}
}

// Normalize case-folds and trims user text the way the ledger stores names.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func matchName(input string, known []string) (string, bool) {
	in := Normalize(input)
	for _, k := range known {
		if Normalize(k) == in {
			return Normalize(k), true
		}
	}
	return "", false
}

// ChooseCategory validates the category step against the known category
// names. On mismatch the capture is returned unchanged so the caller
// re-prompts without losing state.
func (c Capture) ChooseCategory(input string, known []string) (Capture, error) {
	if c.Step != StepCategory {
		return c, ErrUnknownCategory
	}
	name, ok := matchName(input, known)
	if !ok {
		return c, ErrUnknownCategory
	}
	c.Category = name
	c.Step = StepName
	return c, nil
}

// ChooseName accepts any non-empty text and advances unconditionally.
func (c Capture) ChooseName(input string) (Capture, error) {
	if c.Step != StepName {
		return c, ErrEmptyName
	}
	name := Normalize(input)
	if name == "" {
		return c, ErrEmptyName
	}
	c.Name = name
	c.Step = StepPrice
	return c, nil
}

// ChoosePrice parses the price step; unparseable input leaves the capture
// unchanged.
func (c Capture) ChoosePrice(input string) (Capture, error) {
	if c.Step != StepPrice {
		return c, ErrInvalidAmount
	}
	cents, err := ParsePriceCents(input)
	if err != nil {
		return c, err
	}
	c.PriceCents = cents
	c.Step = StepPayer
	return c, nil
}

// ChoosePayer validates the final step and returns the completed draft.
// The capture itself stays at the payer step: if the commit fails the user
// may retry with the same payer.
func (c Capture) ChoosePayer(input string, known []string) (Draft, error) {
	if c.Step != StepPayer {
		return Draft{}, ErrUnknownPayer
	}
	payer, ok := matchName(input, known)
	if !ok {
		return Draft{}, ErrUnknownPayer
	}
	return Draft{
		Category:   c.Category,
		Name:       c.Name,
		PriceCents: c.PriceCents,
		Payer:      payer,
	}, nil
}

// Active reports whether a capture session is in progress.
func (c Capture) Active() bool {
	return c.Step != StepNone
}
