// Package core holds the domain types and the pure logic of the expense
// bot: money parsing, the capture state machine, and report aggregation.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParsePriceCents converts a user-typed price to cents.
//
// Both dot (154.20) and comma (154,20) decimal separators are accepted; the
// comma form is what the original audience types. Rounding is half-up on the
// third decimal digit. Only strictly positive amounts are valid.
func ParsePriceCents(s string) (int64, error) {
	cents, err := parseCents(s)
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// ParseBalanceCents parses the same decimal format but permits zero, for
// period opening balances and savings-pool adjustments.
func ParseBalanceCents(s string) (int64, error) {
	return parseCents(s)
}

func parseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	// Guard the *100 below.
	const maxSafe = (1<<63 - 1) / 100
	if iv > maxSafe {
		return 0, ErrInvalidAmount
	}
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	cents := iv*100 + fracCents
	// iv passed the maxSafe guard, but the fractional cents can still push
	// the sum past the int64 ceiling; the wraparound shows up as a negative.
	if cents < 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// String renders the amount with exactly two decimals, e.g. "154.20".
// Negative amounts (possible for remaining-balance figures) keep the sign.
func (m Money) String() string {
	cents := m.Cents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
