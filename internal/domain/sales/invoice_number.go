package sales

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/erp/invoicing/internal/domain/shared"
)

// Numbering defaults
const (
	DefaultNumberFloor = 1000
	DefaultNumberWidth = 4
	maxNumberWidth     = 18
	// maxCounter is the largest counter with maxNumberWidth digits
	maxCounter int64 = 999_999_999_999_999_999
)

// NumberingPolicy formats and validates invoice numbers of one tenant.
// Numbers are an optional prefix followed by a zero-padded decimal counter.
type NumberingPolicy struct {
	Floor  int64
	Width  int
	Prefix string
}

// DefaultNumberingPolicy returns the policy used when nothing is configured
func DefaultNumberingPolicy() NumberingPolicy {
	return NumberingPolicy{Floor: DefaultNumberFloor, Width: DefaultNumberWidth}
}

// Format renders the counter value as an invoice number
func (p NumberingPolicy) Format(n int64) string {
	width := p.Width
	if width <= 0 {
		width = 1
	}
	if width > maxNumberWidth {
		width = maxNumberWidth
	}
	return fmt.Sprintf("%s%0*d", p.Prefix, width, n)
}

// Parse extracts the counter value from an invoice number
func (p NumberingPolicy) Parse(number string) (int64, bool) {
	digits, ok := strings.CutPrefix(strings.TrimSpace(number), p.Prefix)
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Next returns the number after the highest existing one, never below the floor.
// Gaps left by deleted invoices are never filled because existing includes them.
func (p NumberingPolicy) Next(existing []string) string {
	next := p.Floor
	for _, number := range existing {
		if n, ok := p.Parse(number); ok && n >= next && n < maxCounter {
			next = n + 1
		}
	}
	return p.Format(next)
}

// Validate checks a manually supplied number against the numeric and floor rules
func (p NumberingPolicy) Validate(number string) error {
	n, ok := p.Parse(number)
	if !ok {
		if p.Prefix != "" {
			return shared.NewValidationError("invoice_number",
				fmt.Sprintf("invoice number must be %q followed by digits", p.Prefix))
		}
		return shared.NewValidationError("invoice_number", "invoice number must contain only digits")
	}
	if n < p.Floor {
		return shared.NewValidationError("invoice_number",
			fmt.Sprintf("invoice number must be at least %d", p.Floor))
	}
	if n > maxCounter {
		return shared.NewValidationError("invoice_number",
			fmt.Sprintf("invoice number must have at most %d significant digits", maxNumberWidth))
	}
	return nil
}

// Canonical validates number and returns it in the form Format produces.
// "01000" and "1000" name the same counter value and must be stored alike.
func (p NumberingPolicy) Canonical(number string) (string, error) {
	if err := p.Validate(number); err != nil {
		return "", err
	}
	n, _ := p.Parse(number)
	return p.Format(n), nil
}
