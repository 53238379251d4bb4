package sales

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentState is the paid amount and status an invoice should carry given its payments.
// Collected is everything cleared; PaidAmount is capped at the grand total and the
// remainder is reported as Excess.
type PaymentState struct {
	Collected  decimal.Decimal
	PaidAmount decimal.Decimal
	Excess     decimal.Decimal
	Status     PaymentStatus
}

// Overpaid reports whether cleared payments exceed the grand total
func (s PaymentState) Overpaid() bool {
	return s.Excess.IsPositive()
}

// DerivePaymentState recomputes an invoice's payment state from its payment records
func DerivePaymentState(grandTotal decimal.Decimal, payments []Payment) PaymentState {
	collected := decimal.Zero
	for i := range payments {
		if payments[i].Counts() {
			collected = collected.Add(payments[i].Amount)
		}
	}

	paid := decimal.Min(collected, grandTotal)
	if paid.IsNegative() {
		paid = decimal.Zero
	}

	state := PaymentState{
		Collected:  collected,
		PaidAmount: paid,
		Excess:     collected.Sub(paid),
	}
	switch {
	case paid.GreaterThanOrEqual(grandTotal):
		state.Status = PaymentStatusPaid
	case paid.IsZero():
		state.Status = PaymentStatusPending
	default:
		state.Status = PaymentStatusPartial
	}
	return state
}

// DuplicatePaymentGroup is a set of counted payments on one sale sharing the same amount
type DuplicatePaymentGroup struct {
	SaleID     uuid.UUID
	Amount     decimal.Decimal
	PaymentIDs []uuid.UUID
}

// FindDuplicatePayments groups non-void payments by (sale, amount) and returns groups of two or more
func FindDuplicatePayments(payments []Payment) []DuplicatePaymentGroup {
	type key struct {
		sale   uuid.UUID
		amount string
	}
	groups := make(map[key]*DuplicatePaymentGroup)
	var order []key

	for i := range payments {
		p := &payments[i]
		if p.SaleID == nil || p.Status == PaymentRecordVoid {
			continue
		}
		k := key{sale: *p.SaleID, amount: p.Amount.String()}
		g, ok := groups[k]
		if !ok {
			g = &DuplicatePaymentGroup{SaleID: *p.SaleID, Amount: p.Amount}
			groups[k] = g
			order = append(order, k)
		}
		g.PaymentIDs = append(g.PaymentIDs, p.ID)
	}

	var out []DuplicatePaymentGroup
	for _, k := range order {
		if g := groups[k]; len(g.PaymentIDs) > 1 {
			out = append(out, *g)
		}
	}
	return out
}
