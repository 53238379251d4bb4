package sales

import (
	"fmt"
	"sort"
	"time"

	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// OverpaymentSplit moves the excess of an overpaid invoice onto the customer account.
// Voided payments leave the invoice, Replacements re-attach the part of them the
// invoice keeps, and Credit carries the excess with no invoice attached.
type OverpaymentSplit struct {
	Voided       []*Payment
	Replacements []*Payment
	Credit       *Payment
}

// SplitOverpayment takes excess off the newest cleared payments of the sale.
// The voided payments are modified in place; replacements and credit are new rows.
// Afterwards the invoice collects exactly its grand total while the customer's total
// payments are unchanged.
func SplitOverpayment(sale *Sale, excess decimal.Decimal, at time.Time) (*OverpaymentSplit, error) {
	if !excess.IsPositive() {
		return nil, shared.NewValidationError("excess", "overpayment must be positive")
	}
	if sale.CustomerID == nil {
		return nil, shared.NewDomainError("NO_CUSTOMER_ACCOUNT", "a cash invoice has no customer account to credit")
	}

	counted := make([]*Payment, 0, len(sale.Payments))
	total := decimal.Zero
	for i := range sale.Payments {
		if sale.Payments[i].Counts() {
			counted = append(counted, &sale.Payments[i])
			total = total.Add(sale.Payments[i].Amount)
		}
	}
	if total.LessThan(excess) {
		return nil, shared.NewInvariantViolation(fmt.Sprintf(
			"overpayment %s exceeds the %s collected on invoice %s", excess, total, sale.InvoiceNumber))
	}
	sort.SliceStable(counted, func(i, j int) bool {
		return counted[i].PaidAt.After(counted[j].PaidAt)
	})

	split := &OverpaymentSplit{}
	remaining := excess
	for _, p := range counted {
		if !remaining.IsPositive() {
			break
		}
		if p.Amount.GreaterThan(remaining) {
			keep, err := NewPayment(sale.TenantID, p.Amount.Sub(remaining), p.Mode, PaymentRecordCleared, p.PaidAt)
			if err != nil {
				return nil, err
			}
			keep.Reference = p.Reference
			keep.Synthetic = p.Synthetic
			keep.CreatedBy = p.CreatedBy
			keep.AttachTo(sale)
			split.Replacements = append(split.Replacements, keep)
			remaining = decimal.Zero
		} else {
			remaining = remaining.Sub(p.Amount)
		}
		p.Void(at)
		split.Voided = append(split.Voided, p)
	}

	newest := split.Voided[0]
	credit, err := NewPayment(sale.TenantID, excess, newest.Mode, PaymentRecordCleared, newest.PaidAt)
	if err != nil {
		return nil, err
	}
	customerID := *sale.CustomerID
	credit.CustomerID = &customerID
	credit.CreatedBy = newest.CreatedBy
	credit.Reference = "overpayment of invoice " + sale.InvoiceNumber
	split.Credit = credit
	return split, nil
}
