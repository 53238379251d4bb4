package partner

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleContribution is what one non-deleted, finalized sale contributes to a customer balance
type SaleContribution struct {
	GrandTotal decimal.Decimal
	Date       time.Time
}

// PaymentContribution is what one counted payment contributes to a customer balance
type PaymentContribution struct {
	Amount decimal.Decimal
	Date   time.Time
}

// BalanceView is the derived state of a customer's account
type BalanceView struct {
	TotalSales     decimal.Decimal
	TotalPayments  decimal.Decimal
	PendingBalance decimal.Decimal
	LastActivityAt *time.Time
	LastPaymentAt  *time.Time
}

// Equal compares the monetary part of two views
func (v BalanceView) Equal(other BalanceView) bool {
	return v.TotalSales.Equal(other.TotalSales) &&
		v.TotalPayments.Equal(other.TotalPayments) &&
		v.PendingBalance.Equal(other.PendingBalance)
}

// RecomputeBalance derives a customer's balance from its source records.
// Negative pending balances are kept: they are customer credit.
func RecomputeBalance(sales []SaleContribution, payments []PaymentContribution) BalanceView {
	view := BalanceView{
		TotalSales:    decimal.Zero,
		TotalPayments: decimal.Zero,
	}
	var lastActivity, lastPayment time.Time

	for _, s := range sales {
		view.TotalSales = view.TotalSales.Add(s.GrandTotal)
		if s.Date.After(lastActivity) {
			lastActivity = s.Date
		}
	}
	for _, p := range payments {
		view.TotalPayments = view.TotalPayments.Add(p.Amount)
		if p.Date.After(lastPayment) {
			lastPayment = p.Date
		}
	}
	if lastPayment.After(lastActivity) {
		lastActivity = lastPayment
	}

	view.PendingBalance = view.TotalSales.Sub(view.TotalPayments)
	if !lastActivity.IsZero() {
		view.LastActivityAt = &lastActivity
	}
	if !lastPayment.IsZero() {
		view.LastPaymentAt = &lastPayment
	}
	return view
}
