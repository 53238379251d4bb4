package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/invoicing/internal/domain/partner"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/google/uuid"
)

// BalanceResult describes one confirmation of a customer's cached balance
type BalanceResult struct {
	CustomerID uuid.UUID
	// Previous is the cache as it stood before confirmation, provisional adjustments included
	Previous partner.BalanceView
	Current  partner.BalanceView
	// Drifted is true when any cached total disagreed with the recomputation
	Drifted bool
	// PendingMismatch is true when the provisional pending balance disagreed with the recomputation
	PendingMismatch bool
}

// BalanceReconciler re-derives customer balances from finalized sales and cleared payments.
// It is idempotent: confirming twice without an intervening mutation changes nothing.
type BalanceReconciler struct {
	now func() time.Time
}

// NewBalanceReconciler creates a balance reconciler
func NewBalanceReconciler() *BalanceReconciler {
	return &BalanceReconciler{now: time.Now}
}

// WithClock overrides the time source
func (r *BalanceReconciler) WithClock(now func() time.Time) *BalanceReconciler {
	r.now = now
	return r
}

// Recompute loads the customer for update and confirms its balance
func (r *BalanceReconciler) Recompute(ctx context.Context, repos TransactionalRepositories, tenantID, customerID uuid.UUID) (*BalanceResult, error) {
	customer, err := repos.CustomerRepo().FindByIDForUpdate(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	return r.Confirm(ctx, repos, customer)
}

// Confirm overwrites the customer's cached totals with a recomputation from source
// records and persists them. The customer must have been loaded in the same transaction.
func (r *BalanceReconciler) Confirm(ctx context.Context, repos TransactionalRepositories, customer *partner.Customer) (*BalanceResult, error) {
	activeSales, err := repos.SaleRepo().FindActiveByCustomer(ctx, customer.TenantID, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("load sales of customer %s: %w", customer.ID, err)
	}
	payments, err := repos.PaymentRepo().FindByCustomer(ctx, customer.TenantID, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("load payments of customer %s: %w", customer.ID, err)
	}

	view := partner.RecomputeBalance(saleContributions(activeSales), paymentContributions(payments))
	result := &BalanceResult{
		CustomerID:      customer.ID,
		Previous:        customer.Balance(),
		PendingMismatch: !customer.PendingBalance.Equal(view.PendingBalance),
	}
	result.Drifted = customer.ApplyBalance(view, r.now())
	result.Current = customer.Balance()

	if err := repos.CustomerRepo().SaveBalance(ctx, customer); err != nil {
		return nil, fmt.Errorf("save balance of customer %s: %w", customer.ID, err)
	}
	return result, nil
}

func saleContributions(list []sales.Sale) []partner.SaleContribution {
	out := make([]partner.SaleContribution, 0, len(list))
	for i := range list {
		if list[i].Deleted || !list[i].Finalized {
			continue
		}
		out = append(out, partner.SaleContribution{GrandTotal: list[i].GrandTotal, Date: list[i].InvoiceDate})
	}
	return out
}

func paymentContributions(list []sales.Payment) []partner.PaymentContribution {
	out := make([]partner.PaymentContribution, 0, len(list))
	for i := range list {
		if !list[i].Counts() {
			continue
		}
		out = append(out, partner.PaymentContribution{Amount: list[i].Amount, Date: list[i].PaidAt})
	}
	return out
}
