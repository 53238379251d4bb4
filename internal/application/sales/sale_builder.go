package sales

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// loadProducts fetches every product referenced by items plus extra, keyed by id.
// A product missing from the tenant is a not-found error.
func loadProducts(ctx context.Context, repo inventory.ProductRepository, tenantID uuid.UUID, items []SaleItemInput, extra ...uuid.UUID) (map[uuid.UUID]*inventory.Product, error) {
	seen := make(map[uuid.UUID]struct{}, len(items)+len(extra))
	ids := make([]uuid.UUID, 0, len(items)+len(extra))
	for _, id := range extra {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, in := range items {
		if _, ok := seen[in.ProductID]; !ok {
			seen[in.ProductID] = struct{}{}
			ids = append(ids, in.ProductID)
		}
	}

	found, err := repo.FindByIDsForTenant(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	products := make(map[uuid.UUID]*inventory.Product, len(found))
	for i := range found {
		products[found[i].ID] = &found[i]
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, shared.NewNotFoundError("product", id)
		}
	}
	return products, nil
}

// buildItems turns the requested lines into sale items using the loaded products
func buildItems(products map[uuid.UUID]*inventory.Product, inputs []SaleItemInput) ([]sales.SaleItem, error) {
	items := make([]sales.SaleItem, 0, len(inputs))
	for i, in := range inputs {
		product := products[in.ProductID]
		if product == nil {
			return nil, shared.NewNotFoundError("product", in.ProductID)
		}
		if !product.IsActive {
			return nil, shared.NewValidationError(fmt.Sprintf("items[%d].product_id", i),
				fmt.Sprintf("product %s is not active", product.SKU))
		}
		item, err := sales.NewSaleItem(product, inventory.UnitType(in.UnitType), in.Quantity, in.UnitPrice, in.TaxAmount)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// checkStock verifies every product can cover the summed demand.
// credit is stock about to be returned by reversing old lines in the same transaction.
func checkStock(products map[uuid.UUID]*inventory.Product, demand, credit map[uuid.UUID]decimal.Decimal) error {
	ids := make([]uuid.UUID, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sortIDs(ids)

	for _, id := range ids {
		product := products[id]
		if product == nil {
			return shared.NewNotFoundError("product", id)
		}
		available := product.StockQuantity.Add(credit[id])
		if available.LessThan(demand[id]) {
			return shared.NewStockConflictError(id, available, demand[id])
		}
	}
	return nil
}

// buildPayments creates the payment rows of a finalized sale.
// Cash sales cannot take explicit payments: they get one synthetic settlement instead.
func buildPayments(sale *sales.Sale, inputs []PaymentInput, actor uuid.UUID, now time.Time) ([]sales.Payment, error) {
	if sale.IsCashSale() {
		if len(inputs) > 0 {
			return nil, shared.NewValidationError("payments",
				"cash invoices are settled automatically; attach a customer to record payments")
		}
		return cashSettlement(sale, actor, now)
	}

	payments := make([]sales.Payment, 0, len(inputs))
	for i, in := range inputs {
		paidAt := now
		if in.PaidAt != nil && !in.PaidAt.IsZero() {
			paidAt = *in.PaidAt
		}
		p, err := sales.NewPayment(sale.TenantID, in.Amount, sales.PaymentMode(in.Mode), sales.PaymentRecordStatus(in.Status), paidAt)
		if err != nil {
			var de *shared.DomainError
			if errors.As(err, &de) && de.Field != "" {
				de.Field = fmt.Sprintf("payments[%d].%s", i, de.Field)
			}
			return nil, err
		}
		p.Reference = in.Reference
		p.CreatedBy = &actor
		p.AttachTo(sale)
		payments = append(payments, *p)
	}
	return payments, nil
}

// carryPayments re-creates the non-void payments of an edited sale against its new state.
// Cash sales drop them and are settled again.
func carryPayments(sale *sales.Sale, old []sales.Payment, actor uuid.UUID, now time.Time) ([]sales.Payment, error) {
	if sale.IsCashSale() {
		return cashSettlement(sale, actor, now)
	}
	payments := make([]sales.Payment, 0, len(old))
	for i := range old {
		if old[i].Status == sales.PaymentRecordVoid {
			continue
		}
		p, err := sales.NewPayment(sale.TenantID, old[i].Amount, old[i].Mode, old[i].Status, old[i].PaidAt)
		if err != nil {
			return nil, err
		}
		p.Reference = old[i].Reference
		p.Synthetic = old[i].Synthetic
		p.CreatedBy = &actor
		p.AttachTo(sale)
		payments = append(payments, *p)
	}
	return payments, nil
}

func cashSettlement(sale *sales.Sale, actor uuid.UUID, now time.Time) ([]sales.Payment, error) {
	if !sale.GrandTotal.IsPositive() {
		return nil, nil
	}
	p, err := sales.NewCashSettlement(sale, now)
	if err != nil {
		return nil, err
	}
	p.CreatedBy = &actor
	return []sales.Payment{*p}, nil
}

func paymentPointers(payments []sales.Payment) []*sales.Payment {
	out := make([]*sales.Payment, len(payments))
	for i := range payments {
		out[i] = &payments[i]
	}
	return out
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

func saleRef(sale *sales.Sale, actor uuid.UUID, reason string) inventory.SourceRef {
	return inventory.SourceRef{
		Type:       inventory.SourceTypeSale,
		ID:         sale.ID,
		Reference:  sale.InvoiceNumber,
		Reason:     reason,
		OperatorID: &actor,
	}
}
