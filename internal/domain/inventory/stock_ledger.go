package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockLedger applies stock movements and appends the matching ledger rows.
// It must be built from repositories bound to the caller's transaction so the
// product update and the ledger row commit or roll back together.
type StockLedger struct {
	products     ProductRepository
	transactions InventoryTransactionRepository
	now          func() time.Time
}

// NewStockLedger creates a stock ledger over transaction-scoped repositories
func NewStockLedger(products ProductRepository, transactions InventoryTransactionRepository) *StockLedger {
	return &StockLedger{
		products:     products,
		transactions: transactions,
		now:          time.Now,
	}
}

// WithClock overrides the time source
func (l *StockLedger) WithClock(now func() time.Time) *StockLedger {
	l.now = now
	return l
}

// Apply adds a signed base-unit delta to the product and appends one ledger row.
// Positive deltas restock, negative deltas consume. A zero delta is a no-op.
func (l *StockLedger) Apply(ctx context.Context, tenantID, productID uuid.UUID, delta decimal.Decimal, ref SourceRef) (*InventoryTransaction, error) {
	if delta.IsZero() {
		return nil, nil
	}

	product, err := l.products.FindByIDForUpdate(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}

	at := l.now()
	before, after, err := product.AdjustStock(delta, at)
	if err != nil {
		return nil, err
	}
	if err := l.products.UpdateStock(ctx, product); err != nil {
		return nil, fmt.Errorf("update stock of product %s: %w", productID, err)
	}

	entry, err := NewInventoryTransaction(tenantID, productID, delta, before, after, ref, at)
	if err != nil {
		return nil, err
	}
	if err := l.transactions.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("append inventory transaction: %w", err)
	}
	return entry, nil
}

// Movement is one line's contribution to the ledger, in base units.
// Quantity is the consumed amount and is positive for a normal sale line.
type Movement struct {
	ProductID uuid.UUID
	LineID    *uuid.UUID
	Quantity  decimal.Decimal
}

// Consume applies a negative delta for every movement
func (l *StockLedger) Consume(ctx context.Context, tenantID uuid.UUID, movements []Movement, ref SourceRef) error {
	for _, m := range movements {
		lineRef := ref
		lineRef.LineID = m.LineID
		lineRef.Reversal = false
		if _, err := l.Apply(ctx, tenantID, m.ProductID, m.Quantity.Neg(), lineRef); err != nil {
			return err
		}
	}
	return nil
}

// Reverse writes the equal-and-opposite entry for every movement previously consumed
func (l *StockLedger) Reverse(ctx context.Context, tenantID uuid.UUID, movements []Movement, ref SourceRef) error {
	for _, m := range movements {
		lineRef := ref
		lineRef.LineID = m.LineID
		lineRef.Reversal = true
		if _, err := l.Apply(ctx, tenantID, m.ProductID, m.Quantity, lineRef); err != nil {
			return err
		}
	}
	return nil
}
