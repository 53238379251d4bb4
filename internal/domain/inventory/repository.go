package inventory

import (
	"context"

	"github.com/google/uuid"
)

// ProductRepository reads and writes the stock-carrying product rows
type ProductRepository interface {
	// FindByIDForTenant returns shared.ErrNotFound when the product is absent or owned by another tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Product, error)
	// FindByIDForUpdate loads the product and, where the engine supports it, row-locks it for the transaction
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Product, error)
	FindByIDsForTenant(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Product, error)
	Save(ctx context.Context, product *Product) error
	// UpdateStock writes only the stock quantity and updated-at columns
	UpdateStock(ctx context.Context, product *Product) error
}

// InventoryTransactionRepository is append-only: there is no update or delete
type InventoryTransactionRepository interface {
	Create(ctx context.Context, tx *InventoryTransaction) error
	FindBySource(ctx context.Context, tenantID uuid.UUID, sourceType SourceType, sourceID uuid.UUID) ([]InventoryTransaction, error)
	FindByProduct(ctx context.Context, tenantID, productID uuid.UUID) ([]InventoryTransaction, error)
}
