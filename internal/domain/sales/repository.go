package sales

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SaleRepository persists the Sale aggregate with its items.
// All finders exclude other tenants' rows and return shared.ErrNotFound when nothing matches.
type SaleRepository interface {
	// FindByIDForTenant loads the sale with items and payments
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Sale, error)
	// FindByIDForUpdate loads the sale with items and payments and, where supported, row-locks it
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Sale, error)
	// Create inserts the sale header and its items
	Create(ctx context.Context, sale *Sale) error
	// SaveWithLock updates the header only if the stored version still equals expectedVersion
	SaveWithLock(ctx context.Context, sale *Sale, expectedVersion int) error
	// ReplaceItems deletes the stored lines of the sale and inserts sale.Items
	ReplaceItems(ctx context.Context, sale *Sale) error
	// CurrentVersion reads the persisted version counter
	CurrentVersion(ctx context.Context, tenantID, id uuid.UUID) (int, error)
	// ListInvoiceNumbers returns every number the tenant ever used, deleted sales included
	ListInvoiceNumbers(ctx context.Context, tenantID uuid.UUID) ([]string, error)
	// InvoiceNumberInUse reports whether a non-deleted sale other than excludeID carries number
	InvoiceNumberInUse(ctx context.Context, tenantID uuid.UUID, number string, excludeID *uuid.UUID) (bool, error)
	// FindActiveByCustomer returns non-deleted finalized sales of a customer, without items
	FindActiveByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]Sale, error)
	// FindActiveForTenant returns non-deleted sales without items, ordered by id, after the cursor
	FindActiveForTenant(ctx context.Context, tenantID uuid.UUID, after uuid.UUID, limit int) ([]Sale, error)
	// UpdatePaymentState writes only paid amount and payment status
	UpdatePaymentState(ctx context.Context, sale *Sale) error
	// LockOlderThan marks unlocked, finalized, non-deleted sales created before cutoff as locked
	LockOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff, at time.Time) (int64, error)
}

// PaymentRepository persists payments
type PaymentRepository interface {
	Create(ctx context.Context, payments ...*Payment) error
	FindBySale(ctx context.Context, tenantID, saleID uuid.UUID) ([]Payment, error)
	// FindByCustomer returns every payment of the customer regardless of status
	FindByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]Payment, error)
	// FindBySales returns the payments of the given sales
	FindBySales(ctx context.Context, tenantID uuid.UUID, saleIDs []uuid.UUID) ([]Payment, error)
	// DeleteBySale removes the payment rows of a sale; used when an edit replaces the payment set
	DeleteBySale(ctx context.Context, tenantID, saleID uuid.UUID) error
	// Update writes status changes of existing payments
	Update(ctx context.Context, payment *Payment) error
}

// InvoiceVersionRepository is append-only
type InvoiceVersionRepository interface {
	Create(ctx context.Context, version *InvoiceVersion) error
	// FindBySale returns the versions of a sale ordered by version number
	FindBySale(ctx context.Context, tenantID, saleID uuid.UUID) ([]InvoiceVersion, error)
	FindBySaleAndNumber(ctx context.Context, tenantID, saleID uuid.UUID, versionNumber int) (*InvoiceVersion, error)
}
