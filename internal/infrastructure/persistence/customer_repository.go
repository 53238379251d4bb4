package persistence

import (
	"context"

	"github.com/erp/invoicing/internal/domain/partner"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormCustomerRepository implements partner.CustomerRepository using GORM
type GormCustomerRepository struct {
	db *gorm.DB
}

// NewGormCustomerRepository creates a new GormCustomerRepository
func NewGormCustomerRepository(db *gorm.DB) *GormCustomerRepository {
	return &GormCustomerRepository{db: db}
}

// FindByIDForTenant finds a customer by ID within a tenant
func (r *GormCustomerRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*partner.Customer, error) {
	var customer partner.Customer
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&customer).Error; err != nil {
		return nil, notFoundOr(err, "customer", id)
	}
	return &customer, nil
}

// FindByIDForUpdate finds a customer and row-locks it for the balance write that follows
func (r *GormCustomerRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*partner.Customer, error) {
	var customer partner.Customer
	if err := forUpdate(r.db.WithContext(ctx)).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&customer).Error; err != nil {
		return nil, notFoundOr(err, "customer", id)
	}
	return &customer, nil
}

// Save creates or updates a customer
func (r *GormCustomerRepository) Save(ctx context.Context, customer *partner.Customer) error {
	return r.db.WithContext(ctx).Save(customer).Error
}

// SaveBalance writes only the cached balance columns
func (r *GormCustomerRepository) SaveBalance(ctx context.Context, customer *partner.Customer) error {
	result := r.db.WithContext(ctx).
		Model(&partner.Customer{}).
		Where("tenant_id = ? AND id = ?", customer.TenantID, customer.ID).
		Updates(map[string]any{
			"total_sales":      customer.TotalSales,
			"total_payments":   customer.TotalPayments,
			"pending_balance":  customer.PendingBalance,
			"last_activity_at": customer.LastActivityAt,
			"last_payment_at":  customer.LastPaymentAt,
			"reconciled_at":    customer.ReconciledAt,
			"updated_at":       customer.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFoundError("customer", customer.ID)
	}
	return nil
}

// FindIDsForTenant lists every customer id of a tenant
func (r *GormCustomerRepository) FindIDsForTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&partner.Customer{}).
		Where("tenant_id = ?", tenantID).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// Ensure GormCustomerRepository implements partner.CustomerRepository
var _ partner.CustomerRepository = (*GormCustomerRepository)(nil)
