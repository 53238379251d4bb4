package persistence

import (
	"context"

	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPaymentRepository implements sales.PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// Create inserts payments in one statement
func (r *GormPaymentRepository) Create(ctx context.Context, payments ...*sales.Payment) error {
	if len(payments) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(payments).Error
}

// FindBySale returns the payments of a sale ordered by payment time
func (r *GormPaymentRepository) FindBySale(ctx context.Context, tenantID, saleID uuid.UUID) ([]sales.Payment, error) {
	var payments []sales.Payment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sale_id = ?", tenantID, saleID).
		Order("paid_at, id").
		Find(&payments).Error
	return payments, err
}

// FindByCustomer returns every payment of the customer regardless of status
func (r *GormPaymentRepository) FindByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]sales.Payment, error) {
	var payments []sales.Payment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Order("paid_at, id").
		Find(&payments).Error
	return payments, err
}

// FindBySales returns the payments of the given sales
func (r *GormPaymentRepository) FindBySales(ctx context.Context, tenantID uuid.UUID, saleIDs []uuid.UUID) ([]sales.Payment, error) {
	if len(saleIDs) == 0 {
		return nil, nil
	}
	var payments []sales.Payment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sale_id IN ?", tenantID, saleIDs).
		Order("sale_id, paid_at, id").
		Find(&payments).Error
	return payments, err
}

// DeleteBySale removes the payment rows of a sale
func (r *GormPaymentRepository) DeleteBySale(ctx context.Context, tenantID, saleID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND sale_id = ?", tenantID, saleID).
		Delete(&sales.Payment{}).Error
}

// Update writes the status fields of an existing payment
func (r *GormPaymentRepository) Update(ctx context.Context, payment *sales.Payment) error {
	result := r.db.WithContext(ctx).
		Model(&sales.Payment{}).
		Where("tenant_id = ? AND id = ?", payment.TenantID, payment.ID).
		Updates(map[string]any{
			"status":     payment.Status,
			"voided_at":  payment.VoidedAt,
			"reference":  payment.Reference,
			"updated_at": payment.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFoundError("payment", payment.ID)
	}
	return nil
}

// Ensure GormPaymentRepository implements sales.PaymentRepository
var _ sales.PaymentRepository = (*GormPaymentRepository)(nil)
