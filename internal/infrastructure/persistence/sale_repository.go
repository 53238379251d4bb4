package persistence

import (
	"context"
	"time"

	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// saleModification is the last writer of a stored sale
type saleModification struct {
	ModifiedBy *uuid.UUID
	ModifiedAt time.Time
}

// GormSaleRepository implements sales.SaleRepository using GORM
type GormSaleRepository struct {
	db *gorm.DB
}

// NewGormSaleRepository creates a new GormSaleRepository
func NewGormSaleRepository(db *gorm.DB) *GormSaleRepository {
	return &GormSaleRepository{db: db}
}

func (r *GormSaleRepository) withChildren(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("paid_at, id") })
}

// FindByIDForTenant loads a sale with items and payments
func (r *GormSaleRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*sales.Sale, error) {
	var sale sales.Sale
	err := r.withChildren(r.db.WithContext(ctx)).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&sale).Error
	if err != nil {
		return nil, notFoundOr(err, "sale", id)
	}
	return &sale, nil
}

// FindByIDForUpdate loads a sale with items and payments and row-locks the header
func (r *GormSaleRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*sales.Sale, error) {
	var sale sales.Sale
	err := r.withChildren(forUpdate(r.db.WithContext(ctx))).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&sale).Error
	if err != nil {
		return nil, notFoundOr(err, "sale", id)
	}
	return &sale, nil
}

// Create inserts the sale header and its items. Payments go through the payment repository.
func (r *GormSaleRepository) Create(ctx context.Context, sale *sales.Sale) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(sale).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.NewNumberingConflictError("invoice number "+sale.InvoiceNumber+" is already taken", err)
		}
		return err
	}
	if len(sale.Items) == 0 {
		return nil
	}
	return db.Create(&sale.Items).Error
}

// SaveWithLock writes the header only if the stored version still equals expectedVersion
func (r *GormSaleRepository) SaveWithLock(ctx context.Context, sale *sales.Sale, expectedVersion int) error {
	result := r.db.WithContext(ctx).
		Model(&sales.Sale{}).
		Where("tenant_id = ? AND id = ? AND version = ?", sale.TenantID, sale.ID, expectedVersion).
		Updates(map[string]any{
			"invoice_number":    sale.InvoiceNumber,
			"invoice_date":      sale.InvoiceDate,
			"customer_id":       sale.CustomerID,
			"subtotal":          sale.Subtotal,
			"tax_total":         sale.TaxTotal,
			"discount":          sale.Discount,
			"grand_total":       sale.GrandTotal,
			"paid_amount":       sale.PaidAmount,
			"payment_status":    sale.PaymentStatus,
			"finalized":         sale.Finalized,
			"finalized_at":      sale.FinalizedAt,
			"locked":            sale.Locked,
			"locked_at":         sale.LockedAt,
			"concurrency_token": sale.ConcurrencyToken,
			"deleted":           sale.Deleted,
			"deleted_by":        sale.DeletedBy,
			"deleted_at":        sale.DeletedAt,
			"modified_by":       sale.ModifiedBy,
			"modified_at":       sale.ModifiedAt,
			"notes":             sale.Notes,
			"version":           sale.Version,
			"updated_at":        sale.UpdatedAt,
		})
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return shared.NewNumberingConflictError("invoice number "+sale.InvoiceNumber+" is already taken", result.Error)
		}
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var stored saleModification
	err := r.db.WithContext(ctx).
		Model(&sales.Sale{}).
		Select("modified_by", "modified_at").
		Where("tenant_id = ? AND id = ?", sale.TenantID, sale.ID).
		Take(&stored).Error
	if err != nil {
		return notFoundOr(err, "sale", sale.ID)
	}
	return shared.NewConcurrencyConflictError(stored.ModifiedBy, stored.ModifiedAt)
}

// ReplaceItems deletes the stored lines of the sale and inserts sale.Items
func (r *GormSaleRepository) ReplaceItems(ctx context.Context, sale *sales.Sale) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("tenant_id = ? AND sale_id = ?", sale.TenantID, sale.ID).
		Delete(&sales.SaleItem{}).Error; err != nil {
		return err
	}
	if len(sale.Items) == 0 {
		return nil
	}
	return db.Create(&sale.Items).Error
}

// CurrentVersion reads the persisted version counter
func (r *GormSaleRepository) CurrentVersion(ctx context.Context, tenantID, id uuid.UUID) (int, error) {
	var version int
	err := r.db.WithContext(ctx).
		Model(&sales.Sale{}).
		Select("version").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&version).Error
	if err != nil {
		return 0, notFoundOr(err, "sale", id)
	}
	return version, nil
}

// ListInvoiceNumbers returns every number the tenant ever used, deleted sales included
func (r *GormSaleRepository) ListInvoiceNumbers(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	var numbers []string
	err := r.db.WithContext(ctx).
		Model(&sales.Sale{}).
		Where("tenant_id = ? AND invoice_number <> ''", tenantID).
		Pluck("invoice_number", &numbers).Error
	return numbers, err
}

// InvoiceNumberInUse reports whether a non-deleted sale other than excludeID carries number
func (r *GormSaleRepository) InvoiceNumberInUse(ctx context.Context, tenantID uuid.UUID, number string, excludeID *uuid.UUID) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&sales.Sale{}).
		Where("tenant_id = ? AND invoice_number = ? AND deleted = ?", tenantID, number, false)
	if excludeID != nil {
		query = query.Where("id <> ?", *excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindActiveByCustomer returns non-deleted finalized sales of a customer
func (r *GormSaleRepository) FindActiveByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]sales.Sale, error) {
	var result []sales.Sale
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ? AND deleted = ? AND finalized = ?", tenantID, customerID, false, true).
		Order("invoice_date, id").
		Find(&result).Error
	return result, err
}

// FindActiveForTenant pages through non-deleted sales ordered by id
func (r *GormSaleRepository) FindActiveForTenant(ctx context.Context, tenantID uuid.UUID, after uuid.UUID, limit int) ([]sales.Sale, error) {
	var result []sales.Sale
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND deleted = ?", tenantID, false)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	err := query.Order("id").Limit(limit).Find(&result).Error
	return result, err
}

// UpdatePaymentState writes only paid amount and payment status
func (r *GormSaleRepository) UpdatePaymentState(ctx context.Context, sale *sales.Sale) error {
	result := r.db.WithContext(ctx).
		Model(&sales.Sale{}).
		Where("tenant_id = ? AND id = ?", sale.TenantID, sale.ID).
		Updates(map[string]any{
			"paid_amount":    sale.PaidAmount,
			"payment_status": sale.PaymentStatus,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFoundError("sale", sale.ID)
	}
	return nil
}

// LockOlderThan marks unlocked finalized sales created before cutoff as locked
func (r *GormSaleRepository) LockOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&sales.Sale{}).
		Where("tenant_id = ? AND locked = ? AND finalized = ? AND deleted = ? AND created_at < ?",
			tenantID, false, true, false, cutoff).
		Updates(map[string]any{
			"locked":    true,
			"locked_at": at,
		})
	return result.RowsAffected, result.Error
}

// Ensure GormSaleRepository implements sales.SaleRepository
var _ sales.SaleRepository = (*GormSaleRepository)(nil)
