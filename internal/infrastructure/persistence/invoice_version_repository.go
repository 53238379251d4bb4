package persistence

import (
	"context"
	"fmt"

	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormInvoiceVersionRepository implements sales.InvoiceVersionRepository using GORM.
// Rows are never updated or deleted.
type GormInvoiceVersionRepository struct {
	db *gorm.DB
}

// NewGormInvoiceVersionRepository creates a new GormInvoiceVersionRepository
func NewGormInvoiceVersionRepository(db *gorm.DB) *GormInvoiceVersionRepository {
	return &GormInvoiceVersionRepository{db: db}
}

// Create appends a version. A second archive of the same version number is a concurrent edit.
func (r *GormInvoiceVersionRepository) Create(ctx context.Context, version *sales.InvoiceVersion) error {
	if err := r.db.WithContext(ctx).Create(version).Error; err != nil {
		if isDuplicateKey(err) {
			return shared.NewConcurrencyConflictError(version.EditedBy, version.CreatedAt).
				WithCause(fmt.Errorf("version %d of sale %s already archived: %w", version.VersionNumber, version.SaleID, err))
		}
		return err
	}
	return nil
}

// FindBySale returns the versions of a sale ordered by version number
func (r *GormInvoiceVersionRepository) FindBySale(ctx context.Context, tenantID, saleID uuid.UUID) ([]sales.InvoiceVersion, error) {
	var versions []sales.InvoiceVersion
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sale_id = ?", tenantID, saleID).
		Order("version_number").
		Find(&versions).Error
	return versions, err
}

// FindBySaleAndNumber returns one archived version
func (r *GormInvoiceVersionRepository) FindBySaleAndNumber(ctx context.Context, tenantID, saleID uuid.UUID, versionNumber int) (*sales.InvoiceVersion, error) {
	var version sales.InvoiceVersion
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND sale_id = ? AND version_number = ?", tenantID, saleID, versionNumber).
		First(&version).Error
	if err != nil {
		return nil, notFoundOr(err, "invoice version", saleID)
	}
	return &version, nil
}

// Ensure GormInvoiceVersionRepository implements sales.InvoiceVersionRepository
var _ sales.InvoiceVersionRepository = (*GormInvoiceVersionRepository)(nil)
