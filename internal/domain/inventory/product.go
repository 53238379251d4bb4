package inventory

import (
	"time"

	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UnitType identifies the unit a sale line quantity is expressed in
type UnitType string

const (
	// UnitTypeBase is the unit stock is counted in
	UnitTypeBase UnitType = "BASE"
	// UnitTypePack is a larger selling unit worth ConversionFactor base units
	UnitTypePack UnitType = "PACK"
)

// IsValid returns true if the unit type is known
func (u UnitType) IsValid() bool {
	return u == UnitTypeBase || u == UnitTypePack
}

// Product is the stock-carrying catalog record mutated by the stock ledger.
// StockQuantity is always expressed in base units.
type Product struct {
	shared.TenantAggregateRoot
	SKU              string          `gorm:"type:varchar(64);not null;index"`
	Name             string          `gorm:"type:varchar(200);not null"`
	BaseUnit         string          `gorm:"type:varchar(20);not null;default:'pcs'"`
	PackUnit         string          `gorm:"type:varchar(20)"`
	ConversionFactor decimal.Decimal `gorm:"type:decimal(18,4);not null;default:1"`
	StockQuantity    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	IsActive         bool            `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (Product) TableName() string {
	return "products"
}

// NewProduct creates a product with an opening stock level in base units
func NewProduct(tenantID uuid.UUID, sku, name string, conversionFactor, openingStock decimal.Decimal) (*Product, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewValidationError("tenant_id", "tenant ID cannot be empty")
	}
	if sku == "" {
		return nil, shared.NewValidationError("sku", "SKU cannot be empty")
	}
	if name == "" {
		return nil, shared.NewValidationError("name", "product name cannot be empty")
	}
	if !conversionFactor.IsPositive() {
		return nil, shared.NewValidationError("conversion_factor", "conversion factor must be positive")
	}
	if openingStock.IsNegative() {
		return nil, shared.NewValidationError("stock_quantity", "opening stock cannot be negative")
	}
	return &Product{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		SKU:                 sku,
		Name:                name,
		BaseUnit:            "pcs",
		ConversionFactor:    conversionFactor,
		StockQuantity:       openingStock,
		IsActive:            true,
	}, nil
}

// ToBaseQuantity converts a quantity expressed in unit into base units
func (p *Product) ToBaseQuantity(quantity decimal.Decimal, unit UnitType) (decimal.Decimal, error) {
	switch unit {
	case UnitTypeBase, "":
		return quantity, nil
	case UnitTypePack:
		if !p.ConversionFactor.IsPositive() {
			return decimal.Zero, shared.NewInvariantViolation("product " + p.ID.String() + " has a non-positive conversion factor")
		}
		return quantity.Mul(p.ConversionFactor).Round(4), nil
	default:
		return decimal.Zero, shared.NewValidationError("unit_type", "unknown unit type "+string(unit))
	}
}

// CanCover reports whether current stock can absorb a consumption of baseQuantity
func (p *Product) CanCover(baseQuantity decimal.Decimal) bool {
	return p.StockQuantity.GreaterThanOrEqual(baseQuantity)
}

// AdjustStock adds a signed base-unit delta and returns the balance before and after.
// A consumption that would drive stock below zero is rejected.
func (p *Product) AdjustStock(delta decimal.Decimal, at time.Time) (before, after decimal.Decimal, err error) {
	before = p.StockQuantity
	after = before.Add(delta)
	if delta.IsNegative() && after.IsNegative() {
		return before, before, shared.NewStockConflictError(p.ID, before, delta.Neg())
	}
	p.StockQuantity = after
	p.Touch(at)
	return before, after, nil
}
