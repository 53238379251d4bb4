package sales

import (
	"fmt"

	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleItem is one invoice line.
// LineTotal = Quantity * UnitPrice + TaxAmount.
// BaseQuantity is the stock consumed in base units, fixed when the line is written so
// reversals undo exactly what was applied even if the product's factor changes later.
type SaleItem struct {
	shared.BaseEntity
	TenantID     uuid.UUID          `gorm:"type:uuid;not null;index"`
	SaleID       uuid.UUID          `gorm:"type:uuid;not null;index"`
	ProductID    uuid.UUID          `gorm:"type:uuid;not null;index"`
	ProductName  string             `gorm:"type:varchar(200)"`
	UnitType     inventory.UnitType `gorm:"type:varchar(10);not null;default:'BASE'"`
	Quantity     decimal.Decimal    `gorm:"type:decimal(18,4);not null"`
	BaseQuantity decimal.Decimal    `gorm:"type:decimal(18,4);not null"`
	UnitPrice    decimal.Decimal    `gorm:"type:decimal(18,4);not null"`
	TaxAmount    decimal.Decimal    `gorm:"type:decimal(18,4);not null;default:0"`
	LineTotal    decimal.Decimal    `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the table name for GORM
func (SaleItem) TableName() string {
	return "sale_items"
}

// NewSaleItem builds a line for product, converting the quantity to base units
func NewSaleItem(product *inventory.Product, unit inventory.UnitType, quantity, unitPrice, taxAmount decimal.Decimal) (*SaleItem, error) {
	if product == nil {
		return nil, shared.NewValidationError("product_id", "product is required")
	}
	if unit == "" {
		unit = inventory.UnitTypeBase
	}
	if !unit.IsValid() {
		return nil, shared.NewValidationError("unit_type", fmt.Sprintf("unknown unit type %q", unit))
	}
	if !quantity.IsPositive() {
		return nil, shared.NewValidationError("quantity", "quantity must be positive")
	}
	if !unitPrice.IsPositive() {
		return nil, shared.NewValidationError("unit_price", "unit price must be positive")
	}
	if taxAmount.IsNegative() {
		return nil, shared.NewValidationError("tax_amount", "tax amount cannot be negative")
	}
	baseQty, err := product.ToBaseQuantity(quantity, unit)
	if err != nil {
		return nil, err
	}

	item := &SaleItem{
		BaseEntity:   shared.NewBaseEntity(),
		TenantID:     product.TenantID,
		ProductID:    product.ID,
		ProductName:  product.Name,
		UnitType:     unit,
		Quantity:     quantity,
		BaseQuantity: baseQty,
		UnitPrice:    unitPrice,
		TaxAmount:    taxAmount,
	}
	item.LineTotal = item.NetAmount().Add(taxAmount)
	return item, nil
}

// NetAmount is quantity times unit price, before tax
func (i *SaleItem) NetAmount() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

// Movement returns the line's stock consumption for the ledger
func (i *SaleItem) Movement() inventory.Movement {
	lineID := i.ID
	return inventory.Movement{
		ProductID: i.ProductID,
		LineID:    &lineID,
		Quantity:  i.BaseQuantity,
	}
}

// Movements collects the ledger movements of a set of lines
func Movements(items []SaleItem) []inventory.Movement {
	out := make([]inventory.Movement, 0, len(items))
	for i := range items {
		out = append(out, items[i].Movement())
	}
	return out
}

// BaseDemand sums base-unit consumption per product, so two lines of the same
// product in one request are checked against stock together
func BaseDemand(items []SaleItem) map[uuid.UUID]decimal.Decimal {
	demand := make(map[uuid.UUID]decimal.Decimal, len(items))
	for i := range items {
		demand[items[i].ProductID] = demand[items[i].ProductID].Add(items[i].BaseQuantity)
	}
	return demand
}
