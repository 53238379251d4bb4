package inventory

import (
	"time"

	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the direction and cause of a stock movement
type TransactionType string

const (
	// TransactionTypeConsumption is stock leaving through a document line
	TransactionTypeConsumption TransactionType = "CONSUMPTION"
	// TransactionTypeRestock is stock coming back in (returns, manual increases)
	TransactionTypeRestock TransactionType = "RESTOCK"
	// TransactionTypeReversal is the equal-and-opposite entry undoing an earlier movement
	TransactionTypeReversal TransactionType = "REVERSAL"
)

// IsValid returns true if the transaction type is valid
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeConsumption, TransactionTypeRestock, TransactionTypeReversal:
		return true
	}
	return false
}

// SourceType represents the document type that caused a stock movement
type SourceType string

const (
	SourceTypeSale             SourceType = "SALE"
	SourceTypeSaleReturn       SourceType = "SALE_RETURN"
	SourceTypeManualAdjustment SourceType = "MANUAL_ADJUSTMENT"
)

// IsValid returns true if the source type is valid
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeSale, SourceTypeSaleReturn, SourceTypeManualAdjustment:
		return true
	}
	return false
}

// SourceRef identifies the document line a ledger movement belongs to
type SourceRef struct {
	Type       SourceType
	ID         uuid.UUID
	LineID     *uuid.UUID
	Reference  string // human readable document number, e.g. the invoice number
	Reason     string
	OperatorID *uuid.UUID
	// Reversal marks the movement as undoing an earlier one for the same line
	Reversal bool
}

// InventoryTransaction is an immutable, append-only stock ledger row.
// Corrections are made with new rows, never by updating existing ones.
type InventoryTransaction struct {
	shared.BaseEntity
	TenantID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_inv_tx_tenant_product,priority:1"`
	ProductID       uuid.UUID       `gorm:"type:uuid;not null;index:idx_inv_tx_tenant_product,priority:2"`
	TransactionType TransactionType `gorm:"type:varchar(20);not null"`
	Delta           decimal.Decimal `gorm:"type:decimal(18,4);not null"` // signed, base units
	BalanceBefore   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	BalanceAfter    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	SourceType      SourceType      `gorm:"type:varchar(30);not null;index:idx_inv_tx_source,priority:1"`
	SourceID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_inv_tx_source,priority:2"`
	SourceLineID    *uuid.UUID      `gorm:"type:uuid"`
	Reference       string          `gorm:"type:varchar(50)"`
	Reason          string          `gorm:"type:varchar(255)"`
	OperatorID      *uuid.UUID      `gorm:"type:uuid"`
	TransactionDate time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InventoryTransaction) TableName() string {
	return "inventory_transactions"
}

// NewInventoryTransaction records a signed movement against a product
func NewInventoryTransaction(
	tenantID uuid.UUID,
	productID uuid.UUID,
	delta decimal.Decimal,
	balanceBefore decimal.Decimal,
	balanceAfter decimal.Decimal,
	ref SourceRef,
	at time.Time,
) (*InventoryTransaction, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewValidationError("tenant_id", "tenant ID cannot be empty")
	}
	if productID == uuid.Nil {
		return nil, shared.NewValidationError("product_id", "product ID cannot be empty")
	}
	if delta.IsZero() {
		return nil, shared.NewValidationError("delta", "stock movement cannot be zero")
	}
	if !ref.Type.IsValid() {
		return nil, shared.NewValidationError("source_type", "invalid source type")
	}
	if ref.ID == uuid.Nil {
		return nil, shared.NewValidationError("source_id", "source ID cannot be empty")
	}
	if !balanceBefore.Add(delta).Equal(balanceAfter) {
		return nil, shared.NewInvariantViolation("stock movement does not explain the balance change")
	}

	txType := TransactionTypeConsumption
	switch {
	case ref.Reversal:
		txType = TransactionTypeReversal
	case delta.IsPositive():
		txType = TransactionTypeRestock
	}

	return &InventoryTransaction{
		BaseEntity:      shared.NewBaseEntity(),
		TenantID:        tenantID,
		ProductID:       productID,
		TransactionType: txType,
		Delta:           delta,
		BalanceBefore:   balanceBefore,
		BalanceAfter:    balanceAfter,
		SourceType:      ref.Type,
		SourceID:        ref.ID,
		SourceLineID:    ref.LineID,
		Reference:       ref.Reference,
		Reason:          ref.Reason,
		OperatorID:      ref.OperatorID,
		TransactionDate: at,
	}, nil
}
