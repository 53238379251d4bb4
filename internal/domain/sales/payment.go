package sales

import (
	"time"

	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMode is how a payment was tendered
type PaymentMode string

const (
	PaymentModeCash   PaymentMode = "CASH"
	PaymentModeCheque PaymentMode = "CHEQUE"
	PaymentModeOnline PaymentMode = "ONLINE"
	PaymentModeCredit PaymentMode = "CREDIT"
)

// IsValid returns true if the mode is known
func (m PaymentMode) IsValid() bool {
	switch m {
	case PaymentModeCash, PaymentModeCheque, PaymentModeOnline, PaymentModeCredit:
		return true
	}
	return false
}

// DefaultStatus is the status a new payment of this mode starts in.
// Cheques wait for clearance, everything else is received immediately.
func (m PaymentMode) DefaultStatus() PaymentRecordStatus {
	if m == PaymentModeCheque {
		return PaymentRecordPending
	}
	return PaymentRecordCleared
}

// PaymentRecordStatus tracks whether funds were actually received
type PaymentRecordStatus string

const (
	PaymentRecordPending  PaymentRecordStatus = "PENDING"
	PaymentRecordCleared  PaymentRecordStatus = "CLEARED"
	PaymentRecordReturned PaymentRecordStatus = "RETURNED"
	PaymentRecordVoid     PaymentRecordStatus = "VOID"
)

// IsValid returns true if the status is known
func (s PaymentRecordStatus) IsValid() bool {
	switch s {
	case PaymentRecordPending, PaymentRecordCleared, PaymentRecordReturned, PaymentRecordVoid:
		return true
	}
	return false
}

// Payment is money received, optionally linked to a sale and/or a customer.
// Only cleared payments count toward paid amounts and balances.
type Payment struct {
	shared.BaseEntity
	TenantID   uuid.UUID           `gorm:"type:uuid;not null;index"`
	SaleID     *uuid.UUID          `gorm:"type:uuid;index"`
	CustomerID *uuid.UUID          `gorm:"type:uuid;index"`
	Amount     decimal.Decimal     `gorm:"type:decimal(18,4);not null"`
	Mode       PaymentMode         `gorm:"type:varchar(20);not null"`
	Status     PaymentRecordStatus `gorm:"type:varchar(20);not null;index"`
	Reference  string              `gorm:"type:varchar(100)"`
	PaidAt     time.Time           `gorm:"not null"`
	Synthetic  bool                `gorm:"not null;default:false"` // generated for cash invoices
	CreatedBy  *uuid.UUID          `gorm:"type:uuid"`
	VoidedAt   *time.Time
}

// TableName returns the table name for GORM
func (Payment) TableName() string {
	return "payments"
}

// NewPayment creates a payment; an empty status takes the mode's default
func NewPayment(tenantID uuid.UUID, amount decimal.Decimal, mode PaymentMode, status PaymentRecordStatus, paidAt time.Time) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, shared.NewValidationError("amount", "payment amount must be positive")
	}
	if !mode.IsValid() {
		return nil, shared.NewValidationError("mode", "unknown payment mode "+string(mode))
	}
	if status == "" {
		status = mode.DefaultStatus()
	}
	if !status.IsValid() {
		return nil, shared.NewValidationError("status", "unknown payment status "+string(status))
	}
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	return &Payment{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Amount:     amount,
		Mode:       mode,
		Status:     status,
		PaidAt:     paidAt,
	}, nil
}

// NewCashSettlement is the synthetic cleared cash payment that settles a cash invoice
func NewCashSettlement(sale *Sale, at time.Time) (*Payment, error) {
	p, err := NewPayment(sale.TenantID, sale.GrandTotal, PaymentModeCash, PaymentRecordCleared, at)
	if err != nil {
		return nil, err
	}
	p.Synthetic = true
	p.Reference = "cash sale " + sale.InvoiceNumber
	p.AttachTo(sale)
	return p, nil
}

// AttachTo links the payment to a sale and that sale's customer
func (p *Payment) AttachTo(sale *Sale) {
	saleID := sale.ID
	p.SaleID = &saleID
	p.CustomerID = sale.CustomerID
}

// Counts reports whether the payment contributes to paid amounts and balances
func (p *Payment) Counts() bool {
	return p.Status == PaymentRecordCleared
}

// Void takes the payment out of every total. Voiding is terminal.
func (p *Payment) Void(at time.Time) {
	if p.Status == PaymentRecordVoid {
		return
	}
	p.Status = PaymentRecordVoid
	p.VoidedAt = &at
	p.UpdatedAt = at
}
