package sales

import (
	"time"

	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is derived from cleared payments against the grand total
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

// SaleState is the lifecycle position of an invoice
type SaleState string

const (
	SaleStateDraft     SaleState = "DRAFT"
	SaleStateFinalized SaleState = "FINALIZED"
	SaleStateLocked    SaleState = "LOCKED"
	SaleStateDeleted   SaleState = "DELETED"
)

const maxNotesLength = 2000

// Sale is the invoice aggregate root.
// GrandTotal always equals Subtotal + TaxTotal - Discount; Recalculate keeps it that way.
// The invoice number is unique per tenant among non-deleted finalized sales.
type Sale struct {
	shared.BaseAggregateRoot
	TenantID         uuid.UUID       `gorm:"type:uuid;not null;index;uniqueIndex:idx_sales_tenant_invoice,priority:1,where:deleted = false AND finalized = true"`
	InvoiceNumber    string          `gorm:"type:varchar(30);not null;uniqueIndex:idx_sales_tenant_invoice,priority:2"`
	InvoiceDate      time.Time       `gorm:"not null"`
	CustomerID       *uuid.UUID      `gorm:"type:uuid;index"`
	Subtotal         decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TaxTotal         decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Discount         decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	GrandTotal       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	PaidAmount       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	PaymentStatus    PaymentStatus   `gorm:"type:varchar(20);not null;default:'PENDING'"`
	Finalized        bool            `gorm:"not null;default:false"`
	FinalizedAt      *time.Time
	Locked           bool `gorm:"not null;default:false"`
	LockedAt         *time.Time
	ConcurrencyToken string     `gorm:"type:varchar(36);not null"`
	Deleted          bool       `gorm:"not null;default:false;index"`
	DeletedBy        *uuid.UUID `gorm:"type:uuid"`
	DeletedAt        *time.Time
	CreatedBy        *uuid.UUID `gorm:"type:uuid"`
	ModifiedBy       *uuid.UUID `gorm:"type:uuid"`
	ModifiedAt       time.Time  `gorm:"not null"`
	Notes            string     `gorm:"type:text"`
	Items            []SaleItem `gorm:"foreignKey:SaleID;references:ID"`
	Payments         []Payment  `gorm:"foreignKey:SaleID;references:ID"`
}

// TableName returns the table name for GORM
func (Sale) TableName() string {
	return "sales"
}

// NewSale creates an unnumbered draft invoice
func NewSale(tenantID uuid.UUID, invoiceDate time.Time, customerID *uuid.UUID, actor uuid.UUID) (*Sale, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewValidationError("tenant_id", "tenant ID cannot be empty")
	}
	if actor == uuid.Nil {
		return nil, shared.NewValidationError("actor_id", "acting user cannot be empty")
	}
	if invoiceDate.IsZero() {
		return nil, shared.NewValidationError("invoice_date", "invoice date is required")
	}
	if customerID != nil && *customerID == uuid.Nil {
		customerID = nil
	}

	root := shared.NewBaseAggregateRoot()
	return &Sale{
		BaseAggregateRoot: root,
		TenantID:          tenantID,
		InvoiceDate:       invoiceDate,
		CustomerID:        customerID,
		Subtotal:          decimal.Zero,
		TaxTotal:          decimal.Zero,
		Discount:          decimal.Zero,
		GrandTotal:        decimal.Zero,
		PaidAmount:        decimal.Zero,
		PaymentStatus:     PaymentStatusPending,
		ConcurrencyToken:  uuid.NewString(),
		CreatedBy:         &actor,
		ModifiedBy:        &actor,
		ModifiedAt:        root.CreatedAt,
	}, nil
}

// IsCashSale reports whether the invoice has no customer account behind it
func (s *Sale) IsCashSale() bool {
	return s.CustomerID == nil
}

// State returns the lifecycle state at the given time
func (s *Sale) State(now time.Time, lockWindow time.Duration) SaleState {
	switch {
	case s.Deleted:
		return SaleStateDeleted
	case !s.Finalized:
		return SaleStateDraft
	case s.IsLocked(now, lockWindow):
		return SaleStateLocked
	default:
		return SaleStateFinalized
	}
}

// IsLocked reports whether the edit window has closed.
// A zero window disables the age-based lock.
func (s *Sale) IsLocked(now time.Time, lockWindow time.Duration) bool {
	if s.Locked {
		return true
	}
	return lockWindow > 0 && now.Sub(s.CreatedAt) > lockWindow
}

// AssignInvoiceNumber sets the number once; numbers are never changed afterwards
func (s *Sale) AssignInvoiceNumber(number string) error {
	if number == "" {
		return shared.NewValidationError("invoice_number", "invoice number cannot be empty")
	}
	if s.InvoiceNumber != "" && s.InvoiceNumber != number {
		return shared.NewDomainError("INVOICE_NUMBER_IMMUTABLE", "invoice number cannot be changed once assigned")
	}
	s.InvoiceNumber = number
	return nil
}

// ReplaceItems swaps the line items and recalculates totals
func (s *Sale) ReplaceItems(items []SaleItem, discount decimal.Decimal) error {
	if len(items) == 0 {
		return shared.NewValidationError("items", "an invoice needs at least one item")
	}
	if discount.IsNegative() {
		return shared.NewValidationError("discount", "discount cannot be negative")
	}
	for i := range items {
		items[i].SaleID = s.ID
		items[i].TenantID = s.TenantID
	}
	s.Items = items
	s.Discount = discount
	return s.Recalculate()
}

// Recalculate derives subtotal, tax and grand total from the items
func (s *Sale) Recalculate() error {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for i := range s.Items {
		subtotal = subtotal.Add(s.Items[i].NetAmount())
		tax = tax.Add(s.Items[i].TaxAmount)
	}
	grand := subtotal.Add(tax).Sub(s.Discount)
	if grand.IsNegative() {
		return shared.NewValidationError("discount", "discount cannot exceed the invoice total")
	}
	s.Subtotal = subtotal
	s.TaxTotal = tax
	s.GrandTotal = grand
	return nil
}

// ChangeCustomer moves the invoice to another customer account, or to cash when nil
func (s *Sale) ChangeCustomer(customerID *uuid.UUID) {
	if customerID != nil && *customerID == uuid.Nil {
		customerID = nil
	}
	s.CustomerID = customerID
}

// ApplyPaymentState writes a derived payment state onto the invoice
func (s *Sale) ApplyPaymentState(state PaymentState) {
	s.PaidAmount = state.PaidAmount
	s.PaymentStatus = state.Status
}

// PaymentStateDrifted reports whether the stored paid amount or status disagree with state
func (s *Sale) PaymentStateDrifted(state PaymentState) bool {
	return !s.PaidAmount.Equal(state.PaidAmount) || s.PaymentStatus != state.Status
}

// Outstanding is what the customer still owes on this invoice
func (s *Sale) Outstanding() decimal.Decimal {
	return s.GrandTotal.Sub(s.PaidAmount)
}

// Finalize marks stock as applied
func (s *Sale) Finalize(at time.Time) error {
	if s.Deleted {
		return shared.NewDomainError("SALE_DELETED", "cannot finalize a deleted invoice")
	}
	if s.Finalized {
		return shared.NewDomainError("SALE_ALREADY_FINALIZED", "invoice is already finalized")
	}
	if s.InvoiceNumber == "" {
		return shared.NewInvariantViolation("finalizing an invoice without a number")
	}
	if len(s.Items) == 0 {
		return shared.NewInvariantViolation("finalizing an invoice without items")
	}
	s.Finalized = true
	s.FinalizedAt = &at
	return nil
}

// EnsureEditable rejects edits on deleted or locked invoices
func (s *Sale) EnsureEditable(now time.Time, lockWindow time.Duration) error {
	if s.Deleted {
		return shared.NewDomainError("SALE_DELETED", "deleted invoices cannot be edited")
	}
	if s.IsLocked(now, lockWindow) {
		return shared.NewDomainError("SALE_LOCKED", "invoice is locked for editing")
	}
	return nil
}

// MarkModified bumps the version and rotates the concurrency token
func (s *Sale) MarkModified(actor uuid.UUID, at time.Time) {
	s.IncrementVersion()
	s.ConcurrencyToken = uuid.NewString()
	s.ModifiedBy = &actor
	s.ModifiedAt = at
	s.UpdatedAt = at
}

// SoftDelete marks the invoice deleted and clears its payment state. The row is kept.
func (s *Sale) SoftDelete(actor uuid.UUID, at time.Time) error {
	if s.Deleted {
		return shared.NewDomainError("SALE_DELETED", "invoice is already deleted")
	}
	s.Deleted = true
	s.DeletedBy = &actor
	s.DeletedAt = &at
	s.PaidAmount = decimal.Zero
	s.PaymentStatus = PaymentStatusPending
	s.MarkModified(actor, at)
	return nil
}

// Lock closes the edit window explicitly
func (s *Sale) Lock(at time.Time) bool {
	if s.Locked {
		return false
	}
	s.Locked = true
	s.LockedAt = &at
	return true
}

// SetNotes sets free-form notes
func (s *Sale) SetNotes(notes string) error {
	if len(notes) > maxNotesLength {
		return shared.NewValidationError("notes", "notes cannot exceed 2000 characters")
	}
	s.Notes = notes
	return nil
}
