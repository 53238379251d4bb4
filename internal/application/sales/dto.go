package sales

import (
	"time"

	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ==================== Commands ====================

// SaleItemInput is one requested invoice line
type SaleItemInput struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	UnitType  string          `json:"unit_type" validate:"omitempty,oneof=BASE PACK"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gt=0"`
	TaxAmount decimal.Decimal `json:"tax_amount" validate:"gte=0"`
}

// PaymentInput is one payment received against the invoice.
// An empty status takes the mode's default (cheques start pending).
type PaymentInput struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Mode      string          `json:"mode" validate:"required,oneof=CASH CHEQUE ONLINE CREDIT"`
	Status    string          `json:"status" validate:"omitempty,oneof=PENDING CLEARED RETURNED VOID"`
	Reference string          `json:"reference" validate:"max=100"`
	PaidAt    *time.Time      `json:"paid_at"`
}

// CreateSaleCommand creates an invoice.
// Without CustomerID the invoice is a cash sale and is settled automatically.
// With Draft the invoice reserves a number but touches neither stock nor balances.
type CreateSaleCommand struct {
	TenantID      uuid.UUID       `json:"tenant_id" validate:"required"`
	ActorID       uuid.UUID       `json:"actor_id" validate:"required"`
	CustomerID    *uuid.UUID      `json:"customer_id"`
	InvoiceNumber string          `json:"invoice_number" validate:"max=30"`
	InvoiceDate   time.Time       `json:"invoice_date" validate:"required"`
	Items         []SaleItemInput `json:"items" validate:"required,min=1,dive"`
	Discount      decimal.Decimal `json:"discount" validate:"gte=0"`
	Payments      []PaymentInput  `json:"payments" validate:"omitempty,dive"`
	Notes         string          `json:"notes" validate:"max=2000"`
	Draft         bool            `json:"draft"`
}

// EditSaleCommand replaces the content of an invoice.
// A nil Payments keeps the existing payment set, migrated to the new customer;
// a non-nil slice replaces it entirely.
type EditSaleCommand struct {
	TenantID         uuid.UUID       `json:"tenant_id" validate:"required"`
	SaleID           uuid.UUID       `json:"sale_id" validate:"required"`
	ActorID          uuid.UUID       `json:"actor_id" validate:"required"`
	ConcurrencyToken string          `json:"concurrency_token" validate:"required"`
	CustomerID       *uuid.UUID      `json:"customer_id"`
	InvoiceDate      *time.Time      `json:"invoice_date"`
	Items            []SaleItemInput `json:"items" validate:"required,min=1,dive"`
	Discount         decimal.Decimal `json:"discount" validate:"gte=0"`
	Payments         []PaymentInput  `json:"payments" validate:"omitempty,dive"`
	Notes            string          `json:"notes" validate:"max=2000"`
	Reason           string          `json:"reason" validate:"max=500"`
}

// DeleteSaleCommand soft-deletes an invoice.
// The token is optional; when given it must match.
type DeleteSaleCommand struct {
	TenantID         uuid.UUID `json:"tenant_id" validate:"required"`
	SaleID           uuid.UUID `json:"sale_id" validate:"required"`
	ActorID          uuid.UUID `json:"actor_id" validate:"required"`
	ConcurrencyToken string    `json:"concurrency_token"`
	Reason           string    `json:"reason" validate:"max=500"`
}

// FinalizeSaleCommand applies a draft's stock, payment and balance effects
type FinalizeSaleCommand struct {
	TenantID         uuid.UUID      `json:"tenant_id" validate:"required"`
	SaleID           uuid.UUID      `json:"sale_id" validate:"required"`
	ActorID          uuid.UUID      `json:"actor_id" validate:"required"`
	ConcurrencyToken string         `json:"concurrency_token"`
	Payments         []PaymentInput `json:"payments" validate:"omitempty,dive"`
}

// RestoreVersionCommand asks to bring back a historical version of an invoice
type RestoreVersionCommand struct {
	TenantID         uuid.UUID `json:"tenant_id" validate:"required"`
	SaleID           uuid.UUID `json:"sale_id" validate:"required"`
	ActorID          uuid.UUID `json:"actor_id" validate:"required"`
	VersionNumber    int       `json:"version_number" validate:"gte=1"`
	ConcurrencyToken string    `json:"concurrency_token" validate:"required"`
}

// CorrectOverpaymentsCommand moves the overpayment of the listed sales to customer credit
type CorrectOverpaymentsCommand struct {
	TenantID uuid.UUID   `json:"tenant_id" validate:"required"`
	ActorID  uuid.UUID   `json:"actor_id" validate:"required"`
	SaleIDs  []uuid.UUID `json:"sale_ids" validate:"required,min=1"`
}

// ==================== Responses ====================

// SaleItemResponse represents an invoice line in API responses
type SaleItemResponse struct {
	ID           uuid.UUID       `json:"id"`
	ProductID    uuid.UUID       `json:"product_id"`
	ProductName  string          `json:"product_name"`
	UnitType     string          `json:"unit_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	BaseQuantity decimal.Decimal `json:"base_quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID        uuid.UUID       `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Mode      string          `json:"mode"`
	Status    string          `json:"status"`
	Reference string          `json:"reference,omitempty"`
	Synthetic bool            `json:"synthetic"`
	PaidAt    time.Time       `json:"paid_at"`
}

// SaleResponse represents an invoice in API responses
type SaleResponse struct {
	ID                  uuid.UUID          `json:"id"`
	TenantID            uuid.UUID          `json:"tenant_id"`
	InvoiceNumber       string             `json:"invoice_number"`
	InvoiceDate         time.Time          `json:"invoice_date"`
	CustomerID          *uuid.UUID         `json:"customer_id,omitempty"`
	Subtotal            decimal.Decimal    `json:"subtotal"`
	TaxTotal            decimal.Decimal    `json:"tax_total"`
	Discount            decimal.Decimal    `json:"discount"`
	GrandTotal          decimal.Decimal    `json:"grand_total"`
	PaidAmount          decimal.Decimal    `json:"paid_amount"`
	PaymentStatus       string             `json:"payment_status"`
	State               string             `json:"state"`
	Finalized           bool               `json:"finalized"`
	Locked              bool               `json:"locked"`
	Deleted             bool               `json:"deleted"`
	Version             int                `json:"version"`
	ConcurrencyToken    string             `json:"concurrency_token"`
	Notes               string             `json:"notes,omitempty"`
	Items               []SaleItemResponse `json:"items"`
	Payments            []PaymentResponse  `json:"payments"`
	CreditLimitExceeded bool               `json:"credit_limit_exceeded"`
	CreditWarning       string             `json:"credit_warning,omitempty"`
	CreatedBy           *uuid.UUID         `json:"created_by,omitempty"`
	ModifiedBy          *uuid.UUID         `json:"modified_by,omitempty"`
	ModifiedAt          time.Time          `json:"modified_at"`
	CreatedAt           time.Time          `json:"created_at"`
}

// ToSaleResponse converts a Sale to a SaleResponse
func ToSaleResponse(sale *sales.Sale, now time.Time, lockWindow time.Duration) SaleResponse {
	items := make([]SaleItemResponse, len(sale.Items))
	for i := range sale.Items {
		it := &sale.Items[i]
		items[i] = SaleItemResponse{
			ID:           it.ID,
			ProductID:    it.ProductID,
			ProductName:  it.ProductName,
			UnitType:     string(it.UnitType),
			Quantity:     it.Quantity,
			BaseQuantity: it.BaseQuantity,
			UnitPrice:    it.UnitPrice,
			TaxAmount:    it.TaxAmount,
			LineTotal:    it.LineTotal,
		}
	}
	payments := make([]PaymentResponse, len(sale.Payments))
	for i := range sale.Payments {
		p := &sale.Payments[i]
		payments[i] = PaymentResponse{
			ID:        p.ID,
			Amount:    p.Amount,
			Mode:      string(p.Mode),
			Status:    string(p.Status),
			Reference: p.Reference,
			Synthetic: p.Synthetic,
			PaidAt:    p.PaidAt,
		}
	}

	return SaleResponse{
		ID:               sale.ID,
		TenantID:         sale.TenantID,
		InvoiceNumber:    sale.InvoiceNumber,
		InvoiceDate:      sale.InvoiceDate,
		CustomerID:       sale.CustomerID,
		Subtotal:         sale.Subtotal,
		TaxTotal:         sale.TaxTotal,
		Discount:         sale.Discount,
		GrandTotal:       sale.GrandTotal,
		PaidAmount:       sale.PaidAmount,
		PaymentStatus:    string(sale.PaymentStatus),
		State:            string(sale.State(now, lockWindow)),
		Finalized:        sale.Finalized,
		Locked:           sale.IsLocked(now, lockWindow),
		Deleted:          sale.Deleted,
		Version:          sale.Version,
		ConcurrencyToken: sale.ConcurrencyToken,
		Notes:            sale.Notes,
		Items:            items,
		Payments:         payments,
		CreatedBy:        sale.CreatedBy,
		ModifiedBy:       sale.ModifiedBy,
		ModifiedAt:       sale.ModifiedAt,
		CreatedAt:        sale.CreatedAt,
	}
}

// VersionResponse represents one historical version of an invoice
type VersionResponse struct {
	ID            uuid.UUID           `json:"id"`
	VersionNumber int                 `json:"version_number"`
	Reason        string              `json:"reason,omitempty"`
	DiffSummary   string              `json:"diff_summary"`
	Changes       []sales.FieldChange `json:"changes"`
	Snapshot      sales.SaleSnapshot  `json:"snapshot"`
	EditedBy      *uuid.UUID          `json:"edited_by,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// ToVersionResponse converts an InvoiceVersion to a VersionResponse
func ToVersionResponse(v *sales.InvoiceVersion) VersionResponse {
	return VersionResponse{
		ID:            v.ID,
		VersionNumber: v.VersionNumber,
		Reason:        v.Reason,
		DiffSummary:   v.DiffSummary,
		Changes:       v.Changes.Changes,
		Snapshot:      v.Snapshot,
		EditedBy:      v.EditedBy,
		CreatedAt:     v.CreatedAt,
	}
}

// RestoreResult reports what a restore request did.
// Items are never rebuilt from history: the current state is archived and the
// requested snapshot is returned so the caller can resubmit it as an edit.
type RestoreResult struct {
	Sale              SaleResponse       `json:"sale"`
	RequestedVersion  int                `json:"requested_version"`
	ArchivedVersion   int                `json:"archived_version"`
	RequestedSnapshot sales.SaleSnapshot `json:"requested_snapshot"`
	ItemsRestored     bool               `json:"items_restored"`
	Message           string             `json:"message"`
}

// ==================== Reconciliation ====================

// PaymentStatusFix is one sale whose stored payment state was rewritten
type PaymentStatusFix struct {
	SaleID        uuid.UUID       `json:"sale_id"`
	InvoiceNumber string          `json:"invoice_number"`
	OldPaid       decimal.Decimal `json:"old_paid"`
	NewPaid       decimal.Decimal `json:"new_paid"`
	OldStatus     string          `json:"old_status"`
	NewStatus     string          `json:"new_status"`
}

// OverpaymentCandidate is a sale whose cleared payments exceed its grand total
type OverpaymentCandidate struct {
	SaleID        uuid.UUID       `json:"sale_id"`
	InvoiceNumber string          `json:"invoice_number"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Collected     decimal.Decimal `json:"collected"`
	Excess        decimal.Decimal `json:"excess"`
}

// ReconcileReport is the outcome of a payment-status sweep over one tenant
type ReconcileReport struct {
	TenantID     uuid.UUID                     `json:"tenant_id"`
	Scanned      int                           `json:"scanned"`
	Fixed        []PaymentStatusFix            `json:"fixed"`
	Duplicates   []sales.DuplicatePaymentGroup `json:"duplicates"`
	Overpayments []OverpaymentCandidate        `json:"overpayments"`
	StartedAt    time.Time                     `json:"started_at"`
	FinishedAt   time.Time                     `json:"finished_at"`
}

// OverpaymentCorrection reports one sale handled by CorrectOverpayments
type OverpaymentCorrection struct {
	SaleID          uuid.UUID       `json:"sale_id"`
	Excess          decimal.Decimal `json:"excess"`
	CreditPaymentID uuid.UUID       `json:"credit_payment_id,omitempty"`
	Corrected       bool            `json:"corrected"`
	Reason          string          `json:"reason,omitempty"`
}

// BalanceReport is the outcome of re-deriving every customer balance of a tenant
type BalanceReport struct {
	TenantID  uuid.UUID       `json:"tenant_id"`
	Customers int             `json:"customers"`
	Drifted   []BalanceResult `json:"drifted"`
}
