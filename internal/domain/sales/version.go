package sales

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemSnapshot is the frozen state of one invoice line
type ItemSnapshot struct {
	ProductID    uuid.UUID          `json:"product_id"`
	ProductName  string             `json:"product_name"`
	UnitType     inventory.UnitType `json:"unit_type"`
	Quantity     decimal.Decimal    `json:"quantity"`
	BaseQuantity decimal.Decimal    `json:"base_quantity"`
	UnitPrice    decimal.Decimal    `json:"unit_price"`
	TaxAmount    decimal.Decimal    `json:"tax_amount"`
	LineTotal    decimal.Decimal    `json:"line_total"`
}

// PaymentSnapshot is the frozen state of one payment
type PaymentSnapshot struct {
	Amount    decimal.Decimal     `json:"amount"`
	Mode      PaymentMode         `json:"mode"`
	Status    PaymentRecordStatus `json:"status"`
	Reference string              `json:"reference,omitempty"`
	PaidAt    time.Time           `json:"paid_at"`
}

// SaleSnapshot is the frozen state of an invoice at one version
type SaleSnapshot struct {
	Version       int               `json:"version"`
	InvoiceNumber string            `json:"invoice_number"`
	InvoiceDate   time.Time         `json:"invoice_date"`
	CustomerID    *uuid.UUID        `json:"customer_id,omitempty"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	TaxTotal      decimal.Decimal   `json:"tax_total"`
	Discount      decimal.Decimal   `json:"discount"`
	GrandTotal    decimal.Decimal   `json:"grand_total"`
	PaidAmount    decimal.Decimal   `json:"paid_amount"`
	PaymentStatus PaymentStatus     `json:"payment_status"`
	Finalized     bool              `json:"finalized"`
	Notes         string            `json:"notes,omitempty"`
	Items         []ItemSnapshot    `json:"items"`
	Payments      []PaymentSnapshot `json:"payments"`
}

// TakeSnapshot freezes the current state of a sale and its lines and payments
func TakeSnapshot(sale *Sale) SaleSnapshot {
	snap := SaleSnapshot{
		Version:       sale.Version,
		InvoiceNumber: sale.InvoiceNumber,
		InvoiceDate:   sale.InvoiceDate,
		Subtotal:      sale.Subtotal,
		TaxTotal:      sale.TaxTotal,
		Discount:      sale.Discount,
		GrandTotal:    sale.GrandTotal,
		PaidAmount:    sale.PaidAmount,
		PaymentStatus: sale.PaymentStatus,
		Finalized:     sale.Finalized,
		Notes:         sale.Notes,
		Items:         make([]ItemSnapshot, 0, len(sale.Items)),
		Payments:      make([]PaymentSnapshot, 0, len(sale.Payments)),
	}
	if sale.CustomerID != nil {
		id := *sale.CustomerID
		snap.CustomerID = &id
	}
	for _, it := range sale.Items {
		snap.Items = append(snap.Items, ItemSnapshot{
			ProductID:    it.ProductID,
			ProductName:  it.ProductName,
			UnitType:     it.UnitType,
			Quantity:     it.Quantity,
			BaseQuantity: it.BaseQuantity,
			UnitPrice:    it.UnitPrice,
			TaxAmount:    it.TaxAmount,
			LineTotal:    it.LineTotal,
		})
	}
	for _, p := range sale.Payments {
		snap.Payments = append(snap.Payments, PaymentSnapshot{
			Amount:    p.Amount,
			Mode:      p.Mode,
			Status:    p.Status,
			Reference: p.Reference,
			PaidAt:    p.PaidAt,
		})
	}
	return snap
}

// FieldChange is one entry of a diff
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// String renders the change as "field: before -> after"
func (c FieldChange) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Field, c.Before, c.After)
}

// VersionDiff is the typed change log between two snapshots
type VersionDiff struct {
	Changes []FieldChange `json:"changes"`
}

// IsEmpty reports whether nothing changed
func (d VersionDiff) IsEmpty() bool {
	return len(d.Changes) == 0
}

// Has reports whether the named field changed
func (d VersionDiff) Has(field string) bool {
	for _, c := range d.Changes {
		if c.Field == field {
			return true
		}
	}
	return false
}

// Summary renders a short human-readable change log
func (d VersionDiff) Summary() string {
	if d.IsEmpty() {
		return "no changes"
	}
	parts := make([]string, len(d.Changes))
	for i, c := range d.Changes {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; ")
}

// Diff compares two snapshots: every monetary field, the item count and the customer
func Diff(before, after SaleSnapshot) VersionDiff {
	var diff VersionDiff
	money := func(field string, a, b decimal.Decimal) {
		if !a.Equal(b) {
			diff.Changes = append(diff.Changes, FieldChange{Field: field, Before: a.StringFixed(2), After: b.StringFixed(2)})
		}
	}

	money("subtotal", before.Subtotal, after.Subtotal)
	money("tax_total", before.TaxTotal, after.TaxTotal)
	money("discount", before.Discount, after.Discount)
	money("grand_total", before.GrandTotal, after.GrandTotal)
	money("paid_amount", before.PaidAmount, after.PaidAmount)

	if len(before.Items) != len(after.Items) {
		diff.Changes = append(diff.Changes, FieldChange{
			Field:  "item_count",
			Before: fmt.Sprint(len(before.Items)),
			After:  fmt.Sprint(len(after.Items)),
		})
	}
	if customerLabel(before.CustomerID) != customerLabel(after.CustomerID) {
		diff.Changes = append(diff.Changes, FieldChange{
			Field:  "customer",
			Before: customerLabel(before.CustomerID),
			After:  customerLabel(after.CustomerID),
		})
	}
	return diff
}

func customerLabel(id *uuid.UUID) string {
	if id == nil {
		return "cash"
	}
	return id.String()
}

// InvoiceVersion is the immutable pre-edit snapshot of a sale.
// VersionNumber is the sale version the snapshot captures; numbers only grow per sale.
type InvoiceVersion struct {
	shared.BaseEntity
	TenantID      uuid.UUID    `gorm:"type:uuid;not null;index"`
	SaleID        uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_invoice_version_sale_number,priority:1"`
	VersionNumber int          `gorm:"not null;uniqueIndex:idx_invoice_version_sale_number,priority:2"`
	Snapshot      SaleSnapshot `gorm:"type:text;serializer:json;not null"`
	Reason        string       `gorm:"type:varchar(500)"`
	DiffSummary   string       `gorm:"type:text"`
	Changes       VersionDiff  `gorm:"type:text;serializer:json"`
	EditedBy      *uuid.UUID   `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (InvoiceVersion) TableName() string {
	return "invoice_versions"
}

// NewInvoiceVersion records the state before an edit together with what the edit changed
func NewInvoiceVersion(before SaleSnapshot, saleID, tenantID uuid.UUID, diff VersionDiff, reason string, editedBy uuid.UUID) *InvoiceVersion {
	return &InvoiceVersion{
		BaseEntity:    shared.NewBaseEntity(),
		TenantID:      tenantID,
		SaleID:        saleID,
		VersionNumber: before.Version,
		Snapshot:      before,
		Reason:        reason,
		DiffSummary:   diff.Summary(),
		Changes:       diff,
		EditedBy:      &editedBy,
	}
}
