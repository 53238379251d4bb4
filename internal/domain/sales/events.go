package sales

import (
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Aggregate type constants
const (
	AggregateTypeSale     = "Sale"
	AggregateTypeCustomer = "Customer"
)

// Event type constants
const (
	EventTypeSaleCreated             = "sale.created"
	EventTypeSaleFinalized           = "sale.finalized"
	EventTypeSaleEdited              = "sale.edited"
	EventTypeSaleDeleted             = "sale.deleted"
	EventTypeSaleVersionRestored     = "sale.version_restored"
	EventTypeCustomerBalanceCredited = "customer.balance_credited"
	EventTypeAlertRaised             = "alert.raised"
)

// SaleCreatedEvent is raised when an invoice is created, draft or finalized
type SaleCreatedEvent struct {
	shared.BaseDomainEvent
	SaleID              uuid.UUID       `json:"sale_id"`
	InvoiceNumber       string          `json:"invoice_number"`
	CustomerID          *uuid.UUID      `json:"customer_id,omitempty"`
	GrandTotal          decimal.Decimal `json:"grand_total"`
	PaidAmount          decimal.Decimal `json:"paid_amount"`
	Finalized           bool            `json:"finalized"`
	CreditLimitExceeded bool            `json:"credit_limit_exceeded"`
	ActorID             uuid.UUID       `json:"actor_id"`
}

// NewSaleCreatedEvent creates a SaleCreatedEvent
func NewSaleCreatedEvent(sale *Sale, creditLimitExceeded bool, actor uuid.UUID) *SaleCreatedEvent {
	return &SaleCreatedEvent{
		BaseDomainEvent:     shared.NewBaseDomainEvent(EventTypeSaleCreated, AggregateTypeSale, sale.ID, sale.TenantID),
		SaleID:              sale.ID,
		InvoiceNumber:       sale.InvoiceNumber,
		CustomerID:          sale.CustomerID,
		GrandTotal:          sale.GrandTotal,
		PaidAmount:          sale.PaidAmount,
		Finalized:           sale.Finalized,
		CreditLimitExceeded: creditLimitExceeded,
		ActorID:             actor,
	}
}

// SaleFinalizedEvent is raised when a draft's stock and payments are applied
type SaleFinalizedEvent struct {
	shared.BaseDomainEvent
	SaleID        uuid.UUID       `json:"sale_id"`
	InvoiceNumber string          `json:"invoice_number"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	ActorID       uuid.UUID       `json:"actor_id"`
}

// NewSaleFinalizedEvent creates a SaleFinalizedEvent
func NewSaleFinalizedEvent(sale *Sale, actor uuid.UUID) *SaleFinalizedEvent {
	return &SaleFinalizedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSaleFinalized, AggregateTypeSale, sale.ID, sale.TenantID),
		SaleID:          sale.ID,
		InvoiceNumber:   sale.InvoiceNumber,
		GrandTotal:      sale.GrandTotal,
		ActorID:         actor,
	}
}

// SaleEditedEvent is raised after an edit committed
type SaleEditedEvent struct {
	shared.BaseDomainEvent
	SaleID        uuid.UUID `json:"sale_id"`
	InvoiceNumber string    `json:"invoice_number"`
	FromVersion   int       `json:"from_version"`
	ToVersion     int       `json:"to_version"`
	Reason        string    `json:"reason"`
	DiffSummary   string    `json:"diff_summary"`
	ActorID       uuid.UUID `json:"actor_id"`
}

// NewSaleEditedEvent creates a SaleEditedEvent
func NewSaleEditedEvent(sale *Sale, fromVersion int, reason string, diff VersionDiff, actor uuid.UUID) *SaleEditedEvent {
	return &SaleEditedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSaleEdited, AggregateTypeSale, sale.ID, sale.TenantID),
		SaleID:          sale.ID,
		InvoiceNumber:   sale.InvoiceNumber,
		FromVersion:     fromVersion,
		ToVersion:       sale.Version,
		Reason:          reason,
		DiffSummary:     diff.Summary(),
		ActorID:         actor,
	}
}

// SaleDeletedEvent is raised after a soft delete committed
type SaleDeletedEvent struct {
	shared.BaseDomainEvent
	SaleID          uuid.UUID       `json:"sale_id"`
	InvoiceNumber   string          `json:"invoice_number"`
	CustomerID      *uuid.UUID      `json:"customer_id,omitempty"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	ReversedPayment decimal.Decimal `json:"reversed_payment"`
	StockReversed   bool            `json:"stock_reversed"`
	Reason          string          `json:"reason,omitempty"`
	ActorID         uuid.UUID       `json:"actor_id"`
}

// NewSaleDeletedEvent creates a SaleDeletedEvent
func NewSaleDeletedEvent(sale *Sale, reversedPayment decimal.Decimal, stockReversed bool, reason string, actor uuid.UUID) *SaleDeletedEvent {
	return &SaleDeletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSaleDeleted, AggregateTypeSale, sale.ID, sale.TenantID),
		SaleID:          sale.ID,
		InvoiceNumber:   sale.InvoiceNumber,
		CustomerID:      sale.CustomerID,
		GrandTotal:      sale.GrandTotal,
		ReversedPayment: reversedPayment,
		StockReversed:   stockReversed,
		Reason:          reason,
		ActorID:         actor,
	}
}

// SaleVersionRestoredEvent is raised when a restore of a historical version was requested
type SaleVersionRestoredEvent struct {
	shared.BaseDomainEvent
	SaleID          uuid.UUID `json:"sale_id"`
	RequestedNumber int       `json:"requested_version"`
	ArchivedNumber  int       `json:"archived_version"`
	ActorID         uuid.UUID `json:"actor_id"`
}

// NewSaleVersionRestoredEvent creates a SaleVersionRestoredEvent
func NewSaleVersionRestoredEvent(sale *Sale, requested, archived int, actor uuid.UUID) *SaleVersionRestoredEvent {
	return &SaleVersionRestoredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSaleVersionRestored, AggregateTypeSale, sale.ID, sale.TenantID),
		SaleID:          sale.ID,
		RequestedNumber: requested,
		ArchivedNumber:  archived,
		ActorID:         actor,
	}
}

// CustomerBalanceCreditedEvent records excess payment credited back to a customer
type CustomerBalanceCreditedEvent struct {
	shared.BaseDomainEvent
	CustomerID uuid.UUID       `json:"customer_id"`
	SaleID     uuid.UUID       `json:"sale_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	ActorID    uuid.UUID       `json:"actor_id"`
}

// NewCustomerBalanceCreditedEvent creates a CustomerBalanceCreditedEvent
func NewCustomerBalanceCreditedEvent(tenantID, customerID, saleID uuid.UUID, amount decimal.Decimal, reason string, actor uuid.UUID) *CustomerBalanceCreditedEvent {
	return &CustomerBalanceCreditedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCustomerBalanceCredited, AggregateTypeCustomer, customerID, tenantID),
		CustomerID:      customerID,
		SaleID:          saleID,
		Amount:          amount,
		Reason:          reason,
		ActorID:         actor,
	}
}

// AlertRaisedEvent carries an operator alert to the audit sink after commit
type AlertRaisedEvent struct {
	shared.BaseDomainEvent
	Kind       string     `json:"kind"`
	Severity   string     `json:"severity"`
	EntityType string     `json:"entity_type"`
	EntityID   *uuid.UUID `json:"entity_id,omitempty"`
	Message    string     `json:"message"`
}

// NewAlertRaisedEvent creates an AlertRaisedEvent for an entity of the tenant
func NewAlertRaisedEvent(tenantID uuid.UUID, kind, severity, entityType string, entityID *uuid.UUID, message string) *AlertRaisedEvent {
	aggID := uuid.Nil
	if entityID != nil {
		aggID = *entityID
	}
	return &AlertRaisedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAlertRaised, entityType, aggID, tenantID),
		Kind:            kind,
		Severity:        severity,
		EntityType:      entityType,
		EntityID:        entityID,
		Message:         message,
	}
}
