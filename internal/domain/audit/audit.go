// Package audit holds the append-only audit trail and operator alerts
// produced as side effects of invoice operations.
package audit

import (
	"context"
	"time"

	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
)

// Action names an audited change
type Action string

const (
	ActionSaleCreated     Action = "SALE_CREATED"
	ActionSaleFinalized   Action = "SALE_FINALIZED"
	ActionSaleEdited      Action = "SALE_EDITED"
	ActionSaleDeleted     Action = "SALE_DELETED"
	ActionBalanceCredited Action = "BALANCE_CREDITED"
	ActionVersionRestored Action = "VERSION_RESTORED"
	ActionPaidCapped      Action = "PAID_AMOUNT_CAPPED"
)

// Entry is one immutable audit row
type Entry struct {
	shared.BaseEntity
	TenantID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_audit_tenant_entity,priority:1"`
	EntityType string     `gorm:"type:varchar(50);not null;index:idx_audit_tenant_entity,priority:2"`
	EntityID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_audit_tenant_entity,priority:3"`
	Action     Action     `gorm:"type:varchar(50);not null"`
	ActorID    *uuid.UUID `gorm:"type:uuid"`
	Summary    string     `gorm:"type:text"`
	// EventID ties the entry to the outbox event that produced it
	EventID *uuid.UUID `gorm:"type:uuid;uniqueIndex"`
}

// TableName returns the table name for GORM
func (Entry) TableName() string {
	return "audit_entries"
}

// NewEntry creates an audit entry
func NewEntry(tenantID uuid.UUID, entityType string, entityID uuid.UUID, action Action, actorID *uuid.UUID, summary string) *Entry {
	return &Entry{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    actorID,
		Summary:    summary,
	}
}

// AlertKind classifies operator-facing alerts
type AlertKind string

const (
	AlertDuplicateInvoice    AlertKind = "DUPLICATE_INVOICE"
	AlertBalanceMismatch     AlertKind = "BALANCE_MISMATCH"
	AlertCreditLimitExceeded AlertKind = "CREDIT_LIMIT_EXCEEDED"
	AlertInvoiceDeleted      AlertKind = "INVOICE_DELETED"
	AlertOverpayment         AlertKind = "OVERPAYMENT"
	AlertDuplicatePayment    AlertKind = "DUPLICATE_PAYMENT"
)

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is an operator-facing notice awaiting review
type Alert struct {
	shared.BaseEntity
	TenantID     uuid.UUID  `gorm:"type:uuid;not null;index"`
	Kind         AlertKind  `gorm:"type:varchar(50);not null;index"`
	Severity     Severity   `gorm:"type:varchar(20);not null"`
	EntityType   string     `gorm:"type:varchar(50)"`
	EntityID     *uuid.UUID `gorm:"type:uuid"`
	Message      string     `gorm:"type:text;not null"`
	Acknowledged bool       `gorm:"not null;default:false"`
	EventID      *uuid.UUID `gorm:"type:uuid;uniqueIndex"`
}

// TableName returns the table name for GORM
func (Alert) TableName() string {
	return "alerts"
}

// NewAlert creates an unacknowledged alert
func NewAlert(tenantID uuid.UUID, kind AlertKind, severity Severity, entityType string, entityID *uuid.UUID, message string) *Alert {
	return &Alert{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Kind:       kind,
		Severity:   severity,
		EntityType: entityType,
		EntityID:   entityID,
		Message:    message,
	}
}

// Sink receives audit entries and alerts.
// Writes are best effort: callers log failures and carry on.
type Sink interface {
	Record(ctx context.Context, entry *Entry) error
	Raise(ctx context.Context, alert *Alert) error
}

// Query reads back the audit trail
type Query interface {
	FindEntries(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID) ([]Entry, error)
	FindAlerts(ctx context.Context, tenantID uuid.UUID, kind AlertKind, since time.Time) ([]Alert, error)
}
