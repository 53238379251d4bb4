package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/erp/invoicing/internal/domain/audit"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditHandler appends an audit entry for every invoice change delivered from the outbox.
// Entries carry the event id so redelivery does not duplicate them.
type AuditHandler struct {
	sink   audit.Sink
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(sink audit.Sink, logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{sink: sink, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *AuditHandler) EventTypes() []string {
	return []string{
		sales.EventTypeSaleCreated,
		sales.EventTypeSaleFinalized,
		sales.EventTypeSaleEdited,
		sales.EventTypeSaleDeleted,
		sales.EventTypeSaleVersionRestored,
		sales.EventTypeCustomerBalanceCredited,
	}
}

// Handle maps the event to an audit entry and records it
func (h *AuditHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	entry, err := auditEntryFor(event)
	if err != nil {
		h.logger.Error("unexpected event type", zap.String("actual", event.EventType()), zap.Error(err))
		return err
	}
	eventID := event.EventID()
	entry.EventID = &eventID
	entry.CreatedAt = event.OccurredAt()

	if err := h.sink.Record(ctx, entry); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	h.logger.Debug("Audit entry recorded",
		zap.String("tenant_id", entry.TenantID.String()),
		zap.String("entity_id", entry.EntityID.String()),
		zap.String("action", string(entry.Action)))
	return nil
}

func auditEntryFor(event shared.DomainEvent) (*audit.Entry, error) {
	tenantID := event.TenantID()
	switch e := event.(type) {
	case *sales.SaleCreatedEvent:
		summary := fmt.Sprintf("invoice %s created, total %s, paid %s", e.InvoiceNumber,
			e.GrandTotal.StringFixed(2), e.PaidAmount.StringFixed(2))
		if !e.Finalized {
			summary = fmt.Sprintf("draft invoice %s created", e.InvoiceNumber)
		}
		if e.CreditLimitExceeded {
			summary += " (credit limit exceeded)"
		}
		return audit.NewEntry(tenantID, sales.AggregateTypeSale, e.SaleID, audit.ActionSaleCreated, &e.ActorID, summary), nil
	case *sales.SaleFinalizedEvent:
		return audit.NewEntry(tenantID, sales.AggregateTypeSale, e.SaleID, audit.ActionSaleFinalized, &e.ActorID,
			fmt.Sprintf("invoice %s finalized, total %s", e.InvoiceNumber, e.GrandTotal.StringFixed(2))), nil
	case *sales.SaleEditedEvent:
		return audit.NewEntry(tenantID, sales.AggregateTypeSale, e.SaleID, audit.ActionSaleEdited, &e.ActorID,
			fmt.Sprintf("invoice %s edited v%d -> v%d: %s (%s)", e.InvoiceNumber, e.FromVersion, e.ToVersion,
				e.DiffSummary, e.Reason)), nil
	case *sales.SaleDeletedEvent:
		summary := fmt.Sprintf("invoice %s deleted, total %s, payments reversed %s", e.InvoiceNumber,
			e.GrandTotal.StringFixed(2), e.ReversedPayment.StringFixed(2))
		if e.StockReversed {
			summary += ", stock returned"
		}
		if e.Reason != "" {
			summary += ": " + e.Reason
		}
		return audit.NewEntry(tenantID, sales.AggregateTypeSale, e.SaleID, audit.ActionSaleDeleted, &e.ActorID, summary), nil
	case *sales.SaleVersionRestoredEvent:
		return audit.NewEntry(tenantID, sales.AggregateTypeSale, e.SaleID, audit.ActionVersionRestored, &e.ActorID,
			fmt.Sprintf("restore of version %d requested, current state archived as version %d",
				e.RequestedNumber, e.ArchivedNumber)), nil
	case *sales.CustomerBalanceCreditedEvent:
		return audit.NewEntry(tenantID, sales.AggregateTypeCustomer, e.CustomerID, audit.ActionBalanceCredited, &e.ActorID,
			fmt.Sprintf("%s credited from sale %s: %s", e.Amount.StringFixed(2), e.SaleID, e.Reason)), nil
	default:
		return nil, fmt.Errorf("no audit mapping for event type %s", event.EventType())
	}
}

// AlertHandler persists operator alerts raised inside invoice transactions
type AlertHandler struct {
	sink   audit.Sink
	logger *zap.Logger
}

// NewAlertHandler creates a new AlertHandler
func NewAlertHandler(sink audit.Sink, logger *zap.Logger) *AlertHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertHandler{sink: sink, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *AlertHandler) EventTypes() []string {
	return []string{sales.EventTypeAlertRaised}
}

// Handle stores the alert and logs it at a level matching its severity
func (h *AlertHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	raised, ok := event.(*sales.AlertRaisedEvent)
	if !ok {
		return fmt.Errorf("unexpected event type: expected %s, got %s", sales.EventTypeAlertRaised, event.EventType())
	}

	alert := audit.NewAlert(event.TenantID(), audit.AlertKind(raised.Kind), audit.Severity(raised.Severity),
		raised.EntityType, raised.EntityID, raised.Message)
	eventID := event.EventID()
	alert.EventID = &eventID
	alert.CreatedAt = event.OccurredAt()

	fields := []zap.Field{
		zap.String("tenant_id", alert.TenantID.String()),
		zap.String("kind", raised.Kind),
		zap.String("entity_type", raised.EntityType),
		zap.String("message", raised.Message),
	}
	if raised.EntityID != nil {
		fields = append(fields, zap.String("entity_id", raised.EntityID.String()))
	}
	switch alert.Severity {
	case audit.SeverityCritical:
		h.logger.Error("ALERT", fields...)
	case audit.SeverityWarning:
		h.logger.Warn("ALERT", fields...)
	default:
		h.logger.Info("ALERT", fields...)
	}

	if err := h.sink.Raise(ctx, alert); err != nil {
		return fmt.Errorf("raise alert: %w", err)
	}
	return nil
}

// ObjectStore uploads rendered documents and backups
type ObjectStore interface {
	Upload(ctx context.Context, storageKey string, data []byte, contentType string) error
}

// DocumentRenderer turns an invoice snapshot into a printable document
type DocumentRenderer interface {
	Render(ctx context.Context, snapshot sales.SaleSnapshot) (data []byte, contentType string, err error)
	Extension() string
}

// JSONDocumentRenderer renders invoices as indented JSON documents
type JSONDocumentRenderer struct{}

// Render encodes the snapshot
func (JSONDocumentRenderer) Render(_ context.Context, snapshot sales.SaleSnapshot) ([]byte, string, error) {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("render invoice document: %w", err)
	}
	return data, "application/json", nil
}

// Extension returns the file extension of rendered documents
func (JSONDocumentRenderer) Extension() string {
	return "json"
}

// SaleReader loads a sale outside any transaction
type SaleReader interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*sales.Sale, error)
}

// DocumentHandler renders the committed invoice and uploads the document.
// Failures are logged and swallowed; a missing document never blocks delivery.
type DocumentHandler struct {
	reader   SaleReader
	renderer DocumentRenderer
	store    ObjectStore
	prefix   string
	logger   *zap.Logger
}

// NewDocumentHandler creates a new DocumentHandler
func NewDocumentHandler(reader SaleReader, renderer DocumentRenderer, store ObjectStore, prefix string, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = JSONDocumentRenderer{}
	}
	return &DocumentHandler{reader: reader, renderer: renderer, store: store, prefix: prefix, logger: logger}
}

// EventTypes returns the event types this handler is interested in
func (h *DocumentHandler) EventTypes() []string {
	return []string{sales.EventTypeSaleCreated, sales.EventTypeSaleFinalized, sales.EventTypeSaleEdited}
}

// Handle renders and uploads the current state of the sale
func (h *DocumentHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	sale, err := h.reader.FindByIDForTenant(ctx, event.TenantID(), event.AggregateID())
	if err != nil {
		h.logger.Warn("Invoice document skipped, sale not readable",
			zap.String("tenant_id", event.TenantID().String()),
			zap.String("sale_id", event.AggregateID().String()),
			zap.Error(err))
		return nil
	}
	if !sale.Finalized || sale.Deleted {
		return nil
	}

	data, contentType, err := h.renderer.Render(ctx, sales.TakeSnapshot(sale))
	if err != nil {
		h.logger.Error("Invoice document rendering failed",
			zap.String("tenant_id", sale.TenantID.String()),
			zap.String("sale_id", sale.ID.String()),
			zap.Error(err))
		return nil
	}
	key := documentKey(h.prefix, sale, h.renderer.Extension())
	if err := h.store.Upload(ctx, key, data, contentType); err != nil {
		h.logger.Error("Invoice document upload failed",
			zap.String("tenant_id", sale.TenantID.String()),
			zap.String("sale_id", sale.ID.String()),
			zap.String("key", key),
			zap.Error(err))
		return nil
	}
	h.logger.Info("Invoice document stored",
		zap.String("tenant_id", sale.TenantID.String()),
		zap.String("sale_id", sale.ID.String()),
		zap.String("key", key))
	return nil
}

func documentKey(prefix string, sale *sales.Sale, ext string) string {
	return path.Join(prefix, "invoices", sale.TenantID.String(), sale.InvoiceNumber,
		fmt.Sprintf("v%d.%s", sale.Version, ext))
}

// BackupHandler uploads a JSON record of every invoice event for off-site export
type BackupHandler struct {
	store  ObjectStore
	prefix string
	logger *zap.Logger
}

// NewBackupHandler creates a new BackupHandler
func NewBackupHandler(store ObjectStore, prefix string, logger *zap.Logger) *BackupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackupHandler{store: store, prefix: prefix, logger: logger}
}

// EventTypes returns an empty slice: backups cover every event
func (h *BackupHandler) EventTypes() []string {
	return []string{}
}

type backupRecord struct {
	EventID     uuid.UUID          `json:"event_id"`
	EventType   string             `json:"event_type"`
	TenantID    uuid.UUID          `json:"tenant_id"`
	AggregateID uuid.UUID          `json:"aggregate_id"`
	OccurredAt  time.Time          `json:"occurred_at"`
	Payload     shared.DomainEvent `json:"payload"`
}

// Handle uploads the event record
func (h *BackupHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	data, err := json.Marshal(backupRecord{
		EventID:     event.EventID(),
		EventType:   event.EventType(),
		TenantID:    event.TenantID(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event,
	})
	if err != nil {
		h.logger.Error("Backup encoding failed", zap.String("event_id", event.EventID().String()), zap.Error(err))
		return nil
	}
	key := path.Join(h.prefix, "backup", event.TenantID().String(),
		event.OccurredAt().UTC().Format("2006/01/02"), event.EventID().String()+".json")
	if err := h.store.Upload(ctx, key, data, "application/json"); err != nil {
		h.logger.Warn("Backup upload failed",
			zap.String("event_id", event.EventID().String()),
			zap.String("key", key),
			zap.Error(err))
	}
	return nil
}

var (
	_ shared.EventHandler = (*AuditHandler)(nil)
	_ shared.EventHandler = (*AlertHandler)(nil)
	_ shared.EventHandler = (*DocumentHandler)(nil)
	_ shared.EventHandler = (*BackupHandler)(nil)
	_ DocumentRenderer    = JSONDocumentRenderer{}
)
