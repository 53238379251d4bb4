package telemetry

import (
	"context"
	"errors"
	"fmt"

	salesapp "github.com/erp/invoicing/internal/application/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// MeterName is the instrumentation scope of the invoice instruments.
const MeterName = "github.com/erp/invoicing"

// Attribute keys shared by the invoice instruments.
var (
	AttrTenantID     = attribute.Key("tenant_id")
	AttrFinalized    = attribute.Key("finalized")
	AttrConflictKind = attribute.Key("conflict_kind")
	AttrDrift        = attribute.Key("drift")
	AttrOutboxStatus = attribute.Key("outbox_status")
)

// ErrMeterNil is returned when no meter is supplied.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// OutboxStats reports the outbox backlog for the observable gauge.
type OutboxStats interface {
	CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error)
}

// InvoiceMetrics records invoice operations as OpenTelemetry counters.
type InvoiceMetrics struct {
	logger *zap.Logger

	created     metric.Int64Counter
	grandTotal  metric.Float64Counter
	edited      metric.Int64Counter
	deleted     metric.Int64Counter
	retries     metric.Int64Counter
	conflicts   metric.Int64Counter
	driftFixed  metric.Int64Counter
	outboxGauge metric.Int64ObservableGauge
}

var _ salesapp.Metrics = (*InvoiceMetrics)(nil)

// NewInvoiceMetrics creates the instruments. When outbox is non-nil an observable
// gauge reports entries per outbox status on each collection.
func NewInvoiceMetrics(meter metric.Meter, outbox OutboxStats, logger *zap.Logger) (*InvoiceMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &InvoiceMetrics{logger: logger}

	var err error
	if m.created, err = meter.Int64Counter("invoice_sales_created_total",
		metric.WithDescription("Invoices created"), metric.WithUnit("{invoice}")); err != nil {
		return nil, instrumentErr("invoice_sales_created_total", err)
	}
	if m.grandTotal, err = meter.Float64Counter("invoice_grand_total_amount",
		metric.WithDescription("Sum of grand totals of created invoices")); err != nil {
		return nil, instrumentErr("invoice_grand_total_amount", err)
	}
	if m.edited, err = meter.Int64Counter("invoice_sales_edited_total",
		metric.WithDescription("Invoices edited"), metric.WithUnit("{invoice}")); err != nil {
		return nil, instrumentErr("invoice_sales_edited_total", err)
	}
	if m.deleted, err = meter.Int64Counter("invoice_sales_deleted_total",
		metric.WithDescription("Invoices soft-deleted"), metric.WithUnit("{invoice}")); err != nil {
		return nil, instrumentErr("invoice_sales_deleted_total", err)
	}
	if m.retries, err = meter.Int64Counter("invoice_numbering_retries_total",
		metric.WithDescription("Invoice number allocations retried after a collision"), metric.WithUnit("{retry}")); err != nil {
		return nil, instrumentErr("invoice_numbering_retries_total", err)
	}
	if m.conflicts, err = meter.Int64Counter("invoice_conflicts_rejected_total",
		metric.WithDescription("Writes rejected by a conflict or business rule"), metric.WithUnit("{rejection}")); err != nil {
		return nil, instrumentErr("invoice_conflicts_rejected_total", err)
	}
	if m.driftFixed, err = meter.Int64Counter("invoice_drift_fixed_total",
		metric.WithDescription("Cached values repaired by reconciliation"), metric.WithUnit("{repair}")); err != nil {
		return nil, instrumentErr("invoice_drift_fixed_total", err)
	}

	if outbox != nil {
		if m.outboxGauge, err = meter.Int64ObservableGauge("invoice_outbox_entries",
			metric.WithDescription("Outbox entries by status"), metric.WithUnit("{entry}")); err != nil {
			return nil, instrumentErr("invoice_outbox_entries", err)
		}
		if _, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			counts, err := outbox.CountByStatus(ctx)
			if err != nil {
				logger.Warn("Failed to count outbox entries", zap.Error(err))
				return nil
			}
			for status, n := range counts {
				o.ObserveInt64(m.outboxGauge, n, metric.WithAttributes(AttrOutboxStatus.String(string(status))))
			}
			return nil
		}, m.outboxGauge); err != nil {
			return nil, fmt.Errorf("failed to register outbox gauge callback: %w", err)
		}
	}
	return m, nil
}

func instrumentErr(name string, err error) error {
	return fmt.Errorf("failed to create instrument %s: %w", name, err)
}

func tenantAttr(tenantID uuid.UUID) attribute.KeyValue {
	return AttrTenantID.String(tenantID.String())
}

func (m *InvoiceMetrics) SaleCreated(ctx context.Context, tenantID uuid.UUID, grandTotal decimal.Decimal, finalized bool) {
	attrs := metric.WithAttributes(tenantAttr(tenantID), AttrFinalized.Bool(finalized))
	m.created.Add(ctx, 1, attrs)
	m.grandTotal.Add(ctx, grandTotal.InexactFloat64(), attrs)
}

func (m *InvoiceMetrics) SaleEdited(ctx context.Context, tenantID uuid.UUID) {
	m.edited.Add(ctx, 1, metric.WithAttributes(tenantAttr(tenantID)))
}

func (m *InvoiceMetrics) SaleDeleted(ctx context.Context, tenantID uuid.UUID) {
	m.deleted.Add(ctx, 1, metric.WithAttributes(tenantAttr(tenantID)))
}

func (m *InvoiceMetrics) NumberingRetried(ctx context.Context, tenantID uuid.UUID) {
	m.retries.Add(ctx, 1, metric.WithAttributes(tenantAttr(tenantID)))
}

func (m *InvoiceMetrics) ConflictRejected(ctx context.Context, tenantID uuid.UUID, kind string) {
	m.conflicts.Add(ctx, 1, metric.WithAttributes(tenantAttr(tenantID), AttrConflictKind.String(kind)))
}

func (m *InvoiceMetrics) DriftFixed(ctx context.Context, tenantID uuid.UUID, what string, count int) {
	if count <= 0 {
		return
	}
	m.driftFixed.Add(ctx, int64(count), metric.WithAttributes(tenantAttr(tenantID), AttrDrift.String(what)))
}
