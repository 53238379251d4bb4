package sales

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Metrics receives business measurements of invoice operations.
// Implementations must be safe for concurrent use and must never fail the caller.
type Metrics interface {
	SaleCreated(ctx context.Context, tenantID uuid.UUID, grandTotal decimal.Decimal, finalized bool)
	SaleEdited(ctx context.Context, tenantID uuid.UUID)
	SaleDeleted(ctx context.Context, tenantID uuid.UUID)
	NumberingRetried(ctx context.Context, tenantID uuid.UUID)
	ConflictRejected(ctx context.Context, tenantID uuid.UUID, kind string)
	DriftFixed(ctx context.Context, tenantID uuid.UUID, what string, count int)
}

type noopMetrics struct{}

func (noopMetrics) SaleCreated(context.Context, uuid.UUID, decimal.Decimal, bool) {}
func (noopMetrics) SaleEdited(context.Context, uuid.UUID)                         {}
func (noopMetrics) SaleDeleted(context.Context, uuid.UUID)                        {}
func (noopMetrics) NumberingRetried(context.Context, uuid.UUID)                   {}
func (noopMetrics) ConflictRejected(context.Context, uuid.UUID, string)           {}
func (noopMetrics) DriftFixed(context.Context, uuid.UUID, string, int)            {}

// NoopMetrics discards every measurement
var NoopMetrics Metrics = noopMetrics{}
