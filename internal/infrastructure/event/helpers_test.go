package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&OutboxRecord{}))
	return db
}

func newAlertEvent(tenantID uuid.UUID) *sales.AlertRaisedEvent {
	saleID := uuid.New()
	return sales.NewAlertRaisedEvent(tenantID, "DUPLICATE_INVOICE_NUMBER", "CRITICAL", sales.AggregateTypeSale, &saleID, "number used twice")
}

func newCreditEvent(tenantID uuid.UUID) *sales.CustomerBalanceCreditedEvent {
	return sales.NewCustomerBalanceCreditedEvent(tenantID, uuid.New(), uuid.New(), decimal.RequireFromString("12.50"), "overpayment", uuid.New())
}

// recordingHandler remembers the events it saw and fails the first failures calls
type recordingHandler struct {
	mu       sync.Mutex
	types    []string
	handled  []shared.DomainEvent
	failures int
	panics   bool
}

func newRecordingHandler(types ...string) *recordingHandler {
	return &recordingHandler{types: types}
}

func (h *recordingHandler) EventTypes() []string { return h.types }

func (h *recordingHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panics {
		panic("boom")
	}
	h.handled = append(h.handled, event)
	if h.failures > 0 {
		h.failures--
		return errors.New("handler unavailable")
	}
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func (h *recordingHandler) last() shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.handled) == 0 {
		return nil
	}
	return h.handled[len(h.handled)-1]
}
