package sales

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/invoicing/internal/domain/audit"
	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type saleServiceFixture struct {
	repos    *testRepos
	metrics  *recordingMetrics
	sink     *MockAuditSink
	service  *SaleService
	tenantID uuid.UUID
	actor    uuid.UUID
}

func newSaleServiceFixture() *saleServiceFixture {
	repos := newTestRepos()
	metrics := newRecordingMetrics()
	sink := new(MockAuditSink)

	numbers := NewInvoiceNumberAllocator(repos.sales, fastNumberingOptions(3), nil)
	numbers.SetMetrics(metrics)
	guard := NewConcurrencyGuard(DefaultRecentEditWindow).WithClock(clock)
	service := NewSaleService(repos.scope, repos.sales, numbers, guard, NewBalanceReconciler().WithClock(clock), DefaultEditLockWindow, nil).
		WithClock(clock)
	service.SetMetrics(metrics)
	service.SetAlertSink(sink)

	return &saleServiceFixture{
		repos:    repos,
		metrics:  metrics,
		sink:     sink,
		service:  service,
		tenantID: uuid.New(),
		actor:    uuid.New(),
	}
}

// expectLedger wires the product and ledger repositories for stock movements on product
func (f *saleServiceFixture) expectLedger(product *inventory.Product) {
	f.repos.products.On("FindByIDForUpdate", mock.Anything, f.tenantID, product.ID).Return(product, nil)
	f.repos.products.On("UpdateStock", mock.Anything, product).Return(nil)
	f.repos.transactions.On("Create", mock.Anything, mock.AnythingOfType("*inventory.InventoryTransaction")).Return(nil)
}

func (f *saleServiceFixture) createCommand(product *inventory.Product, qty, price int64) CreateSaleCommand {
	return CreateSaleCommand{
		TenantID:    f.tenantID,
		ActorID:     f.actor,
		InvoiceDate: fixedNow,
		Items: []SaleItemInput{{
			ProductID: product.ID,
			Quantity:  decimal.NewFromInt(qty),
			UnitPrice: decimal.NewFromInt(price),
		}},
	}
}

func TestSaleService_CreateSale_CashSale(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)

	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)
	f.repos.locker.On("Acquire", mock.Anything, f.tenantID).Return(nil)
	f.repos.sales.On("ListInvoiceNumbers", mock.Anything, f.tenantID).Return([]string{"1000", "1004"}, nil)
	f.repos.sales.On("Create", mock.Anything, mock.AnythingOfType("*sales.Sale")).Return(nil)
	f.repos.payments.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.expectLedger(product)

	resp, err := f.service.CreateSale(context.Background(), f.createCommand(product, 2, 10))
	require.NoError(t, err)

	assert.Equal(t, "1005", resp.InvoiceNumber)
	assert.True(t, resp.Finalized)
	assert.True(t, decimal.NewFromInt(20).Equal(resp.GrandTotal))
	assert.True(t, decimal.NewFromInt(20).Equal(resp.PaidAmount))
	assert.Equal(t, string(sales.PaymentStatusPaid), resp.PaymentStatus)
	require.Len(t, resp.Payments, 1)
	assert.True(t, resp.Payments[0].Synthetic)
	assert.True(t, decimal.NewFromInt(8).Equal(product.StockQuantity))

	assert.Equal(t, []string{sales.EventTypeSaleCreated}, f.repos.events.types())
	assert.Equal(t, 1, f.metrics.created)
	assert.Equal(t, 1, f.repos.locker.released)
	f.repos.assertExpectations(t)
}

func TestSaleService_CreateSale_CreditLimitExceeded(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)
	customer := newTestCustomer(f.tenantID, 300)
	committed := newFinalizedSale(f.tenantID, product, &customer.ID, f.actor, 5, 100)

	f.repos.customers.On("FindByIDForTenant", mock.Anything, f.tenantID, customer.ID).Return(customer, nil)
	f.repos.customers.On("FindByIDForUpdate", mock.Anything, f.tenantID, customer.ID).Return(customer, nil)
	f.repos.customers.On("SaveBalance", mock.Anything, customer).Return(nil)
	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)
	f.repos.locker.On("Acquire", mock.Anything, f.tenantID).Return(nil)
	f.repos.sales.On("ListInvoiceNumbers", mock.Anything, f.tenantID).Return([]string{}, nil)
	f.repos.sales.On("Create", mock.Anything, mock.AnythingOfType("*sales.Sale")).Return(nil)
	f.repos.sales.On("FindActiveByCustomer", mock.Anything, f.tenantID, customer.ID).Return([]sales.Sale{*committed}, nil)
	f.repos.payments.On("FindByCustomer", mock.Anything, f.tenantID, customer.ID).Return([]sales.Payment{}, nil)
	f.expectLedger(product)

	cmd := f.createCommand(product, 5, 100)
	cmd.CustomerID = &customer.ID

	resp, err := f.service.CreateSale(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, "1000", resp.InvoiceNumber)
	assert.True(t, resp.CreditLimitExceeded)
	assert.Contains(t, resp.CreditWarning, "exceeds credit limit")
	assert.Equal(t, string(sales.PaymentStatusPending), resp.PaymentStatus)
	assert.True(t, decimal.NewFromInt(500).Equal(customer.PendingBalance))

	assert.Equal(t, []string{sales.EventTypeSaleCreated, sales.EventTypeAlertRaised}, f.repos.events.types())
	alerts := f.repos.events.alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, string(audit.AlertCreditLimitExceeded), alerts[0].Kind)
	f.repos.payments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSaleService_CreateSale_InsufficientStock(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 3)

	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)

	cmd := f.createCommand(product, 2, 10)
	// Two lines of the same product are checked together
	cmd.Items = append(cmd.Items, cmd.Items[0])

	_, err := f.service.CreateSale(context.Background(), cmd)
	require.Error(t, err)
	assert.True(t, shared.IsKind(err, shared.KindStockConflict))
	assert.Equal(t, 1, f.metrics.conflicts["stock"])
	f.repos.sales.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.repos.locker.AssertNotCalled(t, "Acquire", mock.Anything, mock.Anything)
}

func TestSaleService_CreateSale_DuplicateManualNumber(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)

	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)
	f.repos.locker.On("Acquire", mock.Anything, f.tenantID).Return(nil)
	f.repos.sales.On("InvoiceNumberInUse", mock.Anything, f.tenantID, "1002", (*uuid.UUID)(nil)).Return(true, nil)
	f.sink.On("Raise", mock.Anything, mock.MatchedBy(func(a *audit.Alert) bool {
		return a.Kind == audit.AlertDuplicateInvoice && a.TenantID == f.tenantID
	})).Return(nil)

	cmd := f.createCommand(product, 1, 10)
	cmd.InvoiceNumber = "1002"

	_, err := f.service.CreateSale(context.Background(), cmd)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrAlreadyExists))
	var de *shared.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "invoice_number", de.Field)

	f.sink.AssertExpectations(t)
	f.repos.sales.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.repos.locker.released)
}

func TestSaleService_CreateSale_ManualNumberRaceBecomesDuplicate(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)

	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)
	f.repos.locker.On("Acquire", mock.Anything, f.tenantID).Return(nil)
	f.repos.sales.On("InvoiceNumberInUse", mock.Anything, f.tenantID, "1002", (*uuid.UUID)(nil)).Return(false, nil)
	f.repos.sales.On("Create", mock.Anything, mock.Anything).
		Return(shared.NewNumberingConflictError("unique index violated", errors.New("duplicate key"))).Once()
	f.sink.On("Raise", mock.Anything, mock.Anything).Return(nil)

	cmd := f.createCommand(product, 1, 10)
	cmd.InvoiceNumber = "1002"

	_, err := f.service.CreateSale(context.Background(), cmd)
	assert.True(t, errors.Is(err, shared.ErrAlreadyExists))
	f.repos.sales.AssertNumberOfCalls(t, "Create", 1)
	assert.Equal(t, 0, f.metrics.retries)
}

func TestSaleService_CreateSale_RetriesNumberCollision(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)

	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)
	f.repos.locker.On("Acquire", mock.Anything, f.tenantID).Return(nil)
	f.repos.sales.On("ListInvoiceNumbers", mock.Anything, f.tenantID).Return([]string{}, nil).Once()
	f.repos.sales.On("ListInvoiceNumbers", mock.Anything, f.tenantID).Return([]string{"1000"}, nil)
	f.repos.sales.On("Create", mock.Anything, mock.Anything).
		Return(shared.NewNumberingConflictError("unique index violated", errors.New("duplicate key"))).Once()
	f.repos.sales.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.repos.payments.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.expectLedger(product)

	resp, err := f.service.CreateSale(context.Background(), f.createCommand(product, 1, 10))
	require.NoError(t, err)
	assert.Equal(t, "1001", resp.InvoiceNumber)
	assert.Equal(t, 1, f.metrics.retries)
	assert.Equal(t, 2, f.repos.locker.released)
	// Only the committed attempt wrote events
	assert.Equal(t, []string{sales.EventTypeSaleCreated}, f.repos.events.types())
}

func TestSaleService_CreateSale_CashSaleRejectsExplicitPayments(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)

	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)
	f.repos.locker.On("Acquire", mock.Anything, f.tenantID).Return(nil)
	f.repos.sales.On("ListInvoiceNumbers", mock.Anything, f.tenantID).Return([]string{}, nil)

	cmd := f.createCommand(product, 1, 10)
	cmd.Payments = []PaymentInput{{Amount: decimal.NewFromInt(10), Mode: "ONLINE"}}

	_, err := f.service.CreateSale(context.Background(), cmd)
	require.Error(t, err)
	assert.True(t, shared.IsKind(err, shared.KindValidation))
	f.repos.sales.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSaleService_CreateSale_Draft(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 0)

	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)
	f.repos.locker.On("Acquire", mock.Anything, f.tenantID).Return(nil)
	f.repos.sales.On("ListInvoiceNumbers", mock.Anything, f.tenantID).Return([]string{}, nil)
	f.repos.sales.On("Create", mock.Anything, mock.Anything).Return(nil)

	cmd := f.createCommand(product, 4, 10)
	cmd.Draft = true

	resp, err := f.service.CreateSale(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, resp.Finalized)
	assert.Equal(t, string(sales.SaleStateDraft), resp.State)
	assert.Empty(t, resp.Payments)
	// Drafts neither check nor touch stock
	f.repos.products.AssertNotCalled(t, "FindByIDForUpdate", mock.Anything, mock.Anything, mock.Anything)
	f.repos.payments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

	cmd.Payments = []PaymentInput{{Amount: decimal.NewFromInt(10), Mode: "CASH"}}
	_, err = f.service.CreateSale(context.Background(), cmd)
	assert.True(t, shared.IsKind(err, shared.KindValidation))
}

func TestSaleService_EditSale_StaleToken(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)
	sale := newFinalizedSale(f.tenantID, product, nil, f.actor, 2, 10)

	f.repos.sales.On("FindByIDForUpdate", mock.Anything, f.tenantID, sale.ID).Return(sale, nil)

	_, err := f.service.EditSale(context.Background(), EditSaleCommand{
		TenantID:         f.tenantID,
		SaleID:           sale.ID,
		ActorID:          f.actor,
		ConcurrencyToken: uuid.NewString(),
		Items:            f.createCommand(product, 1, 10).Items,
	})
	require.Error(t, err)
	assert.True(t, shared.IsKind(err, shared.KindConcurrencyConflict))
	assert.Equal(t, 1, f.metrics.conflicts["concurrency"])
	f.repos.sales.AssertNotCalled(t, "SaveWithLock", mock.Anything, mock.Anything, mock.Anything)
}

func TestSaleService_EditSale_Locked(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)
	sale := newFinalizedSale(f.tenantID, product, nil, f.actor, 2, 10)
	sale.CreatedAt = fixedNow.Add(-25 * time.Hour)

	f.repos.sales.On("FindByIDForUpdate", mock.Anything, f.tenantID, sale.ID).Return(sale, nil)

	_, err := f.service.EditSale(context.Background(), EditSaleCommand{
		TenantID:         f.tenantID,
		SaleID:           sale.ID,
		ActorID:          f.actor,
		ConcurrencyToken: sale.ConcurrencyToken,
		Items:            f.createCommand(product, 1, 10).Items,
	})
	assert.True(t, errors.Is(err, shared.NewDomainError("SALE_LOCKED", "")))
}

func TestSaleService_EditSale_RecentlyModifiedByOtherUser(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)
	other := uuid.New()
	sale := newFinalizedSale(f.tenantID, product, nil, other, 2, 10)
	sale.ModifiedAt = fixedNow.Add(-10 * time.Second)

	f.repos.sales.On("FindByIDForUpdate", mock.Anything, f.tenantID, sale.ID).Return(sale, nil)

	_, err := f.service.EditSale(context.Background(), EditSaleCommand{
		TenantID:         f.tenantID,
		SaleID:           sale.ID,
		ActorID:          f.actor,
		ConcurrencyToken: sale.ConcurrencyToken,
		Items:            f.createCommand(product, 1, 10).Items,
	})
	assert.True(t, shared.IsKind(err, shared.KindConcurrencyConflict))
}

func TestSaleService_EditSale_ReducesTotalBelowPaid(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 8)
	customer := newTestCustomer(f.tenantID, 0)
	sale := newFinalizedSale(f.tenantID, product, &customer.ID, f.actor, 2, 50) // 100
	sale.Payments = []sales.Payment{clearedPayment(sale, 60)}
	sale.ApplyPaymentState(sales.DerivePaymentState(sale.GrandTotal, sale.Payments))
	customer.TotalSales = decimal.NewFromInt(100)
	customer.TotalPayments = decimal.NewFromInt(60)
	customer.PendingBalance = decimal.NewFromInt(40)
	token := sale.ConcurrencyToken

	afterEdit := newFinalizedSale(f.tenantID, product, &customer.ID, f.actor, 1, 50)
	carried := clearedPayment(afterEdit, 60)

	f.repos.sales.On("FindByIDForUpdate", mock.Anything, f.tenantID, sale.ID).Return(sale, nil)
	f.repos.customers.On("FindByIDForTenant", mock.Anything, f.tenantID, customer.ID).Return(customer, nil)
	f.repos.customers.On("FindByIDForUpdate", mock.Anything, f.tenantID, customer.ID).Return(customer, nil)
	f.repos.customers.On("SaveBalance", mock.Anything, customer).Return(nil)
	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)
	f.expectLedger(product)
	f.repos.payments.On("DeleteBySale", mock.Anything, f.tenantID, sale.ID).Return(nil)
	f.repos.payments.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.repos.payments.On("FindByCustomer", mock.Anything, f.tenantID, customer.ID).Return([]sales.Payment{carried}, nil)
	f.repos.sales.On("SaveWithLock", mock.Anything, sale, 1).Return(nil)
	f.repos.sales.On("ReplaceItems", mock.Anything, sale).Return(nil)
	f.repos.sales.On("FindActiveByCustomer", mock.Anything, f.tenantID, customer.ID).Return([]sales.Sale{*afterEdit}, nil)
	f.repos.sales.On("CurrentVersion", mock.Anything, f.tenantID, sale.ID).Return(2, nil)

	var archived *sales.InvoiceVersion
	f.repos.versions.On("Create", mock.Anything, mock.AnythingOfType("*sales.InvoiceVersion")).
		Run(func(args mock.Arguments) { archived = args.Get(1).(*sales.InvoiceVersion) }).
		Return(nil)

	resp, err := f.service.EditSale(context.Background(), EditSaleCommand{
		TenantID:         f.tenantID,
		SaleID:           sale.ID,
		ActorID:          f.actor,
		ConcurrencyToken: token,
		CustomerID:       &customer.ID,
		Items:            f.createCommand(product, 1, 50).Items,
		Reason:           "customer returned one unit",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Version)
	assert.NotEqual(t, token, resp.ConcurrencyToken)
	assert.True(t, decimal.NewFromInt(50).Equal(resp.GrandTotal))
	assert.True(t, decimal.NewFromInt(50).Equal(resp.PaidAmount))
	assert.Equal(t, string(sales.PaymentStatusPaid), resp.PaymentStatus)

	// Old line returned, new line consumed
	assert.True(t, decimal.NewFromInt(9).Equal(product.StockQuantity))
	assert.True(t, decimal.NewFromInt(-10).Equal(customer.PendingBalance))

	require.NotNil(t, archived)
	assert.Equal(t, 1, archived.Snapshot.Version)
	assert.True(t, decimal.NewFromInt(100).Equal(archived.Snapshot.GrandTotal))

	assert.Equal(t, []string{sales.EventTypeSaleEdited, sales.EventTypeCustomerBalanceCredited}, f.repos.events.types())
	credited := f.repos.events.events[1].(*sales.CustomerBalanceCreditedEvent)
	assert.True(t, decimal.NewFromInt(10).Equal(credited.Amount))
	assert.Empty(t, f.repos.events.alerts())
	assert.Equal(t, 1, f.metrics.edited)
}

func TestSaleService_EditSale_VersionMovedAfterCommit(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 8)
	sale := newFinalizedSale(f.tenantID, product, nil, f.actor, 2, 10)

	f.repos.sales.On("FindByIDForUpdate", mock.Anything, f.tenantID, sale.ID).Return(sale, nil)
	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)
	f.expectLedger(product)
	f.repos.payments.On("DeleteBySale", mock.Anything, f.tenantID, sale.ID).Return(nil)
	f.repos.payments.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.repos.sales.On("SaveWithLock", mock.Anything, sale, 1).Return(nil)
	f.repos.sales.On("ReplaceItems", mock.Anything, sale).Return(nil)
	f.repos.versions.On("Create", mock.Anything, mock.Anything).Return(nil)

	var readAfterCommit bool
	f.repos.sales.On("CurrentVersion", mock.Anything, f.tenantID, sale.ID).
		Run(func(mock.Arguments) {
			// events are written inside the transaction, so they exist by the time of the re-read
			readAfterCommit = len(f.repos.events.events) > 0
		}).
		Return(3, nil)

	_, err := f.service.EditSale(context.Background(), EditSaleCommand{
		TenantID:         f.tenantID,
		SaleID:           sale.ID,
		ActorID:          f.actor,
		ConcurrencyToken: sale.ConcurrencyToken,
		Items:            f.createCommand(product, 1, 10).Items,
	})
	assert.True(t, shared.IsKind(err, shared.KindConcurrencyConflict))
	assert.True(t, readAfterCommit, "version is re-read once the transaction body has finished")
	assert.Equal(t, []string{sales.EventTypeSaleEdited}, f.repos.events.types())
	assert.Zero(t, f.metrics.edited)
	assert.Equal(t, 1, f.metrics.conflicts["concurrency"])
}

func TestSaleService_DeleteSale(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 8)
	customer := newTestCustomer(f.tenantID, 0)
	sale := newFinalizedSale(f.tenantID, product, &customer.ID, f.actor, 2, 50)
	sale.Payments = []sales.Payment{clearedPayment(sale, 60)}
	sale.ApplyPaymentState(sales.DerivePaymentState(sale.GrandTotal, sale.Payments))
	customer.TotalSales = decimal.NewFromInt(100)
	customer.TotalPayments = decimal.NewFromInt(60)
	customer.PendingBalance = decimal.NewFromInt(40)

	f.repos.sales.On("FindByIDForUpdate", mock.Anything, f.tenantID, sale.ID).Return(sale, nil)
	f.expectLedger(product)
	f.repos.payments.On("Update", mock.Anything, mock.AnythingOfType("*sales.Payment")).Return(nil)
	f.repos.sales.On("SaveWithLock", mock.Anything, sale, 1).Return(nil)
	f.repos.customers.On("FindByIDForUpdate", mock.Anything, f.tenantID, customer.ID).Return(customer, nil)
	f.repos.customers.On("SaveBalance", mock.Anything, customer).Return(nil)
	f.repos.sales.On("FindActiveByCustomer", mock.Anything, f.tenantID, customer.ID).Return([]sales.Sale{}, nil)
	f.repos.payments.On("FindByCustomer", mock.Anything, f.tenantID, customer.ID).Return([]sales.Payment{}, nil)

	resp, err := f.service.DeleteSale(context.Background(), DeleteSaleCommand{
		TenantID: f.tenantID,
		SaleID:   sale.ID,
		ActorID:  f.actor,
		Reason:   "entered twice",
	})
	require.NoError(t, err)

	assert.True(t, resp.Deleted)
	assert.Equal(t, string(sales.SaleStateDeleted), resp.State)
	assert.True(t, decimal.NewFromInt(10).Equal(product.StockQuantity))
	assert.Equal(t, sales.PaymentRecordVoid, sale.Payments[0].Status)
	assert.True(t, customer.PendingBalance.IsZero())

	assert.Equal(t, []string{sales.EventTypeSaleDeleted, sales.EventTypeAlertRaised}, f.repos.events.types())
	alerts := f.repos.events.alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, string(audit.AlertInvoiceDeleted), alerts[0].Kind)
	assert.Contains(t, alerts[0].Message, "entered twice")
	assert.Equal(t, 1, f.metrics.deleted)

	// Deleting again is rejected
	_, err = f.service.DeleteSale(context.Background(), DeleteSaleCommand{TenantID: f.tenantID, SaleID: sale.ID, ActorID: f.actor})
	assert.True(t, errors.Is(err, shared.NewDomainError("SALE_DELETED", "")))
}

func TestSaleService_DeleteSale_NotFound(t *testing.T) {
	f := newSaleServiceFixture()
	saleID := uuid.New()
	f.repos.sales.On("FindByIDForUpdate", mock.Anything, f.tenantID, saleID).
		Return(nil, shared.NewNotFoundError("sale", saleID))

	_, err := f.service.DeleteSale(context.Background(), DeleteSaleCommand{TenantID: f.tenantID, SaleID: saleID, ActorID: f.actor})
	assert.True(t, shared.IsKind(err, shared.KindNotFound))
}

func TestSaleService_FinalizeSale(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)

	draft, err := sales.NewSale(f.tenantID, fixedNow, nil, f.actor)
	require.NoError(t, err)
	item, err := sales.NewSaleItem(product, inventory.UnitTypeBase, decimal.NewFromInt(3), decimal.NewFromInt(10), decimal.NewFromInt(2))
	require.NoError(t, err)
	require.NoError(t, draft.ReplaceItems([]sales.SaleItem{*item}, decimal.Zero))
	require.NoError(t, draft.AssignInvoiceNumber("1003"))

	f.repos.sales.On("FindByIDForUpdate", mock.Anything, f.tenantID, draft.ID).Return(draft, nil)
	f.repos.products.On("FindByIDsForTenant", mock.Anything, f.tenantID, mock.Anything).Return([]inventory.Product{*product}, nil)
	f.expectLedger(product)
	f.repos.sales.On("SaveWithLock", mock.Anything, draft, 1).Return(nil)
	f.repos.payments.On("Create", mock.Anything, mock.Anything).Return(nil)

	resp, err := f.service.FinalizeSale(context.Background(), FinalizeSaleCommand{
		TenantID: f.tenantID,
		SaleID:   draft.ID,
		ActorID:  f.actor,
	})
	require.NoError(t, err)
	assert.True(t, resp.Finalized)
	assert.True(t, decimal.NewFromInt(32).Equal(resp.PaidAmount))
	assert.Equal(t, string(sales.PaymentStatusPaid), resp.PaymentStatus)
	assert.True(t, decimal.NewFromInt(7).Equal(product.StockQuantity))
	assert.Equal(t, []string{sales.EventTypeSaleFinalized}, f.repos.events.types())

	// Finalizing twice is rejected
	_, err = f.service.FinalizeSale(context.Background(), FinalizeSaleCommand{TenantID: f.tenantID, SaleID: draft.ID, ActorID: f.actor})
	assert.True(t, errors.Is(err, shared.NewDomainError("SALE_ALREADY_FINALIZED", "")))
}

func TestSaleService_GetSaleById(t *testing.T) {
	f := newSaleServiceFixture()
	product := newTestProduct(f.tenantID, "SKU-1", 10)
	sale := newFinalizedSale(f.tenantID, product, nil, f.actor, 1, 10)

	f.repos.sales.On("FindByIDForTenant", mock.Anything, f.tenantID, sale.ID).Return(sale, nil)

	resp, err := f.service.GetSaleById(context.Background(), f.tenantID, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.InvoiceNumber, resp.InvoiceNumber)
	assert.Equal(t, sale.ConcurrencyToken, resp.ConcurrencyToken)
	assert.Equal(t, string(sales.SaleStateFinalized), resp.State)
}
