package sales

import (
	"context"
	"time"

	"github.com/erp/invoicing/internal/domain/audit"
	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/partner"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockSaleRepository is a mock implementation of sales.SaleRepository
type MockSaleRepository struct {
	mock.Mock
}

func (m *MockSaleRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*sales.Sale, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sales.Sale), args.Error(1)
}

func (m *MockSaleRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*sales.Sale, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sales.Sale), args.Error(1)
}

func (m *MockSaleRepository) Create(ctx context.Context, sale *sales.Sale) error {
	args := m.Called(ctx, sale)
	return args.Error(0)
}

func (m *MockSaleRepository) SaveWithLock(ctx context.Context, sale *sales.Sale, expectedVersion int) error {
	args := m.Called(ctx, sale, expectedVersion)
	return args.Error(0)
}

func (m *MockSaleRepository) ReplaceItems(ctx context.Context, sale *sales.Sale) error {
	args := m.Called(ctx, sale)
	return args.Error(0)
}

func (m *MockSaleRepository) CurrentVersion(ctx context.Context, tenantID, id uuid.UUID) (int, error) {
	args := m.Called(ctx, tenantID, id)
	return args.Int(0), args.Error(1)
}

func (m *MockSaleRepository) ListInvoiceNumbers(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSaleRepository) InvoiceNumberInUse(ctx context.Context, tenantID uuid.UUID, number string, excludeID *uuid.UUID) (bool, error) {
	args := m.Called(ctx, tenantID, number, excludeID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSaleRepository) FindActiveByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]sales.Sale, error) {
	args := m.Called(ctx, tenantID, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.Sale), args.Error(1)
}

func (m *MockSaleRepository) FindActiveForTenant(ctx context.Context, tenantID uuid.UUID, after uuid.UUID, limit int) ([]sales.Sale, error) {
	args := m.Called(ctx, tenantID, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.Sale), args.Error(1)
}

func (m *MockSaleRepository) UpdatePaymentState(ctx context.Context, sale *sales.Sale) error {
	args := m.Called(ctx, sale)
	return args.Error(0)
}

func (m *MockSaleRepository) LockOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff, at time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, cutoff, at)
	return args.Get(0).(int64), args.Error(1)
}

// MockPaymentRepository is a mock implementation of sales.PaymentRepository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, payments ...*sales.Payment) error {
	args := m.Called(ctx, payments)
	return args.Error(0)
}

func (m *MockPaymentRepository) FindBySale(ctx context.Context, tenantID, saleID uuid.UUID) ([]sales.Payment, error) {
	args := m.Called(ctx, tenantID, saleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]sales.Payment, error) {
	args := m.Called(ctx, tenantID, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if fn, ok := args.Get(0).(func(context.Context, uuid.UUID, uuid.UUID) []sales.Payment); ok {
		return fn(ctx, tenantID, customerID), args.Error(1)
	}
	return args.Get(0).([]sales.Payment), args.Error(1)
}

func (m *MockPaymentRepository) FindBySales(ctx context.Context, tenantID uuid.UUID, saleIDs []uuid.UUID) ([]sales.Payment, error) {
	args := m.Called(ctx, tenantID, saleIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.Payment), args.Error(1)
}

func (m *MockPaymentRepository) DeleteBySale(ctx context.Context, tenantID, saleID uuid.UUID) error {
	args := m.Called(ctx, tenantID, saleID)
	return args.Error(0)
}

func (m *MockPaymentRepository) Update(ctx context.Context, payment *sales.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

// MockVersionRepository is a mock implementation of sales.InvoiceVersionRepository
type MockVersionRepository struct {
	mock.Mock
}

func (m *MockVersionRepository) Create(ctx context.Context, version *sales.InvoiceVersion) error {
	args := m.Called(ctx, version)
	return args.Error(0)
}

func (m *MockVersionRepository) FindBySale(ctx context.Context, tenantID, saleID uuid.UUID) ([]sales.InvoiceVersion, error) {
	args := m.Called(ctx, tenantID, saleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sales.InvoiceVersion), args.Error(1)
}

func (m *MockVersionRepository) FindBySaleAndNumber(ctx context.Context, tenantID, saleID uuid.UUID, versionNumber int) (*sales.InvoiceVersion, error) {
	args := m.Called(ctx, tenantID, saleID, versionNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sales.InvoiceVersion), args.Error(1)
}

// MockProductRepository is a mock implementation of inventory.ProductRepository
type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*inventory.Product, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.Product), args.Error(1)
}

func (m *MockProductRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*inventory.Product, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.Product), args.Error(1)
}

func (m *MockProductRepository) FindByIDsForTenant(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]inventory.Product, error) {
	args := m.Called(ctx, tenantID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]inventory.Product), args.Error(1)
}

func (m *MockProductRepository) Save(ctx context.Context, product *inventory.Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *MockProductRepository) UpdateStock(ctx context.Context, product *inventory.Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

// MockInventoryTransactionRepository is a mock implementation of inventory.InventoryTransactionRepository
type MockInventoryTransactionRepository struct {
	mock.Mock
}

func (m *MockInventoryTransactionRepository) Create(ctx context.Context, tx *inventory.InventoryTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockInventoryTransactionRepository) FindBySource(ctx context.Context, tenantID uuid.UUID, sourceType inventory.SourceType, sourceID uuid.UUID) ([]inventory.InventoryTransaction, error) {
	args := m.Called(ctx, tenantID, sourceType, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]inventory.InventoryTransaction), args.Error(1)
}

func (m *MockInventoryTransactionRepository) FindByProduct(ctx context.Context, tenantID, productID uuid.UUID) ([]inventory.InventoryTransaction, error) {
	args := m.Called(ctx, tenantID, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]inventory.InventoryTransaction), args.Error(1)
}

// MockCustomerRepository is a mock implementation of partner.CustomerRepository
type MockCustomerRepository struct {
	mock.Mock
}

func (m *MockCustomerRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*partner.Customer, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*partner.Customer), args.Error(1)
}

func (m *MockCustomerRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*partner.Customer, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*partner.Customer), args.Error(1)
}

func (m *MockCustomerRepository) Save(ctx context.Context, customer *partner.Customer) error {
	args := m.Called(ctx, customer)
	return args.Error(0)
}

func (m *MockCustomerRepository) SaveBalance(ctx context.Context, customer *partner.Customer) error {
	args := m.Called(ctx, customer)
	return args.Error(0)
}

func (m *MockCustomerRepository) FindIDsForTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// MockNumberLocker is a mock implementation of InvoiceNumberLocker
type MockNumberLocker struct {
	mock.Mock
	released int
}

func (m *MockNumberLocker) Acquire(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	args := m.Called(ctx, tenantID)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return func() { m.released++ }, nil
}

// MockAuditSink is a mock implementation of audit.Sink
type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) Record(ctx context.Context, entry *audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditSink) Raise(ctx context.Context, alert *audit.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// recordingEvents collects the events an operation wrote to the outbox
type recordingEvents struct {
	events []shared.DomainEvent
	err    error
}

func (r *recordingEvents) Save(_ context.Context, events ...shared.DomainEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingEvents) types() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func (r *recordingEvents) alerts() []*sales.AlertRaisedEvent {
	var out []*sales.AlertRaisedEvent
	for _, e := range r.events {
		if a, ok := e.(*sales.AlertRaisedEvent); ok {
			out = append(out, a)
		}
	}
	return out
}

// recordingMetrics counts measurements
type recordingMetrics struct {
	created   int
	edited    int
	deleted   int
	retries   int
	conflicts map[string]int
	drift     map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{conflicts: map[string]int{}, drift: map[string]int{}}
}

func (m *recordingMetrics) SaleCreated(context.Context, uuid.UUID, decimal.Decimal, bool) { m.created++ }
func (m *recordingMetrics) SaleEdited(context.Context, uuid.UUID)                         { m.edited++ }
func (m *recordingMetrics) SaleDeleted(context.Context, uuid.UUID)                        { m.deleted++ }
func (m *recordingMetrics) NumberingRetried(context.Context, uuid.UUID)                   { m.retries++ }
func (m *recordingMetrics) ConflictRejected(_ context.Context, _ uuid.UUID, kind string) {
	m.conflicts[kind]++
}
func (m *recordingMetrics) DriftFixed(_ context.Context, _ uuid.UUID, what string, count int) {
	m.drift[what] += count
}

// testRepos bundles every mock behind a NoOpTransactionScope
type testRepos struct {
	sales        *MockSaleRepository
	payments     *MockPaymentRepository
	versions     *MockVersionRepository
	products     *MockProductRepository
	transactions *MockInventoryTransactionRepository
	customers    *MockCustomerRepository
	locker       *MockNumberLocker
	events       *recordingEvents
	scope        *NoOpTransactionScope
}

func newTestRepos() *testRepos {
	r := &testRepos{
		sales:        new(MockSaleRepository),
		payments:     new(MockPaymentRepository),
		versions:     new(MockVersionRepository),
		products:     new(MockProductRepository),
		transactions: new(MockInventoryTransactionRepository),
		customers:    new(MockCustomerRepository),
		locker:       new(MockNumberLocker),
		events:       &recordingEvents{},
	}
	r.scope = NewNoOpTransactionScope(NoOpRepositories{
		Sales:        r.sales,
		Payments:     r.payments,
		Versions:     r.versions,
		Products:     r.products,
		Transactions: r.transactions,
		Customers:    r.customers,
		Locker:       r.locker,
		Events:       r.events,
	})
	return r
}

func (r *testRepos) assertExpectations(t mock.TestingT) {
	r.sales.AssertExpectations(t)
	r.payments.AssertExpectations(t)
	r.versions.AssertExpectations(t)
	r.products.AssertExpectations(t)
	r.transactions.AssertExpectations(t)
	r.customers.AssertExpectations(t)
	r.locker.AssertExpectations(t)
}

// Test fixtures

var fixedNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newTestProduct(tenantID uuid.UUID, sku string, stock int64) *inventory.Product {
	p, err := inventory.NewProduct(tenantID, sku, "Product "+sku, decimal.NewFromInt(12), decimal.NewFromInt(stock))
	if err != nil {
		panic(err)
	}
	return p
}

func newTestCustomer(tenantID uuid.UUID, creditLimit int64) *partner.Customer {
	c, err := partner.NewCustomer(tenantID, "C-001", "Acme Stores")
	if err != nil {
		panic(err)
	}
	if creditLimit > 0 {
		_ = c.SetCreditLimit(decimal.NewFromInt(creditLimit))
	}
	return c
}

// newFinalizedSale builds a finalized invoice with one BASE line of qty × price
func newFinalizedSale(tenantID uuid.UUID, product *inventory.Product, customerID *uuid.UUID, actor uuid.UUID, qty, price int64) *sales.Sale {
	sale, err := sales.NewSale(tenantID, fixedNow, customerID, actor)
	if err != nil {
		panic(err)
	}
	item, err := sales.NewSaleItem(product, inventory.UnitTypeBase, decimal.NewFromInt(qty), decimal.NewFromInt(price), decimal.Zero)
	if err != nil {
		panic(err)
	}
	if err := sale.ReplaceItems([]sales.SaleItem{*item}, decimal.Zero); err != nil {
		panic(err)
	}
	if err := sale.AssignInvoiceNumber("1000"); err != nil {
		panic(err)
	}
	if err := sale.Finalize(fixedNow); err != nil {
		panic(err)
	}
	sale.CreatedAt = fixedNow.Add(-time.Hour)
	sale.ModifiedAt = fixedNow.Add(-time.Hour)
	return sale
}

func clearedPayment(sale *sales.Sale, amount int64) sales.Payment {
	p, err := sales.NewPayment(sale.TenantID, decimal.NewFromInt(amount), sales.PaymentModeOnline, sales.PaymentRecordCleared, fixedNow)
	if err != nil {
		panic(err)
	}
	p.AttachTo(sale)
	return *p
}
