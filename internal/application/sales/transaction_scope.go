package sales

import (
	"context"

	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/partner"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
)

// TransactionScope runs invoice operations as one unit of work.
// If fn returns an error the transaction is rolled back, otherwise it is committed.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// EventWriter appends domain events to the outbox of the current transaction.
// The events are delivered to handlers only after the transaction committed.
type EventWriter interface {
	Save(ctx context.Context, events ...shared.DomainEvent) error
}

// TransactionalRepositories gives access to every repository an invoice operation touches.
// All of them share the same underlying database transaction.
//
// Aggregate boundary notes:
//   - SaleRepo owns the Sale header and its items. Payments have their own repository
//     because they outlive edits as history in the version snapshots.
//   - ProductRepo and InventoryTransactionRepo are only written through the StockLedger.
//   - CustomerRepo is only written through the BalanceReconciler.
type TransactionalRepositories interface {
	SaleRepo() sales.SaleRepository
	PaymentRepo() sales.PaymentRepository
	VersionRepo() sales.InvoiceVersionRepository
	ProductRepo() inventory.ProductRepository
	InventoryTransactionRepo() inventory.InventoryTransactionRepository
	CustomerRepo() partner.CustomerRepository
	// NumberLocker returns the tenant numbering lock usable from this transaction
	NumberLocker() InvoiceNumberLocker
	Events() EventWriter
}

// NoOpTransactionScope runs the function without a real transaction.
// It is used by unit tests that wire mocks for every repository.
type NoOpTransactionScope struct {
	saleRepo        sales.SaleRepository
	paymentRepo     sales.PaymentRepository
	versionRepo     sales.InvoiceVersionRepository
	productRepo     inventory.ProductRepository
	transactionRepo inventory.InventoryTransactionRepository
	customerRepo    partner.CustomerRepository
	locker          InvoiceNumberLocker
	events          EventWriter
}

// NoOpRepositories lists the repositories a NoOpTransactionScope hands out
type NoOpRepositories struct {
	Sales        sales.SaleRepository
	Payments     sales.PaymentRepository
	Versions     sales.InvoiceVersionRepository
	Products     inventory.ProductRepository
	Transactions inventory.InventoryTransactionRepository
	Customers    partner.CustomerRepository
	Locker       InvoiceNumberLocker
	Events       EventWriter
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories
func NewNoOpTransactionScope(r NoOpRepositories) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		saleRepo:        r.Sales,
		paymentRepo:     r.Payments,
		versionRepo:     r.Versions,
		productRepo:     r.Products,
		transactionRepo: r.Transactions,
		customerRepo:    r.Customers,
		locker:          r.Locker,
		events:          r.Events,
	}
}

// Execute runs the function without a real transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

func (s *NoOpTransactionScope) SaleRepo() sales.SaleRepository              { return s.saleRepo }
func (s *NoOpTransactionScope) PaymentRepo() sales.PaymentRepository        { return s.paymentRepo }
func (s *NoOpTransactionScope) VersionRepo() sales.InvoiceVersionRepository { return s.versionRepo }
func (s *NoOpTransactionScope) ProductRepo() inventory.ProductRepository    { return s.productRepo }
func (s *NoOpTransactionScope) InventoryTransactionRepo() inventory.InventoryTransactionRepository {
	return s.transactionRepo
}
func (s *NoOpTransactionScope) CustomerRepo() partner.CustomerRepository { return s.customerRepo }
func (s *NoOpTransactionScope) NumberLocker() InvoiceNumberLocker        { return s.locker }
func (s *NoOpTransactionScope) Events() EventWriter                      { return s.events }

// Ensure NoOpTransactionScope implements both interfaces
var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
