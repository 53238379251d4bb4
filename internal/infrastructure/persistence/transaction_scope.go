package persistence

import (
	"context"
	"database/sql"
	"fmt"

	salesapp "github.com/erp/invoicing/internal/application/sales"
	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/partner"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
// Every repository, the numbering lock and the outbox writer share the transaction.
type GormTransactionScope struct {
	db        *gorm.DB
	outbox    shared.OutboxEventSaver
	lockers   LockerFactory
	isolation sql.IsolationLevel
}

// ScopeOption configures a GormTransactionScope
type ScopeOption func(*GormTransactionScope)

// WithIsolation sets the isolation level of every transaction on PostgreSQL.
// SQLite transactions are serializable already and ignore it.
func WithIsolation(level sql.IsolationLevel) ScopeOption {
	return func(s *GormTransactionScope) {
		s.isolation = level
	}
}

// IsolationLevel maps a database.isolation setting to its sql level.
// Empty keeps the driver default.
func IsolationLevel(name string) (sql.IsolationLevel, error) {
	switch name {
	case "":
		return sql.LevelDefault, nil
	case "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, fmt.Errorf("unknown isolation level %q", name)
}

// NewGormTransactionScope creates a new GormTransactionScope.
// A nil lockers factory disables numbering locks.
func NewGormTransactionScope(db *gorm.DB, outbox shared.OutboxEventSaver, lockers LockerFactory, opts ...ScopeOption) *GormTransactionScope {
	s := &GormTransactionScope{db: db, outbox: outbox, lockers: lockers}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
// A serialization failure comes back as a concurrency conflict the caller may retry.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos salesapp.TransactionalRepositories) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := &gormTransactionalRepositories{tx: tx, outbox: s.outbox}
		if s.lockers != nil {
			repos.locker = s.lockers(tx)
		}
		return fn(repos)
	}, s.txOptions())
	if isSerializationFailure(err) {
		return shared.ErrConcurrencyConflict.WithCause(err)
	}
	return err
}

// txOptions returns nil for the driver default
func (s *GormTransactionScope) txOptions() *sql.TxOptions {
	if s.isolation == sql.LevelDefault || dialectOf(s.db) != DriverPostgres {
		return nil
	}
	return &sql.TxOptions{Isolation: s.isolation}
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx     *gorm.DB
	outbox shared.OutboxEventSaver
	locker salesapp.InvoiceNumberLocker
}

func (r *gormTransactionalRepositories) SaleRepo() sales.SaleRepository {
	return NewGormSaleRepository(r.tx)
}

func (r *gormTransactionalRepositories) PaymentRepo() sales.PaymentRepository {
	return NewGormPaymentRepository(r.tx)
}

func (r *gormTransactionalRepositories) VersionRepo() sales.InvoiceVersionRepository {
	return NewGormInvoiceVersionRepository(r.tx)
}

func (r *gormTransactionalRepositories) ProductRepo() inventory.ProductRepository {
	return NewGormProductRepository(r.tx)
}

func (r *gormTransactionalRepositories) InventoryTransactionRepo() inventory.InventoryTransactionRepository {
	return NewGormInventoryTransactionRepository(r.tx)
}

func (r *gormTransactionalRepositories) CustomerRepo() partner.CustomerRepository {
	return NewGormCustomerRepository(r.tx)
}

// NumberLocker returns the numbering lock bound to this transaction, nil when disabled
func (r *gormTransactionalRepositories) NumberLocker() salesapp.InvoiceNumberLocker {
	return r.locker
}

// Events returns the outbox writer of this transaction
func (r *gormTransactionalRepositories) Events() salesapp.EventWriter {
	return &txEventWriter{tx: r.tx, outbox: r.outbox}
}

// txEventWriter appends events to the outbox inside the transaction
type txEventWriter struct {
	tx     *gorm.DB
	outbox shared.OutboxEventSaver
}

func (w *txEventWriter) Save(ctx context.Context, events ...shared.DomainEvent) error {
	if w.outbox == nil || len(events) == 0 {
		return nil
	}
	return w.outbox.SaveEvents(ctx, w.tx, events...)
}

// Ensure GormTransactionScope implements TransactionScope
var _ salesapp.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ salesapp.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
