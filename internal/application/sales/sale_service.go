package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/invoicing/internal/domain/audit"
	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/partner"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultEditLockWindow is how long after creation an invoice stays editable
const DefaultEditLockWindow = 24 * time.Hour

// SaleService orchestrates invoice creation, edits and deletion.
// Every operation runs in one transaction: number allocation, stock ledger,
// payments, customer balances, version history and outbox events commit together.
type SaleService struct {
	txScope    TransactionScope
	reader     sales.SaleRepository
	numbers    *InvoiceNumberAllocator
	guard      *ConcurrencyGuard
	balances   *BalanceReconciler
	lockWindow time.Duration
	alerts     audit.Sink
	metrics    Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewSaleService creates a new SaleService
func NewSaleService(
	txScope TransactionScope,
	reader sales.SaleRepository,
	numbers *InvoiceNumberAllocator,
	guard *ConcurrencyGuard,
	balances *BalanceReconciler,
	lockWindow time.Duration,
	logger *zap.Logger,
) *SaleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleService{
		txScope:    txScope,
		reader:     reader,
		numbers:    numbers,
		guard:      guard,
		balances:   balances,
		lockWindow: lockWindow,
		metrics:    NoopMetrics,
		logger:     logger,
		now:        time.Now,
	}
}

// SetAlertSink sets the sink for alerts raised outside a committed transaction
func (s *SaleService) SetAlertSink(sink audit.Sink) {
	s.alerts = sink
}

// SetMetrics sets the business metrics sink
func (s *SaleService) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// WithClock overrides the time source
func (s *SaleService) WithClock(now func() time.Time) *SaleService {
	s.now = now
	return s
}

// AllocateNextInvoiceNumber previews the next invoice number of the tenant
func (s *SaleService) AllocateNextInvoiceNumber(ctx context.Context, tenantID uuid.UUID) (string, error) {
	return s.numbers.AllocateNextInvoiceNumber(ctx, tenantID)
}

// ValidateInvoiceNumber checks a manually supplied invoice number
func (s *SaleService) ValidateInvoiceNumber(ctx context.Context, tenantID uuid.UUID, number string, excludeID *uuid.UUID) error {
	return s.numbers.ValidateInvoiceNumber(ctx, tenantID, number, excludeID)
}

// GetSaleById retrieves an invoice with its items and payments
func (s *SaleService) GetSaleById(ctx context.Context, tenantID, saleID uuid.UUID) (*SaleResponse, error) {
	sale, err := s.reader.FindByIDForTenant(ctx, tenantID, saleID)
	if err != nil {
		return nil, err
	}
	resp := ToSaleResponse(sale, s.now(), s.lockWindow)
	return &resp, nil
}

// CreateSale creates an invoice.
// Automatically numbered invoices are retried with backoff when the number collides
// at commit; manually numbered ones are not.
func (s *SaleService) CreateSale(ctx context.Context, cmd CreateSaleCommand) (*SaleResponse, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	manual := strings.TrimSpace(cmd.InvoiceNumber)

	var resp *SaleResponse
	op := func() error {
		r, err := s.createOnce(ctx, cmd, manual)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	var err error
	if manual != "" {
		err = op()
		if shared.IsKind(err, shared.KindNumberingConflict) {
			err = duplicateNumberError(manual).WithCause(err)
		}
	} else {
		err = s.numbers.withRetry(ctx, cmd.TenantID, op)
	}
	if err != nil {
		if isDuplicateNumber(err) {
			s.raiseDuplicateInvoiceAlert(ctx, cmd.TenantID, manual)
		}
		s.recordRejection(ctx, cmd.TenantID, err)
		return nil, err
	}

	s.metrics.SaleCreated(ctx, cmd.TenantID, resp.GrandTotal, resp.Finalized)
	s.logger.Info("Sale created",
		zap.String("tenant_id", cmd.TenantID.String()),
		zap.String("sale_id", resp.ID.String()),
		zap.String("invoice_number", resp.InvoiceNumber),
		zap.Bool("finalized", resp.Finalized),
		zap.Bool("credit_limit_exceeded", resp.CreditLimitExceeded))
	return resp, nil
}

func (s *SaleService) createOnce(ctx context.Context, cmd CreateSaleCommand, manual string) (*SaleResponse, error) {
	now := s.now()
	var resp *SaleResponse

	// The numbering lock outlives the transaction body: it is released only after
	// commit or rollback so no other allocation can read the numbers in between.
	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		customer, err := s.loadCustomer(ctx, repos, cmd.TenantID, cmd.CustomerID)
		if err != nil {
			return err
		}

		sale, err := sales.NewSale(cmd.TenantID, cmd.InvoiceDate, cmd.CustomerID, cmd.ActorID)
		if err != nil {
			return err
		}
		if err := sale.SetNotes(cmd.Notes); err != nil {
			return err
		}

		products, err := loadProducts(ctx, repos.ProductRepo(), cmd.TenantID, cmd.Items)
		if err != nil {
			return err
		}
		items, err := buildItems(products, cmd.Items)
		if err != nil {
			return err
		}
		if err := sale.ReplaceItems(items, cmd.Discount); err != nil {
			return err
		}

		if cmd.Draft {
			if len(cmd.Payments) > 0 {
				return shared.NewValidationError("payments", "draft invoices cannot carry payments")
			}
		} else if err := checkStock(products, sales.BaseDemand(sale.Items), nil); err != nil {
			return err
		}

		number, rel, err := s.numbers.reserve(ctx, repos, cmd.TenantID, manual)
		release = rel
		if err != nil {
			return err
		}
		if err := sale.AssignInvoiceNumber(number); err != nil {
			return err
		}

		var payments []sales.Payment
		if !cmd.Draft {
			payments, err = buildPayments(sale, cmd.Payments, cmd.ActorID, now)
			if err != nil {
				return err
			}
			if err := sale.Finalize(now); err != nil {
				return err
			}
		}
		state := sales.DerivePaymentState(sale.GrandTotal, payments)
		sale.ApplyPaymentState(state)

		if err := repos.SaleRepo().Create(ctx, sale); err != nil {
			return err
		}
		if len(payments) > 0 {
			if err := repos.PaymentRepo().Create(ctx, paymentPointers(payments)...); err != nil {
				return fmt.Errorf("create payments: %w", err)
			}
		}
		sale.Payments = payments

		var events []shared.DomainEvent
		var credit partner.CreditEvaluation
		if sale.Finalized {
			ledger := inventory.NewStockLedger(repos.ProductRepo(), repos.InventoryTransactionRepo()).WithClock(s.now)
			if err := ledger.Consume(ctx, cmd.TenantID, sales.Movements(sale.Items), saleRef(sale, cmd.ActorID, "sale created")); err != nil {
				return err
			}

			if customer != nil {
				settled, balanceEvents, err := s.settleBalances(ctx, repos, cmd.TenantID, map[uuid.UUID]decimal.Decimal{
					customer.ID: sale.GrandTotal.Sub(state.Collected),
				})
				if err != nil {
					return err
				}
				events = append(events, balanceEvents...)
				credit = s.evaluateCredit(settled[customer.ID])
				events = append(events, s.overpaymentEvents(sale, state, cmd.ActorID, "payments exceed the invoice total")...)
			}
		}
		if credit.Exceeded {
			events = append(events, creditAlert(sale, credit))
		}

		events = append([]shared.DomainEvent{sales.NewSaleCreatedEvent(sale, credit.Exceeded, cmd.ActorID)}, events...)
		if err := repos.Events().Save(ctx, events...); err != nil {
			return fmt.Errorf("save sale events: %w", err)
		}

		r := ToSaleResponse(sale, now, s.lockWindow)
		r.CreditLimitExceeded = credit.Exceeded
		r.CreditWarning = credit.Warning
		resp = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// EditSale replaces the content of a finalized or draft invoice.
// The old stock and balance effects are reversed and the new ones applied, the
// pre-edit state is archived as a version, and the version counter is bumped.
func (s *SaleService) EditSale(ctx context.Context, cmd EditSaleCommand) (*SaleResponse, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	now := s.now()
	var resp *SaleResponse
	var committed *sales.Sale

	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		sale, err := repos.SaleRepo().FindByIDForUpdate(ctx, cmd.TenantID, cmd.SaleID)
		if err != nil {
			return err
		}
		if err := sale.EnsureEditable(now, s.lockWindow); err != nil {
			return err
		}
		if err := s.guard.CheckToken(sale, cmd.ConcurrencyToken); err != nil {
			return err
		}
		if err := s.guard.RecentlyModified(sale, cmd.ActorID); err != nil {
			return err
		}

		before := sales.TakeSnapshot(sale)
		wasFinalized := sale.Finalized
		oldCustomer := sale.CustomerID
		oldItems := append([]sales.SaleItem(nil), sale.Items...)
		oldPayments := append([]sales.Payment(nil), sale.Payments...)
		oldState := sales.DerivePaymentState(sale.GrandTotal, oldPayments)
		oldGrand := sale.GrandTotal

		customer, err := s.loadCustomer(ctx, repos, cmd.TenantID, cmd.CustomerID)
		if err != nil {
			return err
		}

		oldProductIDs := make([]uuid.UUID, 0, len(oldItems))
		for i := range oldItems {
			oldProductIDs = append(oldProductIDs, oldItems[i].ProductID)
		}
		products, err := loadProducts(ctx, repos.ProductRepo(), cmd.TenantID, cmd.Items, oldProductIDs...)
		if err != nil {
			return err
		}
		items, err := buildItems(products, cmd.Items)
		if err != nil {
			return err
		}
		if wasFinalized {
			if err := checkStock(products, sales.BaseDemand(items), sales.BaseDemand(oldItems)); err != nil {
				return err
			}
		} else if len(cmd.Payments) > 0 {
			return shared.NewValidationError("payments", "draft invoices cannot carry payments")
		}

		sale.ChangeCustomer(cmd.CustomerID)
		if cmd.InvoiceDate != nil && !cmd.InvoiceDate.IsZero() {
			sale.InvoiceDate = *cmd.InvoiceDate
		}
		if err := sale.SetNotes(cmd.Notes); err != nil {
			return err
		}
		if err := sale.ReplaceItems(items, cmd.Discount); err != nil {
			return err
		}

		var payments []sales.Payment
		if wasFinalized {
			if cmd.Payments != nil {
				payments, err = buildPayments(sale, cmd.Payments, cmd.ActorID, now)
			} else {
				payments, err = carryPayments(sale, oldPayments, cmd.ActorID, now)
			}
			if err != nil {
				return err
			}
		}
		state := sales.DerivePaymentState(sale.GrandTotal, payments)
		sale.ApplyPaymentState(state)

		if wasFinalized {
			ledger := inventory.NewStockLedger(repos.ProductRepo(), repos.InventoryTransactionRepo()).WithClock(s.now)
			if err := ledger.Reverse(ctx, cmd.TenantID, sales.Movements(oldItems), saleRef(sale, cmd.ActorID, "sale edited: reverse previous lines")); err != nil {
				return err
			}
			if err := ledger.Consume(ctx, cmd.TenantID, sales.Movements(sale.Items), saleRef(sale, cmd.ActorID, "sale edited: apply new lines")); err != nil {
				return err
			}
		}

		if err := repos.PaymentRepo().DeleteBySale(ctx, cmd.TenantID, sale.ID); err != nil {
			return fmt.Errorf("delete previous payments: %w", err)
		}
		if len(payments) > 0 {
			if err := repos.PaymentRepo().Create(ctx, paymentPointers(payments)...); err != nil {
				return fmt.Errorf("create payments: %w", err)
			}
		}
		sale.Payments = payments

		expected := sale.Version
		sale.MarkModified(cmd.ActorID, now)
		if err := repos.SaleRepo().SaveWithLock(ctx, sale, expected); err != nil {
			return err
		}
		if err := repos.SaleRepo().ReplaceItems(ctx, sale); err != nil {
			return err
		}

		diff := sales.Diff(before, sales.TakeSnapshot(sale))
		version := sales.NewInvoiceVersion(before, sale.ID, cmd.TenantID, diff, cmd.Reason, cmd.ActorID)
		if err := repos.VersionRepo().Create(ctx, version); err != nil {
			return fmt.Errorf("archive version %d: %w", before.Version, err)
		}

		var events []shared.DomainEvent
		var credit partner.CreditEvaluation
		if wasFinalized {
			deltas := make(map[uuid.UUID]decimal.Decimal, 2)
			if oldCustomer != nil {
				deltas[*oldCustomer] = deltas[*oldCustomer].Sub(oldGrand).Add(oldState.Collected)
			}
			if customer != nil {
				deltas[customer.ID] = deltas[customer.ID].Add(sale.GrandTotal).Sub(state.Collected)
			}
			settled, balanceEvents, err := s.settleBalances(ctx, repos, cmd.TenantID, deltas)
			if err != nil {
				return err
			}
			events = append(events, balanceEvents...)
			if customer != nil {
				credit = s.evaluateCredit(settled[customer.ID])
				events = append(events, s.overpaymentEvents(sale, state, cmd.ActorID, "grand total reduced below the amount paid")...)
			}
			if credit.Exceeded {
				events = append(events, creditAlert(sale, credit))
			}
		}

		events = append([]shared.DomainEvent{sales.NewSaleEditedEvent(sale, before.Version, cmd.Reason, diff, cmd.ActorID)}, events...)
		if err := repos.Events().Save(ctx, events...); err != nil {
			return fmt.Errorf("save sale events: %w", err)
		}

		r := ToSaleResponse(sale, now, s.lockWindow)
		r.CreditLimitExceeded = credit.Exceeded
		r.CreditWarning = credit.Warning
		resp = &r
		committed = sale
		return nil
	})
	if err != nil {
		s.recordRejection(ctx, cmd.TenantID, err)
		return nil, err
	}

	// The edit is committed. A version other than ours means another writer got in
	// right behind it and the caller must reload before trusting the response.
	if err := s.guard.VerifyVersion(ctx, s.reader, committed); err != nil {
		s.logger.Warn("Sale version moved after commit",
			zap.String("tenant_id", cmd.TenantID.String()),
			zap.String("sale_id", cmd.SaleID.String()),
			zap.Int("version", committed.Version),
			zap.Error(err))
		s.recordRejection(ctx, cmd.TenantID, err)
		return nil, err
	}

	s.metrics.SaleEdited(ctx, cmd.TenantID)
	s.logger.Info("Sale edited",
		zap.String("tenant_id", cmd.TenantID.String()),
		zap.String("sale_id", cmd.SaleID.String()),
		zap.Int("version", resp.Version))
	return resp, nil
}

// DeleteSale soft-deletes an invoice. A finalized invoice has its stock returned,
// its payments voided and its customer's balance reduced by what was outstanding.
func (s *SaleService) DeleteSale(ctx context.Context, cmd DeleteSaleCommand) (*SaleResponse, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	now := s.now()
	var resp *SaleResponse

	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		sale, err := repos.SaleRepo().FindByIDForUpdate(ctx, cmd.TenantID, cmd.SaleID)
		if err != nil {
			return err
		}
		if sale.Deleted {
			return shared.NewDomainError("SALE_DELETED", "invoice is already deleted")
		}
		if cmd.ConcurrencyToken != "" {
			if err := s.guard.CheckToken(sale, cmd.ConcurrencyToken); err != nil {
				return err
			}
		}

		wasFinalized := sale.Finalized
		state := sales.DerivePaymentState(sale.GrandTotal, sale.Payments)

		if wasFinalized {
			ledger := inventory.NewStockLedger(repos.ProductRepo(), repos.InventoryTransactionRepo()).WithClock(s.now)
			if err := ledger.Reverse(ctx, cmd.TenantID, sales.Movements(sale.Items), saleRef(sale, cmd.ActorID, "sale deleted")); err != nil {
				return err
			}
		}
		for i := range sale.Payments {
			p := &sale.Payments[i]
			if p.Status == sales.PaymentRecordVoid {
				continue
			}
			p.Void(now)
			if err := repos.PaymentRepo().Update(ctx, p); err != nil {
				return fmt.Errorf("void payment %s: %w", p.ID, err)
			}
		}

		expected := sale.Version
		if err := sale.SoftDelete(cmd.ActorID, now); err != nil {
			return err
		}
		if err := repos.SaleRepo().SaveWithLock(ctx, sale, expected); err != nil {
			return err
		}

		var events []shared.DomainEvent
		if wasFinalized && sale.CustomerID != nil {
			_, balanceEvents, err := s.settleBalances(ctx, repos, cmd.TenantID, map[uuid.UUID]decimal.Decimal{
				*sale.CustomerID: state.Collected.Sub(sale.GrandTotal),
			})
			if err != nil {
				return err
			}
			events = append(events, balanceEvents...)
		}

		saleID := sale.ID
		events = append([]shared.DomainEvent{
			sales.NewSaleDeletedEvent(sale, state.Collected, wasFinalized, cmd.Reason, cmd.ActorID),
			sales.NewAlertRaisedEvent(cmd.TenantID, string(audit.AlertInvoiceDeleted), string(audit.SeverityInfo),
				sales.AggregateTypeSale, &saleID,
				fmt.Sprintf("invoice %s deleted by user %s: %s", sale.InvoiceNumber, cmd.ActorID, reasonOrDefault(cmd.Reason))),
		}, events...)
		if err := repos.Events().Save(ctx, events...); err != nil {
			return fmt.Errorf("save sale events: %w", err)
		}

		r := ToSaleResponse(sale, now, s.lockWindow)
		resp = &r
		return nil
	})
	if err != nil {
		s.recordRejection(ctx, cmd.TenantID, err)
		return nil, err
	}

	s.metrics.SaleDeleted(ctx, cmd.TenantID)
	s.logger.Info("Sale deleted",
		zap.String("tenant_id", cmd.TenantID.String()),
		zap.String("sale_id", cmd.SaleID.String()),
		zap.String("invoice_number", resp.InvoiceNumber))
	return resp, nil
}

// FinalizeSale applies a draft's stock consumption, payments and customer balance
func (s *SaleService) FinalizeSale(ctx context.Context, cmd FinalizeSaleCommand) (*SaleResponse, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	now := s.now()
	var resp *SaleResponse

	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		sale, err := repos.SaleRepo().FindByIDForUpdate(ctx, cmd.TenantID, cmd.SaleID)
		if err != nil {
			return err
		}
		if cmd.ConcurrencyToken != "" {
			if err := s.guard.CheckToken(sale, cmd.ConcurrencyToken); err != nil {
				return err
			}
		}
		if sale.Deleted || sale.Finalized {
			return sale.Finalize(now)
		}

		productIDs := make([]uuid.UUID, 0, len(sale.Items))
		for i := range sale.Items {
			productIDs = append(productIDs, sale.Items[i].ProductID)
		}
		products, err := loadProducts(ctx, repos.ProductRepo(), cmd.TenantID, nil, productIDs...)
		if err != nil {
			return err
		}
		if err := checkStock(products, sales.BaseDemand(sale.Items), nil); err != nil {
			return err
		}

		var customer *partner.Customer
		if sale.CustomerID != nil {
			if customer, err = repos.CustomerRepo().FindByIDForTenant(ctx, cmd.TenantID, *sale.CustomerID); err != nil {
				return err
			}
		}

		payments, err := buildPayments(sale, cmd.Payments, cmd.ActorID, now)
		if err != nil {
			return err
		}
		if err := sale.Finalize(now); err != nil {
			return err
		}
		state := sales.DerivePaymentState(sale.GrandTotal, payments)
		sale.ApplyPaymentState(state)

		ledger := inventory.NewStockLedger(repos.ProductRepo(), repos.InventoryTransactionRepo()).WithClock(s.now)
		if err := ledger.Consume(ctx, cmd.TenantID, sales.Movements(sale.Items), saleRef(sale, cmd.ActorID, "sale finalized")); err != nil {
			return err
		}

		expected := sale.Version
		sale.MarkModified(cmd.ActorID, now)
		if err := repos.SaleRepo().SaveWithLock(ctx, sale, expected); err != nil {
			return err
		}
		if len(payments) > 0 {
			if err := repos.PaymentRepo().Create(ctx, paymentPointers(payments)...); err != nil {
				return fmt.Errorf("create payments: %w", err)
			}
		}
		sale.Payments = payments

		events := []shared.DomainEvent{sales.NewSaleFinalizedEvent(sale, cmd.ActorID)}
		var credit partner.CreditEvaluation
		if customer != nil {
			settled, balanceEvents, err := s.settleBalances(ctx, repos, cmd.TenantID, map[uuid.UUID]decimal.Decimal{
				customer.ID: sale.GrandTotal.Sub(state.Collected),
			})
			if err != nil {
				return err
			}
			events = append(events, balanceEvents...)
			credit = s.evaluateCredit(settled[customer.ID])
			events = append(events, s.overpaymentEvents(sale, state, cmd.ActorID, "payments exceed the invoice total")...)
			if credit.Exceeded {
				events = append(events, creditAlert(sale, credit))
			}
		}
		if err := repos.Events().Save(ctx, events...); err != nil {
			return fmt.Errorf("save sale events: %w", err)
		}

		r := ToSaleResponse(sale, now, s.lockWindow)
		r.CreditLimitExceeded = credit.Exceeded
		r.CreditWarning = credit.Warning
		resp = &r
		return nil
	})
	if err != nil {
		s.recordRejection(ctx, cmd.TenantID, err)
		return nil, err
	}

	s.logger.Info("Sale finalized",
		zap.String("tenant_id", cmd.TenantID.String()),
		zap.String("sale_id", cmd.SaleID.String()),
		zap.String("invoice_number", resp.InvoiceNumber))
	return resp, nil
}

// loadCustomer resolves an optional customer reference within the tenant
func (s *SaleService) loadCustomer(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, customerID *uuid.UUID) (*partner.Customer, error) {
	if customerID == nil || *customerID == uuid.Nil {
		return nil, nil
	}
	return repos.CustomerRepo().FindByIDForTenant(ctx, tenantID, *customerID)
}

// settleBalances applies provisional pending-balance deltas and confirms each affected
// customer with a full recomputation. Customers are locked in id order.
func (s *SaleService) settleBalances(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, deltas map[uuid.UUID]decimal.Decimal) (map[uuid.UUID]*partner.Customer, []shared.DomainEvent, error) {
	ids := make([]uuid.UUID, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sortIDs(ids)

	settled := make(map[uuid.UUID]*partner.Customer, len(ids))
	var events []shared.DomainEvent
	for _, id := range ids {
		customer, err := repos.CustomerRepo().FindByIDForUpdate(ctx, tenantID, id)
		if err != nil {
			return nil, nil, err
		}
		customer.AdjustPendingBalance(deltas[id])
		provisional := customer.PendingBalance

		result, err := s.balances.Confirm(ctx, repos, customer)
		if err != nil {
			return nil, nil, err
		}
		if result.PendingMismatch {
			customerID := customer.ID
			events = append(events, sales.NewAlertRaisedEvent(tenantID,
				string(audit.AlertBalanceMismatch), string(audit.SeverityWarning),
				sales.AggregateTypeCustomer, &customerID,
				fmt.Sprintf("customer %s pending balance %s did not match recomputed %s",
					customer.Code, provisional.StringFixed(2), result.Current.PendingBalance.StringFixed(2))))
			s.logger.Warn("Customer balance drift corrected",
				zap.String("tenant_id", tenantID.String()),
				zap.String("customer_id", customer.ID.String()),
				zap.String("provisional", provisional.String()),
				zap.String("recomputed", result.Current.PendingBalance.String()))
		}
		settled[id] = customer
	}
	return settled, events, nil
}

func (s *SaleService) evaluateCredit(customer *partner.Customer) partner.CreditEvaluation {
	if customer == nil {
		return partner.CreditEvaluation{}
	}
	return customer.EvaluateCredit(customer.PendingBalance)
}

// overpaymentEvents records the excess of cleared payments over the grand total as
// customer credit. The excess already lowered the recomputed pending balance.
func (s *SaleService) overpaymentEvents(sale *sales.Sale, state sales.PaymentState, actor uuid.UUID, reason string) []shared.DomainEvent {
	if !state.Overpaid() || sale.CustomerID == nil {
		return nil
	}
	return []shared.DomainEvent{
		sales.NewCustomerBalanceCreditedEvent(sale.TenantID, *sale.CustomerID, sale.ID, state.Excess, reason, actor),
	}
}

func creditAlert(sale *sales.Sale, credit partner.CreditEvaluation) shared.DomainEvent {
	saleID := sale.ID
	return sales.NewAlertRaisedEvent(sale.TenantID,
		string(audit.AlertCreditLimitExceeded), string(audit.SeverityWarning),
		sales.AggregateTypeSale, &saleID, credit.Warning)
}

// raiseDuplicateInvoiceAlert reports a rejected manual number. Nothing was committed,
// so the alert goes straight to the sink; failures are only logged.
func (s *SaleService) raiseDuplicateInvoiceAlert(ctx context.Context, tenantID uuid.UUID, number string) {
	s.logger.Warn("Duplicate invoice number rejected",
		zap.String("tenant_id", tenantID.String()),
		zap.String("invoice_number", number))
	if s.alerts == nil {
		return
	}
	alert := audit.NewAlert(tenantID, audit.AlertDuplicateInvoice, audit.SeverityWarning, sales.AggregateTypeSale, nil,
		fmt.Sprintf("invoice number %s was submitted again and rejected", number))
	if err := s.alerts.Raise(ctx, alert); err != nil {
		s.logger.Error("Failed to raise duplicate invoice alert",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
	}
}

func (s *SaleService) recordRejection(ctx context.Context, tenantID uuid.UUID, err error) {
	kind, ok := shared.KindOf(err)
	if !ok {
		s.logger.Error("Sale operation failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		return
	}
	switch kind {
	case shared.KindConcurrencyConflict:
		s.metrics.ConflictRejected(ctx, tenantID, "concurrency")
	case shared.KindStockConflict:
		s.metrics.ConflictRejected(ctx, tenantID, "stock")
	case shared.KindNumberingConflict:
		s.metrics.ConflictRejected(ctx, tenantID, "numbering")
	case shared.KindInvariantViolation:
		var correlationID string
		var de *shared.DomainError
		if errors.As(err, &de) {
			correlationID = de.CorrelationID
		}
		s.logger.Error("Invariant violated during sale operation",
			zap.String("tenant_id", tenantID.String()),
			zap.String("correlation_id", correlationID),
			zap.Error(err))
	}
}

func reasonOrDefault(reason string) string {
	if strings.TrimSpace(reason) == "" {
		return "no reason given"
	}
	return reason
}
