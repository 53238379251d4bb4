package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/invoicing/internal/domain/audit"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSweepPageSize = 200

// ReconciliationService re-derives cached state from source records.
// The payment-status sweep only rewrites paid amount and status; duplicates and
// overpayments are reported for review and corrected by separate calls.
type ReconciliationService struct {
	txScope    TransactionScope
	balances   *BalanceReconciler
	lockWindow time.Duration
	pageSize   int
	metrics    Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(txScope TransactionScope, balances *BalanceReconciler, lockWindow time.Duration, logger *zap.Logger) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		txScope:    txScope,
		balances:   balances,
		lockWindow: lockWindow,
		pageSize:   defaultSweepPageSize,
		metrics:    NoopMetrics,
		logger:     logger,
		now:        time.Now,
	}
}

// SetMetrics sets the business metrics sink
func (s *ReconciliationService) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// SetPageSize sets how many sales one sweep transaction covers
func (s *ReconciliationService) SetPageSize(size int) {
	if size > 0 {
		s.pageSize = size
	}
}

// WithClock overrides the time source
func (s *ReconciliationService) WithClock(now func() time.Time) *ReconciliationService {
	s.now = now
	return s
}

// ReconcileAllPaymentStatus walks every non-deleted sale of the tenant, re-derives its
// paid amount and status from its payments and rewrites the row only when they drifted.
// Each page of sales is handled in its own transaction.
func (s *ReconciliationService) ReconcileAllPaymentStatus(ctx context.Context, tenantID uuid.UUID) (*ReconcileReport, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewValidationError("tenant_id", "tenant ID cannot be empty")
	}
	report := &ReconcileReport{TenantID: tenantID, StartedAt: s.now()}

	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var pageLen int
		var last uuid.UUID
		err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			page, err := repos.SaleRepo().FindActiveForTenant(ctx, tenantID, after, s.pageSize)
			if err != nil {
				return fmt.Errorf("load sales page: %w", err)
			}
			pageLen = len(page)
			if pageLen == 0 {
				return nil
			}
			last = page[pageLen-1].ID
			return s.reconcilePage(ctx, repos, tenantID, page, report)
		})
		if err != nil {
			s.logger.Error("Payment status sweep failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Int("scanned", report.Scanned),
				zap.Error(err))
			return nil, err
		}
		if pageLen < s.pageSize {
			break
		}
		after = last
	}

	report.FinishedAt = s.now()
	if n := len(report.Fixed); n > 0 {
		s.metrics.DriftFixed(ctx, tenantID, "payment_status", n)
	}
	s.logger.Info("Payment status sweep finished",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("scanned", report.Scanned),
		zap.Int("fixed", len(report.Fixed)),
		zap.Int("duplicate_groups", len(report.Duplicates)),
		zap.Int("overpayments", len(report.Overpayments)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

func (s *ReconciliationService) reconcilePage(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, page []sales.Sale, report *ReconcileReport) error {
	ids := make([]uuid.UUID, len(page))
	for i := range page {
		ids[i] = page[i].ID
	}
	payments, err := repos.PaymentRepo().FindBySales(ctx, tenantID, ids)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	bySale := make(map[uuid.UUID][]sales.Payment, len(page))
	for i := range payments {
		if payments[i].SaleID != nil {
			bySale[*payments[i].SaleID] = append(bySale[*payments[i].SaleID], payments[i])
		}
	}

	var events []shared.DomainEvent
	for i := range page {
		sale := &page[i]
		report.Scanned++
		state := sales.DerivePaymentState(sale.GrandTotal, bySale[sale.ID])

		if sale.PaymentStateDrifted(state) {
			fix := PaymentStatusFix{
				SaleID:        sale.ID,
				InvoiceNumber: sale.InvoiceNumber,
				OldPaid:       sale.PaidAmount,
				NewPaid:       state.PaidAmount,
				OldStatus:     string(sale.PaymentStatus),
				NewStatus:     string(state.Status),
			}
			sale.ApplyPaymentState(state)
			if err := repos.SaleRepo().UpdatePaymentState(ctx, sale); err != nil {
				return fmt.Errorf("update payment state of sale %s: %w", sale.ID, err)
			}
			report.Fixed = append(report.Fixed, fix)
		}

		if state.Overpaid() {
			report.Overpayments = append(report.Overpayments, OverpaymentCandidate{
				SaleID:        sale.ID,
				InvoiceNumber: sale.InvoiceNumber,
				GrandTotal:    sale.GrandTotal,
				Collected:     state.Collected,
				Excess:        state.Excess,
			})
			saleID := sale.ID
			events = append(events, sales.NewAlertRaisedEvent(tenantID,
				string(audit.AlertOverpayment), string(audit.SeverityWarning),
				sales.AggregateTypeSale, &saleID,
				fmt.Sprintf("invoice %s collected %s against a total of %s",
					sale.InvoiceNumber, state.Collected.StringFixed(2), sale.GrandTotal.StringFixed(2))))
		}
	}

	for _, group := range sales.FindDuplicatePayments(payments) {
		report.Duplicates = append(report.Duplicates, group)
		saleID := group.SaleID
		events = append(events, sales.NewAlertRaisedEvent(tenantID,
			string(audit.AlertDuplicatePayment), string(audit.SeverityInfo),
			sales.AggregateTypeSale, &saleID,
			fmt.Sprintf("%d payments of %s recorded on the same invoice", len(group.PaymentIDs), group.Amount.StringFixed(2))))
	}

	if len(events) == 0 {
		return nil
	}
	return repos.Events().Save(ctx, events...)
}

// CorrectOverpayments moves the excess of each given overpaid sale off the invoice and
// onto the customer account as an unapplied cleared payment. The invoice then collects
// exactly its grand total, so a second run finds nothing to correct. Cash invoices have
// no account to credit and are reported without change.
func (s *ReconciliationService) CorrectOverpayments(ctx context.Context, cmd CorrectOverpaymentsCommand) ([]OverpaymentCorrection, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	now := s.now()
	var results []OverpaymentCorrection

	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		results = results[:0]
		var events []shared.DomainEvent
		for _, saleID := range cmd.SaleIDs {
			sale, err := repos.SaleRepo().FindByIDForUpdate(ctx, cmd.TenantID, saleID)
			if err != nil {
				return err
			}
			if sale.Deleted {
				results = append(results, OverpaymentCorrection{SaleID: saleID, Reason: "invoice is deleted"})
				continue
			}
			state := sales.DerivePaymentState(sale.GrandTotal, sale.Payments)
			if !state.Overpaid() {
				results = append(results, OverpaymentCorrection{SaleID: saleID, Reason: "invoice is not overpaid"})
				continue
			}
			if sale.CustomerID == nil {
				results = append(results, OverpaymentCorrection{SaleID: saleID, Excess: state.Excess, Reason: "cash invoice has no customer to credit"})
				continue
			}

			split, err := sales.SplitOverpayment(sale, state.Excess, now)
			if err != nil {
				return fmt.Errorf("split overpayment of sale %s: %w", sale.ID, err)
			}
			for _, p := range split.Voided {
				if err := repos.PaymentRepo().Update(ctx, p); err != nil {
					return fmt.Errorf("void payment %s: %w", p.ID, err)
				}
			}
			created := append(append([]*sales.Payment(nil), split.Replacements...), split.Credit)
			if err := repos.PaymentRepo().Create(ctx, created...); err != nil {
				return fmt.Errorf("record overpayment credit of sale %s: %w", sale.ID, err)
			}
			for _, p := range split.Replacements {
				sale.Payments = append(sale.Payments, *p)
			}

			corrected := sales.DerivePaymentState(sale.GrandTotal, sale.Payments)
			if sale.PaymentStateDrifted(corrected) {
				sale.ApplyPaymentState(corrected)
				if err := repos.SaleRepo().UpdatePaymentState(ctx, sale); err != nil {
					return fmt.Errorf("update payment state of sale %s: %w", sale.ID, err)
				}
			}
			if _, err := s.balances.Recompute(ctx, repos, cmd.TenantID, *sale.CustomerID); err != nil {
				return err
			}
			events = append(events, sales.NewCustomerBalanceCreditedEvent(cmd.TenantID, *sale.CustomerID, sale.ID,
				state.Excess, "overpayment moved to customer credit", cmd.ActorID))
			results = append(results, OverpaymentCorrection{SaleID: saleID, Excess: state.Excess, CreditPaymentID: split.Credit.ID, Corrected: true})
		}
		if len(events) == 0 {
			return nil
		}
		return repos.Events().Save(ctx, events...)
	})
	if err != nil {
		return nil, err
	}

	corrected := 0
	for _, r := range results {
		if r.Corrected {
			corrected++
		}
	}
	if corrected > 0 {
		s.metrics.DriftFixed(ctx, cmd.TenantID, "overpayment", corrected)
	}
	s.logger.Info("Overpayments corrected",
		zap.String("tenant_id", cmd.TenantID.String()),
		zap.Int("requested", len(cmd.SaleIDs)),
		zap.Int("corrected", corrected))
	return results, nil
}

// LockExpiredSales persists the lock flag on finalized sales older than the edit window
func (s *ReconciliationService) LockExpiredSales(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	if s.lockWindow <= 0 {
		return 0, nil
	}
	now := s.now()
	var locked int64
	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		n, err := repos.SaleRepo().LockOlderThan(ctx, tenantID, now.Add(-s.lockWindow), now)
		locked = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("lock expired sales: %w", err)
	}
	if locked > 0 {
		s.logger.Info("Locked expired sales",
			zap.String("tenant_id", tenantID.String()),
			zap.Int64("count", locked))
	}
	return locked, nil
}

// ReconcileCustomerBalances recomputes every customer balance of the tenant,
// one customer per transaction, and reports the ones whose cache had drifted
func (s *ReconciliationService) ReconcileCustomerBalances(ctx context.Context, tenantID uuid.UUID) (*BalanceReport, error) {
	var ids []uuid.UUID
	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		ids, err = repos.CustomerRepo().FindIDsForTenant(ctx, tenantID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	report := &BalanceReport{TenantID: tenantID, Customers: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			result, err := s.balances.Recompute(ctx, repos, tenantID, id)
			if err != nil {
				return err
			}
			if !result.Drifted {
				return nil
			}
			report.Drifted = append(report.Drifted, *result)
			customerID := id
			return repos.Events().Save(ctx, sales.NewAlertRaisedEvent(tenantID,
				string(audit.AlertBalanceMismatch), string(audit.SeverityWarning),
				sales.AggregateTypeCustomer, &customerID,
				fmt.Sprintf("cached balance %s corrected to %s",
					result.Previous.PendingBalance.StringFixed(2), result.Current.PendingBalance.StringFixed(2))))
		})
		if err != nil {
			return nil, fmt.Errorf("reconcile customer %s: %w", id, err)
		}
	}

	if n := len(report.Drifted); n > 0 {
		s.metrics.DriftFixed(ctx, tenantID, "customer_balance", n)
	}
	s.logger.Info("Customer balance sweep finished",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("customers", report.Customers),
		zap.Int("drifted", len(report.Drifted)))
	return report, nil
}
