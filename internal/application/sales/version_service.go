package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VersionService exposes the edit history of invoices
type VersionService struct {
	txScope    TransactionScope
	sales      sales.SaleRepository
	versions   sales.InvoiceVersionRepository
	guard      *ConcurrencyGuard
	lockWindow time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewVersionService creates a new VersionService
func NewVersionService(
	txScope TransactionScope,
	saleRepo sales.SaleRepository,
	versionRepo sales.InvoiceVersionRepository,
	guard *ConcurrencyGuard,
	lockWindow time.Duration,
	logger *zap.Logger,
) *VersionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VersionService{
		txScope:    txScope,
		sales:      saleRepo,
		versions:   versionRepo,
		guard:      guard,
		lockWindow: lockWindow,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source
func (s *VersionService) WithClock(now func() time.Time) *VersionService {
	s.now = now
	return s
}

// GetVersionHistory returns the archived versions of a sale, oldest first
func (s *VersionService) GetVersionHistory(ctx context.Context, tenantID, saleID uuid.UUID) ([]VersionResponse, error) {
	if _, err := s.sales.FindByIDForTenant(ctx, tenantID, saleID); err != nil {
		return nil, err
	}
	versions, err := s.versions.FindBySale(ctx, tenantID, saleID)
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	out := make([]VersionResponse, len(versions))
	for i := range versions {
		out[i] = ToVersionResponse(&versions[i])
	}
	return out, nil
}

// RestoreVersion handles a request to go back to a historical version.
// The current state is archived as a new version and the version counter bumped, but
// lines, totals and payments are left untouched: the requested snapshot is returned for
// the caller to resubmit through EditSale, where stock and balances are re-validated.
func (s *VersionService) RestoreVersion(ctx context.Context, cmd RestoreVersionCommand) (*RestoreResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	now := s.now()
	var result *RestoreResult
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

		requested, err := repos.VersionRepo().FindBySaleAndNumber(ctx, cmd.TenantID, cmd.SaleID, cmd.VersionNumber)
		if err != nil {
			return err
		}

		current := sales.TakeSnapshot(sale)
		diff := sales.Diff(current, requested.Snapshot)
		reason := fmt.Sprintf("restore of version %d requested", cmd.VersionNumber)
		archive := sales.NewInvoiceVersion(current, sale.ID, cmd.TenantID, diff, reason, cmd.ActorID)
		if err := repos.VersionRepo().Create(ctx, archive); err != nil {
			return fmt.Errorf("archive version %d: %w", current.Version, err)
		}

		expected := sale.Version
		sale.MarkModified(cmd.ActorID, now)
		if err := repos.SaleRepo().SaveWithLock(ctx, sale, expected); err != nil {
			return err
		}

		event := sales.NewSaleVersionRestoredEvent(sale, cmd.VersionNumber, current.Version, cmd.ActorID)
		if err := repos.Events().Save(ctx, event); err != nil {
			return fmt.Errorf("save restore event: %w", err)
		}

		result = &RestoreResult{
			Sale:              ToSaleResponse(sale, now, s.lockWindow),
			RequestedVersion:  cmd.VersionNumber,
			ArchivedVersion:   current.Version,
			RequestedSnapshot: requested.Snapshot,
			ItemsRestored:     false,
			Message: fmt.Sprintf("current state archived as version %d; resubmit the requested snapshot as an edit to apply it (%s)",
				current.Version, diff.Summary()),
		}
		committed = sale
		return nil
	})
	if err == nil {
		err = s.guard.VerifyVersion(ctx, s.sales, committed)
	}
	if err != nil {
		if !shared.IsKind(err, shared.KindNotFound) {
			s.logger.Warn("Version restore rejected",
				zap.String("tenant_id", cmd.TenantID.String()),
				zap.String("sale_id", cmd.SaleID.String()),
				zap.Int("version", cmd.VersionNumber),
				zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("Version restore recorded",
		zap.String("tenant_id", cmd.TenantID.String()),
		zap.String("sale_id", cmd.SaleID.String()),
		zap.Int("requested_version", cmd.VersionNumber),
		zap.Int("archived_version", result.ArchivedVersion))
	return result, nil
}
