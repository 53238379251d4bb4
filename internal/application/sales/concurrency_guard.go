package sales

import (
	"context"
	"time"

	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
)

// DefaultRecentEditWindow is how long a modification by someone else counts as recent
const DefaultRecentEditWindow = 30 * time.Second

// ConcurrencyGuard detects lost updates on invoices.
// Edits must present the token they loaded; the persisted version is re-read
// right before commit as a last line of defence.
type ConcurrencyGuard struct {
	recentWindow time.Duration
	now          func() time.Time
}

// NewConcurrencyGuard creates a guard; a non-positive window disables the recent-edit check
func NewConcurrencyGuard(recentWindow time.Duration) *ConcurrencyGuard {
	return &ConcurrencyGuard{
		recentWindow: recentWindow,
		now:          time.Now,
	}
}

// WithClock overrides the time source
func (g *ConcurrencyGuard) WithClock(now func() time.Time) *ConcurrencyGuard {
	g.now = now
	return g
}

// CheckToken rejects an edit whose token no longer matches the stored one.
// An empty token is rejected too: callers must say which state they edited.
func (g *ConcurrencyGuard) CheckToken(sale *sales.Sale, token string) error {
	if token == "" {
		return shared.NewValidationError("concurrency_token", "concurrency token is required")
	}
	if token != sale.ConcurrencyToken {
		return shared.NewConcurrencyConflictError(sale.ModifiedBy, sale.ModifiedAt)
	}
	return nil
}

// RecentlyModified rejects an edit when someone other than actor modified the
// invoice within the window. It catches races between read and write that the
// token alone misses when both users loaded the same state.
func (g *ConcurrencyGuard) RecentlyModified(sale *sales.Sale, actor uuid.UUID) error {
	if g.recentWindow <= 0 || sale.ModifiedBy == nil || *sale.ModifiedBy == actor {
		return nil
	}
	age := g.now().Sub(sale.ModifiedAt)
	if age < 0 || age > g.recentWindow {
		return nil
	}
	return shared.NewConcurrencyConflictError(sale.ModifiedBy, sale.ModifiedAt)
}

// VerifyVersion re-reads the persisted version and fails when it differs from the
// version the caller is about to commit
func (g *ConcurrencyGuard) VerifyVersion(ctx context.Context, repo sales.SaleRepository, sale *sales.Sale) error {
	current, err := repo.CurrentVersion(ctx, sale.TenantID, sale.ID)
	if err != nil {
		return err
	}
	if current != sale.Version {
		return shared.NewConcurrencyConflictError(sale.ModifiedBy, sale.ModifiedAt)
	}
	return nil
}
