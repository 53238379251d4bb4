package partner

import (
	"context"

	"github.com/google/uuid"
)

// CustomerRepository reads and writes customers
type CustomerRepository interface {
	// FindByIDForTenant returns shared.ErrNotFound when the customer is absent or owned by another tenant
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Customer, error)
	// FindByIDForUpdate loads and, where supported, row-locks the customer
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Customer, error)
	Save(ctx context.Context, customer *Customer) error
	// SaveBalance writes only the cached balance columns
	SaveBalance(ctx context.Context, customer *Customer) error
	// FindIDsForTenant lists every customer id of a tenant, used by sweeps
	FindIDsForTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}
