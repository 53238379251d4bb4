package sales

import (
	"context"
	"testing"

	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newVersionServiceFixture(repos *testRepos) *VersionService {
	guard := NewConcurrencyGuard(DefaultRecentEditWindow).WithClock(clock)
	return NewVersionService(repos.scope, repos.sales, repos.versions, guard, DefaultEditLockWindow, nil).WithClock(clock)
}

func TestVersionService_GetVersionHistory(t *testing.T) {
	tenantID := uuid.New()
	actor := uuid.New()
	sale := newFinalizedSale(tenantID, newTestProduct(tenantID, "SKU-1", 10), nil, actor, 2, 10)

	v1 := sales.NewInvoiceVersion(sales.TakeSnapshot(sale), sale.ID, tenantID, sales.VersionDiff{
		Changes: []sales.FieldChange{{Field: "grand_total", Before: "20.00", After: "10.00"}},
	}, "price fix", actor)

	repos := newTestRepos()
	repos.sales.On("FindByIDForTenant", mock.Anything, tenantID, sale.ID).Return(sale, nil)
	repos.versions.On("FindBySale", mock.Anything, tenantID, sale.ID).Return([]sales.InvoiceVersion{*v1}, nil)

	history, err := newVersionServiceFixture(repos).GetVersionHistory(context.Background(), tenantID, sale.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].VersionNumber)
	assert.Equal(t, "price fix", history[0].Reason)
	assert.Equal(t, "grand_total", history[0].Changes[0].Field)
	assert.True(t, decimal.NewFromInt(20).Equal(history[0].Snapshot.GrandTotal))
}

func TestVersionService_GetVersionHistory_OtherTenant(t *testing.T) {
	tenantID := uuid.New()
	saleID := uuid.New()

	repos := newTestRepos()
	repos.sales.On("FindByIDForTenant", mock.Anything, tenantID, saleID).
		Return(nil, shared.NewNotFoundError("sale", saleID))

	_, err := newVersionServiceFixture(repos).GetVersionHistory(context.Background(), tenantID, saleID)
	assert.True(t, shared.IsKind(err, shared.KindNotFound))
	repos.versions.AssertNotCalled(t, "FindBySale", mock.Anything, mock.Anything, mock.Anything)
}

func TestVersionService_RestoreVersion(t *testing.T) {
	tenantID := uuid.New()
	actor := uuid.New()
	product := newTestProduct(tenantID, "SKU-1", 10)
	sale := newFinalizedSale(tenantID, product, nil, actor, 1, 10)

	// Version 1 had two units; the sale now sits at version 2 with one
	older := newFinalizedSale(tenantID, product, nil, actor, 2, 10)
	requested := sales.NewInvoiceVersion(sales.TakeSnapshot(older), sale.ID, tenantID, sales.VersionDiff{}, "", actor)
	sale.Version = 2
	token := sale.ConcurrencyToken

	repos := newTestRepos()
	repos.sales.On("FindByIDForUpdate", mock.Anything, tenantID, sale.ID).Return(sale, nil)
	repos.versions.On("FindBySaleAndNumber", mock.Anything, tenantID, sale.ID, 1).Return(requested, nil)
	var archived *sales.InvoiceVersion
	repos.versions.On("Create", mock.Anything, mock.AnythingOfType("*sales.InvoiceVersion")).
		Run(func(args mock.Arguments) { archived = args.Get(1).(*sales.InvoiceVersion) }).
		Return(nil)
	repos.sales.On("SaveWithLock", mock.Anything, sale, 2).Return(nil)
	repos.sales.On("CurrentVersion", mock.Anything, tenantID, sale.ID).Return(3, nil)

	result, err := newVersionServiceFixture(repos).RestoreVersion(context.Background(), RestoreVersionCommand{
		TenantID:         tenantID,
		SaleID:           sale.ID,
		ActorID:          actor,
		VersionNumber:    1,
		ConcurrencyToken: token,
	})
	require.NoError(t, err)

	assert.False(t, result.ItemsRestored)
	assert.Equal(t, 1, result.RequestedVersion)
	assert.Equal(t, 2, result.ArchivedVersion)
	assert.Equal(t, 3, result.Sale.Version)
	assert.NotEqual(t, token, result.Sale.ConcurrencyToken)
	assert.True(t, decimal.NewFromInt(20).Equal(result.RequestedSnapshot.GrandTotal))
	// Lines stay as they are
	assert.True(t, decimal.NewFromInt(10).Equal(sale.GrandTotal))

	require.NotNil(t, archived)
	assert.Equal(t, 2, archived.VersionNumber)
	assert.True(t, archived.Changes.Has("grand_total"))
	assert.Equal(t, []string{sales.EventTypeSaleVersionRestored}, repos.events.types())
	repos.assertExpectations(t)
}

func TestVersionService_RestoreVersion_UnknownVersion(t *testing.T) {
	tenantID := uuid.New()
	sale := newFinalizedSale(tenantID, newTestProduct(tenantID, "SKU-1", 10), nil, uuid.New(), 1, 10)

	repos := newTestRepos()
	repos.sales.On("FindByIDForUpdate", mock.Anything, tenantID, sale.ID).Return(sale, nil)
	repos.versions.On("FindBySaleAndNumber", mock.Anything, tenantID, sale.ID, 7).
		Return(nil, shared.NewNotFoundError("invoice version", sale.ID))

	_, err := newVersionServiceFixture(repos).RestoreVersion(context.Background(), RestoreVersionCommand{
		TenantID:         tenantID,
		SaleID:           sale.ID,
		ActorID:          uuid.New(),
		VersionNumber:    7,
		ConcurrencyToken: sale.ConcurrencyToken,
	})
	assert.True(t, shared.IsKind(err, shared.KindNotFound))
	repos.versions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	assert.Empty(t, repos.events.events)
}

func TestVersionService_RestoreVersion_StaleToken(t *testing.T) {
	tenantID := uuid.New()
	sale := newFinalizedSale(tenantID, newTestProduct(tenantID, "SKU-1", 10), nil, uuid.New(), 1, 10)

	repos := newTestRepos()
	repos.sales.On("FindByIDForUpdate", mock.Anything, tenantID, sale.ID).Return(sale, nil)

	_, err := newVersionServiceFixture(repos).RestoreVersion(context.Background(), RestoreVersionCommand{
		TenantID:         tenantID,
		SaleID:           sale.ID,
		ActorID:          uuid.New(),
		VersionNumber:    1,
		ConcurrencyToken: uuid.NewString(),
	})
	assert.True(t, shared.IsKind(err, shared.KindConcurrencyConflict))
}
