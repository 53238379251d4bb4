package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Product, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Product), args.Error(1)
}

func (m *MockProductRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Product, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Product), args.Error(1)
}

func (m *MockProductRepository) FindByIDsForTenant(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Product, error) {
	args := m.Called(ctx, tenantID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Product), args.Error(1)
}

func (m *MockProductRepository) Save(ctx context.Context, product *Product) error {
	return m.Called(ctx, product).Error(0)
}

func (m *MockProductRepository) UpdateStock(ctx context.Context, product *Product) error {
	return m.Called(ctx, product).Error(0)
}

type MockInventoryTransactionRepository struct {
	mock.Mock
}

func (m *MockInventoryTransactionRepository) Create(ctx context.Context, tx *InventoryTransaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockInventoryTransactionRepository) FindBySource(ctx context.Context, tenantID uuid.UUID, sourceType SourceType, sourceID uuid.UUID) ([]InventoryTransaction, error) {
	args := m.Called(ctx, tenantID, sourceType, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]InventoryTransaction), args.Error(1)
}

func (m *MockInventoryTransactionRepository) FindByProduct(ctx context.Context, tenantID, productID uuid.UUID) ([]InventoryTransaction, error) {
	args := m.Called(ctx, tenantID, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]InventoryTransaction), args.Error(1)
}

func TestStockLedger_Apply(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	saleID := uuid.New()
	ref := SourceRef{Type: SourceTypeSale, ID: saleID, Reference: "1000"}

	t.Run("consumption updates product and appends one row", func(t *testing.T) {
		product := newTestProduct(t, 1, 10)
		products := new(MockProductRepository)
		txs := new(MockInventoryTransactionRepository)
		products.On("FindByIDForUpdate", ctx, product.TenantID, product.ID).Return(product, nil)
		products.On("UpdateStock", ctx, product).Return(nil)
		txs.On("Create", ctx, mock.AnythingOfType("*inventory.InventoryTransaction")).Return(nil)

		ledger := NewStockLedger(products, txs).WithClock(func() time.Time { return at })
		entry, err := ledger.Apply(ctx, product.TenantID, product.ID, decimal.NewFromInt(-3), ref)

		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, TransactionTypeConsumption, entry.TransactionType)
		assert.True(t, entry.Delta.Equal(decimal.NewFromInt(-3)))
		assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(7)))
		assert.Equal(t, saleID, entry.SourceID)
		assert.Equal(t, at, entry.TransactionDate)
		assert.True(t, product.StockQuantity.Equal(decimal.NewFromInt(7)))
		products.AssertExpectations(t)
		txs.AssertExpectations(t)
	})

	t.Run("zero delta touches nothing", func(t *testing.T) {
		products := new(MockProductRepository)
		txs := new(MockInventoryTransactionRepository)

		entry, err := NewStockLedger(products, txs).Apply(ctx, uuid.New(), uuid.New(), decimal.Zero, ref)

		require.NoError(t, err)
		assert.Nil(t, entry)
		products.AssertNotCalled(t, "FindByIDForUpdate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("overdraw writes nothing", func(t *testing.T) {
		product := newTestProduct(t, 1, 2)
		products := new(MockProductRepository)
		txs := new(MockInventoryTransactionRepository)
		products.On("FindByIDForUpdate", ctx, product.TenantID, product.ID).Return(product, nil)

		_, err := NewStockLedger(products, txs).Apply(ctx, product.TenantID, product.ID, decimal.NewFromInt(-3), ref)

		assert.ErrorIs(t, err, shared.ErrInsufficientStock)
		products.AssertNotCalled(t, "UpdateStock", mock.Anything, mock.Anything)
		txs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("missing product propagates not found", func(t *testing.T) {
		products := new(MockProductRepository)
		txs := new(MockInventoryTransactionRepository)
		tenantID, productID := uuid.New(), uuid.New()
		products.On("FindByIDForUpdate", ctx, tenantID, productID).Return(nil, shared.ErrNotFound)

		_, err := NewStockLedger(products, txs).Apply(ctx, tenantID, productID, decimal.NewFromInt(1), ref)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("ledger write failure is wrapped", func(t *testing.T) {
		product := newTestProduct(t, 1, 10)
		products := new(MockProductRepository)
		txs := new(MockInventoryTransactionRepository)
		products.On("FindByIDForUpdate", ctx, product.TenantID, product.ID).Return(product, nil)
		products.On("UpdateStock", ctx, product).Return(nil)
		txs.On("Create", ctx, mock.Anything).Return(errors.New("disk full"))

		_, err := NewStockLedger(products, txs).Apply(ctx, product.TenantID, product.ID, decimal.NewFromInt(1), ref)
		assert.ErrorContains(t, err, "disk full")
	})
}

func TestStockLedger_ReverseThenConsume(t *testing.T) {
	ctx := context.Background()
	product := newTestProduct(t, 1, 10)
	products := new(MockProductRepository)
	txs := new(MockInventoryTransactionRepository)
	products.On("FindByIDForUpdate", ctx, product.TenantID, product.ID).Return(product, nil)
	products.On("UpdateStock", ctx, product).Return(nil)

	var written []*InventoryTransaction
	txs.On("Create", ctx, mock.Anything).Run(func(args mock.Arguments) {
		written = append(written, args.Get(1).(*InventoryTransaction))
	}).Return(nil)

	ledger := NewStockLedger(products, txs)
	ref := SourceRef{Type: SourceTypeSale, ID: uuid.New()}
	old := []Movement{{ProductID: product.ID, Quantity: decimal.NewFromInt(4)}}
	updated := []Movement{{ProductID: product.ID, Quantity: decimal.NewFromInt(4)}}

	require.NoError(t, ledger.Consume(ctx, product.TenantID, old, ref))
	require.NoError(t, ledger.Reverse(ctx, product.TenantID, old, ref))
	require.NoError(t, ledger.Consume(ctx, product.TenantID, updated, ref))

	// Unchanged quantities still produce two explicit entries for the edit
	require.Len(t, written, 3)
	assert.Equal(t, TransactionTypeReversal, written[1].TransactionType)
	assert.Equal(t, TransactionTypeConsumption, written[2].TransactionType)

	sum := decimal.Zero
	for _, w := range written {
		sum = sum.Add(w.Delta)
	}
	assert.True(t, sum.Equal(product.StockQuantity.Sub(decimal.NewFromInt(10))))
}
