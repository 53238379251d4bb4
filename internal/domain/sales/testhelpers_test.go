package sales

import (
	"testing"
	"time"

	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	testTenantID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testActorID  = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	testDate     = time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestProduct(t *testing.T, factor string) *inventory.Product {
	t.Helper()
	p, err := inventory.NewProduct(testTenantID, "SKU-"+uuid.NewString()[:8], "Widget", dec(factor), dec("1000"))
	require.NoError(t, err)
	return p
}

func newTestItem(t *testing.T, qty, price, tax string) SaleItem {
	t.Helper()
	item, err := NewSaleItem(newTestProduct(t, "1"), inventory.UnitTypeBase, dec(qty), dec(price), dec(tax))
	require.NoError(t, err)
	return *item
}

func newTestSale(t *testing.T, customerID *uuid.UUID) *Sale {
	t.Helper()
	sale, err := NewSale(testTenantID, testDate, customerID, testActorID)
	require.NoError(t, err)
	return sale
}
