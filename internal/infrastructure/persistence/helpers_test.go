package persistence

import (
	"testing"
	"time"

	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/partner"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/infrastructure/config"
	"github.com/erp/invoicing/internal/infrastructure/event"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)

// newTestDB opens a private in-memory SQLite database with the full schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := NewDatabase(&config.DatabaseConfig{
		Driver:     DriverSQLite,
		SQLitePath: "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, AutoMigrate(database.DB, &event.OutboxRecord{}))
	return database.DB
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedProduct(t *testing.T, db *gorm.DB, tenantID uuid.UUID, stock string) *inventory.Product {
	t.Helper()
	p, err := inventory.NewProduct(tenantID, "SKU-"+uuid.NewString()[:8], "Widget", dec("12"), dec(stock))
	require.NoError(t, err)
	require.NoError(t, db.Create(p).Error)
	return p
}

func seedCustomer(t *testing.T, db *gorm.DB, tenantID uuid.UUID, code string) *partner.Customer {
	t.Helper()
	c, err := partner.NewCustomer(tenantID, code, "Customer "+code)
	require.NoError(t, err)
	require.NoError(t, db.Create(c).Error)
	return c
}

// buildSale returns an unsaved sale with one line of qty x price for product
func buildSale(t *testing.T, product *inventory.Product, customerID *uuid.UUID, number string, finalized bool) *sales.Sale {
	t.Helper()
	sale, err := sales.NewSale(product.TenantID, testNow, customerID, uuid.New())
	require.NoError(t, err)
	item, err := sales.NewSaleItem(product, inventory.UnitTypeBase, dec("2"), dec("10"), dec("1.5"))
	require.NoError(t, err)
	require.NoError(t, sale.ReplaceItems([]sales.SaleItem{*item}, decimal.Zero))
	require.NoError(t, sale.AssignInvoiceNumber(number))
	if finalized {
		require.NoError(t, sale.Finalize(testNow))
	}
	return sale
}
