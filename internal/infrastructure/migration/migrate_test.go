package migration

import (
	"testing"

	"github.com/erp/invoicing/internal/infrastructure/config"
	"github.com/erp/invoicing/internal/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_SQLiteUsesModels(t *testing.T) {
	db, err := persistence.NewDatabase(&config.DatabaseConfig{
		Driver:     persistence.DriverSQLite,
		SQLitePath: "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Apply(db, "", nil))
	require.NoError(t, Apply(db, "", nil), "applying twice is a no-op")

	for _, table := range []string{"sales", "sale_items", "payments", "invoice_versions", "customers", "products", "inventory_transactions", "audit_entries", "alerts", "outbox_events"} {
		assert.True(t, db.DB.Migrator().HasTable(table), table)
	}
	assert.True(t, db.DB.Migrator().HasIndex("customers", "idx_customers_tenant_code"))
}
