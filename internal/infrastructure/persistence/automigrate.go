package persistence

import (
	"fmt"

	"github.com/erp/invoicing/internal/domain/audit"
	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/partner"
	"github.com/erp/invoicing/internal/domain/sales"
	"gorm.io/gorm"
)

// Models returns every table the invoice engine owns, parents first
func Models() []any {
	return []any{
		&partner.Customer{},
		&inventory.Product{},
		&inventory.InventoryTransaction{},
		&sales.Sale{},
		&sales.SaleItem{},
		&sales.Payment{},
		&sales.InvoiceVersion{},
		&audit.Entry{},
		&audit.Alert{},
	}
}

// AutoMigrate creates or updates the schema from the models.
// SQL migrations remain the source of truth for PostgreSQL deployments; this path
// serves SQLite and tests. extra carries tables owned by other packages, such as the outbox.
func AutoMigrate(db *gorm.DB, extra ...any) error {
	models := append(Models(), extra...)
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return ensureCustomerCodeIndex(db)
}

// ensureCustomerCodeIndex adds the per-tenant unique customer code index.
// Customer codes are unique inside a tenant only, which the model tags cannot express
// next to the plain lookup index on code.
func ensureCustomerCodeIndex(db *gorm.DB) error {
	return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_tenant_code ON customers (tenant_id, code)").Error
}
