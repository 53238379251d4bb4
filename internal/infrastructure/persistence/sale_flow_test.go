package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	salesapp "github.com/erp/invoicing/internal/application/sales"
	"github.com/erp/invoicing/internal/domain/audit"
	"github.com/erp/invoicing/internal/domain/inventory"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/erp/invoicing/internal/infrastructure/event"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// saleFlow wires the sale service onto a real SQLite database and outbox
type saleFlow struct {
	db        *gorm.DB
	scope     *GormTransactionScope
	service   *salesapp.SaleService
	processor *event.OutboxProcessor
	audit     *GormAuditRepository
	tenantID  uuid.UUID
	actor     uuid.UUID
}

func newSaleFlow(t *testing.T) *saleFlow {
	t.Helper()
	db := newTestDB(t)
	serializer := event.NewSalesEventSerializer()

	lockers, backend, err := NewLockerFactory(db, LockerOptions{})
	require.NoError(t, err)
	require.Equal(t, LockBackendLocal, backend)

	scope := NewGormTransactionScope(db, event.NewOutboxPublisher(serializer, 0), lockers)
	reader := NewGormSaleRepository(db)
	opts := salesapp.DefaultNumberingOptions()
	opts.InitialBackoff = time.Millisecond
	opts.MaxBackoff = 5 * time.Millisecond
	numbers := salesapp.NewInvoiceNumberAllocator(reader, opts, nil)
	service := salesapp.NewSaleService(scope, reader, numbers,
		salesapp.NewConcurrencyGuard(salesapp.DefaultRecentEditWindow),
		salesapp.NewBalanceReconciler(), salesapp.DefaultEditLockWindow, nil)

	auditRepo := NewGormAuditRepository(db, nil)
	bus := event.NewInMemoryEventBus(zap.NewNop())
	bus.Subscribe(salesapp.NewAuditHandler(auditRepo, nil))
	processor := event.NewOutboxProcessor(event.NewGormOutboxRepository(db), bus, serializer,
		event.OutboxProcessorConfig{BatchSize: 50}, nil)

	return &saleFlow{
		db:        db,
		scope:     scope,
		service:   service,
		processor: processor,
		audit:     auditRepo,
		tenantID:  uuid.New(),
		actor:     uuid.New(),
	}
}

func (f *saleFlow) create(product *inventory.Product, customerID *uuid.UUID, qty int64) salesapp.CreateSaleCommand {
	return salesapp.CreateSaleCommand{
		TenantID:    f.tenantID,
		ActorID:     f.actor,
		CustomerID:  customerID,
		InvoiceDate: time.Now(),
		Items: []salesapp.SaleItemInput{{
			ProductID: product.ID,
			Quantity:  decimal.NewFromInt(qty),
			UnitPrice: decimal.NewFromInt(10),
		}},
	}
}

func (f *saleFlow) stock(t *testing.T, productID uuid.UUID) decimal.Decimal {
	t.Helper()
	p, err := NewGormProductRepository(f.db).FindByIDForTenant(context.Background(), f.tenantID, productID)
	require.NoError(t, err)
	return p.StockQuantity
}

func TestSaleFlow_CashSale(t *testing.T) {
	f := newSaleFlow(t)
	ctx := context.Background()
	product := seedProduct(t, f.db, f.tenantID, "100")

	resp, err := f.service.CreateSale(ctx, f.create(product, nil, 2))
	require.NoError(t, err)

	assert.Equal(t, "1000", resp.InvoiceNumber)
	assert.True(t, resp.Finalized)
	assert.True(t, dec("20").Equal(resp.PaidAmount))
	assert.Equal(t, string(sales.PaymentStatusPaid), resp.PaymentStatus)
	assert.True(t, dec("98").Equal(f.stock(t, product.ID)))

	next, err := f.service.AllocateNextInvoiceNumber(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, "1001", next)

	ledger, err := NewGormInventoryTransactionRepository(f.db).FindBySource(ctx, f.tenantID, inventory.SourceTypeSale, resp.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.True(t, dec("-2").Equal(ledger[0].Delta))
}

func TestSaleFlow_CreditSaleEditAndDelete(t *testing.T) {
	f := newSaleFlow(t)
	ctx := context.Background()
	product := seedProduct(t, f.db, f.tenantID, "100")
	customer := seedCustomer(t, f.db, f.tenantID, "C-1")
	customers := NewGormCustomerRepository(f.db)

	created, err := f.service.CreateSale(ctx, f.create(product, &customer.ID, 2))
	require.NoError(t, err)
	assert.Equal(t, string(sales.PaymentStatusPending), created.PaymentStatus)

	stored, err := customers.FindByIDForTenant(ctx, f.tenantID, customer.ID)
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(stored.PendingBalance))

	edit := f.create(product, &customer.ID, 5)
	edited, err := f.service.EditSale(ctx, salesapp.EditSaleCommand{
		TenantID:         f.tenantID,
		SaleID:           created.ID,
		ActorID:          f.actor,
		ConcurrencyToken: created.ConcurrencyToken,
		CustomerID:       &customer.ID,
		Items:            edit.Items,
		Reason:           "customer took more",
	})
	require.NoError(t, err)
	assert.Equal(t, created.Version+1, edited.Version)
	assert.NotEqual(t, created.ConcurrencyToken, edited.ConcurrencyToken)
	assert.True(t, dec("95").Equal(f.stock(t, product.ID)))

	versions, err := NewGormInvoiceVersionRepository(f.db).FindBySale(ctx, f.tenantID, created.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, created.Version, versions[0].VersionNumber)
	assert.True(t, dec("20").Equal(versions[0].Snapshot.GrandTotal))

	_, err = f.service.EditSale(ctx, salesapp.EditSaleCommand{
		TenantID:         f.tenantID,
		SaleID:           created.ID,
		ActorID:          f.actor,
		ConcurrencyToken: created.ConcurrencyToken,
		Items:            edit.Items,
	})
	require.Error(t, err, "a stale token is rejected")

	deleted, err := f.service.DeleteSale(ctx, salesapp.DeleteSaleCommand{
		TenantID:         f.tenantID,
		SaleID:           created.ID,
		ActorID:          f.actor,
		ConcurrencyToken: edited.ConcurrencyToken,
		Reason:           "entered twice",
	})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.True(t, dec("100").Equal(f.stock(t, product.ID)))

	stored, err = customers.FindByIDForTenant(ctx, f.tenantID, customer.ID)
	require.NoError(t, err)
	assert.True(t, stored.PendingBalance.IsZero())

	delivered, err := f.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Positive(t, delivered)

	entries, err := f.audit.FindEntries(ctx, f.tenantID, sales.AggregateTypeSale, created.ID)
	require.NoError(t, err)
	var actions []audit.Action
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, audit.ActionSaleCreated)
	assert.Contains(t, actions, audit.ActionSaleEdited)
	assert.Contains(t, actions, audit.ActionSaleDeleted)

	again, err := f.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestSaleFlow_ConcurrentCreatesGetDistinctNumbers(t *testing.T) {
	f := newSaleFlow(t)
	ctx := context.Background()
	product := seedProduct(t, f.db, f.tenantID, "1000")

	const workers = 6
	numbers := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.service.CreateSale(ctx, f.create(product, nil, 1))
			errs[i] = err
			if err == nil {
				numbers[i] = resp.InvoiceNumber
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[numbers[i]], "number %s handed out twice", numbers[i])
		seen[numbers[i]] = true
	}
	assert.Len(t, seen, workers)
	assert.True(t, seen["1000"])
	assert.True(t, dec("994").Equal(f.stock(t, product.ID)))
}

func (f *saleFlow) edit(resp *salesapp.SaleResponse, customerID *uuid.UUID, items []salesapp.SaleItemInput) salesapp.EditSaleCommand {
	return salesapp.EditSaleCommand{
		TenantID:         f.tenantID,
		SaleID:           resp.ID,
		ActorID:          f.actor,
		ConcurrencyToken: resp.ConcurrencyToken,
		CustomerID:       customerID,
		Items:            items,
	}
}

// ledgerSum adds up every inventory movement recorded for the product
func (f *saleFlow) ledgerSum(t *testing.T, productID uuid.UUID) decimal.Decimal {
	t.Helper()
	rows, err := NewGormInventoryTransactionRepository(f.db).FindByProduct(context.Background(), f.tenantID, productID)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.Delta)
	}
	return sum
}

func TestSaleFlow_RepeatedEditsKeepLedgerAndVersions(t *testing.T) {
	tests := []struct {
		name       string
		unitType   string
		quantities []int64
		stockAfter []string
	}{
		{"base units", "BASE", []int64{2, 5, 3, 7}, []string{"998", "995", "997", "993"}},
		{"packs of twelve", "PACK", []int64{10, 11, 12}, []string{"880", "868", "856"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSaleFlow(t)
			ctx := context.Background()
			product := seedProduct(t, f.db, f.tenantID, "1000")
			customer := seedCustomer(t, f.db, f.tenantID, "C-1")
			versions := NewGormInvoiceVersionRepository(f.db)
			initial := dec("1000")

			items := func(qty int64) []salesapp.SaleItemInput {
				return []salesapp.SaleItemInput{{
					ProductID: product.ID,
					UnitType:  tt.unitType,
					Quantity:  decimal.NewFromInt(qty),
					UnitPrice: decimal.NewFromInt(10),
				}}
			}

			cmd := f.create(product, &customer.ID, 0)
			cmd.Items = items(tt.quantities[0])
			resp, err := f.service.CreateSale(ctx, cmd)
			require.NoError(t, err)
			assert.True(t, dec(tt.stockAfter[0]).Equal(f.stock(t, product.ID)))
			assert.True(t, f.ledgerSum(t, product.ID).Equal(f.stock(t, product.ID).Sub(initial)))

			for i, qty := range tt.quantities[1:] {
				edited, err := f.service.EditSale(ctx, f.edit(resp, &customer.ID, items(qty)))
				require.NoError(t, err, "edit %d", i+1)
				assert.Equal(t, resp.Version+1, edited.Version, "version moves by one per edit")
				resp = edited

				stock := f.stock(t, product.ID)
				assert.True(t, dec(tt.stockAfter[i+1]).Equal(stock), "edit %d: stock %s", i+1, stock)
				assert.True(t, f.ledgerSum(t, product.ID).Equal(stock.Sub(initial)),
					"edit %d: ledger matches stock drift", i+1)

				history, err := versions.FindBySale(ctx, f.tenantID, resp.ID)
				require.NoError(t, err)
				assert.Len(t, history, i+1, "one snapshot per edit")
			}

			_, err = f.service.DeleteSale(ctx, salesapp.DeleteSaleCommand{
				TenantID:         f.tenantID,
				SaleID:           resp.ID,
				ActorID:          f.actor,
				ConcurrencyToken: resp.ConcurrencyToken,
				Reason:           "cancelled",
			})
			require.NoError(t, err)
			assert.True(t, initial.Equal(f.stock(t, product.ID)), "delete restores base units")
			assert.True(t, f.ledgerSum(t, product.ID).IsZero())
		})
	}
}

func TestSaleFlow_CustomerChangeMovesBalance(t *testing.T) {
	f := newSaleFlow(t)
	ctx := context.Background()
	product := seedProduct(t, f.db, f.tenantID, "100")
	first := seedCustomer(t, f.db, f.tenantID, "C-1")
	second := seedCustomer(t, f.db, f.tenantID, "C-2")
	customers := NewGormCustomerRepository(f.db)
	payments := NewGormPaymentRepository(f.db)

	cmd := f.create(product, &first.ID, 2)
	cmd.Payments = []salesapp.PaymentInput{{Amount: dec("15"), Mode: "ONLINE", Status: "CLEARED"}}
	created, err := f.service.CreateSale(ctx, cmd)
	require.NoError(t, err)

	edited, err := f.service.EditSale(ctx, f.edit(created, &second.ID, cmd.Items))
	require.NoError(t, err)
	require.NotNil(t, edited.CustomerID)
	assert.Equal(t, second.ID, *edited.CustomerID)

	balances := []struct {
		id                   uuid.UUID
		sales, paid, pending string
	}{
		{first.ID, "0", "0", "0"},
		{second.ID, "20", "15", "5"},
	}
	for _, b := range balances {
		c, err := customers.FindByIDForTenant(ctx, f.tenantID, b.id)
		require.NoError(t, err)
		assert.True(t, dec(b.sales).Equal(c.TotalSales), "%s total sales %s", c.Code, c.TotalSales)
		assert.True(t, dec(b.paid).Equal(c.TotalPayments), "%s total payments %s", c.Code, c.TotalPayments)
		assert.True(t, dec(b.pending).Equal(c.PendingBalance), "%s pending %s", c.Code, c.PendingBalance)
	}

	rows, err := payments.FindBySale(ctx, f.tenantID, created.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, p := range rows {
		if p.Counts() {
			require.NotNil(t, p.CustomerID)
			assert.Equal(t, second.ID, *p.CustomerID, "payments follow the invoice")
		}
	}

	_, err = f.service.DeleteSale(ctx, salesapp.DeleteSaleCommand{
		TenantID:         f.tenantID,
		SaleID:           created.ID,
		ActorID:          f.actor,
		ConcurrencyToken: edited.ConcurrencyToken,
	})
	require.NoError(t, err)

	rows, err = payments.FindBySale(ctx, f.tenantID, created.ID)
	require.NoError(t, err)
	for _, p := range rows {
		assert.Equal(t, sales.PaymentRecordVoid, p.Status)
	}
	c, err := customers.FindByIDForTenant(ctx, f.tenantID, second.ID)
	require.NoError(t, err)
	assert.True(t, c.PendingBalance.IsZero())
	assert.True(t, c.TotalPayments.IsZero())
}

func TestSaleFlow_ManualInvoiceNumbers(t *testing.T) {
	f := newSaleFlow(t)
	ctx := context.Background()
	product := seedProduct(t, f.db, f.tenantID, "100")

	first, err := f.service.CreateSale(ctx, f.create(product, nil, 1))
	require.NoError(t, err)
	require.Equal(t, "1000", first.InvoiceNumber)

	tests := []struct {
		name   string
		number string
		stored string
	}{
		{"leading zeros name a number in use", "01000", ""},
		{"counter overflow", "9223372036854775807", ""},
		{"leading zeros are stripped", "01005", "1005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := f.create(product, nil, 1)
			cmd.InvoiceNumber = tt.number
			resp, err := f.service.CreateSale(ctx, cmd)
			if tt.stored == "" {
				require.Error(t, err)
				assert.True(t, shared.IsKind(err, shared.KindValidation), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.stored, resp.InvoiceNumber)
		})
	}

	var live int64
	require.NoError(t, f.db.Model(&sales.Sale{}).
		Where("tenant_id = ? AND invoice_number = ?", f.tenantID, "1000").Count(&live).Error)
	assert.Equal(t, int64(1), live)

	next, err := f.service.AllocateNextInvoiceNumber(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, "1006", next, "allocation continues above the manual number")
}

func TestSaleFlow_CorrectOverpaymentPersists(t *testing.T) {
	f := newSaleFlow(t)
	ctx := context.Background()
	product := seedProduct(t, f.db, f.tenantID, "100")
	customer := seedCustomer(t, f.db, f.tenantID, "C-1")

	cmd := f.create(product, &customer.ID, 2)
	cmd.Payments = []salesapp.PaymentInput{{Amount: dec("26"), Mode: "ONLINE", Status: "CLEARED"}}
	created, err := f.service.CreateSale(ctx, cmd)
	require.NoError(t, err)
	require.True(t, dec("20").Equal(created.GrandTotal))

	reconciler := salesapp.NewReconciliationService(f.scope, salesapp.NewBalanceReconciler(), salesapp.DefaultEditLockWindow, nil)
	correct := salesapp.CorrectOverpaymentsCommand{TenantID: f.tenantID, ActorID: f.actor, SaleIDs: []uuid.UUID{created.ID}}

	results, err := reconciler.CorrectOverpayments(ctx, correct)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Corrected)
	assert.True(t, dec("6").Equal(results[0].Excess))

	onInvoice, err := NewGormPaymentRepository(f.db).FindBySale(ctx, f.tenantID, created.ID)
	require.NoError(t, err)
	state := sales.DerivePaymentState(created.GrandTotal, onInvoice)
	assert.True(t, dec("20").Equal(state.Collected))
	assert.False(t, state.Overpaid())

	all, err := NewGormPaymentRepository(f.db).FindByCustomer(ctx, f.tenantID, customer.ID)
	require.NoError(t, err)
	var credit *sales.Payment
	for i := range all {
		if all[i].SaleID == nil {
			credit = &all[i]
		}
	}
	require.NotNil(t, credit, "excess stays on the customer account")
	assert.Equal(t, results[0].CreditPaymentID, credit.ID)
	assert.True(t, dec("6").Equal(credit.Amount))

	stored, err := NewGormCustomerRepository(f.db).FindByIDForTenant(ctx, f.tenantID, customer.ID)
	require.NoError(t, err)
	assert.True(t, dec("26").Equal(stored.TotalPayments))
	assert.True(t, dec("-6").Equal(stored.PendingBalance))

	sale, err := NewGormSaleRepository(f.db).FindByIDForTenant(ctx, f.tenantID, created.ID)
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(sale.PaidAmount))
	assert.Equal(t, sales.PaymentStatusPaid, sale.PaymentStatus)

	again, err := reconciler.CorrectOverpayments(ctx, correct)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.False(t, again[0].Corrected)
	assert.Equal(t, "invoice is not overpaid", again[0].Reason)
}
