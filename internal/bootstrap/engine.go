// Package bootstrap assembles the invoicing engine from configuration for the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bsm/redislock"
	salesapp "github.com/erp/invoicing/internal/application/sales"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/erp/invoicing/internal/infrastructure/cache"
	"github.com/erp/invoicing/internal/infrastructure/config"
	"github.com/erp/invoicing/internal/infrastructure/event"
	"github.com/erp/invoicing/internal/infrastructure/logger"
	"github.com/erp/invoicing/internal/infrastructure/migration"
	"github.com/erp/invoicing/internal/infrastructure/persistence"
	"github.com/erp/invoicing/internal/infrastructure/printing"
	"github.com/erp/invoicing/internal/infrastructure/scheduler"
	"github.com/erp/invoicing/internal/infrastructure/storage"
	"github.com/erp/invoicing/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine is the wired invoicing engine
type Engine struct {
	Config         *config.Config
	Database       *persistence.Database
	Redis          *redis.Client
	Telemetry      *telemetry.Providers
	Sales          *salesapp.SaleService
	Versions       *salesapp.VersionService
	Reconciliation *salesapp.ReconciliationService
	Processor      *event.OutboxProcessor
	Bus            *event.InMemoryEventBus
	Store          salesapp.ObjectStore
	Idempotency    *event.IdempotencyMetrics
	LockBackend    string

	logger  *zap.Logger
	closers []func() error
}

// DefaultMigrationsPath is where the SQL migrations live relative to the working directory
const DefaultMigrationsPath = "migrations"

// Options tweaks how the engine is built
type Options struct {
	MigrationsPath string
	// SkipMigrations leaves the schema untouched
	SkipMigrations bool
}

// Build connects every dependency. Call Close when done, also after an error.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*Engine, error) {
	e := &Engine{Config: cfg, logger: log}

	providers, err := telemetry.NewProviders(ctx, cfg.Telemetry, log)
	if err != nil {
		return e, err
	}
	e.Telemetry = providers
	e.closers = append(e.closers, func() error { return providers.Shutdown(context.Background()) })

	sqlLog := logger.NewSQLLogger(log, logger.SQLLogConfig{
		Level:         cfg.Log.Level,
		SlowThreshold: cfg.Telemetry.SlowQueryThresh,
	})
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(sqlLog))
	if err != nil {
		return e, err
	}
	e.Database = db
	e.closers = append(e.closers, db.Close)

	if err := telemetry.Instrument(db.DB, telemetry.DBInstrumentation{
		TraceEnabled:    cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		DBName:          cfg.Database.DBName,
		SlowQueryThresh: cfg.Telemetry.SlowQueryThresh,
		TracerProvider:  providers.TracerProvider(),
		Meter:           providers.Meter("db.client"),
		Logger:          log,
	}); err != nil {
		return e, fmt.Errorf("instrument database: %w", err)
	}

	if !opts.SkipMigrations {
		path := opts.MigrationsPath
		if path == "" {
			path = DefaultMigrationsPath
		}
		if err := migration.Apply(db, path, log); err != nil {
			return e, err
		}
	}

	if e.Redis, err = cache.NewRedisClient(ctx, &cfg.Redis); err != nil {
		return e, err
	}
	if e.Redis != nil {
		client := e.Redis
		e.closers = append(e.closers, client.Close)
	}

	lockOpts := persistence.LockerOptions{
		Backend:      cfg.Invoice.LockBackend,
		AdvisoryBase: cfg.Invoice.AdvisoryLockBase,
		RedisTTL:     cfg.Invoice.RedisLockTTL,
		Logger:       log,
	}
	if e.Redis != nil {
		lockOpts.Redis = redislock.New(e.Redis)
	}
	lockers, backend, err := persistence.NewLockerFactory(db.DB, lockOpts)
	if err != nil {
		return e, err
	}
	e.LockBackend = backend

	serializer := event.NewSalesEventSerializer()
	outboxRepo := event.NewGormOutboxRepository(db.DB)
	isolation, err := persistence.IsolationLevel(cfg.Database.Isolation)
	if err != nil {
		return e, fmt.Errorf("database.isolation: %w", err)
	}
	scope := persistence.NewGormTransactionScope(db.DB,
		event.NewOutboxPublisher(serializer, cfg.Event.MaxRetries), lockers,
		persistence.WithIsolation(isolation))

	metrics, err := telemetry.NewInvoiceMetrics(providers.Meter(telemetry.MeterName), outboxRepo, log)
	if err != nil {
		return e, err
	}

	saleRepo := persistence.NewGormSaleRepository(db.DB)
	numbers := salesapp.NewInvoiceNumberAllocator(saleRepo, numberingOptions(cfg.Invoice), log)
	numbers.SetMetrics(metrics)
	guard := salesapp.NewConcurrencyGuard(cfg.Invoice.RecentEditWindow)
	balances := salesapp.NewBalanceReconciler()
	lockWindow := cfg.Invoice.EditLockWindow()
	auditRepo := persistence.NewGormAuditRepository(db.DB, log)

	e.Sales = salesapp.NewSaleService(scope, saleRepo, numbers, guard, balances, lockWindow, log)
	e.Sales.SetMetrics(metrics)
	e.Sales.SetAlertSink(auditRepo)
	e.Versions = salesapp.NewVersionService(scope, saleRepo,
		persistence.NewGormInvoiceVersionRepository(db.DB), guard, lockWindow, log)
	e.Reconciliation = salesapp.NewReconciliationService(scope, balances, lockWindow, log)
	e.Reconciliation.SetMetrics(metrics)

	if e.Store, err = storage.NewObjectStore(&cfg.Storage, log); err != nil {
		return e, err
	}
	if s3store, ok := e.Store.(*storage.S3Store); ok {
		if err := s3store.EnsureBucket(ctx); err != nil {
			return e, err
		}
	}

	renderer, err := newDocumentRenderer(cfg.Printing, log)
	if err != nil {
		return e, err
	}
	if closer, ok := renderer.(interface{ Close() error }); ok {
		e.closers = append(e.closers, closer.Close)
	}

	e.Bus = event.NewInMemoryEventBus(log)
	e.Idempotency = event.SubscribeIdempotent(e.Bus, cache.NewIdempotencyStore(e.Redis, log),
		shared.IdempotencyConfig{TTL: cfg.Event.IdempotencyTTL, Enabled: true}, log,
		event.NamedHandler{Name: "audit", Handler: salesapp.NewAuditHandler(auditRepo, log)},
		event.NamedHandler{Name: "alert", Handler: salesapp.NewAlertHandler(auditRepo, log)},
		event.NamedHandler{Name: "document", Handler: salesapp.NewDocumentHandler(saleRepo, renderer, e.Store, cfg.Storage.Prefix, log)},
		event.NamedHandler{Name: "backup", Handler: salesapp.NewBackupHandler(e.Store, cfg.Storage.Prefix, log)},
	)

	e.Processor = event.NewOutboxProcessor(outboxRepo, e.Bus, serializer, event.OutboxProcessorConfig{
		BatchSize:        cfg.Event.BatchSize,
		PollInterval:     cfg.Event.PollInterval,
		CleanupEnabled:   cfg.Event.CleanupEnabled,
		CleanupRetention: cfg.Event.CleanupRetention,
	}, log)

	log.Info("Invoicing engine ready",
		zap.String("database", db.Driver),
		zap.String("lock_backend", backend),
		zap.Bool("redis", e.Redis != nil),
		zap.Bool("telemetry", providers.IsEnabled()))
	return e, nil
}

// newDocumentRenderer returns nil for json, which the document handler treats as its default
func newDocumentRenderer(cfg config.PrintingConfig, log *zap.Logger) (salesapp.DocumentRenderer, error) {
	if cfg.Format == "" || cfg.Format == "json" {
		return nil, nil
	}
	paper, ok := printing.ParsePaperSize(cfg.PaperSize)
	if !ok {
		return nil, fmt.Errorf("printing.paper_size: unsupported %q", cfg.PaperSize)
	}
	rcfg := printing.InvoiceRendererConfig{
		Company:        cfg.Company,
		CurrencySymbol: cfg.CurrencySymbol,
		DateLayout:     cfg.DateLayout,
		PaperSize:      paper,
		Timeout:        cfg.Timeout,
	}
	if cfg.TemplatePath != "" {
		content, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("read invoice template: %w", err)
		}
		rcfg.Template = string(content)
	}

	var pdf printing.PDFRenderer
	if cfg.Format == "pdf" {
		pdf = printing.NewChromePrinter(printing.ChromeConfig{
			RemoteURL: cfg.ChromeURL,
			NoSandbox: cfg.NoSandbox,
			Timeout:   cfg.Timeout,
			Logger:    log,
		})
	}
	renderer, err := printing.NewInvoiceRenderer(rcfg, pdf, log)
	if err != nil {
		if pdf != nil {
			_ = pdf.Close()
		}
		return nil, err
	}
	return renderer, nil
}

func numberingOptions(cfg config.InvoiceConfig) salesapp.NumberingOptions {
	opts := salesapp.DefaultNumberingOptions()
	opts.Policy = sales.NumberingPolicy{Floor: cfg.NumberFloor, Width: cfg.NumberWidth, Prefix: cfg.NumberPrefix}
	if cfg.NumberingMaxAttempts > 0 {
		opts.MaxAttempts = cfg.NumberingMaxAttempts
	}
	if cfg.NumberingInitialBackoff > 0 {
		opts.InitialBackoff = cfg.NumberingInitialBackoff
	}
	if cfg.NumberingMaxBackoff > 0 {
		opts.MaxBackoff = cfg.NumberingMaxBackoff
	}
	return opts
}

// ReconcileTenants parses the configured tenant ids
func ReconcileTenants(cfg config.InvoiceConfig) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(cfg.ReconcileTenants))
	for _, raw := range cfg.ReconcileTenants {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invoice.reconcile_tenants: %q is not a uuid: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Close releases everything Build opened, last opened first
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// NewReconcileScheduler returns a stopped worker pool that runs Sweep for each queued tenant
func (e *Engine) NewReconcileScheduler() (*scheduler.Scheduler, error) {
	cfg := scheduler.DefaultSchedulerConfig()
	inv := e.Config.Invoice
	if inv.ReconcileWorkers > 0 {
		cfg.MaxConcurrentJobs = inv.ReconcileWorkers
	}
	if inv.ReconcileJobTimeout > 0 {
		cfg.JobTimeout = inv.ReconcileJobTimeout
	}
	if inv.ReconcileRetryDelay > 0 {
		cfg.RetryDelay = inv.ReconcileRetryDelay
	}
	cfg.RetryAttempts = inv.ReconcileRetries
	return scheduler.NewScheduler(cfg, scheduler.ExecutorFunc(func(ctx context.Context, job *scheduler.Job) error {
		_, err := e.Sweep(ctx, job.TenantID)
		return err
	}), e.logger)
}

// SweepResult summarizes one reconciliation pass over a tenant
type SweepResult struct {
	Payments *salesapp.ReconcileReport
	Balances *salesapp.BalanceReport
	Locked   int64
}

// Sweep runs the payment-status sweep, the edit-lock pass and the balance
// recomputation for one tenant. Overpayments are reported, never corrected.
func (e *Engine) Sweep(ctx context.Context, tenantID uuid.UUID) (*SweepResult, error) {
	payments, err := e.Reconciliation.ReconcileAllPaymentStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	locked, err := e.Reconciliation.LockExpiredSales(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	balances, err := e.Reconciliation.ReconcileCustomerBalances(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Tenant reconciled",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("scanned", payments.Scanned),
		zap.Int("status_fixed", len(payments.Fixed)),
		zap.Int("duplicate_groups", len(payments.Duplicates)),
		zap.Int("overpaid", len(payments.Overpayments)),
		zap.Int64("locked", locked),
		zap.Int("balances_drifted", len(balances.Drifted)))
	return &SweepResult{Payments: payments, Balances: balances, Locked: locked}, nil
}
