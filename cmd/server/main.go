package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/invoicing/internal/bootstrap"
	"github.com/erp/invoicing/internal/infrastructure/config"
	"github.com/erp/invoicing/internal/infrastructure/logger"
	"github.com/erp/invoicing/internal/infrastructure/scheduler"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	migrationsPath := flag.String("migrations", bootstrap.DefaultMigrationsPath, "Path to the SQL migrations directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting invoicing engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{MigrationsPath: *migrationsPath})
	if err != nil {
		_ = engine.Close()
		log.Fatal("Failed to build invoicing engine", zap.Error(err))
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error("Error during shutdown", zap.Error(err))
		}
	}()

	tenants, err := bootstrap.ReconcileTenants(cfg.Invoice)
	if err != nil {
		log.Fatal("Invalid reconciliation tenants", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Event.ProcessorEnabled {
		g.Go(func() error {
			if err := engine.Processor.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return engine.Processor.Stop(stopCtx)
		})
	} else {
		log.Warn("Outbox processor disabled; post-commit handlers will not run in this process")
	}

	sched, err := engine.NewReconcileScheduler()
	if err != nil {
		log.Fatal("Invalid reconciliation scheduler settings", zap.Error(err))
	}
	if len(tenants) > 0 {
		trigger := scheduler.NewTrigger(scheduler.TriggerConfig{
			Interval:   cfg.Invoice.ReconcileInterval,
			RunOnStart: true,
		}, sched, scheduler.StaticTenants(tenants), log)
		g.Go(func() error {
			if err := sched.Start(gctx); err != nil {
				return err
			}
			if err := trigger.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return errors.Join(trigger.Stop(stopCtx), sched.Stop(stopCtx))
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				engine.Database.LogStats(log)
				stats := engine.Idempotency.Stats()
				sweeps := sched.Stats()
				log.Info("Reconciliation sweeps",
					zap.Int64("succeeded", sweeps.Succeeded),
					zap.Int64("failed", sweeps.Failed),
					zap.Int64("retried", sweeps.Retried))
				log.Info("Post-commit handlers",
					zap.Int64("processed", stats.EventsProcessed),
					zap.Int64("duplicates", stats.EventsDuplicate),
					zap.Int64("failed", stats.EventsFailed))
			}
		}
	})

	log.Info("Invoicing engine running",
		zap.Bool("outbox_processor", cfg.Event.ProcessorEnabled),
		zap.Int("reconcile_tenants", len(tenants)),
		zap.Duration("reconcile_interval", cfg.Invoice.ReconcileInterval))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Invoicing engine stopped with error", zap.Error(err))
		return
	}
	log.Info("Invoicing engine stopped")
}
