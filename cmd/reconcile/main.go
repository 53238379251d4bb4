package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	salesapp "github.com/erp/invoicing/internal/application/sales"
	"github.com/erp/invoicing/internal/bootstrap"
	"github.com/erp/invoicing/internal/infrastructure/config"
	"github.com/erp/invoicing/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	var (
		tenant         string
		correct        string
		actor          string
		migrationsPath string
		logLevel       string
		drain          bool
	)
	flag.StringVar(&tenant, "tenant", "", "Tenant id to reconcile (required)")
	flag.StringVar(&correct, "correct-overpayments", "", "Comma-separated sale ids whose overpayment moves to customer credit")
	flag.StringVar(&actor, "actor", "", "Operator id recorded on corrections (required with -correct-overpayments)")
	flag.StringVar(&migrationsPath, "migrations", bootstrap.DefaultMigrationsPath, "Path to the SQL migrations directory")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&drain, "drain", true, "Deliver pending outbox events before exiting")
	flag.Parse()

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		log.Fatal("A valid -tenant is required", zap.String("tenant", tenant))
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()
	engine, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{MigrationsPath: migrationsPath})
	if err != nil {
		_ = engine.Close()
		log.Fatal("Failed to build invoicing engine", zap.Error(err))
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error("Error during shutdown", zap.Error(err))
		}
	}()

	output := map[string]any{}
	result, err := engine.Sweep(ctx, tenantID)
	if err != nil {
		log.Fatal("Reconciliation failed", zap.Error(err))
	}
	output["payments"] = result.Payments
	output["balances"] = result.Balances
	output["locked"] = result.Locked

	if correct != "" {
		cmd, err := correctionCommand(tenantID, actor, correct)
		if err != nil {
			log.Fatal("Invalid overpayment correction request", zap.Error(err))
		}
		corrections, err := engine.Reconciliation.CorrectOverpayments(ctx, cmd)
		if err != nil {
			log.Fatal("Overpayment correction failed", zap.Error(err))
		}
		output["corrections"] = corrections
	}

	if drain {
		delivered, err := engine.Processor.Drain(ctx)
		if err != nil {
			log.Error("Outbox drain stopped early", zap.Int("delivered", delivered), zap.Error(err))
		}
		output["events_delivered"] = delivered
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		log.Fatal("Failed to write report", zap.Error(err))
	}
}

func correctionCommand(tenantID uuid.UUID, actor, saleIDs string) (salesapp.CorrectOverpaymentsCommand, error) {
	actorID, err := uuid.Parse(actor)
	if err != nil {
		return salesapp.CorrectOverpaymentsCommand{}, fmt.Errorf("-actor: %w", err)
	}
	cmd := salesapp.CorrectOverpaymentsCommand{TenantID: tenantID, ActorID: actorID}
	for _, raw := range strings.Split(saleIDs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return cmd, fmt.Errorf("sale id %q: %w", raw, err)
		}
		cmd.SaleIDs = append(cmd.SaleIDs, id)
	}
	return cmd, nil
}
