package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TenantProvider lists the tenants to reconcile
type TenantProvider interface {
	TenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// StaticTenants is a fixed tenant list, usually from configuration
type StaticTenants []uuid.UUID

// TenantIDs returns the list
func (t StaticTenants) TenantIDs(context.Context) ([]uuid.UUID, error) {
	return t, nil
}

// TriggerConfig holds configuration for the interval trigger
type TriggerConfig struct {
	Interval time.Duration
	// RunOnStart queues a sweep for every tenant as soon as the trigger starts
	RunOnStart bool
}

// Trigger queues a sweep for every tenant once per interval
type Trigger struct {
	config         TriggerConfig
	scheduler      *Scheduler
	tenantProvider TenantProvider
	logger         *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewTrigger creates a new interval trigger
func NewTrigger(config TriggerConfig, scheduler *Scheduler, tenantProvider TenantProvider, logger *zap.Logger) *Trigger {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		config:         config,
		scheduler:      scheduler,
		tenantProvider: tenantProvider,
		logger:         logger,
	}
}

// Start starts the trigger loop
func (c *Trigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}
	c.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Reconciliation trigger started",
		zap.Duration("interval", c.config.Interval),
		zap.Bool("run_on_start", c.config.RunOnStart),
	)
	return nil
}

// Stop stops the trigger loop
func (c *Trigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Reconciliation trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Trigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	if c.config.RunOnStart {
		c.TriggerAll(ctx)
	}

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.TriggerAll(ctx)
		}
	}
}

// TriggerAll queues a sweep for every tenant and returns how many were queued.
// Tenants whose previous sweep is still pending are skipped.
func (c *Trigger) TriggerAll(ctx context.Context) int {
	tenantIDs, err := c.tenantProvider.TenantIDs(ctx)
	if err != nil {
		c.logger.Error("Failed to list tenants for reconciliation", zap.Error(err))
		return 0
	}

	queued := 0
	for _, tenantID := range tenantIDs {
		_, err := c.scheduler.ScheduleSweep(tenantID)
		switch {
		case err == nil:
			queued++
		case errors.Is(err, ErrTenantAlreadyQueued):
			c.logger.Debug("Reconciliation still pending, skipping tenant",
				zap.String("tenant_id", tenantID.String()))
		default:
			c.logger.Error("Failed to schedule reconciliation for tenant",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		}
	}
	return queued
}
