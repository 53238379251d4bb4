package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/invoicing/internal/domain/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InvoiceNumberLocker serializes number allocation per tenant.
// The returned release func must be called once the surrounding transaction has ended;
// lockers bound to the transaction itself return a no-op release.
type InvoiceNumberLocker interface {
	Acquire(ctx context.Context, tenantID uuid.UUID) (release func(), err error)
}

// NumberingOptions configures allocation and its retry loop
type NumberingOptions struct {
	Policy         sales.NumberingPolicy
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultNumberingOptions returns the options used when nothing is configured
func DefaultNumberingOptions() NumberingOptions {
	return NumberingOptions{
		Policy:         sales.DefaultNumberingPolicy(),
		MaxAttempts:    5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// InvoiceNumberAllocator hands out and validates per-tenant invoice numbers.
// Allocation is the highest number ever used plus one, never below the floor.
type InvoiceNumberAllocator struct {
	reader  sales.SaleRepository
	opts    NumberingOptions
	metrics Metrics
	logger  *zap.Logger
}

// NewInvoiceNumberAllocator creates an allocator.
// reader serves previews and validation outside any transaction.
func NewInvoiceNumberAllocator(reader sales.SaleRepository, opts NumberingOptions, logger *zap.Logger) *InvoiceNumberAllocator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceNumberAllocator{
		reader:  reader,
		opts:    opts,
		metrics: NoopMetrics,
		logger:  logger,
	}
}

// SetMetrics sets the business metrics sink
func (a *InvoiceNumberAllocator) SetMetrics(m Metrics) {
	if m != nil {
		a.metrics = m
	}
}

// Policy returns the numbering policy in use
func (a *InvoiceNumberAllocator) Policy() sales.NumberingPolicy {
	return a.opts.Policy
}

// AllocateNextInvoiceNumber previews the number the next sale of the tenant would get.
// Nothing is reserved; the number actually assigned is decided under the tenant lock.
func (a *InvoiceNumberAllocator) AllocateNextInvoiceNumber(ctx context.Context, tenantID uuid.UUID) (string, error) {
	if tenantID == uuid.Nil {
		return "", shared.NewValidationError("tenant_id", "tenant ID cannot be empty")
	}
	existing, err := a.reader.ListInvoiceNumbers(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("list invoice numbers: %w", err)
	}
	return a.opts.Policy.Next(existing), nil
}

// ValidateInvoiceNumber checks a manually supplied number: format, floor and uniqueness
// among the tenant's non-deleted sales other than excludeID.
// Uniqueness is decided on the canonical form, so "01000" collides with "1000".
func (a *InvoiceNumberAllocator) ValidateInvoiceNumber(ctx context.Context, tenantID uuid.UUID, number string, excludeID *uuid.UUID) error {
	_, err := a.validate(ctx, a.reader, tenantID, number, excludeID)
	return err
}

// validate returns the canonical form of number once it passes every check
func (a *InvoiceNumberAllocator) validate(ctx context.Context, repo sales.SaleRepository, tenantID uuid.UUID, number string, excludeID *uuid.UUID) (string, error) {
	canonical, err := a.opts.Policy.Canonical(number)
	if err != nil {
		return "", err
	}
	inUse, err := repo.InvoiceNumberInUse(ctx, tenantID, canonical, excludeID)
	if err != nil {
		return "", fmt.Errorf("check invoice number: %w", err)
	}
	if inUse {
		return "", duplicateNumberError(canonical)
	}
	return canonical, nil
}

// reserve decides the number of a new sale inside the caller's transaction.
// A manual number is validated and stored in canonical form, otherwise the next number is computed. Either way the
// tenant lock is held so no concurrent allocation can observe the same maximum.
func (a *InvoiceNumberAllocator) reserve(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, manual string) (string, func(), error) {
	release := func() {}
	if locker := repos.NumberLocker(); locker != nil {
		rel, err := locker.Acquire(ctx, tenantID)
		if err != nil {
			return "", release, shared.NewNumberingConflictError("could not lock invoice numbering", err)
		}
		if rel != nil {
			release = rel
		}
	}

	if manual != "" {
		canonical, err := a.validate(ctx, repos.SaleRepo(), tenantID, manual, nil)
		if err != nil {
			return "", release, err
		}
		return canonical, release, nil
	}

	existing, err := repos.SaleRepo().ListInvoiceNumbers(ctx, tenantID)
	if err != nil {
		return "", release, fmt.Errorf("list invoice numbers: %w", err)
	}
	return a.opts.Policy.Next(existing), release, nil
}

// withRetry runs op until it succeeds, fails with anything but a numbering conflict,
// or the attempts run out. Exhaustion surfaces as a numbering conflict carrying a
// correlation id.
func (a *InvoiceNumberAllocator) withRetry(ctx context.Context, tenantID uuid.UUID, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.opts.InitialBackoff
	b.MaxInterval = a.opts.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.opts.MaxAttempts-1)), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op()
		if err == nil || shared.IsKind(err, shared.KindNumberingConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		a.metrics.NumberingRetried(ctx, tenantID)
		a.logger.Warn("Invoice number collided, retrying",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err == nil || !shared.IsKind(err, shared.KindNumberingConflict) {
		return err
	}

	conflict := shared.NewNumberingConflictError(
		fmt.Sprintf("invoice number allocation failed after %d attempts", attempts), err)
	a.logger.Error("Invoice numbering exhausted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("correlation_id", conflict.CorrelationID),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return conflict
}

func duplicateNumberError(number string) *shared.DomainError {
	return &shared.DomainError{
		Code:    shared.ErrAlreadyExists.Code,
		Message: fmt.Sprintf("invoice number %s is already in use", number),
		Kind:    shared.KindValidation,
		Field:   "invoice_number",
	}
}

// isDuplicateNumber reports whether err is the manual-number uniqueness rejection
func isDuplicateNumber(err error) bool {
	return errors.Is(err, shared.ErrAlreadyExists)
}
