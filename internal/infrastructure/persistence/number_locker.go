package persistence

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/bsm/redislock"
	salesapp "github.com/erp/invoicing/internal/application/sales"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Lock backends selectable through invoice.lock_backend
const (
	LockBackendAuto     = "auto"
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
	LockBackendLocal    = "local"
)

// DefaultAdvisoryLockBase keeps invoice numbering keys apart from other advisory lock users
const DefaultAdvisoryLockBase int64 = 7_340_000_000

// AdvisoryLockKey derives the PostgreSQL advisory lock key of a tenant
func AdvisoryLockKey(base int64, tenantID uuid.UUID) int64 {
	h := fnv.New32a()
	_, _ = h.Write(tenantID[:])
	return base + int64(h.Sum32())
}

// AdvisoryNumberLocker serializes numbering with a transaction-scoped advisory lock.
// The lock is released by PostgreSQL at commit or rollback.
type AdvisoryNumberLocker struct {
	tx   *gorm.DB
	base int64
}

// NewAdvisoryNumberLocker creates a locker bound to a transaction
func NewAdvisoryNumberLocker(tx *gorm.DB, base int64) *AdvisoryNumberLocker {
	return &AdvisoryNumberLocker{tx: tx, base: base}
}

// Acquire blocks until the tenant's advisory lock is held by the transaction
func (l *AdvisoryNumberLocker) Acquire(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	key := AdvisoryLockKey(l.base, tenantID)
	if err := l.tx.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", key).Error; err != nil {
		return nil, fmt.Errorf("advisory lock %d: %w", key, err)
	}
	return func() {}, nil
}

// RedisNumberLocker serializes numbering across processes with a Redis lock.
// The lock is released by the caller after the transaction ended.
type RedisNumberLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
	logger *zap.Logger
}

// NewRedisNumberLocker creates a locker on top of a redislock client
func NewRedisNumberLocker(client *redislock.Client, ttl time.Duration, logger *zap.Logger) *RedisNumberLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNumberLocker{
		client: client,
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(25*time.Millisecond), int(ttl/(25*time.Millisecond))),
		logger: logger,
	}
}

// Acquire obtains the tenant lock, retrying until it frees up or the ttl elapsed
func (l *RedisNumberLocker) Acquire(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	key := "invoice-number:" + tenantID.String()
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("invoice numbering lock for tenant %s is busy: %w", tenantID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain redis lock %s: %w", key, err)
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("failed to release invoice numbering lock",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
		}
	}, nil
}

// LocalNumberLocker serializes numbering inside one process
type LocalNumberLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]chan struct{}
}

// NewLocalNumberLocker creates an in-process locker
func NewLocalNumberLocker() *LocalNumberLocker {
	return &LocalNumberLocker{slots: make(map[uuid.UUID]chan struct{})}
}

func (l *LocalNumberLocker) slot(tenantID uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[tenantID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[tenantID] = ch
	}
	return ch
}

// Acquire waits for the tenant slot or the context to end
func (l *LocalNumberLocker) Acquire(ctx context.Context, tenantID uuid.UUID) (func(), error) {
	ch := l.slot(tenantID)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

// LockerFactory returns the numbering lock to use inside a transaction
type LockerFactory func(tx *gorm.DB) salesapp.InvoiceNumberLocker

// LockerOptions selects and configures the numbering lock backend
type LockerOptions struct {
	Backend      string
	AdvisoryBase int64
	Redis        *redislock.Client
	RedisTTL     time.Duration
	Logger       *zap.Logger
}

// NewLockerFactory resolves the backend. "auto" prefers PostgreSQL advisory locks,
// then Redis when a client is configured, then an in-process lock.
func NewLockerFactory(db *gorm.DB, opts LockerOptions) (LockerFactory, string, error) {
	base := opts.AdvisoryBase
	if base == 0 {
		base = DefaultAdvisoryLockBase
	}

	backend := opts.Backend
	if backend == "" || backend == LockBackendAuto {
		switch {
		case dialectOf(db) == DriverPostgres:
			backend = LockBackendPostgres
		case opts.Redis != nil:
			backend = LockBackendRedis
		default:
			backend = LockBackendLocal
		}
	}

	switch backend {
	case LockBackendPostgres:
		if dialectOf(db) != DriverPostgres {
			return nil, "", fmt.Errorf("lock backend %q needs a postgres database", backend)
		}
		return func(tx *gorm.DB) salesapp.InvoiceNumberLocker {
			return NewAdvisoryNumberLocker(tx, base)
		}, backend, nil
	case LockBackendRedis:
		if opts.Redis == nil {
			return nil, "", fmt.Errorf("lock backend %q needs redis to be enabled", backend)
		}
		locker := NewRedisNumberLocker(opts.Redis, opts.RedisTTL, opts.Logger)
		return func(*gorm.DB) salesapp.InvoiceNumberLocker { return locker }, backend, nil
	case LockBackendLocal:
		locker := NewLocalNumberLocker()
		return func(*gorm.DB) salesapp.InvoiceNumberLocker { return locker }, backend, nil
	default:
		return nil, "", fmt.Errorf("unknown lock backend %q", backend)
	}
}
