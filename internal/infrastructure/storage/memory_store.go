package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	salesapp "github.com/erp/invoicing/internal/application/sales"
	"github.com/erp/invoicing/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ErrObjectNotFound is returned when a key has no object
var ErrObjectNotFound = errors.New("storage: object not found")

var _ salesapp.ObjectStore = (*MemoryStore)(nil)

// Object is one stored blob
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps objects in process memory. It backs development runs
// with storage disabled and the handler tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

// Upload stores a copy of data under key
func (m *MemoryStore) Upload(_ context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: buf, ContentType: contentType}
	return nil
}

// Get returns the object under key
func (m *MemoryStore) Get(key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ErrObjectNotFound
	}
	return obj, nil
}

// Keys lists stored keys with the given prefix in order
func (m *MemoryStore) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// NewObjectStore returns the S3 store when storage is enabled, otherwise an in-memory store.
func NewObjectStore(cfg *config.StorageConfig, logger *zap.Logger) (salesapp.ObjectStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil || !cfg.Enabled {
		logger.Warn("Object storage disabled, invoice documents are kept in memory only")
		return NewMemoryStore(), nil
	}
	return NewS3Store(cfg, WithLogger(logger))
}
