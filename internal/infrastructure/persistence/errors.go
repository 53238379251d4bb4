package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// notFoundOr maps gorm.ErrRecordNotFound to a tenant-scoped NotFound error
func notFoundOr(err error, resource string, id fmt.Stringer) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.NewNotFoundError(resource, id)
	}
	return err
}

// isDuplicateKey reports a unique index violation. TranslateError covers configured
// connections; the message check covers connections opened without it.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// Serialization failures PostgreSQL reports under SERIALIZABLE and on deadlock
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// isSerializationFailure reports a transaction PostgreSQL aborted because a
// concurrent transaction won; rerunning it may succeed
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return strings.Contains(err.Error(), "could not serialize access")
}

// forUpdate adds a row lock on PostgreSQL. SQLite serializes writers and has no row locks.
func forUpdate(db *gorm.DB) *gorm.DB {
	if dialectOf(db) == DriverPostgres {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}
