package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	salesapp "github.com/erp/invoicing/internal/application/sales"
	"github.com/erp/invoicing/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolationLevel(t *testing.T) {
	tests := []struct {
		name string
		want sql.IsolationLevel
	}{
		{"", sql.LevelDefault},
		{"read_committed", sql.LevelReadCommitted},
		{"repeatable_read", sql.LevelRepeatableRead},
		{"serializable", sql.LevelSerializable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsolationLevel(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := IsolationLevel("snapshot")
	assert.ErrorContains(t, err, "unknown isolation level")
}

func TestGormTransactionScope_TxOptions(t *testing.T) {
	t.Run("postgres uses the configured level", func(t *testing.T) {
		db, _, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		scope := NewGormTransactionScope(db.DB, nil, nil, WithIsolation(sql.LevelSerializable))
		opts := scope.txOptions()
		require.NotNil(t, opts)
		assert.Equal(t, sql.LevelSerializable, opts.Isolation)

		assert.Nil(t, NewGormTransactionScope(db.DB, nil, nil).txOptions(), "driver default")
	})

	t.Run("sqlite ignores the level", func(t *testing.T) {
		scope := NewGormTransactionScope(newTestDB(t), nil, nil, WithIsolation(sql.LevelSerializable))
		assert.Nil(t, scope.txOptions())

		ran := false
		err := scope.Execute(context.Background(), func(salesapp.TransactionalRepositories) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
	})
}

func TestGormTransactionScope_SerializationFailure(t *testing.T) {
	db, mock, mockDB := newMockDatabase(t)
	defer mockDB.Close()
	scope := NewGormTransactionScope(db.DB, nil, nil, WithIsolation(sql.LevelSerializable))

	mock.ExpectBegin()
	mock.ExpectRollback()

	aborted := &pgconn.PgError{Code: sqlStateSerializationFailure, Message: "could not serialize access due to concurrent update"}
	err := scope.Execute(context.Background(), func(salesapp.TransactionalRepositories) error {
		return aborted
	})
	require.Error(t, err)
	assert.True(t, shared.IsKind(err, shared.KindConcurrencyConflict))
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr), "cause is kept")
	assert.NoError(t, mock.ExpectationsWereMet())

	plain := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = scope.Execute(context.Background(), func(salesapp.TransactionalRepositories) error { return plain })
	assert.ErrorIs(t, err, plain)
	assert.False(t, shared.IsKind(err, shared.KindConcurrencyConflict))
}

func TestIsSerializationFailure(t *testing.T) {
	assert.False(t, isSerializationFailure(nil))
	assert.True(t, isSerializationFailure(&pgconn.PgError{Code: sqlStateSerializationFailure}))
	assert.True(t, isSerializationFailure(&pgconn.PgError{Code: sqlStateDeadlockDetected}))
	assert.False(t, isSerializationFailure(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isSerializationFailure(errors.New("ERROR: could not serialize access due to read/write dependencies")))
}
