package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedSQLLogger(cfg SQLLogConfig) (*SQLLogger, *observer.ObservedLogs) {
	core, recorded := observer.New(zapcore.DebugLevel)
	return NewSQLLogger(zap.New(core), cfg), recorded
}

func statement(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestSQLLogger_Trace(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SQLLogConfig
		age     time.Duration
		err     error
		level   zapcore.Level
		message string
	}{
		{
			name:    "failure",
			cfg:     SQLLogConfig{Level: "error"},
			err:     errors.New("relation sales does not exist"),
			level:   zapcore.ErrorLevel,
			message: "Statement failed",
		},
		{
			name:    "serialization abort is a warning",
			cfg:     SQLLogConfig{Level: "error"},
			err:     errors.New("ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)"),
			level:   zapcore.WarnLevel,
			message: "Statement aborted by serialization check",
		},
		{
			name:    "not found reported on request",
			cfg:     SQLLogConfig{Level: "warn", LogNotFound: true},
			err:     gormlogger.ErrRecordNotFound,
			level:   zapcore.ErrorLevel,
			message: "Statement failed",
		},
		{
			name:    "slow statement",
			cfg:     SQLLogConfig{Level: "warn", SlowThreshold: time.Millisecond},
			age:     time.Second,
			level:   zapcore.WarnLevel,
			message: "Slow statement",
		},
		{
			name:    "every statement at debug",
			cfg:     SQLLogConfig{Level: "debug"},
			level:   zapcore.DebugLevel,
			message: "Statement executed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, recorded := newObservedSQLLogger(tt.cfg)
			l.Trace(context.Background(), time.Now().Add(-tt.age), statement("SELECT * FROM sales", 3), tt.err)

			logs := recorded.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
			assert.Equal(t, tt.message, logs[0].Message)
			assert.Equal(t, "SELECT * FROM sales", logs[0].ContextMap()["statement"])
			assert.EqualValues(t, 3, logs[0].ContextMap()["rows"])
		})
	}
}

func TestSQLLogger_TraceQuiet(t *testing.T) {
	tests := []struct {
		name string
		cfg  SQLLogConfig
		age  time.Duration
		err  error
	}{
		{"silent drops failures", SQLLogConfig{Level: "silent"}, 0, errors.New("boom")},
		{"missing rows dropped by default", SQLLogConfig{Level: "info"}, 0, gormlogger.ErrRecordNotFound},
		{"fast statement below info", SQLLogConfig{Level: "warn", SlowThreshold: time.Minute}, 0, nil},
		{"slow statement at error level", SQLLogConfig{Level: "error", SlowThreshold: time.Millisecond}, time.Second, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, recorded := newObservedSQLLogger(tt.cfg)
			called := false
			l.Trace(context.Background(), time.Now().Add(-tt.age), func() (string, int64) {
				called = true
				return "SELECT 1", 1
			}, tt.err)
			assert.Empty(t, recorded.All())
			assert.False(t, called, "statement text is only built when logged")
		})
	}
}

func TestSQLLogger_ContextFields(t *testing.T) {
	l, recorded := newObservedSQLLogger(SQLLogConfig{Level: "info"})

	ctx := context.WithValue(context.Background(), CorrelationIDKey, "corr-42")
	ctx = context.WithValue(ctx, TenantIDKey, "tenant-42")
	ctx = context.WithValue(ctx, ActorIDKey, "actor-7")
	l.Trace(ctx, time.Now(), statement(`SELECT * FROM "sales" WHERE id = $1 FOR UPDATE`, 1), nil)
	l.Warn(ctx, "pool exhausted after %d waits", 3)

	logs := recorded.All()
	require.Len(t, logs, 2)
	fields := logs[0].ContextMap()
	assert.Equal(t, "corr-42", fields["correlation_id"])
	assert.Equal(t, "tenant-42", fields["tenant_id"])
	assert.Equal(t, "actor-7", fields["actor_id"])
	assert.Equal(t, "LOCK", fields["verb"])

	assert.Equal(t, "pool exhausted after 3 waits", logs[1].Message)
	assert.Equal(t, "tenant-42", logs[1].ContextMap()["tenant_id"])
}

func TestSQLLogger_LogMode(t *testing.T) {
	l, recorded := newObservedSQLLogger(SQLLogConfig{Level: "info"})
	quiet := l.LogMode(gormlogger.Silent)

	quiet.Info(context.Background(), "hidden")
	assert.Empty(t, recorded.All())
	l.Info(context.Background(), "shown %s", "here")
	require.Len(t, recorded.All(), 1)
	assert.Equal(t, gormlogger.Info, l.level, "LogMode returns a copy")
}

func TestParseSQLLevel(t *testing.T) {
	tests := []struct {
		level string
		want  gormlogger.LogLevel
	}{
		{"silent", gormlogger.Silent},
		{"ERROR", gormlogger.Error},
		{"warn", gormlogger.Warn},
		{"info", gormlogger.Info},
		{" debug ", gormlogger.Info},
		{"", gormlogger.Warn},
		{"verbose", gormlogger.Warn},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSQLLevel(tt.level))
		})
	}
}

func TestStatementVerb(t *testing.T) {
	assert.Equal(t, "INSERT", statementVerb(`insert into "payments" values ($1)`))
	assert.Equal(t, "LOCK", statementVerb(`SELECT * FROM customers WHERE id = $1 FOR UPDATE`))
	assert.Equal(t, "SELECT", statementVerb(`SELECT count(*) FROM sales`))
	assert.Empty(t, statementVerb("  "))
}
