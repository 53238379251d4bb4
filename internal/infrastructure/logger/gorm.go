package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// SQLLogConfig tunes how database statements are logged
type SQLLogConfig struct {
	// Level is silent, error, warn or info; anything else means warn
	Level         string
	SlowThreshold time.Duration
	// LogNotFound reports lookups that matched no row. Sale and customer
	// lookups miss routinely, so they are dropped by default.
	LogNotFound bool
}

// SQLLogger routes gorm's statement log into zap. Each line carries the
// correlation, tenant and actor of the operation that issued the statement.
type SQLLogger struct {
	log         *zap.Logger
	level       gormlogger.LogLevel
	slow        time.Duration
	logNotFound bool
}

// NewSQLLogger builds a gorm logger on top of base
func NewSQLLogger(base *zap.Logger, cfg SQLLogConfig) *SQLLogger {
	return &SQLLogger{
		log:         base.Named("sql"),
		level:       ParseSQLLevel(cfg.Level),
		slow:        cfg.SlowThreshold,
		logNotFound: cfg.LogNotFound,
	}
}

// ParseSQLLevel maps an application log level onto gorm's coarser scale.
// Debug logging shows every statement.
func ParseSQLLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	}
	return gormlogger.Warn
}

func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.Sugar().With(contextFields(ctx)...).Infof(msg, data...)
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Sugar().With(contextFields(ctx)...).Warnf(msg, data...)
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.Sugar().With(contextFields(ctx)...).Errorf(msg, data...)
	}
}

// Trace logs one executed statement. Failures log at error, except
// serialization aborts, which callers surface as concurrency conflicts.
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if !l.logNotFound && errors.Is(err, gormlogger.ErrRecordNotFound) {
		return
	}
	elapsed := time.Since(begin)
	slow := l.slow > 0 && elapsed > l.slow

	switch {
	case err != nil && l.level >= gormlogger.Error:
	case slow && l.level >= gormlogger.Warn:
	case l.level >= gormlogger.Info:
	default:
		return
	}

	statement, rows := fc()
	log := l.log.With(
		zap.String("statement", statement),
		zap.String("verb", statementVerb(statement)),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	).With(contextZapFields(ctx)...)

	switch {
	case err != nil && strings.Contains(err.Error(), "could not serialize access"):
		log.Warn("Statement aborted by serialization check", zap.Error(err))
	case err != nil:
		log.Error("Statement failed", zap.Error(err))
	case slow:
		log.Warn("Slow statement", zap.Duration("threshold", l.slow))
	default:
		log.Debug("Statement executed")
	}
}

// statementVerb is the leading keyword, with FOR UPDATE selects reported as LOCK
func statementVerb(statement string) string {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return ""
	}
	verb := strings.ToUpper(fields[0])
	if verb == "SELECT" && strings.Contains(strings.ToUpper(statement), "FOR UPDATE") {
		return "LOCK"
	}
	return verb
}

func contextZapFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id := GetCorrelationID(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}
	if id := GetTenantID(ctx); id != "" {
		fields = append(fields, zap.String("tenant_id", id))
	}
	if id := GetActorID(ctx); id != "" {
		fields = append(fields, zap.String("actor_id", id))
	}
	return fields
}

func contextFields(ctx context.Context) []any {
	zf := contextZapFields(ctx)
	out := make([]any, len(zf))
	for i := range zf {
		out[i] = zf[i]
	}
	return out
}

var _ gormlogger.Interface = (*SQLLogger)(nil)
