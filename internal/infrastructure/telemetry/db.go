package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBInstrumentation configures query tracing and query metrics on a gorm handle.
type DBInstrumentation struct {
	TraceEnabled    bool
	LogFullSQL      bool
	DBName          string
	SlowQueryThresh time.Duration
	TracerProvider  trace.TracerProvider
	Meter           metric.Meter
	Logger          *zap.Logger
}

type queryStartKey struct{}

// dbDurationBuckets are histogram boundaries in seconds.
var dbDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

type callbackRegistrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

// Instrument registers otelgorm (when tracing is on) and the timing callbacks that
// flag slow queries on spans and feed the query histogram.
func Instrument(db *gorm.DB, cfg DBInstrumentation) error {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = 200 * time.Millisecond
	}

	if cfg.TraceEnabled {
		opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
		if cfg.TracerProvider != nil {
			opts = append(opts, otelgorm.WithTracerProvider(cfg.TracerProvider))
		}
		if !cfg.LogFullSQL {
			opts = append(opts, otelgorm.WithoutQueryVariables())
		}
		if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
			return err
		}
	}

	q, err := newQueryObserver(cfg)
	if err != nil {
		return err
	}
	if err := q.register(db); err != nil {
		return err
	}

	logger.Info("Database instrumentation registered",
		zap.Bool("tracing", cfg.TraceEnabled),
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh))
	return nil
}

type queryObserver struct {
	slow     time.Duration
	total    metric.Int64Counter
	slowHits metric.Int64Counter
	duration metric.Float64Histogram
}

func newQueryObserver(cfg DBInstrumentation) (*queryObserver, error) {
	q := &queryObserver{slow: cfg.SlowQueryThresh}
	if cfg.Meter == nil {
		return q, nil
	}
	var err error
	if q.total, err = cfg.Meter.Int64Counter("db_query_total",
		metric.WithDescription("Database queries by operation"), metric.WithUnit("{query}")); err != nil {
		return nil, instrumentErr("db_query_total", err)
	}
	if q.slowHits, err = cfg.Meter.Int64Counter("db_slow_query_total",
		metric.WithDescription("Queries slower than the configured threshold"), metric.WithUnit("{query}")); err != nil {
		return nil, instrumentErr("db_slow_query_total", err)
	}
	if q.duration, err = cfg.Meter.Float64Histogram("db_query_duration_seconds",
		metric.WithDescription("Database query latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(dbDurationBuckets...)); err != nil {
		return nil, instrumentErr("db_query_duration_seconds", err)
	}
	return q, nil
}

func (q *queryObserver) register(db *gorm.DB) error {
	cb := db.Callback()
	type hook struct {
		op     string
		gormCB string
		before func(string) callbackRegistrar
		after  func(string) callbackRegistrar
	}
	hooks := []hook{
		{"INSERT", "gorm:create", func(n string) callbackRegistrar { return cb.Create().Before(n) }, func(n string) callbackRegistrar { return cb.Create().After(n).Before(otelAfter(n)) }},
		{"SELECT", "gorm:query", func(n string) callbackRegistrar { return cb.Query().Before(n) }, func(n string) callbackRegistrar { return cb.Query().After(n).Before(otelAfter(n)) }},
		{"UPDATE", "gorm:update", func(n string) callbackRegistrar { return cb.Update().Before(n) }, func(n string) callbackRegistrar { return cb.Update().After(n).Before(otelAfter(n)) }},
		{"DELETE", "gorm:delete", func(n string) callbackRegistrar { return cb.Delete().Before(n) }, func(n string) callbackRegistrar { return cb.Delete().After(n).Before(otelAfter(n)) }},
		{"", "gorm:row", func(n string) callbackRegistrar { return cb.Row().Before(n) }, func(n string) callbackRegistrar { return cb.Row().After(n).Before(otelAfter(n)) }},
		{"", "gorm:raw", func(n string) callbackRegistrar { return cb.Raw().Before(n) }, func(n string) callbackRegistrar { return cb.Raw().After(n).Before(otelAfter(n)) }},
	}

	var errs []error
	for _, h := range hooks {
		op := h.op
		suffix := strings.TrimPrefix(h.gormCB, "gorm:")
		errs = append(errs,
			h.before(h.gormCB).Register("invoicing_db:before_"+suffix, q.before),
			h.after(h.gormCB).Register("invoicing_db:after_"+suffix, func(db *gorm.DB) { q.after(db, op) }),
		)
	}
	return errors.Join(errs...)
}

// otelAfter names otelgorm's after callback so span attributes land before the span ends.
func otelAfter(gormCB string) string {
	return "otel:after_" + strings.TrimPrefix(gormCB, "gorm:")
}

func (q *queryObserver) before(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	db.Statement.Context = context.WithValue(ctx, queryStartKey{}, time.Now())
}

func (q *queryObserver) after(db *gorm.DB, op string) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if op == "" {
		op = operationOf(db.Statement.SQL.String())
	}
	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	elapsed := time.Since(start)
	slow := elapsed > q.slow

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if db.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
		}
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, db.Error.Error())
			span.RecordError(db.Error)
		}
		if slow {
			span.SetAttributes(attribute.Bool("db.slow_query", true))
			span.AddEvent("slow_query", trace.WithAttributes(
				attribute.Int64("duration_ms", elapsed.Milliseconds()),
				attribute.Int64("threshold_ms", q.slow.Milliseconds())))
		}
	}

	if q.total == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("db.operation", op),
		attribute.String("db.table", db.Statement.Table),
		attribute.Bool("error", db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound)))
	q.total.Add(ctx, 1, attrs)
	q.duration.Record(ctx, elapsed.Seconds(), attrs)
	if slow {
		q.slowHits.Add(ctx, 1, attrs)
	}
}

func operationOf(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, op) {
			return op
		}
	}
	return "OTHER"
}
