package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Event     EventConfig
	Invoice   InvoiceConfig
	Storage   StorageConfig
	Printing  PrintingConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	// Isolation is the PostgreSQL transaction isolation: read_committed, repeatable_read or serializable
	Isolation string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port for the redis client.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// EventConfig holds event processing configuration
type EventConfig struct {
	ProcessorEnabled bool
	BatchSize        int
	PollInterval     time.Duration
	MaxRetries       int
	CleanupEnabled   bool
	CleanupRetention time.Duration
	IdempotencyTTL   time.Duration
}

// InvoiceConfig holds invoice numbering, locking and reconciliation settings
type InvoiceConfig struct {
	NumberFloor             int64
	NumberWidth             int
	NumberPrefix            string
	EditLockHours           int
	RecentEditWindow        time.Duration
	NumberingMaxAttempts    int
	NumberingInitialBackoff time.Duration
	NumberingMaxBackoff     time.Duration
	LockBackend             string // auto, postgres, redis, local
	AdvisoryLockBase        int64
	RedisLockTTL            time.Duration
	ReconcileInterval       time.Duration
	ReconcileTenants        []string
	ReconcileWorkers        int
	ReconcileJobTimeout     time.Duration
	ReconcileRetries        int
	ReconcileRetryDelay     time.Duration
}

// EditLockWindow returns the age after which a finalized sale becomes read-only.
func (i *InvoiceConfig) EditLockWindow() time.Duration {
	return time.Duration(i.EditLockHours) * time.Hour
}

// StorageConfig holds S3-compatible object storage settings
type StorageConfig struct {
	Enabled           bool
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	UsePathStyle      bool
	Prefix            string
	PresignExpiration time.Duration
}

// PrintingConfig holds invoice document rendering settings
type PrintingConfig struct {
	Format         string // json, html, pdf
	Company        string
	CurrencySymbol string
	DateLayout     string
	TemplatePath   string
	PaperSize      string
	ChromeURL      string // remote Chrome DevTools endpoint; empty launches a local browser
	NoSandbox      bool
	Timeout        time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool   // Whether to enable OpenTelemetry
	CollectorEndpoint string // OTEL Collector endpoint (e.g., "localhost:4317")
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	ExportInterval    time.Duration
	SamplingRatio     float64
	DBTraceEnabled    bool // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool
	SlowQueryThresh   time.Duration
}

var validPrintFormats = map[string]bool{"json": true, "html": true, "pdf": true}

var validLockBackends = map[string]bool{
	"auto":     true,
	"postgres": true,
	"redis":    true,
	"local":    true,
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ERP_ prefix (e.g., ERP_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			Isolation:       v.GetString("database.isolation"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Event: EventConfig{
			ProcessorEnabled: v.GetBool("event.processor_enabled"),
			BatchSize:        v.GetInt("event.batch_size"),
			PollInterval:     v.GetDuration("event.poll_interval"),
			MaxRetries:       v.GetInt("event.max_retries"),
			CleanupEnabled:   v.GetBool("event.cleanup_enabled"),
			CleanupRetention: v.GetDuration("event.cleanup_retention"),
			IdempotencyTTL:   v.GetDuration("event.idempotency_ttl"),
		},
		Invoice: InvoiceConfig{
			NumberFloor:             v.GetInt64("invoice.number_floor"),
			NumberWidth:             v.GetInt("invoice.number_width"),
			NumberPrefix:            v.GetString("invoice.number_prefix"),
			EditLockHours:           v.GetInt("invoice.edit_lock_hours"),
			RecentEditWindow:        v.GetDuration("invoice.recent_edit_window"),
			NumberingMaxAttempts:    v.GetInt("invoice.numbering_max_attempts"),
			NumberingInitialBackoff: v.GetDuration("invoice.numbering_initial_backoff"),
			NumberingMaxBackoff:     v.GetDuration("invoice.numbering_max_backoff"),
			LockBackend:             v.GetString("invoice.lock_backend"),
			AdvisoryLockBase:        v.GetInt64("invoice.advisory_lock_base"),
			RedisLockTTL:            v.GetDuration("invoice.redis_lock_ttl"),
			ReconcileInterval:       v.GetDuration("invoice.reconcile_interval"),
			ReconcileTenants:        v.GetStringSlice("invoice.reconcile_tenants"),
			ReconcileWorkers:        v.GetInt("invoice.reconcile_workers"),
			ReconcileJobTimeout:     v.GetDuration("invoice.reconcile_job_timeout"),
			ReconcileRetries:        v.GetInt("invoice.reconcile_retries"),
			ReconcileRetryDelay:     v.GetDuration("invoice.reconcile_retry_delay"),
		},
		Storage: StorageConfig{
			Enabled:           v.GetBool("storage.enabled"),
			Endpoint:          v.GetString("storage.endpoint"),
			Region:            v.GetString("storage.region"),
			Bucket:            v.GetString("storage.bucket"),
			AccessKey:         v.GetString("storage.access_key"),
			SecretKey:         v.GetString("storage.secret_key"),
			UseSSL:            v.GetBool("storage.use_ssl"),
			UsePathStyle:      v.GetBool("storage.use_path_style"),
			Prefix:            v.GetString("storage.prefix"),
			PresignExpiration: v.GetDuration("storage.presign_expiration"),
		},
		Printing: PrintingConfig{
			Format:         v.GetString("printing.format"),
			Company:        v.GetString("printing.company"),
			CurrencySymbol: v.GetString("printing.currency_symbol"),
			DateLayout:     v.GetString("printing.date_layout"),
			TemplatePath:   v.GetString("printing.template_path"),
			PaperSize:      v.GetString("printing.paper_size"),
			ChromeURL:      v.GetString("printing.chrome_url"),
			NoSandbox:      v.GetBool("printing.no_sandbox"),
			Timeout:        v.GetDuration("printing.timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			SlowQueryThresh:   v.GetDuration("telemetry.slow_query_threshold"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "erp-invoicing"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "erp"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "invoicing.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.Isolation == "" {
		cfg.Database.Isolation = "read_committed"
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Event.BatchSize == 0 {
		cfg.Event.BatchSize = 100
	}
	if cfg.Event.PollInterval == 0 {
		cfg.Event.PollInterval = 5 * time.Second
	}
	if cfg.Event.MaxRetries == 0 {
		cfg.Event.MaxRetries = 5
	}
	if cfg.Event.CleanupRetention == 0 {
		cfg.Event.CleanupRetention = 168 * time.Hour
	}
	if cfg.Event.IdempotencyTTL == 0 {
		cfg.Event.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Invoice.NumberFloor == 0 {
		cfg.Invoice.NumberFloor = 1000
	}
	if cfg.Invoice.NumberWidth == 0 {
		cfg.Invoice.NumberWidth = 4
	}
	if cfg.Invoice.EditLockHours == 0 {
		cfg.Invoice.EditLockHours = 24
	}
	if cfg.Invoice.RecentEditWindow == 0 {
		cfg.Invoice.RecentEditWindow = 30 * time.Second
	}
	if cfg.Invoice.NumberingMaxAttempts == 0 {
		cfg.Invoice.NumberingMaxAttempts = 5
	}
	if cfg.Invoice.NumberingInitialBackoff == 0 {
		cfg.Invoice.NumberingInitialBackoff = 50 * time.Millisecond
	}
	if cfg.Invoice.NumberingMaxBackoff == 0 {
		cfg.Invoice.NumberingMaxBackoff = time.Second
	}
	if cfg.Invoice.LockBackend == "" {
		cfg.Invoice.LockBackend = "auto"
	}
	if cfg.Invoice.AdvisoryLockBase == 0 {
		cfg.Invoice.AdvisoryLockBase = 7_340_000_000
	}
	if cfg.Invoice.RedisLockTTL == 0 {
		cfg.Invoice.RedisLockTTL = 10 * time.Second
	}
	if cfg.Invoice.ReconcileInterval == 0 {
		cfg.Invoice.ReconcileInterval = time.Hour
	}
	if cfg.Invoice.ReconcileWorkers == 0 {
		cfg.Invoice.ReconcileWorkers = 2
	}
	if cfg.Invoice.ReconcileJobTimeout == 0 {
		cfg.Invoice.ReconcileJobTimeout = 10 * time.Minute
	}
	if cfg.Invoice.ReconcileRetryDelay == 0 {
		cfg.Invoice.ReconcileRetryDelay = time.Minute
	}
	if cfg.Printing.Format == "" {
		cfg.Printing.Format = "json"
	}
	if cfg.Printing.Timeout == 0 {
		cfg.Printing.Timeout = 30 * time.Second
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "erp-invoices"
	}
	if cfg.Storage.PresignExpiration == 0 {
		cfg.Storage.PresignExpiration = 15 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "erp-invoicing"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.SlowQueryThresh == 0 {
		cfg.Telemetry.SlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	switch c.Database.Isolation {
	case "", "read_committed", "repeatable_read", "serializable":
	default:
		return fmt.Errorf("database.isolation must be read_committed, repeatable_read or serializable, got %q",
			c.Database.Isolation)
	}

	if c.Invoice.NumberFloor < 1 {
		return fmt.Errorf("invoice.number_floor must be positive")
	}
	if c.Invoice.NumberWidth < 1 || c.Invoice.NumberWidth > 18 {
		return fmt.Errorf("invoice.number_width must be between 1 and 18, got %d", c.Invoice.NumberWidth)
	}
	if c.Invoice.EditLockHours < 0 {
		return fmt.Errorf("invoice.edit_lock_hours cannot be negative")
	}
	if c.Invoice.NumberingMaxAttempts < 1 {
		return fmt.Errorf("invoice.numbering_max_attempts must be at least 1")
	}
	if c.Invoice.NumberingMaxBackoff < c.Invoice.NumberingInitialBackoff {
		return fmt.Errorf("invoice.numbering_max_backoff cannot be shorter than invoice.numbering_initial_backoff")
	}
	if !validLockBackends[c.Invoice.LockBackend] {
		return fmt.Errorf("invoice.lock_backend must be one of auto, postgres, redis, local, got %q", c.Invoice.LockBackend)
	}
	if c.Invoice.LockBackend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("invoice.lock_backend=redis requires redis.enabled=true")
	}
	if c.Invoice.LockBackend == "postgres" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invoice.lock_backend=postgres requires database.driver=postgres")
	}

	if c.Storage.Enabled {
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return fmt.Errorf("storage.access_key and storage.secret_key are required when storage is enabled")
		}
	}

	if !validPrintFormats[c.Printing.Format] {
		return fmt.Errorf("printing.format must be one of json, html, pdf, got %q", c.Printing.Format)
	}

	if c.App.Env == "production" {
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("database.driver must be postgres in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Invoice.LockBackend == "local" {
			return fmt.Errorf("invoice.lock_backend=local is single-process only and not allowed in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.SQLitePath
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
