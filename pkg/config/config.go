package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/rampart/pkg/archive"
	"github.com/platinummonkey/rampart/pkg/audit"
	"github.com/platinummonkey/rampart/pkg/database"
	"github.com/platinummonkey/rampart/pkg/hierarchy"
	"github.com/platinummonkey/rampart/pkg/observability"
	"github.com/platinummonkey/rampart/pkg/rbac"
	"github.com/platinummonkey/rampart/pkg/webhooks"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	RBAC          RBACConfig
	Security      SecurityConfig
	Audit         AuditConfig
	Webhooks      WebhookConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig selects and tunes the SQL backend
type DatabaseConfig struct {
	URL         string
	Driver      string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	AutoMigrate bool
}

// RedisConfig enables the shared container cache and rate limiter.
// An empty URL disables Redis.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// RBACConfig tunes the authorization engine
type RBACConfig struct {
	Guard           string
	RootRole        string
	Kinds           []hierarchy.Kind
	CacheSize       int
	CacheTTL        time.Duration
	PurgeSchedule   string
	PurgeGrace      time.Duration
	AdminPermission string
	SeedFile        string
	WatchSeed       bool
}

// SecurityConfig controls how callers are identified and throttled
type SecurityConfig struct {
	PrincipalHeader    string
	ProxySecret        string
	AllowAnonymous     bool
	RateLimitPerMinute int
	RateLimitBurst     int
}

// AuditConfig controls the grant and revoke trail. Events always go to
// the database when enabled; Dir adds a rotated JSON lines copy.
type AuditConfig struct {
	Enabled     bool
	Dir         string
	MaxFileSize int64
	MaxFiles    int

	// Archive* copy rotated files to S3 when ArchiveBucket is set
	ArchiveBucket      string
	ArchiveRegion      string
	ArchiveEndpoint    string
	ArchiveAccessKey   string
	ArchiveSecretKey   string
	ArchivePrefix      string
	ArchivePathStyle   bool
	ArchiveRemoveLocal bool
}

// WebhookConfig controls grant notifications to external subscribers
type WebhookConfig struct {
	Enabled       bool
	Workers       int
	Timeout       time.Duration
	RatePerMinute int
	RetryInterval time.Duration
	MaxAttempts   int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from RAMPART_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		RBAC:          loadRBACConfig(),
		Security:      loadSecurityConfig(),
		Audit:         loadAuditConfig(),
		Webhooks:      loadWebhookConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("RAMPART_HOST", "0.0.0.0"),
		Port:            getEnv("RAMPART_PORT", "8080"),
		ReadTimeout:     getEnvDuration("RAMPART_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("RAMPART_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("RAMPART_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("RAMPART_SHUTDOWN_TIMEOUT", observability.DefaultShutdownTimeout),
		MaxBodyBytes:    getEnvInt64("RAMPART_MAX_BODY_BYTES", 1<<20),
		CORSOrigins:     getEnvList("RAMPART_CORS_ORIGINS"),
		HealthPort:      getEnv("RAMPART_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("RAMPART_DATABASE_URL", "rampart.db"),
		Driver:      getEnv("RAMPART_DATABASE_DRIVER", ""),
		MaxConns:    getEnvInt("RAMPART_DATABASE_MAX_CONNS", 20),
		MinConns:    getEnvInt("RAMPART_DATABASE_MIN_CONNS", 2),
		Timeout:     getEnvDuration("RAMPART_DATABASE_TIMEOUT", 5*time.Second),
		AutoMigrate: getEnvBool("RAMPART_DATABASE_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("RAMPART_REDIS_URL", ""),
		Password:   getEnv("RAMPART_REDIS_PASSWORD", ""),
		DB:         getEnvInt("RAMPART_REDIS_DB", 0),
		PoolSize:   getEnvInt("RAMPART_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("RAMPART_REDIS_MAX_RETRIES", 3),
	}
}

func loadRBACConfig() RBACConfig {
	defaults := rbac.DefaultConfig()

	kinds := defaults.Kinds
	if names := getEnvList("RAMPART_CONTAINER_KINDS"); len(names) > 0 {
		kinds = make([]hierarchy.Kind, len(names))
		for i, name := range names {
			kinds[i] = hierarchy.Kind(name)
		}
	}

	return RBACConfig{
		Guard:           getEnv("RAMPART_GUARD", defaults.Guard),
		RootRole:        getEnv("RAMPART_ROOT_ROLE", defaults.RootRole),
		Kinds:           kinds,
		CacheSize:       getEnvInt("RAMPART_CACHE_SIZE", defaults.CacheSize),
		CacheTTL:        getEnvDuration("RAMPART_CACHE_TTL", defaults.CacheTTL),
		PurgeSchedule:   getEnv("RAMPART_PURGE_SCHEDULE", defaults.PurgeSchedule),
		PurgeGrace:      getEnvDuration("RAMPART_PURGE_GRACE", defaults.PurgeGrace),
		AdminPermission: getEnv("RAMPART_ADMIN_PERMISSION", "manage-rbac"),
		SeedFile:        getEnv("RAMPART_SEED_FILE", ""),
		WatchSeed:       getEnvBool("RAMPART_WATCH_SEED", false),
	}
}

func loadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		PrincipalHeader:    getEnv("RAMPART_PRINCIPAL_HEADER", "X-Principal"),
		ProxySecret:        getEnv("RAMPART_PROXY_SECRET", ""),
		AllowAnonymous:     getEnvBool("RAMPART_ALLOW_ANONYMOUS", false),
		RateLimitPerMinute: getEnvInt("RAMPART_RATE_LIMIT_PER_MINUTE", 6000),
		RateLimitBurst:     getEnvInt("RAMPART_RATE_LIMIT_BURST", 200),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:     getEnvBool("RAMPART_AUDIT_ENABLED", true),
		Dir:         getEnv("RAMPART_AUDIT_DIR", ""),
		MaxFileSize: getEnvInt64("RAMPART_AUDIT_MAX_FILE_SIZE", 100<<20),
		MaxFiles:    getEnvInt("RAMPART_AUDIT_MAX_FILES", 10),

		ArchiveBucket:      getEnv("RAMPART_AUDIT_S3_BUCKET", ""),
		ArchiveRegion:      getEnv("RAMPART_AUDIT_S3_REGION", "us-east-1"),
		ArchiveEndpoint:    getEnv("RAMPART_AUDIT_S3_ENDPOINT", ""),
		ArchiveAccessKey:   getEnv("RAMPART_AUDIT_S3_ACCESS_KEY", ""),
		ArchiveSecretKey:   getEnv("RAMPART_AUDIT_S3_SECRET_KEY", ""),
		ArchivePrefix:      getEnv("RAMPART_AUDIT_S3_PREFIX", "audit"),
		ArchivePathStyle:   getEnvBool("RAMPART_AUDIT_S3_PATH_STYLE", false),
		ArchiveRemoveLocal: getEnvBool("RAMPART_AUDIT_S3_REMOVE_LOCAL", false),
	}
}

func loadWebhookConfig() WebhookConfig {
	defaults := webhooks.DefaultConfig()
	return WebhookConfig{
		Enabled:       getEnvBool("RAMPART_WEBHOOKS_ENABLED", false),
		Workers:       getEnvInt("RAMPART_WEBHOOK_WORKERS", defaults.Workers),
		Timeout:       getEnvDuration("RAMPART_WEBHOOK_TIMEOUT", defaults.Timeout),
		RatePerMinute: getEnvInt("RAMPART_WEBHOOK_RATE_PER_MINUTE", defaults.RatePerMinute),
		RetryInterval: getEnvDuration("RAMPART_WEBHOOK_RETRY_INTERVAL", defaults.RetryInterval),
		MaxAttempts:   getEnvInt("RAMPART_WEBHOOK_MAX_ATTEMPTS", defaults.Retry.MaxAttempts),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("RAMPART_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("RAMPART_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("RAMPART_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("RAMPART_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("RAMPART_OTEL_SERVICE_NAME", "rampart"),
		OTelServiceVersion: getEnv("RAMPART_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("RAMPART_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("RAMPART_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	switch driver := c.databaseDriver(); driver {
	case database.DriverPostgres, database.DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %q (must be %s or %s)", driver, database.DriverPostgres, database.DriverSQLite)
	}

	if c.Redis.URL != "" {
		if _, err := redis.ParseURL(c.Redis.URL); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
	}

	for _, kind := range c.RBAC.Kinds {
		if err := kind.Validate(); err != nil {
			return err
		}
	}
	if c.RBAC.CacheSize < 0 {
		return fmt.Errorf("cache size must not be negative")
	}
	if c.RBAC.PurgeGrace < 0 {
		return fmt.Errorf("purge grace must not be negative")
	}

	if c.Security.RateLimitPerMinute < 0 || c.Security.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	if c.Audit.MaxFileSize < 0 || c.Audit.MaxFiles < 0 {
		return fmt.Errorf("audit file limits must not be negative")
	}
	if c.Audit.ArchiveBucket != "" && c.Audit.Dir == "" {
		return fmt.Errorf("audit archiving requires RAMPART_AUDIT_DIR")
	}

	if c.Webhooks.Enabled {
		if !c.Audit.Enabled {
			return fmt.Errorf("webhooks require the audit trail to be enabled")
		}
		if c.Webhooks.Workers <= 0 {
			return fmt.Errorf("webhook workers must be positive")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be within [0, 1]")
	}

	return nil
}

// Warnings lists settings that pass Validate but leave the API exposed
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Security.ProxySecret == "" {
		who := "any client that reaches the API port can claim any principal with the " + c.Security.PrincipalHeader + " header"
		if c.Security.AllowAnonymous {
			who = "any client that reaches the API port can act anonymously or as any principal"
		}
		warnings = append(warnings, "RAMPART_PROXY_SECRET is empty: "+who)
	}
	return warnings
}

func (c *Config) databaseDriver() string {
	if c.Database.Driver != "" {
		return c.Database.Driver
	}
	return database.DriverFor(c.Database.URL)
}

// DatabaseOptions returns the connection settings for database.Open
func (c *Config) DatabaseOptions() database.Config {
	return database.Config{
		Driver:   c.databaseDriver(),
		URL:      c.Database.URL,
		MaxConns: c.Database.MaxConns,
		MinConns: c.Database.MinConns,
		Timeout:  c.Database.Timeout,
	}
}

// RedisOptions returns client options, or nil when Redis is disabled
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.Redis.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, err
	}
	if c.Redis.Password != "" {
		opts.Password = c.Redis.Password
	}
	if c.Redis.DB != 0 {
		opts.DB = c.Redis.DB
	}
	opts.PoolSize = c.Redis.PoolSize
	opts.MaxRetries = c.Redis.MaxRetries
	return opts, nil
}

// EngineConfig returns the authorization engine configuration
func (c *Config) EngineConfig() rbac.Config {
	return rbac.Config{
		Guard:         c.RBAC.Guard,
		RootRole:      c.RBAC.RootRole,
		Kinds:         c.RBAC.Kinds,
		CacheSize:     c.RBAC.CacheSize,
		CacheTTL:      c.RBAC.CacheTTL,
		PurgeSchedule: c.RBAC.PurgeSchedule,
		PurgeGrace:    c.RBAC.PurgeGrace,
	}
}

// AuditFileOptions returns the file sink settings, or nil when no
// directory is configured
func (c *Config) AuditFileOptions() *audit.FileLoggerConfig {
	if !c.Audit.Enabled || c.Audit.Dir == "" {
		return nil
	}
	return &audit.FileLoggerConfig{
		Dir:      c.Audit.Dir,
		MaxSize:  c.Audit.MaxFileSize,
		MaxFiles: c.Audit.MaxFiles,
	}
}

// AuditArchiveOptions returns the S3 archive settings, or nil when
// rotated files stay local
func (c *Config) AuditArchiveOptions() *archive.Config {
	if c.AuditFileOptions() == nil || c.Audit.ArchiveBucket == "" {
		return nil
	}
	return &archive.Config{
		Bucket:       c.Audit.ArchiveBucket,
		Region:       c.Audit.ArchiveRegion,
		Endpoint:     c.Audit.ArchiveEndpoint,
		AccessKey:    c.Audit.ArchiveAccessKey,
		SecretKey:    c.Audit.ArchiveSecretKey,
		Prefix:       c.Audit.ArchivePrefix,
		UsePathStyle: c.Audit.ArchivePathStyle,
		RemoveLocal:  c.Audit.ArchiveRemoveLocal,
		Workers:      1,
	}
}

// WebhookOptions returns the delivery settings for webhooks.NewDispatcher
func (c *Config) WebhookOptions() webhooks.Config {
	cfg := webhooks.DefaultConfig()
	cfg.Workers = c.Webhooks.Workers
	cfg.Timeout = c.Webhooks.Timeout
	cfg.RatePerMinute = c.Webhooks.RatePerMinute
	cfg.RetryInterval = c.Webhooks.RetryInterval
	cfg.Retry.MaxAttempts = c.Webhooks.MaxAttempts
	return cfg
}

// OTelConfig returns the tracing and metrics exporter configuration
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
