package config

import (
	"fmt"
	"time"

	infraconfig "github.com/jonesrussell/north-cloud/serp-tracker/internal/infrastructure/config"
)

// Default configuration values.
const (
	defaultServiceName  = "serp-tracker"
	defaultServicePort  = 8094
	defaultVersion      = "0.1.0"
	defaultLoggingLevel = "info"
	defaultLoggingFmt   = "json"

	defaultStorageDriver   = DriverMemory
	defaultBadgerPath      = "data/badger"
	defaultRedisAddr       = "localhost:6379"
	defaultDBHost          = "localhost"
	defaultDBPort          = 5432
	defaultDBName          = "serp_tracker"
	defaultDBUser          = "postgres"
	defaultDBSSLMode       = "disable"
	defaultCompletedMax    = 50
	defaultBackendBaseURL  = "http://localhost:8080/api"
	defaultBackendTimeout  = 10 * time.Second
	defaultMaxRetries      = 3
	defaultInitialBackoff  = 500 * time.Millisecond
	defaultMaxBackoff      = 5 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second

	defaultQueueSize      = 1000
	defaultSyncWorkers    = 4
	defaultResyncInterval = time.Minute

	defaultParticipantID = "anonymous"
	defaultRunID         = "default"

	defaultMaxEventsPerMinute = 120
	defaultWindowSeconds      = 60
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Storage   StorageConfig   `yaml:"storage"`
	Backend   BackendConfig   `yaml:"backend"`
	Sync      SyncConfig      `yaml:"sync"`
	Identity  IdentityConfig  `yaml:"identity"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Port        int      `env:"SERP_TRACKER_PORT"         yaml:"port"`
	Debug       bool     `env:"APP_DEBUG"                 yaml:"debug"`
	CORSOrigins []string `env:"SERP_TRACKER_CORS_ORIGINS" yaml:"cors_origins"`
}

// StorageConfig selects and configures the local state driver.
type StorageConfig struct {
	Driver       string         `env:"SERP_TRACKER_STORAGE" yaml:"driver"`
	CompletedMax int            `yaml:"completed_max"`
	Badger       BadgerConfig   `yaml:"badger"`
	Redis        RedisConfig    `yaml:"redis"`
	Postgres     DatabaseConfig `yaml:"postgres"`
}

// BadgerConfig holds the embedded BadgerDB settings.
type BadgerConfig struct {
	Path     string `env:"SERP_TRACKER_BADGER_PATH" yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host     string `env:"POSTGRES_SERP_TRACKER_HOST"     yaml:"host"`
	Port     int    `env:"POSTGRES_SERP_TRACKER_PORT"     yaml:"port"`
	User     string `env:"POSTGRES_SERP_TRACKER_USER"     yaml:"user"`
	Password string `env:"POSTGRES_SERP_TRACKER_PASSWORD" yaml:"password"`
	Database string `env:"POSTGRES_SERP_TRACKER_DB"       yaml:"database"`
	SSLMode  string `env:"POSTGRES_SERP_TRACKER_SSLMODE"  yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// BackendConfig configures the task-records API client.
type BackendConfig struct {
	BaseURL         string        `env:"SERP_TRACKER_BACKEND_URL" yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// SyncConfig configures the background sync queue.
type SyncConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	Workers        int           `yaml:"workers"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

// IdentityConfig holds identity resolution defaults.
type IdentityConfig struct {
	DefaultParticipantID string   `yaml:"default_participant_id"`
	DefaultRunID         string   `yaml:"default_run_id"`
	ProductTopics        []string `yaml:"product_topics"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	MaxEventsPerMinute int `yaml:"max_events_per_minute"`
	WindowSeconds      int `yaml:"window_seconds"`
}

// AdminConfig gates destructive operator routes. Off unless enabled.
type AdminConfig struct {
	ClearEnabled bool `env:"SERP_TRACKER_ADMIN_CLEAR_ENABLED" yaml:"clear_enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from the specified path.
func Load(path string) (*Config, error) {
	return infraconfig.LoadWithDefaults[Config](path, setDefaults)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setStorageDefaults(&cfg.Storage)
	setBackendDefaults(&cfg.Backend)
	setSyncDefaults(&cfg.Sync)
	setIdentityDefaults(&cfg.Identity)
	setRateLimitDefaults(&cfg.RateLimit)
	setLoggingDefaults(&cfg.Logging)
}

func setServiceDefaults(svc *ServiceConfig) {
	if svc.Name == "" {
		svc.Name = defaultServiceName
	}
	if svc.Version == "" {
		svc.Version = defaultVersion
	}
	if svc.Port == 0 {
		svc.Port = defaultServicePort
	}
}

func setStorageDefaults(s *StorageConfig) {
	if s.Driver == "" {
		s.Driver = defaultStorageDriver
	}
	if s.CompletedMax == 0 {
		s.CompletedMax = defaultCompletedMax
	}
	if s.Badger.Path == "" {
		s.Badger.Path = defaultBadgerPath
	}
	if s.Redis.Address == "" {
		s.Redis.Address = defaultRedisAddr
	}

	db := &s.Postgres
	if db.Host == "" {
		db.Host = defaultDBHost
	}
	if db.Port == 0 {
		db.Port = defaultDBPort
	}
	if db.User == "" {
		db.User = defaultDBUser
	}
	if db.Database == "" {
		db.Database = defaultDBName
	}
	if db.SSLMode == "" {
		db.SSLMode = defaultDBSSLMode
	}
}

func setBackendDefaults(b *BackendConfig) {
	if b.BaseURL == "" {
		b.BaseURL = defaultBackendBaseURL
	}
	if b.Timeout == 0 {
		b.Timeout = defaultBackendTimeout
	}
	if b.MaxRetries == 0 {
		b.MaxRetries = defaultMaxRetries
	}
	if b.InitialBackoff == 0 {
		b.InitialBackoff = defaultInitialBackoff
	}
	if b.MaxBackoff == 0 {
		b.MaxBackoff = defaultMaxBackoff
	}
	if b.BreakerFailures == 0 {
		b.BreakerFailures = defaultBreakerFailures
	}
	if b.BreakerTimeout == 0 {
		b.BreakerTimeout = defaultBreakerTimeout
	}
}

func setSyncDefaults(s *SyncConfig) {
	if s.QueueSize == 0 {
		s.QueueSize = defaultQueueSize
	}
	if s.Workers == 0 {
		s.Workers = defaultSyncWorkers
	}
	if s.ResyncInterval == 0 {
		s.ResyncInterval = defaultResyncInterval
	}
}

func setIdentityDefaults(id *IdentityConfig) {
	if id.DefaultParticipantID == "" {
		id.DefaultParticipantID = defaultParticipantID
	}
	if id.DefaultRunID == "" {
		id.DefaultRunID = defaultRunID
	}
	if len(id.ProductTopics) == 0 {
		id.ProductTopics = []string{"Laptop", "Phone", "Car-vehicle"}
	}
}

func setRateLimitDefaults(rl *RateLimitConfig) {
	if rl.MaxEventsPerMinute == 0 {
		rl.MaxEventsPerMinute = defaultMaxEventsPerMinute
	}
	if rl.WindowSeconds == 0 {
		rl.WindowSeconds = defaultWindowSeconds
	}
}

func setLoggingDefaults(log *LoggingConfig) {
	if log.Level == "" {
		log.Level = defaultLoggingLevel
	}
	if log.Format == "" {
		log.Format = defaultLoggingFmt
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := infraconfig.ValidatePort("service.port", c.Service.Port); err != nil {
		return err
	}
	if err := infraconfig.ValidateOneOf("storage.driver", c.Storage.Driver,
		DriverMemory, DriverBadger, DriverRedis, DriverPostgres); err != nil {
		return err
	}
	if err := infraconfig.ValidateURL("backend.base_url", c.Backend.BaseURL); err != nil {
		return err
	}
	if c.Backend.MaxRetries < 0 {
		return &infraconfig.ValidationError{Field: "backend.max_retries", Message: "must not be negative"}
	}
	if c.Sync.Workers < 1 {
		return &infraconfig.ValidationError{Field: "sync.workers", Message: "must be at least 1"}
	}
	return infraconfig.ValidateLogLevel("logging.level", c.Logging.Level)
}
