package domain

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete ChurnGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines default backends
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`

	// Risk thresholds
	Policy PolicyConfig `json:"policy" yaml:"policy"`

	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Dashboard DashboardConfig `json:"dashboard" yaml:"dashboard"`
	Worker    WorkerConfig    `json:"worker" yaml:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	ReadTimeout    int      `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout   int      `json:"writeTimeout" yaml:"write_timeout"` // seconds
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowed_origins"`
}

// PolicyConfig holds the churn-risk thresholds.
// Zero values fall back to the built-in defaults.
type PolicyConfig struct {
	Version                         string  `json:"version" yaml:"version"`
	MonthlyRedemptionsThreshold     int64   `json:"monthlyRedemptionsThreshold" yaml:"monthly_redemptions_threshold"`
	LowActivitySubscribersThreshold int64   `json:"lowActivitySubscribersThreshold" yaml:"low_activity_subscribers_threshold"`
	LowActivityRedemptionsThreshold int64   `json:"lowActivityRedemptionsThreshold" yaml:"low_activity_redemptions_threshold"`
	SpendDropThreshold              float64 `json:"spendDropThreshold" yaml:"spend_drop_threshold"`
	RedemptionsDropThreshold        float64 `json:"redemptionsDropThreshold" yaml:"redemptions_drop_threshold"`
	MinElapsedPeriodsForDropFlags   int     `json:"minElapsedPeriodsForDropFlags" yaml:"min_elapsed_periods_for_drop_flags"`
}

// AuthConfig holds dashboard login settings.
type AuthConfig struct {
	// AdminPassword seeds the credential store on first start.
	AdminPassword string        `json:"-" yaml:"admin_password"`
	SessionTTL    time.Duration `json:"sessionTtl" yaml:"session_ttl"`

	// SessionStore is "memory" or "redis" (uses Cache.RedisAddr).
	SessionStore string `json:"sessionStore" yaml:"session_store"`

	// Login attempts allowed per client within LoginWindow.
	MaxLoginAttempts  int           `json:"maxLoginAttempts" yaml:"max_login_attempts"`
	LoginWindow       time.Duration `json:"loginWindow" yaml:"login_window"`
	MinPasswordLength int           `json:"minPasswordLength" yaml:"min_password_length"`
	BcryptCost        int           `json:"bcryptCost" yaml:"bcrypt_cost"`
}

// DashboardConfig tunes the classification service.
type DashboardConfig struct {
	// Workers bounds parallel account classification.
	Workers int `json:"workers" yaml:"workers"`

	// SeriesLimit is the number of trailing periods read per account.
	SeriesLimit int `json:"seriesLimit" yaml:"series_limit"`
}

// WorkerConfig controls the async reclassification worker.
type WorkerConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	AlertOnWorsening bool `json:"alertOnWorsening" yaml:"alert_on_worsening"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			AllowedOrigins: []string{"*"},
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./churnguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			SeriesTTL:    5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Auth: AuthConfig{
			SessionTTL:        24 * time.Hour,
			SessionStore:      "memory",
			MaxLoginAttempts:  10,
			LoginWindow:       15 * time.Minute,
			MinPasswordLength: 8,
			BcryptCost:        10,
		},
		Dashboard: DashboardConfig{
			Workers:     8,
			SeriesLimit: DefaultSeriesLimit,
		},
		Worker: WorkerConfig{
			Enabled:          true,
			AlertOnWorsening: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "churnguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "churnguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		SeriesTTL:      5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Auth.SessionStore = "redis"
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate checks the configuration for values the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository driver: %q", c.Repository.Driver))
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache type: %q", c.Cache.Type))
	}
	switch c.EventBus.Type {
	case "channel", "nats", "kafka":
	default:
		errs = append(errs, fmt.Errorf("unsupported event bus type: %q", c.EventBus.Type))
	}
	if c.EventBus.Type == "kafka" && len(c.EventBus.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("event_bus.kafka_brokers is required for kafka"))
	}
	switch c.Auth.SessionStore {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported session store: %q", c.Auth.SessionStore))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("auth.session_ttl must be positive"))
	}
	if c.Dashboard.Workers < 1 {
		errs = append(errs, errors.New("dashboard.workers must be at least 1"))
	}
	return errors.Join(errs...)
}
