// Package config loads the server configuration from an optional YAML file
// and CHURNGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/churnguard/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHURNGUARD_"

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration. The tier picks the defaults
// (CHURNGUARD_TIER wins over the file's tier), the file at path is decoded
// over them and environment overrides are applied last. An empty path
// skips the file.
func Load(path string) (*domain.Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup LookupFunc) (*domain.Config, error) {
	var raw []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		raw = data
	}

	tier, err := resolveTier(raw, lookup)
	if err != nil {
		return nil, err
	}
	cfg := Defaults(tier)

	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		cfg.Tier = tier
	}

	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration for a tier.
func Defaults(tier domain.Tier) *domain.Config {
	if tier == domain.TierPro {
		return domain.ProConfig()
	}
	return domain.DefaultConfig()
}

func resolveTier(raw []byte, lookup LookupFunc) (domain.Tier, error) {
	tier := domain.TierCommunity
	if len(raw) > 0 {
		var head struct {
			Tier domain.Tier `yaml:"tier"`
		}
		if err := yaml.Unmarshal(raw, &head); err != nil {
			return "", fmt.Errorf("parse config file: %w", err)
		}
		if head.Tier != "" {
			tier = head.Tier
		}
	}
	if v, ok := lookup(EnvPrefix + "TIER"); ok && v != "" {
		tier = domain.Tier(strings.ToLower(v))
	}
	switch tier {
	case domain.TierCommunity, domain.TierPro:
		return tier, nil
	default:
		return "", fmt.Errorf("unsupported tier: %q", tier)
	}
}

// ApplyEnv applies CHURNGUARD_* overrides to cfg. Malformed numeric values
// are reported together.
func ApplyEnv(cfg *domain.Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HOST", &cfg.Server.Host)
	e.int("PORT", &cfg.Server.Port)
	e.list("ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)

	e.str("DB_DRIVER", &cfg.Repository.Driver)
	e.str("SQLITE_PATH", &cfg.Repository.SQLitePath)
	e.str("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	e.int("POSTGRES_PORT", &cfg.Repository.PostgresPort)
	e.str("POSTGRES_USER", &cfg.Repository.PostgresUser)
	e.str("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	e.str("POSTGRES_DB", &cfg.Repository.PostgresDB)
	e.str("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)
	e.str("MYSQL_ADDR", &cfg.Repository.MySQLAddr)
	e.str("MYSQL_USER", &cfg.Repository.MySQLUser)
	e.str("MYSQL_PASSWORD", &cfg.Repository.MySQLPassword)
	e.str("MYSQL_DB", &cfg.Repository.MySQLDB)

	e.str("CACHE_TYPE", &cfg.Cache.Type)
	e.str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	e.str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	e.int("REDIS_DB", &cfg.Cache.RedisDB)
	e.duration("SERIES_TTL", &cfg.Cache.SeriesTTL)

	e.str("BUS_TYPE", &cfg.EventBus.Type)
	e.str("NATS_URL", &cfg.EventBus.NATSUrl)
	e.str("NATS_TOKEN", &cfg.EventBus.NATSToken)
	e.list("KAFKA_BROKERS", &cfg.EventBus.KafkaBrokers)
	e.str("KAFKA_GROUP_ID", &cfg.EventBus.KafkaGroupID)

	e.str("ADMIN_PASSWORD", &cfg.Auth.AdminPassword)
	e.str("SESSION_STORE", &cfg.Auth.SessionStore)
	e.duration("SESSION_TTL", &cfg.Auth.SessionTTL)
	e.int("MAX_LOGIN_ATTEMPTS", &cfg.Auth.MaxLoginAttempts)

	e.str("POLICY_VERSION", &cfg.Policy.Version)
	e.int64("POLICY_MONTHLY_REDEMPTIONS", &cfg.Policy.MonthlyRedemptionsThreshold)
	e.int64("POLICY_LOW_ACTIVITY_SUBSCRIBERS", &cfg.Policy.LowActivitySubscribersThreshold)
	e.int64("POLICY_LOW_ACTIVITY_REDEMPTIONS", &cfg.Policy.LowActivityRedemptionsThreshold)
	e.float("POLICY_SPEND_DROP", &cfg.Policy.SpendDropThreshold)
	e.float("POLICY_REDEMPTIONS_DROP", &cfg.Policy.RedemptionsDropThreshold)
	e.int("POLICY_MIN_ELAPSED_PERIODS", &cfg.Policy.MinElapsedPeriodsForDropFlags)

	e.int("DASHBOARD_WORKERS", &cfg.Dashboard.Workers)
	e.bool("WORKER_ENABLED", &cfg.Worker.Enabled)
	e.bool("ALERT_ON_WORSENING", &cfg.Worker.AlertOnWorsening)

	e.str("LOG_LEVEL", &cfg.Logging.Level)
	e.str("LOG_FORMAT", &cfg.Logging.Format)
	e.bool("TRACING_ENABLED", &cfg.Tracing.Enabled)

	var debug bool
	e.bool("DEBUG", &debug)
	if debug {
		cfg.Logging.Level = "debug"
	}

	return errors.Join(e.errs...)
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, name, value, err))
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) int64(name string, dst *int64) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) float(name string, dst *float64) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = f
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}
