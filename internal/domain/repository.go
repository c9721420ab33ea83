// Package domain defines the core interfaces and types for ChurnGuard.
package domain

import (
	"context"
	"time"
)

// MetricsProvider supplies ordered period series and account master data.
// The risk engine's callers read through it; it owns the series.
type MetricsProvider interface {
	// GetPeriodSeries returns up to limit trailing periods, oldest first.
	// A limit <= 0 means DefaultSeriesLimit.
	GetPeriodSeries(ctx context.Context, accountID string, g Granularity, limit int) (PeriodSeries, error)

	GetAccount(ctx context.Context, accountID string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	MetricsProvider

	// Account master data
	UpsertAccount(ctx context.Context, account *Account) error

	// Period metrics. Saving an existing period key replaces it.
	SavePeriodMetrics(ctx context.Context, accountID string, g Granularity, metrics []PeriodMetric) error

	// Monthly risk snapshots, unique by month
	SaveSnapshot(ctx context.Context, snapshot *RiskSnapshot) error
	GetSnapshot(ctx context.Context, month string) (*RiskSnapshot, error)
	ListSnapshots(ctx context.Context) ([]*RiskSnapshot, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "mysql"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"-" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_sslmode"`

	// MySQL specific
	MySQLAddr     string `json:"mysqlAddr" yaml:"mysql_addr"`
	MySQLUser     string `json:"mysqlUser" yaml:"mysql_user"`
	MySQLPassword string `json:"-" yaml:"mysql_password"`
	MySQLDB       string `json:"mysqlDb" yaml:"mysql_db"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}
