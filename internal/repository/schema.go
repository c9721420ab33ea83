package repository

// Schema definitions for the ChurnGuard database.
// The default schemas are shared by SQLite and PostgreSQL; MySQL needs
// bounded key columns and inline indexes.

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    csm TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    location_cnt INTEGER NOT NULL DEFAULT 0,
    override_level TEXT,
    override_reason TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_csm ON accounts(csm);
`

// period_key is an ISO date string; lexicographic order is time order.
const schemaPeriodMetrics = `
CREATE TABLE IF NOT EXISTS period_metrics (
    account_id TEXT NOT NULL,
    granularity TEXT NOT NULL,
    period_key TEXT NOT NULL,
    period_label TEXT NOT NULL,
    total_spend DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_texts_delivered BIGINT NOT NULL DEFAULT 0,
    coupons_redeemed BIGINT NOT NULL DEFAULT 0,
    active_subscribers BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (account_id, granularity, period_key)
);

CREATE INDEX IF NOT EXISTS idx_period_metrics_period ON period_metrics(granularity, period_key);
`

const schemaRiskSnapshots = `
CREATE TABLE IF NOT EXISTS risk_snapshots (
    month TEXT PRIMARY KEY,
    id TEXT NOT NULL,
    month_label TEXT NOT NULL,
    low_risk INTEGER NOT NULL DEFAULT 0,
    medium_risk INTEGER NOT NULL DEFAULT 0,
    high_risk INTEGER NOT NULL DEFAULT 0,
    total_accounts INTEGER NOT NULL DEFAULT 0,
    calculated_at TIMESTAMP NOT NULL,
    criteria TEXT NOT NULL
);
`

const mysqlSchemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id VARCHAR(128) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    csm VARCHAR(255) NOT NULL DEFAULT '',
    status VARCHAR(32) NOT NULL,
    location_cnt INT NOT NULL DEFAULT 0,
    override_level VARCHAR(64),
    override_reason TEXT,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    INDEX idx_accounts_csm (csm)
)`

const mysqlSchemaPeriodMetrics = `
CREATE TABLE IF NOT EXISTS period_metrics (
    account_id VARCHAR(128) NOT NULL,
    granularity VARCHAR(16) NOT NULL,
    period_key VARCHAR(10) NOT NULL,
    period_label VARCHAR(64) NOT NULL,
    total_spend DOUBLE NOT NULL DEFAULT 0,
    total_texts_delivered BIGINT NOT NULL DEFAULT 0,
    coupons_redeemed BIGINT NOT NULL DEFAULT 0,
    active_subscribers BIGINT NOT NULL DEFAULT 0,
    updated_at DATETIME(6) NOT NULL,
    PRIMARY KEY (account_id, granularity, period_key),
    INDEX idx_period_metrics_period (granularity, period_key)
)`

const mysqlSchemaRiskSnapshots = `
CREATE TABLE IF NOT EXISTS risk_snapshots (
    month VARCHAR(10) PRIMARY KEY,
    id VARCHAR(64) NOT NULL,
    month_label VARCHAR(64) NOT NULL,
    low_risk INT NOT NULL DEFAULT 0,
    medium_risk INT NOT NULL DEFAULT 0,
    high_risk INT NOT NULL DEFAULT 0,
    total_accounts INT NOT NULL DEFAULT 0,
    calculated_at DATETIME(6) NOT NULL,
    criteria TEXT NOT NULL
)`

// AllSchemas returns all schema statements in order for a driver.
func AllSchemas(driver string) []string {
	if driver == "mysql" {
		return []string{
			mysqlSchemaAccounts,
			mysqlSchemaPeriodMetrics,
			mysqlSchemaRiskSnapshots,
		}
	}
	return []string{
		schemaAccounts,
		schemaPeriodMetrics,
		schemaRiskSnapshots,
	}
}
