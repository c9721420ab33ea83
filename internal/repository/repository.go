// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/churnguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with SQLite, PostgreSQL and MySQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	case "mysql":
		db, err = openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewWithDB(db, cfg.Driver)
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// NewWithDB wraps an open database without running migrations.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// UpsertAccount creates or replaces account master data.
// CreatedAt is kept from the first insert.
func (r *SQLRepository) UpsertAccount(ctx context.Context, account *domain.Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if account.Status == "" {
		account.Status = domain.StatusActive
	}
	if account.Name == "" {
		account.Name = account.ID
	}

	var level, reason sql.NullString
	if account.Override != nil {
		level = sql.NullString{String: account.Override.Level, Valid: true}
		reason = sql.NullString{String: account.Override.Reason, Valid: true}
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	query := r.upsert("accounts",
		[]string{"id", "name", "csm", "status", "location_cnt", "override_level", "override_reason", "created_at", "updated_at"},
		[]string{"id"},
		[]string{"name", "csm", "status", "location_cnt", "override_level", "override_reason", "updated_at"},
	)

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		account.ID, account.Name, account.CSM, account.Status, account.LocationCount,
		level, reason, account.CreatedAt, account.UpdatedAt,
	)
	return err
}

const accountColumns = `id, name, csm, status, location_cnt, override_level, override_reason, created_at, updated_at`

// GetAccount retrieves account master data by ID.
func (r *SQLRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

	account, err := scanAccount(r.db.QueryRowContext(ctx, r.rebind(query), accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccounts returns all accounts ordered by name.
func (r *SQLRepository) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	var level, reason sql.NullString

	if err := row.Scan(
		&a.ID, &a.Name, &a.CSM, &a.Status, &a.LocationCount,
		&level, &reason, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if level.Valid {
		a.Override = &domain.RiskOverride{Level: level.String, Reason: reason.String}
	}
	return &a, nil
}

// SavePeriodMetrics stores metrics for one account in a single transaction.
// A period key that already exists is replaced.
func (r *SQLRepository) SavePeriodMetrics(ctx context.Context, accountID string, g domain.Granularity, metrics []domain.PeriodMetric) error {
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if _, err := domain.ParseGranularity(string(g)); err != nil || g == "" {
		return fmt.Errorf("%w: granularity %q", ErrInvalidInput, g)
	}
	for _, m := range metrics {
		if _, err := m.Start(); err != nil {
			return fmt.Errorf("%w: period_key %q", ErrInvalidInput, m.PeriodKey)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := r.rebind(r.upsert("period_metrics",
		[]string{"account_id", "granularity", "period_key", "period_label", "total_spend", "total_texts_delivered", "coupons_redeemed", "active_subscribers", "updated_at"},
		[]string{"account_id", "granularity", "period_key"},
		[]string{"period_label", "total_spend", "total_texts_delivered", "coupons_redeemed", "active_subscribers", "updated_at"},
	))

	now := time.Now().UTC()
	for _, m := range metrics {
		label := m.PeriodLabel
		if label == "" {
			label = domain.DefaultPeriodLabel(m.PeriodKey)
		}
		if _, err := tx.ExecContext(ctx, query,
			accountID, string(g), m.PeriodKey, label,
			m.TotalSpend, m.TotalTextsDelivered, m.CouponsRedeemed, m.ActiveSubscribers,
			now,
		); err != nil {
			return fmt.Errorf("save period %s: %w", m.PeriodKey, err)
		}
	}

	return tx.Commit()
}

// GetPeriodSeries returns the trailing limit periods, oldest first.
func (r *SQLRepository) GetPeriodSeries(ctx context.Context, accountID string, g domain.Granularity, limit int) (domain.PeriodSeries, error) {
	if limit <= 0 {
		limit = domain.DefaultSeriesLimit
	}

	query := `
		SELECT period_key, period_label, total_spend, total_texts_delivered,
			   coupons_redeemed, active_subscribers
		FROM period_metrics
		WHERE account_id = ? AND granularity = ?
		ORDER BY period_key DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, string(g), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series domain.PeriodSeries
	for rows.Next() {
		var m domain.PeriodMetric
		if err := rows.Scan(
			&m.PeriodKey, &m.PeriodLabel, &m.TotalSpend, &m.TotalTextsDelivered,
			&m.CouponsRedeemed, &m.ActiveSubscribers,
		); err != nil {
			return nil, err
		}
		series = append(series, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest first from the query; the engine reads oldest first.
	for i, j := 0, len(series)-1; i < j; i, j = i+1, j-1 {
		series[i], series[j] = series[j], series[i]
	}
	return series, nil
}

// SaveSnapshot stores a monthly risk snapshot, replacing one for the same month.
func (r *SQLRepository) SaveSnapshot(ctx context.Context, snapshot *domain.RiskSnapshot) error {
	if snapshot == nil || snapshot.Month == "" || snapshot.ID == "" {
		return fmt.Errorf("%w: snapshot id and month are required", ErrInvalidInput)
	}

	criteria, err := json.Marshal(snapshot.Criteria)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot criteria: %w", err)
	}

	query := r.upsert("risk_snapshots",
		[]string{"month", "id", "month_label", "low_risk", "medium_risk", "high_risk", "total_accounts", "calculated_at", "criteria"},
		[]string{"month"},
		[]string{"month_label", "low_risk", "medium_risk", "high_risk", "total_accounts", "calculated_at", "criteria"},
	)

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		snapshot.Month, snapshot.ID, snapshot.MonthLabel,
		snapshot.LowRisk, snapshot.MediumRisk, snapshot.HighRisk, snapshot.TotalAccounts,
		snapshot.CalculatedAt.UTC(), string(criteria),
	)
	return err
}

const snapshotColumns = `month, id, month_label, low_risk, medium_risk, high_risk, total_accounts, calculated_at, criteria`

// GetSnapshot retrieves the snapshot for a month (YYYY-MM-01).
func (r *SQLRepository) GetSnapshot(ctx context.Context, month string) (*domain.RiskSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM risk_snapshots WHERE month = ?`

	s, err := scanSnapshot(r.db.QueryRowContext(ctx, r.rebind(query), month))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSnapshots returns all snapshots, newest month first.
func (r *SQLRepository) ListSnapshots(ctx context.Context) ([]*domain.RiskSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM risk_snapshots ORDER BY month DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*domain.RiskSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func scanSnapshot(row rowScanner) (*domain.RiskSnapshot, error) {
	var s domain.RiskSnapshot
	var criteria string

	if err := row.Scan(
		&s.Month, &s.ID, &s.MonthLabel,
		&s.LowRisk, &s.MediumRisk, &s.HighRisk, &s.TotalAccounts,
		&s.CalculatedAt, &criteria,
	); err != nil {
		return nil, err
	}
	if criteria != "" {
		if err := json.Unmarshal([]byte(criteria), &s.Criteria); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot criteria for %s: %w", s.Month, err)
		}
	}
	return &s, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// upsert builds an insert-or-update statement in the driver's dialect.
func (r *SQLRepository) upsert(table string, cols, keys, updates []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)

	sets := make([]string, len(updates))
	if r.driver == "mysql" {
		for i, col := range updates {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
		}
		fmt.Fprintf(&b, " ON DUPLICATE KEY UPDATE %s", strings.Join(sets, ", "))
		return b.String()
	}

	for i, col := range updates {
		sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	fmt.Fprintf(&b, " ON CONFLICT(%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
	return b.String()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

var _ domain.Repository = (*SQLRepository)(nil)
