package domain

import "time"

// Account statuses reported by the billing system.
const (
	StatusActive   = "ACTIVE"
	StatusFrozen   = "FROZEN"
	StatusCanceled = "CANCELED"
)

// Account is the master record of a restaurant client.
type Account struct {
	ID            string        `json:"account_id"`
	Name          string        `json:"name"`
	CSM           string        `json:"csm"`
	Status        string        `json:"status"`
	LocationCount int           `json:"location_cnt"`
	Override      *RiskOverride `json:"override,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// ActiveOverride returns the override only when the account is frozen.
func (a *Account) ActiveOverride() *RiskOverride {
	if a == nil || a.Status != StatusFrozen {
		return nil
	}
	return a.Override
}

// AccountRow is one line of the account metrics table.
type AccountRow struct {
	AccountID      string `json:"account_id"`
	Name           string `json:"name"`
	CSM            string `json:"csm"`
	Status         string `json:"status"`
	LocationCount  int    `json:"location_cnt"`
	LatestActivity string `json:"latest_activity,omitempty"`

	PeriodKey   string `json:"period_key,omitempty"`
	PeriodLabel string `json:"period_label,omitempty"`

	TotalSpend          float64 `json:"total_spend"`
	TotalTextsDelivered int64   `json:"total_texts_delivered"`
	CouponsRedeemed     int64   `json:"coupons_redeemed"`
	ActiveSubscribers   int64   `json:"active_subs_cnt"`

	MetricDeltas

	RiskLevel  RiskLevel  `json:"risk_level"`
	RiskFlags  *RiskFlags `json:"risk_flags,omitempty"`
	RiskReason string     `json:"risk_reason"`

	TrendingRiskLevel RiskLevel  `json:"trending_risk_level,omitempty"`
	TrendingRiskFlags *RiskFlags `json:"trending_risk_flags,omitempty"`
}

// SnapshotCriteria records the thresholds a snapshot was computed with.
type SnapshotCriteria struct {
	MonthlyRedemptionsThreshold int64   `json:"monthlyRedemptionsThreshold"`
	LowActivitySubscribers      int64   `json:"lowActivitySubscribers"`
	LowActivityRedemptions      int64   `json:"lowActivityRedemptions"`
	RedemptionsDropThreshold    float64 `json:"redemptionsDropThreshold"`
	SpendDropThreshold          float64 `json:"spendDropThreshold"`
	PolicyVersion               string  `json:"policyVersion"`
}

// RiskSnapshot is the risk distribution across all accounts for one month.
type RiskSnapshot struct {
	ID            string           `json:"id"`
	Month         string           `json:"month"`
	MonthLabel    string           `json:"monthLabel"`
	LowRisk       int              `json:"lowRisk"`
	MediumRisk    int              `json:"mediumRisk"`
	HighRisk      int              `json:"highRisk"`
	TotalAccounts int              `json:"totalAccounts"`
	CalculatedAt  time.Time        `json:"calculatedAt"`
	Criteria      SnapshotCriteria `json:"criteria"`
}
