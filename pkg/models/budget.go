package models

import "time"

// Status is the enforcement status of a budget account.
type Status string

const (
	StatusActive      Status = "active"
	StatusGracePeriod Status = "grace_period"
	StatusSuspended   Status = "suspended"
	// StatusRestricted is set by administrators outside the engine.
	StatusRestricted Status = "restricted"
)

// ThresholdState is an informational classification of the spend ratio.
type ThresholdState string

const (
	ThresholdNormal   ThresholdState = "normal"
	ThresholdWarning  ThresholdState = "warning"
	ThresholdCritical ThresholdState = "critical"
)

// AccountType selects the access controller responsible for a principal.
type AccountType string

// AccountTypeAPIKey is the account type assigned to auto-created budgets.
const AccountTypeAPIKey AccountType = "bedrock_api_key"

// BudgetAccount is the ledger record for one principal.
type BudgetAccount struct {
	PrincipalID       string           `json:"principal_id"`
	AccountType       AccountType      `json:"account_type"`
	BudgetLimit       Money            `json:"budget_limit"`
	Spent             Money            `json:"spent"`
	Status            Status           `json:"status"`
	ThresholdState    ThresholdState   `json:"threshold_state"`
	GraceDeadline     *time.Time       `json:"grace_deadline,omitempty"`
	PeriodStart       time.Time        `json:"period_start"`
	RefreshDate       time.Time        `json:"refresh_date"`
	RefreshPeriodDays int              `json:"refresh_period_days"`
	RefreshCount      int              `json:"refresh_count"`
	ModelSpend        map[string]Money `json:"model_spend,omitempty"`
	AutoCreated       bool             `json:"auto_created"`
	SuspendedAt       *time.Time       `json:"suspended_at,omitempty"`
	RestoredAt        *time.Time       `json:"restored_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Managed reports whether the account is subject to enforcement.
// A zero limit marks the record as unmanaged.
func (a *BudgetAccount) Managed() bool {
	return a.BudgetLimit > 0
}

// Ratio returns spent/limit, or 0 for unmanaged accounts.
func (a *BudgetAccount) Ratio() float64 {
	if a.BudgetLimit <= 0 {
		return 0
	}
	return float64(a.Spent) / float64(a.BudgetLimit)
}

// RefreshDue reports whether the recurring window has elapsed at now.
func (a *BudgetAccount) RefreshDue(now time.Time) bool {
	return !a.RefreshDate.IsZero() && !now.Before(a.RefreshDate)
}

// Classify maps a spend ratio to a threshold state using percentages.
func Classify(spent, limit Money, warnPercent, criticalPercent float64) ThresholdState {
	if limit <= 0 {
		return ThresholdNormal
	}
	ratio := float64(spent) / float64(limit)
	switch {
	case ratio >= criticalPercent/100:
		return ThresholdCritical
	case ratio >= warnPercent/100:
		return ThresholdWarning
	default:
		return ThresholdNormal
	}
}

// BudgetStatus summarises an account for display.
type BudgetStatus struct {
	PrincipalID string         `json:"principal_id"`
	Limit       Money          `json:"limit"`
	Spent       Money          `json:"spent"`
	Remaining   Money          `json:"remaining"`
	Percent     float64        `json:"percent"`
	Status      Status         `json:"status"`
	Threshold   ThresholdState `json:"threshold_state"`
	RefreshDate time.Time      `json:"refresh_date"`
}

// StatusOf builds the display summary of an account.
func StatusOf(a BudgetAccount) BudgetStatus {
	remaining := a.BudgetLimit - a.Spent
	if remaining < 0 {
		remaining = 0
	}
	return BudgetStatus{
		PrincipalID: a.PrincipalID,
		Limit:       a.BudgetLimit,
		Spent:       a.Spent,
		Remaining:   remaining,
		Percent:     a.Ratio() * 100,
		Status:      a.Status,
		Threshold:   a.ThresholdState,
		RefreshDate: a.RefreshDate,
	}
}
