package model

import (
	"time"

	"github.com/Laisky/errors/v2"
)

// Budget periods.
const (
	BudgetPeriodDaily   = "daily"
	BudgetPeriodWeekly  = "weekly"
	BudgetPeriodMonthly = "monthly"
)

// Budget is one spend limit per period kind.
type Budget struct {
	Period    string    `json:"period" gorm:"primaryKey;size:16"`
	LimitUSD  float64   `json:"limit_usd"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetEnabledBudgets lists the enabled budget rows.
func GetEnabledBudgets() ([]Budget, error) {
	var rows []Budget
	err := DB.Where("enabled = ?", true).Find(&rows).Error
	return rows, errors.Wrap(err, "query enabled budgets")
}

// GetBudgets lists all budget rows.
func GetBudgets() ([]Budget, error) {
	var rows []Budget
	err := DB.Find(&rows).Error
	return rows, errors.Wrap(err, "query budgets")
}

// UpsertBudget creates or replaces the budget for one period.
func UpsertBudget(b *Budget) error {
	b.UpdatedAt = time.Now()
	return errors.Wrap(DB.Save(b).Error, "upsert budget")
}

// DeleteBudget removes the budget row for a period.
func DeleteBudget(period string) error {
	return errors.Wrap(DB.Delete(&Budget{}, "period = ?", period).Error, "delete budget")
}

// PeriodStart computes the inclusive beginning of a budget period in local
// time: midnight for daily, Monday midnight for weekly, the 1st for monthly.
func PeriodStart(period string, now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch period {
	case BudgetPeriodWeekly:
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday belongs to the preceding Monday-start week
		}
		return midnight.AddDate(0, 0, -(weekday - 1))
	case BudgetPeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return midnight
	}
}

// SpendSince sums task cost recorded at or after the given instant.
func SpendSince(since time.Time) (float64, error) {
	var total float64
	err := DB.Model(&TaskLog{}).
		Where("created_at >= ?", since).
		Select("COALESCE(SUM(cost_usd), 0)").
		Scan(&total).Error
	return total, errors.Wrap(err, "sum task spend")
}
