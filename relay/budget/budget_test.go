package budget

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/model"
)

func setupTestDB(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.Budget{}, &model.TaskLog{}))

	original := model.DB
	model.DB = db
	t.Cleanup(func() {
		model.DB = original
		_ = sqlDB.Close()
	})
}

func addSpend(t *testing.T, costUSD float64, age time.Duration) {
	t.Helper()
	require.NoError(t, model.DB.Create(&model.TaskLog{
		ID:        helper.GenRequestID(),
		CreatedAt: time.Now().Add(-age),
		CostUSD:   costUSD,
	}).Error)
}

func setBudget(t *testing.T, period string, limitUSD float64) {
	t.Helper()
	require.NoError(t, model.DB.Create(&model.Budget{
		Period: period, LimitUSD: limitUSD, Enabled: true,
	}).Error)
}

func TestCheckNoBudgetsAllows(t *testing.T) {
	setupTestDB(t)

	v := Check(time.Now())
	require.True(t, v.Allowed)
	require.False(t, v.Downgrade)
	require.True(t, math.IsInf(v.Remaining, 1))
}

func TestCheckUnderBudget(t *testing.T) {
	setupTestDB(t)
	setBudget(t, model.BudgetPeriodDaily, 10)
	addSpend(t, 2, time.Minute)

	v := Check(time.Now())
	require.True(t, v.Allowed)
	require.False(t, v.Downgrade)
	require.InDelta(t, 8, v.Remaining, 1e-9)
}

func TestCheckDeniesAtLimit(t *testing.T) {
	setupTestDB(t)
	setBudget(t, model.BudgetPeriodDaily, 10)
	addSpend(t, 10, time.Minute)

	v := Check(time.Now())
	require.False(t, v.Allowed)
	require.Equal(t, model.BudgetPeriodDaily, v.Period)
	require.Contains(t, v.Reason, "exhausted")
}

func TestCheckDowngradesAtEightyPercent(t *testing.T) {
	setupTestDB(t)
	setBudget(t, model.BudgetPeriodDaily, 10)
	addSpend(t, 8.5, time.Minute)

	v := Check(time.Now())
	require.True(t, v.Allowed)
	require.True(t, v.Downgrade)
	require.Equal(t, model.BudgetPeriodDaily, v.Period)
	require.InDelta(t, 85, v.Percent, 1e-9)
}

func TestCheckTightestBudgetWins(t *testing.T) {
	setupTestDB(t)
	setBudget(t, model.BudgetPeriodDaily, 100)
	setBudget(t, model.BudgetPeriodMonthly, 10)
	// Spend lands inside both the current day and the current month.
	addSpend(t, 9, time.Minute)

	v := Check(time.Now())
	require.True(t, v.Allowed)
	require.True(t, v.Downgrade, "the monthly budget is at 90%")
	require.Equal(t, model.BudgetPeriodMonthly, v.Period)
	require.InDelta(t, 1, v.Remaining, 1e-9, "remaining reflects the tightest budget")
}

func TestCheckIgnoresOldSpend(t *testing.T) {
	setupTestDB(t)
	setBudget(t, model.BudgetPeriodDaily, 10)
	addSpend(t, 100, 48*time.Hour)

	v := Check(time.Now())
	require.True(t, v.Allowed)
	require.False(t, v.Downgrade)
}

func TestCheckSkipsZeroLimit(t *testing.T) {
	setupTestDB(t)
	setBudget(t, model.BudgetPeriodDaily, 0)
	addSpend(t, 100, time.Minute)

	v := Check(time.Now())
	require.True(t, v.Allowed)
	require.True(t, math.IsInf(v.Remaining, 1))
}

func TestDowngradeModel(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sonnet", DowngradeModel("opus"))
	require.Equal(t, "haiku", DowngradeModel("sonnet"))
	require.Equal(t, "haiku", DowngradeModel("haiku"))
	require.Equal(t, "gpt-4o", DowngradeModel("gpt-4o"))
}
