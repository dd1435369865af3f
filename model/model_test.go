package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cheaprelay/cheaprelay/common/helper"
)

// setupTestDB swaps the global handle for a single-connection in-memory
// sqlite, restoring the original on cleanup.
func setupTestDB(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&RequestLog{}, &StepLog{}, &TaskLog{}, &Provider{}, &ModelConfig{}, &Budget{},
	))

	original := DB
	DB = db
	t.Cleanup(func() {
		DB = original
		_ = sqlDB.Close()
	})
}

func TestPeriodStart(t *testing.T) {
	t.Parallel()

	loc := time.Local
	wednesday := time.Date(2026, 8, 19, 15, 30, 0, 0, loc) // a Wednesday
	sunday := time.Date(2026, 8, 23, 9, 0, 0, 0, loc)

	tests := []struct {
		name   string
		period string
		now    time.Time
		want   time.Time
	}{
		{"daily is local midnight", BudgetPeriodDaily, wednesday,
			time.Date(2026, 8, 19, 0, 0, 0, 0, loc)},
		{"weekly starts monday", BudgetPeriodWeekly, wednesday,
			time.Date(2026, 8, 17, 0, 0, 0, 0, loc)},
		{"sunday belongs to the preceding week", BudgetPeriodWeekly, sunday,
			time.Date(2026, 8, 17, 0, 0, 0, 0, loc)},
		{"monthly starts on the first", BudgetPeriodMonthly, wednesday,
			time.Date(2026, 8, 1, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, PeriodStart(tt.period, tt.now))
		})
	}
}

func TestTaskIsSuccess(t *testing.T) {
	t.Parallel()

	rating2, rating4 := 2, 4
	tests := []struct {
		name string
		task TaskLog
		want bool
	}{
		{"cli failure", TaskLog{CLISuccess: false, HeuristicScore: 90}, false},
		{"low score", TaskLog{CLISuccess: true, HeuristicScore: 20}, false},
		{"unscored counts as success", TaskLog{CLISuccess: true, HeuristicScore: 0}, true},
		{"good score", TaskLog{CLISuccess: true, HeuristicScore: 70}, true},
		{"bad rating overrides", TaskLog{CLISuccess: true, HeuristicScore: 70, UserRating: &rating2}, false},
		{"good rating", TaskLog{CLISuccess: true, HeuristicScore: 70, UserRating: &rating4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, TaskIsSuccess(&tt.task))
		})
	}
}

func TestGetCategoryStats(t *testing.T) {
	setupTestDB(t)

	now := time.Now()
	insert := func(modelID string, success bool, score int, cacheHit bool) {
		require.NoError(t, DB.Create(&TaskLog{
			ID:             helper.GenRequestID(),
			CreatedAt:      now,
			Category:       "code_gen",
			ProviderID:     "claude-cli",
			ModelID:        modelID,
			CLISuccess:     success,
			HeuristicScore: score,
			CacheHit:       cacheHit,
			CostUSD:        0.01,
		}).Error)
	}

	insert("haiku", true, 80, false)
	insert("haiku", true, 0, false) // unscored success
	insert("haiku", true, 10, false)
	insert("haiku", false, 0, false)
	insert("haiku", true, 90, true) // cache hits are excluded

	stats, err := GetCategoryStats("code_gen", 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, 4, stats[0].SampleCount)
	require.Equal(t, 2, stats[0].SuccessCount)
	require.InDelta(t, 0.5, stats[0].SuccessRate(), 1e-9)
	require.True(t, stats[0].Confident())
}

func TestGetRecentOutcomesNewestFirst(t *testing.T) {
	setupTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i, success := range []bool{true, true, false} {
		require.NoError(t, DB.Create(&TaskLog{
			ID:         helper.GenRequestID(),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			Category:   "debug",
			ProviderID: "openai",
			ModelID:    "gpt-4o-mini",
			CLISuccess: success,
		}).Error)
	}

	outcomes, err := GetRecentOutcomes("openai", "gpt-4o-mini", "debug", 3)
	require.NoError(t, err)
	require.Equal(t, []bool{false, true, true}, outcomes)
}

func TestFindTaskByPrefix(t *testing.T) {
	setupTestDB(t)

	old := TaskLog{ID: "abc111", CreatedAt: time.Now().Add(-time.Hour)}
	recent := TaskLog{ID: "abc222", CreatedAt: time.Now()}
	require.NoError(t, DB.Create(&old).Error)
	require.NoError(t, DB.Create(&recent).Error)

	got, err := FindTaskByPrefix("abc")
	require.NoError(t, err)
	require.Equal(t, "abc222", got.ID, "prefers the most recent match")

	_, err = FindTaskByPrefix("zzz")
	require.Error(t, err)
}

func TestUpdateTaskRating(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, DB.Create(&TaskLog{ID: "t1", CreatedAt: time.Now()}).Error)
	require.NoError(t, UpdateTaskRating("t1", 4))

	var got TaskLog
	require.NoError(t, DB.First(&got, "id = ?", "t1").Error)
	require.NotNil(t, got.UserRating)
	require.Equal(t, 4, *got.UserRating)

	require.Error(t, UpdateTaskRating("missing", 3))
}

func TestRequestFinalizeTransitionsOnce(t *testing.T) {
	setupTestDB(t)

	row := &RequestLog{ID: "r1", CreatedAt: time.Now(), Status: RequestStatusPending}
	require.NoError(t, DB.Create(row).Error)

	row.Finalize(RequestStatusCompleted, 200, "")
	row.Finalize(RequestStatusError, 500, "late loser")

	var got RequestLog
	require.NoError(t, DB.First(&got, "id = ?", "r1").Error)
	require.Equal(t, RequestStatusCompleted, got.Status)
	require.Equal(t, 200, got.HTTPStatus)
	require.Empty(t, got.Error)
}

func TestSpendSince(t *testing.T) {
	setupTestDB(t)

	now := time.Now()
	require.NoError(t, DB.Create(&TaskLog{ID: "a", CreatedAt: now.Add(-48 * time.Hour), CostUSD: 5}).Error)
	require.NoError(t, DB.Create(&TaskLog{ID: "b", CreatedAt: now.Add(-time.Hour), CostUSD: 2}).Error)
	require.NoError(t, DB.Create(&TaskLog{ID: "c", CreatedAt: now, CostUSD: 1}).Error)

	total, err := SpendSince(now.Add(-2 * time.Hour))
	require.NoError(t, err)
	require.InDelta(t, 3, total, 1e-9)
}

func TestGetSavingsStats(t *testing.T) {
	setupTestDB(t)

	now := time.Now()
	require.NoError(t, DB.Create(&TaskLog{ID: "a", CreatedAt: now,
		TokensBefore: 1000, TokensAfter: 800, CostUSD: 0.04}).Error)
	require.NoError(t, DB.Create(&TaskLog{ID: "b", CreatedAt: now,
		TokensBefore: 500, TokensAfter: 500, CostUSD: 0.02}).Error)
	require.NoError(t, DB.Create(&TaskLog{ID: "c", CreatedAt: now, CacheHit: true}).Error)

	s, err := GetSavingsStats(7)
	require.NoError(t, err)
	require.EqualValues(t, 200, s.TokensSaved)
	require.EqualValues(t, 1, s.CacheHits)
	// Cache savings are priced at the average non-cached task cost.
	require.InDelta(t, 0.03, s.CacheSavedUSD, 1e-9)
	require.InDelta(t, 200.0/1500.0, s.CompressionRate, 1e-9)
}
