package model

import (
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/cheaprelay/cheaprelay/common/config"
)

// ModelCategoryStats summarizes a (provider, model)'s recent track record for
// one task category. The router's learning loop reads these.
type ModelCategoryStats struct {
	ProviderID   string  `json:"provider_id" gorm:"column:provider_id"`
	ModelID      string  `json:"model_id" gorm:"column:model_id"`
	SampleCount  int     `json:"sample_count" gorm:"column:sample_count"`
	SuccessCount int     `json:"success_count" gorm:"column:success_count"`
	AvgCost      float64 `json:"avg_cost" gorm:"column:avg_cost"`
}

// SuccessRate returns successes over samples, zero when empty.
func (s ModelCategoryStats) SuccessRate() float64 {
	if s.SampleCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.SampleCount)
}

// Confident reports whether the sample count clears the confidence gate.
func (s ModelCategoryStats) Confident() bool {
	return s.SampleCount >= config.ConfidenceSamples
}

// GetCategoryStats aggregates task outcomes for a category over the trailing
// window, grouped by (provider, model). A task counts as a success when its
// CLI flag is set and the heuristic score clears the threshold (a zero score
// with CLI success counts: streaming tasks may skip scoring).
func GetCategoryStats(category string, window time.Duration) ([]ModelCategoryStats, error) {
	since := time.Now().Add(-window)
	var rows []ModelCategoryStats
	err := DB.Model(&TaskLog{}).
		Select(`provider_id, model_id, COUNT(*) AS sample_count, `+
			`SUM(CASE WHEN cli_success AND (heuristic_score = 0 OR heuristic_score >= ?) THEN 1 ELSE 0 END) AS success_count, `+
			`AVG(cost_usd) AS avg_cost`, config.SuccessThreshold).
		Where("category = ? AND created_at >= ? AND cache_hit = ?", category, since, false).
		Group("provider_id, model_id").
		Scan(&rows).Error
	return rows, errors.Wrapf(err, "aggregate category stats for %q", category)
}

// GetRecentOutcomes returns the success flags of the newest tasks for one
// (provider, model, category) cell, newest first.
func GetRecentOutcomes(providerID, modelID, category string, limit int) ([]bool, error) {
	if limit <= 0 {
		limit = config.ConsecutiveFailureLimit
	}
	var tasks []TaskLog
	err := DB.
		Select("cli_success", "heuristic_score", "user_rating").
		Where("provider_id = ? AND model_id = ? AND category = ? AND cache_hit = ?",
			providerID, modelID, category, false).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, errors.Wrap(err, "query recent outcomes")
	}

	outcomes := make([]bool, 0, len(tasks))
	for _, t := range tasks {
		outcomes = append(outcomes, TaskIsSuccess(&t))
	}
	return outcomes, nil
}

// TaskIsSuccess is the combined success predicate the router learns from:
// CLI success, heuristic score at threshold (zero meaning unscored), and the
// user rating, when present, at least 3.
func TaskIsSuccess(t *TaskLog) bool {
	if !t.CLISuccess {
		return false
	}
	if t.HeuristicScore != 0 && t.HeuristicScore < config.SuccessThreshold {
		return false
	}
	if t.UserRating != nil && *t.UserRating < 3 {
		return false
	}
	return true
}
