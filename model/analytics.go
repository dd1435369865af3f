package model

import (
	"time"

	"github.com/Laisky/errors/v2"
)

// SummaryStats is the top-line analytics bundle.
type SummaryStats struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalTasks     int64   `json:"total_tasks"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
	TotalTokensIn  int64   `json:"total_tokens_in"`
	TotalTokensOut int64   `json:"total_tokens_out"`
	CacheHits      int64   `json:"cache_hits"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	ErrorCount     int64   `json:"error_count"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
}

// DailyStat is one day's aggregated usage.
type DailyStat struct {
	Date      string  `json:"date"`
	Requests  int64   `json:"requests"`
	CostUSD   float64 `json:"cost_usd"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
}

// ModelUsageStat is per (provider, model) usage over the window.
type ModelUsageStat struct {
	ProviderID  string  `json:"provider_id" gorm:"column:provider_id"`
	ModelID     string  `json:"model_id" gorm:"column:model_id"`
	Requests    int64   `json:"requests" gorm:"column:requests"`
	CostUSD     float64 `json:"cost_usd" gorm:"column:cost_usd"`
	TokensIn    int64   `json:"tokens_in" gorm:"column:tokens_in"`
	TokensOut   int64   `json:"tokens_out" gorm:"column:tokens_out"`
	SuccessRate float64 `json:"success_rate" gorm:"column:success_rate"`
}

// CategoryStat is per task-category volume and complexity.
type CategoryStat struct {
	Category      string  `json:"category" gorm:"column:category"`
	Requests      int64   `json:"requests" gorm:"column:requests"`
	AvgComplexity float64 `json:"avg_complexity" gorm:"column:avg_complexity"`
	CostUSD       float64 `json:"cost_usd" gorm:"column:cost_usd"`
}

// RatingStat is one bucket of the user-feedback histogram.
type RatingStat struct {
	Rating int   `json:"rating" gorm:"column:rating"`
	Count  int64 `json:"count" gorm:"column:count"`
}

// SavingsStats quantifies what compression and caching avoided.
type SavingsStats struct {
	TokensSaved     int64   `json:"tokens_saved"`
	CacheHits       int64   `json:"cache_hits"`
	CacheSavedUSD   float64 `json:"cache_saved_usd"`
	CompressionRate float64 `json:"compression_rate"`
}

// GetSummaryStats aggregates totals over the trailing window.
func GetSummaryStats(days int) (*SummaryStats, error) {
	since := windowStart(days)
	var s SummaryStats

	if err := DB.Model(&RequestLog{}).Where("created_at >= ?", since).
		Count(&s.TotalRequests).Error; err != nil {
		return nil, errors.Wrap(err, "count requests")
	}
	if err := DB.Model(&RequestLog{}).
		Where("created_at >= ? AND status = ?", since, RequestStatusError).
		Count(&s.ErrorCount).Error; err != nil {
		return nil, errors.Wrap(err, "count errored requests")
	}

	type taskAgg struct {
		Tasks     int64
		Cost      float64
		TokensIn  int64
		TokensOut int64
		CacheHits int64
		AvgMs     float64
	}
	var agg taskAgg
	err := DB.Model(&TaskLog{}).Where("created_at >= ?", since).
		Select(`COUNT(*) AS tasks, COALESCE(SUM(cost_usd),0) AS cost, ` +
			`COALESCE(SUM(tokens_in),0) AS tokens_in, COALESCE(SUM(tokens_out),0) AS tokens_out, ` +
			`SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END) AS cache_hits, ` +
			`COALESCE(AVG(latency_ms),0) AS avg_ms`).
		Scan(&agg).Error
	if err != nil {
		return nil, errors.Wrap(err, "aggregate tasks")
	}

	s.TotalTasks = agg.Tasks
	s.TotalCostUSD = agg.Cost
	s.TotalTokensIn = agg.TokensIn
	s.TotalTokensOut = agg.TokensOut
	s.CacheHits = agg.CacheHits
	s.AvgLatencyMs = agg.AvgMs
	if agg.Tasks > 0 {
		s.CacheHitRate = float64(agg.CacheHits) / float64(agg.Tasks)
	}
	return &s, nil
}

// GetDailyStats buckets task usage by calendar day. Bucketing happens in Go
// so the query stays identical across sqlite, mysql, and postgres.
func GetDailyStats(days int) ([]DailyStat, error) {
	since := windowStart(days)
	var tasks []TaskLog
	err := DB.Select("created_at", "cost_usd", "tokens_in", "tokens_out").
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, errors.Wrap(err, "query tasks for daily stats")
	}

	byDay := make(map[string]*DailyStat)
	order := make([]string, 0, days)
	for _, t := range tasks {
		day := t.CreatedAt.Local().Format("2006-01-02")
		stat, ok := byDay[day]
		if !ok {
			stat = &DailyStat{Date: day}
			byDay[day] = stat
			order = append(order, day)
		}
		stat.Requests++
		stat.CostUSD += t.CostUSD
		stat.TokensIn += int64(t.TokensIn)
		stat.TokensOut += int64(t.TokensOut)
	}

	out := make([]DailyStat, 0, len(order))
	for _, day := range order {
		out = append(out, *byDay[day])
	}
	return out, nil
}

// GetModelUsageStats aggregates per (provider, model) usage over the window.
func GetModelUsageStats(days int) ([]ModelUsageStat, error) {
	since := windowStart(days)
	var rows []ModelUsageStat
	err := DB.Model(&TaskLog{}).
		Select(`provider_id, model_id, COUNT(*) AS requests, `+
			`COALESCE(SUM(cost_usd),0) AS cost_usd, `+
			`COALESCE(SUM(tokens_in),0) AS tokens_in, COALESCE(SUM(tokens_out),0) AS tokens_out, `+
			`AVG(CASE WHEN cli_success THEN 1.0 ELSE 0.0 END) AS success_rate`).
		Where("created_at >= ?", since).
		Group("provider_id, model_id").
		Order("cost_usd DESC").
		Scan(&rows).Error
	return rows, errors.Wrap(err, "aggregate model usage")
}

// GetCategoryStatsAggregate aggregates per-category volume over the window.
func GetCategoryStatsAggregate(days int) ([]CategoryStat, error) {
	since := windowStart(days)
	var rows []CategoryStat
	err := DB.Model(&TaskLog{}).
		Select(`category, COUNT(*) AS requests, `+
			`COALESCE(AVG(complexity),0) AS avg_complexity, COALESCE(SUM(cost_usd),0) AS cost_usd`).
		Where("created_at >= ?", since).
		Group("category").
		Order("requests DESC").
		Scan(&rows).Error
	return rows, errors.Wrap(err, "aggregate categories")
}

// GetRatingStats builds the user-feedback histogram over the window.
func GetRatingStats(days int) ([]RatingStat, error) {
	since := windowStart(days)
	var rows []RatingStat
	err := DB.Model(&TaskLog{}).
		Select("user_rating AS rating, COUNT(*) AS count").
		Where("created_at >= ? AND user_rating IS NOT NULL", since).
		Group("user_rating").
		Order("rating ASC").
		Scan(&rows).Error
	return rows, errors.Wrap(err, "aggregate ratings")
}

// GetSavingsStats quantifies compression and cache savings over the window.
// Cache savings are priced at the average cost of a non-cached task.
func GetSavingsStats(days int) (*SavingsStats, error) {
	since := windowStart(days)

	// BEFORE and AFTER are reserved words on mysql, so the sums carry
	// explicit alias names.
	type agg struct {
		TokensBeforeSum int64
		TokensAfterSum  int64
		CacheHits       int64
		AvgCost         float64
	}
	var a agg
	err := DB.Model(&TaskLog{}).Where("created_at >= ?", since).
		Select(`COALESCE(SUM(tokens_before),0) AS tokens_before_sum, ` +
			`COALESCE(SUM(tokens_after),0) AS tokens_after_sum, ` +
			`SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END) AS cache_hits, ` +
			`COALESCE(AVG(CASE WHEN cache_hit THEN NULL ELSE cost_usd END),0) AS avg_cost`).
		Scan(&a).Error
	if err != nil {
		return nil, errors.Wrap(err, "aggregate savings")
	}

	s := &SavingsStats{
		TokensSaved:   a.TokensBeforeSum - a.TokensAfterSum,
		CacheHits:     a.CacheHits,
		CacheSavedUSD: float64(a.CacheHits) * a.AvgCost,
	}
	if a.TokensBeforeSum > 0 {
		s.CompressionRate = float64(a.TokensBeforeSum-a.TokensAfterSum) / float64(a.TokensBeforeSum)
	}
	return s, nil
}

func windowStart(days int) time.Time {
	if days <= 0 {
		days = 7
	}
	return time.Now().AddDate(0, 0, -days)
}
