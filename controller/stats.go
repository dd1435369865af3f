package controller

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/model"
)

// GetStats dispatches GET /api/stats?metric=<name>&days=<n>. metric=all
// returns the composite bundle the dashboard renders in one call.
func (a *Admin) GetStats(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))

	var (
		data any
		err  error
	)
	switch metric := c.DefaultQuery("metric", "summary"); metric {
	case "summary":
		data, err = model.GetSummaryStats(days)
	case "daily":
		data, err = model.GetDailyStats(days)
	case "models":
		data, err = model.GetModelUsageStats(days)
	case "categories":
		data, err = model.GetCategoryStatsAggregate(days)
	case "ratings":
		data, err = model.GetRatingStats(days)
	case "savings":
		data, err = model.GetSavingsStats(days)
	case "tasks":
		data, err = model.GetRecentTasks(50)
	case "requests":
		data, err = model.GetRecentRequests(50)
	case "all":
		data, err = a.statsBundle(days)
	default:
		helper.RespondError(c, errors.Errorf("unknown metric %q", metric))
		return
	}
	if err != nil {
		helper.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// statsBundle fans the dashboard queries out concurrently; any failure fails
// the bundle.
func (a *Admin) statsBundle(days int) (gin.H, error) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	out := gin.H{}

	collect := func(key string, fn func(int) (any, error)) {
		g.Go(func() error {
			data, err := fn(days)
			if err != nil {
				return err
			}
			mu.Lock()
			out[key] = data
			mu.Unlock()
			return nil
		})
	}

	collect("summary", func(d int) (any, error) { return model.GetSummaryStats(d) })
	collect("daily", func(d int) (any, error) { return model.GetDailyStats(d) })
	collect("models", func(d int) (any, error) { return model.GetModelUsageStats(d) })
	collect("categories", func(d int) (any, error) { return model.GetCategoryStatsAggregate(d) })
	collect("ratings", func(d int) (any, error) { return model.GetRatingStats(d) })
	collect("savings", func(d int) (any, error) { return model.GetSavingsStats(d) })

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
