package controller

import (
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common/helper"
	"github.com/cheaprelay/cheaprelay/model"
)

// budgetView is a budget row plus its live spend for the current period.
type budgetView struct {
	model.Budget
	Spend   float64 `json:"spend"`
	Percent float64 `json:"percent"`
}

// GetBudgets lists budget rows with current-period spend.
func (a *Admin) GetBudgets(c *gin.Context) {
	rows, err := model.GetBudgets()
	if err != nil {
		helper.RespondError(c, err)
		return
	}

	now := time.Now()
	views := make([]budgetView, 0, len(rows))
	for _, b := range rows {
		view := budgetView{Budget: b}
		if spend, err := model.SpendSince(model.PeriodStart(b.Period, now)); err == nil {
			view.Spend = spend
			if b.LimitUSD > 0 {
				view.Percent = spend / b.LimitUSD * 100
			}
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": views})
}

// UpsertBudget creates or replaces the budget for one period.
func (a *Admin) UpsertBudget(c *gin.Context) {
	var row model.Budget
	if err := c.ShouldBindJSON(&row); err != nil {
		helper.RespondError(c, errors.Wrap(err, "bind budget"))
		return
	}
	switch row.Period {
	case model.BudgetPeriodDaily, model.BudgetPeriodWeekly, model.BudgetPeriodMonthly:
	default:
		helper.RespondError(c, errors.Errorf("unknown budget period %q", row.Period))
		return
	}
	if err := model.UpsertBudget(&row); err != nil {
		helper.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": row})
}

// DeleteBudget removes the budget for one period.
func (a *Admin) DeleteBudget(c *gin.Context) {
	if err := model.DeleteBudget(c.Param("period")); err != nil {
		helper.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
