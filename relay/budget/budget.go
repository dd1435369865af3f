// Package budget enforces configured spending limits over the task ledger.
// The guard fails open: a broken budget check must never take the proxy down.
package budget

import (
	"math"
	"time"

	"github.com/Laisky/zap"

	"github.com/cheaprelay/cheaprelay/common/logger"
	"github.com/cheaprelay/cheaprelay/model"
)

// Verdict is the outcome of one budget check.
type Verdict struct {
	Allowed   bool    `json:"allowed"`
	Downgrade bool    `json:"downgrade"`
	Remaining float64 `json:"remaining"`
	Reason    string  `json:"reason,omitempty"`

	// Period names the budget that triggered a deny or downgrade.
	Period  string  `json:"period,omitempty"`
	Percent float64 `json:"percent,omitempty"`
}

// Check evaluates every enabled budget against spend since its period start.
// The tightest budget wins: any at 100% denies, any at 80% downgrades.
func Check(now time.Time) Verdict {
	budgets, err := model.GetEnabledBudgets()
	if err != nil {
		logger.Logger.Warn("budget query failed, allowing", zap.Error(err))
		return Verdict{Allowed: true, Remaining: math.Inf(1)}
	}
	if len(budgets) == 0 {
		return Verdict{Allowed: true, Remaining: math.Inf(1)}
	}

	out := Verdict{Allowed: true, Remaining: math.Inf(1)}
	for _, b := range budgets {
		if b.LimitUSD <= 0 {
			continue
		}
		spend, err := model.SpendSince(model.PeriodStart(b.Period, now))
		if err != nil {
			logger.Logger.Warn("budget spend query failed, skipping",
				zap.String("period", b.Period), zap.Error(err))
			continue
		}

		percent := spend / b.LimitUSD * 100
		remaining := b.LimitUSD - spend
		if remaining < out.Remaining {
			out.Remaining = remaining
		}

		switch {
		case percent >= 100:
			return Verdict{
				Allowed: false,
				Period:  b.Period,
				Percent: percent,
				Reason:  b.Period + " budget exhausted",
			}
		case percent >= 80 && !out.Downgrade:
			out.Downgrade = true
			out.Period = b.Period
			out.Percent = percent
			out.Reason = b.Period + " budget above 80%, downgrading"
		}
	}
	return out
}

// DowngradeModel maps a model alias one step down the Claude ladder. Unknown
// names pass through.
func DowngradeModel(alias string) string {
	switch alias {
	case "opus":
		return "sonnet"
	case "sonnet":
		return "haiku"
	}
	return alias
}
