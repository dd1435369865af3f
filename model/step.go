package model

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/cheaprelay/cheaprelay/common/logger"
)

// Pipeline step names. One StepLog is appended per stage entry/exit.
const (
	StepParse            = "parse"
	StepFeedback         = "feedback"
	StepDedup            = "dedup"
	StepClassify         = "classify"
	StepRoute            = "route"
	StepBudgetCheck      = "budget_check"
	StepCacheCheck       = "cache_check"
	StepCompress         = "compress"
	StepProviderDispatch = "provider_dispatch"
	StepProviderStream   = "provider_streaming"
	StepProviderDone     = "provider_done"
	StepToolParse        = "tool_parse"
	StepResponseSent     = "response_sent"
	StepLogTask          = "log_task"
	StepWarmPoolDispatch = "warm_pool_dispatch"
)

// Step statuses.
const (
	StepStatusStarted   = "started"
	StepStatusCompleted = "completed"
	StepStatusError     = "error"
	StepStatusSkipped   = "skipped"
)

// StepLog is one append-only pipeline stage record.
type StepLog struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RequestID  string    `json:"request_id" gorm:"size:32;index"`
	CreatedAt  time.Time `json:"created_at"`
	Step       string    `json:"step" gorm:"size:32"`
	Status     string    `json:"status" gorm:"size:16"`
	DurationMs int64     `json:"duration_ms"`
	Detail     string    `json:"detail" gorm:"type:text"`
}

// LogStep appends a step record asynchronously. detail may be any
// JSON-encodable value; encoding failures degrade to the error text.
func LogStep(requestID, step, status string, duration time.Duration, detail any) {
	row := &StepLog{
		RequestID:  requestID,
		CreatedAt:  time.Now(),
		Step:       step,
		Status:     status,
		DurationMs: duration.Milliseconds(),
	}
	if detail != nil {
		if s, ok := detail.(string); ok {
			row.Detail = s
		} else if raw, err := json.Marshal(detail); err == nil {
			row.Detail = string(raw)
		} else {
			row.Detail = err.Error()
		}
	}

	// Fire-and-forget: the pipeline never blocks on a log write.
	go func() {
		if err := DB.Create(row).Error; err != nil {
			logger.Logger.Error("insert step log failed",
				zap.String("request_id", requestID),
				zap.String("step", step),
				zap.Error(err))
		}
	}()
}

// GetStepsByRequestID lists a request's step records in insertion order.
func GetStepsByRequestID(requestID string) ([]StepLog, error) {
	var rows []StepLog
	err := DB.Where("request_id = ?", requestID).Order("id ASC").Find(&rows).Error
	return rows, err
}

const pruneRetention = 30 * 24 * time.Hour

var pruneMu sync.Mutex

// prune removes request and step rows past retention. Executed on roughly
// every 1/1000 inserts, in the background.
func prune() {
	if rand.Float32() > 0.001 {
		return
	}
	if ok := pruneMu.TryLock(); !ok {
		return
	}
	defer pruneMu.Unlock()

	cutoff := time.Now().Add(-pruneRetention)
	if err := DB.Where("created_at < ?", cutoff).Delete(&StepLog{}).Error; err != nil {
		logger.Logger.Error("prune step logs failed", zap.Error(err))
	}
	if err := DB.Where("created_at < ?", cutoff).Delete(&RequestLog{}).Error; err != nil {
		logger.Logger.Error("prune request logs failed", zap.Error(err))
	}
}
