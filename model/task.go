package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/gorm"

	"github.com/cheaprelay/cheaprelay/common/logger"
)

// Dispatch modes of the subprocess provider.
const (
	DispatchModeWarm      = "warm"
	DispatchModePinned    = "pinned"
	DispatchModeEphemeral = "ephemeral"
)

// TaskLog is one dispatched LLM call. Inserted at provider completion;
// immutable afterwards except for the user rating set via feedback.
type TaskLog struct {
	ID              string    `json:"id" gorm:"primaryKey;size:32"`
	RequestID       string    `json:"request_id" gorm:"size:32;index"`
	CreatedAt       time.Time `json:"created_at" gorm:"index"`
	Category        string    `json:"category" gorm:"size:32;index"`
	Complexity      int       `json:"complexity"`
	PromptSummary   string    `json:"prompt_summary" gorm:"type:text"`
	MessageCount    int       `json:"message_count"`
	RequestedModel  string    `json:"requested_model" gorm:"size:128"`
	ProviderID      string    `json:"provider_id" gorm:"size:64;index"`
	ModelID         string    `json:"model_id" gorm:"size:128;index"`
	RouterReason    string    `json:"router_reason" gorm:"type:text"`
	TokensIn        int       `json:"tokens_in"`
	TokensOut       int       `json:"tokens_out"`
	CostUSD         float64   `json:"cost_usd"`
	LatencyMs       int64     `json:"latency_ms"`
	Streaming       bool      `json:"streaming"`
	TokensBefore    int       `json:"tokens_before"`
	TokensAfter     int       `json:"tokens_after"`
	CacheHit        bool      `json:"cache_hit"`
	RemainingBudget float64   `json:"remaining_budget"`
	DispatchMode    string    `json:"dispatch_mode" gorm:"size:16"`
	CLISuccess      bool      `json:"cli_success"`
	HeuristicScore  int       `json:"heuristic_score"`
	UserRating      *int      `json:"user_rating"`
	Error           string    `json:"error" gorm:"type:text"`
	Prompt          string    `json:"prompt" gorm:"type:text"`
	Response        string    `json:"response" gorm:"type:text"`
}

// Insert writes the task row asynchronously; the pipeline never blocks on it.
func (t *TaskLog) Insert() {
	go func() {
		if err := DB.Create(t).Error; err != nil {
			logger.Logger.Error("insert task log failed",
				zap.String("task_id", t.ID), zap.Error(err))
		}
	}()
}

// UpdateTaskRating mutates the user rating on an existing task.
func UpdateTaskRating(taskID string, rating int) error {
	tx := DB.Model(&TaskLog{}).Where("id = ?", taskID).Update("user_rating", rating)
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "update task rating")
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindTaskByPrefix resolves a task by partial id match, preferring the most
// recent row when several share the prefix.
func FindTaskByPrefix(prefix string) (*TaskLog, error) {
	var task TaskLog
	err := DB.Where("id LIKE ?", prefix+"%").
		Order("created_at DESC").
		First(&task).Error
	if err != nil {
		return nil, errors.Wrapf(err, "find task by prefix %q", prefix)
	}
	return &task, nil
}

// MostRecentTask returns the latest task, the default feedback target.
func MostRecentTask() (*TaskLog, error) {
	var task TaskLog
	if err := DB.Order("created_at DESC").First(&task).Error; err != nil {
		return nil, errors.Wrap(err, "query most recent task")
	}
	return &task, nil
}

// GetRecentTasks returns the newest tasks for the completed-work feed.
func GetRecentTasks(limit int) ([]TaskLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	var rows []TaskLog
	err := DB.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, errors.Wrap(err, "query recent tasks")
}
