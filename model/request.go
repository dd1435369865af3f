package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/cheaprelay/cheaprelay/common/logger"
)

// Terminal statuses of a request. Set exactly once by the pipeline.
const (
	RequestStatusPending    = "pending"
	RequestStatusProcessing = "processing"
	RequestStatusCompleted  = "completed"
	RequestStatusError      = "error"
	RequestStatusCached     = "cached"
	RequestStatusDeduped    = "deduped"
)

// RequestLog is one inbound client HTTP call. Created at arrival, finalized
// once, never deleted by the pipeline (only by background pruning).
type RequestLog struct {
	ID             string    `json:"id" gorm:"primaryKey;size:32"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
	ClientName     string    `json:"client_name" gorm:"size:128"`
	RequestedModel string    `json:"requested_model" gorm:"size:128"`
	MessageCount   int       `json:"message_count"`
	ToolCount      int       `json:"tool_count"`
	Streaming      bool      `json:"streaming"`
	PromptPreview  string    `json:"prompt_preview" gorm:"type:text"`
	Status         string    `json:"status" gorm:"size:16;index"`
	CompletedAt    *time.Time `json:"completed_at"`
	LatencyMs      int64     `json:"latency_ms"`
	HTTPStatus     int       `json:"http_status"`
	Error          string    `json:"error" gorm:"type:text"`
}

// Insert writes the request row. Failures are logged, never propagated: the
// pipeline must not block on telemetry.
func (r *RequestLog) Insert() {
	go prune()

	if err := DB.Create(r).Error; err != nil {
		logger.Logger.Error("insert request log failed",
			zap.String("request_id", r.ID), zap.Error(err))
	}
}

// Finalize records the terminal status, latency and outbound HTTP status.
// The status transitions exactly once; later calls are ignored.
func (r *RequestLog) Finalize(status string, httpStatus int, errMsg string) {
	now := time.Now()
	r.Status = status
	r.CompletedAt = &now
	r.LatencyMs = now.Sub(r.CreatedAt).Milliseconds()
	r.HTTPStatus = httpStatus
	r.Error = errMsg

	tx := DB.Model(&RequestLog{}).
		Where("id = ? AND status IN ?", r.ID, []string{RequestStatusPending, RequestStatusProcessing}).
		Updates(map[string]any{
			"status":       status,
			"completed_at": now,
			"latency_ms":   r.LatencyMs,
			"http_status":  httpStatus,
			"error":        errMsg,
		})
	if tx.Error != nil {
		logger.Logger.Error("finalize request log failed",
			zap.String("request_id", r.ID), zap.Error(tx.Error))
	}
}

// MarkProcessing advances a pending request to processing.
func (r *RequestLog) MarkProcessing() {
	r.Status = RequestStatusProcessing
	if err := DB.Model(&RequestLog{}).
		Where("id = ? AND status = ?", r.ID, RequestStatusPending).
		Update("status", RequestStatusProcessing).Error; err != nil {
		logger.Logger.Error("mark request processing failed",
			zap.String("request_id", r.ID), zap.Error(err))
	}
}

// GetRecentRequests returns the newest request rows for the activity feed.
func GetRecentRequests(limit int) ([]RequestLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []RequestLog
	err := DB.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, errors.Wrap(err, "query recent requests")
}
